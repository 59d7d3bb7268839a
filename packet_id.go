package iotmqtt

// packetIDAllocator hands out packet identifiers 1-65535. Identifiers
// increase monotonically, wrap after 65535 and skip ids still in use.
// The owning Session serialises access.
type packetIDAllocator struct {
	used map[uint16]struct{}
	next uint16
}

func newPacketIDAllocator() *packetIDAllocator {
	return &packetIDAllocator{
		used: make(map[uint16]struct{}),
		next: 1,
	}
}

// allocate returns the next free packet id.
func (a *packetIDAllocator) allocate() (uint16, error) {
	if a.count() >= maxUint16 {
		return 0, ErrPacketIDExhausted
	}

	for {
		id := a.next
		a.next++
		if a.next == 0 {
			a.next = 1
		}
		if !a.inUse(id) {
			a.used[id] = struct{}{}
			return id, nil
		}
	}
}

// release frees an id. Releasing an unknown id reports false.
func (a *packetIDAllocator) release(id uint16) bool {
	if _, ok := a.used[id]; !ok {
		return false
	}
	delete(a.used, id)
	return true
}

func (a *packetIDAllocator) inUse(id uint16) bool {
	_, ok := a.used[id]
	return ok
}

func (a *packetIDAllocator) count() int {
	return len(a.used)
}
