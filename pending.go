package iotmqtt

import (
	"cmp"
	"slices"
	"time"
)

// OpKind identifies the request a PendingOperation is waiting on.
type OpKind int

const (
	OpPublish OpKind = iota + 1
	OpSubscribe
	OpUnsubscribe
)

// String returns the string representation of the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpPublish:
		return "publish"
	case OpSubscribe:
		return "subscribe"
	case OpUnsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

// ackType returns the packet type that resolves the operation.
func (k OpKind) ackType() PacketType {
	switch k {
	case OpPublish:
		return PacketPUBACK
	case OpSubscribe:
		return PacketSUBACK
	case OpUnsubscribe:
		return PacketUNSUBACK
	default:
		return 0
	}
}

// PendingOperation is an in-flight request awaiting its acknowledgement.
type PendingOperation struct {
	PacketID uint16
	Kind     OpKind

	// Topic is the publish topic or the (un)subscribe filter.
	Topic string
	QoS   byte

	IssuedAt time.Time
	Deadline time.Time

	// Handler is installed as the subscription callback on SUBACK.
	Handler MessageHandler

	// resubscribe marks a SUBSCRIBE replayed after a reconnect.
	resubscribe bool

	seq uint64
}

// expired reports whether the deadline has been reached at now.
func (op *PendingOperation) expired(now time.Time) bool {
	return !now.Before(op.Deadline)
}

// pendingTable holds at most one PendingOperation per packet id.
type pendingTable struct {
	ops map[uint16]*PendingOperation
	seq uint64
}

func newPendingTable() *pendingTable {
	return &pendingTable{ops: make(map[uint16]*PendingOperation)}
}

// add registers op. It reports false if the packet id is already pending.
func (t *pendingTable) add(op *PendingOperation) bool {
	if _, exists := t.ops[op.PacketID]; exists {
		return false
	}
	t.seq++
	op.seq = t.seq
	t.ops[op.PacketID] = op
	return true
}

// resolve removes the operation waiting on an ack of type ack for id.
// An ack whose type does not match the pending operation is ignored.
func (t *pendingTable) resolve(id uint16, ack PacketType) (*PendingOperation, bool) {
	op, ok := t.get(id)
	if !ok || op.Kind.ackType() != ack {
		return nil, false
	}
	delete(t.ops, id)
	return op, true
}

// takeExpired removes and returns the operations expired at now,
// ordered by deadline and then issue order.
func (t *pendingTable) takeExpired(now time.Time) []*PendingOperation {
	var out []*PendingOperation
	for id, op := range t.ops {
		if op.expired(now) {
			out = append(out, op)
			delete(t.ops, id)
		}
	}
	slices.SortFunc(out, func(a, b *PendingOperation) int {
		if c := a.Deadline.Compare(b.Deadline); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// drain removes and returns every operation in issue order.
func (t *pendingTable) drain() []*PendingOperation {
	out := make([]*PendingOperation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, op)
	}
	clear(t.ops)
	slices.SortFunc(out, func(a, b *PendingOperation) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// nextDeadline returns the earliest deadline among pending operations.
func (t *pendingTable) nextDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, op := range t.ops {
		if !found || op.Deadline.Before(earliest) {
			earliest = op.Deadline
			found = true
		}
	}
	return earliest, found
}

func (t *pendingTable) get(id uint16) (*PendingOperation, bool) {
	op, ok := t.ops[id]
	return op, ok
}

func (t *pendingTable) len() int {
	return len(t.ops)
}
