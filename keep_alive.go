package iotmqtt

import "time"

// keepAlive tracks outbound idleness and the outstanding PINGREQ for one
// connection. A PINGREQ is due after one interval with nothing sent; the
// connection is considered lost when its PINGRESP has not arrived one
// interval later. The Session serialises access.
type keepAlive struct {
	interval    time.Duration
	lastSent    time.Time
	pingSentAt  time.Time
	pingPending bool
}

func newKeepAlive(interval time.Duration) *keepAlive {
	return &keepAlive{interval: interval}
}

// reset starts tracking a fresh connection.
func (k *keepAlive) reset(now time.Time) {
	k.lastSent = now
	k.pingSentAt = time.Time{}
	k.pingPending = false
}

func (k *keepAlive) enabled() bool {
	return k.interval > 0
}

// onSend records outbound traffic.
func (k *keepAlive) onSend(now time.Time) {
	k.lastSent = now
}

// onPingSent marks a PINGREQ as outstanding.
func (k *keepAlive) onPingSent(now time.Time) {
	k.lastSent = now
	k.pingSentAt = now
	k.pingPending = true
}

func (k *keepAlive) onPingResp() {
	k.pingPending = false
}

// pingDue reports whether a PINGREQ should be sent now.
func (k *keepAlive) pingDue(now time.Time) bool {
	if !k.enabled() || k.pingPending {
		return false
	}
	return !now.Before(k.lastSent.Add(k.interval))
}

// timedOut reports whether the outstanding PINGREQ went unanswered.
func (k *keepAlive) timedOut(now time.Time) bool {
	if !k.enabled() || !k.pingPending {
		return false
	}
	return !now.Before(k.pingSentAt.Add(k.interval))
}

// nextDeadline returns the next instant the tracker needs attention.
func (k *keepAlive) nextDeadline() (time.Time, bool) {
	if !k.enabled() {
		return time.Time{}, false
	}
	if k.pingPending {
		return k.pingSentAt.Add(k.interval), true
	}
	return k.lastSent.Add(k.interval), true
}

// keepAliveSeconds converts the interval to the CONNECT field, rounding up
// and saturating at the protocol maximum.
func keepAliveSeconds(interval time.Duration) uint16 {
	if interval <= 0 {
		return 0
	}
	secs := (interval + time.Second - 1) / time.Second
	if secs > 0xFFFF {
		return 0xFFFF
	}
	return uint16(secs)
}
