package iotmqtt

import (
	"time"

	"k8s.io/utils/clock"
)

// Clock is the time source of a session. clock.RealClock is the default;
// tests substitute the FakeClock from k8s.io/utils/clock/testing so
// deadlines can be crossed without sleeping.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d. It is used only while no transport is open.
	Sleep(d time.Duration)
}

var _ Clock = clock.RealClock{}
