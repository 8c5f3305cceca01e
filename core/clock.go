package core

import "time"

// Clock supplies the two time bases the controllers run on: the
// millisecond uptime used by the executor and the microsecond uptime
// used by the step timers. Tests substitute a virtual clock.
type Clock interface {
	Millis() int64
	Micros() int64
}

// WallClock is the process-uptime clock used outside of simulation.
type WallClock struct {
	start time.Time
}

// NewWallClock starts a clock at zero uptime.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

func (c *WallClock) Millis() int64 {
	return time.Since(c.start).Milliseconds()
}

func (c *WallClock) Micros() int64 {
	return time.Since(c.start).Microseconds()
}
