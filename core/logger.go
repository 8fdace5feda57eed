package core

import (
	"time"
)

// eventRow holds the event occurrences of one log interval.
type eventRow struct {
	counts []uint64
	end    time.Duration
}

// stateRow holds the module states observed at the end of one log interval.
type stateRow struct {
	states []StateID
	end    time.Duration
}

// logTick closes the in-progress event and state rows and opens new ones.
// It reschedules itself every log interval for as long as the kernel runs.
func (c *Channel) logTick() {
	if c.closed || !c.kernel.Running() {
		return
	}

	c.eventRows = append(c.eventRows, eventRow{counts: c.intervalCounts, end: c.rowEnd})
	c.stateRows = append(c.stateRows, stateRow{states: append([]StateID(nil), c.current...), end: c.rowEnd})
	c.intervalCounts = make([]uint64, len(c.events))
	c.rowEnd = c.kernel.Now() + c.interval

	if len(c.eventRows) > logDumpThreshold {
		c.flushEventLog(c.eventRows)
		c.flushStateLog(c.stateRows)
		c.eventRows, c.stateRows = nil, nil
	}

	c.kernel.After(c.interval, c.logTick)
}
