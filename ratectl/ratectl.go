// Package ratectl implements the rate controller: writing a sensor's
// sampling rate to sysfs with buffer-cycle discipline, and computing
// the wait/dispatch loop's next timer deadline from poll-mode sensors.
package ratectl

import (
	"fmt"

	"iiomux.dev/catalog"
	"iiomux.dev/internal/sysfsio"
	"iiomux.dev/waiter"
)

const nsPerSecond = 1_000_000_000

// SamplingInterval sets sensor s's cadence from a period in
// nanoseconds, rounding up to at least 1 Hz. If the device currently
// has active trigger-mode sensors, the sysfs rate write is bracketed
// by buffer/enable=0 and buffer/enable=1 so the kernel doesn't see a
// rate change mid-stream.
func SamplingInterval(gw sysfsio.Gateway, w *waiter.Waiter, t *catalog.Tables, s *catalog.Sensor, ns int64) error {
	if ns <= 0 {
		return catalog.ErrInvalid
	}
	newRate := nsPerSecond / ns
	if newRate < 1 {
		newRate = 1
	}

	path := catalog.SamplingFrequencyPath(s.DeviceID, s.Tag)
	cur, err := gw.ReadInt(path)
	needsWrite := err != nil || cur != newRate

	if needsWrite {
		dev := &t.Devices[s.DeviceID]
		bracket := dev.TrigRefcount > 0
		if bracket {
			if err := gw.WriteInt(catalog.BufferEnablePath(s.DeviceID), 0); err != nil {
				return fmt.Errorf("ratectl: buffer/enable=0: %w", err)
			}
		}
		if err := gw.WriteInt(path, newRate); err != nil {
			return fmt.Errorf("ratectl: write %s: %w", path, err)
		}
		if bracket {
			if err := gw.WriteInt(catalog.BufferEnablePath(s.DeviceID), 1); err != nil {
				return fmt.Errorf("ratectl: buffer/enable=1: %w", err)
			}
		}
	}

	s.SamplingRate = int(newRate)
	return w.Wake()
}

// NextTimeout computes the wait/dispatch loop's timeout in
// milliseconds: -1 if no poll-mode sensor is enabled, 0 if the
// soonest one is already overdue, otherwise the delay until it is due.
func NextTimeout(t *catalog.Tables, clk catalog.Clock) int {
	now := clk.MonotonicNS()
	haveDeadline := false
	var minDeadline int64
	for _, s := range t.Sensors {
		if s.NumChannels != 0 || s.EnableCount <= 0 || s.SamplingRate <= 0 {
			continue
		}
		deadline := s.LastIntegrationTS + nsPerSecond/int64(s.SamplingRate)
		if !haveDeadline || deadline < minDeadline {
			minDeadline = deadline
			haveDeadline = true
		}
	}
	if !haveDeadline {
		return -1
	}
	remain := minDeadline - now
	if remain < 0 {
		remain = 0
	}
	return int(remain / 1_000_000)
}
