// Package shape implements the event shaper and the report
// demultiplexer: turning a device's raw packed report into per-sensor
// buffers, and turning one sensor's buffer (or live sysfs values) into
// an output event.
package shape

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"iiomux.dev/catalog"
)

// Integrate reads one pending report from deviceID's character device
// and splits it into each bound sensor's report buffer. A short or
// failed read discards the whole pass; the next wait simply resumes.
func Integrate(t *catalog.Tables, deviceID int) error {
	dev := &t.Devices[deviceID]

	expected := 0
	for _, s := range t.Sensors {
		if s.DeviceID != deviceID || s.NumChannels == 0 {
			continue
		}
		for c := 0; c < s.NumChannels; c++ {
			expected += s.Channels[c].Size
		}
	}
	if expected == 0 {
		return nil
	}
	if !dev.FDOpen() {
		return fmt.Errorf("shape: device %d: no open fd", deviceID)
	}
	if expected > catalog.MaxSensorReportSize {
		return fmt.Errorf("shape: device %d: expected report size %d exceeds buffer capacity", deviceID, expected)
	}

	scratch := make([]byte, expected)
	n, err := unix.Read(dev.FD, scratch)
	if err != nil {
		log.Printf("shape: device %d: read: %v", deviceID, err)
		return nil
	}
	if n != expected {
		log.Printf("shape: device %d: short read (%d of %d bytes), discarding pass", deviceID, n, expected)
		return nil
	}

	for _, s := range t.Sensors {
		if s.DeviceID != deviceID || s.NumChannels == 0 {
			continue
		}
		running := 0
		for c := 0; c < s.NumChannels; c++ {
			ch := s.Channels[c]
			if ch.Size == 0 {
				continue
			}
			copy(s.ReportBuffer[running:running+ch.Size], scratch[ch.Offset:ch.Offset+ch.Size])
			running += ch.Size
		}
		if s.EnableCount > 0 {
			s.ReportPending = true
		}
	}
	return nil
}

// Shape materializes one output event for sensor s, reading either its
// most recent report buffer (trigger-mode) or live sysfs values
// (poll-mode, through s.Immediate).
func Shape(clk catalog.Clock, s *catalog.Sensor, ev *catalog.Event) {
	*ev = catalog.Event{
		Version:     catalog.EventVersion,
		Sensor:      s.Index,
		Type:        s.Type,
		TimestampNS: clk.NowNS(),
	}

	numFields := catalog.NumFields(s.Type)
	if numFields == 0 {
		log.Printf("shape: sensor %d: unknown type %v, emitting zeroed event", s.Index, s.Type)
	}

	if s.NumChannels == 0 {
		for c := 0; c < numFields; c++ {
			v, err := s.Immediate.AcquireImmediateValue(s, c)
			if err != nil {
				log.Printf("shape: sensor %d: acquire_immediate_value(%d): %v", s.Index, c, err)
				continue
			}
			ev.Data[c] = v
		}
	} else {
		off := 0
		for c := 0; c < numFields && c < s.NumChannels; c++ {
			size := s.Channels[c].Size
			raw := s.ReportBuffer[off : off+size]
			ev.Data[c] = s.Ops.Transform(s, c, raw)
			off += size
		}
	}

	s.LastIntegrationTS = clk.MonotonicNS()
	s.Ops.Finalize(s, ev)
}
