// Package activation implements the activation manager: refcounted
// enable/disable per logical sensor, the trigger-mode reconfiguration
// that follows an edge transition, and device fd lifecycle.
package activation

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"iiomux.dev/catalog"
	"iiomux.dev/internal/sysfsio"
	"iiomux.dev/layout"
	"iiomux.dev/waiter"
)

// TriggerName returns the "<internal_name>" a device's trigger should
// be set to when its first trigger-mode sensor activates. Supplied by
// the catalog at enumeration time; this package only formats it with
// the device id.
type TriggerName func(deviceID int) string

// DeviceOpener opens deviceID's character device, returning a
// nonblocking read-only fd. Overridable so tests can substitute a
// fake device without touching /dev.
type DeviceOpener func(deviceID int) (int, error)

// DefaultOpener opens the real /dev/iio:deviceN node.
func DefaultOpener(deviceID int) (int, error) {
	return unix.Open(catalog.CharDevPath(deviceID), unix.O_RDONLY|unix.O_NONBLOCK, 0)
}

// Activate enables or disables sensor s, following the contract in
// full: idempotent stacking on the refcount, trigger/channel sysfs
// reconfiguration only on an edge transition, device fd open/close
// when both of a device's refcounts cross zero, and a wakeup write on
// every successful call.
//
// Returns catalog.ErrInvalidState disabling a sensor with a zero
// refcount; that case performs no side effect at all. Returns
// catalog.ErrIoError if opening the device fd fails, in which case the
// refcount step is rolled back, but the trigger-mode sysfs writes step
// 2 already issued (buffer/enable=0, the trigger write, per-channel
// _en writes, the layout refresh) are not undone — they run before the
// fd open that can fail, per the ordering spec.md §4.2 requires.
func Activate(gw sysfsio.Gateway, w *waiter.Waiter, trig TriggerName, open DeviceOpener, t *catalog.Tables, s *catalog.Sensor, on bool) error {
	edge, err := adjustCounters(t, s, on)
	if err != nil {
		return err
	}
	if !edge {
		return w.Wake()
	}

	dev := &t.Devices[s.DeviceID]

	if s.NumChannels > 0 {
		if err := reconfigureTrigger(gw, trig, t, s, on, dev); err != nil {
			// Sysfs writes during reconfiguration are best-effort per
			// spec (failures are logged, not fatal); only fd open can
			// abort the activation.
			log.Printf("activation: device %d: %v", s.DeviceID, err)
		}
	}

	if err := manageDeviceFD(w, open, t, s, on, dev); err != nil {
		rollbackCounters(t, s, on, dev)
		return fmt.Errorf("%w: %v", catalog.ErrIoError, err)
	}

	return w.Wake()
}

// adjustCounters performs the refcount step and reports whether this
// call crossed the 0<->1 edge, requiring further reconfiguration.
func adjustCounters(t *catalog.Tables, s *catalog.Sensor, on bool) (edge bool, err error) {
	dev := &t.Devices[s.DeviceID]
	if on {
		wasZero := s.EnableCount == 0
		s.EnableCount++
		if !wasZero {
			return false, nil
		}
		if s.NumChannels == 0 {
			dev.PollRefcount++
			t.ActivePollSensors++
		} else {
			dev.TrigRefcount++
		}
		return true, nil
	}

	if s.EnableCount == 0 {
		return false, catalog.ErrInvalidState
	}
	s.EnableCount--
	if s.EnableCount >= 1 {
		return false, nil
	}
	if s.NumChannels == 0 {
		dev.PollRefcount--
		t.ActivePollSensors--
	} else {
		dev.TrigRefcount--
	}
	for i := range s.ReportBuffer {
		s.ReportBuffer[i] = 0
	}
	s.ReportPending = false
	return true, nil
}

// rollbackCounters undoes adjustCounters's edge-transition bookkeeping
// after a failed device fd open. Only the enable path can fail this
// way, so on is always true here.
func rollbackCounters(t *catalog.Tables, s *catalog.Sensor, on bool, dev *catalog.Device) {
	s.EnableCount--
	if s.NumChannels == 0 {
		dev.PollRefcount--
		t.ActivePollSensors--
	} else {
		dev.TrigRefcount--
	}
}

func reconfigureTrigger(gw sysfsio.Gateway, trig TriggerName, t *catalog.Tables, s *catalog.Sensor, on bool, dev *catalog.Device) error {
	if err := gw.WriteInt(catalog.BufferEnablePath(s.DeviceID), 0); err != nil {
		return fmt.Errorf("buffer/enable=0: %w", err)
	}

	switch dev.TrigRefcount {
	case 0:
		if err := gw.WriteString(catalog.TriggerPath(s.DeviceID), "none"); err != nil {
			return fmt.Errorf("trigger=none: %w", err)
		}
	case 1:
		name := fmt.Sprintf("%s-dev%d", trig(s.DeviceID), s.DeviceID)
		if err := gw.WriteString(catalog.TriggerPath(s.DeviceID), name); err != nil {
			return fmt.Errorf("trigger=%s: %w", name, err)
		}
	}

	for c := 0; c < s.NumChannels; c++ {
		v := int64(0)
		if on {
			v = 1
		}
		if err := gw.WriteInt(s.Channels[c].EnPath, v); err != nil {
			log.Printf("activation: device %d: write %s: %v", s.DeviceID, s.Channels[c].EnPath, err)
		}
	}

	if dev.TrigRefcount > 0 {
		if err := layout.Refresh(gw, t, s.DeviceID); err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		if err := gw.WriteInt(catalog.BufferEnablePath(s.DeviceID), 1); err != nil {
			return fmt.Errorf("buffer/enable=1: %w", err)
		}
	}
	return nil
}

func manageDeviceFD(w *waiter.Waiter, open DeviceOpener, t *catalog.Tables, s *catalog.Sensor, on bool, dev *catalog.Device) error {
	if !on {
		// A trigger-mode sensor's disable edge may drop trig_refcount
		// to zero while the device fd stays open for poll-mode
		// sensors; unregister from the waiter regardless of whether
		// the fd itself closes below.
		if s.NumChannels > 0 && dev.TrigRefcount == 0 && dev.FDOpen() {
			if err := w.Unregister(dev.FD); err != nil {
				log.Printf("activation: %v", err)
			}
		}
		if dev.PollRefcount+dev.TrigRefcount == 0 && dev.FDOpen() {
			unix.Close(dev.FD)
			dev.FD = -1
		}
		return nil
	}

	opened := false
	if !dev.FDOpen() {
		fd, err := open(s.DeviceID)
		if err != nil {
			return err
		}
		dev.FD = fd
		opened = true
	}
	// Register on the trig_refcount 0->1 edge, regardless of whether
	// the fd was already open for a poll-mode sensor on this device.
	if s.NumChannels > 0 && dev.TrigRefcount == 1 {
		if err := w.Register(dev.FD, s.DeviceID); err != nil {
			if opened {
				unix.Close(dev.FD)
				dev.FD = -1
			}
			return err
		}
	}
	return nil
}
