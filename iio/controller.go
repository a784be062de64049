// Package iio is the control core of the IIO sensor multiplexer: the
// activation, scheduling and demultiplexing engine that bridges a
// fixed-shape sensor event API to the kernel's Industrial I/O sysfs
// and character-device surface.
//
// Scheduling model: single-threaded cooperative within Controller.
// One externally-owned goroutine drives PollOnce in a loop;
// Activate and SamplingInterval may be called from other goroutines,
// but the caller must serialize them against each other and against
// PollOnce — Controller itself only guarantees that a control-plane
// call's side effects are visible to the poll goroutine by the time
// its wakeup byte is observed, not that concurrent control-plane calls
// are mutually exclusive.
package iio

import (
	"fmt"
	"log"
	"time"

	"iiomux.dev/activation"
	"iiomux.dev/catalog"
	"iiomux.dev/internal/sysfsio"
	"iiomux.dev/layout"
	"iiomux.dev/ratectl"
	"iiomux.dev/shape"
	"iiomux.dev/waiter"
)

// Re-exported error kinds from the control-plane contract.
var (
	ErrInvalid          = catalog.ErrInvalid
	ErrInvalidState     = catalog.ErrInvalidState
	ErrIoError          = catalog.ErrIoError
	ErrSysfsUnavailable = catalog.ErrSysfsUnavailable
)

// PollMinInterval is the floor between two successive Wait returns,
// guarding against a misbehaving device that returns immediately
// forever.
const PollMinInterval = 10 * time.Millisecond

// Event is the event shape PollOnce fills in. Alias kept local so
// callers need not import catalog for the common case.
type Event = catalog.Event

// Controller owns the process-wide sensor and device tables, the
// sysfs gateway, and the waiter. It is the single owner of
// kernel-visible state the design notes in SPEC_FULL.md call for, in
// place of the source's global mutable tables.
type Controller struct {
	gw    sysfsio.Gateway
	wait  *waiter.Waiter
	clock catalog.Clock
	trig  activation.TriggerName
	open  activation.DeviceOpener

	tables *catalog.Tables
}

// New builds a Controller over the given sensor catalog. sensors must
// already carry their DeviceID, catalog sysfs paths and Ops; New does
// not mutate them beyond assigning their Index. Device character-device
// nodes are opened through activation.DefaultOpener; use NewWithOpener
// to substitute a fake device, the way cmd/controller's debug mode
// substitutes engraverHook for a real serial port.
func New(gw sysfsio.Gateway, clock catalog.Clock, trig activation.TriggerName, sensors []*catalog.Sensor) (*Controller, error) {
	return NewWithOpener(gw, clock, trig, activation.DefaultOpener, sensors)
}

// NewWithOpener is New with an overridable device opener.
func NewWithOpener(gw sysfsio.Gateway, clock catalog.Clock, trig activation.TriggerName, open activation.DeviceOpener, sensors []*catalog.Sensor) (*Controller, error) {
	if len(sensors) > catalog.MaxSensors {
		return nil, fmt.Errorf("iio: %w: %d sensors exceeds MaxSensors", catalog.ErrInvalid, len(sensors))
	}
	w, err := waiter.New()
	if err != nil {
		return nil, err
	}
	return &Controller{
		gw:     gw,
		wait:   w,
		clock:  clock,
		trig:   trig,
		open:   open,
		tables: catalog.NewTables(sensors),
	}, nil
}

// Activate enables or disables a sensor. See the activation package
// for the full contract.
func (c *Controller) Activate(s *catalog.Sensor, on bool) error {
	return activation.Activate(c.gw, c.wait, c.trig, c.open, c.tables, s, on)
}

// SamplingInterval sets a sensor's cadence from a period in
// nanoseconds.
func (c *Controller) SamplingInterval(s *catalog.Sensor, ns int64) error {
	return ratectl.SamplingInterval(c.gw, c.wait, c.tables, s, ns)
}

// Snapshot captures deviceID's current channel layout, letting a
// caller persist it (e.g. across a process restart) instead of
// re-deriving it from sysfs on next startup.
func (c *Controller) Snapshot(deviceID int) layout.Snapshot {
	return layout.Capture(c.tables, deviceID)
}

// LoadSnapshot restores a previously captured channel layout onto
// deviceID's sensors without touching sysfs. It's a warm-start: it
// makes the layout available for inspection (report-size accounting,
// diagnostics) before the device's first Activate edge runs the real
// Refresh against the kernel, which still happens on that edge and
// supersedes whatever was loaded here.
func (c *Controller) LoadSnapshot(deviceID int, snap layout.Snapshot) error {
	if snap.DeviceID != deviceID {
		return fmt.Errorf("iio: LoadSnapshot: snapshot is for device %d, not %d", snap.DeviceID, deviceID)
	}
	return layout.Apply(c.tables, snap)
}

// PollOnce blocks until exactly one event is ready and writes it to
// ev, returning 1. It implements the Drain/Wait/Dispatch state machine
// from the core specification in place of the source's goto-based
// loop; every call returns having delivered exactly one event.
func (c *Controller) PollOnce(ev *catalog.Event) (int, error) {
	for {
		if s := c.drain(); s != nil {
			shape.Shape(c.clock, s, ev)
			s.ReportPending = false
			return 1, nil
		}

		c.rateLimit()

		timeout := ratectl.NextTimeout(c.tables, c.clock)
		tags, err := c.wait.Wait(timeout)
		c.tables.LastPollExitTS = c.clock.MonotonicNS()
		c.tables.HasPolled = true
		if err != nil {
			log.Printf("iio: wait: %v", err)
			continue
		}

		for _, tag := range tags {
			if tag == catalog.InvalidDevNum {
				c.wait.DrainWakeup()
				continue
			}
			if err := shape.Integrate(c.tables, tag); err != nil {
				log.Printf("iio: integrate(%d): %v", tag, err)
			}
		}

		if c.tables.ActivePollSensors > 0 {
			for _, s := range c.tables.Sensors {
				if s.NumChannels == 0 && s.EnableCount > 0 {
					s.ReportPending = true
				}
			}
		}
	}
}

// drain returns the first sensor (in index order) with a pending
// report, or nil.
func (c *Controller) drain() *catalog.Sensor {
	for _, s := range c.tables.Sensors {
		if s.ReportPending {
			return s
		}
	}
	return nil
}

// rateLimit sleeps off any remainder of PollMinInterval since the last
// Wait return, so a device that returns immediately forever can't spin
// the loop.
func (c *Controller) rateLimit() {
	if !c.tables.HasPolled {
		return
	}
	elapsed := time.Duration(c.clock.MonotonicNS() - c.tables.LastPollExitTS)
	if elapsed < PollMinInterval {
		time.Sleep(PollMinInterval - elapsed)
	}
}

// String and Halt satisfy periph.io/x/conn/v3's Resource interface:
// Halt disables every still-enabled sensor without releasing the
// waiter, so a Controller can be handed to generic periph.io shutdown
// code that calls Halt on every registered resource.
func (c *Controller) String() string { return "iio.Controller" }

func (c *Controller) Halt() error {
	var firstErr error
	for _, s := range c.tables.Sensors {
		for s.EnableCount > 0 {
			if err := c.Activate(s, false); err != nil {
				log.Printf("iio: halt: %s: %v", s, err)
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}
	}
	return firstErr
}

// Close halts every sensor and releases the waiter's resources. Not
// safe to call concurrently with PollOnce.
func (c *Controller) Close() error {
	if err := c.Halt(); err != nil {
		log.Printf("iio: close: %v", err)
	}
	return c.wait.Close()
}
