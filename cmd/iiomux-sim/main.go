// command iiomux-sim is a standalone demo harness for the IIO sensor
// multiplexer core: it builds a synthetic two-device catalog, drives
// the controller's poll loop, and logs decoded events. It is not a
// configuration surface for the core itself; iio.Controller takes no
// flags or environment variables.
package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"time"

	"periph.io/x/host/v3"

	"iiomux.dev/catalog"
	"iiomux.dev/iio"
	"iiomux.dev/internal/simdev"
	"iiomux.dev/layout"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v", err)
		os.Exit(2)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	if _, err := host.Init(); err != nil {
		return err
	}

	gw := simdev.NewMemGateway()
	accel := simdev.NewTriggerSensor(gw, 0, "in_accel", catalog.Accelerometer, []simdev.ChannelSpec{
		{Index: 0, Enabled: true},
		{Index: 1, Enabled: true},
		{Index: 2, Enabled: true},
	})
	light := simdev.NewPollSensor(1, "in_illuminance", catalog.Light, &simdev.ConstImmediate{Values: []float64{512}})

	pipes := map[int]*simdev.DevicePipe{}
	opener := func(deviceID int) (int, error) {
		p, err := simdev.NewDevicePipe()
		if err != nil {
			return 0, err
		}
		pipes[deviceID] = p
		return p.ReadFD, nil
	}
	trig := func(deviceID int) string { return "sim" }

	clock := systemClock{}
	c, err := iio.NewWithOpener(gw, clock, trig, opener, []*catalog.Sensor{accel, light})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Activate(accel, true); err != nil {
		return fmt.Errorf("activate accel: %w", err)
	}
	if err := demoWarmStart(c, accel.DeviceID); err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	if err := c.SamplingInterval(light, int64(200*time.Millisecond)); err != nil {
		return fmt.Errorf("sampling interval: %w", err)
	}
	if err := c.Activate(light, true); err != nil {
		return fmt.Errorf("activate light: %w", err)
	}

	go feedAccelerometer(pipes[0])

	log.Println("iiomux-sim: running, stopping after 20 events")
	for i := 0; i < 20; i++ {
		var ev catalog.Event
		if _, err := c.PollOnce(&ev); err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		log.Printf("event: sensor=%d type=%v ts=%d data=%v", ev.Sensor, ev.Type, ev.TimestampNS, ev.Data[:catalog.NumFields(ev.Type)])
	}
	return nil
}

// demoWarmStart captures deviceID's freshly-refreshed channel layout,
// round-trips it through CBOR the way a real deployment would persist
// it across a process restart, and loads it into a second Controller
// standing in for that restarted process, to show the layout is
// available there without a second sysfs-driven refresh.
func demoWarmStart(c *iio.Controller, deviceID int) error {
	snap := c.Snapshot(deviceID)
	data, err := snap.Marshal()
	if err != nil {
		return err
	}
	decoded, err := layout.DecodeSnapshot(data)
	if err != nil {
		return err
	}

	restarted := &catalog.Sensor{DeviceID: deviceID, Tag: "in_accel", NumChannels: 3}
	restartedGW := simdev.NewMemGateway()
	restartedOpener := func(int) (int, error) { return -1, fmt.Errorf("restarted demo controller never activates") }
	c2, err := iio.NewWithOpener(restartedGW, systemClock{}, func(int) string { return "sim" }, restartedOpener, []*catalog.Sensor{restarted})
	if err != nil {
		return err
	}
	defer c2.Close()

	if err := c2.LoadSnapshot(deviceID, decoded); err != nil {
		return err
	}
	log.Printf("iiomux-sim: warm-started device %d layout from %d bytes of CBOR: channel 0 = {size:%d offset:%d}",
		deviceID, len(data), restarted.Channels[0].Size, restarted.Channels[0].Offset)
	return nil
}

// feedAccelerometer periodically pushes a synthetic report through the
// fake character device, standing in for the kernel's own trigger
// interrupt cadence.
func feedAccelerometer(pipe *simdev.DevicePipe) {
	if pipe == nil {
		return
	}
	var report [6]byte
	var x int16
	for {
		x++
		binary.LittleEndian.PutUint16(report[0:2], uint16(x))
		binary.LittleEndian.PutUint16(report[2:4], uint16(-x))
		binary.LittleEndian.PutUint16(report[4:6], 9800)
		if err := pipe.Push(report[:]); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// systemClock is the real-time catalog.Clock used outside tests.
type systemClock struct{}

func (systemClock) NowNS() int64       { return time.Now().UnixNano() }
func (systemClock) MonotonicNS() int64 { return time.Now().UnixNano() }
