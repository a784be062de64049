// Package simdev provides an in-memory sysfs tree and a pipe-backed
// fake /dev/iio:deviceN character device for tests, the way
// driver/mjolnir's Simulator fakes a serial device end to end instead
// of mocking at the call-boundary level.
package simdev

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"iiomux.dev/catalog"
)

// MemGateway is an in-memory sysfsio.Gateway. Missing attributes
// report an error, simulating an absent or unreadable sysfs file.
type MemGateway struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemGateway() *MemGateway {
	return &MemGateway{values: map[string]string{}}
}

func (g *MemGateway) Set(path, v string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[path] = v
}

func (g *MemGateway) SetInt(path string, v int64) {
	g.Set(path, strconv.FormatInt(v, 10))
}

func (g *MemGateway) Remove(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.values, path)
}

func (g *MemGateway) get(path string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.values[path]
	if !ok {
		return "", fmt.Errorf("simdev: no such attribute %q", path)
	}
	return v, nil
}

func (g *MemGateway) ReadInt(path string) (int64, error) {
	s, err := g.get(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

func (g *MemGateway) WriteInt(path string, v int64) error {
	g.SetInt(path, v)
	return nil
}

func (g *MemGateway) ReadFloat(path string) (float64, error) {
	s, err := g.get(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func (g *MemGateway) WriteFloat(path string, v float64) error {
	g.Set(path, strconv.FormatFloat(v, 'g', -1, 64))
	return nil
}

func (g *MemGateway) ReadString(path string) (string, error) {
	return g.get(path)
}

func (g *MemGateway) WriteString(path, v string) error {
	g.Set(path, v)
	return nil
}

// Writes records every WriteString/WriteInt call in order, for tests
// that assert on the exact sysfs write sequence spec.md's end-to-end
// scenarios describe (buffer/enable bracketing, trigger assignment).
type Writes struct {
	mu  sync.Mutex
	log []string
}

func (w *Writes) record(path, v string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log = append(w.log, path+"="+v)
}

func (w *Writes) All() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.log))
	copy(out, w.log)
	return out
}

// RecordingGateway wraps a MemGateway, appending every write to a
// Writes log while still applying it.
type RecordingGateway struct {
	*MemGateway
	Log *Writes
}

func NewRecordingGateway() *RecordingGateway {
	return &RecordingGateway{MemGateway: NewMemGateway(), Log: &Writes{}}
}

func (g *RecordingGateway) WriteInt(path string, v int64) error {
	g.Log.record(path, strconv.FormatInt(v, 10))
	return g.MemGateway.WriteInt(path, v)
}

func (g *RecordingGateway) WriteString(path, v string) error {
	g.Log.record(path, v)
	return g.MemGateway.WriteString(path, v)
}

// DevicePipe is a fake /dev/iio:deviceN: a nonblocking pipe whose read
// end stands in for the character device fd and whose write end lets
// a test push a canned report.
type DevicePipe struct {
	ReadFD, writeFD int
}

func NewDevicePipe() (*DevicePipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &DevicePipe{ReadFD: fds[0], writeFD: fds[1]}, nil
}

// Push writes a report to the pipe for the next Integrate call to
// read.
func (d *DevicePipe) Push(report []byte) error {
	n, err := unix.Write(d.writeFD, report)
	if err != nil {
		return err
	}
	if n != len(report) {
		return fmt.Errorf("simdev: short write (%d of %d)", n, len(report))
	}
	return nil
}

func (d *DevicePipe) Close() {
	unix.Close(d.ReadFD)
	unix.Close(d.writeFD)
}

// FakeClock is a manually-advanced catalog.Clock for deterministic
// scheduling tests.
type FakeClock struct {
	mu  sync.Mutex
	now int64
}

func NewFakeClock(startNS int64) *FakeClock {
	return &FakeClock{now: startNS}
}

func (c *FakeClock) NowNS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) MonotonicNS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(ns int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ns
}

// LEInt16Ops is a catalog.Ops that transforms a raw little-endian
// int16 channel into a float64 and leaves the event otherwise alone,
// standing in for a real sensor's calibration/transform pipeline.
type LEInt16Ops struct {
	FinalizeCalls int
}

func (o *LEInt16Ops) Transform(s *catalog.Sensor, c int, raw []byte) float64 {
	return float64(int16(binary.LittleEndian.Uint16(raw)))
}

func (o *LEInt16Ops) Finalize(s *catalog.Sensor, ev *catalog.Event) {
	o.FinalizeCalls++
}

// ConstImmediate is an ImmediateReader that always returns a fixed
// value per channel, standing in for a live sysfs poll-mode read.
type ConstImmediate struct {
	Values []float64
	Err    error
}

func (c *ConstImmediate) AcquireImmediateValue(s *catalog.Sensor, channel int) (float64, error) {
	if c.Err != nil {
		return 0, c.Err
	}
	if channel >= len(c.Values) {
		return 0, nil
	}
	return c.Values[channel], nil
}

// ChannelSpec describes one trigger-mode channel's sysfs fixture for
// NewTriggerSensor: the scan index the kernel reports it at, and
// whether its enable flag is currently on.
type ChannelSpec struct {
	Index   int
	Enabled bool
}

// Fixture is the subset of MemGateway (also satisfied by
// RecordingGateway, by promotion) that NewTriggerSensor needs to seed
// scan_elements attributes.
type Fixture interface {
	Set(path, v string)
	SetInt(path string, v int64)
}

// NewTriggerSensor builds a trigger-mode sensor bound to deviceID,
// with one scan_elements fixture per channel registered into gw at
// "<tag>_<n>_en/_type/_index", all little-endian 16-bit signed.
func NewTriggerSensor(gw Fixture, deviceID int, tag string, typ catalog.SensorType, chans []ChannelSpec) *catalog.Sensor {
	s := &catalog.Sensor{
		DeviceID:    deviceID,
		Tag:         tag,
		TriggerName: tag,
		Type:        typ,
		NumChannels: len(chans),
		Ops:         &LEInt16Ops{},
	}
	for i, cs := range chans {
		base := fmt.Sprintf("%s_%d", tag, i)
		en := catalog.DevicePath(deviceID, "scan_elements/"+base+"_en")
		typePath := catalog.DevicePath(deviceID, "scan_elements/"+base+"_type")
		idxPath := catalog.DevicePath(deviceID, "scan_elements/"+base+"_index")
		s.Channels[i] = catalog.Channel{EnPath: en, TypePath: typePath, IndexPath: idxPath}
		if cs.Enabled {
			gw.SetInt(en, 1)
		} else {
			gw.SetInt(en, 0)
		}
		gw.Set(typePath, "le:s16/16>>0")
		gw.SetInt(idxPath, int64(cs.Index))
	}
	return s
}

// NewPollSensor builds a poll-mode sensor bound to deviceID, reading
// immediate values from imm.
func NewPollSensor(deviceID int, tag string, typ catalog.SensorType, imm *ConstImmediate) *catalog.Sensor {
	return &catalog.Sensor{
		DeviceID:  deviceID,
		Tag:       tag,
		Type:      typ,
		Immediate: imm,
		Ops:       &LEInt16Ops{},
	}
}
