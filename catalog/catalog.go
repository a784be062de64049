// Package catalog holds the shared data model for the IIO sensor
// multiplexer: logical sensors, device slots, and the process-wide
// tables the rest of the packages operate on by reference.
package catalog

import "fmt"

// Compile-time capacity tunables. Buffers and tables are sized once at
// process init and never grow.
const (
	MaxSensors          = 32
	MaxChannels         = 16
	MaxDevices          = 8
	MaxSensorReportSize = 256
)

// InvalidDevNum is the sentinel tag under which the waiter's self-pipe
// is registered. No real device ever carries this id.
const InvalidDevNum = -1

// absentFD marks a device slot with no open character-device handle.
const absentFD = -1

// Channel describes one scan channel's position and shape within a
// device report, as computed by the layout planner.
type Channel struct {
	// Size is the storage size in bytes. 0 means the channel is
	// currently disabled or absent.
	Size int
	// Offset is the byte offset within the device's report.
	Offset int
	// TypeSpec is the raw kernel descriptor, e.g. "le:s16/32>>0".
	TypeSpec string
	// Info is TypeSpec decoded.
	Info TypeSpec

	// EnPath, TypePath and IndexPath are the scan_elements sysfs
	// attributes backing this channel, filled in by the external
	// enumerator at catalog-construction time.
	EnPath    string
	TypePath  string
	IndexPath string
}

// Ops is the capability set a sensor is enumerated with: the
// transform/finalize hooks that turn raw channel bytes into an event.
type Ops interface {
	// Transform extracts field c from raw trigger-mode channel bytes.
	Transform(s *Sensor, c int, raw []byte) float64
	// Finalize post-processes a shaped event (calibration, quaternion
	// completion, ...).
	Finalize(s *Sensor, ev *Event)
}

// ImmediateReader reads a poll-mode sensor's field directly, bypassing
// the report buffer.
type ImmediateReader interface {
	AcquireImmediateValue(s *Sensor, c int) (float64, error)
}

// Clock supplies wall-clock and monotonic time to the core. Split out
// of the standard library so tests can run with a synthetic clock.
type Clock interface {
	NowNS() int64
	MonotonicNS() int64
}

// Sensor is one logical sensor handle, bound to one physical device.
type Sensor struct {
	Index        int // position in Tables.Sensors; also the emitted event's Sensor field
	DeviceID     int
	CatalogIndex int
	Tag          string // sysfs attribute prefix, e.g. "in_accel"
	TriggerName  string // "<internal_name>" portion of the device's trigger
	Type         SensorType

	// NumChannels is 0 for poll-mode, >0 for trigger-mode.
	NumChannels int
	Channels    [MaxChannels]Channel

	EnableCount       int
	SamplingRate      int // Hz
	LastIntegrationTS int64

	ReportBuffer  [MaxSensorReportSize]byte
	ReportPending bool

	Ops       Ops
	Immediate ImmediateReader
}

// String identifies the sensor in logs and error messages the way
// periph.io/x/conn/v3's Resource.String is expected to.
func (s *Sensor) String() string {
	return fmt.Sprintf("sensor(dev=%d,tag=%s)", s.DeviceID, s.Tag)
}

// Device tracks one physical IIO device's open handle and activation
// refcounts.
type Device struct {
	FD           int
	PollRefcount int
	TrigRefcount int
}

// FDOpen reports whether the device's character-device handle is
// currently open.
func (d *Device) FDOpen() bool { return d.FD != absentFD }

// EventVersion is the wire version the core stamps on every shaped
// event, so the surrounding platform can tell the event struct layout
// apart from a future revision.
const EventVersion = 1

// Event is the fixed event shape the surrounding platform expects.
type Event struct {
	Version     int
	Sensor      int
	Type        SensorType
	TimestampNS int64
	Data        [16]float64
}

// Tables is the process-wide mutable state: the sensor table, the
// device table, and the counters the wait/dispatch loop consults.
// Mutated only on the control plane (Sensors, Devices, ActivePollSensors)
// or only by the poll loop (LastPollExitTS, and per-sensor
// ReportPending/ReportBuffer/LastIntegrationTS) — see iio.Controller
// for the serialization contract.
type Tables struct {
	Sensors           []*Sensor
	Devices           [MaxDevices]Device
	ActivePollSensors int32
	LastPollExitTS    int64
	HasPolled         bool
}

// NewTables builds process-wide state for the given sensor set. Sensor
// Index fields are assigned by position.
func NewTables(sensors []*Sensor) *Tables {
	t := &Tables{Sensors: sensors}
	for i, s := range sensors {
		s.Index = i
	}
	for i := range t.Devices {
		t.Devices[i].FD = absentFD
	}
	return t
}

// DevicePath formats a sysfs attribute path under one IIO device's
// directory.
func DevicePath(deviceID int, rel string) string {
	return fmt.Sprintf("/sys/bus/iio/devices/iio:device%d/%s", deviceID, rel)
}

// CharDevPath is the device's character-device node.
func CharDevPath(deviceID int) string {
	return fmt.Sprintf("/dev/iio:device%d", deviceID)
}

// BufferEnablePath and TriggerPath are the two device-wide (not
// per-channel) sysfs attributes the activation manager and rate
// controller bracket their writes with.
func BufferEnablePath(deviceID int) string {
	return DevicePath(deviceID, "buffer/enable")
}

func TriggerPath(deviceID int) string {
	return DevicePath(deviceID, "trigger/current_trigger")
}

func SamplingFrequencyPath(deviceID int, tag string) string {
	return DevicePath(deviceID, tag+"_sampling_frequency")
}
