package layout

import (
	"testing"

	"iiomux.dev/catalog"
	"iiomux.dev/internal/simdev"
)

func TestSnapshotRoundTrip(t *testing.T) {
	gw := simdev.NewMemGateway()
	accel := simdev.NewTriggerSensor(gw, 0, "in_accel", catalog.Accelerometer, []simdev.ChannelSpec{
		{Index: 0, Enabled: true},
		{Index: 1, Enabled: true},
	})
	tables := catalog.NewTables([]*catalog.Sensor{accel})
	if err := Refresh(gw, tables, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	snap := Capture(tables, 0)
	data, err := snap.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if len(decoded.Channels) != 2 {
		t.Fatalf("decoded channels = %d, want 2", len(decoded.Channels))
	}

	fresh := simdev.NewTriggerSensor(simdev.NewMemGateway(), 0, "in_accel", catalog.Accelerometer, []simdev.ChannelSpec{
		{Index: 0, Enabled: true},
		{Index: 1, Enabled: true},
	})
	freshTables := catalog.NewTables([]*catalog.Sensor{fresh})
	if err := Apply(freshTables, decoded); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if fresh.Channels[0].Size != accel.Channels[0].Size || fresh.Channels[0].Offset != accel.Channels[0].Offset {
		t.Errorf("channel 0 = %+v, want %+v", fresh.Channels[0], accel.Channels[0])
	}
	if fresh.Channels[1].Size != accel.Channels[1].Size || fresh.Channels[1].Offset != accel.Channels[1].Offset {
		t.Errorf("channel 1 = %+v, want %+v", fresh.Channels[1], accel.Channels[1])
	}
}

func TestApplySkipsUnknownSensorTag(t *testing.T) {
	s := simdev.NewTriggerSensor(simdev.NewMemGateway(), 0, "in_accel", catalog.Accelerometer, []simdev.ChannelSpec{{Index: 0, Enabled: true}})
	tables := catalog.NewTables([]*catalog.Sensor{s})

	snap := Snapshot{DeviceID: 0, Channels: []ChannelSnapshot{
		{SensorTag: "in_gyro", Channel: 0, Size: 2, Offset: 0, TypeSpec: "le:s16/16>>0"},
	}}
	if err := Apply(tables, snap); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Channels[0].Size != 0 {
		t.Errorf("unrelated sensor channel mutated: size = %d", s.Channels[0].Size)
	}
}
