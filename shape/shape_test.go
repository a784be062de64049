package shape_test

import (
	"testing"

	"iiomux.dev/catalog"
	"iiomux.dev/internal/simdev"
	"iiomux.dev/layout"
	"iiomux.dev/shape"
)

func TestIntegrateSplitsSharedDeviceReport(t *testing.T) {
	gw := simdev.NewMemGateway()
	accel := simdev.NewTriggerSensor(gw, 0, "in_accel", catalog.Accelerometer, []simdev.ChannelSpec{
		{Index: 0, Enabled: true},
		{Index: 1, Enabled: true},
		{Index: 2, Enabled: true},
	})
	temp := simdev.NewTriggerSensor(gw, 0, "in_temp", catalog.Temperature, []simdev.ChannelSpec{
		{Index: 3, Enabled: true},
	})
	tables := catalog.NewTables([]*catalog.Sensor{accel, temp})
	if err := layout.Refresh(gw, tables, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	accel.EnableCount = 1
	temp.EnableCount = 1

	pipe, err := simdev.NewDevicePipe()
	if err != nil {
		t.Fatalf("NewDevicePipe: %v", err)
	}
	defer pipe.Close()
	tables.Devices[0].FD = pipe.ReadFD

	report := []byte{1, 0, 2, 0, 3, 0, 42, 0}
	if err := pipe.Push(report); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := shape.Integrate(tables, 0); err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if !accel.ReportPending {
		t.Errorf("accel.ReportPending = false, want true")
	}
	if !temp.ReportPending {
		t.Errorf("temp.ReportPending = false, want true")
	}
	if accel.ReportBuffer[0] != 1 || accel.ReportBuffer[2] != 2 || accel.ReportBuffer[4] != 3 {
		t.Errorf("accel report buffer = %v, want {1,0,2,0,3,0,...}", accel.ReportBuffer[:6])
	}
	if temp.ReportBuffer[0] != 42 {
		t.Errorf("temp report buffer[0] = %d, want 42", temp.ReportBuffer[0])
	}
}

func TestIntegrateShortReadDiscardsPass(t *testing.T) {
	gw := simdev.NewMemGateway()
	s := simdev.NewTriggerSensor(gw, 0, "in_accel", catalog.Accelerometer, []simdev.ChannelSpec{
		{Index: 0, Enabled: true},
	})
	tables := catalog.NewTables([]*catalog.Sensor{s})
	if err := layout.Refresh(gw, tables, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	s.EnableCount = 1

	pipe, err := simdev.NewDevicePipe()
	if err != nil {
		t.Fatalf("NewDevicePipe: %v", err)
	}
	defer pipe.Close()
	tables.Devices[0].FD = pipe.ReadFD

	// Expected report is 2 bytes; push only 1.
	if err := pipe.Push([]byte{0x5}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := shape.Integrate(tables, 0); err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if s.ReportPending {
		t.Errorf("ReportPending = true after short read, want false (pass discarded)")
	}
}

func TestIntegrateNoChannelsIsNoop(t *testing.T) {
	tables := catalog.NewTables(nil)
	if err := shape.Integrate(tables, 0); err != nil {
		t.Fatalf("Integrate on idle device: %v", err)
	}
}

func TestShapeTriggerModeAppliesTransform(t *testing.T) {
	gw := simdev.NewMemGateway()
	s := simdev.NewTriggerSensor(gw, 0, "in_accel", catalog.Accelerometer, []simdev.ChannelSpec{
		{Index: 0, Enabled: true},
		{Index: 1, Enabled: true},
		{Index: 2, Enabled: true},
	})
	tables := catalog.NewTables([]*catalog.Sensor{s})
	if err := layout.Refresh(gw, tables, 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	s.ReportBuffer[0], s.ReportBuffer[1] = 10, 0
	s.ReportBuffer[2], s.ReportBuffer[3] = 20, 0
	s.ReportBuffer[4], s.ReportBuffer[5] = 30, 0

	clk := simdev.NewFakeClock(1000)
	var ev catalog.Event
	shape.Shape(clk, s, &ev)

	if ev.Sensor != 0 || ev.Type != catalog.Accelerometer || ev.TimestampNS != 1000 {
		t.Errorf("event header = %+v", ev)
	}
	if ev.Data[0] != 10 || ev.Data[1] != 20 || ev.Data[2] != 30 {
		t.Errorf("event data = %v, want [10 20 30 ...]", ev.Data[:3])
	}
	if s.LastIntegrationTS != 1000 {
		t.Errorf("LastIntegrationTS = %d, want 1000", s.LastIntegrationTS)
	}
	if ops := s.Ops.(*simdev.LEInt16Ops); ops.FinalizeCalls != 1 {
		t.Errorf("FinalizeCalls = %d, want 1", ops.FinalizeCalls)
	}
}

func TestShapePollModeReadsImmediateValues(t *testing.T) {
	imm := &simdev.ConstImmediate{Values: []float64{99.5}}
	s := simdev.NewPollSensor(0, "in_illuminance", catalog.Light, imm)
	tables := catalog.NewTables([]*catalog.Sensor{s})
	_ = tables

	clk := simdev.NewFakeClock(2000)
	var ev catalog.Event
	shape.Shape(clk, s, &ev)
	if ev.Data[0] != 99.5 {
		t.Errorf("Data[0] = %v, want 99.5", ev.Data[0])
	}
}

func TestShapeUnknownTypeEmitsZeroedFields(t *testing.T) {
	s := simdev.NewPollSensor(0, "in_unknown", catalog.Unknown, &simdev.ConstImmediate{Values: []float64{1, 2}})
	clk := simdev.NewFakeClock(0)
	var ev catalog.Event
	shape.Shape(clk, s, &ev)
	for i, v := range ev.Data {
		if v != 0 {
			t.Errorf("Data[%d] = %v, want 0 for unknown sensor type", i, v)
		}
	}
}
