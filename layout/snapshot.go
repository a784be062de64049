package layout

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"iiomux.dev/catalog"
)

// ChannelSnapshot captures one channel's Refresh output, keyed by the
// owning sensor's tag and channel position rather than a pointer, so
// it survives a round trip through bytes.
type ChannelSnapshot struct {
	SensorTag string
	Channel   int
	Size      int
	Offset    int
	TypeSpec  string
}

// Snapshot is a CBOR-serializable capture of every trigger-mode
// channel's computed layout on one device, letting a controller (or a
// test fixture) warm-start with a previously computed layout instead
// of re-deriving it from sysfs on every restart.
type Snapshot struct {
	DeviceID int
	Channels []ChannelSnapshot
}

// Capture builds a Snapshot of deviceID's current channel layout. Call
// after Refresh.
func Capture(t *catalog.Tables, deviceID int) Snapshot {
	snap := Snapshot{DeviceID: deviceID}
	for _, s := range t.Sensors {
		if s.DeviceID != deviceID || s.NumChannels == 0 {
			continue
		}
		for c := 0; c < s.NumChannels; c++ {
			ch := s.Channels[c]
			if ch.Size == 0 {
				continue
			}
			snap.Channels = append(snap.Channels, ChannelSnapshot{
				SensorTag: s.Tag,
				Channel:   c,
				Size:      ch.Size,
				Offset:    ch.Offset,
				TypeSpec:  ch.TypeSpec,
			})
		}
	}
	return snap
}

// Marshal encodes the snapshot as CBOR.
func (snap Snapshot) Marshal() ([]byte, error) {
	return cbor.Marshal(snap)
}

// DecodeSnapshot decodes a CBOR-encoded Snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("layout: decode snapshot: %w", err)
	}
	return snap, nil
}

// Apply restores a previously captured layout onto t's sensors,
// skipping entries whose sensor tag or channel no longer exists
// (the set of enumerated sensors changed since capture). It does not
// consult sysfs; callers that need the layout reconciled against the
// kernel's current enablement should call Refresh instead or
// afterwards.
func Apply(t *catalog.Tables, snap Snapshot) error {
	bySensor := map[string]*catalog.Sensor{}
	for _, s := range t.Sensors {
		if s.DeviceID == snap.DeviceID {
			bySensor[s.Tag] = s
		}
	}
	for _, cs := range snap.Channels {
		s, ok := bySensor[cs.SensorTag]
		if !ok || cs.Channel >= s.NumChannels {
			continue
		}
		info, err := catalog.DecodeTypeSpec(cs.TypeSpec)
		if err != nil {
			return fmt.Errorf("layout: apply snapshot: sensor %s channel %d: %w", cs.SensorTag, cs.Channel, err)
		}
		ch := &s.Channels[cs.Channel]
		ch.Size = cs.Size
		ch.Offset = cs.Offset
		ch.TypeSpec = cs.TypeSpec
		ch.Info = info
	}
	return nil
}
