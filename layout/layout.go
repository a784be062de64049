// Package layout implements the report-layout planner: given the
// current kernel-reported enablement of every channel on one IIO
// device, it recomputes each channel's byte size and offset within
// the device's packed report.
package layout

import (
	"log"
	"sort"

	"iiomux.dev/catalog"
	"iiomux.dev/internal/sysfsio"
)

// Refresh recomputes Channel.Size/Offset for every trigger-mode
// sensor bound to deviceID, consulting the kernel's current
// scan_elements state through gw. Channels whose enable flag reads 0,
// or whose metadata can't be read, are treated as absent (size 0) and
// the pass continues — per-channel sysfs failures are never fatal.
func Refresh(gw sysfsio.Gateway, t *catalog.Tables, deviceID int) error {
	type candidate struct {
		sensor *catalog.Sensor
		chIdx  int
		size   int
	}
	byIndex := map[int64]candidate{}

	for _, s := range t.Sensors {
		if s.DeviceID != deviceID || s.NumChannels == 0 {
			continue
		}
		for c := 0; c < s.NumChannels; c++ {
			ch := &s.Channels[c]
			// Reset first: only channels that survive below keep a
			// nonzero size, so a sensor disabled or evicted by a
			// shared-index conflict ends up absent.
			ch.Size = 0
			ch.Offset = 0

			en, err := gw.ReadInt(ch.EnPath)
			if err != nil || en == 0 {
				continue
			}
			typeStr, err := gw.ReadString(ch.TypePath)
			if err != nil {
				log.Printf("layout: device %d: read %s: %v", deviceID, ch.TypePath, err)
				continue
			}
			info, err := catalog.DecodeTypeSpec(typeStr)
			if err != nil {
				log.Printf("layout: device %d: %v", deviceID, err)
				continue
			}
			idx, err := gw.ReadInt(ch.IndexPath)
			if err != nil {
				log.Printf("layout: device %d: read %s: %v", deviceID, ch.IndexPath, err)
				continue
			}
			if idx >= int64(catalog.MaxSensors*catalog.MaxChannels) {
				log.Printf("layout: device %d: scan index %d out of range, skipping channel", deviceID, idx)
				continue
			}
			ch.TypeSpec = typeStr
			ch.Info = info

			if prev, ok := byIndex[idx]; ok {
				// Shared-index (bit-packed) channels aren't modeled;
				// the source overwrites unconditionally and so do we
				// (last writer wins), logged as a diagnostic.
				log.Printf("layout: device %d: scan index %d claimed by both sensor %d and sensor %d; last writer wins",
					deviceID, idx, prev.sensor.Index, s.Index)
			}
			byIndex[idx] = candidate{sensor: s, chIdx: c, size: info.Size()}
		}
	}

	indices := make([]int64, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	offset := 0
	for _, idx := range indices {
		cand := byIndex[idx]
		ch := &cand.sensor.Channels[cand.chIdx]
		ch.Size = cand.size
		ch.Offset = offset
		offset += cand.size
	}
	return nil
}
