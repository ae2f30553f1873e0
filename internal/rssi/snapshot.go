package rssi

import "sort"

// Snapshot is a read-only view of a Buffer at one instant.
type Snapshot struct {
	// NewestMs is the newest measurement timestamp in the buffer.
	NewestMs int64
	beacons  map[string]Summary
}

// NewSnapshot builds a Snapshot from a copy of beacons.
func NewSnapshot(newestMs int64, beacons map[string]Summary) Snapshot {
	cp := make(map[string]Summary, len(beacons))
	for id, s := range beacons {
		cp[id] = s
	}
	return Snapshot{NewestMs: newestMs, beacons: cp}
}

// Get returns the summary for a beacon.
func (s Snapshot) Get(beaconID string) (Summary, bool) {
	sum, ok := s.beacons[beaconID]
	return sum, ok
}

// Len returns the number of beacons in the snapshot.
func (s Snapshot) Len() int {
	return len(s.beacons)
}

// BeaconIDs returns the beacon ids in sorted order.
func (s Snapshot) BeaconIDs() []string {
	ids := make([]string, 0, len(s.beacons))
	for id := range s.beacons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
