package fingerprint

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/rssi.locate/internal/rssi"
)

// State is the lifecycle state of a Fingerprint.
type State string

const (
	StateCollecting State = "collecting" // accepting measurements
	StateFinalized  State = "finalized"  // immutable, identified
	StateAborted    State = "aborted"    // discarded before finalize
)

// Fingerprint maps beacon ids to rssi summaries for one location.
//
// A collecting Fingerprint buffers raw measurements and folds them into its
// summaries one sample at a time. Once finalized it never changes again.
type Fingerprint struct {
	mu sync.RWMutex

	id    string
	state State

	pending        *rssi.Buffer
	sampleWindowMs int64

	beacons     map[string]rssi.Summary
	sampleCount int

	sphereID      string
	locationID    string
	finalizedAtMs int64
}

func newCollecting(sampleWindowMs int64) *Fingerprint {
	return &Fingerprint{
		id:             uuid.NewString(),
		state:          StateCollecting,
		pending:        rssi.NewBuffer(0),
		sampleWindowMs: sampleWindowMs,
		beacons:        make(map[string]rssi.Summary),
	}
}

// FromSummaries builds a finalized, anonymous Fingerprint directly from
// per-beacon summaries, bypassing collection.
func FromSummaries(beacons map[string]rssi.Summary) *Fingerprint {
	fp := &Fingerprint{
		id:      uuid.NewString(),
		state:   StateFinalized,
		beacons: make(map[string]rssi.Summary, len(beacons)),
	}
	for id, s := range beacons {
		fp.beacons[id] = s
	}
	if len(beacons) > 0 {
		fp.sampleCount = 1
	}
	return fp
}

// ID returns the handle id of the fingerprint.
func (f *Fingerprint) ID() string { return f.id }

// State returns the current lifecycle state.
func (f *Fingerprint) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// SphereID returns the sphere the fingerprint was finalized for.
func (f *Fingerprint) SphereID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sphereID
}

// LocationID returns the location the fingerprint was finalized for.
func (f *Fingerprint) LocationID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.locationID
}

// FinalizedAtMs returns the finalize time in unix ms, zero if unknown.
func (f *Fingerprint) FinalizedAtMs() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.finalizedAtMs
}

// SampleCount returns the number of samples folded so far.
func (f *Fingerprint) SampleCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sampleCount
}

// Beacon returns the summary for one beacon.
func (f *Fingerprint) Beacon(beaconID string) (rssi.Summary, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.beacons[beaconID]
	return s, ok
}

// Beacons returns a copy of every beacon summary.
func (f *Fingerprint) Beacons() map[string]rssi.Summary {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]rssi.Summary, len(f.beacons))
	for id, s := range f.beacons {
		out[id] = s
	}
	return out
}

// BeaconIDs returns the beacon ids in sorted order.
func (f *Fingerprint) BeaconIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.beacons)
}

// Pending returns the number of buffered measurements not yet folded.
func (f *Fingerprint) Pending() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.pending == nil {
		return 0
	}
	return f.pending.Len()
}

func (f *Fingerprint) feed(m rssi.Measurement) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateCollecting {
		return StatusAlreadyFinalized
	}
	f.pending.Add(m)
	if f.sampleWindowMs > 0 && f.pending.Span() >= f.sampleWindowMs {
		f.foldLocked()
	}
	return StatusOK
}

func (f *Fingerprint) sample() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateCollecting {
		return StatusAlreadyFinalized
	}
	if !f.foldLocked() {
		return StatusNoMeasurements
	}
	return StatusOK
}

// foldLocked folds pending measurements into one sample and reports whether
// there was anything to fold. Caller must hold f.mu.
func (f *Fingerprint) foldLocked() bool {
	drained := f.pending.Drain()
	if len(drained) == 0 {
		return false
	}
	for id, list := range drained {
		f.beacons[id] = f.beacons[id].Merge(rssi.Summarize(list))
	}
	f.sampleCount++
	return true
}

func (f *Fingerprint) finalize(sphereID, locationID string, nowMs int64) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateCollecting {
		return StatusAlreadyFinalized
	}
	f.foldLocked()
	if !hasReadings(f.beacons) {
		return StatusNoMeasurements
	}
	f.state = StateFinalized
	f.pending = nil
	f.sphereID = sphereID
	f.locationID = locationID
	f.finalizedAtMs = nowMs
	return StatusOK
}

func (f *Fingerprint) abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateCollecting {
		return
	}
	f.state = StateAborted
	f.pending = nil
	f.beacons = make(map[string]rssi.Summary)
	f.sampleCount = 0
}

// withIdentity returns a finalized copy of f assigned to a store key.
// The receiver is left untouched so one parsed Fingerprint can be imported
// under several keys.
func (f *Fingerprint) withIdentity(sphereID, locationID string, nowMs int64) *Fingerprint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cp := &Fingerprint{
		id:            f.id,
		state:         StateFinalized,
		beacons:       make(map[string]rssi.Summary, len(f.beacons)),
		sampleCount:   f.sampleCount,
		sphereID:      sphereID,
		locationID:    locationID,
		finalizedAtMs: f.finalizedAtMs,
	}
	for id, s := range f.beacons {
		cp.beacons[id] = s
	}
	if cp.finalizedAtMs == 0 {
		cp.finalizedAtMs = nowMs
	}
	return cp
}

func hasReadings(beacons map[string]rssi.Summary) bool {
	for _, s := range beacons {
		if s.Count > 0 {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]rssi.Summary) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
