package fingerprint

import (
	"sort"
	"sync"
)

// Entry is one stored fingerprint with its key and insertion sequence.
// A higher Seq means the entry was finalized or imported more recently.
type Entry struct {
	SphereID    string
	LocationID  string
	Fingerprint *Fingerprint
	Seq         uint64
}

// Store holds finalized fingerprints keyed by (sphereID, locationID).
// Writes are serialized against each other and against reads.
type Store struct {
	mu      sync.RWMutex
	spheres map[string]map[string]Entry // sphere -> location -> entry
	seq     uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{spheres: make(map[string]map[string]Entry)}
}

// Put stores an identified copy of fp, replacing any existing entry for the
// key.
func (s *Store) Put(sphereID, locationID string, fp *Fingerprint, nowMs int64) Entry {
	stored := fp.withIdentity(sphereID, locationID, nowMs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e := Entry{SphereID: sphereID, LocationID: locationID, Fingerprint: stored, Seq: s.seq}
	locs, ok := s.spheres[sphereID]
	if !ok {
		locs = make(map[string]Entry)
		s.spheres[sphereID] = locs
	}
	locs[locationID] = e
	return e
}

// Get returns the fingerprint stored for a key.
func (s *Store) Get(sphereID, locationID string) (*Fingerprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.spheres[sphereID][locationID]
	if !ok {
		return nil, false
	}
	return e.Fingerprint, true
}

// Remove deletes one entry and reports whether it existed.
func (s *Store) Remove(sphereID, locationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	locs, ok := s.spheres[sphereID]
	if !ok {
		return false
	}
	if _, ok := locs[locationID]; !ok {
		return false
	}
	delete(locs, locationID)
	if len(locs) == 0 {
		delete(s.spheres, sphereID)
	}
	return true
}

// RemoveSphere deletes every entry of a sphere and returns how many there
// were.
func (s *Store) RemoveSphere(sphereID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.spheres[sphereID])
	delete(s.spheres, sphereID)
	return n
}

// Clear empties the store and returns how many entries were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, locs := range s.spheres {
		n += len(locs)
	}
	s.spheres = make(map[string]map[string]Entry)
	return n
}

// Sphere returns the entries of one sphere ordered by location id.
func (s *Store) Sphere(sphereID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	locs := s.spheres[sphereID]
	out := make([]Entry, 0, len(locs))
	for _, e := range locs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}

// Spheres returns the ids of every sphere with at least one entry, sorted.
func (s *Store) Spheres() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.spheres))
	for id := range s.spheres {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of stored fingerprints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, locs := range s.spheres {
		n += len(locs)
	}
	return n
}
