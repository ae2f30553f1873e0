package rssi

import (
	"sort"
	"sync"
)

// Buffer accumulates measurements per beacon, ordered by timestamp.
//
// Add measures retention against the newest timestamp seen, which suits
// replayed data with no clock of its own. Live sessions use AddAt and
// SnapshotAt so readings age out against the caller's clock even when no
// new scans arrive. A zero retention keeps everything until Drain or Clear.
type Buffer struct {
	mu          sync.RWMutex
	retentionMs int64
	beacons     map[string][]Measurement
	newestMs    int64
	seen        bool
}

// NewBuffer creates an empty Buffer with the given retention in ms.
func NewBuffer(retentionMs int64) *Buffer {
	if retentionMs < 0 {
		retentionMs = 0
	}
	return &Buffer{
		retentionMs: retentionMs,
		beacons:     make(map[string][]Measurement),
	}
}

// Add inserts m in timestamp order. It returns false when m is already
// older than the retention window and was dropped.
func (b *Buffer) Add(m Measurement) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seen && b.retentionMs > 0 && m.TimestampMs < b.newestMs-b.retentionMs {
		return false
	}
	b.insertLocked(m)
	if m.TimestampMs == b.newestMs {
		b.evictLocked(b.newestMs - b.retentionMs)
	}
	return true
}

// AddAt inserts m using nowMs as the reference for the retention window.
// Measurements older than the window, or stamped further ahead of nowMs
// than the window is long, are dropped and AddAt returns false.
func (b *Buffer) AddAt(m Measurement, nowMs int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.retentionMs > 0 {
		if m.TimestampMs < nowMs-b.retentionMs || m.TimestampMs > nowMs+b.retentionMs {
			return false
		}
	}
	b.insertLocked(m)
	b.evictLocked(nowMs - b.retentionMs)
	return true
}

// EvictBefore drops every measurement stamped before cutoffMs and returns
// how many were dropped.
func (b *Buffer) EvictBefore(cutoffMs int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	before := b.lenLocked()
	b.evictBeforeLocked(cutoffMs)
	return before - b.lenLocked()
}

// SnapshotAt ages out measurements older than the retention window ending
// at nowMs, then returns a Snapshot of what remains.
func (b *Buffer) SnapshotAt(nowMs int64) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked(nowMs - b.retentionMs)
	return b.snapshotLocked()
}

// Caller must hold b.mu.
func (b *Buffer) insertLocked(m Measurement) {
	list := b.beacons[m.BeaconID]
	i := sort.Search(len(list), func(i int) bool { return list[i].TimestampMs > m.TimestampMs })
	list = append(list, Measurement{})
	copy(list[i+1:], list[i:])
	list[i] = m
	b.beacons[m.BeaconID] = list

	if !b.seen || m.TimestampMs > b.newestMs {
		b.newestMs = m.TimestampMs
		b.seen = true
	}
}

// evictLocked drops entries stamped before cutoff unless retention is
// unbounded.
// Caller must hold b.mu.
func (b *Buffer) evictLocked(cutoff int64) {
	if b.retentionMs == 0 {
		return
	}
	b.evictBeforeLocked(cutoff)
}

// Caller must hold b.mu.
func (b *Buffer) evictBeforeLocked(cutoff int64) {
	for id, list := range b.beacons {
		i := sort.Search(len(list), func(i int) bool { return list[i].TimestampMs >= cutoff })
		if i == 0 {
			continue
		}
		if i == len(list) {
			delete(b.beacons, id)
			continue
		}
		kept := make([]Measurement, len(list)-i)
		copy(kept, list[i:])
		b.beacons[id] = kept
	}
	if len(b.beacons) == 0 {
		b.seen = false
		b.newestMs = 0
	}
}

func (b *Buffer) lenLocked() int {
	n := 0
	for _, list := range b.beacons {
		n += len(list)
	}
	return n
}

// Snapshot returns an immutable per-beacon summary of the current contents.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() Snapshot {
	beacons := make(map[string]Summary, len(b.beacons))
	for id, list := range b.beacons {
		beacons[id] = Summarize(list)
	}
	return Snapshot{NewestMs: b.newestMs, beacons: beacons}
}

// Drain removes and returns every buffered measurement grouped by beacon.
func (b *Buffer) Drain() map[string][]Measurement {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.beacons
	b.beacons = make(map[string][]Measurement)
	b.seen = false
	b.newestMs = 0
	return out
}

// Clear discards every buffered measurement.
func (b *Buffer) Clear() {
	b.Drain()
}

// Len returns the number of buffered measurements.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lenLocked()
}

// Span returns the time covered by the buffered measurements in ms.
func (b *Buffer) Span() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.seen {
		return 0
	}
	oldest := b.newestMs
	for _, list := range b.beacons {
		if len(list) > 0 && list[0].TimestampMs < oldest {
			oldest = list[0].TimestampMs
		}
	}
	return b.newestMs - oldest
}
