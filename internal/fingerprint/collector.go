package fingerprint

import (
	"sync"

	"github.com/banshee-data/rssi.locate/internal/monitoring"
	"github.com/banshee-data/rssi.locate/internal/rssi"
)

// Collector runs the fingerprint collection state machine
// (Idle -> Collecting -> Finalized/Aborted -> Idle) for its default
// fingerprint, and tracks explicit handles created with NewFingerprint.
// Explicit handles never change the default state.
//
// Operations that take a *Fingerprint address that handle when it is
// non-nil and the default fingerprint otherwise.
type Collector struct {
	mu             sync.Mutex
	store          *Store
	sampleWindowMs int64
	nowMs          func() int64

	maxHandles   int
	handleIdleMs int64

	active  *Fingerprint
	handles map[string]*handle
}

type handle struct {
	fp         *Fingerprint
	lastUsedMs int64
}

// NewCollector creates a Collector that finalizes into store. Pending
// measurements spanning sampleWindowMs are folded automatically; zero
// disables that.
func NewCollector(store *Store, sampleWindowMs int64, nowMs func() int64) *Collector {
	return &Collector{
		store:          store,
		sampleWindowMs: sampleWindowMs,
		nowMs:          nowMs,
		handles:        make(map[string]*handle),
	}
}

// SetHandleLimits caps the number of open explicit handles and discards
// handles left unused for longer than idleMs. Zero disables either limit.
func (c *Collector) SetHandleLimits(maxHandles int, idleMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxHandles = maxHandles
	c.handleIdleMs = idleMs
}

// Start opens the default collection. It fails if one is already open.
func (c *Collector) Start() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return StatusAlreadyCollecting
	}
	c.active = newCollecting(c.sampleWindowMs)
	monitoring.Logf("[Collector] started fingerprint %s", c.active.ID())
	return StatusOK
}

// NewFingerprint creates an explicit collection handle. It fails with
// StatusTooManyHandles when the handle limit is reached after idle handles
// have been discarded.
func (c *Collector) NewFingerprint() (*Fingerprint, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowMs()
	c.expireLocked(now)
	if c.maxHandles > 0 && len(c.handles) >= c.maxHandles {
		return nil, StatusTooManyHandles
	}
	fp := newCollecting(c.sampleWindowMs)
	c.handles[fp.ID()] = &handle{fp: fp, lastUsedMs: now}
	return fp, StatusOK
}

// Handle looks up an explicit handle by id and marks it used.
func (c *Collector) Handle(id string) (*Fingerprint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowMs()
	c.expireLocked(now)
	h, ok := c.handles[id]
	if !ok {
		return nil, false
	}
	h.lastUsedMs = now
	return h.fp, true
}

// Handles returns the number of open explicit handles.
func (c *Collector) Handles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// expireLocked aborts and forgets handles idle for longer than the idle
// limit. Caller must hold c.mu.
func (c *Collector) expireLocked(now int64) {
	if c.handleIdleMs <= 0 {
		return
	}
	for id, h := range c.handles {
		if now-h.lastUsedMs <= c.handleIdleMs {
			continue
		}
		delete(c.handles, id)
		h.fp.abort()
		monitoring.Logf("[Collector] discarded idle handle %s", id)
	}
}

// Current returns the default fingerprint being collected, if any.
func (c *Collector) Current() (*Fingerprint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.active != nil
}

// Collecting reports whether the default collection is open.
func (c *Collector) Collecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Collector) resolve(fp *Fingerprint) (*Fingerprint, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fp != nil {
		if h, ok := c.handles[fp.ID()]; ok && h.fp == fp {
			h.lastUsedMs = c.nowMs()
		} else if fp.State() == StateAborted {
			return nil, StatusUnknownHandle
		}
		return fp, StatusOK
	}
	if c.active == nil {
		return nil, StatusNotCollecting
	}
	return c.active, StatusOK
}

// Feed adds a measurement to the addressed fingerprint.
func (c *Collector) Feed(m rssi.Measurement, fp *Fingerprint) Status {
	if !rssi.Acceptable(m.RSSI) {
		return StatusInvalidRSSI
	}
	if m.BeaconID == "" {
		return StatusInvalidBeacon
	}
	target, st := c.resolve(fp)
	if !st.OK() {
		return st
	}
	return target.feed(m)
}

// Sample folds the addressed fingerprint's pending measurements into one
// sample.
func (c *Collector) Sample(fp *Fingerprint) Status {
	target, st := c.resolve(fp)
	if !st.OK() {
		return st
	}
	return target.sample()
}

// Abort discards the default collection.
func (c *Collector) Abort() Status {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()
	if active == nil {
		return StatusNotCollecting
	}
	active.abort()
	monitoring.Logf("[Collector] aborted fingerprint %s", active.ID())
	return StatusOK
}

// Discard aborts an explicit handle and forgets it.
func (c *Collector) Discard(fp *Fingerprint) Status {
	c.mu.Lock()
	h, ok := c.handles[fp.ID()]
	ok = ok && h.fp == fp
	if ok {
		delete(c.handles, fp.ID())
	}
	c.mu.Unlock()
	if !ok {
		return StatusUnknownHandle
	}
	fp.abort()
	return StatusOK
}

// Finalize completes the addressed fingerprint and stores it under
// (sphereID, locationID), replacing any existing entry. The returned Entry
// is only meaningful when the status is StatusOK.
func (c *Collector) Finalize(sphereID, locationID string, fp *Fingerprint) (Entry, Status) {
	target, st := c.resolve(fp)
	if !st.OK() {
		return Entry{}, st
	}
	now := c.nowMs()
	if st := target.finalize(sphereID, locationID, now); !st.OK() {
		monitoring.Logf("[Collector] finalize %s/%s refused: %s", sphereID, locationID, st)
		return Entry{}, st
	}

	c.mu.Lock()
	if c.active == target {
		c.active = nil
	}
	delete(c.handles, target.ID())
	c.mu.Unlock()

	e := c.store.Put(sphereID, locationID, target, now)
	monitoring.Logf("[Collector] finalized fingerprint %s as %s/%s: beacons=%d samples=%d",
		target.ID(), sphereID, locationID, len(target.BeaconIDs()), target.SampleCount())
	return e, StatusOK
}
