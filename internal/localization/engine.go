package localization

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rssi.locate/internal/classify"
	"github.com/banshee-data/rssi.locate/internal/config"
	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/monitoring"
	"github.com/banshee-data/rssi.locate/internal/rssi"
	"github.com/banshee-data/rssi.locate/internal/timeutil"
)

// LocationUpdate is delivered to the session callback once per sphere per
// classification cycle.
type LocationUpdate struct {
	SphereID    string  `json:"sphere_id"`
	LocationID  string  `json:"location_id,omitempty"` // empty when unknown
	Known       bool    `json:"known"`
	Confidence  float64 `json:"confidence"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Callback receives location updates.
type Callback func(LocationUpdate)

// StoreListener observes every change the engine makes to its store.
// Methods run synchronously on the caller's goroutine after the change,
// in the same order the changes were applied. Listeners must not call back
// into the engine's store operations.
type StoreListener interface {
	FingerprintStored(e fingerprint.Entry)
	FingerprintRemoved(sphereID, locationID string)
	SphereRemoved(sphereID string)
	StoreCleared()
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the real clock, typically with a timeutil.MockClock.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithConfig sets the tuning configuration.
func WithConfig(cfg *config.LocalizationConfig) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClassifier overrides the classifier built from the configuration.
func WithClassifier(c *classify.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithStoreListener registers l for store changes. It may be given more
// than once.
func WithStoreListener(l StoreListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// Engine is safe for concurrent use.
type Engine struct {
	clock      timeutil.Clock
	cfg        *config.LocalizationConfig
	classifier *classify.Classifier
	listeners  []StoreListener

	store     *fingerprint.Store
	collector *fingerprint.Collector
	writes    sync.Mutex // orders store changes with their listener calls

	lifecycle sync.Mutex // serializes session start and stop
	active    atomic.Pointer[session]

	mu       sync.RWMutex
	sphereID string
	last     map[string]LocationUpdate
}

type session struct {
	buf      *rssi.Buffer
	callback Callback
	ticker   timeutil.Ticker
	stop     chan struct{}
	done     chan struct{}
}

// New creates an Engine with an empty store.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		clock: timeutil.RealClock{},
		store: fingerprint.NewStore(),
		last:  make(map[string]LocationUpdate),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = config.EmptyLocalizationConfig()
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if e.classifier == nil {
		c, err := classify.FromConfig(e.cfg)
		if err != nil {
			return nil, err
		}
		e.classifier = c
	}
	e.collector = fingerprint.NewCollector(e.store, e.cfg.GetSampleWindow().Milliseconds(), e.nowMs)
	e.collector.SetHandleLimits(e.cfg.GetMaxHandles(), e.cfg.GetHandleIdleTimeout().Milliseconds())
	return e, nil
}

func (e *Engine) nowMs() int64 {
	return timeutil.NowMs(e.clock)
}

// StartLocalization begins a session delivering updates to callback,
// stopping any session already running.
func (e *Engine) StartLocalization(callback Callback) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if prev := e.active.Load(); prev != nil {
		monitoring.Logf("[Engine] localization already running; stopping previous session")
		e.stopLocked()
	}

	interval := e.cfg.GetTrackInterval()
	s := &session{
		buf:      rssi.NewBuffer(e.cfg.GetRetentionWindow().Milliseconds()),
		callback: callback,
		ticker:   e.clock.NewTicker(interval),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.active.Store(s)
	go e.run(s, interval)
	monitoring.Logf("[Engine] localization started: interval=%s scorer=%s threshold=%.2f",
		interval, e.classifier.Scorer().Name(), e.classifier.Threshold())
}

// StopLocalization halts the session. It is a no-op when none is running.
func (e *Engine) StopLocalization() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.stopLocked() {
		monitoring.Logf("[Engine] localization stopped")
	}
}

func (e *Engine) stopLocked() bool {
	s := e.active.Swap(nil)
	if s == nil {
		return false
	}
	close(s.stop)
	<-s.done
	s.buf.Clear()
	return true
}

// Localizing reports whether a session is running.
func (e *Engine) Localizing() bool {
	return e.active.Load() != nil
}

// Track feeds a live measurement into the running session. A nil
// timestampMs means now. It returns false when no session is running, the
// rssi is out of range, or the timestamp lies outside the retention window
// around the engine clock.
func (e *Engine) Track(rssiValue int, beaconID string, timestampMs *int64) bool {
	s := e.active.Load()
	if s == nil || beaconID == "" || !rssi.Acceptable(rssiValue) {
		return false
	}
	now := e.nowMs()
	return s.buf.AddAt(rssi.New(rssiValue, beaconID, timestampMs, now), now)
}

// Ingest routes one radio-layer measurement to the running session and to
// the default collection, whichever are active. It implements
// serialmux.Sink.
func (e *Engine) Ingest(m rssi.Measurement) {
	if s := e.active.Load(); s != nil && m.BeaconID != "" && rssi.Acceptable(m.RSSI) {
		if !s.buf.AddAt(m, e.nowMs()) {
			monitoring.Debugf("[Engine] dropped %s: outside the retention window", m)
		}
	}
	if e.collector.Collecting() {
		if st := e.collector.Feed(m, nil); !st.OK() {
			monitoring.Debugf("[Engine] collection rejected %s: %s", m, st)
		}
	}
}

func (e *Engine) run(s *session, interval time.Duration) {
	defer close(s.done)
	defer s.ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.ticker.C():
		}
		select {
		case <-s.stop:
			return
		default:
		}

		start := time.Now()
		e.cycle(s)
		if took := time.Since(start); took > interval {
			monitoring.Logf("[Engine] classification took %s, longer than the %s interval; skipping missed cycles", took, interval)
		}
	}
}

// cycle classifies one snapshot against every target sphere.
func (e *Engine) cycle(s *session) {
	now := e.nowMs()
	snap := s.buf.SnapshotAt(now)
	spheres := e.targetSpheres()
	if len(spheres) == 0 {
		monitoring.Debugf("[Engine] no fingerprints to classify against")
		return
	}
	for _, sphereID := range spheres {
		select {
		case <-s.stop:
			return
		default:
		}
		res := e.classifier.Classify(snap, e.store.Sphere(sphereID))
		u := LocationUpdate{
			SphereID:    sphereID,
			LocationID:  res.LocationID,
			Known:       res.Known,
			Confidence:  res.Confidence,
			TimestampMs: now,
		}
		e.mu.Lock()
		e.last[sphereID] = u
		e.mu.Unlock()
		monitoring.Debugf("[Engine] sphere=%s location=%q known=%t confidence=%.3f beacons=%d",
			sphereID, u.LocationID, u.Known, u.Confidence, snap.Len())
		if s.callback != nil {
			s.callback(u)
		}
	}
}

func (e *Engine) targetSpheres() []string {
	e.mu.RLock()
	sphereID := e.sphereID
	e.mu.RUnlock()
	if sphereID != "" {
		return []string{sphereID}
	}
	return e.store.Spheres()
}

// SetSphere restricts classification to one sphere. The empty string
// classifies against every sphere in the store.
func (e *Engine) SetSphere(sphereID string) {
	e.mu.Lock()
	e.sphereID = sphereID
	e.mu.Unlock()
}

// Sphere returns the sphere set by SetSphere.
func (e *Engine) Sphere() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sphereID
}

// LastUpdate returns the most recent update delivered for a sphere.
func (e *Engine) LastUpdate(sphereID string) (LocationUpdate, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.last[sphereID]
	return u, ok
}

// StartFingerprint opens the default collection.
func (e *Engine) StartFingerprint() fingerprint.Status {
	return e.collector.Start()
}

// AbortFingerprint discards the default collection.
func (e *Engine) AbortFingerprint() fingerprint.Status {
	return e.collector.Abort()
}

// NewFingerprint creates an explicit collection handle. Handles left idle
// past the configured timeout are discarded, and creation fails with
// StatusTooManyHandles once the configured limit is open.
func (e *Engine) NewFingerprint() (*fingerprint.Fingerprint, fingerprint.Status) {
	return e.collector.NewFingerprint()
}

// Handle looks up an explicit collection handle by id.
func (e *Engine) Handle(id string) (*fingerprint.Fingerprint, bool) {
	return e.collector.Handle(id)
}

// DiscardFingerprint aborts an explicit handle.
func (e *Engine) DiscardFingerprint(fp *fingerprint.Fingerprint) fingerprint.Status {
	return e.collector.Discard(fp)
}

// FeedMeasurement adds a measurement to fp, or to the default collection
// when fp is nil. A nil timestampMs means now.
func (e *Engine) FeedMeasurement(rssiValue int, beaconID string, timestampMs *int64, fp *fingerprint.Fingerprint) fingerprint.Status {
	return e.collector.Feed(rssi.New(rssiValue, beaconID, timestampMs, e.nowMs()), fp)
}

// CreateFingerprintSample folds the pending measurements of fp, or of the
// default collection when fp is nil, into one sample.
func (e *Engine) CreateFingerprintSample(fp *fingerprint.Fingerprint) fingerprint.Status {
	return e.collector.Sample(fp)
}

// FinalizeFingerprint completes fp, or the default collection when fp is
// nil, and stores it under (sphereID, locationID).
func (e *Engine) FinalizeFingerprint(sphereID, locationID string, fp *fingerprint.Fingerprint) fingerprint.Status {
	e.writes.Lock()
	defer e.writes.Unlock()
	entry, st := e.collector.Finalize(sphereID, locationID, fp)
	if st.OK() {
		for _, l := range e.listeners {
			l.FingerprintStored(entry)
		}
	}
	return st
}

// GetFingerprint returns the stored fingerprint for a key.
func (e *Engine) GetFingerprint(sphereID, locationID string) (*fingerprint.Fingerprint, bool) {
	return e.store.Get(sphereID, locationID)
}

// ErrNotFinalized is returned when importing a fingerprint still being
// collected or already aborted.
var ErrNotFinalized = errors.New("fingerprint is not finalized")

// ImportFingerprint stores fp under (sphereID, locationID), replacing any
// existing entry.
func (e *Engine) ImportFingerprint(sphereID, locationID string, fp *fingerprint.Fingerprint) error {
	if fp == nil {
		return errors.New("nil fingerprint")
	}
	if st := fp.State(); st != fingerprint.StateFinalized {
		return fmt.Errorf("%w: state %s", ErrNotFinalized, st)
	}
	e.writes.Lock()
	defer e.writes.Unlock()
	entry := e.store.Put(sphereID, locationID, fp, e.nowMs())
	for _, l := range e.listeners {
		l.FingerprintStored(entry)
	}
	return nil
}

// ImportFingerprintText parses an exported fingerprint and stores it.
// Parse failures wrap fingerprint.ErrMalformed.
func (e *Engine) ImportFingerprintText(sphereID, locationID, text string) error {
	fp, err := fingerprint.Parse(text)
	if err != nil {
		return err
	}
	return e.ImportFingerprint(sphereID, locationID, fp)
}

// RemoveFingerprint deletes one entry. Removing an absent key is a no-op
// that still returns StatusOK; existed reports whether there was an entry.
func (e *Engine) RemoveFingerprint(sphereID, locationID string) (st fingerprint.Status, existed bool) {
	e.writes.Lock()
	defer e.writes.Unlock()
	if !e.store.Remove(sphereID, locationID) {
		return fingerprint.StatusOK, false
	}
	for _, l := range e.listeners {
		l.FingerprintRemoved(sphereID, locationID)
	}
	return fingerprint.StatusOK, true
}

// RemoveFingerprints deletes every entry of a sphere and returns how many
// were removed.
func (e *Engine) RemoveFingerprints(sphereID string) int {
	e.writes.Lock()
	defer e.writes.Unlock()
	n := e.store.RemoveSphere(sphereID)
	if n > 0 {
		for _, l := range e.listeners {
			l.SphereRemoved(sphereID)
		}
	}
	return n
}

// Clear empties the store and returns how many entries were removed.
func (e *Engine) Clear() int {
	e.writes.Lock()
	defer e.writes.Unlock()
	n := e.store.Clear()
	e.mu.Lock()
	e.last = make(map[string]LocationUpdate)
	e.mu.Unlock()
	for _, l := range e.listeners {
		l.StoreCleared()
	}
	monitoring.Logf("[Engine] store cleared: removed=%d", n)
	return n
}

// Fingerprints returns the entries of one sphere ordered by location id.
func (e *Engine) Fingerprints(sphereID string) []fingerprint.Entry {
	return e.store.Sphere(sphereID)
}

// Spheres returns the ids of every sphere with stored fingerprints.
func (e *Engine) Spheres() []string {
	return e.store.Spheres()
}

// Status is a point-in-time summary of the engine.
type Status struct {
	Localizing   bool             `json:"localizing"`
	Collecting   bool             `json:"collecting"`
	Sphere       string           `json:"sphere,omitempty"`
	Fingerprints int              `json:"fingerprints"`
	Spheres      []string         `json:"spheres"`
	LastUpdates  []LocationUpdate `json:"last_updates"`
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	st := Status{
		Localizing:   e.Localizing(),
		Collecting:   e.collector.Collecting(),
		Fingerprints: e.store.Len(),
		Spheres:      e.store.Spheres(),
	}
	e.mu.RLock()
	st.Sphere = e.sphereID
	for _, id := range st.Spheres {
		if u, ok := e.last[id]; ok {
			st.LastUpdates = append(st.LastUpdates, u)
		}
	}
	e.mu.RUnlock()
	return st
}
