package localization

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rssi.locate/internal/config"
	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/monitoring"
	"github.com/banshee-data/rssi.locate/internal/rssi"
	"github.com/banshee-data/rssi.locate/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	e, err := New(append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.StopLocalization)
	return e, clock
}

func ts(v int64) *int64 { return &v }

func collect(t *testing.T, e *Engine, sphere, loc string, readings map[string]int) {
	t.Helper()
	require.Equal(t, fingerprint.StatusOK, e.StartFingerprint())
	for i := 0; i < 5; i++ {
		for id, v := range readings {
			require.Equal(t, fingerprint.StatusOK, e.FeedMeasurement(v, id, nil, nil))
		}
	}
	require.Equal(t, fingerprint.StatusOK, e.FinalizeFingerprint(sphere, loc, nil))
}

// updates returns a callback and the channel it delivers to.
func updates() (Callback, chan LocationUpdate) {
	ch := make(chan LocationUpdate, 16)
	return func(u LocationUpdate) { ch <- u }, ch
}

func recv(t *testing.T, ch <-chan LocationUpdate) LocationUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no location update delivered")
		return LocationUpdate{}
	}
}

func assertSilent(t *testing.T, ch <-chan LocationUpdate) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected location update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_ScenarioC(t *testing.T) {
	e, _ := newTestEngine(t)

	require.Equal(t, fingerprint.StatusOK, e.StartFingerprint())
	for i := 0; i < 5; i++ {
		require.Equal(t, fingerprint.StatusOK, e.FeedMeasurement(-60, "B1", nil, nil))
	}
	require.Equal(t, fingerprint.StatusOK, e.FinalizeFingerprint("S1", "L1", nil))

	fp, ok := e.GetFingerprint("S1", "L1")
	require.True(t, ok)
	s, ok := fp.Beacon("B1")
	require.True(t, ok)
	assert.Equal(t, 5, s.Count)
	assert.Equal(t, -60.0, s.Mean)
}

func TestEngine_ScenarioD(t *testing.T) {
	e, _ := newTestEngine(t)
	fp, err := fingerprint.Parse(`{"version":1,"samples":1,"beacons":{"B1":{"count":3,"mean":-70,"variance":1}}}`)
	require.NoError(t, err)

	require.NoError(t, e.ImportFingerprint("S2", "L9", fp))
	_, ok := e.GetFingerprint("S2", "L9")
	require.True(t, ok)

	assert.Equal(t, 1, e.RemoveFingerprints("S2"))
	_, ok = e.GetFingerprint("S2", "L9")
	assert.False(t, ok)
}

func TestEngine_StateMachineSequencing(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Equal(t, fingerprint.StatusNotCollecting, e.FeedMeasurement(-60, "B1", nil, nil))
	assert.Equal(t, fingerprint.StatusNotCollecting, e.AbortFingerprint())
	assert.Equal(t, fingerprint.StatusOK, e.StartFingerprint())
	assert.Equal(t, fingerprint.StatusAlreadyCollecting, e.StartFingerprint())
	assert.Equal(t, fingerprint.StatusNoMeasurements, e.FinalizeFingerprint("S1", "L1", nil))
	assert.Equal(t, fingerprint.StatusInvalidRSSI, e.FeedMeasurement(40, "B1", nil, nil))
	assert.Equal(t, fingerprint.StatusOK, e.AbortFingerprint())
	assert.Equal(t, fingerprint.StatusNotCollecting, e.CreateFingerprintSample(nil))
}

func TestEngine_ClearAndRemoveAreIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})

	st, existed := e.RemoveFingerprint("S1", "nope")
	assert.Equal(t, fingerprint.StatusOK, st, "removing an absent key succeeds")
	assert.False(t, existed)
	st, existed = e.RemoveFingerprint("S1", "L1")
	assert.Equal(t, fingerprint.StatusOK, st)
	assert.True(t, existed)
	st, _ = e.RemoveFingerprint("S1", "L1")
	assert.Equal(t, fingerprint.StatusOK, st)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})
	assert.Equal(t, 0, e.RemoveFingerprints("nope"))
	assert.Equal(t, 1, e.Clear())
	assert.Empty(t, e.Spheres())
	assert.Equal(t, 0, e.Clear())
	assert.Empty(t, e.Spheres())
}

func TestEngine_ImportFingerprint(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Error(t, e.ImportFingerprint("S1", "L1", nil))

	handle, st := e.NewFingerprint()
	require.Equal(t, fingerprint.StatusOK, st)
	err := e.ImportFingerprint("S1", "L1", handle)
	assert.True(t, errors.Is(err, ErrNotFinalized))

	err = e.ImportFingerprintText("S1", "L1", "garbage")
	assert.ErrorIs(t, err, fingerprint.ErrMalformed)

	collect(t, e, "S1", "L1", map[string]int{"B1": -60, "B2": -72})
	src, _ := e.GetFingerprint("S1", "L1")
	require.NoError(t, e.ImportFingerprintText("S9", "copy", src.String()))

	cp, ok := e.GetFingerprint("S9", "copy")
	require.True(t, ok)
	assert.Equal(t, src.Beacons(), cp.Beacons())
	assert.Equal(t, "S9", cp.SphereID())
}

func TestEngine_LocalizationDeliversUpdates(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})
	collect(t, e, "S1", "L2", map[string]int{"B1": -85})

	assert.False(t, e.Track(-58, "B1", nil), "track before start is rejected")

	cb, ch := updates()
	e.StartLocalization(cb)
	assert.True(t, e.Localizing())

	for i := 0; i < 3; i++ {
		require.True(t, e.Track(-58, "B1", nil))
	}
	clock.Advance(time.Second)

	u := recv(t, ch)
	assert.Equal(t, "S1", u.SphereID)
	assert.Equal(t, "L1", u.LocationID)
	assert.True(t, u.Known)
	assert.Greater(t, u.Confidence, 0.5)
	assert.Equal(t, epoch.Add(time.Second).UnixMilli(), u.TimestampMs)

	last, ok := e.LastUpdate("S1")
	require.True(t, ok)
	assert.Equal(t, u, last)
}

func TestEngine_UnknownLocationIsAnUpdate(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})

	cb, ch := updates()
	e.StartLocalization(cb)
	require.True(t, e.Track(-50, "B99", nil))
	clock.Advance(time.Second)

	u := recv(t, ch)
	assert.False(t, u.Known)
	assert.Empty(t, u.LocationID)
	assert.Equal(t, "S1", u.SphereID)
}

func TestEngine_ReadingsAgeOutWithoutNewScans(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})
	collect(t, e, "S1", "L2", map[string]int{"B1": -85})

	cb, ch := updates()
	e.StartLocalization(cb)
	require.True(t, e.Track(-58, "B1", nil))

	clock.Advance(time.Second)
	u := recv(t, ch)
	assert.True(t, u.Known)
	assert.Equal(t, "L1", u.LocationID)

	// No scans for longer than the retention window.
	clock.Advance(11 * time.Second)
	u = recv(t, ch)
	assert.False(t, u.Known, "stale readings must not keep reporting a location")
	assert.Empty(t, u.LocationID)
	assert.Zero(t, u.Confidence)
}

func TestEngine_FutureTimestampDoesNotStarveLiveReadings(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})
	collect(t, e, "S1", "L2", map[string]int{"B1": -85})

	cb, ch := updates()
	e.StartLocalization(cb)

	assert.False(t, e.Track(-85, "B9", ts(epoch.Add(24*time.Hour).UnixMilli())), "far-future reading is rejected")
	assert.True(t, e.Track(-85, "B9", ts(epoch.Add(5*time.Second).UnixMilli())), "small clock skew is tolerated")
	for i := 0; i < 5; i++ {
		require.True(t, e.Track(-58, "B1", nil))
	}

	clock.Advance(time.Second)
	u := recv(t, ch)
	assert.True(t, u.Known)
	assert.Equal(t, "L1", u.LocationID)
}

func TestEngine_HandleLimitsFromConfig(t *testing.T) {
	cfg := config.DefaultLocalizationConfig()
	maxHandles, idle := 1, "1m"
	cfg.MaxHandles = &maxHandles
	cfg.HandleIdleTimeout = &idle
	e, clock := newTestEngine(t, WithConfig(cfg))

	a, st := e.NewFingerprint()
	require.Equal(t, fingerprint.StatusOK, st)
	_, st = e.NewFingerprint()
	assert.Equal(t, fingerprint.StatusTooManyHandles, st)

	clock.Advance(2 * time.Minute)
	_, st = e.NewFingerprint()
	assert.Equal(t, fingerprint.StatusOK, st, "the idle handle was discarded")
	_, ok := e.Handle(a.ID())
	assert.False(t, ok)
	assert.Equal(t, fingerprint.StatusUnknownHandle, e.FeedMeasurement(-60, "B1", nil, a))
}

func TestEngine_TrackValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	e.StartLocalization(nil)

	assert.False(t, e.Track(5, "B1", nil))
	assert.False(t, e.Track(-60, "", nil))
	assert.True(t, e.Track(-60, "B1", ts(epoch.UnixMilli())))
	assert.True(t, e.Track(0, "B2", nil), "no-reading registers the beacon")
	assert.False(t, e.Track(-60, "B1", ts(epoch.Add(-time.Minute).UnixMilli())), "older than retention")
}

func TestEngine_StopIsPromptAndIdempotent(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})

	cb, ch := updates()
	e.StartLocalization(cb)
	e.Track(-60, "B1", nil)
	e.StopLocalization()
	e.StopLocalization()

	assert.False(t, e.Localizing())
	assert.Equal(t, 0, clock.Tickers())
	clock.Advance(5 * time.Second)
	assertSilent(t, ch)
	assert.False(t, e.Track(-60, "B1", nil))
}

func TestEngine_StartReplacesRunningSession(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})

	cb1, ch1 := updates()
	cb2, ch2 := updates()
	e.StartLocalization(cb1)
	e.Track(-60, "B1", nil)
	e.StartLocalization(cb2)
	assert.Equal(t, 1, clock.Tickers())

	clock.Advance(time.Second)
	u := recv(t, ch2)
	assert.False(t, u.Known, "the new session starts with an empty buffer")
	assertSilent(t, ch1)
}

func TestEngine_SlowCallbackSkipsCycles(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})

	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	e.StartLocalization(func(LocationUpdate) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		entered <- struct{}{}
		if n == 1 {
			<-release
		}
	})

	clock.Advance(time.Second)
	<-entered
	// The worker is blocked: one tick is buffered, the rest are dropped.
	clock.Advance(time.Second)
	clock.Advance(time.Second)
	clock.Advance(time.Second)
	close(release)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered tick was not processed")
	}
	select {
	case <-entered:
		t.Fatal("missed cycles were queued")
	case <-time.After(50 * time.Millisecond):
	}
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestEngine_StopWaitsForInFlightCallback(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(1)
	e.StartLocalization(func(LocationUpdate) {
		close(entered)
		<-release
		finished.Done()
	})
	clock.Advance(time.Second)
	<-entered

	stopped := make(chan struct{})
	go func() {
		e.StopLocalization()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("stop returned while a callback was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped
	finished.Wait()
}

func TestEngine_SphereSelection(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S2", "kitchen", map[string]int{"B1": -60})
	collect(t, e, "S1", "hall", map[string]int{"B1": -62})

	cb, ch := updates()
	e.StartLocalization(cb)
	e.Track(-60, "B1", nil)

	clock.Advance(time.Second)
	first, second := recv(t, ch), recv(t, ch)
	assert.Equal(t, "S1", first.SphereID)
	assert.Equal(t, "S2", second.SphereID)

	e.SetSphere("S2")
	assert.Equal(t, "S2", e.Sphere())
	clock.Advance(time.Second)
	u := recv(t, ch)
	assert.Equal(t, "S2", u.SphereID)
	assert.Equal(t, "kitchen", u.LocationID)
	assertSilent(t, ch)
}

func TestEngine_ExplicitHandlesDoNotTouchDefault(t *testing.T) {
	e, _ := newTestEngine(t)

	a, _ := e.NewFingerprint()
	b, _ := e.NewFingerprint()
	got, ok := e.Handle(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.Equal(t, fingerprint.StatusOK, e.FeedMeasurement(-55, "B1", nil, a))
	assert.Equal(t, fingerprint.StatusOK, e.FeedMeasurement(-80, "B1", nil, b))
	assert.Equal(t, fingerprint.StatusOK, e.CreateFingerprintSample(a))
	assert.False(t, e.Status().Collecting)

	assert.Equal(t, fingerprint.StatusOK, e.FinalizeFingerprint("S1", "A", a))
	assert.Equal(t, fingerprint.StatusOK, e.DiscardFingerprint(b))
	assert.Equal(t, []string{"S1"}, e.Spheres())
	require.Len(t, e.Fingerprints("S1"), 1)
	assert.Equal(t, "A", e.Fingerprints("S1")[0].LocationID)
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingListener) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recordingListener) FingerprintStored(e fingerprint.Entry) {
	r.add("stored " + e.SphereID + "/" + e.LocationID)
}
func (r *recordingListener) FingerprintRemoved(s, l string) { r.add("removed " + s + "/" + l) }
func (r *recordingListener) SphereRemoved(s string)         { r.add("sphere " + s) }
func (r *recordingListener) StoreCleared()                  { r.add("cleared") }

func TestEngine_StoreListener(t *testing.T) {
	rec := &recordingListener{}
	e, _ := newTestEngine(t, WithStoreListener(rec))

	collect(t, e, "S1", "L1", map[string]int{"B1": -60})
	fp, _ := e.GetFingerprint("S1", "L1")
	require.NoError(t, e.ImportFingerprint("S1", "L2", fp))
	e.RemoveFingerprint("S1", "L1")
	e.RemoveFingerprint("S1", "L1")
	e.RemoveFingerprints("S1")
	e.Clear()

	assert.Equal(t, []string{
		"stored S1/L1",
		"stored S1/L2",
		"removed S1/L1",
		"sphere S1",
		"cleared",
	}, rec.events)
}

func TestEngine_Status(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})
	e.StartFingerprint()

	cb, ch := updates()
	e.StartLocalization(cb)
	e.Track(-60, "B1", nil)
	clock.Advance(time.Second)
	recv(t, ch)

	st := e.Status()
	assert.True(t, st.Localizing)
	assert.True(t, st.Collecting)
	assert.Equal(t, 1, st.Fingerprints)
	assert.Equal(t, []string{"S1"}, st.Spheres)
	require.Len(t, st.LastUpdates, 1)
	assert.Equal(t, "L1", st.LastUpdates[0].LocationID)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.EmptyLocalizationConfig()
	bad := "nonsense"
	cfg.Scorer = &bad
	_, err := New(WithConfig(cfg))
	assert.Error(t, err)
}

func TestEngine_IngestFeedsSessionAndCollection(t *testing.T) {
	e, clock := newTestEngine(t)
	collect(t, e, "S1", "L1", map[string]int{"B1": -60})

	// Neither active: dropped silently.
	e.Ingest(rssi.Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: epoch.UnixMilli()})

	require.Equal(t, fingerprint.StatusOK, e.StartFingerprint())
	cb, ch := updates()
	e.StartLocalization(cb)
	for i := 0; i < 3; i++ {
		e.Ingest(rssi.Measurement{BeaconID: "B1", RSSI: -61, TimestampMs: epoch.UnixMilli()})
	}
	e.Ingest(rssi.Measurement{BeaconID: "B1", RSSI: 30, TimestampMs: epoch.UnixMilli()})

	clock.Advance(time.Second)
	u := recv(t, ch)
	assert.Equal(t, "L1", u.LocationID)

	require.Equal(t, fingerprint.StatusOK, e.FinalizeFingerprint("S1", "L2", nil))
	fp, _ := e.GetFingerprint("S1", "L2")
	s, _ := fp.Beacon("B1")
	assert.Equal(t, 3, s.Count)
}

func TestEngine_IngestLogsRejectedMeasurements(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	monitoring.SetVerbose(true)
	t.Cleanup(func() {
		monitoring.SetVerbose(false)
		monitoring.SetLogger(nil)
	})

	e, _ := newTestEngine(t)
	require.Equal(t, fingerprint.StatusOK, e.StartFingerprint())
	e.Ingest(rssi.Measurement{BeaconID: "", RSSI: -60, TimestampMs: epoch.UnixMilli()})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]
	assert.Contains(t, last, "collection rejected")
	assert.Contains(t, last, "invalid beacon id")
}
