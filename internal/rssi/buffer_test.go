package rssi

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AddOutOfOrder(t *testing.T) {
	b := NewBuffer(0)
	require.True(t, b.Add(Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: 300}))
	require.True(t, b.Add(Measurement{BeaconID: "B1", RSSI: -70, TimestampMs: 100}))
	require.True(t, b.Add(Measurement{BeaconID: "B1", RSSI: -65, TimestampMs: 200}))

	drained := b.Drain()
	require.Len(t, drained["B1"], 3)
	assert.Equal(t, int64(100), drained["B1"][0].TimestampMs)
	assert.Equal(t, int64(200), drained["B1"][1].TimestampMs)
	assert.Equal(t, int64(300), drained["B1"][2].TimestampMs)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_RetentionEviction(t *testing.T) {
	b := NewBuffer(1000)
	b.Add(Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: 0})
	b.Add(Measurement{BeaconID: "B2", RSSI: -80, TimestampMs: 500})
	b.Add(Measurement{BeaconID: "B1", RSSI: -62, TimestampMs: 1600})

	snap := b.Snapshot()
	s1, ok := snap.Get("B1")
	require.True(t, ok)
	assert.Equal(t, 1, s1.Count)
	assert.Equal(t, -62.0, s1.Mean)

	_, ok = snap.Get("B2")
	assert.False(t, ok, "B2 fell out of the window and should be gone")

	// Late arrival older than the window is dropped.
	assert.False(t, b.Add(Measurement{BeaconID: "B3", RSSI: -70, TimestampMs: 100}))
	// Late arrival within the window is kept.
	assert.True(t, b.Add(Measurement{BeaconID: "B3", RSSI: -70, TimestampMs: 900}))
	assert.Equal(t, int64(700), b.Span())
}

func TestBuffer_SnapshotAtAgesOutWithoutNewInput(t *testing.T) {
	b := NewBuffer(1000)
	require.True(t, b.AddAt(Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: 10_000}, 10_000))
	require.True(t, b.AddAt(Measurement{BeaconID: "B2", RSSI: -70, TimestampMs: 10_600}, 10_600))

	snap := b.SnapshotAt(10_900)
	assert.Equal(t, 2, snap.Len())

	snap = b.SnapshotAt(11_300)
	assert.Equal(t, []string{"B2"}, snap.BeaconIDs())

	snap = b.SnapshotAt(20_000)
	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, int64(0), b.Span())
}

func TestBuffer_AddAtBoundsSkew(t *testing.T) {
	b := NewBuffer(1000)
	now := int64(50_000)

	assert.False(t, b.AddAt(Measurement{BeaconID: "B9", RSSI: -80, TimestampMs: now + 86_400_000}, now), "far future")
	assert.False(t, b.AddAt(Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: now - 1001}, now), "too old")
	assert.True(t, b.AddAt(Measurement{BeaconID: "B9", RSSI: -80, TimestampMs: now + 400}, now), "small skew")

	// A slightly-ahead reading does not push current ones out of the window.
	for i := 0; i < 5; i++ {
		require.True(t, b.AddAt(Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: now}, now))
	}
	s, ok := b.SnapshotAt(now).Get("B1")
	require.True(t, ok)
	assert.Equal(t, 5, s.Count)

	// Late but in-window readings are kept in order.
	require.True(t, b.AddAt(Measurement{BeaconID: "B1", RSSI: -62, TimestampMs: now - 500}, now))
	drained := b.Drain()
	assert.Equal(t, now-500, drained["B1"][0].TimestampMs)
}

func TestBuffer_EvictBefore(t *testing.T) {
	b := NewBuffer(0)
	b.Add(Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: 1})
	b.Add(Measurement{BeaconID: "B1", RSSI: -61, TimestampMs: 5})
	b.Add(Measurement{BeaconID: "B2", RSSI: -70, TimestampMs: 2})

	assert.Equal(t, 2, b.EvictBefore(5))
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 0, b.EvictBefore(5))
}

func TestBuffer_NoReadingRegistersBeacon(t *testing.T) {
	b := NewBuffer(0)
	b.Add(Measurement{BeaconID: "B9", RSSI: NoReading, TimestampMs: 10})

	snap := b.Snapshot()
	s, ok := snap.Get("B9")
	require.True(t, ok)
	assert.Equal(t, 0, s.Count)
	assert.Equal(t, []string{"B9"}, snap.BeaconIDs())
}

func TestBuffer_SnapshotIsImmutable(t *testing.T) {
	b := NewBuffer(0)
	b.Add(Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: 1})
	snap := b.Snapshot()

	b.Add(Measurement{BeaconID: "B1", RSSI: -40, TimestampMs: 2})
	b.Add(Measurement{BeaconID: "B2", RSSI: -40, TimestampMs: 3})

	s, _ := snap.Get("B1")
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, int64(1), snap.NewestMs)
}

func TestBuffer_ConcurrentAddAndSnapshot(t *testing.T) {
	b := NewBuffer(5000)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Add(Measurement{BeaconID: "B1", RSSI: -50 - w, TimestampMs: int64(i)})
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := b.Snapshot()
			if s, ok := snap.Get("B1"); ok && s.Count > 0 {
				if s.Mean > -50 || s.Mean < -53 {
					t.Errorf("mean out of range: %v", s.Mean)
				}
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 2000, b.Len())
}

func TestNew_SubstitutesNow(t *testing.T) {
	m := New(-60, "B1", nil, 42)
	assert.Equal(t, int64(42), m.TimestampMs)

	ts := int64(7)
	m = New(-60, "B1", &ts, 42)
	assert.Equal(t, int64(7), m.TimestampMs)
}

func TestValid(t *testing.T) {
	tests := []struct {
		rssi       int
		valid      bool
		acceptable bool
	}{
		{-60, true, true},
		{MinRSSI, true, true},
		{MaxRSSI, true, true},
		{NoReading, false, true},
		{-128, false, false},
		{5, false, false},
	}
	for _, tt := range tests {
		if got := Valid(tt.rssi); got != tt.valid {
			t.Errorf("Valid(%d) = %v, want %v", tt.rssi, got, tt.valid)
		}
		if got := Acceptable(tt.rssi); got != tt.acceptable {
			t.Errorf("Acceptable(%d) = %v, want %v", tt.rssi, got, tt.acceptable)
		}
	}
}
