package fingerprint

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rssi.locate/internal/rssi"
)

func collected(t *testing.T) *Fingerprint {
	t.Helper()
	store := NewStore()
	c := NewCollector(store, 0, fixedNow(1_700_000_000_000))
	require.Equal(t, StatusOK, c.Start())
	for i, v := range []int{-61, -59, -63, -58, -60, -67} {
		c.Feed(meas("B1", v, int64(i)), nil)
		c.Feed(meas("B2", v-17, int64(i)), nil)
		if i == 2 {
			c.Sample(nil)
		}
	}
	c.Feed(meas("B3", rssi.NoReading, 9), nil)
	e, st := c.Finalize("S1", "L1", nil)
	require.Equal(t, StatusOK, st)
	return e.Fingerprint
}

func TestText_RoundTrip(t *testing.T) {
	fp := collected(t)

	text := fp.String()
	require.NotEmpty(t, text)

	back, err := Parse(text)
	require.NoError(t, err)

	if diff := cmp.Diff(fp.Beacons(), back.Beacons()); diff != "" {
		t.Errorf("beacon summaries differ after round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, fp.SphereID(), back.SphereID())
	assert.Equal(t, fp.LocationID(), back.LocationID())
	assert.Equal(t, fp.FinalizedAtMs(), back.FinalizedAtMs())
	assert.Equal(t, fp.SampleCount(), back.SampleCount())
	assert.Equal(t, StateFinalized, back.State())

	// Export is deterministic.
	assert.Equal(t, text, back.String())
}

func TestBinary_RoundTrip(t *testing.T) {
	fp := collected(t)

	blob, err := fp.MarshalBinary()
	require.NoError(t, err)

	back, err := ParseBinary(blob)
	require.NoError(t, err)
	if diff := cmp.Diff(fp.Beacons(), back.Beacons()); diff != "" {
		t.Errorf("beacon summaries differ after binary round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, fp.String(), back.String())
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not json", "hello"},
		{"wrong version", `{"version":7,"samples":1,"beacons":{}}`},
		{"unknown field", `{"version":1,"samples":1,"beacons":{},"extra":true}`},
		{"negative count", `{"version":1,"samples":1,"beacons":{"B1":{"count":-1,"mean":-60,"variance":0}}}`},
		{"negative variance", `{"version":1,"samples":1,"beacons":{"B1":{"count":1,"mean":-60,"variance":-1}}}`},
		{"mean out of range", `{"version":1,"samples":1,"beacons":{"B1":{"count":1,"mean":12,"variance":0}}}`},
		{"empty beacon id", `{"version":1,"samples":1,"beacons":{"":{"count":1,"mean":-60,"variance":0}}}`},
		{"trailing data", `{"version":1,"samples":1,"beacons":{}} {}`},
		{"negative samples", `{"version":1,"samples":-2,"beacons":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "error %v should wrap ErrMalformed", err)
		})
	}
}

func TestParseBinary_Malformed(t *testing.T) {
	_, err := ParseBinary(nil)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseBinary([]byte("not gzip"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMarshalText_SortedBeaconKeys(t *testing.T) {
	fp := FromSummaries(map[string]rssi.Summary{
		"zeta":  {Count: 1, Mean: -70},
		"alpha": {Count: 1, Mean: -60},
	})
	text := fp.String()
	assert.Less(t, strings.Index(text, `"alpha"`), strings.Index(text, `"zeta"`))
}
