package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rssi.locate/internal/config"
	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/fingerprintdb"
	"github.com/banshee-data/rssi.locate/internal/localization"
	"github.com/banshee-data/rssi.locate/internal/monitoring"
	"github.com/banshee-data/rssi.locate/internal/rssi"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTestDB(t *testing.T) *fingerprintdb.DB {
	t.Helper()
	db, err := fingerprintdb.Open(filepath.Join(t.TempDir(), "fingerprints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, "fingerprints.db", *dbPath)
	assert.Equal(t, "rssi", *mqttTopic)
	assert.Empty(t, *mqttBroker)
	assert.Empty(t, *grpcListen)
	assert.True(t, *localize)
	assert.Equal(t, 7*24*time.Hour, *historyRetention)
}

const sampleLibrary = `
spheres:
  - id: home
    locations:
      - id: kitchen
        beacons:
          kitchen-beacon: {mean: -58, variance: 4, count: 40}
          hall-beacon: {mean: -80, variance: 9, count: 38}
      - id: hall
        export: '{"version":1,"samples":2,"beacons":{"hall-beacon":{"count":10,"mean":-61,"variance":2}}}'
  - id: office
    locations:
      - id: desk
        beacons:
          desk-beacon: {mean: -55, variance: 1, count: 5}
`

func TestParseLibrary(t *testing.T) {
	entries, err := parseLibrary(strings.NewReader(sampleLibrary))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "home", entries[0].SphereID)
	assert.Equal(t, "kitchen", entries[0].LocationID)
	s, ok := entries[0].Fingerprint.Beacon("kitchen-beacon")
	require.True(t, ok)
	assert.Equal(t, rssi.Summary{Count: 40, Mean: -58, Variance: 4}, s)

	assert.Equal(t, "hall", entries[1].LocationID)
	assert.Equal(t, 2, entries[1].Fingerprint.SampleCount())
	assert.Equal(t, fingerprint.StateFinalized, entries[1].Fingerprint.State())
}

func TestParseLibrary_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", ``, "empty fingerprint library"},
		{"unknown key", "spheres: []\nextra: 1\n", "field extra not found"},
		{"sphere id", "spheres:\n  - locations: []\n", "sphere without id"},
		{"location id", "spheres:\n  - id: s\n    locations:\n      - beacons: {b: {mean: -60, count: 1}}\n", "location without id"},
		{"no beacons", "spheres:\n  - id: s\n    locations:\n      - id: l\n", "no beacons"},
		{"bad mean", "spheres:\n  - id: s\n    locations:\n      - id: l\n        beacons: {b: {mean: 3, count: 1}}\n", "outside"},
		{"bad count", "spheres:\n  - id: s\n    locations:\n      - id: l\n        beacons: {b: {mean: -60}}\n", "count must be positive"},
		{"bad variance", "spheres:\n  - id: s\n    locations:\n      - id: l\n        beacons: {b: {mean: -60, count: 1, variance: -1}}\n", "negative variance"},
		{"bad export", "spheres:\n  - id: s\n    locations:\n      - id: l\n        export: 'nope'\n", "malformed fingerprint"},
		{"both", "spheres:\n  - id: s\n    locations:\n      - id: l\n        export: '{}'\n        beacons: {b: {mean: -60, count: 1}}\n", "not both"},
		{"duplicate", "spheres:\n  - id: s\n    locations:\n      - id: l\n        beacons: {b: {mean: -60, count: 1}}\n      - id: l\n        beacons: {b: {mean: -60, count: 1}}\n", "duplicate location s/l"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLibrary(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestImportLibrary(t *testing.T) {
	db := openTestDB(t)
	stale := fingerprint.FromSummaries(map[string]rssi.Summary{"old": {Count: 1, Mean: -90}})
	require.NoError(t, db.SaveFingerprint("attic", "corner", stale))

	entries, err := parseLibrary(strings.NewReader(sampleLibrary))
	require.NoError(t, err)
	require.NoError(t, importLibrary(db, entries, true))

	records, err := db.Fingerprints()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.NotEqual(t, "attic", r.SphereID)
	}

	// The imported library restores into an engine.
	engine, err := localization.New()
	require.NoError(t, err)
	n, err := db.LoadInto(engine)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"home", "office"}, engine.Spheres())
}

func TestMigrateCommand(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, migrateCommand(db, []string{"version"}))
	require.NoError(t, migrateCommand(db, []string{"down"}))
	v, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	require.NoError(t, migrateCommand(db, []string{"up"}))
	require.NoError(t, migrateCommand(db, []string{"force", "3"}))

	assert.Error(t, migrateCommand(db, []string{"force"}))
	assert.Error(t, migrateCommand(db, []string{"force", "x"}))
	assert.Error(t, migrateCommand(db, []string{"sideways"}))
}

func TestLocationSink(t *testing.T) {
	db := openTestDB(t)
	sink := locationSink(db, nil)
	sink(localization.LocationUpdate{SphereID: "home", LocationID: "kitchen", Known: true, Confidence: 0.9, TimestampMs: 10})
	sink(localization.LocationUpdate{SphereID: "home", TimestampMs: 20})

	recs, err := db.RecentLocations("home", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Known)
	assert.Equal(t, "kitchen", recs[1].LocationID)

	// Neither destination configured is a no-op.
	locationSink(nil, nil)(localization.LocationUpdate{SphereID: "home"})
}

func TestLoadFixtureLines(t *testing.T) {
	lines, err := loadFixtureLines("")
	require.NoError(t, err)
	assert.Equal(t, devLines, lines)

	path := filepath.Join(t.TempDir(), "scan.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n-60,B1\n\n-70,B2,1700000000000\n"), 0o644))
	lines, err = loadFixtureLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"-60,B1", "-70,B2,1700000000000"}, lines)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = loadFixtureLines(empty)
	assert.Error(t, err)

	_, err = loadFixtureLines(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.ScorerGaussian, cfg.GetScorer())

	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scorer":"euclidean"}`), 0o644))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.ScorerEuclidean, cfg.GetScorer())

	_, err = loadConfig(filepath.Join(t.TempDir(), "tuning.yaml"))
	assert.Error(t, err)
}
