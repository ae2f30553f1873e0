package classify

import (
	"math"
	"sort"

	"github.com/banshee-data/rssi.locate/internal/rssi"
)

// Scorer rates how well a live snapshot matches one stored fingerprint.
// Scores lie in [0, 1], higher is better. Implementations must be pure:
// identical inputs always give the identical score.
type Scorer interface {
	Name() string
	Score(live rssi.Snapshot, fp map[string]rssi.Summary) float64
}

// Gaussian scores each fingerprint beacon by the likelihood of the live mean
// under a normal distribution around the stored mean, then averages.
//
// Beacons stored in the fingerprint but missing live score zero with full
// weight. Live beacons unknown to the fingerprint score zero with
// ExtraWeight, so they dilute the match without dominating it.
type Gaussian struct {
	VarianceFloor float64 // dB² added to the stored variance
	ExtraWeight   float64
}

func (Gaussian) Name() string { return "gaussian" }

func (g Gaussian) Score(live rssi.Snapshot, fp map[string]rssi.Summary) float64 {
	var num, den float64
	for _, id := range readingIDs(fp) {
		stored := fp[id]
		den++
		got, ok := live.Get(id)
		if !ok || got.Count == 0 {
			continue
		}
		sigma2 := stored.Variance + g.VarianceFloor
		if sigma2 <= 0 {
			sigma2 = 1
		}
		d := got.Mean - stored.Mean
		num += math.Exp(-d * d / (2 * sigma2))
	}
	for _, id := range live.BeaconIDs() {
		got, _ := live.Get(id)
		if got.Count == 0 {
			continue
		}
		if s, ok := fp[id]; ok && s.Count > 0 {
			continue
		}
		den += g.ExtraWeight
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Euclidean scores by the distance between mean vectors over the
// fingerprint's beacons, substituting MissingRSSI for beacons not heard
// live. Live beacons unknown to the fingerprint are ignored.
// Score = 1 / (1 + distance/Scale).
type Euclidean struct {
	MissingRSSI float64
	Scale       float64
}

func (Euclidean) Name() string { return "euclidean" }

func (e Euclidean) Score(live rssi.Snapshot, fp map[string]rssi.Summary) float64 {
	ids := readingIDs(fp)
	if len(ids) == 0 {
		return 0
	}
	var sum float64
	for _, id := range ids {
		v := e.MissingRSSI
		if got, ok := live.Get(id); ok && got.Count > 0 {
			v = got.Mean
		}
		d := v - fp[id].Mean
		sum += d * d
	}
	scale := e.Scale
	if scale <= 0 {
		scale = 1
	}
	return 1 / (1 + math.Sqrt(sum)/scale)
}

// readingIDs returns the sorted ids of beacons that carry at least one
// reading. Sorting fixes the summation order so scores are reproducible.
func readingIDs(m map[string]rssi.Summary) []string {
	ids := make([]string, 0, len(m))
	for id, s := range m {
		if s.Count > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
