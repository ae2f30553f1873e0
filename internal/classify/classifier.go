// Package classify matches a live rssi snapshot against the stored
// fingerprints of one sphere.
package classify

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/rssi.locate/internal/config"
	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/rssi"
)

// Match is the score of one candidate location.
type Match struct {
	LocationID string  `json:"location_id"`
	Score      float64 `json:"score"`
	Seq        uint64  `json:"-"`
}

// Result is the outcome of one classification. An unknown location is a
// normal result with Known false, not an error.
type Result struct {
	LocationID string  `json:"location_id,omitempty"`
	Known      bool    `json:"known"`
	Confidence float64 `json:"confidence"`
	Matches    []Match `json:"matches,omitempty"` // best first
}

// Classifier is stateless apart from its configuration and safe for
// concurrent use.
type Classifier struct {
	scorer    Scorer
	threshold float64
}

// New creates a Classifier. A location is reported only when its score is
// at least threshold.
func New(scorer Scorer, threshold float64) *Classifier {
	return &Classifier{scorer: scorer, threshold: threshold}
}

// NewScorer builds the scorer named by cfg.
func NewScorer(cfg *config.LocalizationConfig) (Scorer, error) {
	switch name := cfg.GetScorer(); name {
	case config.ScorerGaussian:
		return Gaussian{VarianceFloor: cfg.GetVarianceFloor(), ExtraWeight: cfg.GetExtraBeaconWeight()}, nil
	case config.ScorerEuclidean:
		return Euclidean{MissingRSSI: cfg.GetMissingRSSI(), Scale: cfg.GetDistanceScale()}, nil
	default:
		return nil, fmt.Errorf("unknown scorer %q", name)
	}
}

// FromConfig builds a Classifier from cfg.
func FromConfig(cfg *config.LocalizationConfig) (*Classifier, error) {
	s, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	return New(s, cfg.GetConfidenceThreshold()), nil
}

// Scorer returns the strategy in use.
func (c *Classifier) Scorer() Scorer { return c.scorer }

// Threshold returns the minimum score for a known location.
func (c *Classifier) Threshold() float64 { return c.threshold }

// Classify scores every candidate against live and picks the best one.
// Candidates sharing no heard beacon with live score zero. Equal scores are
// broken in favour of the highest Seq, the most recently stored entry.
func (c *Classifier) Classify(live rssi.Snapshot, candidates []fingerprint.Entry) Result {
	matches := make([]Match, 0, len(candidates))
	for _, e := range candidates {
		beacons := e.Fingerprint.Beacons()
		score := 0.0
		if overlaps(live, beacons) {
			score = clamp01(c.scorer.Score(live, beacons))
		}
		matches = append(matches, Match{LocationID: e.LocationID, Score: score, Seq: e.Seq})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Seq != matches[j].Seq {
			return matches[i].Seq > matches[j].Seq
		}
		return matches[i].LocationID < matches[j].LocationID
	})

	res := Result{Matches: matches}
	if len(matches) == 0 {
		return res
	}
	best := matches[0]
	res.Confidence = best.Score
	if best.Score > 0 && best.Score >= c.threshold {
		res.LocationID = best.LocationID
		res.Known = true
	}
	return res
}

func overlaps(live rssi.Snapshot, fp map[string]rssi.Summary) bool {
	for id, s := range fp {
		if s.Count == 0 {
			continue
		}
		if got, ok := live.Get(id); ok && got.Count > 0 {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
