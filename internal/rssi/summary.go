package rssi

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Summary is the distribution of rssi readings for one beacon.
// Variance is the population variance in dB².
type Summary struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// Summarize computes a Summary over the readings carried by ms. Entries
// without a reading are skipped, so the result may have a zero Count.
func Summarize(ms []Measurement) Summary {
	vals := make([]float64, 0, len(ms))
	for _, m := range ms {
		if m.HasReading() {
			vals = append(vals, float64(m.RSSI))
		}
	}
	return SummarizeValues(vals)
}

// SummarizeValues computes a Summary over raw dBm values.
func SummarizeValues(vals []float64) Summary {
	if len(vals) == 0 {
		return Summary{}
	}
	mean, variance := stat.PopMeanVariance(vals, nil)
	if variance < 0 || math.IsNaN(variance) {
		variance = 0
	}
	return Summary{Count: len(vals), Mean: mean, Variance: variance}
}

// Merge pools two summaries as if their readings had been summarized
// together.
func (s Summary) Merge(o Summary) Summary {
	switch {
	case o.Count == 0:
		return s
	case s.Count == 0:
		return o
	}
	n := s.Count + o.Count
	na, nb := float64(s.Count), float64(o.Count)
	delta := o.Mean - s.Mean
	mean := s.Mean + delta*nb/float64(n)
	m2 := s.Variance*na + o.Variance*nb + delta*delta*na*nb/float64(n)
	return Summary{Count: n, Mean: mean, Variance: m2 / float64(n)}
}

// StdDev returns the population standard deviation.
func (s Summary) StdDev() float64 {
	return math.Sqrt(s.Variance)
}
