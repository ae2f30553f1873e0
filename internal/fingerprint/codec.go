package fingerprint

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/rssi.locate/internal/rssi"
)

// ErrMalformed is wrapped by every error returned when decoding an exported
// fingerprint fails.
var ErrMalformed = errors.New("malformed fingerprint")

// wireVersion is bumped whenever the exported layout changes.
const wireVersion = 1

type wireFingerprint struct {
	Version       int                     `json:"version"`
	SphereID      string                  `json:"sphere_id,omitempty"`
	LocationID    string                  `json:"location_id,omitempty"`
	FinalizedAtMs int64                   `json:"finalized_at_ms,omitempty"`
	Samples       int                     `json:"samples"`
	Beacons       map[string]rssi.Summary `json:"beacons"`
}

func (f *Fingerprint) wire() wireFingerprint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	w := wireFingerprint{
		Version:       wireVersion,
		SphereID:      f.sphereID,
		LocationID:    f.locationID,
		FinalizedAtMs: f.finalizedAtMs,
		Samples:       f.sampleCount,
		Beacons:       make(map[string]rssi.Summary, len(f.beacons)),
	}
	for id, s := range f.beacons {
		w.Beacons[id] = s
	}
	return w
}

func fromWire(w wireFingerprint) (*Fingerprint, error) {
	if w.Version != wireVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, w.Version)
	}
	if w.Samples < 0 {
		return nil, fmt.Errorf("%w: negative sample count %d", ErrMalformed, w.Samples)
	}
	for id, s := range w.Beacons {
		if id == "" {
			return nil, fmt.Errorf("%w: empty beacon id", ErrMalformed)
		}
		if s.Count < 0 {
			return nil, fmt.Errorf("%w: beacon %s has negative count", ErrMalformed, id)
		}
		if math.IsNaN(s.Mean) || math.IsInf(s.Mean, 0) || math.IsNaN(s.Variance) || math.IsInf(s.Variance, 0) {
			return nil, fmt.Errorf("%w: beacon %s has non-finite statistics", ErrMalformed, id)
		}
		if s.Variance < 0 {
			return nil, fmt.Errorf("%w: beacon %s has negative variance", ErrMalformed, id)
		}
		if s.Count > 0 && (s.Mean < rssi.MinRSSI || s.Mean > rssi.MaxRSSI) {
			return nil, fmt.Errorf("%w: beacon %s mean %.2f outside [%d, %d] dBm",
				ErrMalformed, id, s.Mean, rssi.MinRSSI, rssi.MaxRSSI)
		}
	}
	fp := &Fingerprint{
		id:            uuid.NewString(),
		state:         StateFinalized,
		beacons:       make(map[string]rssi.Summary, len(w.Beacons)),
		sampleCount:   w.Samples,
		sphereID:      w.SphereID,
		locationID:    w.LocationID,
		finalizedAtMs: w.FinalizedAtMs,
	}
	for id, s := range w.Beacons {
		fp.beacons[id] = s
	}
	return fp, nil
}

// MarshalText encodes the fingerprint as JSON. Beacon keys are emitted in
// sorted order so equal fingerprints export identically.
func (f *Fingerprint) MarshalText() ([]byte, error) {
	return json.Marshal(f.wire())
}

// String returns the exported text form, or "" if encoding fails.
func (f *Fingerprint) String() string {
	b, err := f.MarshalText()
	if err != nil {
		return ""
	}
	return string(b)
}

// Parse constructs a finalized Fingerprint from its exported text form.
func Parse(text string) (*Fingerprint, error) {
	if len(text) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	var w wireFingerprint
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return fromWire(w)
}

// MarshalBinary encodes the fingerprint using gob and gzip compression.
func (f *Fingerprint) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(f.wire()); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseBinary decompresses and decodes a fingerprint from a gob+gzip blob.
func ParseBinary(blob []byte) (*Fingerprint, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrMalformed)
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gzip reader: %v", ErrMalformed, err)
	}
	defer gz.Close()

	var w wireFingerprint
	if err := gob.NewDecoder(gz).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: failed to decode fingerprint: %v", ErrMalformed, err)
	}
	return fromWire(w)
}
