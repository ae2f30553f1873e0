package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/httputil"
	"github.com/banshee-data/rssi.locate/internal/localization"
	"github.com/banshee-data/rssi.locate/internal/rssi"
)

// fingerprintView is the listing form of a stored fingerprint.
type fingerprintView struct {
	SphereID      string                  `json:"sphere_id"`
	LocationID    string                  `json:"location_id"`
	Seq           uint64                  `json:"seq"`
	Samples       int                     `json:"samples"`
	FinalizedAtMs int64                   `json:"finalized_at_ms"`
	Beacons       map[string]rssi.Summary `json:"beacons"`
}

func viewOf(e fingerprint.Entry) fingerprintView {
	return fingerprintView{
		SphereID:      e.SphereID,
		LocationID:    e.LocationID,
		Seq:           e.Seq,
		Samples:       e.Fingerprint.SampleCount(),
		FinalizedAtMs: e.Fingerprint.FinalizedAtMs(),
		Beacons:       e.Fingerprint.Beacons(),
	}
}

func (s *Server) sphereViews(sphereID string) []fingerprintView {
	entries := s.engine.Fingerprints(sphereID)
	out := make([]fingerprintView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewOf(e))
	}
	return out
}

// handleFingerprints lists every stored fingerprint (GET) or clears the
// store (DELETE).
func (s *Server) handleFingerprints(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		out := []fingerprintView{}
		for _, sphereID := range s.engine.Spheres() {
			out = append(out, s.sphereViews(sphereID)...)
		}
		httputil.WriteJSONOK(w, out)
	case http.MethodDelete:
		httputil.WriteJSONOK(w, map[string]int{"removed": s.engine.Clear()})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleSphereFingerprints(w http.ResponseWriter, r *http.Request) {
	sphereID := r.PathValue("sphere")
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.sphereViews(sphereID))
	case http.MethodDelete:
		httputil.WriteJSONOK(w, map[string]int{"removed": s.engine.RemoveFingerprints(sphereID)})
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleFingerprint exports (GET), imports (PUT) or removes (DELETE) one
// fingerprint. GET and PUT bodies are the exported text form.
func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	sphereID, locationID := r.PathValue("sphere"), r.PathValue("location")
	switch r.Method {
	case http.MethodGet:
		fp, ok := s.engine.GetFingerprint(sphereID, locationID)
		if !ok {
			httputil.NotFound(w, "fingerprint not found")
			return
		}
		text, err := fp.MarshalText()
		if err != nil {
			httputil.InternalServerError(w, "failed to export fingerprint")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(append(text, '\n'))
	case http.MethodPut:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
		if err != nil {
			httputil.BadRequest(w, "failed to read request body")
			return
		}
		fp, err := fingerprint.Parse(string(body))
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.engine.ImportFingerprint(sphereID, locationID, fp); err != nil {
			if errors.Is(err, localization.ErrNotFinalized) {
				httputil.BadRequest(w, err.Error())
				return
			}
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{
			"sphere_id":   sphereID,
			"location_id": locationID,
			"beacons":     fp.BeaconIDs(),
		})
	case http.MethodDelete:
		// Removing an absent fingerprint is not an error.
		s.engine.RemoveFingerprint(sphereID, locationID)
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}
