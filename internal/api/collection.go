package api

import (
	"net/http"

	"github.com/banshee-data/rssi.locate/internal/fingerprint"
	"github.com/banshee-data/rssi.locate/internal/httputil"
)

// statusCode maps a collector outcome onto an HTTP status.
func statusCode(st fingerprint.Status) int {
	switch st {
	case fingerprint.StatusOK:
		return http.StatusOK
	case fingerprint.StatusInvalidRSSI, fingerprint.StatusInvalidBeacon:
		return http.StatusBadRequest
	case fingerprint.StatusUnknownHandle:
		return http.StatusNotFound
	case fingerprint.StatusTooManyHandles:
		return http.StatusTooManyRequests
	default:
		return http.StatusConflict
	}
}

type statusResult struct {
	Status string `json:"status"`
}

func writeStatus(w http.ResponseWriter, st fingerprint.Status) {
	if !st.OK() {
		httputil.WriteJSONError(w, statusCode(st), st.String())
		return
	}
	httputil.WriteJSONOK(w, statusResult{Status: st.String()})
}

// resolveHandle looks up an explicit handle. The empty id selects the
// default collection and yields a nil fingerprint.
func (s *Server) resolveHandle(w http.ResponseWriter, id string) (*fingerprint.Fingerprint, bool) {
	if id == "" {
		return nil, true
	}
	fp, ok := s.engine.Handle(id)
	if !ok {
		httputil.NotFound(w, fingerprint.StatusUnknownHandle.String())
		return nil, false
	}
	return fp, true
}

func (s *Server) startCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	writeStatus(w, s.engine.StartFingerprint())
}

func (s *Server) abortCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	writeStatus(w, s.engine.AbortFingerprint())
}

type measurementRequest struct {
	RSSI        *int   `json:"rssi"`
	BeaconID    string `json:"id"`
	TimestampMs *int64 `json:"ts,omitempty"`
	Handle      string `json:"handle,omitempty"`
}

func (s *Server) feedCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req measurementRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.RSSI == nil {
		httputil.BadRequest(w, "missing rssi")
		return
	}
	fp, ok := s.resolveHandle(w, req.Handle)
	if !ok {
		return
	}
	writeStatus(w, s.engine.FeedMeasurement(*req.RSSI, req.BeaconID, req.TimestampMs, fp))
}

type handleRequest struct {
	Handle string `json:"handle,omitempty"`
}

func (s *Server) sampleCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req handleRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	fp, ok := s.resolveHandle(w, req.Handle)
	if !ok {
		return
	}
	writeStatus(w, s.engine.CreateFingerprintSample(fp))
}

type finalizeRequest struct {
	SphereID   string `json:"sphere_id"`
	LocationID string `json:"location_id"`
	Handle     string `json:"handle,omitempty"`
}

func (s *Server) finalizeCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req finalizeRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.SphereID == "" || req.LocationID == "" {
		httputil.BadRequest(w, "sphere_id and location_id are required")
		return
	}
	fp, ok := s.resolveHandle(w, req.Handle)
	if !ok {
		return
	}
	writeStatus(w, s.engine.FinalizeFingerprint(req.SphereID, req.LocationID, fp))
}

// createHandle opens an explicit collection alongside the default one.
func (s *Server) createHandle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	fp, st := s.engine.NewFingerprint()
	if !st.OK() {
		writeStatus(w, st)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, handleRequest{Handle: fp.ID()})
}

func (s *Server) handleHandle(w http.ResponseWriter, r *http.Request) {
	fp, ok := s.engine.Handle(r.PathValue("id"))
	if !ok {
		httputil.NotFound(w, fingerprint.StatusUnknownHandle.String())
		return
	}
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, map[string]any{
			"handle":  fp.ID(),
			"state":   fp.State(),
			"samples": fp.SampleCount(),
			"pending": fp.Pending(),
			"beacons": fp.BeaconIDs(),
		})
	case http.MethodDelete:
		writeStatus(w, s.engine.DiscardFingerprint(fp))
	default:
		httputil.MethodNotAllowed(w)
	}
}
