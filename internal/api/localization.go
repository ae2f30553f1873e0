package api

import (
	"net/http"

	"github.com/banshee-data/rssi.locate/internal/httputil"
	"github.com/banshee-data/rssi.locate/internal/localization"
)

func (s *Server) track(w http.ResponseWriter, r *http.Request) {
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
	accepted := s.engine.Track(*req.RSSI, req.BeaconID, req.TimestampMs)
	httputil.WriteJSONOK(w, map[string]bool{"accepted": accepted})
}

func (s *Server) startLocalization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.engine.StartLocalization(s.callback)
	httputil.WriteJSONOK(w, map[string]bool{"localizing": true})
}

func (s *Server) stopLocalization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.engine.StopLocalization()
	httputil.WriteJSONOK(w, map[string]bool{"localizing": false})
}

// showLocation returns the latest update for ?sphere=, or the latest update
// of every sphere when it is omitted.
func (s *Server) showLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sphereID := r.URL.Query().Get("sphere")
	if sphereID == "" {
		updates := s.engine.Status().LastUpdates
		if updates == nil {
			updates = []localization.LocationUpdate{}
		}
		httputil.WriteJSONOK(w, updates)
		return
	}
	u, ok := s.engine.LastUpdate(sphereID)
	if !ok {
		httputil.NotFound(w, "no location for sphere")
		return
	}
	httputil.WriteJSONOK(w, u)
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "location history is not recorded")
		return
	}
	sphereID := r.URL.Query().Get("sphere")
	if sphereID == "" {
		httputil.BadRequest(w, "missing sphere")
		return
	}
	limit, ok := intParam(r, "limit", 100)
	if !ok {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return
	}
	records, err := s.history.RecentLocations(sphereID, limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve location history")
		return
	}
	httputil.WriteJSONOK(w, records)
}
