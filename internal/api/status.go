package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/rssi.locate/internal/httputil"
	"github.com/banshee-data/rssi.locate/internal/version"
)

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		Status:  s.engine.Status(),
		Version: version.Version,
		GitSHA:  version.GitSHA,
	})
}

func (s *Server) listSpheres(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	spheres := s.engine.Spheres()
	if spheres == nil {
		spheres = []string{}
	}
	httputil.WriteJSONOK(w, spheres)
}

type sphereRequest struct {
	SphereID string `json:"sphere_id"`
}

// handleSphere reads or sets the sphere classification is restricted to.
func (s *Server) handleSphere(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, sphereRequest{SphereID: s.engine.Sphere()})
	case http.MethodPut, http.MethodPost:
		var req sphereRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		s.engine.SetSphere(req.SphereID)
		httputil.WriteJSONOK(w, req)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showScanner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.scanner == nil {
		httputil.NotFound(w, "no scanner attached")
		return
	}
	httputil.WriteJSONOK(w, s.scanner.Values())
}

// intParam parses an optional positive integer query parameter.
func intParam(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
