package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rssi.locate/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachAdminRoutes mounts the fingerprint chart under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("fingerprint-chart", "Mean rssi per beacon of stored fingerprints", s.handleFingerprintChart)
}

// handleFingerprintChart renders one bar series per location of a sphere,
// with beacons along the x axis. Beacons a location never heard are left
// as gaps. ?sphere= selects the sphere; it defaults to the active sphere,
// then to the first stored one.
func (s *Server) handleFingerprintChart(w http.ResponseWriter, r *http.Request) {
	sphereID := r.URL.Query().Get("sphere")
	if sphereID == "" {
		sphereID = s.engine.Sphere()
	}
	if sphereID == "" {
		if spheres := s.engine.Spheres(); len(spheres) > 0 {
			sphereID = spheres[0]
		}
	}
	entries := s.engine.Fingerprints(sphereID)
	if len(entries) == 0 {
		httputil.NotFound(w, "no fingerprints stored")
		return
	}

	seen := make(map[string]bool)
	var beacons []string
	for _, e := range entries {
		for _, id := range e.Fingerprint.BeaconIDs() {
			if !seen[id] {
				seen[id] = true
				beacons = append(beacons, id)
			}
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fingerprints", Width: "100%", Height: "720px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Fingerprints", Subtitle: fmt.Sprintf("sphere=%s locations=%d beacons=%d", sphereID, len(entries), len(beacons))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mean rssi (dBm)", Min: -127, Max: 0}),
	)
	bar.SetXAxis(beacons)
	for _, e := range entries {
		data := make([]opts.BarData, len(beacons))
		for i, id := range beacons {
			if sum, ok := e.Fingerprint.Beacon(id); ok && sum.Count > 0 {
				data[i] = opts.BarData{Value: sum.Mean}
			} else {
				data[i] = opts.BarData{Value: "-"}
			}
		}
		bar.AddSeries(e.LocationID, data)
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
