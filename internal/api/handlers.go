package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mapahead/internal/buildinfo"
	"mapahead/internal/discover"
	"mapahead/internal/gpx"
	"mapahead/internal/kml"
	"mapahead/internal/model"
	"mapahead/internal/overpass"
	"mapahead/internal/store"
)

// maxUploadBytes caps GPX uploads at 2 MB.
const maxUploadBytes = 2 << 20

const heartbeatInterval = 15 * time.Second

// UploadHandler handles POST /v1/routes/upload (multipart GPX upload).
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "File too large",
				fmt.Sprintf("maximum upload size is %d MB", maxUploadBytes>>20), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusBadRequest, "Invalid multipart request", err.Error(), r.URL.Path)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Missing file", "multipart field 'file' required", r.URL.Path)
		return
	}
	defer func() { _ = file.Close() }()

	if !strings.HasSuffix(strings.ToLower(hdr.Filename), ".gpx") {
		writeProblem(w, http.StatusBadRequest, "Invalid file type", "please upload a .gpx file", r.URL.Path)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
		return
	}
	if len(data) == 0 {
		writeProblem(w, http.StatusBadRequest, "Empty file", "the uploaded file is empty", r.URL.Path)
		return
	}

	points, err := gpx.Parse(data)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid GPX file", err.Error(), r.URL.Path)
		return
	}
	id, err := s.Store.Put(points, hdr.Filename)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRoute) {
			writeProblem(w, http.StatusBadRequest, "Invalid route", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Store failed", err.Error(), r.URL.Path)
		return
	}
	entry, err := s.Store.Get(id)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, routeSummary(entry))
}

// RoutesHandler handles POST /v1/routes (JSON track upload).
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Filename string             `json:"filename"`
		Points   []model.RoutePoint `json:"points"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	id, err := s.Store.Put(req.Points, req.Filename)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRoute) {
			writeProblem(w, http.StatusBadRequest, "Invalid route", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Store failed", err.Error(), r.URL.Path)
		return
	}
	entry, err := s.Store.Get(id)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, routeSummary(entry))
}

// RouteByIDHandler dispatches /v1/routes/{id} and its subresources:
// /pois/stream, /export/gpx and /export/kml.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing route id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			entry, err := s.Store.Get(id)
			if err != nil {
				writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
				return
			}
			writeJSON(w, http.StatusOK, routeSummary(entry))
		case http.MethodDelete:
			if !s.Store.Evict(id) {
				writeProblem(w, http.StatusNotFound, "Route not found", "", r.URL.Path)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[1] == "pois" && parts[2] == "stream":
		s.streamPOIs(w, r, id)
	case len(parts) == 3 && parts[1] == "export" && parts[2] == "gpx":
		s.exportGPX(w, r, id)
	case len(parts) == 3 && parts[1] == "export" && parts[2] == "kml":
		s.exportKML(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// streamPOIs handles GET /v1/routes/{id}/pois/stream: runs a discovery over
// the route and streams its events as SSE, with heartbeats so idle proxies
// keep the connection open. Events are also fanned out through the broker
// for passive watchers of the same route.
func (s *Server) streamPOIs(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entry, err := s.Store.Get(id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}

	dreq := s.discoveryRequest(r)
	events, err := s.Pipeline.Run(r.Context(), entry.Index, dreq)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid discovery request", err.Error(), r.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeHeartbeat(w, flusher, id)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, flusher, ev)
			s.Broker.Publish(id, ev)
		case <-time.After(heartbeatInterval):
			writeHeartbeat(w, flusher, id)
		}
	}
}

// discoveryRequest reads the stream query parameters: types (comma lists,
// may repeat; empty means every category), maxDistanceKm and dedupRadiusKm
// as request-wide fallbacks, and settings as per-category JSON overrides.
func (s *Server) discoveryRequest(r *http.Request) discover.Request {
	q := r.URL.Query()

	var categories []string
	for _, v := range q["types"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, c)
			}
		}
	}
	if len(categories) == 0 {
		categories = overpass.CategoryNames(s.Overpass.Categories())
	}

	fallback := model.DefaultCategorySettings
	if v, err := strconv.ParseFloat(q.Get("maxDistanceKm"), 64); err == nil && v > 0 {
		fallback.MaxDeviationKm = v
	}
	if v, err := strconv.ParseFloat(q.Get("dedupRadiusKm"), 64); err == nil && v >= 0 {
		fallback.DedupRadiusKm = v
	}

	overrides := map[string]model.CategorySettings{}
	if raw := q.Get("settings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			log.Printf("ignoring invalid settings parameter: %v", err)
			overrides = map[string]model.CategorySettings{}
		}
	}

	settings := make(map[string]model.CategorySettings, len(categories))
	for _, c := range categories {
		cs := fallback
		if o, ok := overrides[c]; ok {
			if o.MaxDeviationKm > 0 {
				cs.MaxDeviationKm = o.MaxDeviationKm
			}
			if o.DedupRadiusKm >= 0 {
				cs.DedupRadiusKm = o.DedupRadiusKm
			}
		}
		settings[c] = cs
	}
	return discover.Request{Categories: categories, Settings: settings}
}

func writeSSE(w io.Writer, flusher http.Flusher, ev discover.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeHeartbeat(w io.Writer, flusher http.Flusher, id string) {
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", id, time.Now().Format(time.RFC3339))
	flusher.Flush()
}

type exportRequest struct {
	POIs      []model.POI `json:"pois"`
	Mode      string      `json:"mode"`
	RouteName string      `json:"routeName"`
}

// exportGPX handles POST /v1/routes/{id}/export/gpx. The body carries the
// POIs to embed as waypoints; mode "garmin" (the default) snaps them onto
// the track, "normal" keeps their own coordinates.
func (s *Server) exportGPX(w http.ResponseWriter, r *http.Request, id string) {
	entry, req, ok := s.exportSetup(w, r, id)
	if !ok {
		return
	}
	data, err := gpx.Generate(entry.Index, req.POIs, exportName(entry, req), req.Mode != "normal")
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Export failed", err.Error(), r.URL.Path)
		return
	}
	serveAttachment(w, data, "application/gpx+xml", baseFilename(entry.Filename)+"_with_pois.gpx")
}

// exportKML handles POST /v1/routes/{id}/export/kml.
func (s *Server) exportKML(w http.ResponseWriter, r *http.Request, id string) {
	entry, req, ok := s.exportSetup(w, r, id)
	if !ok {
		return
	}
	data, err := kml.Generate(entry.Index, req.POIs, exportName(entry, req))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Export failed", err.Error(), r.URL.Path)
		return
	}
	serveAttachment(w, data, "application/vnd.google-earth.kml+xml", baseFilename(entry.Filename)+"_with_pois.kml")
}

func (s *Server) exportSetup(w http.ResponseWriter, r *http.Request, id string) (*store.Entry, exportRequest, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, exportRequest{}, false
	}
	entry, err := s.Store.Get(id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		return nil, exportRequest{}, false
	}
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return nil, exportRequest{}, false
	}
	return entry, req, true
}

func exportName(entry *store.Entry, req exportRequest) string {
	if req.RouteName != "" {
		return req.RouteName
	}
	return baseFilename(entry.Filename)
}

func baseFilename(filename string) string {
	name := strings.TrimSuffix(filename, ".gpx")
	if name == "" {
		name = "route"
	}
	return name
}

func serveAttachment(w http.ResponseWriter, data []byte, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func routeSummary(entry *store.Entry) model.RouteSummary {
	pts := entry.Index.Points()
	profile := make([]model.ElevationSample, len(pts))
	for i, p := range pts {
		profile[i] = model.ElevationSample{
			DistanceKm: math.Round(p.DistanceKm*1000) / 1000,
			Elevation:  p.Elevation,
		}
	}
	return model.RouteSummary{
		RouteID:          entry.ID,
		Filename:         entry.Filename,
		Coordinates:      pts,
		ElevationProfile: profile,
		TotalDistanceKm:  math.Round(entry.Index.TotalLength()*100) / 100,
	}
}

// HealthHandler handles GET /healthz.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

// ReadyHandler handles GET /readyz.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "routes": s.Store.Len()})
}
