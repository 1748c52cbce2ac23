package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mapahead/internal/discover"
	"mapahead/internal/geo"
	"mapahead/internal/model"
	"mapahead/internal/overpass"
	"mapahead/internal/store"
)

type fakeFetcher struct {
	cands map[string][]model.Candidate
}

func (f fakeFetcher) Fetch(_ context.Context, category string, _ geo.BBox) ([]model.Candidate, error) {
	return f.cands[category], nil
}

func newTestServer(t *testing.T, cands map[string][]model.Candidate) *Server {
	t.Helper()
	client := overpass.New(overpass.DefaultCategories())
	return &Server{
		Store:    store.NewMemory(0, -1),
		Broker:   NewBroker(),
		Overpass: client,
		Pipeline: &discover.Pipeline{Fetcher: fakeFetcher{cands: cands}, Display: client.Display},
	}
}

const testGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><trkseg>
    <trkpt lat="47.0" lon="10.0"><ele>500</ele></trkpt>
    <trkpt lat="47.0" lon="10.05"><ele>510</ele></trkpt>
    <trkpt lat="47.0" lon="10.1"><ele>520</ele></trkpt>
  </trkseg></trk>
</gpx>`

func multipartGPX(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func uploadRoute(t *testing.T, s *Server) model.RouteSummary {
	t.Helper()
	body, ctype := multipartGPX(t, "tour.gpx", testGPX)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/upload", body)
	req.Header.Set("Content-Type", ctype)
	s.UploadHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: got %d: %s", rr.Code, rr.Body.String())
	}
	var sum model.RouteSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return sum
}

func TestUploadGPX(t *testing.T) {
	s := newTestServer(t, nil)
	sum := uploadRoute(t, s)
	if sum.RouteID == "" || sum.Filename != "tour.gpx" {
		t.Fatalf("summary: %+v", sum)
	}
	if len(sum.Coordinates) != 3 || len(sum.ElevationProfile) != 3 {
		t.Fatalf("coordinates/profile: %+v", sum)
	}
	if sum.TotalDistanceKm < 7 || sum.TotalDistanceKm > 8 {
		t.Fatalf("total distance: got %.2f, want about 7.6", sum.TotalDistanceKm)
	}
	if sum.ElevationProfile[0].Elevation != 500 || sum.ElevationProfile[0].DistanceKm != 0 {
		t.Fatalf("profile start: %+v", sum.ElevationProfile[0])
	}
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	s := newTestServer(t, nil)
	body, ctype := multipartGPX(t, "tour.fit", testGPX)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/upload", body)
	req.Header.Set("Content-Type", ctype)
	s.UploadHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	s := newTestServer(t, nil)
	body, ctype := multipartGPX(t, "big.gpx", strings.Repeat("x", maxUploadBytes+1))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/upload", body)
	req.Header.Set("Content-Type", ctype)
	s.UploadHandler(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d, want 413", rr.Code)
	}
}

func TestUploadRejectsInvalidGPX(t *testing.T) {
	s := newTestServer(t, nil)
	body, ctype := multipartGPX(t, "broken.gpx", "<gpx><trk><trkseg/></trk></gpx>")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/upload", body)
	req.Header.Set("Content-Type", ctype)
	s.UploadHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestRoutesCreateGetDelete(t *testing.T) {
	s := newTestServer(t, nil)
	body := []byte(`{"filename":"manual","points":[{"lat":47.0,"lon":10.0},{"lat":47.0,"lon":10.1}]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.RoutesHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d: %s", rr.Code, rr.Body.String())
	}
	var sum model.RouteSummary
	_ = json.Unmarshal(rr.Body.Bytes(), &sum)

	rr = httptest.NewRecorder()
	s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes/"+sum.RouteID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/routes/"+sum.RouteID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes/"+sum.RouteID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d", rr.Code)
	}
}

func TestRoutesCreateRejectsShortTrack(t *testing.T) {
	s := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes", strings.NewReader(`{"points":[{"lat":47,"lon":10}]}`))
	s.RoutesHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int)           { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush()                      {}

func TestPOIStreamSSE(t *testing.T) {
	s := newTestServer(t, map[string][]model.Candidate{
		"bakeries": {{Lat: 47.0005, Lon: 10.05, Name: "Backstube", Category: "bakeries"}},
	})
	sum := uploadRoute(t, s)

	// A passive watcher sees the same events through the broker.
	watch := s.Broker.Subscribe(sum.RouteID)
	defer s.Broker.Unsubscribe(sum.RouteID, watch)

	rec := &sseRecorder{}
	req := httptest.NewRequest(http.MethodGet, "/v1/routes/"+sum.RouteID+"/pois/stream?types=bakeries", nil)
	s.RouteByIDHandler(rec, req)

	out := rec.buf.String()
	for _, want := range []string{"event: heartbeat", "event: progress", "event: poi_batch", "event: complete", "Backstube"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stream missing %q:\n%s", want, out)
		}
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type: %q", rec.Header().Get("Content-Type"))
	}

	select {
	case evt := <-watch:
		if evt.Type != discover.EventProgress {
			t.Fatalf("first broker event: %+v", evt)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("broker saw no events")
	}
}

func TestPOIStreamUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)
	rec := &sseRecorder{}
	s.RouteByIDHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/nope/pois/stream", nil))
	if rec.code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.code)
	}
}

func TestPOIStreamSettingsOverride(t *testing.T) {
	s := newTestServer(t, map[string][]model.Candidate{
		"bakeries": {{Lat: 47.0185, Lon: 10.05, Name: "Off the beaten path", Category: "bakeries"}},
	})
	sum := uploadRoute(t, s)

	// Roughly 2 km off the track: dropped with the defaults, kept with a
	// per-category override.
	rec := &sseRecorder{}
	req := httptest.NewRequest(http.MethodGet, "/v1/routes/"+sum.RouteID+"/pois/stream?types=bakeries", nil)
	s.RouteByIDHandler(rec, req)
	if strings.Contains(rec.buf.String(), "Off the beaten path") {
		t.Fatalf("default threshold should drop the candidate:\n%s", rec.buf.String())
	}

	rec = &sseRecorder{}
	settings := `{"bakeries":{"maxDeviationKm":3.0,"dedupRadiusKm":1.0}}`
	req = httptest.NewRequest(http.MethodGet,
		"/v1/routes/"+sum.RouteID+"/pois/stream?types=bakeries&settings="+
			strings.ReplaceAll(settings, " ", ""), nil)
	s.RouteByIDHandler(rec, req)
	if !strings.Contains(rec.buf.String(), "Off the beaten path") {
		t.Fatalf("override should keep the candidate:\n%s", rec.buf.String())
	}
}

func TestExportGPX(t *testing.T) {
	s := newTestServer(t, nil)
	sum := uploadRoute(t, s)

	body := `{"mode":"normal","pois":[{"lat":47.0005,"lon":10.05,"name":"Backstube","category":"bakeries","distanceToRouteKm":0.056,"distanceOnRouteKm":3.8}]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/"+sum.RouteID+"/export/gpx", strings.NewReader(body))
	s.RouteByIDHandler(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("export: got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "tour_with_pois.gpx") {
		t.Fatalf("disposition: %q", got)
	}
	if !strings.Contains(rr.Body.String(), "<wpt") || !strings.Contains(rr.Body.String(), "<trkpt") {
		t.Fatalf("gpx body:\n%s", rr.Body.String())
	}
}

func TestExportKML(t *testing.T) {
	s := newTestServer(t, nil)
	sum := uploadRoute(t, s)

	body := `{"routeName":"Alpine Tour","pois":[{"lat":47.0005,"lon":10.05,"name":"Shell","category":"gas_stations","distanceOnRouteKm":4.0}]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/"+sum.RouteID+"/export/kml", strings.NewReader(body))
	s.RouteByIDHandler(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("export: got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "Alpine Tour with POIs") {
		t.Fatalf("kml body:\n%s", rr.Body.String())
	}
}

func TestExportUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/nope/export/gpx", strings.NewReader(`{}`))
	s.RouteByIDHandler(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestWSStreamsBrokerEvents(t *testing.T) {
	s := newTestServer(t, nil)
	sum := uploadRoute(t, s)

	srv := httptest.NewServer(http.HandlerFunc(s.WSHandler))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?routeId=" + sum.RouteID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "ack" {
		t.Fatalf("ack: %+v err=%v", ack, err)
	}

	// Give the handler time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(sum.RouteID, discover.Event{Type: discover.EventComplete, Total: 7})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.Type != discover.EventComplete || msg.Event.Total != 7 {
		t.Fatalf("event: %+v", msg)
	}
}
