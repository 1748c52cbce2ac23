package overpass

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mapahead/internal/geo"
)

var testBox = geo.BBox{South: 46.9, West: 9.9, North: 47.1, East: 10.2}

func testCategories() map[string]Category {
	return map[string]Category{
		"bakeries": {
			Display:     "Bakeries",
			DefaultName: "Unnamed Bakery",
			Query:       `node["shop"="bakery"]({south},{west},{north},{east});`,
		},
	}
}

func fastOptions(endpoints ...string) []Option {
	return []Option{
		WithEndpoints(endpoints...),
		WithMaxRetries(2),
		WithBackoffBase(time.Millisecond),
		WithAttemptTimeout(time.Second, 0),
		WithQueryInterval(0),
	}
}

const sampleResponse = `{"elements":[
  {"type":"node","id":1,"lat":47.0005,"lon":10.05,"tags":{"name":"Backstube","shop":"bakery","opening_hours":"Mo-Fr 06:00-18:00","website":"https://backstube.example"}},
  {"type":"way","id":2,"center":{"lat":47.001,"lon":10.06},"tags":{"shop":"bakery"}}
]}`

func TestFetchParsesNodesAndWayCenters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		q := r.PostFormValue("data")
		if !strings.Contains(q, "[out:json]") || !strings.Contains(q, "out center;") {
			t.Errorf("query missing envelope: %q", q)
		}
		if !strings.Contains(q, "(46.9,9.9,47.1,10.2)") {
			t.Errorf("query missing bbox: %q", q)
		}
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := New(testCategories(), fastOptions(srv.URL)...)
	cands, err := c.Fetch(context.Background(), "bakeries", testBox)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(cands))
	}
	if cands[0].Name != "Backstube" || cands[0].OpeningHours != "Mo-Fr 06:00-18:00" || cands[0].URL != "https://backstube.example" {
		t.Fatalf("node candidate metadata: %+v", cands[0])
	}
	if cands[0].MapsLink == "" {
		t.Fatal("maps link missing")
	}
	if cands[1].Lat != 47.001 || cands[1].Lon != 10.06 {
		t.Fatalf("way center coordinates: %+v", cands[1])
	}
	if cands[1].Name != "Unnamed Bakery" {
		t.Fatalf("default name: got %q", cands[1].Name)
	}
}

func TestFetchSkipsMalformedElements(t *testing.T) {
	body := `{"elements":[
	  {"type":"node","id":1,"lat":47.0,"lon":10.0,"tags":{"name":"ok"}},
	  {"type":"node","id":2,"tags":{"name":"no coords"}},
	  {"type":"way","id":3,"tags":{"name":"no center"}}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(testCategories(), fastOptions(srv.URL)...)
	cands, err := c.Fetch(context.Background(), "bakeries", testBox)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(cands) != 1 || cands[0].Name != "ok" {
		t.Fatalf("candidates: %+v", cands)
	}
}

func TestFetchFallsBackToSecondEndpoint(t *testing.T) {
	var firstCalls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer good.Close()

	c := New(testCategories(), fastOptions(bad.URL, good.URL)...)
	cands, err := c.Fetch(context.Background(), "bakeries", testBox)
	if err != nil {
		t.Fatalf("Fetch should succeed via fallback: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(cands))
	}
	if got := firstCalls.Load(); got != 2 {
		t.Fatalf("first endpoint attempts: got %d, want 2 (maxRetries)", got)
	}
}

func TestFetchTimeoutFallsBack(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer slow.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer good.Close()

	c := New(testCategories(),
		WithEndpoints(slow.URL, good.URL),
		WithMaxRetries(1),
		WithBackoffBase(time.Millisecond),
		WithAttemptTimeout(50*time.Millisecond, 0),
		WithQueryInterval(0),
	)
	cands, err := c.Fetch(context.Background(), "bakeries", testBox)
	if err != nil {
		t.Fatalf("Fetch should fall back past timing-out mirror: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(cands))
	}
}

func TestFetchAllEndpointsExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testCategories(), fastOptions(srv.URL, srv.URL)...)
	_, err := c.Fetch(context.Background(), "bakeries", testBox)
	if !errors.Is(err, ErrAllEndpointsExhausted) {
		t.Fatalf("got %v, want ErrAllEndpointsExhausted", err)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("total attempts: got %d, want 4 (2 endpoints x 2 retries)", got)
	}
}

func TestFetchBadRequestSkipsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(testCategories(), fastOptions(srv.URL)...)
	_, err := c.Fetch(context.Background(), "bakeries", testBox)
	if !errors.Is(err, ErrAllEndpointsExhausted) {
		t.Fatalf("got %v, want ErrAllEndpointsExhausted", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("bad request must not be retried: got %d attempts", got)
	}
}

func TestFetchGarbageBodySkipsEndpoint(t *testing.T) {
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer garbage.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer good.Close()

	c := New(testCategories(), fastOptions(garbage.URL, good.URL)...)
	cands, err := c.Fetch(context.Background(), "bakeries", testBox)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(cands))
	}
}

func TestFetchUnknownCategory(t *testing.T) {
	c := New(testCategories(), fastOptions("http://unused.invalid")...)
	_, err := c.Fetch(context.Background(), "libraries", testBox)
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("got %v, want ErrUnknownCategory", err)
	}
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(testCategories(), fastOptions(srv.URL)...)
	if _, err := c.Fetch(ctx, "bakeries", testBox); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestDefaultCategoriesTable(t *testing.T) {
	cats := DefaultCategories()
	for _, want := range []string{
		"public_toilets", "bakeries", "gas_stations", "grocery_stores", "water_fountains",
		"bicycle_shops", "bicycle_vending", "vending_machines", "camping_hotels", "sport_areas",
	} {
		c, ok := cats[want]
		if !ok {
			t.Fatalf("missing category %q", want)
		}
		if !strings.Contains(c.Query, "{south}") || c.DefaultName == "" {
			t.Fatalf("category %q incomplete: %+v", want, c)
		}
	}
	if names := CategoryNames(cats); len(names) != len(cats) {
		t.Fatalf("CategoryNames length mismatch")
	}
}

func TestExtractPriceRange(t *testing.T) {
	cases := []struct {
		name string
		tags map[string]string
		want string
	}{
		{"per person fee", map[string]string{"fee:per_person": "€10"}, "€10 per person"},
		{"free", map[string]string{"fee": "no"}, "Free"},
		{"range", map[string]string{"price": "10-20"}, "€10-20"},
		{"hotel single price", map[string]string{"price": "80", "tourism": "hotel"}, "€80 per night"},
		{"stars", map[string]string{"stars": "4", "tourism": "hotel"}, "Expensive"},
		{"hostel default", map[string]string{"tourism": "hostel"}, "Budget"},
		{"fee yes", map[string]string{"fee": "yes"}, "Fee required"},
		{"nothing", map[string]string{}, ""},
	}
	for _, tc := range cases {
		if got := extractPriceRange(tc.tags); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
