package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"mapahead/internal/buildinfo"
)

// DebugJSON handles GET /v1/debug: build info plus the effective
// environment knobs, for poking at a running instance.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"routes": s.Store.Len(),
		"config": map[string]any{
			"PORT":                 os.Getenv("PORT"),
			"OVERPASS_ENDPOINTS":   os.Getenv("OVERPASS_ENDPOINTS"),
			"OVERPASS_MAX_RETRIES": os.Getenv("OVERPASS_MAX_RETRIES"),
			"CATEGORY_CONFIG":      os.Getenv("CATEGORY_CONFIG"),
			"ROUTE_STORE_CAPACITY": os.Getenv("ROUTE_STORE_CAPACITY"),
			"ROUTE_STORE_TTL":      os.Getenv("ROUTE_STORE_TTL"),
			"DISCOVERY_WORKERS":    os.Getenv("DISCOVERY_WORKERS"),
			"HAS_REDIS_URL":        os.Getenv("REDIS_URL") != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
