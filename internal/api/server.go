package api

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"mapahead/internal/discover"
	"mapahead/internal/overpass"
	"mapahead/internal/store"
)

type Server struct {
	Store    store.Store
	Broker   EventBroker
	Overpass *overpass.Client
	Pipeline *discover.Pipeline
}

// NewServer assembles a Server from the environment: OVERPASS_ENDPOINTS,
// OVERPASS_MAX_RETRIES, CATEGORY_CONFIG, ROUTE_STORE_CAPACITY,
// ROUTE_STORE_TTL, DISCOVERY_WORKERS and REDIS_URL. Everything has a
// default; an empty environment yields a working single-process server.
func NewServer() (*Server, error) {
	cats, err := overpass.LoadCategories(os.Getenv("CATEGORY_CONFIG"))
	if err != nil {
		return nil, err
	}

	var opts []overpass.Option
	if v := os.Getenv("OVERPASS_ENDPOINTS"); strings.TrimSpace(v) != "" {
		var endpoints []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
		opts = append(opts, overpass.WithEndpoints(endpoints...))
	}
	if n, _ := strconv.Atoi(os.Getenv("OVERPASS_MAX_RETRIES")); n > 0 {
		opts = append(opts, overpass.WithMaxRetries(n))
	}
	client := overpass.New(cats, opts...)

	capacity := 0
	if n, _ := strconv.Atoi(os.Getenv("ROUTE_STORE_CAPACITY")); n > 0 {
		capacity = n
	}
	var ttl time.Duration
	if v := os.Getenv("ROUTE_STORE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("invalid ROUTE_STORE_TTL %q, using default", v)
		} else {
			ttl = d
		}
	}

	// Broker selection: Redis fans events out to watchers on other
	// instances, the in-memory broker covers the single-process case.
	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		rb, err := NewRedisBroker()
		if err != nil {
			log.Printf("redis broker unavailable, falling back to in-memory: %v", err)
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}

	workers := 0
	if n, _ := strconv.Atoi(os.Getenv("DISCOVERY_WORKERS")); n > 0 {
		workers = n
	}

	return &Server{
		Store:    store.NewMemory(capacity, ttl),
		Broker:   broker,
		Overpass: client,
		Pipeline: &discover.Pipeline{Fetcher: client, Display: client.Display, Workers: workers},
	}, nil
}
