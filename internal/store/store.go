// Package store keeps uploaded routes in a keyed, concurrency-safe registry.
package store

import (
	"errors"
	"time"

	"mapahead/internal/model"
	"mapahead/internal/route"
)

// ErrNotFound is returned when a route id is unknown or already evicted.
var ErrNotFound = errors.New("route not found")

// Entry is one stored route. The index is read-only; the filename survives
// so exports can name their output after the upload.
type Entry struct {
	ID        string
	Index     *route.Index
	Filename  string
	CreatedAt time.Time
}

// Store is the route registry used by the API server. Put validates and
// indexes the samples; Get is safe for many concurrent readers.
type Store interface {
	Put(points []model.RoutePoint, filename string) (string, error)
	Get(id string) (*Entry, error)
	Evict(id string) bool
	Len() int
}

// route.ErrInvalidRoute surfaces unchanged from Put; re-exported here so
// callers need not import the route package for error checks.
var ErrInvalidRoute = route.ErrInvalidRoute
