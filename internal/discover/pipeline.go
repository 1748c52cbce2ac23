// Package discover turns raw geodata candidates into a stream of
// route-relative POI events: classification against the track, per-category
// deduplication and incremental delivery.
package discover

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"mapahead/internal/geo"
	"mapahead/internal/metrics"
	"mapahead/internal/model"
	"mapahead/internal/route"
)

// ErrNoCategories is returned when a request names no categories.
var ErrNoCategories = errors.New("no categories requested")

// DefaultWorkers bounds concurrent category fetches.
const DefaultWorkers = 4

// Fetcher yields raw candidates for one category within a bounding box.
type Fetcher interface {
	Fetch(ctx context.Context, category string, box geo.BBox) ([]model.Candidate, error)
}

// Request describes one discovery run over a route.
type Request struct {
	Categories []string
	// Settings overrides per category; missing entries fall back to the
	// defaults, as do non-positive deviation values.
	Settings map[string]model.CategorySettings
}

func (r Request) settings(category string) model.CategorySettings {
	s, ok := r.Settings[category]
	if !ok {
		return model.DefaultCategorySettings
	}
	if s.MaxDeviationKm <= 0 {
		s.MaxDeviationKm = model.DefaultCategorySettings.MaxDeviationKm
	}
	if s.DedupRadiusKm < 0 {
		s.DedupRadiusKm = model.DefaultCategorySettings.DedupRadiusKm
	}
	return s
}

// Pipeline runs discovery requests. Display, when set, maps category keys to
// human-readable labels for stream events.
type Pipeline struct {
	Fetcher Fetcher
	Display func(category string) string
	Workers int
}

// Run starts a discovery over the indexed track and returns the event
// stream. Categories are fetched concurrently under a worker bound; each
// emits a progress event before its fetch and either a poi_batch of
// classified results or an error event after. One category failing never
// aborts the others. When every category is done the accumulated results are
// deduplicated per category, merged, ordered by position along the track and
// emitted as a single terminal complete event. The channel is closed when
// the run ends or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, ix *route.Index, req Request) (<-chan Event, error) {
	if len(req.Categories) == 0 {
		return nil, ErrNoCategories
	}
	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	// One query envelope covers every category: the track envelope grown by
	// the largest requested deviation.
	maxDev := 0.0
	for _, c := range req.Categories {
		if s := req.settings(c); s.MaxDeviationKm > maxDev {
			maxDev = s.MaxDeviationKm
		}
	}
	box := ix.Envelope().Expand(maxDev)

	events := make(chan Event, workers)
	go func() {
		defer close(events)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			mu         sync.Mutex
			classified = make(map[string][]model.POI, len(req.Categories))
			failures   int
		)
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for i, category := range req.Categories {
			wg.Add(1)
			go func(i int, category string) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return
				}

				display := p.display(category)
				if !send(Event{
					Type:            EventProgress,
					Category:        category,
					CategoryDisplay: display,
					Current:         i + 1,
					Total:           len(req.Categories),
				}) {
					return
				}

				s := req.settings(category)
				cands, err := p.Fetcher.Fetch(ctx, category, box)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("discover: category %s failed: %v", category, err)
					mu.Lock()
					failures++
					mu.Unlock()
					send(Event{Type: EventError, Category: category, CategoryDisplay: display, Message: err.Error()})
					return
				}

				pois := make([]model.POI, 0, len(cands))
				for _, cand := range cands {
					if poi, ok := Classify(cand, ix, s.MaxDeviationKm); ok {
						pois = append(pois, poi)
					}
				}

				mu.Lock()
				classified[category] = append(classified[category], pois...)
				mu.Unlock()
				send(Event{Type: EventBatch, Category: category, CategoryDisplay: display, POIs: pois})
			}(i, category)
		}
		wg.Wait()

		if ctx.Err() != nil {
			metrics.DiscoveryRequests.WithLabelValues("cancelled").Inc()
			return
		}
		switch {
		case failures == len(req.Categories):
			metrics.DiscoveryRequests.WithLabelValues("failed").Inc()
		case failures > 0:
			metrics.DiscoveryRequests.WithLabelValues("partial").Inc()
		default:
			metrics.DiscoveryRequests.WithLabelValues("ok").Inc()
		}

		// Deduplicate the full per-category accumulation, not just the last
		// batch, then merge into one track-ordered list.
		var merged []model.POI
		for _, category := range req.Categories {
			pois, ok := classified[category]
			if !ok {
				continue
			}
			merged = append(merged, Dedupe(pois, req.settings(category).DedupRadiusKm)...)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			if merged[i].DistanceOnRouteKm != merged[j].DistanceOnRouteKm {
				return merged[i].DistanceOnRouteKm < merged[j].DistanceOnRouteKm
			}
			return merged[i].DistanceToRouteKm < merged[j].DistanceToRouteKm
		})
		if merged == nil {
			merged = []model.POI{}
		}
		send(Event{Type: EventComplete, POIs: merged, Total: len(merged)})
	}()
	return events, nil
}

func (p *Pipeline) display(category string) string {
	if p.Display != nil {
		if d := p.Display(category); d != "" {
			return d
		}
	}
	return category
}
