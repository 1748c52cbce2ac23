package discover

import "mapahead/internal/model"

// EventType discriminates discovery stream events.
type EventType string

const (
	// EventProgress announces that a category fetch is starting.
	EventProgress EventType = "progress"
	// EventBatch delivers the classified POIs of one category fetch.
	EventBatch EventType = "poi_batch"
	// EventComplete terminates a stream after all categories settled and
	// carries the merged, deduplicated result.
	EventComplete EventType = "complete"
	// EventError reports a category whose upstream fetch failed for good.
	EventError EventType = "error"
)

// Event is one element of a discovery stream. Which fields are set depends
// on Type: progress carries Current/Total, poi_batch carries POIs, complete
// carries the final deduplicated POIs plus their count, error carries
// Message.
type Event struct {
	Type            EventType   `json:"type"`
	Category        string      `json:"category,omitempty"`
	CategoryDisplay string      `json:"categoryDisplay,omitempty"`
	Current         int         `json:"current,omitempty"`
	Total           int         `json:"total,omitempty"`
	POIs            []model.POI `json:"pois,omitempty"`
	Message         string      `json:"message,omitempty"`
}
