// Package quake defines the canonical earthquake event model shared by the
// feed clients, the deduplicator, the store and the fan-out layer.
//
// Provider payloads are parsed and validated exactly once, at the
// normalization boundary; everything past that boundary works with Event.
package quake

import (
	"fmt"
	"time"
)

// Attribution records which provider reported an event. When two providers
// describe the same physical earthquake, the first-seen record is kept and
// additional attributions are appended here.
type Attribution struct {
	Provider string    `json:"provider" firestore:"provider"`
	SourceID string    `json:"source_id" firestore:"sourceId"`
	SeenAt   time.Time `json:"seen_at" firestore:"seenAt"`
}

// Event is a normalized earthquake report.
type Event struct {
	Provider      string        `json:"provider" firestore:"provider"`
	SourceID      string        `json:"source_id" firestore:"sourceId"`
	OccurredAt    time.Time     `json:"occurred_at" firestore:"occurredAt"`
	Latitude      float64       `json:"latitude" firestore:"latitude"`
	Longitude     float64       `json:"longitude" firestore:"longitude"`
	DepthKM       float64       `json:"depth_km" firestore:"depthKm"`
	Magnitude     float64       `json:"magnitude" firestore:"magnitude"`
	LocationLabel string        `json:"location_label,omitempty" firestore:"locationLabel"`
	City          string        `json:"city,omitempty" firestore:"city"`
	ReceivedAt    time.Time     `json:"received_at" firestore:"receivedAt"`
	Sources       []Attribution `json:"sources,omitempty" firestore:"sources"`
	RawJSON       string        `json:"-" firestore:"rawJson"`
}

// Key returns the identity under which the event is stored and deduplicated.
// One (provider, source_id) pair identifies one physical report.
func (e *Event) Key() string {
	return e.Provider + ":" + e.SourceID
}

// Validate checks the invariants that normalization must guarantee.
// Coordinates must be in range, depth non-negative, and the identifying
// fields present. Timestamp plausibility is checked separately by the
// normalizer because its bounds are configurable.
func (e *Event) Validate() error {
	if e.Provider == "" {
		return &ValidationError{Field: "provider", Reason: "missing"}
	}
	if e.SourceID == "" {
		return &ValidationError{Field: "source_id", Reason: "missing"}
	}
	if e.OccurredAt.IsZero() {
		return &ValidationError{Field: "occurred_at", Reason: "missing"}
	}
	if e.Latitude < -90 || e.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: fmt.Sprintf("out of range: %v", e.Latitude)}
	}
	if e.Longitude < -180 || e.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: fmt.Sprintf("out of range: %v", e.Longitude)}
	}
	if e.DepthKM < 0 {
		return &ValidationError{Field: "depth_km", Reason: fmt.Sprintf("negative: %v", e.DepthKM)}
	}
	return nil
}
