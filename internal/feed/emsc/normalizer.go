package emsc

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unibosoft/quakefeed/internal/quake"
)

// Timestamp sanity bounds. Events outside these are surfaced as
// *quake.ImplausibleTimeError so feed quality problems stay visible.
const (
	DefaultMaxFutureDrift = 24 * time.Hour
	DefaultMaxPastDrift   = 30 * 24 * time.Hour
)

// Normalizer converts SeismicPortal frames into canonical events.
type Normalizer struct {
	maxFuture time.Duration
	maxPast   time.Duration
	clock     clockwork.Clock
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithDriftBounds overrides the timestamp plausibility bounds.
func WithDriftBounds(maxFuture, maxPast time.Duration) NormalizerOption {
	return func(n *Normalizer) {
		n.maxFuture = maxFuture
		n.maxPast = maxPast
	}
}

// WithClock injects the time source used for plausibility checks.
func WithClock(c clockwork.Clock) NormalizerOption {
	return func(n *Normalizer) { n.clock = c }
}

// NewNormalizer creates a Normalizer with default drift bounds.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		maxFuture: DefaultMaxFutureDrift,
		maxPast:   DefaultMaxPastDrift,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var _ quake.Normalizer = (*Normalizer)(nil)

// Normalize parses one frame. Non-earthquake frames and unknown extra
// fields are not errors; missing or unparseable required fields are.
func (n *Normalizer) Normalize(raw []byte, receivedAt time.Time) (*quake.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &quake.ValidationError{Field: "payload", Reason: err.Error()}
	}

	props := env.Data.Properties

	sourceID := props.UnID
	if sourceID == "" {
		sourceID = env.Data.ID
	}
	if sourceID == "" {
		return nil, &quake.ValidationError{Field: "source_id", Reason: "missing unid"}
	}

	if props.Time == "" {
		return nil, &quake.ValidationError{Field: "occurred_at", Reason: "missing time"}
	}
	occurredAt, err := parseTime(props.Time)
	if err != nil {
		return nil, &quake.ValidationError{Field: "occurred_at", Reason: err.Error()}
	}

	lat, err := requireCoord(props.Lat, env.Data.Geometry, 1, "latitude")
	if err != nil {
		return nil, err
	}
	lon, err := requireCoord(props.Lon, env.Data.Geometry, 0, "longitude")
	if err != nil {
		return nil, err
	}
	if props.Mag == nil {
		return nil, &quake.ValidationError{Field: "magnitude", Reason: "missing mag"}
	}

	event := &quake.Event{
		Provider:      ProviderName,
		SourceID:      sourceID,
		OccurredAt:    occurredAt.UTC(),
		Latitude:      lat,
		Longitude:     lon,
		DepthKM:       depthKM(props.Depth, env.Data.Geometry),
		Magnitude:     float64(*props.Mag),
		LocationLabel: props.FlynnRegion,
		City:          cityFromRegion(props.FlynnRegion),
		ReceivedAt:    receivedAt.UTC(),
		RawJSON:       string(raw),
	}
	event.Sources = []quake.Attribution{{
		Provider: ProviderName,
		SourceID: sourceID,
		SeenAt:   event.ReceivedAt,
	}}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	now := n.clock.Now()
	if drift := event.OccurredAt.Sub(now); drift > n.maxFuture {
		return nil, &quake.ImplausibleTimeError{
			ValidationError: quake.ValidationError{Field: "occurred_at", Reason: fmt.Sprintf("%s ahead of clock", drift.Round(time.Second))},
			Drift:           "future",
		}
	}
	if drift := now.Sub(event.OccurredAt); drift > n.maxPast {
		return nil, &quake.ImplausibleTimeError{
			ValidationError: quake.ValidationError{Field: "occurred_at", Reason: fmt.Sprintf("%s behind clock", drift.Round(time.Second))},
			Drift:           "past",
		}
	}

	return event, nil
}

// parseTime handles the feed's RFC3339 variants, including the trailing
// ".0Z" fractional form.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.9", strings.TrimSuffix(s, "Z"))
}

// requireCoord prefers the explicit property, falling back to the GeoJSON
// coordinate array ([lon, lat, elevation]).
func requireCoord(prop *Float, geom geometry, idx int, field string) (float64, error) {
	if prop != nil {
		return float64(*prop), nil
	}
	if len(geom.Coordinates) > idx {
		return float64(geom.Coordinates[idx]), nil
	}
	return 0, &quake.ValidationError{Field: field, Reason: "missing"}
}

// depthKM prefers the depth property (km, positive down); the GeoJSON z
// coordinate is negative down, so it is negated when used as fallback.
func depthKM(prop *Float, geom geometry) float64 {
	if prop != nil {
		return math.Abs(float64(*prop))
	}
	if len(geom.Coordinates) > 2 {
		return math.Abs(float64(geom.Coordinates[2]))
	}
	return 0
}

// cityFromRegion extracts the trailing administrative component from a
// Flynn region label such as "IZMIR, TURKEY".
func cityFromRegion(region string) string {
	parts := strings.Split(region, ",")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-1])
}
