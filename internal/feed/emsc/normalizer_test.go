package emsc

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unibosoft/quakefeed/internal/quake"
)

// frame builds a SeismicPortal envelope with the standard fixture values.
// Overrides are raw JSON property values; an empty string removes the
// property entirely.
func frame(overrides map[string]string) []byte {
	props := map[string]string{
		"unid":         `"20250101_0001"`,
		"source_id":    `"e1"`,
		"time":         `"2025-01-01T00:00:00.0Z"`,
		"flynn_region": `"WESTERN TURKEY"`,
		"lat":          "38.4",
		"lon":          "27.1",
		"depth":        "10.0",
		"mag":          "4.2",
		"magtype":      `"ml"`,
	}
	for k, v := range overrides {
		if v == "" {
			delete(props, k)
			continue
		}
		props[k] = v
	}

	propsJSON := "{"
	first := true
	for k, v := range props {
		if !first {
			propsJSON += ","
		}
		first = false
		propsJSON += fmt.Sprintf("%q:%s", k, v)
	}
	propsJSON += "}"

	return []byte(fmt.Sprintf(`{
		"action": "create",
		"data": {
			"type": "Feature",
			"id": "20250101_0001",
			"geometry": {"type": "Point", "coordinates": [27.1, 38.4, -10.0]},
			"properties": %s
		}
	}`, propsJSON))
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer(WithClock(clockwork.NewFakeClockAt(
		time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC))))
	receivedAt := time.Date(2025, 1, 1, 0, 0, 3, 0, time.UTC)

	event, err := n.Normalize(frame(nil), receivedAt)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if event.Provider != ProviderName {
		t.Errorf("Provider = %q, want %q", event.Provider, ProviderName)
	}
	if event.SourceID != "20250101_0001" {
		t.Errorf("SourceID = %q, want 20250101_0001", event.SourceID)
	}
	if want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC); !event.OccurredAt.Equal(want) {
		t.Errorf("OccurredAt = %v, want %v", event.OccurredAt, want)
	}
	if event.Latitude != 38.4 || event.Longitude != 27.1 {
		t.Errorf("coordinates = (%v, %v), want (38.4, 27.1)", event.Latitude, event.Longitude)
	}
	if event.DepthKM != 10.0 {
		t.Errorf("DepthKM = %v, want 10.0", event.DepthKM)
	}
	if event.Magnitude != 4.2 {
		t.Errorf("Magnitude = %v, want 4.2", event.Magnitude)
	}
	if event.LocationLabel != "WESTERN TURKEY" {
		t.Errorf("LocationLabel = %q, want WESTERN TURKEY", event.LocationLabel)
	}
	if !event.ReceivedAt.Equal(receivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", event.ReceivedAt, receivedAt)
	}
	if len(event.Sources) != 1 || event.Sources[0].Provider != ProviderName {
		t.Errorf("Sources = %v, want single %s attribution", event.Sources, ProviderName)
	}
}

func TestNormalizer_Normalize_Rejections(t *testing.T) {
	n := NewNormalizer(WithClock(clockwork.NewFakeClockAt(
		time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC))))

	tests := []struct {
		name      string
		raw       []byte
		wantField string
	}{
		{
			name:      "not json",
			raw:       []byte("not json at all"),
			wantField: "payload",
		},
		{
			name:      "missing magnitude",
			raw:       frame(map[string]string{"mag": ""}),
			wantField: "magnitude",
		},
		{
			name:      "non-numeric latitude",
			raw:       frame(map[string]string{"lat": `"not-a-number"`}),
			wantField: "payload",
		},
		{
			name:      "missing time",
			raw:       frame(map[string]string{"time": ""}),
			wantField: "occurred_at",
		},
		{
			name:      "unparseable time",
			raw:       frame(map[string]string{"time": `"January 1st"`}),
			wantField: "occurred_at",
		},
		{
			name:      "latitude out of range",
			raw:       frame(map[string]string{"lat": "95.0"}),
			wantField: "latitude",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw, time.Now())
			var verr *quake.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Normalize() error = %v, want *quake.ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

// The "lat" property is present but quoted. The frame must still parse,
// because the feed has been observed quoting numeric fields.
func TestNormalizer_Normalize_QuotedNumbers(t *testing.T) {
	n := NewNormalizer(WithClock(clockwork.NewFakeClockAt(
		time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC))))

	event, err := n.Normalize(frame(map[string]string{"lat": `"38.4"`, "mag": `"4.2"`}), time.Now())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if event.Latitude != 38.4 {
		t.Errorf("Latitude = %v, want 38.4", event.Latitude)
	}
	if event.Magnitude != 4.2 {
		t.Errorf("Magnitude = %v, want 4.2", event.Magnitude)
	}
}

// Missing lat/lon properties fall back to the GeoJSON coordinates, and a
// missing depth falls back to the (negated) z coordinate.
func TestNormalizer_Normalize_GeometryFallback(t *testing.T) {
	n := NewNormalizer(WithClock(clockwork.NewFakeClockAt(
		time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC))))

	event, err := n.Normalize(frame(map[string]string{"lat": "", "lon": "", "depth": ""}), time.Now())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if event.Latitude != 38.4 || event.Longitude != 27.1 {
		t.Errorf("coordinates = (%v, %v), want (38.4, 27.1) from geometry", event.Latitude, event.Longitude)
	}
	if event.DepthKM != 10.0 {
		t.Errorf("DepthKM = %v, want 10.0 from geometry z", event.DepthKM)
	}
}

func TestNormalizer_Normalize_ImplausibleTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	n := NewNormalizer(WithClock(clock))

	tests := []struct {
		name      string
		eventTime string
		wantDrift string
	}{
		{
			name:      "two days in the future",
			eventTime: "2025-01-03T00:00:00.0Z",
			wantDrift: "future",
		},
		{
			name:      "two months in the past",
			eventTime: "2024-11-01T00:00:00.0Z",
			wantDrift: "past",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(frame(map[string]string{"time": `"`+tt.eventTime+`"`}), time.Now())
			var iterr *quake.ImplausibleTimeError
			if !errors.As(err, &iterr) {
				t.Fatalf("Normalize() error = %v, want *quake.ImplausibleTimeError", err)
			}
			if iterr.Drift != tt.wantDrift {
				t.Errorf("Drift = %q, want %q", iterr.Drift, tt.wantDrift)
			}
		})
	}
}

func TestNormalizer_Normalize_SourceIDFallback(t *testing.T) {
	n := NewNormalizer(WithClock(clockwork.NewFakeClockAt(
		time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC))))

	event, err := n.Normalize(frame(map[string]string{"unid": ""}), time.Now())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if event.SourceID != "20250101_0001" {
		t.Errorf("SourceID = %q, want feature id fallback", event.SourceID)
	}
}

func TestCityFromRegion(t *testing.T) {
	tests := []struct {
		region string
		want   string
	}{
		{"IZMIR, TURKEY", "TURKEY"},
		{"OFF COAST OF NORTHERN CHILE", ""},
		{"NEAR EAST COAST OF HONSHU, JAPAN", "JAPAN"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := cityFromRegion(tt.region); got != tt.want {
			t.Errorf("cityFromRegion(%q) = %q, want %q", tt.region, got, tt.want)
		}
	}
}
