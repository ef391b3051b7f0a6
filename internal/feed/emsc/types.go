package emsc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProviderName is the registry key for this feed.
const ProviderName = "emsc"

// Frame actions emitted by SeismicPortal. Updates re-deliver the same
// unid, so the deduplicator treats them as redeliveries.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// envelope is the outer SeismicPortal frame: a GeoJSON Feature wrapped in
// an action envelope.
type envelope struct {
	Action string  `json:"action"`
	Data   feature `json:"data"`
}

type feature struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Geometry   geometry   `json:"geometry"`
	Properties properties `json:"properties"`
}

type geometry struct {
	Type        string  `json:"type"`
	Coordinates []Float `json:"coordinates"` // [lon, lat, -depth]
}

type properties struct {
	UnID        string `json:"unid"`
	SourceID    string `json:"source_id"`
	Catalog     string `json:"source_catalog"`
	Time        string `json:"time"`
	LastUpdate  string `json:"lastupdate"`
	FlynnRegion string `json:"flynn_region"`
	Lat         *Float `json:"lat"`
	Lon         *Float `json:"lon"`
	Depth       *Float `json:"depth"`
	Mag         *Float `json:"mag"`
	MagType     string `json:"magtype"`
	EvType      string `json:"evtype"`
	Auth        string `json:"auth"`
}

// Float accepts either a JSON number or a numeric string. Feed revisions
// have been observed quoting numeric fields, so coercion happens here
// rather than rejecting the whole frame.
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		return fmt.Errorf("empty numeric value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", string(data))
	}
	*f = Float(v)
	return nil
}

func (f Float) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(f))
}
