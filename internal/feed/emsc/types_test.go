package emsc

import (
	"encoding/json"
	"testing"
)

func TestFloat_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{name: "number", input: "4.2", want: 4.2},
		{name: "negative number", input: "-10.5", want: -10.5},
		{name: "integer", input: "38", want: 38},
		{name: "quoted number", input: `"4.2"`, want: 4.2},
		{name: "quoted negative", input: `"-27.1"`, want: -27.1},
		{name: "empty string", input: `""`, wantErr: true},
		{name: "null", input: "null", wantErr: true},
		{name: "word", input: `"deep"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Float
			err := json.Unmarshal([]byte(tt.input), &f)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && float64(f) != tt.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, f, tt.want)
			}
		})
	}
}

func TestEnvelope_Unmarshal(t *testing.T) {
	raw := frame(nil)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if env.Action != ActionCreate {
		t.Errorf("Action = %q, want %q", env.Action, ActionCreate)
	}
	if env.Data.Properties.UnID != "20250101_0001" {
		t.Errorf("UnID = %q, want 20250101_0001", env.Data.Properties.UnID)
	}
	if len(env.Data.Geometry.Coordinates) != 3 {
		t.Fatalf("Coordinates = %v, want 3 values", env.Data.Geometry.Coordinates)
	}
	if float64(env.Data.Geometry.Coordinates[2]) != -10.0 {
		t.Errorf("z coordinate = %v, want -10.0", env.Data.Geometry.Coordinates[2])
	}
}
