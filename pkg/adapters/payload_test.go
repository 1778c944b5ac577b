package adapters

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseStageValue(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{"integer", `{"stage": 4}`, 4, false},
		{"integral float", `{"stage": 2.0}`, 2, false},
		{"zero", `{"stage": 0}`, 0, false},
		{"label", `{"stage": "Stage 3 (TESTING: current)"}`, 3, false},
		{"fractional", `{"stage": 2.5}`, 0, true},
		{"negative", `{"stage": -1}`, 0, true},
		{"null", `{"stage": null}`, 0, true},
		{"missing", `{}`, 0, true},
		{"object", `{"stage": {"n": 2}}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStageValue(gjson.Get(tt.payload, "stage"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseStageValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseStageValue() = %d, want %d", got, tt.want)
			}
		})
	}
}
