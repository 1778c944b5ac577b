// Package events defines the interruption records Shedcast consumes.
//
// An Event is one scheduled interruption window for an area as reported by
// the upstream provider. Timestamps are kept as the provider sent them
// (ISO-8601 strings) so that validation happens in one place, the feature
// extractor, and a malformed record can be reported with its position.
package events

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Event is a single interruption interval.
type Event struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Stage int    `json:"stage"`
}

// AreaSchedule groups the events reported for one area.
type AreaSchedule struct {
	AreaID string  `json:"area_id"`
	Name   string  `json:"name,omitempty"`
	Events []Event `json:"events"`
}

// Pool flattens the events of every schedule, preserving area order and
// event order within each area. Area identifiers are dropped.
func Pool(areas []AreaSchedule) []Event {
	n := 0
	for _, a := range areas {
		n += len(a.Events)
	}

	pooled := make([]Event, 0, n)
	for _, a := range areas {
		pooled = append(pooled, a.Events...)
	}
	return pooled
}

// ParseStage accepts either a bare integer ("2") or a stage label such as
// "Stage 2" or "Stage 4 (TESTING: current)" and returns the stage number.
// The first run of digits wins.
func ParseStage(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty stage")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative stage %d", n)
		}
		return n, nil
	}

	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return 0, fmt.Errorf("no stage number in %q", s)
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0, fmt.Errorf("invalid stage %q: %w", s, err)
	}
	return n, nil
}
