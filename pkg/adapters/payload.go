package adapters

import (
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/shedcast/pkg/events"
)

// ErrAreaNotFound is returned when a source has no schedule for an area.
var ErrAreaNotFound = errors.New("area not found")

// parseStatus reads a status object of the shape
//
//	{"eskom_stage": 2, "eskom_next_stage": 3, "updated": "2025-01-01T10:00:00"}
//
// Stage values may be numbers or labels such as "Stage 2".
func parseStatus(status gjson.Result) (NationalStatus, error) {
	if !status.IsObject() {
		return NationalStatus{}, errors.New("status object not found in payload")
	}

	current, err := parseStageValue(status.Get("eskom_stage"))
	if err != nil {
		return NationalStatus{}, fmt.Errorf("eskom_stage: %w", err)
	}

	next := current
	if v := status.Get("eskom_next_stage"); v.Exists() {
		if next, err = parseStageValue(v); err != nil {
			return NationalStatus{}, fmt.Errorf("eskom_next_stage: %w", err)
		}
	}

	return NationalStatus{
		CurrentStage: current,
		NextStage:    next,
		Updated:      status.Get("updated").String(),
	}, nil
}

// parseSchedule reads an area payload of the shape
//
//	{"info": {"name": "..."}, "events": [{"start": "...", "end": "...", "note": "Stage 2"}]}
//
// Each event carries its stage either as a numeric "stage" or as a "note"
// label. Timestamps are passed through untouched.
func parseSchedule(areaID string, area gjson.Result) (events.AreaSchedule, error) {
	list := area.Get("events")
	if !list.Exists() {
		return events.AreaSchedule{}, fmt.Errorf("area %s: events not found in payload", areaID)
	}
	if !list.IsArray() {
		return events.AreaSchedule{}, fmt.Errorf("area %s: events is not an array", areaID)
	}

	name := area.Get("info.name").String()
	if name == "" {
		name = area.Get("name").String()
	}

	schedule := events.AreaSchedule{
		AreaID: areaID,
		Name:   name,
		Events: make([]events.Event, 0, len(list.Array())),
	}

	var parseErr error
	i := 0
	list.ForEach(func(_, ev gjson.Result) bool {
		stageField := ev.Get("stage")
		if !stageField.Exists() {
			stageField = ev.Get("note")
		}
		stage, err := parseStageValue(stageField)
		if err != nil {
			parseErr = fmt.Errorf("area %s: event %d: %w", areaID, i, err)
			return false
		}
		i++

		schedule.Events = append(schedule.Events, events.Event{
			Start: ev.Get("start").String(),
			End:   ev.Get("end").String(),
			Stage: stage,
		})
		return true
	})
	if parseErr != nil {
		return events.AreaSchedule{}, parseErr
	}

	return schedule, nil
}

func parseStageValue(v gjson.Result) (int, error) {
	switch v.Type {
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) {
			return 0, fmt.Errorf("non-integer stage %s", v.Raw)
		}
		if v.Num < 0 {
			return 0, fmt.Errorf("negative stage %s", v.Raw)
		}
		return int(v.Num), nil
	case gjson.String:
		return events.ParseStage(v.String())
	case gjson.Null:
		if v.Exists() {
			return 0, errors.New("stage is null")
		}
		return 0, errors.New("stage is missing")
	default:
		return 0, fmt.Errorf("unsupported stage value %s", v.Raw)
	}
}
