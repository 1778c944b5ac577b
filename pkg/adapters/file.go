package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/shedcast/pkg/events"
)

// FileAdapter reads schedules and the national status from a JSON snapshot:
//
//	{
//	  "status": {"eskom_stage": 2, "eskom_next_stage": 3, "updated": "..."},
//	  "areas": [
//	    {"id": "capetown-9", "name": "Kenilworth", "events": [{"start": "...", "end": "...", "stage": 2}]}
//	  ]
//	}
//
// The file is read on every call, so a snapshot can be replaced while the
// service runs.
type FileAdapter struct {
	// Path is the snapshot file (required).
	Path string
}

func (f *FileAdapter) Name() string { return "file" }

// Areas returns every area in the snapshot in file order.
func (f *FileAdapter) Areas(ctx context.Context) ([]events.AreaSchedule, error) {
	doc, err := f.load(ctx)
	if err != nil {
		return nil, err
	}

	list := doc.Get("areas")
	if !list.IsArray() {
		return nil, fmt.Errorf("file adapter: %s: areas array not found", f.Path)
	}

	areas := make([]events.AreaSchedule, 0, len(list.Array()))
	for i, area := range list.Array() {
		id := area.Get("id").String()
		if id == "" {
			return nil, fmt.Errorf("file adapter: %s: area %d has no id", f.Path, i)
		}
		schedule, err := parseSchedule(id, area)
		if err != nil {
			return nil, fmt.Errorf("file adapter: %w", err)
		}
		areas = append(areas, schedule)
	}
	return areas, nil
}

// Schedule returns the area with the given id.
func (f *FileAdapter) Schedule(ctx context.Context, areaID string) (events.AreaSchedule, error) {
	if areaID == "" {
		return events.AreaSchedule{}, errors.New("file adapter: area id is required")
	}

	doc, err := f.load(ctx)
	if err != nil {
		return events.AreaSchedule{}, err
	}

	// gjson query: first element of areas whose id equals areaID.
	area := doc.Get(`areas.#(id==` + quote(areaID) + `)`)
	if !area.Exists() {
		return events.AreaSchedule{}, fmt.Errorf("file adapter: %w: %s", ErrAreaNotFound, areaID)
	}
	schedule, err := parseSchedule(areaID, area)
	if err != nil {
		return events.AreaSchedule{}, fmt.Errorf("file adapter: %w", err)
	}
	return schedule, nil
}

// Status returns the snapshot's national status.
func (f *FileAdapter) Status(ctx context.Context) (NationalStatus, error) {
	doc, err := f.load(ctx)
	if err != nil {
		return NationalStatus{}, err
	}
	status, err := parseStatus(doc.Get("status"))
	if err != nil {
		return NationalStatus{}, fmt.Errorf("file adapter: %s: %w", f.Path, err)
	}
	return status, nil
}

func (f *FileAdapter) load(ctx context.Context) (gjson.Result, error) {
	if err := ctx.Err(); err != nil {
		return gjson.Result{}, err
	}
	if f.Path == "" {
		return gjson.Result{}, errors.New("file adapter: path is required")
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("file adapter: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("file adapter: %s is not valid JSON", f.Path)
	}
	return gjson.ParseBytes(data), nil
}

// quote renders s as a gjson query string literal.
func quote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(append(out, '"'))
}
