// Package adapters provides the upstream connectors Shedcast pulls
// interruption schedules and the national stage from.
//
// Each adapter implements the Source interface. Available adapters:
//   - SePushAdapter: fetches status and area schedules from the EskomSePush API
//   - FileAdapter: reads the same data from a JSON snapshot on disk
//
// Adapters are intentionally lightweight. They fetch raw payloads, shape them
// into events.AreaSchedule values and leave feature building and training to
// the layers above.
package adapters

import (
	"context"

	"github.com/HatiCode/shedcast/pkg/events"
)

// NationalStatus is the provider's current national stage summary.
type NationalStatus struct {
	CurrentStage int    `json:"current_stage"`
	NextStage    int    `json:"next_stage"`
	Updated      string `json:"updated"`
}

// Source is the interface every upstream adapter implements.
//
// All calls are synchronous and must respect context cancellation and
// deadlines.
type Source interface {
	// Name returns a short identifier such as "sepush" or "file".
	Name() string

	// Areas returns the schedules of every configured area.
	Areas(ctx context.Context) ([]events.AreaSchedule, error)

	// Schedule returns the schedule of a single area.
	Schedule(ctx context.Context, areaID string) (events.AreaSchedule, error)

	// Status returns the national stage summary.
	Status(ctx context.Context) (NationalStatus, error)
}
