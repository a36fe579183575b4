// Package store journals bulk geocoding runs so operators can see what each
// backfill or reassign pass did after the terminal output is gone.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// RunStatus is the lifecycle state of a journaled run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusComplete    RunStatus = "complete"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = eris.New("store: run not found")

// Run is one journaled bulk run.
type Run struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Status     RunStatus       `json:"status"`
	Options    json.RawMessage `json:"options,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   string    `json:"kind,omitempty"`
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

// Store persists the run journal.
type Store interface {
	// CreateRun records a started run. options is stored as JSON.
	CreateRun(ctx context.Context, id, kind string, options any) (*Run, error)
	// FinishRun records the outcome. result is stored as JSON; errMsg may be empty.
	FinishRun(ctx context.Context, id string, status RunStatus, result any, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// FinishStatus picks the terminal status for a run that returned err after
// being interrupted or not.
func FinishStatus(err error, interrupted bool) RunStatus {
	switch {
	case err != nil:
		return RunStatusFailed
	case interrupted:
		return RunStatusInterrupted
	default:
		return RunStatusComplete
	}
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json")
	}
	return b, nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
