// Package store keeps the run log: one record per engine request with its
// status, the breaks it used and summary statistics. The engine itself never
// persists; the CLI and the HTTP service record runs around it.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = eris.New("store: run not found")

// Run is one recorded engine request.
type Run struct {
	ID        string          `json:"id"`
	Mode      string          `json:"mode"`
	Variable  string          `json:"variable"`
	Status    RunStatus       `json:"status"`
	Request   json.RawMessage `json:"request,omitempty"`
	Breaks    []float64       `json:"breaks,omitempty"`
	Stats     json.RawMessage `json:"stats,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewRun describes a run about to start.
type NewRun struct {
	Mode     string
	Variable string
	Request  json.RawMessage
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Mode   string    `json:"mode,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for the run log.
type Store interface {
	CreateRun(ctx context.Context, run NewRun) (*Run, error)
	CompleteRun(ctx context.Context, runID string, breaks []float64, stats json.RawMessage) error
	FailRun(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver, "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

const defaultListLimit = 100

func listLimit(f RunFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func encodeBreaks(breaks []float64) ([]byte, error) {
	if breaks == nil {
		return nil, nil
	}
	data, err := json.Marshal(breaks)
	return data, eris.Wrap(err, "store: marshal breaks")
}

func decodeRunJSON(r *Run, breaks, stats, request []byte) error {
	if len(breaks) > 0 {
		if err := json.Unmarshal(breaks, &r.Breaks); err != nil {
			return eris.Wrapf(err, "store: unmarshal breaks of run %s", r.ID)
		}
	}
	if len(stats) > 0 {
		r.Stats = json.RawMessage(stats)
	}
	if len(request) > 0 {
		r.Request = json.RawMessage(request)
	}
	return nil
}
