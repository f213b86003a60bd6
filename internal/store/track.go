package store

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Outcome is what a tracked run reports back to the log.
type Outcome struct {
	Breaks []float64
	Stats  any
}

// Track records a run around fn. A nil store runs fn untracked and returns an
// empty ID. Failures of the log itself are logged and never fail the run.
func Track(ctx context.Context, st Store, run NewRun, fn func(ctx context.Context) (Outcome, error)) (string, error) {
	if st == nil {
		_, err := fn(ctx)
		return "", err
	}
	log := zap.L().With(zap.String("component", "runlog"))

	rec, err := st.CreateRun(ctx, run)
	if err != nil {
		log.Warn("create run", zap.Error(err))
		_, err := fn(ctx)
		return "", err
	}

	out, runErr := fn(ctx)
	if runErr != nil {
		if err := st.FailRun(context.WithoutCancel(ctx), rec.ID, runErr.Error()); err != nil {
			log.Warn("fail run", zap.String("run_id", rec.ID), zap.Error(err))
		}
		return rec.ID, runErr
	}

	var stats json.RawMessage
	if out.Stats != nil {
		if stats, err = json.Marshal(out.Stats); err != nil {
			log.Warn("marshal run stats", zap.String("run_id", rec.ID), zap.Error(err))
			stats = nil
		}
	}
	if err := st.CompleteRun(context.WithoutCancel(ctx), rec.ID, out.Breaks, stats); err != nil {
		log.Warn("complete run", zap.String("run_id", rec.ID), zap.Error(err))
	}
	return rec.ID, nil
}
