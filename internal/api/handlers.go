package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/potentials/internal/engine"
	"github.com/sells-group/potentials/internal/export"
	"github.com/sells-group/potentials/internal/spatial"
	"github.com/sells-group/potentials/internal/store"
)

// potentialsResponse is the body of POST /v1/potentials.
type potentialsResponse struct {
	RunID string `json:"run_id,omitempty"`
	*engine.Result
}

// potentials evaluates a discrete request and returns the classified table.
func (s *Server) potentials(w http.ResponseWriter, r *http.Request) {
	res, runID, err := s.run(w, r, engine.ModeDiscrete)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runID != "" {
		w.Header().Set("X-Run-ID", runID)
	}
	writeJSON(w, http.StatusOK, potentialsResponse{RunID: runID, Result: res})
}

// isopleths evaluates a raster request and returns its bands as a GeoJSON
// FeatureCollection.
func (s *Server) isopleths(w http.ResponseWriter, r *http.Request) {
	res, runID, err := s.run(w, r, engine.ModeRaster)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, err := export.MarshalBands(res.Bands)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runID != "" {
		w.Header().Set("X-Run-ID", runID)
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// run decodes, resolves and executes a request in the given mode.
func (s *Server) run(w http.ResponseWriter, r *http.Request, mode engine.Mode) (*engine.Result, string, error) {
	f, err := s.decode(w, r)
	if err != nil {
		return nil, "", err
	}
	if f.Mode == "" {
		f.Mode = string(mode)
	}
	if parsed, err := engine.ParseMode(f.Mode); err != nil {
		return nil, "", err
	} else if parsed != mode {
		return nil, "", eris.Wrapf(spatial.ErrInvalidParameter, "api: this endpoint serves %s requests, got %s", mode, parsed)
	}

	req, err := s.resolver.Resolve(r.Context(), f)
	if err != nil {
		return nil, "", err
	}
	body, err := json.Marshal(f)
	if err != nil {
		return nil, "", eris.Wrap(err, "api: encode request")
	}

	var res *engine.Result
	runID, err := store.Track(r.Context(), s.runs, store.NewRun{
		Mode:     string(mode),
		Variable: req.ClassifiedVariable(),
		Request:  body,
	}, func(ctx context.Context) (store.Outcome, error) {
		var err error
		if res, err = s.engine.Run(ctx, req); err != nil {
			return store.Outcome{}, err
		}
		return store.Outcome{Breaks: res.Breaks, Stats: res.Stats}, nil
	})
	return res, runID, err
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := s.runs.ListRuns(r.Context(), store.RunFilter{
		Status: store.RunStatus(q.Get("status")),
		Mode:   q.Get("mode"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if eris.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
