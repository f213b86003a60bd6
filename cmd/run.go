package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/potentials/internal/config"
	"github.com/sells-group/potentials/internal/engine"
	"github.com/sells-group/potentials/internal/export"
	"github.com/sells-group/potentials/internal/request"
	"github.com/sells-group/potentials/internal/shapes"
	"github.com/sells-group/potentials/internal/store"
)

var runRequestPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute potentials for a request file",
	Long:  "Loads a YAML request, computes the potential surface, classifies it and writes the outputs the request names. Without a JSON output the result is printed to stdout.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequest(cmd.Context(), cfg, runRequestPath, os.Stdout)
	},
}

func init() {
	runCmd.Flags().StringVar(&runRequestPath, "request", "", "request file (required)")
	_ = runCmd.MarkFlagRequired("request")
	rootCmd.AddCommand(runCmd)
}

// runResult is what the run command prints.
type runResult struct {
	RunID string `json:"run_id"`
	*engine.Result
}

func runRequest(ctx context.Context, c *config.Config, path string, stdout io.Writer) error {
	if err := c.Validate("run"); err != nil {
		return err
	}
	f, err := request.Load(path)
	if err != nil {
		return err
	}
	if f.Output.PostGIS {
		if err := c.Validate("postgis"); err != nil {
			return err
		}
	}

	e, err := initEnv(ctx, c)
	if err != nil {
		return err
	}
	defer e.Close()

	req, err := e.Resolver.Resolve(ctx, f)
	if err != nil {
		return eris.Wrapf(err, "resolve %s", path)
	}
	body, err := json.Marshal(f)
	if err != nil {
		return eris.Wrapf(err, "encode request %s", path)
	}

	var res *engine.Result
	runID, err := store.Track(ctx, e.Store, store.NewRun{
		Mode:     string(req.Mode),
		Variable: req.ClassifiedVariable(),
		Request:  body,
	}, func(ctx context.Context) (store.Outcome, error) {
		var err error
		if res, err = e.Engine.Run(ctx, req); err != nil {
			return store.Outcome{}, err
		}
		return store.Outcome{Breaks: res.Breaks, Stats: res.Stats}, nil
	})
	if err != nil {
		return eris.Wrap(err, "run")
	}

	var exporter *export.PostGIS
	if f.Output.PostGIS {
		exporter = export.NewPostGIS(e.PostGIS, c.PostGIS.SRID)
	}
	if err := writeOutputs(ctx, f, runID, res, exporter); err != nil {
		return err
	}

	zap.L().Info("run complete",
		zap.String("run_id", runID),
		zap.String("mode", string(res.Mode)),
		zap.String("variable", res.Variable),
		zap.Int("targets", res.Stats.Targets),
		zap.Int("bands", len(res.Bands)),
	)

	if f.Output.JSON != "" {
		return nil
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(runResult{RunID: runID, Result: res})
}

// writeOutputs writes every output the request names. Paths are relative to
// the request file.
func writeOutputs(ctx context.Context, f *request.File, runID string, res *engine.Result, pg *export.PostGIS) error {
	out := f.Output
	if out.JSON != "" {
		if err := writeJSONFile(f.OutputPath(out.JSON), runResult{RunID: runID, Result: res}); err != nil {
			return err
		}
	}
	if out.GeoJSON != "" {
		if err := prepare(f.OutputPath(out.GeoJSON)); err != nil {
			return err
		}
		if err := export.WriteGeoJSON(f.OutputPath(out.GeoJSON), res.Bands); err != nil {
			return err
		}
	}
	if out.Shapefile != "" {
		if err := prepare(f.OutputPath(out.Shapefile)); err != nil {
			return err
		}
		if err := shapes.WriteBands(f.OutputPath(out.Shapefile), res.Bands); err != nil {
			return err
		}
	}
	if out.XLSX != "" {
		if err := prepare(f.OutputPath(out.XLSX)); err != nil {
			return err
		}
		if err := export.WriteXLSX(f.OutputPath(out.XLSX), res); err != nil {
			return err
		}
	}
	if out.PostGIS && pg != nil {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		if len(res.Bands) > 0 {
			n, err := pg.WriteBands(ctx, runID, res.Bands)
			if err != nil {
				return err
			}
			zap.L().Info("bands exported", zap.Int64("rows", n))
		}
		if res.Surface != nil {
			n, err := pg.WriteTable(ctx, runID, res)
			if err != nil {
				return err
			}
			zap.L().Info("potentials exported", zap.Int64("rows", n))
		}
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	if err := prepare(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal result")
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}

// prepare creates the parent directory of an output path.
func prepare(path string) error {
	return eris.Wrapf(os.MkdirAll(filepath.Dir(path), 0o755), "create directory for %s", path)
}
