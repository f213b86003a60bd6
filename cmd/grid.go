package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/potentials/internal/grid"
	"github.com/sells-group/potentials/internal/shapes"
	"github.com/sells-group/potentials/internal/spatial"
)

var (
	gridMask       string
	gridResolution float64
	gridBuffer     float64
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Report the raster grid a mask produces",
	Long:  "Tiles a shapefile or GeoJSON mask at the given resolution and reports the lattice and the number of cells inside the mask, without computing potentials.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mask, err := readMask(gridMask)
		if err != nil {
			return err
		}
		g, err := grid.Generate(cmd.Context(), mask, gridResolution,
			grid.WithBuffer(gridBuffer),
			grid.WithMaxCells(cfg.Engine.MaxCells),
			grid.WithWorkers(cfg.Engine.Workers),
		)
		if err != nil {
			return err
		}
		return writeGridReport(os.Stdout, mask, g)
	},
}

func init() {
	gridCmd.Flags().StringVar(&gridMask, "mask", "", "mask shapefile (.shp) or GeoJSON file (required)")
	gridCmd.Flags().Float64Var(&gridResolution, "resolution", 0, "cell size in mask units (required)")
	gridCmd.Flags().Float64Var(&gridBuffer, "buffer", 0, "also keep cells within this distance outside the mask")
	_ = gridCmd.MarkFlagRequired("mask")
	_ = gridCmd.MarkFlagRequired("resolution")
	rootCmd.AddCommand(gridCmd)
}

type gridReport struct {
	Bounds   spatial.BBox `json:"bounds"`
	Area     float64      `json:"area"`
	Lattice  grid.Lattice `json:"lattice"`
	Lattices int          `json:"lattice_cells"`
	Cells    int          `json:"cells"`
	Coverage float64      `json:"coverage"`
}

func writeGridReport(w io.Writer, mask *spatial.Mask, g *grid.Grid) error {
	r := gridReport{
		Bounds:   mask.Bounds(),
		Area:     mask.Area(),
		Lattice:  g.Lattice,
		Lattices: g.Lattice.Len(),
		Cells:    len(g.Cells),
	}
	if r.Lattices > 0 {
		r.Coverage = float64(r.Cells) / float64(r.Lattices)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// readMask picks the reader from the file extension.
func readMask(path string) (*spatial.Mask, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return shapes.ReadMask(path)
	case ".geojson", ".json":
		return shapes.ReadGeoJSONMask(path)
	default:
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "mask %s: expected .shp, .geojson or .json", path)
	}
}
