package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/potentials/internal/engine"
)

// Sheet names of the workbook written by WriteXLSX.
const (
	SheetPotentials = "potentials"
	SheetBreaks     = "breaks"
)

// WriteXLSX writes a discrete result as a workbook: one row per target with
// every computed variable and the class of the classified variable, and a
// second sheet with the class intervals.
func WriteXLSX(path string, res *engine.Result) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// Workbook builds the workbook WriteXLSX saves.
func Workbook(res *engine.Result) (*xlsx.File, error) {
	if res == nil || res.Surface == nil {
		return nil, eris.New("export: result has no surface")
	}
	s := res.Surface
	vars := s.Variables()
	ids := s.TargetIDs()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetPotentials)
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	header.AddCell().SetString("target_id")
	for _, v := range vars {
		header.AddCell().SetString(v)
	}
	withClass := len(res.Classes) == len(ids)
	if withClass {
		header.AddCell().SetString("class")
	}

	cols := make([][]float64, len(vars))
	for j, v := range vars {
		if cols[j], err = s.Values(v); err != nil {
			return nil, err
		}
	}
	for i, id := range ids {
		row := sheet.AddRow()
		row.AddCell().SetString(id)
		for j := range vars {
			row.AddCell().SetFloat(cols[j][i])
		}
		if withClass {
			row.AddCell().SetInt(res.Classes[i])
		}
	}

	breaks, err := f.AddSheet(SheetBreaks)
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}
	header = breaks.AddRow()
	for _, h := range []string{"class", "lower", "upper"} {
		header.AddCell().SetString(h)
	}
	for c := 0; c+1 < len(res.Breaks); c++ {
		row := breaks.AddRow()
		row.AddCell().SetInt(c)
		row.AddCell().SetFloat(res.Breaks[c])
		row.AddCell().SetFloat(res.Breaks[c+1])
	}
	return f, nil
}
