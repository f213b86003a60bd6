package source

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/potentials/internal/spatial"
)

// SheetSpec locates known points in a workbook. The first row of the sheet is
// the header; columns are matched case-insensitively.
type SheetSpec struct {
	Sheet    string   `yaml:"sheet" json:"sheet"` // default: first sheet
	IDColumn string   `yaml:"id_column" json:"id_column"`
	XColumn  string   `yaml:"x_column" json:"x_column"`
	YColumn  string   `yaml:"y_column" json:"y_column"`
	Stocks   []string `yaml:"stocks" json:"stocks"`
}

// ReadXLSX loads known points from one sheet of a workbook. Blank rows are
// skipped; a non-numeric coordinate or stock is an error.
func ReadXLSX(path string, spec SheetSpec) ([]spatial.KnownPoint, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, err := getSheet(f, spec.Sheet)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "xlsx: sheet %q is empty", sheet.Name)
	}

	header := map[string]int{}
	for j, c := range rowToStrings(sheet.Rows[0]) {
		header[strings.ToLower(strings.TrimSpace(c))] = j
	}
	column := func(name, fallback string) (int, error) {
		if name == "" {
			name = fallback
		}
		j, ok := header[strings.ToLower(name)]
		if !ok {
			return 0, eris.Wrapf(spatial.ErrInvalidParameter, "xlsx: no column %q", name)
		}
		return j, nil
	}
	idCol, err := column(spec.IDColumn, "id")
	if err != nil {
		return nil, err
	}
	xCol, err := column(spec.XColumn, "x")
	if err != nil {
		return nil, err
	}
	yCol, err := column(spec.YColumn, "y")
	if err != nil {
		return nil, err
	}
	stockCols := make([]int, len(spec.Stocks))
	for i, s := range spec.Stocks {
		if stockCols[i], err = column(s, ""); err != nil {
			return nil, err
		}
	}

	var points []spatial.KnownPoint
	for i, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if blank(cells) {
			continue
		}
		line := i + 2
		num := func(j int, what string) (float64, error) {
			raw := ""
			if j < len(cells) {
				raw = strings.TrimSpace(cells[j])
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return 0, eris.Wrapf(spatial.ErrInvalidParameter, "xlsx: row %d %s is %q", line, what, raw)
			}
			return v, nil
		}
		kp := spatial.KnownPoint{Stocks: make(map[string]float64, len(spec.Stocks))}
		if idCol < len(cells) {
			kp.ID = strings.TrimSpace(cells[idCol])
		}
		if kp.X, err = num(xCol, "x"); err != nil {
			return nil, err
		}
		if kp.Y, err = num(yCol, "y"); err != nil {
			return nil, err
		}
		for k, s := range spec.Stocks {
			if kp.Stocks[s], err = num(stockCols[k], s); err != nil {
				return nil, err
			}
		}
		points = append(points, kp)
	}
	return points, nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Wrapf(spatial.ErrInvalidParameter, "xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
