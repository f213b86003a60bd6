package shapes

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/potentials/internal/spatial"
)

// EncodeEWKB converts a band geometry to little-endian EWKB tagged with srid.
// The input geometry is not modified.
func EncodeEWKB(mp *geom.MultiPolygon, srid int) ([]byte, error) {
	if mp == nil {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "shapes: nil geometry")
	}
	data, err := ewkb.Marshal(mp.Clone().SetSRID(srid), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "shapes: encode EWKB")
	}
	return data, nil
}

// DecodeMask parses an EWKB polygon or multipolygon into a mask.
func DecodeMask(data []byte) (*spatial.Mask, error) {
	if len(data) == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidParameter, "shapes: empty mask geometry")
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "shapes: decode EWKB")
	}
	return spatial.NewMask(g)
}
