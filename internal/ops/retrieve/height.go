// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package retrieve

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/height"
	"github.com/mlnoga/cloudtop/internal/ops"
	"github.com/mlnoga/cloudtop/internal/ops/match"
)

// Computes heights from a disparity product. Takes n disparity products,
// produces n single-channel height products in metres
type OpHeight struct {
	ops.OpUnaryBase
	Camera          height.ConeModel `json:"camera"`
	DisparityOffset float64          `json:"disparityOffset"`
	MinHeight       float64          `json:"minHeight"`
	MaxHeight       float64          `json:"maxHeight"`
	Elevation       string           `json:"elevation"` // elevation file, empty for sea level
	TileSize        int              `json:"tileSize"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpHeightDefault() }) } // register the operator for JSON decoding

func NewOpHeightDefault() *OpHeight { return NewOpHeight(DefaultCamera(), 0, 1000, 20000, "", 256) }

func NewOpHeight(camera height.ConeModel, disparityOffset, minHeight, maxHeight float64, elevation string, tileSize int) *OpHeight {
	op := &OpHeight{
		OpUnaryBase:     ops.OpUnaryBase{OpBase: ops.OpBase{Type: "height", Active: true}},
		Camera:          camera,
		DisparityOffset: disparityOffset,
		MinHeight:       minHeight,
		MaxHeight:       maxHeight,
		Elevation:       elevation,
		TileSize:        tileSize,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpHeight) UnmarshalJSON(data []byte) error {
	type defaults OpHeight
	def := defaults(*NewOpHeightDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpHeight(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpHeight) calculator(c *ops.Context) (*height.Calculator, error) {
	if err := op.Camera.Validate(); err != nil {
		return nil, err
	}
	return height.NewCalculator(&op.Camera, float64(c.NoData), op.DisparityOffset, op.MinHeight, op.MaxHeight)
}

func (op *OpHeight) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if _, err := op.calculator(c); err != nil {
		return nil, err
	}
	return op.OpUnaryBase.MakePromises(ins, c)
}

func (op *OpHeight) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	calc, err := op.calculator(c)
	if err != nil {
		return nil, err
	}
	elev, err := c.Aux(op.Elevation)
	if err != nil {
		return nil, err
	}
	if elev != nil && !fits.SameSize(f, elev) {
		return nil, fmt.Errorf("%d: elevation size %s differs from product size %s", elev.ID, elev.DimensionsToString(), f.DimensionsToString())
	}

	res := fits.NewProduct(f.Width(), f.Height(), 1, c.NoData)
	res.ID, res.FileName = f.ID, f.FileName
	res.Header.History = append(f.Header.History[:len(f.Header.History):len(f.Header.History)],
		fmt.Sprintf("height offset=%g range=[%g,%g]", op.DisparityOffset, op.MinHeight, op.MaxHeight))

	width := int(f.Width())
	err = c.ForEachRegion(op.Type, ops.Tiles(f.Bounds(), op.TileSize), 0, func(i int, r image.Rectangle) error {
		field, err := match.LoadField(f, r, c.NoData)
		if err != nil {
			return err
		}
		heights, outOfRange, err := calc.Field(field, elev)
		if err != nil {
			return err
		}
		if outOfRange > 0 {
			fmt.Fprintf(c.Log, "%d: region %v: %d heights outside [%g,%g]\n", f.ID, r, outOfRange, op.MinHeight, op.MaxHeight)
		}
		data := res.Data
		for y := r.Min.Y; y < r.Max.Y; y++ {
			copy(data[y*width+r.Min.X:y*width+r.Max.X], heights[(y-r.Min.Y)*r.Dx():(y-r.Min.Y+1)*r.Dx()])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.SetNoData(c.NoData)
	fmt.Fprintf(c.Log, "%d: Heights %v\n", f.ID, res.Stats)
	return res, nil
}
