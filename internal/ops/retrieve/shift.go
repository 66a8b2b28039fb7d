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

// Package retrieve provides pipeline operators deriving geophysical products from disparities.
package retrieve

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/mlnoga/cloudtop/internal/coreg"
	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/height"
	"github.com/mlnoga/cloudtop/internal/ops"
	"github.com/mlnoga/cloudtop/internal/ops/match"
)

// Channels of a shift product
const (
	ChannelShiftX int32 = iota
	ChannelShiftY
)

// Computes the coregistration shift from a disparity product. Takes n disparity products,
// produces n two-channel shift products with integer x and y shifts
type OpShift struct {
	ops.OpUnaryBase
	Mask      string           `json:"mask"`      // reliability mask file, empty for none
	Expected  string           `json:"expected"`  // expected y disparity file
	Elevation string           `json:"elevation"` // elevation file to derive the expected disparity from, if none is given
	Camera    height.ConeModel `json:"camera"`
	TileSize  int              `json:"tileSize"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpShiftDefault() }) } // register the operator for JSON decoding

func NewOpShiftDefault() *OpShift { return NewOpShift("", "", "", DefaultCamera(), 256) }

func NewOpShift(mask, expected, elevation string, camera height.ConeModel, tileSize int) *OpShift {
	op := &OpShift{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "shift", Active: true}},
		Mask:        mask,
		Expected:    expected,
		Elevation:   elevation,
		Camera:      camera,
		TileSize:    tileSize,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpShift) UnmarshalJSON(data []byte) error {
	type defaults OpShift
	def := defaults(*NewOpShiftDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpShift(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpShift) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if op.Expected == "" && op.Elevation != "" {
		if err := op.Camera.Validate(); err != nil {
			return nil, err
		}
	}
	return op.OpUnaryBase.MakePromises(ins, c)
}

// Returns the expected disparity raster: given, derived from elevation, or nil for zero
func (op *OpShift) expected(c *ops.Context) (*fits.Image, error) {
	if op.Expected != "" {
		return c.Aux(op.Expected)
	}
	elev, err := c.Aux(op.Elevation)
	if err != nil || elev == nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Deriving expected disparity from elevation %s\n", elev.ID, elev.FileName)
	return height.ExpectedDisparity(&op.Camera, elev, c.NoData), nil
}

func (op *OpShift) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	mask, err := c.Aux(op.Mask)
	if err != nil {
		return nil, err
	}
	expected, err := op.expected(c)
	if err != nil {
		return nil, err
	}
	for _, aux := range []*fits.Image{mask, expected} {
		if aux != nil && !fits.SameSize(f, aux) {
			return nil, fmt.Errorf("%d: auxiliary size %s differs from product size %s", aux.ID, aux.DimensionsToString(), f.DimensionsToString())
		}
	}

	outNoData := float32(int32(c.NoData))
	res := fits.NewProduct(f.Width(), f.Height(), 2, outNoData)
	res.ID, res.FileName = f.ID, f.FileName
	res.Header.History = append(f.Header.History[:len(f.Header.History):len(f.Header.History)], "shift")

	regions := ops.Tiles(f.Bounds(), op.TileSize)
	shifts := make([]*coreg.Shift, len(regions))
	width := int(f.Width())
	err = c.ForEachRegion(op.Type, regions, 0, func(i int, r image.Rectangle) error {
		field, err := match.LoadField(f, r, c.NoData)
		if err != nil {
			return err
		}
		s, err := coreg.NewCorrector(field.NoData).Correct(field, expected, mask)
		if err != nil {
			return err
		}
		xs, ys := res.Channel(ChannelShiftX), res.Channel(ChannelShiftY)
		j := 0
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				if s.X[j] == s.NoData {
					xs[y*width+x], ys[y*width+x] = outNoData, outNoData
				} else {
					xs[y*width+x], ys[y*width+x] = float32(s.X[j]), float32(s.Y[j])
				}
				j++
			}
		}
		shifts[i] = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.SetNoData(outNoData)
	fmt.Fprintf(c.Log, "%d: Coregistration %v\n", f.ID, coreg.Summarize(shifts...))
	return res, nil
}

// Camera defaults for a conical along-track scanner with a 512 pixel swath
func DefaultCamera() height.ConeModel {
	return height.ConeModel{HalfAngle: 55, PixelSize: 1000, CenterColumn: 255.5, ColumnAngle: 0.18}
}
