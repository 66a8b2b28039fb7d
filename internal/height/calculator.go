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

package height

import (
	"fmt"
	"math"

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/stereo"
)

// Converts y disparities into heights clamped to a plausible range. Holds no per-call state,
// so a single instance can serve concurrent region workers.
type Calculator struct {
	Model           CameraModel
	NoData          float64 // Sentinel for missing disparities and heights
	DisparityOffset float64 // Bias added to every disparity before triangulation
	MinHeight       float64 // Lowest valid height in metres, inclusive
	MaxHeight       float64 // Highest valid height in metres, inclusive
}

func NewCalculator(model CameraModel, noData, disparityOffset, minHeight, maxHeight float64) (*Calculator, error) {
	if model == nil {
		return nil, fmt.Errorf("height calculator needs a camera model")
	}
	if minHeight > maxHeight {
		return nil, fmt.Errorf("minimum height %g exceeds maximum height %g", minHeight, maxHeight)
	}
	return &Calculator{Model: model, NoData: noData, DisparityOffset: disparityOffset, MinHeight: minHeight, MaxHeight: maxHeight}, nil
}

// Returns the height for the given column, y disparity and elevation, or NoData
func (c *Calculator) GetHeight(column int, yDisparity, elevation float64) float64 {
	if yDisparity == c.NoData {
		return c.NoData
	}
	raw := c.Model.ComputeHeight(float64(column), yDisparity+c.DisparityOffset, elevation)
	if math.IsNaN(raw) || raw < c.MinHeight || raw > c.MaxHeight {
		return c.NoData
	}
	return raw
}

// Computes heights for every pixel of the field's region, using elevations from the given
// scene-sized raster, or zero if nil. Also returns the number of pixels with a disparity
// whose height fell outside the valid range.
func (c *Calculator) Field(field *stereo.Field, elevation *fits.Image) (heights []float32, outOfRange int, err error) {
	r := field.Region
	var elev []float32
	var elevWidth int
	if elevation != nil {
		if !r.In(elevation.Bounds()) {
			return nil, 0, fmt.Errorf("%d: region %v not within elevation bounds %v", elevation.ID, r, elevation.Bounds())
		}
		elev, elevWidth = elevation.Channel(0), int(elevation.Width())
	}

	noData := float32(c.NoData)
	heights = make([]float32, len(field.DY))
	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dy := field.DY[i]
			e := float32(0)
			if elev != nil {
				e = elev[y*elevWidth+x]
			}
			if dy == field.NoData || (elevation != nil && elevation.HasNoData && e == elevation.NoData) {
				heights[i] = noData
			} else {
				h := c.GetHeight(x, float64(dy), float64(e))
				if h == c.NoData {
					outOfRange++
				}
				heights[i] = float32(h)
			}
			i++
		}
	}
	return heights, outOfRange, nil
}

// Derives the expected y disparity of the terrain from the elevation raster, for use by the
// coregistration corrector. Pixels with missing or invalid elevation get noData.
func ExpectedDisparity(model InvertibleModel, elevation *fits.Image, noData float32) *fits.Image {
	width, height := elevation.Width(), elevation.Height()
	res := fits.NewProduct(width, height, 1, noData)
	res.ID = elevation.ID
	data := elevation.Channel(0)
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			e := data[y*width+x]
			if (elevation.HasNoData && e == elevation.NoData) || e != e {
				continue
			}
			d := model.ComputeDisparity(float64(x), float64(e), 0)
			if !math.IsNaN(d) {
				res.Data[y*width+x] = float32(d)
			}
		}
	}
	res.SetNoData(noData)
	return res
}
