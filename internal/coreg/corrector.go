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

// Package coreg isolates the sensor misalignment component of a measured disparity field.
package coreg

import (
	"fmt"
	"image"

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/stereo"
)

// Residual integer shift per pixel of a region, row-major
type Shift struct {
	Region image.Rectangle
	X      []int32
	Y      []int32
	NoData int32
}

// Subtracts the disparity explained by known geometry from the measured one
type Corrector struct {
	NoData float32 // Sentinel for missing values, in both input disparities and output shifts
}

func NewCorrector(noData float32) *Corrector {
	return &Corrector{NoData: noData}
}

// Computes the shift for every pixel of the field's region. expected holds the expected y disparity
// for the whole scene; nil means zero. A nil mask marks all pixels usable; otherwise mask values of
// zero or NaN are unusable. Unusable pixels and pixels without a disparity get NoData.
func (c *Corrector) Correct(field *stereo.Field, expected, mask *fits.Image) (*Shift, error) {
	r := field.Region
	for _, aux := range []*fits.Image{expected, mask} {
		if aux != nil && !r.In(aux.Bounds()) {
			return nil, fmt.Errorf("%d: region %v not within bounds %v", aux.ID, r, aux.Bounds())
		}
	}

	noData := int32(c.NoData)
	s := &Shift{
		Region: r,
		X:      make([]int32, len(field.DX)),
		Y:      make([]int32, len(field.DY)),
		NoData: noData,
	}

	var expData, maskData []float32
	var expWidth, maskWidth int
	if expected != nil {
		expData, expWidth = expected.Channel(0), int(expected.Width())
	}
	if mask != nil {
		maskData, maskWidth = mask.Channel(0), int(mask.Width())
	}

	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dx, dy := field.DX[i], field.DY[i]
			usable := dx != c.NoData && dy != c.NoData
			if usable && maskData != nil {
				m := maskData[y*maskWidth+x]
				usable = m != 0 && m == m
			}
			exp := float32(0)
			if usable && expData != nil {
				exp = expData[y*expWidth+x]
				usable = exp != c.NoData && exp == exp
			}

			if usable {
				// conversion truncates toward zero
				s.Y[i] = int32(dy - exp)
				s.X[i] = int32(dx)
			} else {
				s.X[i], s.Y[i] = noData, noData
			}
			i++
		}
	}
	return s, nil
}
