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

// Package stereo implements dense disparity matching between a reference
// and a comparison raster: candidate generation and the correlation sweep.
package stereo

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/mlnoga/cloudtop/internal/fits"
)

// A candidate shift of the comparison image relative to the reference, in pixels
type Vector struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (v Vector) String() string {
	return fmt.Sprintf("(%g,%g)", v.X, v.Y)
}

// Admissible disparities, bounds inclusive
type SearchWindow struct {
	MinX float32 `json:"minX" yaml:"minX"`
	MaxX float32 `json:"maxX" yaml:"maxX"`
	MinY float32 `json:"minY" yaml:"minY"`
	MaxY float32 `json:"maxY" yaml:"maxY"`
}

func (w SearchWindow) Validate() error {
	if math.IsNaN(float64(w.MinX)) || math.IsNaN(float64(w.MaxX)) || math.IsNaN(float64(w.MinY)) || math.IsNaN(float64(w.MaxY)) {
		return errors.New("search window bounds must not be NaN")
	}
	if w.MinX > w.MaxX {
		return fmt.Errorf("search window minX %g exceeds maxX %g", w.MinX, w.MaxX)
	}
	if w.MinY > w.MaxY {
		return fmt.Errorf("search window minY %g exceeds maxY %g", w.MinY, w.MaxY)
	}
	return nil
}

func (w SearchWindow) Contains(v Vector) bool {
	return v.X >= w.MinX && v.X <= w.MaxX && v.Y >= w.MinY && v.Y <= w.MaxY
}

func (w SearchWindow) String() string {
	return fmt.Sprintf("[%g,%g]x[%g,%g]", w.MinX, w.MaxX, w.MinY, w.MaxY)
}

// Produces the candidate disparities to test for one region. Implementations must be
// safe for concurrent use, and return the same sequence for the same inputs.
type Generator interface {
	Disparities(ref, cmp *fits.Image, region image.Rectangle) ([]Vector, error)
}

// Largest absolute x and y components in the set, rounded up to whole pixels
func maxAbs(set []Vector) (maxX, maxY int) {
	for _, d := range set {
		if x := int(math.Ceil(math.Abs(float64(d.X)))); x > maxX {
			maxX = x
		}
		if y := int(math.Ceil(math.Abs(float64(d.Y)))); y > maxY {
			maxY = y
		}
	}
	return maxX, maxY
}
