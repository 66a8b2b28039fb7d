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

package stereo

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/mlnoga/cloudtop/internal/fits"
)

// Enumerates every step combination inside the window, y outer and x inner, both ascending
type DenseGenerator struct {
	Window SearchWindow
	StepX  float32 // Step along x. Values <= 0 default to 1
	StepY  float32 // Step along y. Values <= 0 default to 1
}

func NewDenseGenerator(window SearchWindow, stepX, stepY float32) *DenseGenerator {
	return &DenseGenerator{Window: window, StepX: stepX, StepY: stepY}
}

func (g *DenseGenerator) Disparities(ref, cmp *fits.Image, region image.Rectangle) ([]Vector, error) {
	if err := g.Window.Validate(); err != nil {
		return nil, err
	}
	return g.enumerate(), nil
}

func (g *DenseGenerator) enumerate() []Vector {
	stepX, stepY := g.StepX, g.StepY
	if stepX <= 0 {
		stepX = 1
	}
	if stepY <= 0 {
		stepY = 1
	}
	w := g.Window
	// index-based to avoid accumulating rounding errors on sub-pixel steps
	nx := int(math.Floor(float64((w.MaxX-w.MinX)/stepX)+1e-4)) + 1
	ny := int(math.Floor(float64((w.MaxY-w.MinY)/stepY)+1e-4)) + 1
	set := make([]Vector, 0, nx*ny)
	for j := 0; j < ny; j++ {
		dy := w.MinY + float32(j)*stepY
		for i := 0; i < nx; i++ {
			set = append(set, Vector{X: w.MinX + float32(i)*stepX, Y: dy})
		}
	}
	return set
}

// Biases the search toward the peak of a coarse cross-correlation of the two images,
// then enumerates the integer disparities within a neighborhood of that estimate
type SeededGenerator struct {
	Window        SearchWindow
	CropSize      int // Edge length of the centred square sub-images correlated
	Radius        int // Initial neighborhood radius around the estimate, in pixels
	MinCandidates int // The radius grows until at least this many candidates are found
}

func NewSeededGenerator(window SearchWindow, cropSize, radius, minCandidates int) *SeededGenerator {
	return &SeededGenerator{Window: window, CropSize: cropSize, Radius: radius, MinCandidates: minCandidates}
}

func (g *SeededGenerator) Disparities(ref, cmp *fits.Image, region image.Rectangle) ([]Vector, error) {
	if err := g.Window.Validate(); err != nil {
		return nil, err
	}
	if g.CropSize < 2 {
		return nil, fmt.Errorf("seeded generator crop size %d must be at least 2", g.CropSize)
	}
	if ref == nil || cmp == nil {
		return nil, errors.New("seeded generator needs reference and comparison images")
	}
	if !fits.SameSize(ref, cmp) {
		return nil, fmt.Errorf("%d: size %s differs from reference size %s", cmp.ID, cmp.DimensionsToString(), ref.DimensionsToString())
	}

	// integer bounds of the window
	minX, maxX := int(math.Ceil(float64(g.Window.MinX))), int(math.Floor(float64(g.Window.MaxX)))
	minY, maxY := int(math.Ceil(float64(g.Window.MinY))), int(math.Floor(float64(g.Window.MaxY)))
	region = region.Intersect(ref.Bounds())
	if region.Dx() < g.CropSize || region.Dy() < g.CropSize || minX > maxX || minY > maxY {
		return (&DenseGenerator{Window: g.Window}).enumerate(), nil
	}

	// estimate from the correlation peak, clamped to the window
	crop := image.Rect(0, 0, g.CropSize, g.CropSize).Add(region.Min).Add(
		image.Pt((region.Dx()-g.CropSize)/2, (region.Dy()-g.CropSize)/2))
	est := CrossCorrelationPeak(ref.Channel(0), cmp.Channel(0), int(ref.Width()), crop)
	est.X = clampInt(est.X, minX, maxX)
	est.Y = clampInt(est.Y, minY, maxY)

	radius := g.Radius
	if radius < 0 {
		radius = 0
	}
	for {
		x0, x1 := clampInt(est.X-radius, minX, maxX), clampInt(est.X+radius, minX, maxX)
		y0, y1 := clampInt(est.Y-radius, minY, maxY), clampInt(est.Y+radius, minY, maxY)
		exhausted := x0 == minX && x1 == maxX && y0 == minY && y1 == maxY
		if (x1-x0+1)*(y1-y0+1) >= g.MinCandidates || exhausted {
			set := make([]Vector, 0, (x1-x0+1)*(y1-y0+1))
			for dy := y0; dy <= y1; dy++ {
				for dx := x0; dx <= x1; dx++ {
					set = append(set, Vector{X: float32(dx), Y: float32(dy)})
				}
			}
			return set, nil
		}
		radius++
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	} else if v > max {
		return max
	}
	return v
}
