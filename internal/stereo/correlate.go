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

// Best disparity and its cost per pixel of a region, row-major.
// Pixels without a match hold NoData in all three arrays.
type Field struct {
	Region image.Rectangle
	DX     []float32
	DY     []float32
	Cost   []float32
	NoData float32
}

// Creates a field for the given region with every value set to noData
func NewField(region image.Rectangle, noData float32) *Field {
	size := region.Dx() * region.Dy()
	f := &Field{
		Region: region,
		DX:     make([]float32, size),
		DY:     make([]float32, size),
		Cost:   make([]float32, size),
		NoData: noData,
	}
	for i := range f.DX {
		f.DX[i], f.DY[i], f.Cost[i] = noData, noData, noData
	}
	return f
}

// Index of scene pixel p in the field arrays, or -1 if outside the region
func (f *Field) Index(p image.Point) int {
	if !p.In(f.Region) {
		return -1
	}
	return (p.Y-f.Region.Min.Y)*f.Region.Dx() + p.X - f.Region.Min.X
}

// Number of pixels holding a match
func (f *Field) Matched() int {
	n := 0
	for _, c := range f.Cost {
		if c != f.NoData {
			n++
		}
	}
	return n
}

// Sweeps candidate disparities over a region, keeping the lowest smoothed
// absolute difference per pixel
type Correlator struct {
	KernelSize int     // Gaussian taps, odd
	Sigma      float32 // Gaussian standard deviation in pixels
	Border     int     // Margin around the region included in the smoothing, defaults to the kernel radius if negative
	EdgeBand   int     // Width of the band along the scene border which is never matched
	NoData     float32 // Sentinel for missing values in all outputs

	kernel []float32
}

func NewCorrelator(kernelSize int, sigma float32, border, edgeBand int, noData float32) (*Correlator, error) {
	c := &Correlator{KernelSize: kernelSize, Sigma: sigma, Border: border, EdgeBand: edgeBand, NoData: noData}
	if err := c.Init(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validates the configuration and precomputes the kernel. Must be called before Correlate
// when the struct is built directly
func (c *Correlator) Init() error {
	kernel, err := GaussianKernel1D(c.KernelSize, c.Sigma)
	if err != nil {
		return err
	}
	if c.Border < 0 {
		c.Border = c.KernelSize / 2
	}
	if c.EdgeBand < 0 {
		return fmt.Errorf("edge band %d must not be negative", c.EdgeBand)
	}
	c.kernel = kernel
	return nil
}

// Scratch memory per pixel of region for the given maximum shifts, in bytes
func (c *Correlator) ScratchBytes(region image.Rectangle, maxDX, maxDY int) int64 {
	bw, bh := int64(region.Dx()+2*c.Border), int64(region.Dy()+2*c.Border)
	cw, ch := bw+2*int64(maxDX), bh+2*int64(maxDY)
	return 4 * (4*bw*bh + cw*ch + int64(region.Dx()*region.Dy()))
}

// Matches the region of the comparison image against the reference for every candidate in set.
// A nil mask marks all pixels usable; otherwise mask values of zero or NaN are unusable.
// Candidates with |dy| >= region height are skipped. The returned field is owned by the caller.
func (c *Correlator) Correlate(ref, cmp, mask *fits.Image, region image.Rectangle, set []Vector) (*Field, error) {
	if c.kernel == nil {
		return nil, errors.New("correlator not initialized, call Init or use NewCorrelator")
	}
	if ref == nil || cmp == nil {
		return nil, errors.New("correlator needs reference and comparison images")
	}
	if !fits.SameSize(ref, cmp) {
		return nil, fmt.Errorf("%d: size %s differs from reference size %s", cmp.ID, cmp.DimensionsToString(), ref.DimensionsToString())
	}
	if mask != nil && !fits.SameSize(ref, mask) {
		return nil, fmt.Errorf("%d: mask size %s differs from reference size %s", mask.ID, mask.DimensionsToString(), ref.DimensionsToString())
	}
	if region.Empty() || !region.In(ref.Bounds()) {
		return nil, fmt.Errorf("%d: region %v not within image bounds %v", ref.ID, region, ref.Bounds())
	}

	field := NewField(region, c.NoData)
	usable, numUsable := c.usablePixels(ref.Bounds(), mask, region)
	if numUsable == 0 {
		return field, nil
	}

	w, h := region.Dx(), region.Dy()
	maxDX, maxDY := maxAbs(set)
	bordered := region.Inset(-c.Border)
	expanded := image.Rect(bordered.Min.X-maxDX, bordered.Min.Y-maxDY, bordered.Max.X+maxDX, bordered.Max.Y+maxDY)

	bw, bh := bordered.Dx(), bordered.Dy()
	refCrop := poolFloat32.Get(bw * bh)
	cmpCrop := poolFloat32.Get(expanded.Dx() * expanded.Dy())
	diff := poolFloat32.Get(bw * bh)
	tmp := poolFloat32.Get(bw * bh)
	cost := poolFloat32.Get(bw * bh)
	best := poolFloat32.Get(w * h)
	defer func() {
		for _, arr := range [][]float32{refCrop, cmpCrop, diff, tmp, cost, best} {
			poolFloat32.Put(arr)
		}
	}()

	mirrorCrop(refCrop, ref, bordered)
	mirrorCrop(cmpCrop, cmp, expanded)
	for i := range best {
		best[i] = float32(math.Inf(1))
	}

	ox, oy := maxDX, maxDY // offset of the bordered area within the expanded crop
	for _, d := range set {
		if math.Abs(float64(d.Y)) >= float64(h) {
			continue // no valid overlap
		}
		shiftedAbsDiff(diff, refCrop, cmpCrop, bw, bh, expanded.Dx(), expanded.Dy(), ox, oy, d)
		GaussFilter2D(cost, tmp, diff, bw, c.kernel)

		for y := 0; y < h; y++ {
			costRow := cost[(y+c.Border)*bw+c.Border:]
			for x := 0; x < w; x++ {
				i := y*w + x
				if !usable[i] {
					continue
				}
				if newCost := costRow[x]; newCost <= best[i] {
					best[i], field.DX[i], field.DY[i] = newCost, d.X, d.Y
				}
			}
		}
	}

	for i, b := range best {
		if usable[i] && !math.IsInf(float64(b), 1) {
			field.Cost[i] = b
		} else {
			field.DX[i], field.DY[i], field.Cost[i] = c.NoData, c.NoData, c.NoData
		}
	}
	return field, nil
}

// Marks region pixels outside the edge band whose mask value is usable
func (c *Correlator) usablePixels(scene image.Rectangle, mask *fits.Image, region image.Rectangle) ([]bool, int) {
	inner := scene.Inset(c.EdgeBand)
	var maskData []float32
	if mask != nil {
		maskData = mask.Channel(0)
	}
	usable := make([]bool, region.Dx()*region.Dy())
	n := 0
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			if !image.Pt(x, y).In(inner) {
				continue
			}
			if maskData != nil {
				if m := maskData[y*scene.Dx()+x]; m == 0 || m != m {
					continue
				}
			}
			usable[(y-region.Min.Y)*region.Dx()+x-region.Min.X] = true
			n++
		}
	}
	return usable, n
}

// Copies the given rectangle of channel 0 of f into dst, mirroring coordinates outside the image
func mirrorCrop(dst []float32, f *fits.Image, r image.Rectangle) {
	width, height := int(f.Width()), int(f.Height())
	data := f.Channel(0)
	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := data[reflect(height, y)*width:]
		for x := r.Min.X; x < r.Max.X; x++ {
			dst[i] = row[reflect(width, x)]
			i++
		}
	}
}

// Computes |ref(p) - cmp(p+d)| over the bordered area. The comparison crop is larger by
// (ox, oy) on each side; fractional shifts interpolate bilinearly
func shiftedAbsDiff(diff, ref, cmp []float32, bw, bh, cw, ch, ox, oy int, d Vector) {
	fx, fy := math.Floor(float64(d.X)), math.Floor(float64(d.Y))
	ix, iy := int(fx), int(fy)
	ax, ay := float32(float64(d.X)-fx), float32(float64(d.Y)-fy)

	if ax == 0 && ay == 0 {
		for y := 0; y < bh; y++ {
			cmpRow := cmp[(y+oy+iy)*cw+ox+ix:]
			refRow := ref[y*bw : (y+1)*bw]
			diffRow := diff[y*bw : (y+1)*bw]
			for x, r := range refRow {
				diffRow[x] = float32(math.Abs(float64(r - cmpRow[x])))
			}
		}
		return
	}

	for y := 0; y < bh; y++ {
		y0 := y + oy + iy
		y1 := y0 + 1
		if y1 >= ch {
			y1 = ch - 1
		}
		for x := 0; x < bw; x++ {
			x0 := x + ox + ix
			x1 := x0 + 1
			if x1 >= cw {
				x1 = cw - 1
			}
			top := cmp[y0*cw+x0]*(1-ax) + cmp[y0*cw+x1]*ax
			bottom := cmp[y1*cw+x0]*(1-ax) + cmp[y1*cw+x1]*ax
			v := top*(1-ay) + bottom*ay
			diff[y*bw+x] = float32(math.Abs(float64(ref[y*bw+x] - v)))
		}
	}
}
