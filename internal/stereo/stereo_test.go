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
	"image"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/valyala/fastrand"
)

const noData = float32(-999)

// Returns a random image of the given size
func randomImage(rng *fastrand.RNG, width, height int) *fits.Image {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = float32(rng.Uint32n(1000))
	}
	return fits.NewImageFromNaxisn([]int32{int32(width), int32(height)}, data)
}

// Returns an image such that shifted(p+d) = f(p), mirroring outside the image
func shiftedImage(f *fits.Image, dx, dy int) *fits.Image {
	width, height := int(f.Width()), int(f.Height())
	data := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = f.Data[reflect(height, y-dy)*width+reflect(width, x-dx)]
		}
	}
	return fits.NewImageFromNaxisn(f.Naxisn, data)
}

func constantImage(width, height int, value float32) *fits.Image {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = value
	}
	return fits.NewImageFromNaxisn([]int32{int32(width), int32(height)}, data)
}

func newTestCorrelator(t *testing.T) *Correlator {
	c, err := NewCorrelator(5, 1, -1, 0, noData)
	if err != nil {
		t.Fatalf("correlator: %v", err)
	}
	return c
}

type gaussianKernel1DTestCase struct {
	Size   int
	Sigma  float32
	Kernel []float32
}

func TestGaussianKernel1D(t *testing.T) {
	epsilon := 1e-5
	tcs := []gaussianKernel1DTestCase{
		{3, 1.0, []float32{0.27901, 0.44198, 0.27901}},
		{9, 2.0, []float32{0.028532, 0.067234, 0.124009, 0.179044, 0.20236, 0.179044, 0.124009, 0.067234, 0.028532}},
		{13, 3.0, []float32{0.018816, 0.034474, 0.056577, 0.083173, 0.109523, 0.129188, 0.136498, 0.129188, 0.109523,
			0.083173, 0.056577, 0.034474, 0.018816}},
	}

	for _, tc := range tcs {
		kernel, err := GaussianKernel1D(tc.Size, tc.Sigma)
		if err != nil {
			t.Fatalf("size=%d sigma=%f: %v", tc.Size, tc.Sigma, err)
		}
		sum := float32(0)
		for i, k := range kernel {
			if math.Abs(float64(k-tc.Kernel[i])) > epsilon {
				t.Errorf("sigma=%f k[%d]=%f; want %f", tc.Sigma, i, k, tc.Kernel[i])
			}
			sum += k
		}
		if math.Abs(float64(sum-1)) > epsilon {
			t.Errorf("sigma=%f sum=%f; want 1", tc.Sigma, sum)
		}
	}

	for _, size := range []int{0, -3, 4} {
		if _, err := GaussianKernel1D(size, 1); err == nil {
			t.Errorf("size=%d: expected error", size)
		}
	}
	if _, err := GaussianKernel1D(5, 0); err == nil {
		t.Errorf("sigma=0: expected error")
	}
}

func TestSearchWindowValidate(t *testing.T) {
	if err := (SearchWindow{-2, 2, -3, 3}).Validate(); err != nil {
		t.Errorf("valid window: %v", err)
	}
	if err := (SearchWindow{2, -2, 0, 0}).Validate(); err == nil {
		t.Errorf("minX>maxX: expected error")
	}
	if err := (SearchWindow{0, 0, 1, 0}).Validate(); err == nil {
		t.Errorf("minY>maxY: expected error")
	}
}

func TestDenseGenerator(t *testing.T) {
	g := NewDenseGenerator(SearchWindow{-1, 1, 0, 1}, 0, 0)
	set, err := g.Disparities(nil, nil, image.Rect(0, 0, 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	want := []Vector{{-1, 0}, {0, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}
	if diff := cmp.Diff(want, set); diff != "" {
		t.Errorf("dense set mismatch (-want +got):\n%s", diff)
	}

	g = NewDenseGenerator(SearchWindow{0, 1, 2, 2}, 0.5, 1)
	set, _ = g.Disparities(nil, nil, image.Rect(0, 0, 8, 8))
	want = []Vector{{0, 2}, {0.5, 2}, {1, 2}}
	if diff := cmp.Diff(want, set); diff != "" {
		t.Errorf("sub-pixel set mismatch (-want +got):\n%s", diff)
	}

	again, _ := g.Disparities(nil, nil, image.Rect(4, 4, 6, 6))
	if diff := cmp.Diff(set, again); diff != "" {
		t.Errorf("set depends on region (-first +second):\n%s", diff)
	}

	if _, err := NewDenseGenerator(SearchWindow{1, 0, 0, 0}, 1, 1).Disparities(nil, nil, image.Rect(0, 0, 1, 1)); err == nil {
		t.Errorf("expected error for malformed window")
	}
}

func TestCrossCorrelationPeak(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(42)
	ref := randomImage(&rng, 64, 64)
	for _, d := range []image.Point{{3, -2}, {0, 0}, {-5, 4}} {
		cmpImg := shiftedImage(ref, d.X, d.Y)
		got := CrossCorrelationPeak(ref.Data, cmpImg.Data, 64, image.Rect(16, 16, 48, 48))
		if got != d {
			t.Errorf("peak=%v; want %v", got, d)
		}
	}
}

func TestSeededGenerator(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(7)
	ref := randomImage(&rng, 64, 64)
	cmpImg := shiftedImage(ref, 3, -2)

	g := NewSeededGenerator(SearchWindow{-8, 8, -8, 8}, 32, 1, 9)
	set, err := g.Disparities(ref, cmpImg, ref.Bounds())
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 9 {
		t.Fatalf("len=%d; want 9", len(set))
	}
	if !cmp.Equal(set[4], Vector{3, -2}) {
		t.Errorf("centre=%v; want (3,-2)", set[4])
	}

	// the radius grows until enough candidates are found
	g.MinCandidates = 20
	set, _ = g.Disparities(ref, cmpImg, ref.Bounds())
	if len(set) != 25 {
		t.Errorf("len=%d; want 25", len(set))
	}

	// estimates are clamped to the window
	g = NewSeededGenerator(SearchWindow{-1, 1, -1, 1}, 32, 0, 1)
	set, _ = g.Disparities(ref, cmpImg, ref.Bounds())
	if diff := cmp.Diff([]Vector{{1, -1}}, set); diff != "" {
		t.Errorf("clamped set mismatch (-want +got):\n%s", diff)
	}

	// regions smaller than the crop fall back to the whole window
	g = NewSeededGenerator(SearchWindow{-1, 1, -1, 1}, 32, 0, 1)
	set, _ = g.Disparities(ref, cmpImg, image.Rect(0, 0, 16, 16))
	if len(set) != 9 {
		t.Errorf("fallback len=%d; want 9", len(set))
	}
}

func TestCorrelateKnownShift(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(1)
	ref := randomImage(&rng, 64, 64)
	cmpImg := shiftedImage(ref, 2, -5)

	// right half of the region unusable
	mask := constantImage(64, 64, 1)
	for y := 0; y < 64; y++ {
		for x := 32; x < 64; x++ {
			mask.Data[y*64+x] = 0
		}
	}

	region := image.Rect(16, 16, 48, 48)
	set, _ := NewDenseGenerator(SearchWindow{-4, 4, -8, 8}, 1, 1).Disparities(ref, cmpImg, region)
	field, err := newTestCorrelator(t).Correlate(ref, cmpImg, mask, region, set)
	if err != nil {
		t.Fatal(err)
	}

	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			i := field.Index(image.Pt(x, y))
			if x < 32 {
				if field.DX[i] != 2 || field.DY[i] != -5 || field.Cost[i] != 0 {
					t.Fatalf("(%d,%d): got d=(%g,%g) cost=%g; want (2,-5) cost 0", x, y, field.DX[i], field.DY[i], field.Cost[i])
				}
			} else if field.DX[i] != noData || field.DY[i] != noData || field.Cost[i] != noData {
				t.Fatalf("(%d,%d): unusable pixel got d=(%g,%g) cost=%g; want no data", x, y, field.DX[i], field.DY[i], field.Cost[i])
			}
		}
	}
	if m := field.Matched(); m != 16*32 {
		t.Errorf("matched=%d; want %d", m, 16*32)
	}
}

func TestCorrelateSubpixelShift(t *testing.T) {
	// a linear ramp shifted by half a pixel is matched exactly by bilinear interpolation
	width, height := 32, 16
	ref := constantImage(width, height, 0)
	cmpImg := constantImage(width, height, 0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ref.Data[y*width+x] = float32(10 * x)
			cmpImg.Data[y*width+x] = float32(10*x) - 5
		}
	}
	region := image.Rect(8, 4, 24, 12)
	set := []Vector{{-1, 0}, {0, 0}, {0.5, 0}, {1, 0}}
	field, err := newTestCorrelator(t).Correlate(ref, cmpImg, nil, region, set)
	if err != nil {
		t.Fatal(err)
	}
	for i := range field.DX {
		if field.DX[i] != 0.5 || field.DY[i] != 0 || math.Abs(float64(field.Cost[i])) > 1e-3 {
			t.Fatalf("pixel %d: d=(%g,%g) cost=%g; want (0.5,0) cost 0", i, field.DX[i], field.DY[i], field.Cost[i])
		}
	}
}

func TestCorrelateTieGoesToLaterCandidate(t *testing.T) {
	ref := constantImage(16, 16, 7)
	cmpImg := constantImage(16, 16, 7)
	set := []Vector{{1, 0}, {-1, 1}}
	field, err := newTestCorrelator(t).Correlate(ref, cmpImg, nil, ref.Bounds(), set)
	if err != nil {
		t.Fatal(err)
	}
	for i := range field.Cost {
		if field.DX[i] != -1 || field.DY[i] != 1 || field.Cost[i] != 0 {
			t.Fatalf("pixel %d: d=(%g,%g) cost=%g; want (-1,1) cost 0", i, field.DX[i], field.DY[i], field.Cost[i])
		}
	}
}

func TestCorrelateSkipsLargeVerticalShifts(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(3)
	ref := randomImage(&rng, 32, 32)
	cmpImg := randomImage(&rng, 32, 32)
	region := image.Rect(8, 8, 24, 12) // height 4
	c := newTestCorrelator(t)

	base, err := c.Correlate(ref, cmpImg, nil, region, []Vector{{0, 0}, {1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	withLarge, err := c.Correlate(ref, cmpImg, nil, region, []Vector{{0, 0}, {0, 4}, {1, 1}, {2, -7}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(base.Cost, withLarge.Cost); diff != "" {
		t.Errorf("cost changed by skipped candidates (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(base.DY, withLarge.DY); diff != "" {
		t.Errorf("dy changed by skipped candidates (-want +got):\n%s", diff)
	}

	// only too large candidates leave everything unmatched
	none, err := c.Correlate(ref, cmpImg, nil, region, []Vector{{0, 5}})
	if err != nil {
		t.Fatal(err)
	}
	if none.Matched() != 0 {
		t.Errorf("matched=%d; want 0", none.Matched())
	}
}

func TestCorrelateIdempotentAndMinimal(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(11)
	ref := randomImage(&rng, 40, 40)
	cmpImg := randomImage(&rng, 40, 40)
	region := image.Rect(5, 5, 35, 30)
	set, _ := NewDenseGenerator(SearchWindow{-2, 2, -2, 2}, 1, 1).Disparities(ref, cmpImg, region)
	c := newTestCorrelator(t)

	first, err := c.Correlate(ref, cmpImg, nil, region, set)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := c.Correlate(ref, cmpImg, nil, region, set)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated correlation differs (-first +second):\n%s", diff)
	}

	for _, d := range set {
		single, _ := c.Correlate(ref, cmpImg, nil, region, []Vector{d})
		for i, cost := range single.Cost {
			if first.Cost[i] > cost {
				t.Fatalf("candidate %v pixel %d: cost %g below best %g", d, i, cost, first.Cost[i])
			}
		}
	}
}

func TestCorrelateEdgeBandAndMask(t *testing.T) {
	ref := constantImage(20, 20, 1)
	cmpImg := constantImage(20, 20, 1)
	c, err := NewCorrelator(3, 1, -1, 3, noData)
	if err != nil {
		t.Fatal(err)
	}
	field, err := c.Correlate(ref, cmpImg, nil, ref.Bounds(), []Vector{{0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			i := field.Index(image.Pt(x, y))
			inBand := x < 3 || y < 3 || x >= 17 || y >= 17
			if inBand != (field.Cost[i] == noData) {
				t.Fatalf("(%d,%d): cost=%g, in band %v", x, y, field.Cost[i], inBand)
			}
		}
	}

	// a fully unusable mask yields no data everywhere, whatever the images contain
	mask := constantImage(20, 20, float32(math.NaN()))
	field, err = c.Correlate(ref, cmpImg, mask, image.Rect(4, 4, 12, 12), []Vector{{0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if field.Matched() != 0 {
		t.Errorf("matched=%d; want 0", field.Matched())
	}
}

func TestCorrelateErrors(t *testing.T) {
	c := newTestCorrelator(t)
	a, b := constantImage(10, 10, 0), constantImage(12, 10, 0)
	if _, err := c.Correlate(a, b, nil, a.Bounds(), nil); err == nil {
		t.Errorf("expected error for mismatched sizes")
	}
	if _, err := c.Correlate(a, a, nil, image.Rect(5, 5, 15, 15), nil); err == nil {
		t.Errorf("expected error for region outside image")
	}
	if _, err := c.Correlate(a, a, b, a.Bounds(), nil); err == nil {
		t.Errorf("expected error for mismatched mask")
	}

	raw := &Correlator{KernelSize: 3, Sigma: 1, Border: -1, NoData: noData}
	if _, err := raw.Correlate(a, a, nil, a.Bounds(), []Vector{{0, 0}}); err == nil {
		t.Errorf("expected error for uninitialized correlator")
	}
	if raw.Border != -1 {
		t.Errorf("border=%d; correlate must not modify the configuration", raw.Border)
	}
	if err := raw.Init(); err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Correlate(a, a, nil, a.Bounds(), []Vector{{0, 0}}); err != nil {
		t.Errorf("after init: %v", err)
	}
}

func TestSizedPool(t *testing.T) {
	p := newSizedPool[float32]()
	arr := p.Get(17)
	if len(arr) != 17 {
		t.Fatalf("len=%d; want 17", len(arr))
	}
	p.Put(arr[:3])
	if again := p.Get(17); len(again) != 17 {
		t.Errorf("len=%d; want 17", len(again))
	}
}
