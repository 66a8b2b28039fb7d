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

package match

import (
	"encoding/json"
	"image"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/ops"
	"github.com/mlnoga/cloudtop/internal/stereo"
	"github.com/valyala/fastrand"
)

func promiseOf(f *fits.Image) ops.Promise {
	return func() (*fits.Image, error) { return f, nil }
}

// Returns a random image and a copy shifted such that cmp(p+d) = ref(p)
func shiftedPair(seed uint32, width, height, dx, dy int) (ref, cmp *fits.Image) {
	rng := fastrand.RNG{}
	rng.Seed(seed)
	refData, cmpData := make([]float32, width*height), make([]float32, width*height)
	for i := range refData {
		refData[i] = float32(rng.Uint32n(1000))
	}
	clamp := func(v, n int) int {
		if v < 0 {
			return 0
		} else if v >= n {
			return n - 1
		}
		return v
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			cmpData[y*width+x] = refData[clamp(y-dy, height)*width+clamp(x-dx, width)]
		}
	}
	naxisn := []int32{int32(width), int32(height)}
	ref, cmp = fits.NewImageFromNaxisn(naxisn, refData), fits.NewImageFromNaxisn(naxisn, cmpData)
	cmp.ID = 1
	return ref, cmp
}

func TestUnmarshalDefaults(t *testing.T) {
	seq := ops.NewOpSequenceDefault()
	data := []byte(`{"type":"seq","steps":[{"type":"match","generator":"seeded","window":{"minX":-2,"maxX":2,"minY":-4,"maxY":4}}]}`)
	if err := json.Unmarshal(data, seq); err != nil {
		t.Fatal(err)
	}
	if len(seq.Steps) != 1 {
		t.Fatalf("steps=%d; want 1", len(seq.Steps))
	}
	op, ok := seq.Steps[0].(*OpMatch)
	if !ok {
		t.Fatalf("step is %T; want *OpMatch", seq.Steps[0])
	}
	if op.Generator != GenSeeded || op.Window.MaxY != 4 {
		t.Errorf("explicit values not decoded: %+v", op)
	}
	if op.KernelSize != 7 || op.Sigma != 1.5 || op.TileSize != 256 || !op.Active {
		t.Errorf("defaults not applied: %+v", op)
	}
}

func TestConfigurationErrors(t *testing.T) {
	c := ops.NewContext(io.Discard, -999)
	ref, cmp := shiftedPair(1, 8, 8, 0, 0)
	ins := []ops.Promise{promiseOf(ref), promiseOf(cmp)}

	op := NewOpMatchDefault()
	if _, err := op.MakePromises(ins[:1], c); err == nil {
		t.Errorf("expected error for a single input")
	}

	op.Window = stereo.SearchWindow{MinX: 1, MaxX: 0}
	if _, err := op.MakePromises(ins, c); err == nil {
		t.Errorf("expected error for malformed window")
	}

	op = NewOpMatchDefault()
	op.Generator = "sparse"
	if _, err := op.MakePromises(ins, c); err == nil {
		t.Errorf("expected error for unknown generator")
	}

	op = NewOpMatchDefault()
	op.KernelSize = 4
	if _, err := op.MakePromises(ins, c); err == nil {
		t.Errorf("expected error for even kernel size")
	}

	empty := fits.NewImageFromNaxisn([]int32{0, 8}, nil)
	outs, err := NewOpMatchDefault().MakePromises([]ops.Promise{promiseOf(empty), promiseOf(empty)}, c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := outs[0](); err == nil {
		t.Errorf("expected error for empty image")
	}
}

func TestMatchKnownShift(t *testing.T) {
	width, height := 64, 48
	ref, cmp := shiftedPair(5, width, height, 2, -5)

	mask := fits.NewImageFromNaxisn([]int32{int32(width), int32(height)}, nil)
	for i := range mask.Data {
		if i%width < 40 {
			mask.Data[i] = 1
		}
	}
	c := ops.NewContext(io.Discard, -999)
	c.MaxThreads = 3
	c.SetAux("mask.fits", mask)
	var regions int32
	c.RegionObserver = func(op string, r image.Rectangle, elapsed time.Duration) { atomic.AddInt32(&regions, 1) }

	op := NewOpMatch(stereo.SearchWindow{MinX: -3, MaxX: 3, MinY: -6, MaxY: 6}, GenDense, 5, 1, 0, 16)
	op.Mask = "mask.fits"
	outs, err := op.MakePromises([]ops.Promise{promiseOf(ref), promiseOf(cmp)}, c)
	if err != nil {
		t.Fatal(err)
	}
	product, err := outs[0]()
	if err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&regions); n != 12 {
		t.Errorf("observed %d regions; want 12", n)
	}
	if product.Channels() != NumChannels {
		t.Fatalf("channels=%d; want %d", product.Channels(), NumChannels)
	}

	dx, dy, cost := product.Channel(ChannelDX), product.Channel(ChannelDY), product.Channel(ChannelCost)
	for y := 12; y < 36; y++ {
		for x := 8; x < 56; x++ {
			i := y*width + x
			if x < 40 {
				if dx[i] != 2 || dy[i] != -5 || cost[i] != 0 {
					t.Fatalf("(%d,%d): d=(%g,%g) cost=%g; want (2,-5) cost 0", x, y, dx[i], dy[i], cost[i])
				}
			} else if dx[i] != -999 || dy[i] != -999 || cost[i] != -999 {
				t.Fatalf("(%d,%d): d=(%g,%g) cost=%g; want no data", x, y, dx[i], dy[i], cost[i])
			}
		}
	}

	field, err := LoadField(product, image.Rect(8, 12, 24, 20), -999)
	if err != nil {
		t.Fatal(err)
	}
	if field.DY[0] != -5 || field.NoData != -999 {
		t.Errorf("loaded field dy=%g nodata=%g; want -5 and -999", field.DY[0], field.NoData)
	}
}
