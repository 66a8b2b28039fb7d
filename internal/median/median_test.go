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

package median

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mlnoga/cloudtop/internal/qsort"
	"github.com/valyala/fastrand"
)

func TestFloat32Slice9(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(3)
	for i := 0; i < 1000; i++ {
		a, b := make([]float32, 9), make([]float32, 9)
		for j := range a {
			a[j] = float32(rng.Uint32n(20))
		}
		copy(b, a)
		if got, want := Float32Slice9(a), qsort.QSelectMedian(b); got != want {
			t.Fatalf("median9(%v)=%g; want %g", b, got, want)
		}
	}
}

func TestFilter3x3(t *testing.T) {
	const nd = -999
	data := []float32{
		1, 1, 1, 1,
		1, 50, 1, nd,
		1, 1, 1, 1,
	}
	output := make([]float32, len(data))
	Filter3x3(output, data, 4, nd, 1)
	want := []float32{
		1, 1, 1, 1,
		1, 1, 1, nd,
		1, 1, 1, 1,
	}
	if diff := cmp.Diff(want, output); diff != "" {
		t.Errorf("filtered mismatch (-want +got):\n%s", diff)
	}

	isolated := []float32{nd, nd, nd, nd, 7, nd, nd, nd, nd}
	output = make([]float32, len(isolated))
	Filter3x3(output, isolated, 3, nd, 2)
	if output[4] != nd {
		t.Errorf("isolated pixel kept as %g; want removed", output[4])
	}
}
