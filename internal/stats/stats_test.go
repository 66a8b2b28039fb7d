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

package stats

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestStatsIgnoring(t *testing.T) {
	noData := float32(-999)
	data := []float32{1, 2, noData, 3, float32(math.NaN()), 4, 5}
	s := NewStatsIgnoring(data, 7, noData)

	if s.Valid() != 5 {
		t.Errorf("valid=%d; want 5", s.Valid())
	}
	if s.Min() != 1 || s.Max() != 5 {
		t.Errorf("min=%f max=%f; want 1 5", s.Min(), s.Max())
	}
	if s.Mean() != 3 {
		t.Errorf("mean=%f; want 3", s.Mean())
	}
	if math.Abs(float64(s.StdDev())-math.Sqrt(2)) > 1e-6 {
		t.Errorf("stddev=%f; want %f", s.StdDev(), math.Sqrt(2))
	}
	if s.Location() != 3 {
		t.Errorf("location=%f; want 3", s.Location())
	}
	if math.Abs(float64(s.Scale())-1.4826) > 1e-5 {
		t.Errorf("scale=%f; want 1.4826", s.Scale())
	}
}

func TestStatsSkipsNaNWithoutSentinel(t *testing.T) {
	nan := float32(math.NaN())
	s := NewStats([]float32{1, 2, nan, nan, nan, 3, 4}, 7)

	if s.Valid() != 4 {
		t.Errorf("valid=%d; want 4", s.Valid())
	}
	if s.Min() != 1 || s.Max() != 4 || s.Mean() != 2.5 {
		t.Errorf("min=%f max=%f mean=%f; want 1 4 2.5", s.Min(), s.Max(), s.Mean())
	}
	if s.Location() != 2.5 {
		t.Errorf("location=%f; want 2.5", s.Location())
	}
	if str := fmt.Sprint(s); strings.Contains(str, "PANIC") {
		t.Errorf("String()=%q", str)
	}
}

func TestStatsAllMissing(t *testing.T) {
	data := []float32{-1, -1, -1}
	s := NewStatsIgnoring(data, 3, -1)
	if s.Valid() != 0 {
		t.Errorf("valid=%d; want 0", s.Valid())
	}
	if !math.IsNaN(float64(s.Mean())) || !math.IsNaN(float64(s.Location())) {
		t.Errorf("mean=%f location=%f; want NaN", s.Mean(), s.Location())
	}
}

func TestStatsSampled(t *testing.T) {
	data := make([]float32, 4*numSamples)
	for i := range data {
		data[i] = float32(i % 101)
	}
	s := NewStats(data, 1024)
	if loc := s.Location(); loc < 45 || loc > 55 {
		t.Errorf("location=%f; want about 50", loc)
	}
	s.Clear()
	data[0] = 1000
	if s.Max() != 1000 {
		t.Errorf("max=%f; want 1000 after clear", s.Max())
	}
}
