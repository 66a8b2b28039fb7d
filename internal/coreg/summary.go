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

package coreg

import (
	"fmt"
	"math"

	"github.com/mlnoga/cloudtop/internal/qsort"
	"gonum.org/v1/gonum/stat"
)

// Scene-level statistics of valid shifts along one axis
type AxisSummary struct {
	Median float32
	Mean   float64
	StdDev float64
}

func (a AxisSummary) String() string {
	return fmt.Sprintf("median %g mean %.3f stddev %.3f", a.Median, a.Mean, a.StdDev)
}

// Summary of valid shifts, used to report the misalignment of a scene
type Summary struct {
	Count int
	X     AxisSummary
	Y     AxisSummary
}

func (s Summary) String() string {
	if s.Count == 0 {
		return "no valid shifts"
	}
	return fmt.Sprintf("%d valid shifts, x: %s, y: %s", s.Count, s.X, s.Y)
}

// Summarizes the valid pixels of one or more shifts
func Summarize(shifts ...*Shift) Summary {
	var xs, ys []float64
	for _, s := range shifts {
		for i, x := range s.X {
			if x == s.NoData || s.Y[i] == s.NoData {
				continue
			}
			xs = append(xs, float64(x))
			ys = append(ys, float64(s.Y[i]))
		}
	}
	if len(xs) == 0 {
		nan := AxisSummary{Median: float32(math.NaN()), Mean: math.NaN(), StdDev: math.NaN()}
		return Summary{X: nan, Y: nan}
	}
	return Summary{Count: len(xs), X: summarizeAxis(xs), Y: summarizeAxis(ys)}
}

func summarizeAxis(values []float64) AxisSummary {
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	median := qsort.QSelectMedian(values)
	return AxisSummary{Median: float32(median), Mean: mean, StdDev: std}
}
