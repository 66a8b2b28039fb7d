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

// Package median provides 3x3 median filtering of rasters with missing values.
package median

import (
	"github.com/mlnoga/cloudtop/internal/qsort"
)

// Applies a 3x3 median filter to data, a 2D array with the given line width, and stores results
// in output. Pixels equal to noData stay missing and are excluded from their neighbours' medians.
// Border pixels use the neighbours available. Pixels with fewer than minValid valid values
// in their neighbourhood, including themselves, become noData
func Filter3x3(output, data []float32, width int, noData float32, minValid int) {
	height := len(data) / width
	var gathered [9]float32
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if data[i] == noData || data[i] != data[i] {
				output[i] = noData
				continue
			}
			n := 0
			for yy := y - 1; yy <= y+1; yy++ {
				if yy < 0 || yy >= height {
					continue
				}
				for xx := x - 1; xx <= x+1; xx++ {
					if xx < 0 || xx >= width {
						continue
					}
					v := data[yy*width+xx]
					if v == noData || v != v {
						continue
					}
					gathered[n] = v
					n++
				}
			}
			if n < minValid {
				output[i] = noData
			} else if n == 9 {
				output[i] = Float32Slice9(gathered[:])
			} else {
				output[i] = qsort.QSelectMedian(gathered[:n])
			}
		}
	}
}

// Calculates the median of a float32 slice of length nine with a sorting network.
// Modifies the elements in place. Must not contain IEEE NaN.
// From https://stackoverflow.com/questions/45453537/optimal-9-element-sorting-network-that-reduces-to-an-optimal-median-of-9-network
func Float32Slice9(a []float32) float32 {
	sort2 := func(i, j int) {
		if a[i] > a[j] {
			a[i], a[j] = a[j], a[i]
		}
	}
	sort2(0, 1)
	sort2(3, 4)
	sort2(6, 7)
	sort2(1, 2)
	sort2(4, 5)
	sort2(7, 8)
	sort2(0, 1)
	sort2(3, 4)
	sort2(6, 7)
	a[3] = max(a[0], a[3])
	a[6] = max(a[3], a[6])
	sort2(1, 4)
	a[4] = min(a[4], a[7])
	a[4] = max(a[1], a[4])
	a[5] = min(a[5], a[8])
	a[2] = min(a[2], a[5])
	sort2(2, 4)
	a[4] = min(a[4], a[6])
	a[4] = max(a[2], a[4])
	return a[4]
}
