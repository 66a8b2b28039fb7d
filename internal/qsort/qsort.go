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

// Package qsort provides in-place quickselect on numeric slices.
// None of the functions accept IEEE NaN values.
package qsort

// Number types supported by the selection functions
type Number interface {
	~int32 | ~float32 | ~float64
}

// Selects the kth lowest element (1-based) of a. Partially reorders a.
func QSelect[T Number](a []T, k int) T {
	left, right := 0, len(a)-1
	for left < right {
		mid := (left + right) >> 1
		pivot := a[mid]
		l, r := left-1, right+1
		for {
			for {
				l++
				if a[l] >= pivot {
					break
				}
			}
			for {
				r--
				if a[r] <= pivot {
					break
				}
			}
			if l >= r {
				break
			}
			a[l], a[r] = a[r], a[l]
		}
		index := r

		offset := index - left + 1
		if k <= offset {
			right = index
		} else {
			left = index + 1
			k = k - offset
		}
	}
	return a[left]
}

// Selects the median of a, which must not be empty. For even lengths,
// returns the mean of the two middle elements. Partially reorders a.
func QSelectMedian[T Number](a []T) T {
	n := len(a)
	upper := QSelect(a, (n>>1)+1)
	if n&1 != 0 {
		return upper
	}
	// after selection, all elements left of the upper median are <= it
	lower := a[0]
	for _, v := range a[1 : n>>1] {
		if v > lower {
			lower = v
		}
	}
	return (lower + upper) / 2
}

// Selects the first quartile of a. Partially reorders a.
func QSelectFirstQuartile[T Number](a []T) T {
	return QSelect(a, (len(a)>>2)+1)
}
