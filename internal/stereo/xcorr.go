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
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Returns the integer shift d maximizing the zero-mean circular cross-correlation
// sum_p ref(p) * cmp(p+d) over the given crop of two row-major images of the given width.
// The crop must lie within the images.
func CrossCorrelationPeak(ref, cmp []float32, width int, crop image.Rectangle) image.Point {
	w, h := crop.Dx(), crop.Dy()
	a, b := zeroMeanCrop(ref, width, crop), zeroMeanCrop(cmp, width, crop)

	fftX, fftY := fourier.NewCmplxFFT(w), fourier.NewCmplxFFT(h)
	fa, fb := fft2D(fftX, fftY, a, w, h, false), fft2D(fftX, fftY, b, w, h, false)
	for i := range fa {
		fa[i] = cmplx.Conj(fa[i]) * fb[i]
	}
	c := fft2D(fftX, fftY, fa, w, h, true)

	best, bestU, bestV := real(c[0]), 0, 0
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			if r := real(c[v*w+u]); r > best {
				best, bestU, bestV = r, u, v
			}
		}
	}
	return image.Pt(wrap(bestU, w), wrap(bestV, h))
}

// Maps a circular lag in [0,n) to a signed shift in [-n/2, n/2)
func wrap(u, n int) int {
	if u < (n+1)/2 {
		return u
	}
	return u - n
}

func zeroMeanCrop(data []float32, width int, crop image.Rectangle) []complex128 {
	w, h := crop.Dx(), crop.Dy()
	res := make([]complex128, w*h)
	sum := 0.0
	for y := 0; y < h; y++ {
		row := data[(crop.Min.Y+y)*width+crop.Min.X:]
		for x := 0; x < w; x++ {
			v := float64(row[x])
			if v != v { // NaN
				v = 0
			}
			res[y*w+x] = complex(v, 0)
			sum += v
		}
	}
	mean := complex(sum/float64(w*h), 0)
	for i := range res {
		res[i] -= mean
	}
	return res
}

// Transforms data of size w x h along both axes. The inverse is unnormalized
func fft2D(fftX, fftY *fourier.CmplxFFT, data []complex128, w, h int, inverse bool) []complex128 {
	res := make([]complex128, w*h)
	row, rowOut := make([]complex128, w), make([]complex128, w)
	for y := 0; y < h; y++ {
		copy(row, data[y*w:(y+1)*w])
		if inverse {
			fftX.Sequence(rowOut, row)
		} else {
			fftX.Coefficients(rowOut, row)
		}
		copy(res[y*w:], rowOut)
	}

	col, colOut := make([]complex128, h), make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = res[y*w+x]
		}
		if inverse {
			fftY.Sequence(colOut, col)
		} else {
			fftY.Coefficients(colOut, col)
		}
		for y := 0; y < h; y++ {
			res[y*w+x] = colOut[y]
		}
	}
	return res
}
