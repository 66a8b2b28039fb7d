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
	"fmt"
	"math"
)

const sqrt2 = 1.4142135623730951

// Returns the definite integral of the gaussian function with midpoint mu and standard deviation sigma for input x
func GaussianDefiniteIntegral(mu, sigma, x float32) float32 {
	return 0.5 * (1 + float32(math.Erf(float64((x-mu)/(sqrt2*sigma)))))
}

// Generates a 1D gaussian kernel with the given odd number of taps and sigma.
// Each tap integrates the gaussian over its pixel via the error function, then the
// kernel is normalized to sum 1 to account for the truncated tails.
func GaussianKernel1D(size int, sigma float32) ([]float32, error) {
	if size < 1 || size%2 == 0 {
		return nil, fmt.Errorf("gaussian kernel size %d must be odd and positive", size)
	}
	if !(sigma > 0) {
		return nil, fmt.Errorf("gaussian kernel sigma %g must be positive", sigma)
	}
	radius := size / 2
	kernel := make([]float32, size)

	// left half via symbolic integration
	sum := float32(0)
	lower := GaussianDefiniteIntegral(0, sigma, -0.5-float32(radius))
	for i := 0; i <= radius; i++ {
		upper := GaussianDefiniteIntegral(0, sigma, -0.5-float32(radius)+float32(i+1))
		kernel[i] = upper - lower
		sum += kernel[i]
		lower = upper
	}

	// mirror right half to avoid numeric instability
	for i := 1; i <= radius; i++ {
		kernel[radius+i] = kernel[radius-i]
		sum += kernel[radius+i]
	}

	factor := 1 / sum
	for i := range kernel {
		kernel[i] *= factor
	}
	return kernel, nil
}

// Check if coordinate is within [0, size-1], and if not, reflect out of bounds coordinates back into the value range
func reflect(size, x int) int {
	for x < 0 || x >= size {
		if x < 0 {
			x = -x - 1
		}
		if x >= size {
			x = 2*size - x - 1
		}
	}
	return x
}

// Convolve the given 2D image provided by data and width with the given kernel along the x axis, and store the result in res
func Convolve1DX(res, data []float32, width int, kernel []float32) {
	height := len(data) / width
	k := len(kernel) / 2
	for y := 0; y < height; y++ {
		row := data[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			sum := float32(0)
			if x >= k && x+k < width {
				for i, kv := range kernel {
					sum += row[x-k+i] * kv
				}
			} else {
				for i := -k; i <= k; i++ {
					sum += row[reflect(width, x+i)] * kernel[i+k]
				}
			}
			res[y*width+x] = sum
		}
	}
}

// Convolve the given 2D image provided by data and width with the given kernel along the y axis, and store the result in res
func Convolve1DY(res, data []float32, width int, kernel []float32) {
	height := len(data) / width
	k := len(kernel) / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := float32(0)
			for i := -k; i <= k; i++ {
				sum += data[reflect(height, y+i)*width+x] * kernel[i+k]
			}
			res[y*width+x] = sum
		}
	}
}

// Applies the separable kernel along both axes of data. Overwrites tmp and returns the result in res
func GaussFilter2D(res, tmp, data []float32, width int, kernel []float32) {
	Convolve1DX(tmp, data, width, kernel)
	Convolve1DY(res, tmp, width, kernel)
}
