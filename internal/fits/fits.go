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

package fits

import (
	"fmt"
	"image"
	"strings"

	"github.com/mlnoga/cloudtop/internal/stats"
)

// An in-memory raster image, as read from or written to FITS.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int    // Sequential ID number, for log output. Reference is 0, comparison 1, auxiliary rasters negative
	FileName string // Original file name, if any, for log output.

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32 // Value scaler. True pixel value is Bzero + Bscale * Data[i].
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y,channel)
	Pixels int32   // Number of pixels in the image. Product of Naxisn[]

	Data []float32 // The image data, channel after channel

	NoData    float32 // Sentinel for missing values, valid if HasNoData is set
	HasNoData bool

	Stats *stats.Stats // Basic image statistics, excluding no-data values
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header: NewHeader(),
		Bscale: 1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Image{
		Header: NewHeader(),
		Bitpix: -32,
		Bscale: 1,
		Naxisn: append([]int32(nil), naxisn...), // clone slice
		Pixels: numPixels,
		Data:   data,
		Stats:  stats.NewStats(data, naxisn[0]),
	}
}

// Creates a multi-channel product image of the given size, with every value set to noData
func NewProduct(width, height, channels int32, noData float32) *Image {
	naxisn := []int32{width, height}
	if channels > 1 {
		naxisn = append(naxisn, channels)
	}
	f := NewImageFromNaxisn(naxisn, nil)
	for i := range f.Data {
		f.Data[i] = noData
	}
	f.SetNoData(noData)
	return f
}

// Marks the given value as missing data, and excludes it from statistics
func (f *Image) SetNoData(noData float32) {
	f.NoData, f.HasNoData = noData, true
	f.Stats = stats.NewStatsIgnoring(f.Data, f.Naxisn[0], noData)
}

func (f *Image) Width() int32  { return f.Naxisn[0] }
func (f *Image) Height() int32 { return f.Naxisn[1] }

// Number of channels, 1 for a plain 2D image
func (f *Image) Channels() int32 {
	if len(f.Naxisn) < 3 {
		return 1
	}
	return f.Naxisn[2]
}

// Bounds of a single channel in pixel coordinates
func (f *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(f.Naxisn[0]), int(f.Naxisn[1]))
}

// Returns the data of the given channel. Not a copy
func (f *Image) Channel(c int32) []float32 {
	size := f.Naxisn[0] * f.Naxisn[1]
	return f.Data[c*size : (c+1)*size]
}

// Returns a new single-channel image with a copy of the given channel
func (f *Image) ExtractChannel(c int32) *Image {
	res := NewImageFromNaxisn(f.Naxisn[:2], append([]float32(nil), f.Channel(c)...))
	res.ID, res.FileName = f.ID, f.FileName
	if f.HasNoData {
		res.SetNoData(f.NoData)
	}
	return res
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float32),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Checks that the first two axes of both images agree
func SameSize(a, b *Image) bool {
	return a.Naxisn[0] == b.Naxisn[0] && a.Naxisn[1] == b.Naxisn[1]
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
