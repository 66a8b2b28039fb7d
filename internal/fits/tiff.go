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
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/mlnoga/cloudtop/internal/stats"
	"golang.org/x/image/tiff"
)

// Write a channel of the image to 16-bit grayscale TIFF, mapping [min, max] onto the full range.
// NoData and NaN values become black.
func (f *Image) WriteMonoTIFF16ToFile(fileName string, channel int32, min, max float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := f.WriteMonoTIFF16(writer, channel, min, max); err != nil {
		return err
	}
	return writer.Flush()
}

// Encodes one channel as deflate-compressed 16-bit grayscale TIFF, mapping [min, max] onto the full range
func (f *Image) WriteMonoTIFF16(writer io.Writer, channel int32, min, max float32) error {
	img := image.NewGray16(f.Bounds())
	scale := 1 / (max - min)
	for i, v := range f.Channel(channel) {
		binary.BigEndian.PutUint16(img.Pix[2*i:], uint16(f.normalize(v, min, scale)*65535))
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate})
}

// Maps v from [min, min+1/scale] onto [0,1]. NoData and NaN map to 0
func (f *Image) normalize(v, min, scale float32) float32 {
	if (f.HasNoData && v == f.NoData) || math.IsNaN(float64(v)) {
		return 0
	}
	v = (v - min) * scale
	if v < 0 {
		return 0
	} else if v > 1 {
		return 1
	}
	return v
}

// Reads a TIFF file into a single-channel image. 8-bit gray keeps its value range, everything
// else is converted to 16-bit luminance
func (f *Image) ReadTIFF(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	src, err := tiff.Decode(bufio.NewReader(file))
	if err != nil {
		return fmt.Errorf("%d: %s: %w", f.ID, fileName, err)
	}
	r := src.Bounds()
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 || int64(w)*int64(h) > maxPixels {
		return fmt.Errorf("%d: %s: unsupported TIFF size %dx%d", f.ID, fileName, w, h)
	}
	f.Naxisn = []int32{int32(w), int32(h)}
	f.Pixels = int32(w * h)
	f.Bzero, f.Bscale = 0, 1
	f.Data = make([]float32, w*h)

	switch img := src.(type) {
	case *image.Gray:
		f.Bitpix = 8
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w]
			for x, v := range row {
				f.Data[y*w+x] = float32(v)
			}
		}
	default:
		f.Bitpix = 16
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.Gray16Model.Convert(src.At(r.Min.X+x, r.Min.Y+y)).(color.Gray16)
				f.Data[y*w+x] = float32(g.Y)
			}
		}
	}
	f.Stats = stats.NewStats(f.Data, f.Naxisn[0])
	return nil
}
