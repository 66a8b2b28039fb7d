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
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
)

// Colour ramps for product previews
type ColorMap int

const (
	CMGray    ColorMap = iota // linear grayscale
	CMHeight                  // blue over green to red, for heights
	CMDiverge                 // blue through white to red, for signed disparities
)

// Maps a normalized value in [0,1] to a colour
func (cm ColorMap) At(v float32) colorful.Color {
	switch cm {
	case CMHeight:
		// hue from 240 degrees (blue) down to 0 (red) at constant chroma and lightness
		return colorful.Hcl(240*(1-float64(v)), 0.6, 0.65).Clamped()
	case CMDiverge:
		blue, white, red := colorful.Color{R: 0.2, G: 0.3, B: 0.9}, colorful.Color{R: 1, G: 1, B: 1}, colorful.Color{R: 0.9, G: 0.2, B: 0.15}
		if v < 0.5 {
			return blue.BlendLab(white, float64(v)*2).Clamped()
		}
		return white.BlendLab(red, float64(v)*2-1).Clamped()
	default:
		return colorful.Color{R: float64(v), G: float64(v), B: float64(v)}
	}
}

// Parses a colour map name. Unknown names map to gray
func ParseColorMap(name string) ColorMap {
	switch name {
	case "height":
		return CMHeight
	case "diverge":
		return CMDiverge
	default:
		return CMGray
	}
}

// Write a channel of the image to JPG, using the given min, max and colour map.
func (f *Image) WriteJPGToFile(fileName string, channel int32, min, max float32, cm ColorMap, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := f.WriteJPG(writer, channel, min, max, cm, quality); err != nil {
		return err
	}
	return writer.Flush()
}

// Write a channel of the image to JPG, using the given min, max and colour map. NoData pixels are black.
func (f *Image) WriteJPG(writer io.Writer, channel int32, min, max float32, cm ColorMap, quality int) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	data := f.Channel(channel)
	scale := 1 / (max - min)
	black := color.RGBA{A: 255}

	if cm == CMGray {
		img := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			yoffset := y * width
			for x := 0; x < width; x++ {
				gray := f.normalize(data[yoffset+x], min, scale)
				img.SetGray(x, y, color.Gray{Y: uint8(gray * 255)})
			}
		}
		return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			v := data[yoffset+x]
			if (f.HasNoData && v == f.NoData) || math.IsNaN(float64(v)) {
				img.SetRGBA(x, y, black)
				continue
			}
			r, g, b := cm.At(f.normalize(v, min, scale)).RGB255()
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
