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

package ops

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/stats"
)

// Saves given promise under a given filename, with pattern expansion for %d based on the image id.
// FITS output keeps all channels; TIFF and JPEG previews show a single channel.
// Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string  `json:"filePattern"`
	Channel     int32   `json:"channel"`  // Channel for TIFF and JPEG previews
	Min         float32 `json:"min"`      // Value mapped to black. If Min==Max, the valid range of the channel is used
	Max         float32 `json:"max"`      // Value mapped to white
	ColorMap    string  `json:"colorMap"` // JPEG colour map: gray, height or diverge
	Quality     int     `json:"quality"`  // JPEG quality
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	op := &OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: true}},
		FilePattern: filenamePattern,
		ColorMap:    "gray",
		Quality:     95,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def := defaults(*NewOpSaveDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpSave(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpSave) Apply(f *fits.Image, c *Context) (result *fits.Image, err error) {
	if !op.Active || op.FilePattern == "" {
		return f, nil
	}
	if err := c.CheckPath(op.FilePattern); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	fileName := op.FilePattern
	if strings.Contains(fileName, "%d") {
		fileName = fmt.Sprintf(op.FilePattern, f.ID)
	}
	fnLower := strings.ToLower(fileName)

	switch {
	case hasAnySuffix(fnLower, ".fits", ".fit", ".fts"):
		fmt.Fprintf(c.Log, "%d: Writing %s pixel FITS to %s\n", f.ID, f.DimensionsToString(), fileName)
		err = f.WriteFile(fileName)

	case hasAnySuffix(fnLower, ".fits.gz", ".fit.gz", ".fts.gz", ".fits.gzip", ".fit.gzip", ".fts.gzip"):
		fmt.Fprintf(c.Log, "%d: Writing %s pixel gzipped FITS to %s\n", f.ID, f.DimensionsToString(), fileName)
		err = writeGzip(f, fileName)

	case hasAnySuffix(fnLower, ".tif", ".tiff"):
		if err = op.checkChannel(f); err != nil {
			return nil, err
		}
		min, max := op.valueRange(f)
		fmt.Fprintf(c.Log, "%d: Writing channel %d of %s pixels as 16-bit TIFF to %s with range [%g,%g]\n", f.ID, op.Channel, f.DimensionsToString(), fileName, min, max)
		err = f.WriteMonoTIFF16ToFile(fileName, op.Channel, min, max)

	case hasAnySuffix(fnLower, ".jpg", ".jpeg"):
		if err = op.checkChannel(f); err != nil {
			return nil, err
		}
		min, max := op.valueRange(f)
		fmt.Fprintf(c.Log, "%d: Writing channel %d of %s pixels as %s JPEG to %s with range [%g,%g]\n", f.ID, op.Channel, f.DimensionsToString(), op.ColorMap, fileName, min, max)
		err = f.WriteJPGToFile(fileName, op.Channel, min, max, fits.ParseColorMap(op.ColorMap), op.Quality)

	default:
		err = errors.New("unknown suffix")
	}
	if err != nil {
		return nil, fmt.Errorf("%d: Error writing to file %s: %w", f.ID, fileName, err)
	}
	return f, nil
}

func (op *OpSave) checkChannel(f *fits.Image) error {
	if op.Channel < 0 || op.Channel >= f.Channels() {
		return fmt.Errorf("%d: channel %d out of range for %s pixel image", f.ID, op.Channel, f.DimensionsToString())
	}
	return nil
}

// Returns the configured value range, or the valid range of the channel if none is set
func (op *OpSave) valueRange(f *fits.Image) (min, max float32) {
	if op.Min != op.Max {
		return op.Min, op.Max
	}
	var s *stats.Stats
	if f.HasNoData {
		s = stats.NewStatsIgnoring(f.Channel(op.Channel), f.Width(), f.NoData)
	} else {
		s = stats.NewStats(f.Channel(op.Channel), f.Width())
	}
	if s.Valid() == 0 {
		return 0, 1
	}
	min, max = s.Min(), s.Max()
	if !(max > min) {
		return min, min + 1
	}
	return min, max
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func writeGzip(f *fits.Image, fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	buffered := bufio.NewWriter(file)
	zw := gzip.NewWriter(buffered)
	if err := f.Write(zw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return buffered.Flush()
}
