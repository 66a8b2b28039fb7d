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
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mlnoga/cloudtop/internal/stats"
)

// Loads the image with the given file name, assigning it the given ID for log output
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (*Image, error) {
	img := NewImage()
	img.ID = id
	if err := img.ReadFile(fileName, true, logWriter); err != nil {
		return nil, err
	}
	return img, nil
}

// Reads the named FITS or TIFF file. FITS files ending in .gz or .gzip are decompressed on the fly.
// With readData false only the header is parsed.
func (f *Image) ReadFile(fileName string, readData bool, logWriter io.Writer) error {
	f.FileName = fileName
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".tif", ".tiff":
		return f.ReadTIFF(fileName)
	}

	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".gz", ".gzip":
		zr, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("%d: %w", f.ID, err)
		}
		defer zr.Close()
		r = zr
	}
	return f.Read(r, readData, logWriter)
}

// Removes an integer key from the header and returns its value
func (f *Image) PopHeaderInt32(key string) (int32, error) {
	v, ok := f.Header.Ints[key]
	if !ok {
		return 0, fmt.Errorf("%d: FITS header does not contain key %s", f.ID, key)
	}
	delete(f.Header.Ints, key)
	return v, nil
}

// Removes a numeric key from the header and returns its value, accepting integers as well as floats
func (f *Image) PopHeaderInt32OrFloat(key string) (float32, error) {
	if v, err := f.PopHeaderInt32(key); err == nil {
		return float32(v), nil
	}
	v, ok := f.Header.Floats[key]
	if !ok {
		return 0, fmt.Errorf("%d: FITS header does not contain key %s", f.ID, key)
	}
	delete(f.Header.Floats, key)
	return v, nil
}

// Parses a FITS primary header from r, then the data unit unless readData is false.
// Structural keys are consumed from the header maps as they are interpreted.
func (f *Image) Read(r io.Reader, readData bool, logWriter io.Writer) error {
	if err := f.Header.read(r, f.ID, logWriter); err != nil {
		return err
	}
	if !f.Header.Bools["SIMPLE"] {
		return fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", f.ID)
	}
	delete(f.Header.Bools, "SIMPLE")

	if err := f.popGeometry(); err != nil {
		return err
	}

	f.Bzero, f.Bscale = 0, 1
	if v, err := f.PopHeaderInt32OrFloat("BZERO"); err == nil {
		f.Bzero = v
	}
	if v, err := f.PopHeaderInt32OrFloat("BSCALE"); err == nil {
		f.Bscale = v
	}
	if v, err := f.PopHeaderInt32OrFloat("NODATA"); err == nil {
		f.NoData, f.HasNoData = v, true
	}

	if !readData {
		return nil
	}
	return f.readData(r, logWriter)
}

// Largest number of pixels a single image may hold
const maxPixels = math.MaxInt32

// Consumes BITPIX, NAXIS and NAXISn from the header. Only 2D rasters and
// 3D channel stacks with positive extents are accepted
func (f *Image) popGeometry() (err error) {
	if f.Bitpix, err = f.PopHeaderInt32("BITPIX"); err != nil {
		return err
	}
	axes, err := f.PopHeaderInt32("NAXIS")
	if err != nil {
		return err
	}
	if axes < 2 || axes > 3 {
		return fmt.Errorf("%d: unsupported NAXIS %d, want 2 or 3", f.ID, axes)
	}
	naxisn, pixels := make([]int32, axes), int64(1)
	for i := range naxisn {
		if naxisn[i], err = f.PopHeaderInt32(fmt.Sprintf("NAXIS%d", i+1)); err != nil {
			return err
		}
		if naxisn[i] <= 0 {
			return fmt.Errorf("%d: invalid NAXIS%d %d", f.ID, i+1, naxisn[i])
		}
		pixels *= int64(naxisn[i])
		if pixels > maxPixels {
			return fmt.Errorf("%d: image with %v axes exceeds %d pixels", f.ID, naxisn[:i+1], maxPixels)
		}
	}
	f.Naxisn, f.Pixels = naxisn, int32(pixels)
	return nil
}

// Decodes one big-endian sample of a given BITPIX into float32
type sampleFormat struct {
	size   int
	lossy  bool
	decode func(b []byte) float32
}

var sampleFormats = map[int32]sampleFormat{
	8:   {1, false, func(b []byte) float32 { return float32(b[0]) }},
	16:  {2, false, func(b []byte) float32 { return float32(int16(binary.BigEndian.Uint16(b))) }},
	32:  {4, true, func(b []byte) float32 { return float32(int32(binary.BigEndian.Uint32(b))) }},
	64:  {8, true, func(b []byte) float32 { return float32(int64(binary.BigEndian.Uint64(b))) }},
	-32: {4, false, func(b []byte) float32 { return math.Float32frombits(binary.BigEndian.Uint32(b)) }},
	-64: {8, true, func(b []byte) float32 { return float32(math.Float64frombits(binary.BigEndian.Uint64(b))) }},
}

const readChunkBytes = 16 * 1024

// Reads the data unit, applying BZERO and BSCALE so that Data holds physical values afterwards
func (f *Image) readData(r io.Reader, logWriter io.Writer) error {
	format, ok := sampleFormats[f.Bitpix]
	if !ok {
		return fmt.Errorf("%d: Unknown BITPIX value %d", f.ID, f.Bitpix)
	}
	if format.lossy {
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting BITPIX %d to float32 values\n", f.ID, f.Bitpix)
	}

	f.Data = make([]float32, int(f.Pixels))
	chunk := make([]byte, (readChunkBytes/format.size)*format.size)
	for done := 0; done < len(f.Data); {
		n := min(len(f.Data)-done, len(chunk)/format.size)
		raw := chunk[:n*format.size]
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("%d: reading data: %w", f.ID, err)
		}
		out := f.Data[done : done+n]
		for i := range out {
			out[i] = format.decode(raw[i*format.size:])*f.Bscale + f.Bzero
		}
		done += n
	}
	f.Bzero, f.Bscale = 0, 1

	if f.HasNoData {
		f.SetNoData(f.NoData)
	} else {
		f.Stats = stats.NewStats(f.Data, f.Naxisn[0])
	}
	return nil
}

var errUnparsableCard = errors.New("unparsable header card")

// Reads 2880-byte header blocks until the END card has been seen
func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	block := make([]byte, fitsBlockSize)
	h.Length, h.End = 0, false
	for !h.End {
		if _, err := io.ReadFull(r, block); err != nil {
			return fmt.Errorf("%d: reading header: %w", id, err)
		}
		h.Length += int32(fitsBlockSize)
		for card := 0; card*HeaderLineSize < fitsBlockSize && !h.End; card++ {
			line := block[card*HeaderLineSize : (card+1)*HeaderLineSize]
			if err := h.parseCard(line); err != nil {
				fmt.Fprintf(logWriter, "%d:%d: Warning: %v '%s', ignoring\n", id, card, err, string(line))
			}
		}
	}
	return nil
}

var isoDate = regexp.MustCompile(`^[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9]\.?[0-9]*$`)

// Interprets a single 80-byte header card
func (h *Header) parseCard(card []byte) error {
	text := strings.TrimRight(string(card), " ")
	switch {
	case text == "":
		return nil
	case text == "END":
		h.End = true
		return nil
	case strings.HasPrefix(text, "HISTORY"):
		h.History = append(h.History, strings.TrimSpace(text[len("HISTORY"):]))
		return nil
	case strings.HasPrefix(text, "COMMENT"):
		h.Comments = append(h.Comments, strings.TrimSpace(text[len("COMMENT"):]))
		return nil
	}

	eq := strings.IndexByte(text, '=')
	if eq <= 0 {
		return errUnparsableCard
	}
	key := strings.TrimSpace(text[:eq])
	if key == "" || strings.ContainsAny(key, " '/") {
		return errUnparsableCard
	}
	value := strings.TrimSpace(text[eq+1:])

	if strings.HasPrefix(value, "'") {
		end := strings.IndexByte(value[1:], '\'')
		if end < 0 {
			return errUnparsableCard
		}
		h.Strings[key] = strings.TrimRight(value[1:1+end], " ")
		return nil
	}
	if slash := strings.IndexByte(value, '/'); slash >= 0 {
		value = strings.TrimSpace(value[:slash])
	}

	switch {
	case value == "T" || value == "F":
		h.Bools[key] = value == "T"
	case isoDate.MatchString(value):
		h.Dates[key] = value
	default:
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			h.Ints[key] = int32(i)
		} else if v, err := strconv.ParseFloat(strings.Replace(value, "D", "E", 1), 64); err == nil {
			h.Floats[key] = float32(v)
		} else {
			return errUnparsableCard
		}
	}
	return nil
}
