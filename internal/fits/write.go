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
	"io"
	"math"
	"os"
	"strings"
)

// Writes an in-memory FITS image to a file with given filename.
// Creates/overwrites the file if necessary
func (f *Image) WriteFile(fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := f.Write(writer); err != nil {
		return err
	}
	return writer.Flush()
}

// Writes an in-memory FITS image to an io.Writer, as 32-bit floating point.
func (f *Image) Write(w io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(f.Naxisn)), "[1] Number of axes")
	for i, naxis := range f.Naxisn {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), naxis, "[1] Axis size")
	}
	writeFloat32(&sb, "BZERO", 0, "[1] Zero offset")
	writeFloat32(&sb, "BSCALE", 1, "[1] Value scaler")
	if f.HasNoData {
		writeFloat32(&sb, "NODATA", f.NoData, "[1] Missing value sentinel")
	}
	if f.FileName != "" {
		writeString(&sb, "ORIGIN", f.FileName, "Source file")
	}
	for _, h := range f.Header.History {
		fmt.Fprintf(&sb, "HISTORY %-72s", truncate(h, HeaderLineSize-8))
	}
	writeEnd(&sb)

	// pad header block with spaces
	if rem := sb.Len() % fitsBlockSize; rem > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-rem))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	if err := writeFloat32Array(w, f.Data); err != nil {
		return err
	}

	// pad data block with zeros
	if rem := (len(f.Data) * 4) % fitsBlockSize; rem > 0 {
		if _, err := w.Write(make([]byte, fitsBlockSize-rem)); err != nil {
			return err
		}
	}
	return nil
}

// Cuts s to at most n bytes after replacing anything but printable ASCII with '_'
func truncate(s string, n int) string {
	s = strings.Map(func(r rune) rune {
		if r < ' ' || r > '~' {
			return '_'
		}
		return r
	}, s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", truncate(key, 8), v, truncate(comment, 47))
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	fmt.Fprintf(w, "%-8s= %20d / %-47s", truncate(key, 8), value, truncate(comment, 47))
}

// Writes a FITS header float32 value. Always carries a decimal point so the reader parses it as float
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	s := fmt.Sprintf("%G", value)
	if !strings.ContainsAny(s, ".EN") {
		s += ".0"
	} else if strings.Contains(s, "E") && !strings.Contains(s, ".") {
		s = strings.Replace(s, "E", ".0E", 1)
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", truncate(key, 8), s, truncate(comment, 47))
}

// Writes a FITS header string value, truncated to fit on a single line
func writeString(w io.Writer, key, value, comment string) {
	value = strings.ReplaceAll(truncate(value, 18), "'", "_")
	fmt.Fprintf(w, "%-8s= '%-18s' / %-47s", truncate(key, 8), value, truncate(comment, 47))
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", HeaderLineSize-3))
}

const bufLen int = 16 * 1024 // buffer length for reading and writing files

// Writes FITS binary body data in network byte order
func writeFloat32Array(w io.Writer, data []float32) error {
	buf := make([]byte, bufLen)
	valuesPerBuf := bufLen >> 2

	for block := 0; block < len(data); block += valuesPerBuf {
		size := len(data) - block
		if size > valuesPerBuf {
			size = valuesPerBuf
		}
		for offset := 0; offset < size; offset++ {
			binary.BigEndian.PutUint32(buf[offset<<2:], math.Float32bits(data[block+offset]))
		}
		if _, err := w.Write(buf[:size<<2]); err != nil {
			return err
		}
	}
	return nil
}
