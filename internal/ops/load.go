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
	"fmt"

	"github.com/mlnoga/cloudtop/internal/fits"
)

// Reads one raster from a FITS or TIFF file. Takes no inputs, produces one output
type OpLoad struct {
	OpBase
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault() }) }

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{OpBase: OpBase{Type: "load", Active: true}, ID: id, FileName: fileName}
}

func (op *OpLoad) MakePromises(ins []Promise, c *Context) ([]Promise, error) {
	switch {
	case len(ins) > 0:
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	case op.FileName == "":
		return nil, fmt.Errorf("%s operator without file name", op.Type)
	}
	if err := c.CheckPath(op.FileName); err != nil {
		return nil, fmt.Errorf("%s: %w", op.Type, err)
	}
	return []Promise{func() (*fits.Image, error) { return op.Apply(nil, c) }}, nil
}

// Ignores its input and reads the configured file instead
func (op *OpLoad) Apply(_ *fits.Image, c *Context) (*fits.Image, error) {
	f, err := fits.NewImageFromFile(op.FileName, op.ID, c.Log)
	if err != nil {
		return nil, err
	}

	var note string
	switch {
	case f.Stats.Valid() == 0:
		note = "; WARNING no valid pixels"
	case f.Stats.Max()-f.Stats.Min() < 1e-8:
		note = "; WARNING constant raster"
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s raster from %s with %v%s\n", f.ID, f.DimensionsToString(), f.FileName, f.Stats, note)
	return f, nil
}
