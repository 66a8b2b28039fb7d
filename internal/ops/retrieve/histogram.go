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

package retrieve

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/ops"
)

// Plots a histogram of one channel of its input as PNG. Passes the input through unchanged
type OpHistogram struct {
	ops.OpUnaryBase
	FilePattern string `json:"filePattern"`
	Channel     int32  `json:"channel"`
	Bins        int    `json:"bins"`
	Title       string `json:"title"`
	Unit        string `json:"unit"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpHistogramDefault() }) } // register the operator for JSON decoding

func NewOpHistogramDefault() *OpHistogram { return NewOpHistogram("", 0, 64, "", "") }

func NewOpHistogram(filePattern string, channel int32, bins int, title, unit string) *OpHistogram {
	op := &OpHistogram{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "histogram", Active: true}},
		FilePattern: filePattern,
		Channel:     channel,
		Bins:        bins,
		Title:       title,
		Unit:        unit,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpHistogram) UnmarshalJSON(data []byte) error {
	type defaults OpHistogram
	def := defaults(*NewOpHistogramDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpHistogram(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpHistogram) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	if op.FilePattern == "" {
		return f, nil
	}
	if err := c.CheckPath(op.FilePattern); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	if op.Channel < 0 || op.Channel >= f.Channels() {
		return nil, fmt.Errorf("%d: channel %d out of range for %s pixel image", f.ID, op.Channel, f.DimensionsToString())
	}
	fileName := op.FilePattern
	if strings.Contains(fileName, "%d") {
		fileName = fmt.Sprintf(op.FilePattern, f.ID)
	}
	title := op.Title
	if title == "" {
		title = fmt.Sprintf("%s channel %d", f.FileName, op.Channel)
	}
	bins := op.Bins
	if bins < 1 {
		bins = 64
	}
	fmt.Fprintf(c.Log, "%d: Writing histogram of channel %d to %s\n", f.ID, op.Channel, fileName)
	if err := f.WriteHistogramToFile(fileName, op.Channel, bins, title, op.Unit); err != nil {
		return nil, fmt.Errorf("%d: Error writing histogram to %s: %w", f.ID, fileName, err)
	}
	return f, nil
}
