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

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/median"
	"github.com/mlnoga/cloudtop/internal/ops"
)

// Removes isolated outliers from a product with a 3x3 median filter over valid pixels.
// Takes n products, produces n filtered products
type OpDespeckle struct {
	ops.OpUnaryBase
	Channels []int32 `json:"channels"` // channels to filter, empty for all
	MinValid int     `json:"minValid"` // pixels with fewer valid values in their 3x3 neighbourhood become missing
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDespeckleDefault() }) } // register the operator for JSON decoding

func NewOpDespeckleDefault() *OpDespeckle { return NewOpDespeckle(nil, 3) }

func NewOpDespeckle(channels []int32, minValid int) *OpDespeckle {
	op := &OpDespeckle{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "despeckle", Active: true}},
		Channels:    channels,
		MinValid:    minValid,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDespeckle) UnmarshalJSON(data []byte) error {
	type defaults OpDespeckle
	def := defaults(*NewOpDespeckleDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpDespeckle(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpDespeckle) Apply(f *fits.Image, c *ops.Context) (result *fits.Image, err error) {
	channels := op.Channels
	if len(channels) == 0 {
		for ch := int32(0); ch < f.Channels(); ch++ {
			channels = append(channels, ch)
		}
	}
	noData := c.NoData
	if f.HasNoData {
		noData = f.NoData
	}

	res := fits.NewImageFromNaxisn(f.Naxisn, append([]float32(nil), f.Data...))
	res.ID, res.FileName = f.ID, f.FileName
	res.Header.History = append(f.Header.History[:len(f.Header.History):len(f.Header.History)], fmt.Sprintf("despeckle %v", channels))

	for _, ch := range channels {
		if ch < 0 || ch >= f.Channels() {
			return nil, fmt.Errorf("%d: channel %d out of range for %s pixel image", f.ID, ch, f.DimensionsToString())
		}
	}

	limiter := make(chan bool, max(c.MaxThreads, 1))
	for _, ch := range channels {
		limiter <- true
		go func(ch int32) {
			defer func() { <-limiter }()
			median.Filter3x3(res.Channel(ch), f.Channel(ch), int(f.Width()), noData, op.MinValid)
		}(ch)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	res.SetNoData(noData)
	fmt.Fprintf(c.Log, "%d: Despeckled channels %v, %d of %d values valid before, %d after\n",
		f.ID, channels, validCount(f, noData), f.Pixels, res.Stats.Valid())
	return res, nil
}

func validCount(f *fits.Image, noData float32) int {
	n := 0
	for _, v := range f.Data {
		if v != noData && v == v {
			n++
		}
	}
	return n
}
