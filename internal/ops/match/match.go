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

// Package match provides the pipeline operator for dense stereo disparity matching.
package match

import (
	"encoding/json"
	"fmt"
	"image"
	"math"

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/ops"
	"github.com/mlnoga/cloudtop/internal/stereo"
)

// Channels of a disparity product
const (
	ChannelDX int32 = iota
	ChannelDY
	ChannelCost
	NumChannels
)

// Generator names
const (
	GenDense  = "dense"
	GenSeeded = "seeded"
)

// Matches a comparison image against a reference image. Takes two inputs, reference first,
// and produces one three-channel disparity product with dx, dy and cost per pixel
type OpMatch struct {
	ops.OpBase
	Window     stereo.SearchWindow `json:"window"`
	Generator  string              `json:"generator"` // dense or seeded
	StepX      float32             `json:"stepX"`
	StepY      float32             `json:"stepY"`
	SeedCrop   int                 `json:"seedCrop"`
	SeedRadius int                 `json:"seedRadius"`
	SeedMin    int                 `json:"seedMin"`
	KernelSize int                 `json:"kernelSize"`
	Sigma      float32             `json:"sigma"`
	Border     int                 `json:"border"` // negative for the kernel radius
	EdgeBand   int                 `json:"edgeBand"`
	TileSize   int                 `json:"tileSize"`
	Mask       string              `json:"mask"` // reliability mask file, empty for none
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpMatchDefault() }) } // register the operator for JSON decoding

func NewOpMatchDefault() *OpMatch {
	return NewOpMatch(stereo.SearchWindow{MinX: -3, MaxX: 3, MinY: -8, MaxY: 24}, GenDense, 7, 1.5, 4, 256)
}

func NewOpMatch(window stereo.SearchWindow, generator string, kernelSize int, sigma float32, edgeBand, tileSize int) *OpMatch {
	return &OpMatch{
		OpBase:     ops.OpBase{Type: "match", Active: true},
		Window:     window,
		Generator:  generator,
		StepX:      1,
		StepY:      1,
		SeedCrop:   64,
		SeedRadius: 2,
		SeedMin:    25,
		KernelSize: kernelSize,
		Sigma:      sigma,
		Border:     -1,
		EdgeBand:   edgeBand,
		TileSize:   tileSize,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpMatch) UnmarshalJSON(data []byte) error {
	type defaults OpMatch
	def := defaults(*NewOpMatchDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*op = OpMatch(def)
	return nil
}

// Builds the candidate generator and the correlator, validating the configuration
func (op *OpMatch) Init(noData float32) (stereo.Generator, *stereo.Correlator, error) {
	if err := op.Window.Validate(); err != nil {
		return nil, nil, err
	}
	var gen stereo.Generator
	switch op.Generator {
	case GenDense, "":
		gen = stereo.NewDenseGenerator(op.Window, op.StepX, op.StepY)
	case GenSeeded:
		if op.SeedCrop < 2 {
			return nil, nil, fmt.Errorf("%s operator seed crop %d must be at least 2", op.Type, op.SeedCrop)
		}
		gen = stereo.NewSeededGenerator(op.Window, op.SeedCrop, op.SeedRadius, op.SeedMin)
	default:
		return nil, nil, fmt.Errorf("%s operator with unknown generator '%s'", op.Type, op.Generator)
	}
	corr, err := stereo.NewCorrelator(op.KernelSize, op.Sigma, op.Border, op.EdgeBand, noData)
	if err != nil {
		return nil, nil, err
	}
	return gen, corr, nil
}

func (op *OpMatch) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) != 2 {
		return nil, fmt.Errorf("%s operator needs exactly two inputs, have %d", op.Type, len(ins))
	}
	gen, corr, err := op.Init(c.NoData)
	if err != nil {
		return nil, err
	}
	out := func() (*fits.Image, error) {
		images, err := ops.MaterializeAll(ins, 2, false)
		if err != nil {
			return nil, err
		}
		if len(images) != 2 {
			return nil, fmt.Errorf("%s operator materialized %d of 2 inputs", op.Type, len(images))
		}
		return op.Apply(images[0], images[1], gen, corr, c)
	}
	return []ops.Promise{out}, nil
}

// Matches cmp against ref region by region, and assembles the disparity product
func (op *OpMatch) Apply(ref, cmp *fits.Image, gen stereo.Generator, corr *stereo.Correlator, c *ops.Context) (*fits.Image, error) {
	if !fits.SameSize(ref, cmp) {
		return nil, fmt.Errorf("%d: size %s differs from reference size %s", cmp.ID, cmp.DimensionsToString(), ref.DimensionsToString())
	}
	mask, err := c.Aux(op.Mask)
	if err != nil {
		return nil, err
	}
	if mask != nil && !fits.SameSize(ref, mask) {
		return nil, fmt.Errorf("%d: mask size %s differs from reference size %s", mask.ID, mask.DimensionsToString(), ref.DimensionsToString())
	}

	product := fits.NewProduct(ref.Width(), ref.Height(), NumChannels, c.NoData)
	product.ID = ref.ID
	product.FileName = ref.FileName
	product.Header.History = append(product.Header.History,
		fmt.Sprintf("match %s window=%s kernel=%d/%g", op.Generator, op.Window, op.KernelSize, op.Sigma))

	regions := ops.Tiles(ref.Bounds(), op.TileSize)
	if len(regions) == 0 {
		return nil, fmt.Errorf("%d: nothing to match in %s pixel image", ref.ID, ref.DimensionsToString())
	}
	maxDX := int(math.Ceil(math.Max(math.Abs(float64(op.Window.MinX)), math.Abs(float64(op.Window.MaxX)))))
	maxDY := int(math.Ceil(math.Max(math.Abs(float64(op.Window.MinY)), math.Abs(float64(op.Window.MaxY)))))
	fmt.Fprintf(c.Log, "%d: Matching %d against %d in %d regions with %s generator, window %s\n",
		ref.ID, cmp.ID, ref.ID, len(regions), op.Generator, op.Window)

	candidates := make([]int, len(regions))
	err = c.ForEachRegion(op.Type, regions, corr.ScratchBytes(regions[0], maxDX, maxDY), func(i int, r image.Rectangle) error {
		set, err := gen.Disparities(ref, cmp, r)
		if err != nil {
			return err
		}
		candidates[i] = len(set)
		field, err := corr.Correlate(ref, cmp, mask, r, set)
		if err != nil {
			return err
		}
		StoreField(product, field)
		return nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range candidates {
		total += n
	}
	product.SetNoData(c.NoData)
	dy := stereoStats(product, ChannelDY)
	fmt.Fprintf(c.Log, "%d: Tested %d candidates, matched %d of %d pixels, dy %v\n",
		ref.ID, total, dy.Valid(), product.Width()*product.Height(), dy)
	return product, nil
}
