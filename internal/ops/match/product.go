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

package match

import (
	"fmt"
	"image"

	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/mlnoga/cloudtop/internal/stats"
	"github.com/mlnoga/cloudtop/internal/stereo"
)

// Copies a region field into the disparity product. Regions of concurrent callers must not overlap
func StoreField(product *fits.Image, field *stereo.Field) {
	width := int(product.Width())
	dx, dy, cost := product.Channel(ChannelDX), product.Channel(ChannelDY), product.Channel(ChannelCost)
	r := field.Region
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := (y - r.Min.Y) * r.Dx()
		dst := y*width + r.Min.X
		copy(dx[dst:dst+r.Dx()], field.DX[src:src+r.Dx()])
		copy(dy[dst:dst+r.Dx()], field.DY[src:src+r.Dx()])
		copy(cost[dst:dst+r.Dx()], field.Cost[src:src+r.Dx()])
	}
}

// Extracts the field of a region from a disparity product. Products without a no-data
// marker are assumed to use the given default
func LoadField(product *fits.Image, region image.Rectangle, defaultNoData float32) (*stereo.Field, error) {
	if product.Channels() != NumChannels {
		return nil, fmt.Errorf("%d: disparity product needs %d channels, have %d", product.ID, NumChannels, product.Channels())
	}
	if !region.In(product.Bounds()) {
		return nil, fmt.Errorf("%d: region %v not within bounds %v", product.ID, region, product.Bounds())
	}
	noData := defaultNoData
	if product.HasNoData {
		noData = product.NoData
	}
	field := &stereo.Field{
		Region: region,
		DX:     make([]float32, region.Dx()*region.Dy()),
		DY:     make([]float32, region.Dx()*region.Dy()),
		Cost:   make([]float32, region.Dx()*region.Dy()),
		NoData: noData,
	}
	width := int(product.Width())
	dx, dy, cost := product.Channel(ChannelDX), product.Channel(ChannelDY), product.Channel(ChannelCost)
	for y := region.Min.Y; y < region.Max.Y; y++ {
		src := y*width + region.Min.X
		dst := (y - region.Min.Y) * region.Dx()
		copy(field.DX[dst:dst+region.Dx()], dx[src:src+region.Dx()])
		copy(field.DY[dst:dst+region.Dx()], dy[src:src+region.Dx()])
		copy(field.Cost[dst:dst+region.Dx()], cost[src:src+region.Dx()])
	}
	return field, nil
}

func stereoStats(product *fits.Image, channel int32) *stats.Stats {
	return stats.NewStatsIgnoring(product.Channel(channel), product.Width(), product.NoData)
}
