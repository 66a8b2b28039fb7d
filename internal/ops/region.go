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
	"errors"
	"fmt"
	"image"
	"time"
)

// Splits the bounds into tiles of at most tileSize x tileSize pixels, row by row.
// A tileSize <= 0 yields the bounds as a single tile
func Tiles(bounds image.Rectangle, tileSize int) []image.Rectangle {
	if tileSize <= 0 {
		return []image.Rectangle{bounds}
	}
	tiles := []image.Rectangle{}
	for y := bounds.Min.Y; y < bounds.Max.Y; y += tileSize {
		for x := bounds.Min.X; x < bounds.Max.X; x += tileSize {
			tiles = append(tiles, image.Rect(x, y, x+tileSize, y+tileSize).Intersect(bounds))
		}
	}
	return tiles
}

// Runs fn on every region concurrently, with at most MaxThreads workers and at most as many
// as the region memory budget admits given the per-region scratch size in bytes.
// Regions never share state, so no ordering is implied. Errors of all regions are joined
func (c *Context) ForEachRegion(op string, regions []image.Rectangle, scratchBytes int64, fn func(i int, r image.Rectangle) error) error {
	workers := c.MaxThreads
	if workers < 1 {
		workers = 1
	}
	if scratchBytes > 0 && c.RegionMemoryMB > 0 {
		byMemory := int(int64(c.RegionMemoryMB) * 1024 * 1024 / scratchBytes)
		if byMemory < 1 {
			byMemory = 1
		}
		if byMemory < workers {
			fmt.Fprintf(c.Log, "Limiting %s to %d concurrent regions due to memory budget of %d MiB\n", op, byMemory, c.RegionMemoryMB)
			workers = byMemory
		}
	}

	limiter := make(chan bool, workers)
	errs := make([]error, len(regions))
	for i, r := range regions {
		limiter <- true
		go func(i int, r image.Rectangle) {
			defer func() { <-limiter }()
			start := time.Now()
			if err := fn(i, r); err != nil {
				errs[i] = fmt.Errorf("region %v: %w", r, err)
				return
			}
			if c.RegionObserver != nil {
				c.RegionObserver(op, r, time.Since(start))
			}
		}(i, r)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	return errors.Join(errs...)
}
