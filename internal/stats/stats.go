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

package stats

import (
	"fmt"
	"math"
	"sync"

	"github.com/mlnoga/cloudtop/internal/qsort"
	"github.com/valyala/fastrand"
)

// Number of samples drawn for the location and scale estimators
const numSamples = 16 * 1024

// Lazily calculated statistics on a data array. NaNs are always excluded,
// values equal to the no-data sentinel only if ignoring is enabled.
type Stats struct {
	data   []float32
	width  int32
	noData float32
	ignore bool

	mutex    sync.Mutex
	basic    bool
	extended bool

	valid    int
	min      float32
	max      float32
	mean     float32
	stdDev   float32
	location float32 // sampled median
	scale    float32 // sampled MAD, normalized to Gaussian standard deviation
}

// Creates statistics over all non-NaN values of the data
func NewStats(data []float32, width int32) *Stats {
	return &Stats{data: data, width: width}
}

// Creates statistics over the data, skipping no-data values and NaNs
func NewStatsIgnoring(data []float32, width int32, noData float32) *Stats {
	return &Stats{data: data, width: width, noData: noData, ignore: true}
}

// Clears calculated values, e.g. after the underlying data has changed
func (s *Stats) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.basic, s.extended = false, false
}

func (s *Stats) skip(v float32) bool {
	return v != v || (s.ignore && v == s.noData)
}

func (s *Stats) calcBasic() {
	if s.basic {
		return
	}
	s.basic = true
	min, max, sum, valid := float32(math.MaxFloat32), float32(-math.MaxFloat32), float64(0), 0
	for _, v := range s.data {
		if s.skip(v) {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += float64(v)
		valid++
	}
	s.valid = valid
	if valid == 0 {
		nan := float32(math.NaN())
		s.min, s.max, s.mean, s.stdDev = nan, nan, nan, nan
		return
	}
	s.min, s.max, s.mean = min, max, float32(sum/float64(valid))

	variance := float64(0)
	for _, v := range s.data {
		if s.skip(v) {
			continue
		}
		diff := float64(v - s.mean)
		variance += diff * diff
	}
	s.stdDev = float32(math.Sqrt(variance / float64(valid)))
}

// Location is a sampled median, scale a sampled MAD. Uses all valid values if there are few
func (s *Stats) calcExtended() {
	s.calcBasic()
	if s.extended {
		return
	}
	s.extended = true
	if s.valid == 0 {
		s.location, s.scale = float32(math.NaN()), float32(math.NaN())
		return
	}

	var samples []float32
	if s.valid <= numSamples {
		samples = make([]float32, 0, s.valid)
		for _, v := range s.data {
			if !s.skip(v) {
				samples = append(samples, v)
			}
		}
	} else {
		samples = make([]float32, numSamples)
		rng := fastrand.RNG{}
		max := uint32(len(s.data))
		for i := range samples {
			var d float32
			for {
				d = s.data[rng.Uint32n(max)]
				if !s.skip(d) {
					break
				}
			}
			samples[i] = d
		}
	}

	s.location = qsort.QSelectMedian(samples)
	for i, d := range samples {
		samples[i] = float32(math.Abs(float64(d - s.location)))
	}
	s.scale = qsort.QSelectMedian(samples) * 1.4826
}

func (s *Stats) Valid() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calcBasic()
	return s.valid
}

func (s *Stats) Min() float32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calcBasic()
	return s.min
}

func (s *Stats) Max() float32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calcBasic()
	return s.max
}

func (s *Stats) Mean() float32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calcBasic()
	return s.mean
}

func (s *Stats) StdDev() float32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calcBasic()
	return s.stdDev
}

func (s *Stats) Location() float32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calcExtended()
	return s.location
}

func (s *Stats) Scale() float32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calcExtended()
	return s.scale
}

// Pretty print stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Valid %d Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g",
		s.Valid(), s.Min(), s.Max(), s.Mean(), s.StdDev(), s.Location(), s.Scale())
}
