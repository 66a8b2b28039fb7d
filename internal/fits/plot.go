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
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Builds a histogram plot of the valid values in the given channel, ignoring NoData and NaN
func (f *Image) HistogramPlot(channel int32, bins int, title, unit string) (*plot.Plot, error) {
	data := f.Channel(channel)
	values := make(plotter.Values, 0, len(data))
	for _, v := range data {
		if (f.HasNoData && v == f.NoData) || math.IsNaN(float64(v)) {
			continue
		}
		values = append(values, float64(v))
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%d: no valid values in channel %d", f.ID, channel)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = unit
	p.Y.Label.Text = "Pixels"

	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, err
	}
	p.Add(h)
	return p, nil
}

// Writes a histogram of the given channel as PNG to the file with the given name
func (f *Image) WriteHistogramToFile(fileName string, channel int32, bins int, title, unit string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	return f.WriteHistogram(file, channel, bins, title, unit)
}

// Writes a histogram of the given channel as PNG
func (f *Image) WriteHistogram(w io.Writer, channel int32, bins int, title, unit string) error {
	p, err := f.HistogramPlot(channel, bins, title, unit)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
