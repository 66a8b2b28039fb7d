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

// Package height converts along-track disparities into heights above the reference surface.
package height

import (
	"fmt"
	"math"
)

// Maps a pixel column, a disparity and the local elevation to a raw geometric height.
// Implementations must be pure and safe for concurrent use.
type CameraModel interface {
	ComputeHeight(column, disparity, elevation float64) float64
}

// A camera model which can also predict the disparity a given height produces
type InvertibleModel interface {
	CameraModel
	ComputeDisparity(column, height, elevation float64) float64
}

// Along-track conical scan with a fixed half angle between the two views.
// The effective view angle shrinks with the cosine of the column angle away from nadir.
type ConeModel struct {
	HalfAngle    float64 `json:"halfAngle" yaml:"halfAngle"`       // Half angle of the scan cone in degrees
	PixelSize    float64 `json:"pixelSize" yaml:"pixelSize"`       // Along-track pixel size in metres
	CenterColumn float64 `json:"centerColumn" yaml:"centerColumn"` // Column of the sub-satellite point
	ColumnAngle  float64 `json:"columnAngle" yaml:"columnAngle"`   // Across-track scan angle per column in degrees
}

func NewConeModel(halfAngle, pixelSize, centerColumn, columnAngle float64) *ConeModel {
	return &ConeModel{HalfAngle: halfAngle, PixelSize: pixelSize, CenterColumn: centerColumn, ColumnAngle: columnAngle}
}

func (m *ConeModel) Validate() error {
	if !(m.HalfAngle > 0 && m.HalfAngle < 90) {
		return fmt.Errorf("cone half angle %g must be within (0, 90) degrees", m.HalfAngle)
	}
	if !(m.PixelSize > 0) {
		return fmt.Errorf("pixel size %g must be positive", m.PixelSize)
	}
	return nil
}

// Tangent of the along-track view angle at the given column
func (m *ConeModel) tangent(column float64) float64 {
	const deg = math.Pi / 180
	return math.Tan(m.HalfAngle*deg) * math.Cos((column-m.CenterColumn)*m.ColumnAngle*deg)
}

// Triangulates the height of a feature with the given disparity. NaN if the geometry is degenerate
func (m *ConeModel) ComputeHeight(column, disparity, elevation float64) float64 {
	tan := m.tangent(column)
	if !(tan > 0) {
		return math.NaN()
	}
	return elevation + disparity*m.PixelSize/tan
}

// Predicts the disparity of a feature at the given height. NaN if the geometry is degenerate
func (m *ConeModel) ComputeDisparity(column, height, elevation float64) float64 {
	tan := m.tangent(column)
	if !(tan > 0) || !(m.PixelSize > 0) {
		return math.NaN()
	}
	return (height - elevation) * tan / m.PixelSize
}
