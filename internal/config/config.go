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

// Package config loads and saves the YAML run configuration, and builds the
// pipeline operators it describes.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mlnoga/cloudtop/internal/height"
	"github.com/mlnoga/cloudtop/internal/ops"
	"github.com/mlnoga/cloudtop/internal/ops/match"
	"github.com/mlnoga/cloudtop/internal/ops/retrieve"
	"github.com/mlnoga/cloudtop/internal/stereo"
	"gopkg.in/yaml.v3"
)

// Default name of the configuration file in the working directory
const DefaultFileName = "cloudtop.yaml"

// Run configuration as read from YAML
type Config struct {
	Processing struct {
		// Worker threads for regions and inputs. 0 uses all logical cores
		Threads int `yaml:"threads"`

		// Edge length of the square regions processed independently
		TileSize int `yaml:"tileSize"`

		// Sentinel for missing values in all products
		NoData float32 `yaml:"noData"`

		// Only relative paths below the working directory may be read or written
		RestrictPaths bool `yaml:"restrictPaths"`
	} `yaml:"processing"`

	Match struct {
		Window     stereo.SearchWindow `yaml:"window"`
		Generator  string              `yaml:"generator"`
		StepX      float32             `yaml:"stepX"`
		StepY      float32             `yaml:"stepY"`
		SeedCrop   int                 `yaml:"seedCrop"`
		SeedRadius int                 `yaml:"seedRadius"`
		SeedMin    int                 `yaml:"seedMin"`
		KernelSize int                 `yaml:"kernelSize"`
		Sigma      float32             `yaml:"sigma"`
		Border     int                 `yaml:"border"` // negative for the kernel radius
		EdgeBand   int                 `yaml:"edgeBand"`
		Mask       string              `yaml:"mask"`
	} `yaml:"match"`

	Coreg struct {
		Expected string `yaml:"expected"` // expected y disparity raster; derived from height.elevation if empty
		Mask     string `yaml:"mask"`
	} `yaml:"coreg"`

	Height struct {
		Camera          height.ConeModel `yaml:"camera"`
		DisparityOffset float64          `yaml:"disparityOffset"`
		MinHeight       float64          `yaml:"minHeight"`
		MaxHeight       float64          `yaml:"maxHeight"`
		Elevation       string           `yaml:"elevation"`
	} `yaml:"height"`

	Output struct {
		// Preview colour map for JPEG output: gray, height or diverge
		ColorMap string `yaml:"colorMap"`

		// JPEG quality
		Quality int `yaml:"quality"`

		// Remove isolated outliers from products with a 3x3 median filter
		Despeckle bool `yaml:"despeckle"`

		// Bins of diagnostic histograms; 0 disables them
		HistogramBins int `yaml:"histogramBins"`

		// Log file; %auto derives it from the output file name, empty disables it
		Log string `yaml:"log"`
	} `yaml:"output"`
}

// Returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	m := match.NewOpMatchDefault()
	cfg.Processing.Threads = runtime.NumCPU()
	cfg.Processing.TileSize = m.TileSize
	cfg.Processing.NoData = ops.NoDataDefault

	cfg.Match.Window = m.Window
	cfg.Match.Generator = m.Generator
	cfg.Match.StepX, cfg.Match.StepY = m.StepX, m.StepY
	cfg.Match.SeedCrop, cfg.Match.SeedRadius, cfg.Match.SeedMin = m.SeedCrop, m.SeedRadius, m.SeedMin
	cfg.Match.KernelSize, cfg.Match.Sigma = m.KernelSize, m.Sigma
	cfg.Match.Border, cfg.Match.EdgeBand = m.Border, m.EdgeBand

	h := retrieve.NewOpHeightDefault()
	cfg.Height.Camera = h.Camera
	cfg.Height.MinHeight, cfg.Height.MaxHeight = h.MinHeight, h.MaxHeight

	cfg.Output.ColorMap = "height"
	cfg.Output.Quality = 95
	cfg.Output.HistogramBins = 64
	cfg.Output.Log = AutoName
	return cfg
}

// Loads the configuration from a YAML file, starting from defaults.
// If the file doesn't exist, returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Saves the configuration to a YAML file, creating its directory if needed
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Writes the configuration as YAML
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	return enc.Close()
}

// Checks all sections, returning the errors of all of them
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Processing.Threads < 0 {
		errs = append(errs, fmt.Errorf("processing: threads %d must not be negative", cfg.Processing.Threads))
	}
	if cfg.Processing.TileSize < 0 {
		errs = append(errs, fmt.Errorf("processing: tile size %d must not be negative", cfg.Processing.TileSize))
	}
	if _, _, err := cfg.MatchOp().Init(cfg.Processing.NoData); err != nil {
		errs = append(errs, fmt.Errorf("match: %w", err))
	}
	if err := cfg.Height.Camera.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("height: %w", err))
	}
	if cfg.Height.MinHeight > cfg.Height.MaxHeight {
		errs = append(errs, fmt.Errorf("height: minimum %g exceeds maximum %g", cfg.Height.MinHeight, cfg.Height.MaxHeight))
	}
	if cfg.Output.Quality < 1 || cfg.Output.Quality > 100 {
		errs = append(errs, fmt.Errorf("output: JPEG quality %d must be within [1,100]", cfg.Output.Quality))
	}
	return errors.Join(errs...)
}

// Applies the processing section to an execution context
func (cfg *Config) ApplyTo(c *ops.Context) {
	if cfg.Processing.Threads > 0 {
		c.MaxThreads = cfg.Processing.Threads
	}
	c.NoData = cfg.Processing.NoData
	c.RestrictPaths = c.RestrictPaths || cfg.Processing.RestrictPaths
}

// Builds the disparity matching operator
func (cfg *Config) MatchOp() *match.OpMatch {
	m := cfg.Match
	op := match.NewOpMatch(m.Window, m.Generator, m.KernelSize, m.Sigma, m.EdgeBand, cfg.Processing.TileSize)
	op.StepX, op.StepY = m.StepX, m.StepY
	op.SeedCrop, op.SeedRadius, op.SeedMin = m.SeedCrop, m.SeedRadius, m.SeedMin
	op.Border = m.Border
	op.Mask = m.Mask
	return op
}

// Builds the coregistration shift operator
func (cfg *Config) ShiftOp() *retrieve.OpShift {
	return retrieve.NewOpShift(cfg.Coreg.Mask, cfg.Coreg.Expected, cfg.Height.Elevation, cfg.Height.Camera, cfg.Processing.TileSize)
}

// Builds the height operator
func (cfg *Config) HeightOp() *retrieve.OpHeight {
	h := cfg.Height
	return retrieve.NewOpHeight(h.Camera, h.DisparityOffset, h.MinHeight, h.MaxHeight, h.Elevation, cfg.Processing.TileSize)
}

// Builds a save operator for the given file, with the preview settings of the output section
func (cfg *Config) SaveOp(filePattern string, channel int32) *ops.OpSave {
	op := ops.NewOpSave(filePattern)
	op.Channel = channel
	op.ColorMap = cfg.Output.ColorMap
	op.Quality = cfg.Output.Quality
	return op
}

// Placeholder for file names derived from the output file name
const AutoName = "%auto"

// Resolves a file name, replacing AutoName with the output file name carrying the given suffix
func ResolveAuto(name, out, suffix string) string {
	if name != AutoName {
		return name
	}
	if out == "" {
		return ""
	}
	return strings.TrimSuffix(out, filepath.Ext(out)) + suffix
}

// Returns the log file name for the given output file, or "" if no log file is kept
func (cfg *Config) LogFile(out string) string {
	return ResolveAuto(cfg.Output.Log, out, ".log")
}
