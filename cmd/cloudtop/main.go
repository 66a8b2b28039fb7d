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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/mlnoga/cloudtop/internal/config"
	"github.com/mlnoga/cloudtop/internal/ops"
	"github.com/mlnoga/cloudtop/internal/ops/match"
	"github.com/mlnoga/cloudtop/internal/ops/retrieve"
	"github.com/mlnoga/cloudtop/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var cfgFile = flag.String("config", config.DefaultFileName, "read YAML configuration from `file`; flags given explicitly override it")
var out = flag.String("out", "out.fits", "save output to `file`")
var jpg = flag.String("jpg", "%auto", "save 8bit preview of output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var hist = flag.String("hist", "", "save histogram of output as PNG to `file`. `%auto` replaces suffix of output file with .png")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var despeckle = flag.Bool("despeckle", false, "remove isolated outliers from disparity and height products with a 3x3 median filter")

var threads = flag.Int("threads", 0, "number of worker threads, 0=all logical cores")
var tile = flag.Int("tile", 256, "edge length of square regions processed independently, 0=whole scene")
var noData = flag.Float64("noData", float64(ops.NoDataDefault), "sentinel for missing values in all products")

var minX = flag.Float64("minX", -3, "search window: minimum x disparity in pixels")
var maxX = flag.Float64("maxX", 3, "search window: maximum x disparity in pixels")
var minY = flag.Float64("minY", -8, "search window: minimum y disparity in pixels")
var maxY = flag.Float64("maxY", 24, "search window: maximum y disparity in pixels")
var gen = flag.String("gen", match.GenDense, "disparity candidate generator, dense or seeded")
var stepX = flag.Float64("stepX", 1, "dense generator: x step in pixels, fractional for subpixel search")
var stepY = flag.Float64("stepY", 1, "dense generator: y step in pixels, fractional for subpixel search")
var seedCrop = flag.Int("seedCrop", 64, "seeded generator: size of the centre crop for cross-correlation")
var seedRadius = flag.Int("seedRadius", 2, "seeded generator: initial radius around the correlation peak")
var seedMin = flag.Int("seedMin", 25, "seeded generator: minimum number of candidates")
var kernel = flag.Int("kernel", 7, "Gaussian cost aggregation kernel size, odd")
var sigma = flag.Float64("sigma", 1.5, "Gaussian cost aggregation sigma in pixels")
var border = flag.Int("border", -1, "border added around each region for cost aggregation, -1=kernel radius")
var edgeBand = flag.Int("edgeBand", 4, "width of the scene edge band without matches")
var mask = flag.String("mask", "", "reliability mask `file` for matching, nonzero=usable")

var expected = flag.String("expected", "", "expected y disparity `file` for coregistration")
var coregMask = flag.String("coregMask", "", "reliability mask `file` for coregistration")
var elevation = flag.String("elevation", "", "terrain elevation `file` in metres")

var halfAngle = flag.Float64("halfAngle", 55, "camera: half angle of the scan cone in degrees")
var pixelSize = flag.Float64("pixelSize", 1000, "camera: along-track pixel size in metres")
var centerColumn = flag.Float64("centerColumn", 255.5, "camera: column of the sub-satellite point")
var columnAngle = flag.Float64("columnAngle", 0.18, "camera: across-track scan angle per column in degrees")
var offset = flag.Float64("offset", 0, "disparity offset in pixels added before height computation")
var minHeight = flag.Float64("minHeight", 1000, "minimum valid height in metres")
var maxHeight = flag.Float64("maxHeight", 20000, "maximum valid height in metres")

var addr = flag.String("addr", ":8080", "serve: listen on `address`")
var chroot = flag.String("chroot", "", "serve: change filesystem root to `dir` before serving. Requires root")
var setuid = flag.Int("setuid", -1, "serve: change user id to `uid` before serving, -1=keep")

func main() {
	start := time.Now()
	logWriter := io.Writer(os.Stdout)
	flag.Usage = func() {
		fmt.Fprintf(os.Stdout, `Cloudtop Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (match|shift|height|run|serve|config|legal|version) (img0.fits ... imgn.fits)

Commands:
  match   Match comparison against reference image. Inputs are reference and comparison, in that order
  shift   Compute coregistration shifts from a disparity product
  height  Compute cloud top heights from a disparity product
  run     Run a JSON pipeline. First input is the pipeline, the rest are images
  serve   Serve pipeline runs over HTTP
  config  Write the effective configuration as YAML to the given file, or stdout
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(-1)
	}

	// Initialize logging to file in addition to stdout, if selected
	logName := cfg.LogFile(*out)
	*jpg = autoName(*jpg, ".jpg")
	*hist = autoName(*hist, ".png")
	if logName != "" && (args[0] == "match" || args[0] == "shift" || args[0] == "height" || args[0] == "run") {
		logFile, err := os.Create(logName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", logName, err.Error())
			os.Exit(-1)
		}
		defer logFile.Close()
		logWriter = io.MultiWriter(os.Stdout, logFile)
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	c := ops.NewContext(logWriter, cfg.Processing.NoData)
	cfg.ApplyTo(c)

	switch args[0] {
	case "match":
		err = cmdMatch(cfg, c, args[1:])

	case "shift":
		err = cmdShift(cfg, c, args[1:])

	case "height":
		err = cmdHeight(cfg, c, args[1:])

	case "run":
		err = cmdRun(c, args[1:])

	case "serve":
		err = cmdServe(cfg, logWriter)

	case "config":
		err = cmdConfig(cfg, args[1:])

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		os.Exit(-1)
	}

	if args[0] == "match" || args[0] == "shift" || args[0] == "height" || args[0] == "run" {
		fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))
	}

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write allocation profile: %s\n", err.Error())
		}
	}

	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}

// Replaces %auto with the output file name with the given suffix
func autoName(name, suffix string) string {
	return config.ResolveAuto(name, *out, suffix)
}

// Reads the YAML configuration, then applies all flags given explicitly on the command line
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*cfgFile)
	if err != nil {
		return nil, err
	}
	overrides := map[string]func(){
		"threads":      func() { cfg.Processing.Threads = *threads },
		"tile":         func() { cfg.Processing.TileSize = *tile },
		"noData":       func() { cfg.Processing.NoData = float32(*noData) },
		"minX":         func() { cfg.Match.Window.MinX = float32(*minX) },
		"maxX":         func() { cfg.Match.Window.MaxX = float32(*maxX) },
		"minY":         func() { cfg.Match.Window.MinY = float32(*minY) },
		"maxY":         func() { cfg.Match.Window.MaxY = float32(*maxY) },
		"gen":          func() { cfg.Match.Generator = *gen },
		"stepX":        func() { cfg.Match.StepX = float32(*stepX) },
		"stepY":        func() { cfg.Match.StepY = float32(*stepY) },
		"seedCrop":     func() { cfg.Match.SeedCrop = *seedCrop },
		"seedRadius":   func() { cfg.Match.SeedRadius = *seedRadius },
		"seedMin":      func() { cfg.Match.SeedMin = *seedMin },
		"kernel":       func() { cfg.Match.KernelSize = *kernel },
		"sigma":        func() { cfg.Match.Sigma = float32(*sigma) },
		"border":       func() { cfg.Match.Border = *border },
		"edgeBand":     func() { cfg.Match.EdgeBand = *edgeBand },
		"mask":         func() { cfg.Match.Mask = *mask },
		"expected":     func() { cfg.Coreg.Expected = *expected },
		"coregMask":    func() { cfg.Coreg.Mask = *coregMask },
		"elevation":    func() { cfg.Height.Elevation = *elevation },
		"halfAngle":    func() { cfg.Height.Camera.HalfAngle = *halfAngle },
		"pixelSize":    func() { cfg.Height.Camera.PixelSize = *pixelSize },
		"centerColumn": func() { cfg.Height.Camera.CenterColumn = *centerColumn },
		"columnAngle":  func() { cfg.Height.Camera.ColumnAngle = *columnAngle },
		"offset":       func() { cfg.Height.DisparityOffset = *offset },
		"minHeight":    func() { cfg.Height.MinHeight = *minHeight },
		"maxHeight":    func() { cfg.Height.MaxHeight = *maxHeight },
		"despeckle":    func() { cfg.Output.Despeckle = *despeckle },
		"log":          func() { cfg.Output.Log = *log },
	}
	flag.Visit(func(f *flag.Flag) {
		if override, ok := overrides[f.Name]; ok {
			override()
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Appends save operators for the output, its preview and its histogram
func appendOutputs(cfg *config.Config, seq *ops.OpSequence, channel int32, colorMap, title, unit string) {
	if cfg.Output.Despeckle {
		seq.Append(retrieve.NewOpDespeckle([]int32{channel}, 3))
	}
	seq.Append(cfg.SaveOp(*out, 0))
	if *jpg != "" {
		preview := cfg.SaveOp(*jpg, channel)
		preview.ColorMap = colorMap
		seq.Append(preview)
	}
	if *hist != "" && cfg.Output.HistogramBins > 0 {
		seq.Append(retrieve.NewOpHistogram(*hist, channel, cfg.Output.HistogramBins, title, unit))
	}
}

func printPipeline(c *ops.Context, seq *ops.OpSequence) error {
	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Running on %v\nPipeline:\n%s\n", c, string(m))
	return nil
}

func cmdMatch(cfg *config.Config, c *ops.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("need exactly two inputs, reference and comparison, have %d", len(args))
	}
	seq := ops.NewOpSequence(cfg.MatchOp())
	appendOutputs(cfg, seq, match.ChannelDY, "diverge", "y disparity", "pixels")
	if err := printPipeline(c, seq); err != nil {
		return err
	}
	return c.Run(seq, args)
}

func cmdShift(cfg *config.Config, c *ops.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("need at least one disparity product")
	}
	seq := ops.NewOpSequence(cfg.ShiftOp())
	appendOutputs(cfg, seq, retrieve.ChannelShiftY, "diverge", "y shift", "pixels")
	if err := printPipeline(c, seq); err != nil {
		return err
	}
	return c.Run(seq, args)
}

func cmdHeight(cfg *config.Config, c *ops.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("need at least one disparity product")
	}
	seq := ops.NewOpSequence(cfg.HeightOp())
	appendOutputs(cfg, seq, 0, cfg.Output.ColorMap, "cloud top height", "m")
	if err := printPipeline(c, seq); err != nil {
		return err
	}
	return c.Run(seq, args)
}

// Runs a JSON pipeline from a file on the remaining inputs
func cmdRun(c *ops.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("need a pipeline file")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	op, err := ops.UnmarshalOperator(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprintf(c.Log, "Running on %v\n", c)
	return c.Run(op, args[1:])
}

func cmdServe(cfg *config.Config, logWriter io.Writer) error {
	s := rest.NewServer(logWriter, cfg.Processing.NoData)
	s.MaxThreads = cfg.Processing.Threads
	if err := rest.MakeSandbox(logWriter, *chroot, *setuid); err != nil {
		return err
	}
	return s.Serve(*addr)
}

// Writes the effective configuration to the given file, or stdout
func cmdConfig(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		return config.SaveConfig(cfg, args[0])
	}
	return config.Write(os.Stdout, cfg)
}
