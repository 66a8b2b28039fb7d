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
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/mlnoga/cloudtop/internal/fits"
	"github.com/pbnjay/memory"
)

// An execution context for operators
type Context struct {
	Log            io.Writer
	MemoryMB       int    // memory.TotalMemory()/1024/1024
	RegionMemoryMB int    // MemoryMB*7/10, budget for concurrent region scratch buffers
	MaxThreads     int    `json:"maxThreads"`
	CPU            string // Processor brand name
	Cores          int    // Logical cores
	RestrictPaths  bool   // Only relative paths within the working directory tree may be read or written

	// Sentinel for missing values in all products
	NoData float32 `json:"noData"`

	// Invoked after each region an operator processes, if set
	RegionObserver func(op string, region image.Rectangle, elapsed time.Duration) `json:"-"`

	auxMutex sync.Mutex
	aux      map[string]*fits.Image // auxiliary rasters by file name
	auxIDs   int
}

func NewContext(log io.Writer, noData float32) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	cores := cpuid.CPU.LogicalCores
	maxThreads := runtime.GOMAXPROCS(0)
	if cores > 0 && cores < maxThreads {
		maxThreads = cores
	}
	return &Context{
		Log:            log,
		MemoryMB:       memoryMB,
		RegionMemoryMB: memoryMB * 7 / 10,
		MaxThreads:     maxThreads,
		CPU:            cpuid.CPU.BrandName,
		Cores:          cores,
		NoData:         noData,
		aux:            make(map[string]*fits.Image),
	}
}

// Rejects absolute paths and paths leaving the working directory tree if RestrictPaths is set
func (c *Context) CheckPath(fileName string) error {
	if c.RestrictPaths && !filepath.IsLocal(fileName) {
		return fmt.Errorf("file %q is outside the working directory tree", fileName)
	}
	return nil
}

// Default sentinel for missing values
const NoDataDefault = float32(-999)

// Describes the execution environment for the log
func (c *Context) String() string {
	simd := ""
	if cpuid.CPU.AVX2() {
		simd = " with AVX2"
	}
	return fmt.Sprintf("%s%s, %d logical cores, %d MiB memory, using %d threads and %d MiB for regions",
		c.CPU, simd, c.Cores, c.MemoryMB, c.MaxThreads, c.RegionMemoryMB)
}

// Registers an in-memory auxiliary raster under the given name, e.g. for rasters received over the network
func (c *Context) SetAux(name string, f *fits.Image) {
	c.auxMutex.Lock()
	defer c.auxMutex.Unlock()
	if c.aux == nil {
		c.aux = make(map[string]*fits.Image)
	}
	c.aux[name] = f
}

// Returns the auxiliary raster with the given file name, loading it on first use.
// Empty names return nil. Concurrent callers share a single load
func (c *Context) Aux(fileName string) (*fits.Image, error) {
	if fileName == "" {
		return nil, nil
	}
	c.auxMutex.Lock()
	defer c.auxMutex.Unlock()
	if c.aux == nil {
		c.aux = make(map[string]*fits.Image)
	}
	if f, ok := c.aux[fileName]; ok {
		return f, nil
	}

	c.auxIDs++
	promises, err := NewOpLoad(-c.auxIDs, fileName).MakePromises(nil, c)
	if err != nil {
		return nil, err
	}
	if len(promises) != 1 {
		return nil, errors.New("load operator did not create exactly one promise")
	}
	f, err := promises[0]()
	if err != nil {
		return nil, err
	}
	c.aux[fileName] = f
	return f, nil
}

// Drops all cached auxiliary rasters
func (c *Context) ClearAux() {
	c.auxMutex.Lock()
	c.aux = make(map[string]*fits.Image)
	c.auxMutex.Unlock()
}
