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
	"encoding/json"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mlnoga/cloudtop/internal/fits"
)

func promiseOf(f *fits.Image) Promise {
	return func() (*fits.Image, error) { return f, nil }
}

func testImage(id int) *fits.Image {
	f := fits.NewImageFromNaxisn([]int32{3, 2}, []float32{1, 2, 3, 4, -999, 6})
	f.ID = id
	f.SetNoData(-999)
	return f
}

func TestMaterializeAll(t *testing.T) {
	ins := []Promise{promiseOf(testImage(0)), promiseOf(testImage(1)), promiseOf(testImage(2))}
	outs, err := MaterializeAll(ins, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	for i, f := range outs {
		if f.ID != i {
			t.Errorf("output %d has ID %d", i, f.ID)
		}
	}

	errA, errB := errors.New("a"), errors.New("b")
	ins = []Promise{
		func() (*fits.Image, error) { return nil, errA },
		promiseOf(testImage(1)),
		func() (*fits.Image, error) { return nil, errB },
	}
	outs, err = MaterializeAll(ins, 0, false)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err=%v; want both errors joined", err)
	}
	if len(outs) != 1 || outs[0].ID != 1 {
		t.Errorf("outs=%v; want only the successful image", outs)
	}

	if outs, err = MaterializeAll(ins[1:2], 1, true); err != nil || outs != nil {
		t.Errorf("forget returned %v, %v", outs, err)
	}
}

func TestTiles(t *testing.T) {
	got := Tiles(image.Rect(0, 0, 5, 3), 2)
	want := []image.Rectangle{
		image.Rect(0, 0, 2, 2), image.Rect(2, 0, 4, 2), image.Rect(4, 0, 5, 2),
		image.Rect(0, 2, 2, 3), image.Rect(2, 2, 4, 3), image.Rect(4, 2, 5, 3),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tiles mismatch (-want +got):\n%s", diff)
	}
	if got := Tiles(image.Rect(1, 1, 4, 4), 0); len(got) != 1 || got[0] != image.Rect(1, 1, 4, 4) {
		t.Errorf("non-positive tile size gave %v", got)
	}
}

func TestForEachRegion(t *testing.T) {
	c := NewContext(io.Discard, NoDataDefault)
	c.MaxThreads = 4
	var observed int32
	c.RegionObserver = func(op string, r image.Rectangle, elapsed time.Duration) {
		if op != "test" {
			t.Errorf("observer got op %q", op)
		}
		atomic.AddInt32(&observed, 1)
	}

	regions := Tiles(image.Rect(0, 0, 10, 10), 3)
	var mutex sync.Mutex
	area := 0
	err := c.ForEachRegion("test", regions, 0, func(i int, r image.Rectangle) error {
		mutex.Lock()
		area += r.Dx() * r.Dy()
		mutex.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if area != 100 || int(observed) != len(regions) {
		t.Errorf("area=%d observed=%d; want 100 and %d", area, observed, len(regions))
	}

	boom := errors.New("boom")
	err = c.ForEachRegion("test", regions, 0, func(i int, r image.Rectangle) error {
		if i == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("err=%v; want wrapped boom", err)
	}
}

func TestForEachRegionMemoryLimit(t *testing.T) {
	c := NewContext(io.Discard, NoDataDefault)
	c.MaxThreads, c.RegionMemoryMB = 8, 1
	var active, peak int32
	err := c.ForEachRegion("test", Tiles(image.Rect(0, 0, 8, 8), 2), 1024*1024, func(i int, r image.Rectangle) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if peak != 1 {
		t.Errorf("peak concurrency %d; want 1", peak)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewContext(io.Discard, NoDataDefault)
	in := testImage(4)

	save := NewOpSave(filepath.Join(dir, "out%d.fits"))
	promises, err := save.MakePromises([]Promise{promiseOf(in)}, c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := MaterializeAll(promises, 1, false); err != nil {
		t.Fatal(err)
	}

	load := NewOpLoad(9, filepath.Join(dir, "out4.fits"))
	promises, err = load.MakePromises(nil, c)
	if err != nil {
		t.Fatal(err)
	}
	outs, err := MaterializeAll(promises, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in.Data, outs[0].Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if outs[0].ID != 9 || !outs[0].HasNoData || outs[0].NoData != -999 {
		t.Errorf("loaded image ID %d nodata %v %g", outs[0].ID, outs[0].HasNoData, outs[0].NoData)
	}
}

func TestSavePreviews(t *testing.T) {
	dir := t.TempDir()
	c := NewContext(io.Discard, NoDataDefault)
	for _, name := range []string{"p.tif", "p.jpg", "p.fits.gz"} {
		save := NewOpSave(filepath.Join(dir, name))
		if _, err := save.Apply(testImage(0), c); err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if st, err := os.Stat(filepath.Join(dir, name)); err != nil || st.Size() == 0 {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if _, err := NewOpSave(filepath.Join(dir, "p.bmp")).Apply(testImage(0), c); err == nil {
		t.Error("expected error for unknown suffix")
	}
	bad := NewOpSave(filepath.Join(dir, "p.jpg"))
	bad.Channel = 1
	if _, err := bad.Apply(testImage(0), c); err == nil {
		t.Error("expected error for out of range channel")
	}
}

func TestLoadErrors(t *testing.T) {
	c := NewContext(io.Discard, NoDataDefault)
	if _, err := NewOpLoad(0, "").MakePromises(nil, c); err == nil {
		t.Error("expected error for empty file name")
	}
	if _, err := NewOpLoad(0, "a.fits").MakePromises([]Promise{promiseOf(testImage(0))}, c); err == nil {
		t.Error("expected error for load with inputs")
	}
	c.RestrictPaths = true
	for _, name := range []string{"/etc/passwd", "../x.fits"} {
		if _, err := NewOpLoad(0, name).MakePromises(nil, c); err == nil {
			t.Errorf("expected error for restricted path %s", name)
		}
	}
}

func TestSaveRestrictedPaths(t *testing.T) {
	c := NewContext(io.Discard, NoDataDefault)
	c.RestrictPaths = true
	for _, name := range []string{"/tmp/x.fits", "../x.fits"} {
		if _, err := NewOpSave(name).Apply(testImage(0), c); err == nil {
			t.Errorf("expected error saving to restricted path %s", name)
		}
	}

	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	if _, err := NewOpSave("out_%d.fits").Apply(testImage(4), c); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out_4.fits")); err != nil {
		t.Error(err)
	}
}

func TestAux(t *testing.T) {
	c := NewContext(io.Discard, NoDataDefault)
	if f, err := c.Aux(""); f != nil || err != nil {
		t.Errorf("empty name gave %v, %v", f, err)
	}

	mem := testImage(0)
	c.SetAux("mem", mem)
	if f, err := c.Aux("mem"); f != mem || err != nil {
		t.Errorf("in-memory aux gave %v, %v", f, err)
	}

	fileName := filepath.Join(t.TempDir(), "aux.fits")
	if err := testImage(0).WriteFile(fileName); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	results := make([]*fits.Image, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := c.Aux(fileName)
			if err != nil {
				t.Error(err)
			}
			results[i] = f
		}(i)
	}
	wg.Wait()
	for i, f := range results {
		if f == nil || f != results[0] || f.ID >= 0 {
			t.Errorf("aux %d: %v not shared or not negative ID", i, f)
		}
	}

	if _, err := c.Aux(filepath.Join(t.TempDir(), "missing.fits")); err == nil {
		t.Error("expected error for missing file")
	}
	c.ClearAux()
	if f, _ := c.Aux(fileName); f == results[0] {
		t.Error("cache not cleared")
	}
}

func TestSequenceJSON(t *testing.T) {
	seq := NewOpSequence(NewOpLoad(1, "in.fits"), NewOpSave("out.jpg"))
	data, err := json.Marshal(seq)
	if err != nil {
		t.Fatal(err)
	}
	decoded := NewOpSequenceDefault()
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Steps) != 2 {
		t.Fatalf("steps=%d; want 2", len(decoded.Steps))
	}
	load, ok := decoded.Steps[0].(*OpLoad)
	if !ok || load.FileName != "in.fits" || load.ID != 1 {
		t.Errorf("load step %+v", decoded.Steps[0])
	}
	save, ok := decoded.Steps[1].(*OpSave)
	if !ok || save.FilePattern != "out.jpg" || save.Quality != 95 || save.OpUnaryBase.Apply == nil {
		t.Errorf("save step %+v", decoded.Steps[1])
	}

	if _, err := UnmarshalOperator([]byte(`{"type":"nope"}`)); err == nil {
		t.Error("expected error for unknown operator type")
	}
}

func TestInactiveStepsPassThrough(t *testing.T) {
	c := NewContext(io.Discard, NoDataDefault)
	save := NewOpSave("never.bmp")
	save.Active = false
	seq := NewOpSequence(save)
	in := testImage(3)
	promises, err := seq.MakePromises([]Promise{promiseOf(in)}, c)
	if err != nil {
		t.Fatal(err)
	}
	outs, err := MaterializeAll(promises, 1, false)
	if err != nil || outs[0] != in {
		t.Errorf("inactive step changed output: %v, %v", outs, err)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.fits")
	if err := testImage(0).WriteFile(in); err != nil {
		t.Fatal(err)
	}
	c := NewContext(io.Discard, NoDataDefault)
	out := filepath.Join(dir, "out%d.fits")
	if err := c.Run(NewOpSequence(NewOpSave(out)), []string{in, in}); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"out0.fits", "out1.fits"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Error(err)
		}
	}
	if err := c.Run(NewOpSequence(), nil); err == nil {
		t.Error("expected error for pipeline without outputs")
	}
}
