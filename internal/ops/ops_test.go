// Copyright (C) 2024 The Patchlight Authors
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
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"github.com/snrlab/patchlight/internal/pairs"
	"github.com/snrlab/patchlight/internal/patch"
)

func writeGrayPNG(t *testing.T, fileName string, width, height int, pixel func(x, y int) uint16) {
	t.Helper()
	im:=image.NewGray16(image.Rect(0, 0, width, height))
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			im.SetGray16(x, y, color.Gray16{Y: pixel(x, y)})
		}
	}
	f, err:=os.Create(fileName)
	if err!=nil { t.Fatalf("create %s: %s", fileName, err.Error()) }
	defer f.Close()
	if err:=png.Encode(f, im); err!=nil { t.Fatalf("encode %s: %s", fileName, err.Error()) }
}

// Builds a base directory with one noisy source dir and a target dir holding
// count pair images of the given size
func makePairTree(t *testing.T, width, height, count int) string {
	t.Helper()
	base:=t.TempDir()
	for _, dir:=range []string{"low", "GT"} {
		if err:=os.Mkdir(filepath.Join(base, dir), 0755); err!=nil { t.Fatal(err) }
	}
	for i:=0; i<count; i++ {
		name:=filepath.Join(base, "low", fileNameFor(i))
		writeGrayPNG(t, name, width, height, func(x, y int) uint16 {
			return uint16((x*91 + y*53 + i*1000) % 60000)
		})
		name=filepath.Join(base, "GT", fileNameFor(i))
		writeGrayPNG(t, name, width, height, func(x, y int) uint16 {
			return uint16((x*91 + y*53 + i*1000) % 60000 / 2)
		})
	}
	return base
}

func fileNameFor(i int) string { return string(rune('a'+i))+".png" }

func TestOpSequenceJSONRoundTrip(t *testing.T) {
	seq:=NewOpSequence(
		NewOpScanPairs("/data", []string{"low"}, "GT", "YX"),
		NewOpLoadPair(),
		NewOpNormalize(patch.NewNormalizer(2, 98, true)),
	)
	data, err:=json.Marshal(seq)
	if err!=nil { t.Fatalf("marshal: %s", err.Error()) }

	restored:=NewOpSequenceDefault()
	if err:=json.Unmarshal(data, restored); err!=nil { t.Fatalf("unmarshal: %s", err.Error()) }
	if len(restored.Steps)!=3 { t.Fatalf("restored %d steps; want 3", len(restored.Steps)) }
	for i, want:=range []string{"scanPairs", "loadPair", "normalize"} {
		if got:=restored.Steps[i].GetType(); got!=want {
			t.Errorf("step %d type %s; want %s", i, got, want)
		}
	}
	norm, ok:=restored.Steps[2].(*OpNormalize)
	if !ok { t.Fatalf("step 2 is %T; want *OpNormalize", restored.Steps[2]) }
	if norm.Normalizer.PercentileLow!=2 || norm.Normalizer.PercentileHigh!=98 || !norm.Normalizer.Clip {
		t.Errorf("restored normalizer %+v; want {2 98 true}", norm.Normalizer)
	}
	if norm.OpUnaryBase.Apply==nil { t.Errorf("restored normalizer has nil Apply") }
}

func TestOpExtractJSONDefaults(t *testing.T) {
	op:=NewOpExtractDefault()
	op.Sample.Sampler.Seed=42
	data, err:=json.Marshal(op)
	if err!=nil { t.Fatalf("marshal: %s", err.Error()) }

	restored:=&OpExtract{}
	if err:=json.Unmarshal(data, restored); err!=nil { t.Fatalf("unmarshal: %s", err.Error()) }
	if restored.Sample.Sampler.Seed!=42 { t.Errorf("seed %d; want 42", restored.Sample.Sampler.Seed) }
	if restored.Sample.Sampler.MaxAttempts!=100 { t.Errorf("maxAttempts %d; want default 100", restored.Sample.Sampler.MaxAttempts) }
	if restored.Normalize.Normalizer.PercentileHigh!=99.8 { t.Errorf("percentileHigh %g; want default 99.8", restored.Normalize.Normalizer.PercentileHigh) }
	if restored.Load==nil || restored.Load.OpUnaryBase.Apply==nil { t.Errorf("restored load step unusable") }
}

func newTestExtract(base, output string) *OpExtract {
	sampler:=patch.NewSampler([]int32{128, 128}, 2, 0, 100, 7)
	return NewOpExtract(
		NewOpScanPairs(base, []string{"low"}, "GT", "YX"),
		NewOpSavePreviewsDefault(),
		NewOpSamplePatches(sampler),
		NewOpWriteSet(output),
	)
}

func TestExtractEndToEnd(t *testing.T) {
	base:=makePairTree(t, 256, 256, 2)
	output:=filepath.Join(base, "train.npz")
	op:=newTestExtract(base, output)
	op.Previews=NewOpSavePreviews(base)

	log:=bytes.Buffer{}
	c:=NewContext(&log)
	if _, err:=op.MakePromises(nil, c); err!=nil { t.Fatalf("extract: %s", err.Error()) }

	set, err:=patch.ReadSetFile(output)
	if err!=nil { t.Fatalf("read set: %s", err.Error()) }
	wantShape:=[]int32{4, 1, 128, 128}
	for i, w:=range wantShape {
		if set.Shape[i]!=w { t.Fatalf("shape %v; want %v", set.Shape, wantShape) }
	}
	if set.Axes!="SCYX" { t.Errorf("axes %s; want SCYX", set.Axes) }
	if len(set.Inputs)!=4*128*128 || len(set.Targets)!=len(set.Inputs) {
		t.Fatalf("payload %d/%d values; want %d", len(set.Inputs), len(set.Targets), 4*128*128)
	}
	for i, v:=range set.Inputs {
		if math.IsNaN(float64(v)) { t.Fatalf("NaN at input %d", i) }
	}
	for _, name:=range []string{"a_input.tif", "a_target.tif", "b_input.tif", "b_target.tif"} {
		if _, err:=os.Stat(filepath.Join(base, name)); err!=nil {
			t.Errorf("missing preview %s", name)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	base:=makePairTree(t, 192, 192, 1)
	out1:=filepath.Join(base, "one.npz")
	out2:=filepath.Join(base, "two.npz")

	for _, output:=range []string{out1, out2} {
		c:=NewContext(&bytes.Buffer{})
		if _, err:=newTestExtract(base, output).MakePromises(nil, c); err!=nil {
			t.Fatalf("extract to %s: %s", output, err.Error())
		}
	}
	set1, err:=patch.ReadSetFile(out1)
	if err!=nil { t.Fatal(err) }
	set2, err:=patch.ReadSetFile(out2)
	if err!=nil { t.Fatal(err) }
	for i:=range set1.Inputs {
		if math.Float32bits(set1.Inputs[i])!=math.Float32bits(set2.Inputs[i]) {
			t.Fatalf("input %d differs between runs: %g vs %g", i, set1.Inputs[i], set2.Inputs[i])
		}
	}
	for i:=range set1.Targets {
		if math.Float32bits(set1.Targets[i])!=math.Float32bits(set2.Targets[i]) {
			t.Fatalf("target %d differs between runs: %g vs %g", i, set1.Targets[i], set2.Targets[i])
		}
	}
}

func TestExtractNoOutputOnError(t *testing.T) {
	base:=makePairTree(t, 64, 64, 1)
	// replace the target with a differently sized image to force a shape mismatch
	writeGrayPNG(t, filepath.Join(base, "GT", fileNameFor(0)), 32, 32, func(x, y int) uint16 {
		return uint16(x*256)
	})

	output:=filepath.Join(base, "train.npz")
	c:=NewContext(&bytes.Buffer{})
	_, err:=newTestExtract(base, output).MakePromises(nil, c)
	if err==nil { t.Fatal("extract succeeded on mismatched pair") }
	var sme *pairs.ShapeMismatchError
	if !errors.As(err, &sme) { t.Errorf("error %v; want *ShapeMismatchError", err) }
	if _, statErr:=os.Stat(output); !os.IsNotExist(statErr) {
		t.Errorf("output file %s exists after failed extraction", output)
	}
}

func TestExtractMissingPair(t *testing.T) {
	base:=makePairTree(t, 64, 64, 1)
	if err:=os.Remove(filepath.Join(base, "GT", fileNameFor(0))); err!=nil { t.Fatal(err) }

	c:=NewContext(&bytes.Buffer{})
	_, err:=newTestExtract(base, filepath.Join(base, "train.npz")).MakePromises(nil, c)
	if err==nil { t.Fatal("extract succeeded with missing target") }
	var mpe *pairs.MissingPairError
	if !errors.As(err, &mpe) { t.Errorf("error %v; want *MissingPairError", err) }
}
