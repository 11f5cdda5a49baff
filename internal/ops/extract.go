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
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"github.com/snrlab/patchlight/internal/pairs"
	"github.com/snrlab/patchlight/internal/patch"
)

// Saves 16-bit mono TIFF previews of the input and target frames of each pair
// into a given directory. Takes n inputs, produces n outputs (the unchanged pairs)
type OpSavePreviews struct {
	OpUnaryBase
	Dir         string `json:"dir"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSavePreviewsDefault()}) } // register the operator for JSON decoding

func NewOpSavePreviewsDefault() *OpSavePreviews { return NewOpSavePreviews("") }

func NewOpSavePreviews(dir string) *OpSavePreviews {
	op:=OpSavePreviews{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "savePreviews", Active: dir!=""}},
		Dir         : dir,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSavePreviews) UnmarshalJSON(data []byte) error {
	type defaults OpSavePreviews
	def:=defaults(*NewOpSavePreviewsDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpSavePreviews(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpSavePreviews) Apply(p *pairs.Pair, c *Context) (result *pairs.Pair, err error) {
	if !op.Active || op.Dir=="" { return p, nil }
	if p.Input==nil || p.Target==nil { return nil, fmt.Errorf("%d: pair %s not loaded, cannot save previews", p.ID, p.Name) }

	stem:=strings.TrimSuffix(p.Name, filepath.Ext(p.Name))
	inName :=filepath.Join(op.Dir, fmt.Sprintf("%s_input.tif",  stem))
	tgtName:=filepath.Join(op.Dir, fmt.Sprintf("%s_target.tif", stem))
	fmt.Fprintf(c.Log, "%d: Writing %s pixel mono TIFF previews to %s and %s\n",
	            p.ID, p.Input.DimensionsToString(), inName, tgtName)

	if err=p.Input.WriteMonoTIFF16ToFile(inName, p.Input.Stats.Min, p.Input.Stats.Max); err!=nil {
		return nil, fmt.Errorf("%d: error writing preview %s: %s", p.ID, inName, err.Error())
	}
	if err=p.Target.WriteMonoTIFF16ToFile(tgtName, p.Target.Stats.Min, p.Target.Stats.Max); err!=nil {
		return nil, fmt.Errorf("%d: error writing preview %s: %s", p.ID, tgtName, err.Error())
	}
	return p, nil
}

// Draws random patch windows from each pair and assembles them into a patch set.
// Materializes all input promises with bounded concurrency; the set ends up in
// the context for downstream operators. Takes n inputs, produces zero outputs
type OpSamplePatches struct {
	OpBase
	Sampler     patch.Sampler `json:"sampler"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSamplePatchesDefault()}) } // register the operator for JSON decoding

func NewOpSamplePatchesDefault() *OpSamplePatches { return NewOpSamplePatches(patch.NewSamplerDefaults()) }

func NewOpSamplePatches(s *patch.Sampler) *OpSamplePatches {
	return &OpSamplePatches{
		OpBase  : OpBase{Type: "samplePatches", Active: true},
		Sampler : *s,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSamplePatches) UnmarshalJSON(data []byte) error {
	type defaults OpSamplePatches
	def:=defaults(*NewOpSamplePatchesDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpSamplePatches(def)
	return nil
}

func (op *OpSamplePatches) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return nil, errors.New(fmt.Sprintf("%s operator needs inputs", op.Type)) }
	if err=op.Sampler.Validate(); err!=nil { return nil, err }

	ps, err:=MaterializeAll(ins, c.MaxThreads, false) // materialize all input promises
	if err!=nil { return nil, err }
	set, err:=op.Apply(ps, c)
	if err!=nil { return nil, err }
	c.PatchSet=set
	return nil, nil
}

// Samples all pairs with bounded concurrency. Patch order follows pair order,
// and patch content is independent of scheduling as sampling is seeded per pair
func (op *OpSamplePatches) Apply(ps []*pairs.Pair, c *Context) (set *patch.Set, err error) {
	fmt.Fprintf(c.Log, "Sampling %d patches of %v per pair from %d pairs (threshold %.3f, budget %d)\n",
	            op.Sampler.PatchesPerImage, op.Sampler.Shape, len(ps), op.Sampler.Threshold, op.Sampler.MaxAttempts)

	perPair:=make([][]*patch.Patch, len(ps))
	limiter:=make(chan bool, c.MaxThreads)
	errs   :=make(chan error, len(ps))
	for i, p:=range(ps) {
		limiter <- true
		go func(i int, p *pairs.Pair) {
			defer func() { <-limiter }()
			pats, err:=op.Sampler.SamplePair(p)
			if err!=nil { errs <- err; return }
			perPair[i]=pats
			errs <- nil
		}(i, p)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
	for i:=0; i<len(ps); i++ {  // collect errors
		e:=<-errs
		if e!=nil {
			if err==nil {
				err=e
			} else {
				err=errors.New(fmt.Sprintf("%s; %s", err.Error(), e.Error()))
			}
		}
	}
	if err!=nil { return nil, err }

	all:=[]*patch.Patch{}
	for _, pats:=range perPair {
		all=append(all, pats...)
	}
	axes:="YX"
	if len(ps)>0 { axes=ps[0].Axes }
	set, err=patch.NewSet(all, axes)
	if err!=nil { return nil, err }
	setMB:=(len(set.Inputs)+len(set.Targets))*4/1024/1024
	fmt.Fprintf(c.Log, "Assembled %s patch set with axes %s (%d MB of %d MB RAM)\n",
	            set.DimensionsToString(), set.Axes, setMB, c.MemoryMB)
	return set, nil
}

// Writes the patch set from the context to an NPZ archive. An existing file
// under the same name is replaced. Takes zero inputs, produces zero outputs
type OpWriteSet struct {
	OpBase
	FileName    string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpWriteSetDefault()}) } // register the operator for JSON decoding

func NewOpWriteSetDefault() *OpWriteSet { return NewOpWriteSet("") }

func NewOpWriteSet(fileName string) *OpWriteSet {
	return &OpWriteSet{
		OpBase   : OpBase{Type: "writeSet", Active: fileName!=""},
		FileName : fileName,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpWriteSet) UnmarshalJSON(data []byte) error {
	type defaults OpWriteSet
	def:=defaults(*NewOpWriteSetDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpWriteSet(def)
	return nil
}

func (op *OpWriteSet) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type)) }
	if !op.Active || op.FileName=="" { return nil, nil }
	if c.PatchSet==nil { return nil, errors.New(fmt.Sprintf("%s operator without a sampled patch set", op.Type)) }

	fmt.Fprintf(c.Log, "Writing %s patch set to %s\n", c.PatchSet.DimensionsToString(), op.FileName)
	if err=c.PatchSet.WriteFile(op.FileName); err!=nil { return nil, err }
	return nil, nil
}

// End-to-end patch extraction: scans for pairs, loads and normalizes them,
// optionally saves previews, samples patches and writes the resulting set.
// Takes zero inputs, produces zero outputs
type OpExtract struct {
	OpBase
	Scan        *OpScanPairs     `json:"scan"`
	Load        *OpLoadPair      `json:"load"`
	Normalize   *OpNormalize     `json:"normalize"`
	Previews    *OpSavePreviews  `json:"previews"`
	Sample      *OpSamplePatches `json:"sample"`
	Write       *OpWriteSet      `json:"write"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpExtractDefault()}) } // register the operator for JSON decoding

func NewOpExtractDefault() *OpExtract {
	return NewOpExtract(NewOpScanPairsDefault(), NewOpSavePreviewsDefault(),
	                    NewOpSamplePatchesDefault(), NewOpWriteSetDefault())
}

func NewOpExtract(scan *OpScanPairs, previews *OpSavePreviews, sample *OpSamplePatches, write *OpWriteSet) *OpExtract {
	return &OpExtract{
		OpBase    : OpBase{Type: "extract", Active: true},
		Scan      : scan,
		Load      : NewOpLoadPair(),
		Normalize : NewOpNormalizeDefault(),
		Previews  : previews,
		Sample    : sample,
		Write     : write,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpExtract) UnmarshalJSON(data []byte) error {
	type defaults OpExtract
	def:=defaults(*NewOpExtractDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpExtract(def)
	return nil
}

// Chains the extraction steps. The set is only written once sampling has
// succeeded for every requested patch of every pair
func (op *OpExtract) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type)) }
	for _, step:=range []Operator{op.Scan, op.Load, op.Normalize, op.Previews, op.Sample, op.Write} {
		if step==nil { return nil, errors.New(fmt.Sprintf("%s operator with missing step", op.Type)) }
		ins, err=step.MakePromises(ins, c)
		if err!=nil { return nil, err }
	}
	return ins, nil
}
