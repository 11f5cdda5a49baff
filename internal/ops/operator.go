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
	"fmt"
	"io"
	"runtime"
	"github.com/pbnjay/memory"
	"github.com/snrlab/patchlight/internal/pairs"
	"github.com/snrlab/patchlight/internal/patch"
)

// An execution context for operators
type Context struct {
	Log              io.Writer
	MemoryMB         int          // memory.TotalMemory()/1024/1024
	MaxThreads       int          `json:"maxThreads"`
	PatchSet        *patch.Set
}

func NewContext(log io.Writer) *Context {
	memoryMB:=int(memory.TotalMemory()/1024/1024)
	return &Context{
		Log             : log,
		MemoryMB        : memoryMB,
		MaxThreads      : runtime.GOMAXPROCS(0),
	}
}

// A promise for an image pair. Returns a materialized pair, or an error
type Promise func() (p *pairs.Pair, err error)

// Materializes all promises with given concurrency limit
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*pairs.Pair, err error) {
	if len(ins)==0 { return nil, nil }
	if(!forget) {
		outs    =make([]*pairs.Pair, len(ins))
	}
	limiter:=make(chan bool, maxThreads)
	errs   :=make(chan error, len(ins))
	for i, in := range(ins) {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			p, err:=theIn() // materialize the promise
			if err!=nil {
				if(!forget) {
					outs[i]=nil
				}
				errs <- err
				return
			}
			if(!forget) {
				outs[i]=p
			}
			errs <- nil
		}(i, in)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
	for i:=0; i<len(ins); i++ {  // collect errors
		e := <- errs
		if e!=nil {
			if err==nil {
				err = e
			} else {
				err = errors.New(fmt.Sprintf("%s; %s", err.Error(), e.Error()))
			}
		}
	}
	return RemoveNils(outs), err
}

// Remove nils from an array of pairs, editing the underlying array in place
func RemoveNils(ps []*pairs.Pair) ([]*pairs.Pair) {
	o:=0
	for i:=0; i<len(ps); i+=1 {
		if ps[i]!=nil {
			ps[o]=ps[i]
			o+=1
		}
	}
	for i:=o; i<len(ps); i++ {
		ps[i]=nil
	}
	return ps[:o]
}


// A general pair processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type        string `json:"type"`
	Active      bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool { return op.Active }

// Factory method for subclasses of operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories=map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op:=f()
	t:=op.GetType()
	if GetOperatorFactory(t)!=nil { panic(fmt.Sprintf("error: re-registering operator key %s\n", t))}
	operatorFactories[t]=f
}


// A unary pair processing operator: given n promises as inputs,
// applies itself to each of them individually and returns n output promises or an error
type OperatorUnary interface {
	Operator
	Apply(p *pairs.Pair, c *Context) (pOut *pairs.Pair, err error)
}

// Abstract base type for unary operators. Uses golang workaround for abstract classes
// from https://golangbyexample.com/go-abstract-class/
type OpUnaryBase struct {
	OpBase
	Apply func(p *pairs.Pair, c *Context) (pOut *pairs.Pair, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return nil, errors.New(fmt.Sprintf("unary operator with %d inputs", len(ins))) }
	outs=make([]Promise, len(ins))
	for i,in:=range(ins) {
		outs[i]=op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (p *pairs.Pair, err error) {
		if p, err=in();          err!=nil { return nil, err } // materialize input promise
		if p, err=op.Apply(p,c); err!=nil { return nil, err } // apply unary operator
		return p, nil                                         // wrap output in promise
	}
}

// Scans source and target directories for image pairs. Takes zero inputs,
// produces one promise per discovered pair
type OpScanPairs struct {
	OpBase
	BaseDir     string   `json:"baseDir"`
	SourceDirs  []string `json:"sourceDirs"`
	TargetDir   string   `json:"targetDir"`
	Axes        string   `json:"axes"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpScanPairsDefault()}) } // register the operator for JSON decoding

func NewOpScanPairsDefault() *OpScanPairs { return NewOpScanPairs("", nil, "", "YX") }

func NewOpScanPairs(baseDir string, sourceDirs []string, targetDir, axes string) *OpScanPairs {
	return &OpScanPairs{
		OpBase     : OpBase{Type: "scanPairs", Active: true},
		BaseDir    : baseDir,
		SourceDirs : sourceDirs,
		TargetDir  : targetDir,
		Axes       : axes,
	}
}

// Turn directory listings into one promise per pair. The scan itself is eager
// so that missing counterparts surface before any pixel data is read
func (op *OpScanPairs) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type)) }
	ps, err:=pairs.Scan(op.BaseDir, op.SourceDirs, op.TargetDir, op.Axes)
	if err!=nil { return nil, err }
	if len(ps)==0 { return nil, errors.New(fmt.Sprintf("%s operator found no image pairs under %s", op.Type, op.BaseDir)) }
	outs=make([]Promise, len(ps))
	for i,p:=range(ps) {
		thePair:=p
		outs[i]=func() (*pairs.Pair, error) { return thePair, nil }
	}
	fmt.Fprintf(c.Log, "Found %d image pairs.\n", len(outs))
	return outs, nil
}

// Loads the pixel data of a pair and validates that input and target shapes agree.
// Takes n inputs, produces n outputs
type OpLoadPair struct {
	OpUnaryBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadPairDefault()}) } // register the operator for JSON decoding

func NewOpLoadPairDefault() *OpLoadPair { return NewOpLoadPair() }

func NewOpLoadPair() *OpLoadPair {
	op:=OpLoadPair{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "loadPair", Active: true}},
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpLoadPair) UnmarshalJSON(data []byte) error {
	type defaults OpLoadPair
	def:=defaults(*NewOpLoadPairDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpLoadPair(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpLoadPair) Apply(p *pairs.Pair, c *Context) (result *pairs.Pair, err error) {
	if !op.Active { return p, nil }
	if err=p.Load(); err!=nil { return nil, err }

	warning:=""
	if p.Input.Stats.Max-p.Input.Stats.Min<1e-8 {
		warning="; WARNING low dynamic range"
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s pair %s with input %v%s\n",
	            p.ID, p.Input.DimensionsToString(), p.Name, p.Input.Stats, warning)
	return p, nil
}

// Rescales input and target intensities of a pair into [0,1] based on
// percentiles of the input frame. Takes n inputs, produces n outputs
type OpNormalize struct {
	OpUnaryBase
	Normalizer  patch.Normalizer `json:"normalizer"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpNormalizeDefault()}) } // register the operator for JSON decoding

func NewOpNormalizeDefault() *OpNormalize { return NewOpNormalize(patch.NewNormalizerDefaults()) }

func NewOpNormalize(norm *patch.Normalizer) *OpNormalize {
	op:=OpNormalize{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "normalize", Active: true}},
		Normalizer  : *norm,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the parameters and reassign the Apply method of the embedded abstract base
func (op *OpNormalize) UnmarshalJSON(data []byte) error {
	type defaults OpNormalize
	def:=defaults(*NewOpNormalizeDefault())
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpNormalize(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to copy, not original
	return nil
}

func (op *OpNormalize) Apply(p *pairs.Pair, c *Context) (result *pairs.Pair, err error) {
	if !op.Active { return p, nil }
	if err=op.Normalizer.Validate(); err!=nil { return nil, err }
	low, high, err:=op.Normalizer.ApplyToPair(p)
	if err!=nil { return nil, err }
	fmt.Fprintf(c.Log, "%d: Normalized %s with p%.2f=%.6g p%.2f=%.6g\n",
	            p.ID, p.Name, op.Normalizer.PercentileLow, low, op.Normalizer.PercentileHigh, high)
	return p, nil
}


// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps       []Operator        `json:"-"`      // the actual steps
	StepsRaw    []json.RawMessage `json:"steps"`  // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault()}) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase : OpBase{Type: "seq", Active: len(steps)>0},
		Steps  : steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
    type alias OpSequence
    err := json.Unmarshal(b, (*alias)(op))
    if err != nil { return err }

    for _, raw := range op.StepsRaw {
        var step OpBase
        err = json.Unmarshal(raw, &step)
        if err != nil { return err }

        var i Operator
        if factory:=GetOperatorFactory(step.Type); factory!=nil {
        	i=factory()
        } else {
            return errors.New(fmt.Sprintf("Unknown operator type '%s' in raw JSON message '%s'", step.Type, string(raw)))
        }
        err = json.Unmarshal(raw, i)
        if err != nil { return err }
        op.Steps = append(op.Steps, i)
    }
    return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	for _,step:=range steps {
		op.Steps=append(op.Steps, step)
	}
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf:=bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner,err:=json.Marshal(op.Type)
	if err!=nil { return nil, err }
	buf.Write(inner)
	fmt.Fprintf(&buf,", \"active\":%v, \"steps\":", op.Active)
	inner,err=json.Marshal(op.Steps)
	if err!=nil { return nil, err }
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps)==0 { return ins, nil }
	ins, err=steps[0].MakePromises(ins, c)
	if err!=nil { return nil, err }
	return op.applyRecursive(steps[1:], ins, c)
}
