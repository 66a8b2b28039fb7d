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
	"fmt"
	"slices"
	"sync"

	"github.com/mlnoga/cloudtop/internal/fits"
)

// A promise for a FITS image. Returns a materialized image, or an error
type Promise func() (f *fits.Image, err error)

// Materializes all promises, running at most maxThreads at once. Errors of all promises are joined.
// With forget set the results are dropped as soon as they are produced, and nil is returned.
func MaterializeAll(ins []Promise, maxThreads int, forget bool) ([]*fits.Image, error) {
	if len(ins) == 0 {
		return nil, nil
	}
	var outs []*fits.Image
	if !forget {
		outs = make([]*fits.Image, len(ins))
	}
	errs := make([]error, len(ins))
	slots := make(chan struct{}, max(maxThreads, 1))
	var wg sync.WaitGroup
	for i, in := range ins {
		slots <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() { <-slots; wg.Done() }()
			f, err := in()
			if err != nil {
				errs[i] = err
			} else if !forget {
				outs[i] = f
			}
		}()
	}
	wg.Wait()
	outs = slices.DeleteFunc(outs, func(f *fits.Image) bool { return f == nil })
	return outs, errors.Join(errs...)
}

// A processing step: turns n input promises into m output promises, or fails while wiring
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Decodes a single polymorphic operator from JSON, using the registered factory for its type
func UnmarshalOperator(raw []byte) (Operator, error) {
	var base OpBase
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}
	factory := GetOperatorFactory(base.Type)
	if factory == nil {
		return nil, fmt.Errorf("unknown operator type '%s' in raw JSON message '%s'", base.Type, string(raw))
	}
	op := factory()
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Base for operators that map each input to exactly one output. Embedders set Apply to their own method
type OpUnaryBase struct {
	OpBase
	Apply func(f *fits.Image, c *Context) (fOut *fits.Image, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) ([]Promise, error) {
	if len(ins) == 0 {
		return nil, fmt.Errorf("%s operator without inputs", op.Type)
	}
	if !op.Active {
		return ins, nil
	}
	outs := make([]Promise, len(ins))
	for i, in := range ins {
		outs[i] = func() (*fits.Image, error) {
			f, err := in()
			if err != nil {
				return nil, err
			}
			return op.Apply(f, c)
		}
	}
	return outs, nil
}

// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: true},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	def := alias(*NewOpSequenceDefault())
	if err := json.Unmarshal(b, &def); err != nil {
		return err
	}
	*op = OpSequence(def)

	for _, raw := range op.StepsRaw {
		step, err := UnmarshalOperator(raw)
		if err != nil {
			return err
		}
		op.Steps = append(op.Steps, step)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
}

// Marshals the sequence with its polymorphic steps; StepsRaw is only used while decoding
func (op *OpSequence) MarshalJSON() ([]byte, error) {
	steps := op.Steps
	if steps == nil {
		steps = []Operator{}
	}
	return json.Marshal(struct {
		Type   string     `json:"type"`
		Active bool       `json:"active"`
		Steps  []Operator `json:"steps"`
	}{op.Type, op.Active, steps})
}

// Wires the active steps one after the other. Inactive steps pass their inputs through
func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if !op.Active {
		return ins, nil
	}
	outs = ins
	for _, step := range op.Steps {
		if !step.IsActive() {
			continue
		}
		if outs, err = step.MakePromises(outs, c); err != nil {
			return nil, err
		}
	}
	return outs, nil
}
