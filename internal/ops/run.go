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
)

// Creates load promises for the given files, with IDs in order starting from zero
func LoadFiles(fileNames []string, c *Context) ([]Promise, error) {
	ins := make([]Promise, 0, len(fileNames))
	for i, fileName := range fileNames {
		promises, err := NewOpLoad(i, fileName).MakePromises(nil, c)
		if err != nil {
			return nil, err
		}
		ins = append(ins, promises...)
	}
	return ins, nil
}

// Applies the operator to the given input files and materializes all outputs, discarding them.
// Outputs are expected to be saved by the operator itself
func (c *Context) Run(op Operator, fileNames []string) error {
	ins, err := LoadFiles(fileNames, c)
	if err != nil {
		return err
	}
	outs, err := op.MakePromises(ins, c)
	if err != nil {
		return err
	}
	if len(outs) == 0 {
		return errors.New("pipeline produced no outputs")
	}
	fmt.Fprintf(c.Log, "Running %s on %d inputs with %d outputs\n", op.GetType(), len(fileNames), len(outs))
	_, err = MaterializeAll(outs, c.MaxThreads, true)
	return err
}
