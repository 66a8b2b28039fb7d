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

package stereo

import (
	"sync"
)

// Pool of constant sized arrays of given type, to reduce memory allocation overhead
type sizedPool[T any] struct {
	sync.RWMutex
	m map[int]*sync.Pool
}

func newSizedPool[T any]() *sizedPool[T] {
	return &sizedPool[T]{m: make(map[int]*sync.Pool)}
}

var poolFloat32 = newSizedPool[float32]()

// Returns the pool for arrays of the given size
func (p *sizedPool[T]) sized(size int) *sync.Pool {
	p.RLock()
	pool := p.m[size]
	p.RUnlock()
	if pool != nil {
		return pool
	}

	p.Lock()
	defer p.Unlock()
	if pool = p.m[size]; pool == nil {
		pool = &sync.Pool{
			New: func() interface{} {
				arr := make([]T, size)
				return &arr
			},
		}
		p.m[size] = pool
	}
	return pool
}

// Retrieves an array of given size from the pool. Contents are undefined
func (p *sizedPool[T]) Get(size int) []T {
	return *(p.sized(size).Get().(*[]T))
}

// Returns an array to the pool
func (p *sizedPool[T]) Put(arr []T) {
	arr = arr[:cap(arr)]
	p.sized(len(arr)).Put(&arr)
}

// Drops all pooled arrays
func (p *sizedPool[T]) Clear() {
	p.Lock()
	p.m = make(map[int]*sync.Pool)
	p.Unlock()
}

// Releases all pooled scratch memory
func ClearPools() {
	poolFloat32.Clear()
}
