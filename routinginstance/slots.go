// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package routinginstance

import (
	"github.com/bits-and-blooms/bitset"
)

// slots is a dense array of entries addressed by index. Indexes released in
// the middle of the array are tracked in a free bitmap and are reused lowest
// first; releasing the last entry trims all trailing empty slots.
type slots[T any] struct {
	items []*T
	free  *bitset.BitSet
}

func newSlots[T any]() *slots[T] {
	return &slots[T]{free: bitset.New(0)}
}

// insert stores v in the lowest free slot and returns its index.
func (s *slots[T]) insert(v *T) int {
	if i, ok := s.free.NextSet(0); ok {
		s.free.Clear(i)
		s.items[i] = v
		return int(i)
	}
	s.items = append(s.items, v)
	return len(s.items) - 1
}

// release empties the slot at index i. It returns false if the slot was
// already empty or out of range.
func (s *slots[T]) release(i int) bool {
	if i < 0 || i >= len(s.items) || s.items[i] == nil {
		return false
	}
	s.items[i] = nil
	if i != len(s.items)-1 {
		s.free.Set(uint(i))
		return true
	}
	for len(s.items) != 0 && s.items[len(s.items)-1] == nil {
		s.items = s.items[:len(s.items)-1]
	}
	if len(s.items) == 0 {
		s.free = bitset.New(0)
	} else {
		s.free.Shrink(uint(len(s.items) - 1))
	}
	return true
}

// get returns the entry at index i, or nil if the slot is empty.
func (s *slots[T]) get(i int) *T {
	if i < 0 || i >= len(s.items) {
		return nil
	}
	return s.items[i]
}

// size returns the length of the array, including empty slots.
func (s *slots[T]) size() int {
	return len(s.items)
}

// freeCount returns the number of empty slots below size.
func (s *slots[T]) freeCount() int {
	return int(s.free.Count())
}
