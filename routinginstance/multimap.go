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
	"cmp"
	"math"

	"github.com/google/btree"
)

// entry is a single (key, instance index) pair in a multimap.
type entry[K cmp.Ordered] struct {
	key   K
	index int
}

func entryLess[K cmp.Ordered](a, b entry[K]) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.index < b.index
}

// multimap maps a key to the indexes of the routing instances that carry it.
// The entries for a key form a bucket ordered by instance index.
type multimap[K cmp.Ordered] struct {
	t *btree.BTreeG[entry[K]]
}

func newMultimap[K cmp.Ordered]() *multimap[K] {
	return &multimap[K]{t: btree.NewG[entry[K]](16, entryLess[K])}
}

// insert adds the pair (k, index). It returns false if the pair was already
// present.
func (m *multimap[K]) insert(k K, index int) bool {
	_, found := m.t.ReplaceOrInsert(entry[K]{key: k, index: index})
	return !found
}

// remove scans the bucket for k and erases the entry whose value is index.
// It returns false if no such entry exists.
func (m *multimap[K]) remove(k K, index int) bool {
	var found bool
	m.bucket(k, func(i int) bool {
		if i == index {
			found = true
			return false
		}
		return true
	})
	if found {
		m.t.Delete(entry[K]{key: k, index: index})
	}
	return found
}

// bucket calls fn with the index of each instance that carries k, in
// ascending index order, until fn returns false.
func (m *multimap[K]) bucket(k K, fn func(index int) bool) {
	m.t.AscendGreaterOrEqual(entry[K]{key: k, index: math.MinInt}, func(e entry[K]) bool {
		if e.key != k {
			return false
		}
		return fn(e.index)
	})
}

// first returns the lowest instance index in the bucket for k.
func (m *multimap[K]) first(k K) (int, bool) {
	idx, ok := -1, false
	m.bucket(k, func(i int) bool {
		idx, ok = i, true
		return false
	})
	return idx, ok
}

// ascend calls fn for each pair in the map in order.
func (m *multimap[K]) ascend(fn func(k K, index int) bool) {
	m.t.Ascend(func(e entry[K]) bool {
		return fn(e.key, e.index)
	})
}

func (m *multimap[K]) len() int {
	return m.t.Len()
}
