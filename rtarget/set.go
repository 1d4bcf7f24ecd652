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

package rtarget

import (
	"github.com/google/btree"
)

// degree is the degree of the B-trees used to store sets of route targets.
const degree = 8

// Set is an ordered set of route targets. The zero value is not usable, use
// NewSet.
type Set struct {
	t *btree.BTreeG[RouteTarget]
}

// NewSet returns a set containing the route targets rts.
func NewSet(rts ...RouteTarget) *Set {
	s := &Set{t: btree.NewG[RouteTarget](degree, Less)}
	for _, rt := range rts {
		s.Insert(rt)
	}
	return s
}

// Insert adds rt to the set. It returns true if rt was not already present.
func (s *Set) Insert(rt RouteTarget) bool {
	_, found := s.t.ReplaceOrInsert(rt)
	return !found
}

// Delete removes rt from the set. It returns true if rt was present.
func (s *Set) Delete(rt RouteTarget) bool {
	_, found := s.t.Delete(rt)
	return found
}

// Has reports whether rt is in the set.
func (s *Set) Has(rt RouteTarget) bool {
	return s.t.Has(rt)
}

// Len returns the number of route targets in the set.
func (s *Set) Len() int {
	return s.t.Len()
}

// Clear removes all route targets from the set.
func (s *Set) Clear() {
	s.t.Clear(false)
}

// Ascend calls fn for each route target in ascending order until fn returns
// false.
func (s *Set) Ascend(fn func(RouteTarget) bool) {
	s.t.Ascend(btree.ItemIteratorG[RouteTarget](fn))
}

// Items returns the contents of the set in ascending order.
func (s *Set) Items() []RouteTarget {
	items := make([]RouteTarget, 0, s.t.Len())
	s.t.Ascend(func(rt RouteTarget) bool {
		items = append(items, rt)
		return true
	})
	return items
}

// Strings returns the configuration form of each route target in the set,
// in ascending order.
func (s *Set) Strings() []string {
	strs := make([]string, 0, s.t.Len())
	s.t.Ascend(func(rt RouteTarget) bool {
		strs = append(strs, rt.String())
		return true
	})
	return strs
}
