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

// Package setutil contains helpers for reconciling ordered sets.
package setutil

// Synchronize brings a set whose current members are current in line with
// the set future. Both slices must be sorted in ascending order by compare
// and contain no duplicates. The two slices are walked once in parallel:
//
//   - del is called for each element that is present only in current.
//   - add is called for each element that is present only in future.
//   - elements present in both are left untouched.
//
// Calls are made in ascending order of the elements. The callbacks are
// expected to mutate the container that current was read from, which is
// safe because the slices are not read again after the callback for an
// element has run.
func Synchronize[T any](current, future []T, compare func(a, b T) int, add, del func(T)) {
	i, j := 0, 0
	for i < len(current) && j < len(future) {
		switch c := compare(current[i], future[j]); {
		case c < 0:
			del(current[i])
			i++
		case c > 0:
			add(future[j])
			j++
		default:
			i++
			j++
		}
	}
	for ; i < len(current); i++ {
		del(current[i])
	}
	for ; j < len(future); j++ {
		add(future[j])
	}
}
