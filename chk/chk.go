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

// Package chk implements checks against the state of a routing instance
// manager, it can be used to determine whether the manager's indexes are
// consistent with the configuration of its instances.
//
// Package chk relies on the testing package, and therefore is a test only package -
// that should be used as a helper to tests that are executed by 'go test'.
package chk

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/lifetime"
	"github.com/openconfig/vrfmgr/routinginstance"
	"github.com/openconfig/vrfmgr/rtarget"
)

// HasInstance checks that m contains a live instance named name, and returns
// it.
func HasInstance(t testing.TB, m *routinginstance.Manager, name string) *routinginstance.RoutingInstance {
	t.Helper()
	ri := m.GetRoutingInstance(name)
	switch {
	case ri == nil:
		t.Fatalf("manager does not contain instance %s, got: %v", name, m.Names(""))
	case ri.Deleted():
		t.Fatalf("instance %s is being deleted, state: %s", name, ri.Deleter().State())
	}
	return ri
}

// NoInstance checks that m does not contain an instance named name.
func NoInstance(t testing.TB, m *routinginstance.Manager, name string) {
	t.Helper()
	if ri := m.GetRoutingInstance(name); ri != nil {
		t.Fatalf("manager contains unexpected instance %s, state: %s", name, ri.Deleter().State())
	}
}

// InState checks that the instance named name is in the deletion state want.
func InState(t testing.TB, m *routinginstance.Manager, name string, want lifetime.State) {
	t.Helper()
	ri := m.GetRoutingInstance(name)
	if ri == nil {
		t.Fatalf("manager does not contain instance %s, got: %v", name, m.Names(""))
	}
	if got := ri.Deleter().State(); got != want {
		t.Fatalf("instance %s is not in expected state, got: %s, want: %s", name, got, want)
	}
}

// TargetMapConsistent checks that the route target map of m contains exactly
// one entry for each import and export target of each live instance.
func TargetMapConsistent(t testing.TB, m *routinginstance.Manager) {
	t.Helper()
	var want []routinginstance.TargetEntry
	for _, ri := range m.Instances() {
		if ri.Deleted() || ri.IsDefault() {
			continue
		}
		rts := rtarget.NewSet(ri.ImportList()...)
		for _, rt := range ri.ExportList() {
			rts.Insert(rt)
		}
		for _, rt := range rts.Items() {
			want = append(want, routinginstance.TargetEntry{RT: rt, Instance: ri.Name()})
		}
	}

	opts := []cmp.Option{
		cmpopts.EquateEmpty(),
		cmpopts.SortSlices(func(a, b routinginstance.TargetEntry) bool {
			if a.RT != b.RT {
				return a.RT < b.RT
			}
			return a.Instance < b.Instance
		}),
	}
	if diff := cmp.Diff(m.TargetEntries(), want, opts...); diff != "" {
		t.Fatalf("route target map is not consistent with instances, diff(-got,+want):\n%s", diff)
	}
}

// VnIndexMapConsistent checks that the VN index map of m contains exactly one
// entry for each live instance with a non-zero VN index.
func VnIndexMapConsistent(t testing.TB, m *routinginstance.Manager) {
	t.Helper()
	want := map[int][]string{}
	for _, ri := range m.Instances() {
		if ri.Deleted() || ri.VirtualNetworkIndex() == 0 {
			continue
		}
		want[ri.VirtualNetworkIndex()] = append(want[ri.VirtualNetworkIndex()], ri.Name())
	}
	opts := []cmp.Option{
		cmpopts.EquateEmpty(),
		cmpopts.SortSlices(func(a, b string) bool { return a < b }),
	}
	if diff := cmp.Diff(m.VnIndexEntries(), want, opts...); diff != "" {
		t.Fatalf("VN index map is not consistent with instances, diff(-got,+want):\n%s", diff)
	}
}

// HasVnIndex checks that the route target rt resolves to the VN index want.
func HasVnIndex(t testing.TB, m *routinginstance.Manager, rt rtarget.RouteTarget, want int) {
	t.Helper()
	if got := m.GetVnIndexByRouteTarget(rt); got != want {
		t.Fatalf("route target %s did not resolve to expected VN index, got: %d, want: %d", rt, got, want)
	}
}

// HasTables checks that ri has a table for each of the families fs. Each
// missing table is reported as a separate error.
func HasTables(t testing.TB, ri *routinginstance.RoutingInstance, fs ...constants.Family) {
	t.Helper()
	var names []string
	for _, tbl := range ri.Tables() {
		names = append(names, tbl.Name())
	}
	for _, f := range fs {
		if ri.GetTable(f) == nil {
			t.Errorf("instance %s has no %s table, got: %v", ri.Name(), f, names)
		}
	}
}
