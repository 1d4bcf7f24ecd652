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

package chk

import (
	"strings"
	"testing"

	"github.com/openconfig/vrfmgr/bgptable"
	"github.com/openconfig/vrfmgr/config"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/fluent"
	"github.com/openconfig/vrfmgr/lifetime"
	"github.com/openconfig/vrfmgr/negtest"
	"github.com/openconfig/vrfmgr/routinginstance"
	"github.com/openconfig/vrfmgr/rtarget"
)

// newManager returns a manager containing the master instance and the
// instances red and blue, along with its lifetime manager.
func newManager(t *testing.T) (*routinginstance.Manager, *lifetime.Manager, *config.Store) {
	t.Helper()
	lm := lifetime.NewManager()
	store := config.NewStore()
	m := routinginstance.New(lm, bgptable.NewDB(lm), store)
	for _, c := range fluent.Configs(
		fluent.Master(),
		fluent.RoutingInstance("red").WithTargets("target:64512:1").WithVirtualNetwork("red-vn", 10),
		fluent.RoutingInstance("blue").WithTargets("target:64512:2").WithImportTargets("target:64512:1").WithVirtualNetwork("blue-vn", 20),
	) {
		if err := store.Put(c); err != nil {
			t.Fatalf("cannot store configuration, %v", err)
		}
		if ri := m.CreateRoutingInstance(c); ri == nil {
			t.Fatalf("cannot create instance %s", c.Name)
		}
	}
	return m, lm, store
}

func TestInstanceChecks(t *testing.T) {
	m, lm, store := newManager(t)

	tests := []struct {
		desc           string
		inFn           func(t testing.TB)
		expectFatalMsg string
	}{{
		desc: "instance is present",
		inFn: func(t testing.TB) { HasInstance(t, m, "red") },
	}, {
		desc:           "instance is not present",
		inFn:           func(t testing.TB) { HasInstance(t, m, "green") },
		expectFatalMsg: "manager does not contain instance green",
	}, {
		desc: "instance is absent",
		inFn: func(t testing.TB) { NoInstance(t, m, "green") },
	}, {
		desc:           "instance is unexpectedly present",
		inFn:           func(t testing.TB) { NoInstance(t, m, "red") },
		expectFatalMsg: "manager contains unexpected instance red",
	}, {
		desc: "instance is live",
		inFn: func(t testing.TB) { InState(t, m, "blue", lifetime.Live) },
	}, {
		desc:           "instance is not draining",
		inFn:           func(t testing.TB) { InState(t, m, "blue", lifetime.Draining) },
		expectFatalMsg: "instance blue is not in expected state",
	}, {
		desc: "target resolves",
		inFn: func(t testing.TB) { HasVnIndex(t, m, rtarget.MustFromString("target:64512:2"), 20) },
	}, {
		desc: "shared target is ambiguous",
		inFn: func(t testing.TB) {
			HasVnIndex(t, m, rtarget.MustFromString("target:64512:1"), routinginstance.AmbiguousVnIndex)
		},
	}, {
		desc:           "target resolves to another index",
		inFn:           func(t testing.TB) { HasVnIndex(t, m, rtarget.MustFromString("target:64512:2"), 10) },
		expectFatalMsg: "did not resolve to expected VN index, got: 20, want: 10",
	}, {
		desc: "maps are consistent",
		inFn: func(t testing.TB) {
			TargetMapConsistent(t, m)
			VnIndexMapConsistent(t, m)
		},
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if tt.expectFatalMsg != "" {
				got := negtest.ExpectFatal(t, tt.inFn)
				if !strings.Contains(got, tt.expectFatalMsg) {
					t.Fatalf("did not get expected fatal message, but test called Fatal, got: %s, want: %s", got, tt.expectFatalMsg)
				}
				return
			}
			tt.inFn(t)
		})
	}

	t.Run("tables", func(t *testing.T) {
		red := HasInstance(t, m, "red")
		HasTables(t, red, constants.INET, constants.INET6, constants.ERMVPN, constants.EVPN)
		negtest.ExpectErrorSubstring(t, func(t testing.TB) {
			HasTables(t, red, constants.INET, constants.RTARGET)
		}, "instance red has no rtarget table")
	})

	t.Run("deletion", func(t *testing.T) {
		lm.Pause()
		store.Remove("red")
		m.DeleteRoutingInstance("red")

		InState(t, m, "red", lifetime.Draining)
		got := negtest.ExpectFatal(t, func(t testing.TB) { HasInstance(t, m, "red") })
		if !strings.Contains(got, "instance red is being deleted") {
			t.Fatalf("did not get expected fatal message, got: %s", got)
		}
		TargetMapConsistent(t, m)
		VnIndexMapConsistent(t, m)
		HasVnIndex(t, m, rtarget.MustFromString("target:64512:1"), 20)

		lm.Resume()
		lm.Process()
		NoInstance(t, m, "red")
	})
}
