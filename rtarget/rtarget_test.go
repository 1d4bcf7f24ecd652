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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

func TestFromString(t *testing.T) {
	tests := []struct {
		desc       string
		in         string
		wantString string
		wantErr    bool
	}{{
		desc:       "two byte AS with prefix",
		in:         "target:64512:100",
		wantString: "target:64512:100",
	}, {
		desc:       "two byte AS without prefix",
		in:         "64512:100",
		wantString: "target:64512:100",
	}, {
		desc:       "IPv4 administrator",
		in:         "target:192.0.2.1:7",
		wantString: "target:192.0.2.1:7",
	}, {
		desc:       "four byte AS",
		in:         "target:4200000000:10",
		wantString: "target:64086.59904:10",
	}, {
		desc:       "four byte AS in dotted form",
		in:         "target:64086.59904:10",
		wantString: "target:64086.59904:10",
	}, {
		desc:    "four byte AS with oversized assigned number",
		in:      "target:4200000000:100000",
		wantErr: true,
	}, {
		desc:    "garbage",
		in:      "target:fish",
		wantErr: true,
	}, {
		desc:    "empty",
		in:      "",
		wantErr: true,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := FromString(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromString(%s): got unexpected error, got: %v, wantErr? %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if s := got.String(); s != tt.wantString {
				t.Fatalf("FromString(%s): did not get expected string, got: %s, want: %s", tt.in, s, tt.wantString)
			}
			again, err := FromString(got.String())
			if err != nil {
				t.Fatalf("cannot re-parse %s, %v", got, err)
			}
			if again != got {
				t.Fatalf("did not get same value after re-parse, got: %#x, want: %#x", again, got)
			}
		})
	}
}

func TestFromExtendedCommunity(t *testing.T) {
	tests := []struct {
		desc    string
		in      bgp.ExtendedCommunityInterface
		want    RouteTarget
		wantErr error
	}{{
		desc: "two octet route target",
		in:   bgp.NewTwoOctetAsSpecificExtended(bgp.EC_SUBTYPE_ROUTE_TARGET, 1, 2, true),
		want: MustFromString("target:1:2"),
	}, {
		desc:    "route origin is not a route target",
		in:      bgp.NewTwoOctetAsSpecificExtended(bgp.EC_SUBTYPE_ROUTE_ORIGIN, 1, 2, true),
		wantErr: ErrNotRouteTarget,
	}, {
		desc:    "encapsulation is not a route target",
		in:      bgp.NewEncapExtended(bgp.TUNNEL_TYPE_VXLAN),
		wantErr: ErrNotRouteTarget,
	}, {
		desc:    "nil",
		in:      nil,
		wantErr: ErrNilCommunity,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := FromExtendedCommunity(tt.in)
			if err != tt.wantErr {
				t.Fatalf("did not get expected error, got: %v, want: %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("did not get expected route target, got: %s, want: %s", got, tt.want)
			}
			if IsRouteTarget(tt.in) != (tt.wantErr == nil) {
				t.Fatalf("IsRouteTarget returned unexpected value for %v", tt.in)
			}
		})
	}
}

func TestOrder(t *testing.T) {
	a, b := MustFromString("target:1:1"), MustFromString("target:1:2")
	if Compare(a, b) != -1 || Compare(b, a) != 1 || Compare(a, a) != 0 {
		t.Fatalf("Compare does not implement a total order for %s, %s", a, b)
	}
	if !Less(a, b) || Less(b, a) {
		t.Fatalf("Less is inconsistent with Compare for %s, %s", a, b)
	}
}

func TestSet(t *testing.T) {
	rt1, rt2, rt3 := MustFromString("target:1:1"), MustFromString("target:1:2"), MustFromString("target:2:1")
	s := NewSet(rt3, rt1)

	if !s.Insert(rt2) {
		t.Fatalf("Insert(%s) on new element returned false", rt2)
	}
	if s.Insert(rt2) {
		t.Fatalf("Insert(%s) on existing element returned true", rt2)
	}

	if diff := cmp.Diff(s.Items(), []RouteTarget{rt1, rt2, rt3}); diff != "" {
		t.Fatalf("did not get expected ordered items, diff(-got,+want):\n%s", diff)
	}
	if diff := cmp.Diff(s.Strings(), []string{"target:1:1", "target:1:2", "target:2:1"}); diff != "" {
		t.Fatalf("did not get expected strings, diff(-got,+want):\n%s", diff)
	}

	if !s.Delete(rt1) || s.Delete(rt1) {
		t.Fatalf("Delete(%s) did not report presence correctly", rt1)
	}
	if s.Has(rt1) || !s.Has(rt3) || s.Len() != 2 {
		t.Fatalf("set has unexpected contents after delete, got: %v", s.Strings())
	}

	var seen []RouteTarget
	s.Ascend(func(rt RouteTarget) bool {
		seen = append(seen, rt)
		return false
	})
	if diff := cmp.Diff(seen, []RouteTarget{rt2}); diff != "" {
		t.Fatalf("Ascend did not stop when asked, diff(-got,+want):\n%s", diff)
	}

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Clear did not empty the set, got: %v", s.Strings())
	}
}
