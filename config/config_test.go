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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/openconfig/vrfmgr/constants"
)

func TestParse(t *testing.T) {
	tests := []struct {
		desc    string
		in      string
		want    []*InstanceConfig
		wantErr bool
	}{{
		desc: "single instance",
		in: `
instances:
  - name: red
    import-targets: ["target:64512:1", "target:64512:2"]
    export-targets: ["target:64512:1"]
    virtual-network: default-domain:admin:red
    virtual-network-index: 5
    vxlan-id: 5005
    service-chains:
      - routing-instance: blue
        service-chain-address: 192.0.2.1
        prefixes: ["198.51.100.0/24"]
`,
		want: []*InstanceConfig{{
			Name:                "red",
			ImportList:          []string{"target:64512:1", "target:64512:2"},
			ExportList:          []string{"target:64512:1"},
			VirtualNetwork:      "default-domain:admin:red",
			VirtualNetworkIndex: 5,
			VxlanID:             5005,
			ServiceChainList: []ServiceChainConfig{{
				RoutingInstance:     "blue",
				ServiceChainAddress: "192.0.2.1",
				Prefixes:            []string{"198.51.100.0/24"},
			}},
		}},
	}, {
		desc:    "unknown field",
		in:      "instances:\n  - name: red\n    colour: red\n",
		wantErr: true,
	}, {
		desc:    "missing name",
		in:      "instances:\n  - virtual-network-index: 1\n",
		wantErr: true,
	}, {
		desc:    "master with route targets",
		in:      "instances:\n  - name: " + constants.MasterInstance + "\n    import-targets: [\"target:1:1\"]\n",
		wantErr: true,
	}, {
		desc:    "null instance entry",
		in:      "instances: [~]\n",
		wantErr: true,
	}, {
		desc:    "null entry after a valid instance",
		in:      "instances:\n  - name: red\n  -\n",
		wantErr: true,
	}, {
		desc: "empty file",
		in:   "",
	}, {
		desc: "no instances",
		in:   "instances: []\n",
		want: []*InstanceConfig{},
	}, {
		desc:    "negative vn index",
		in:      "instances:\n  - name: red\n    virtual-network-index: -1\n",
		wantErr: true,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := Parse([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(): got unexpected error, got: %v, wantErr? %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(got, tt.want, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("Parse(): did not get expected config, diff(-got,+want):\n%s", diff)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "vrf.yaml")
	if err := os.WriteFile(p, []byte("instances:\n  - name: red\n  - name: blue\n"), 0o600); err != nil {
		t.Fatalf("cannot write file, %v", err)
	}
	got, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile(%s): got unexpected error, %v", p, err)
	}
	if diff := cmp.Diff(got, []*InstanceConfig{{Name: "red"}, {Name: "blue"}}); diff != "" {
		t.Fatalf("did not get expected config, diff(-got,+want):\n%s", diff)
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("instances:\n  - name: red\n  -\n"), 0o600); err != nil {
		t.Fatalf("cannot write file, %v", err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Fatalf("LoadFile(%s): did not get error for null instance entry", bad)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("did not get error for missing file")
	}
}

func TestStoreDiff(t *testing.T) {
	s := NewStore()
	for _, c := range []*InstanceConfig{
		{Name: "red", ImportList: []string{"target:1:1"}},
		{Name: "blue"},
		{Name: "green"},
	} {
		if err := s.Put(c); err != nil {
			t.Fatalf("cannot put %s, %v", c.Name, err)
		}
	}

	got, err := s.Diff([]*InstanceConfig{
		{Name: "red", ImportList: []string{"target:1:2"}},
		{Name: "blue"},
		{Name: "yellow"},
	})
	if err != nil {
		t.Fatalf("Diff(): got unexpected error, %v", err)
	}
	want := &Changes{
		Create: []*InstanceConfig{{Name: "yellow"}},
		Update: []*InstanceConfig{{Name: "red", ImportList: []string{"target:1:2"}}},
		Delete: []string{"green"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("Diff(): did not get expected changes, diff(-got,+want):\n%s", diff)
	}

	if _, err := s.Diff([]*InstanceConfig{{Name: "red"}, {Name: "red"}}); err == nil {
		t.Fatalf("Diff(): did not get error for duplicate instances")
	}

	if _, err := s.Diff([]*InstanceConfig{{Name: "red"}, nil}); err == nil {
		t.Fatalf("Diff(): did not get error for nil configuration")
	}
	if s.Put(nil) == nil {
		t.Fatalf("Put(nil): did not get expected error")
	}

	s.Remove("green")
	if diff := cmp.Diff(s.Names(), []string{"blue", "red"}); diff != "" {
		t.Fatalf("did not get expected names, diff(-got,+want):\n%s", diff)
	}
	if s.FindInstance("green") != nil {
		t.Fatalf("found removed instance")
	}
	if s.Put(&InstanceConfig{}) == nil {
		t.Fatalf("could put an invalid configuration")
	}
}
