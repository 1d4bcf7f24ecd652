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

package device

import (
	"context"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/vrfmgr/config"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/rtarget"
)

var (
	red = &config.InstanceConfig{
		Name:                "red",
		ImportList:          []string{"target:64512:1"},
		ExportList:          []string{"target:64512:1"},
		VirtualNetwork:      "red-vn",
		VirtualNetworkIndex: 10,
	}
	blue = &config.InstanceConfig{
		Name:                "blue",
		ImportList:          []string{"target:64512:2", "target:64512:1"},
		ExportList:          []string{"target:64512:2"},
		VirtualNetwork:      "blue-vn",
		VirtualNetworkIndex: 20,
	}
)

// newDevice starts a device with the startup configuration cfgs and stops it
// when the test completes.
func newDevice(t *testing.T, cfgs ...*config.InstanceConfig) *Device {
	t.Helper()
	d, stop, err := New(context.Background(),
		GNMIAddr("localhost", 0),
		MetricsAddr("localhost", 0),
		RouterID(netip.MustParseAddr("192.0.2.1")),
		Hostname("dut"),
		DeviceConfig(cfgs))
	if err != nil {
		t.Fatalf("cannot start device, %v", err)
	}
	t.Cleanup(stop)
	return d
}

// waitForInstances polls d until its instances are want, or fails the test
// after a timeout.
func waitForInstances(t *testing.T, d *Device, want []string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []string
	for {
		var err error
		if got, err = d.Instances(ctx); err != nil {
			t.Fatalf("cannot get instances, %v", err)
		}
		if cmp.Equal(got, want) {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("did not get expected instances, diff(-got,+want):\n%s", cmp.Diff(got, want))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDevice(t *testing.T) {
	d := newDevice(t, red, blue)
	ctx := context.Background()

	if d.GNMIAddr() == "" || d.MetricsAddr() == "" {
		t.Fatalf("device did not report listening addresses, gNMI: %q, metrics: %q", d.GNMIAddr(), d.MetricsAddr())
	}
	waitForInstances(t, d, []string{"blue", constants.MasterInstance, "red"})

	tests := []struct {
		desc string
		in   string
		want int
	}{{
		desc: "target shared by two networks",
		in:   "target:64512:1",
		want: -1,
	}, {
		desc: "target used by one network",
		in:   "target:64512:2",
		want: 20,
	}, {
		desc: "unknown target",
		in:   "target:64512:3",
		want: 0,
	}}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := d.VnIndexByRouteTarget(ctx, rtarget.MustFromString(tt.in))
			if err != nil {
				t.Fatalf("VnIndexByRouteTarget(%s): got unexpected error, %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("VnIndexByRouteTarget(%s): did not get expected index, got: %d, want: %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	d := newDevice(t, red)
	ctx := context.Background()

	if err := d.Apply(ctx, []*config.InstanceConfig{red, blue}); err != nil {
		t.Fatalf("cannot add instance, %v", err)
	}
	waitForInstances(t, d, []string{"blue", constants.MasterInstance, "red"})

	if err := d.Apply(ctx, []*config.InstanceConfig{blue}); err != nil {
		t.Fatalf("cannot remove instance, %v", err)
	}
	waitForInstances(t, d, []string{"blue", constants.MasterInstance})

	if err := d.Apply(ctx, []*config.InstanceConfig{blue, nil}); err == nil {
		t.Fatalf("did not get expected error for nil configuration")
	}
	if err := d.Apply(ctx, []*config.InstanceConfig{blue, blue}); err == nil {
		t.Fatalf("did not get expected error for duplicate configuration")
	}
	if err := d.Apply(ctx, []*config.InstanceConfig{{Name: constants.MasterInstance, ImportList: []string{"target:1:1"}}}); err == nil {
		t.Fatalf("did not get expected error for master instance with targets")
	}
	waitForInstances(t, d, []string{"blue", constants.MasterInstance})
}

func TestPauseDeletion(t *testing.T) {
	d := newDevice(t, red)
	ctx := context.Background()

	d.PauseDeletion()
	if err := d.Apply(ctx, nil); err != nil {
		t.Fatalf("cannot remove instance, %v", err)
	}
	// The instance remains visible until its deletion has run.
	waitForInstances(t, d, []string{constants.MasterInstance, "red"})

	// Reconfiguring the instance while it is draining recreates it once
	// deletion completes.
	if err := d.Apply(ctx, []*config.InstanceConfig{red}); err != nil {
		t.Fatalf("cannot re-add instance, %v", err)
	}
	d.ResumeDeletion()
	waitForInstances(t, d, []string{constants.MasterInstance, "red"})

	got, err := d.VnIndexByRouteTarget(ctx, rtarget.MustFromString("target:64512:1"))
	if err != nil {
		t.Fatalf("cannot look up route target, %v", err)
	}
	if got != 10 {
		t.Fatalf("recreated instance is not indexed by its route target, got: %d, want: 10", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	d := newDevice(t, red, blue)
	waitForInstances(t, d, []string{"blue", constants.MasterInstance, "red"})

	resp, err := http.Get("http://" + d.MetricsAddr() + "/metrics")
	if err != nil {
		t.Fatalf("cannot fetch metrics, %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("cannot read metrics, %v", err)
	}

	for _, want := range []string{
		"vrfmgr_routing_instances 3",
		`vrfmgr_instance_ops_total{op="ADD"} 3`,
		// the exporter and the metrics themselves.
		"vrfmgr_instance_callbacks 2",
		`vrfmgr_replication_ops_total{family="l3vpn",op="join"}`,
	} {
		if !strings.Contains(string(b), want) {
			t.Errorf("metrics did not contain %q, got:\n%s", want, b)
		}
	}
}

func TestTLSCredsFromFile(t *testing.T) {
	if _, err := TLSCredsFromFile("/nonexistent/cert", "/nonexistent/key"); err == nil {
		t.Fatalf("TLSCredsFromFile: did not get expected error for missing files")
	}
}
