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

// Package fluent defines a fluent-style API for building routing instance
// configurations, for use in tests and tools that drive the manager.
package fluent

import (
	"github.com/openconfig/vrfmgr/config"
	"github.com/openconfig/vrfmgr/constants"
)

// instanceConfig is a builder for a routing instance configuration.
type instanceConfig struct {
	// ic is the configuration being built.
	ic *config.InstanceConfig
}

// RoutingInstance returns a builder for the configuration of the instance
// named name, and is an entrypoint to this package.
func RoutingInstance(name string) *instanceConfig {
	return &instanceConfig{ic: &config.InstanceConfig{Name: name}}
}

// Master returns a builder for the configuration of the master instance.
func Master() *instanceConfig {
	return RoutingInstance(constants.MasterInstance)
}

// WithImportTargets adds the route targets rts to the import list of the
// instance. Targets are in the configuration form, e.g. target:64512:100.
func (i *instanceConfig) WithImportTargets(rts ...string) *instanceConfig {
	i.ic.ImportList = append(i.ic.ImportList, rts...)
	return i
}

// WithExportTargets adds the route targets rts to the export list of the
// instance.
func (i *instanceConfig) WithExportTargets(rts ...string) *instanceConfig {
	i.ic.ExportList = append(i.ic.ExportList, rts...)
	return i
}

// WithTargets adds the route targets rts to both the import and export lists
// of the instance.
func (i *instanceConfig) WithTargets(rts ...string) *instanceConfig {
	return i.WithImportTargets(rts...).WithExportTargets(rts...)
}

// WithVirtualNetwork sets the virtual network name and index of the instance.
func (i *instanceConfig) WithVirtualNetwork(name string, index int) *instanceConfig {
	i.ic.VirtualNetwork = name
	i.ic.VirtualNetworkIndex = index
	return i
}

// WithAllowTransit marks the virtual network of the instance as allowing
// transit.
func (i *instanceConfig) WithAllowTransit() *instanceConfig {
	i.ic.VirtualNetworkAllowTransit = true
	return i
}

// WithVxlanID sets the VXLAN identifier of the instance.
func (i *instanceConfig) WithVxlanID(id int) *instanceConfig {
	i.ic.VxlanID = id
	return i
}

// WithServiceChain adds a service chain that steers prefixes from the
// instance to the instance named dest via the service at addr.
func (i *instanceConfig) WithServiceChain(dest, addr string, prefixes ...string) *instanceConfig {
	i.ic.ServiceChainList = append(i.ic.ServiceChainList, config.ServiceChainConfig{
		RoutingInstance:       dest,
		SourceRoutingInstance: i.ic.Name,
		ServiceChainAddress:   addr,
		Prefixes:              prefixes,
	})
	return i
}

// AsConfig returns the built configuration. The builder must not be used
// after AsConfig has been called, since stored configurations are never
// modified.
func (i *instanceConfig) AsConfig() *config.InstanceConfig {
	return i.ic
}

// Configs returns the configurations built by each of builders, in order.
func Configs(builders ...*instanceConfig) []*config.InstanceConfig {
	cs := make([]*config.InstanceConfig, 0, len(builders))
	for _, b := range builders {
		cs = append(cs, b.AsConfig())
	}
	return cs
}
