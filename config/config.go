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

// Package config defines the configuration snapshot of a routing instance,
// the store in which the current configuration of all instances is held, and
// a loader for configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"sync"

	"github.com/openconfig/vrfmgr/constants"
	"gopkg.in/yaml.v3"
)

// ServiceChainConfig describes a service chain that steers the traffic of a
// routing instance through a service instance.
type ServiceChainConfig struct {
	// RoutingInstance is the destination instance of the chain.
	RoutingInstance string `yaml:"routing-instance"`
	// SourceRoutingInstance is the instance in which the chain is
	// originated.
	SourceRoutingInstance string `yaml:"source-routing-instance,omitempty"`
	// ServiceChainAddress is the address of the service instance.
	ServiceChainAddress string `yaml:"service-chain-address,omitempty"`
	// Prefixes are the prefixes that are steered through the chain.
	Prefixes []string `yaml:"prefixes,omitempty"`
}

// InstanceConfig is the configuration snapshot of a single routing instance.
// A snapshot is never modified once it has been stored, a change in
// configuration is expressed as a new snapshot.
type InstanceConfig struct {
	Name string `yaml:"name"`
	// ImportList and ExportList contain route targets in string form, e.g.
	// target:64512:100.
	ImportList []string `yaml:"import-targets,omitempty"`
	ExportList []string `yaml:"export-targets,omitempty"`

	VirtualNetwork             string `yaml:"virtual-network,omitempty"`
	VirtualNetworkIndex        int    `yaml:"virtual-network-index,omitempty"`
	VirtualNetworkAllowTransit bool   `yaml:"allow-transit,omitempty"`
	VxlanID                    int    `yaml:"vxlan-id,omitempty"`

	ServiceChainList []ServiceChainConfig `yaml:"service-chains,omitempty"`
}

// IsMaster reports whether the configuration is for the master instance.
func (c *InstanceConfig) IsMaster() bool {
	return c.Name == constants.MasterInstance
}

// Validate checks that the configuration can be used to create an instance.
func (c *InstanceConfig) Validate() error {
	switch {
	case c == nil:
		return errors.New("empty configuration")
	case c.Name == "":
		return errors.New("instance name must be specified")
	case c.VirtualNetworkIndex < 0:
		return fmt.Errorf("instance %s: invalid virtual network index %d", c.Name, c.VirtualNetworkIndex)
	case c.IsMaster() && (len(c.ImportList) != 0 || len(c.ExportList) != 0):
		return fmt.Errorf("instance %s: master instance cannot have route targets", c.Name)
	}
	for _, sc := range c.ServiceChainList {
		if sc.RoutingInstance == "" {
			return fmt.Errorf("instance %s: service chain without a destination instance", c.Name)
		}
	}
	return nil
}

// Equal reports whether c and o contain the same configuration.
func (c *InstanceConfig) Equal(o *InstanceConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Name == o.Name &&
		slices.Equal(c.ImportList, o.ImportList) &&
		slices.Equal(c.ExportList, o.ExportList) &&
		c.VirtualNetwork == o.VirtualNetwork &&
		c.VirtualNetworkIndex == o.VirtualNetworkIndex &&
		c.VirtualNetworkAllowTransit == o.VirtualNetworkAllowTransit &&
		c.VxlanID == o.VxlanID &&
		slices.EqualFunc(c.ServiceChainList, o.ServiceChainList, func(a, b ServiceChainConfig) bool {
			return a.RoutingInstance == b.RoutingInstance &&
				a.SourceRoutingInstance == b.SourceRoutingInstance &&
				a.ServiceChainAddress == b.ServiceChainAddress &&
				slices.Equal(a.Prefixes, b.Prefixes)
		})
}

// ServiceChain returns the first service chain of the instance, or nil if
// none is configured.
func (c *InstanceConfig) ServiceChain() *ServiceChainConfig {
	if len(c.ServiceChainList) == 0 {
		return nil
	}
	return &c.ServiceChainList[0]
}

// Store holds the current configuration of every routing instance, keyed by
// name. It is safe for concurrent use.
type Store struct {
	// mu protects instances.
	mu        sync.RWMutex
	instances map[string]*InstanceConfig
}

// NewStore returns an empty configuration store.
func NewStore() *Store {
	return &Store{instances: map[string]*InstanceConfig{}}
}

// FindInstance returns the configuration of the instance named name, or nil
// if it is not configured.
func (s *Store) FindInstance(name string) *InstanceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[name]
}

// Put stores c as the configuration of the instance it names.
func (s *Store) Put(c *InstanceConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[c.Name] = c
	return nil
}

// Remove removes the configuration of the instance named name.
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, name)
}

// Names returns the sorted names of the configured instances.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := make([]string, 0, len(s.instances))
	for n := range s.instances {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

// Changes is the difference between the contents of a store and a new set
// of configurations.
type Changes struct {
	// Create are configurations for instances that are not in the store.
	Create []*InstanceConfig
	// Update are configurations that differ from those in the store.
	Update []*InstanceConfig
	// Delete are the names of instances that are no longer configured.
	Delete []string
}

// Empty reports whether there are no changes.
func (c *Changes) Empty() bool {
	return len(c.Create) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}

// Diff returns the changes required to move the store to the configurations
// in next. Each slice of the result is sorted by instance name.
func (s *Store) Diff(next []*InstanceConfig) (*Changes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	ch := &Changes{}
	for i, c := range next {
		if c == nil {
			return nil, fmt.Errorf("instance %d: empty configuration", i)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate configuration for instance %s", c.Name)
		}
		seen[c.Name] = true
		cur, ok := s.instances[c.Name]
		switch {
		case !ok:
			ch.Create = append(ch.Create, c)
		case !cur.Equal(c):
			ch.Update = append(ch.Update, c)
		}
	}
	for n := range s.instances {
		if !seen[n] {
			ch.Delete = append(ch.Delete, n)
		}
	}
	byName := func(a, b *InstanceConfig) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	}
	slices.SortFunc(ch.Create, byName)
	slices.SortFunc(ch.Update, byName)
	sort.Strings(ch.Delete)
	return ch, nil
}

// File is the format of a configuration file.
type File struct {
	Instances []*InstanceConfig `yaml:"instances"`
}

// Parse parses the YAML configuration in b.
func Parse(b []byte) ([]*InstanceConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	f := &File{}
	switch err := dec.Decode(f); {
	case err == io.EOF:
		// An empty file configures no instances other than the master.
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cannot parse configuration, %v", err)
	}
	for i, c := range f.Instances {
		if c == nil {
			return nil, fmt.Errorf("instance %d: empty configuration", i)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Instances, nil
}

// LoadFile reads and parses the YAML configuration file at path.
func LoadFile(path string) ([]*InstanceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file %s, %v", path, err)
	}
	return Parse(b)
}
