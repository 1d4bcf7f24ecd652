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

// Package peer implements the registry of BGP peers that belong to a single
// routing instance. The session state machine of the peers is not modelled,
// the registry is created and destroyed along with its instance.
package peer

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	log "github.com/golang/glog"
)

// Peer is a BGP neighbour within a routing instance.
type Peer struct {
	// Name is the unique name of the peer within its instance.
	Name string
	// Address is the address of the neighbour.
	Address netip.Addr
}

// Manager is the registry of peers for a routing instance.
type Manager struct {
	instance string

	// mu protects peers and closed.
	mu     sync.RWMutex
	peers  map[string]*Peer
	closed bool
}

// NewManager returns a peer manager for the routing instance named instance.
func NewManager(instance string) *Manager {
	return &Manager{
		instance: instance,
		peers:    map[string]*Peer{},
	}
}

// Locate returns the peer named name, creating it with the specified address
// if it does not exist. An existing peer has its address updated.
func (m *Manager) Locate(name string, addr netip.Addr) (*Peer, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("invalid address for peer %s", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("cannot locate peer %s, instance %s is closed", name, m.instance)
	}
	if p, ok := m.peers[name]; ok {
		p.Address = addr
		return p, nil
	}
	p := &Peer{Name: name, Address: addr}
	m.peers[name] = p
	log.V(2).Infof("instance %s: created peer %s (%s)", m.instance, name, addr)
	return p, nil
}

// Find returns the peer named name, or nil if it does not exist.
func (m *Manager) Find(name string) *Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[name]
}

// Remove deletes the peer named name. It returns true if it existed.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[name]
	delete(m.peers, name)
	return ok
}

// Size returns the number of peers in the instance.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// Names returns the sorted names of the peers.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns := make([]string, 0, len(m.peers))
	for n := range m.peers {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

// Close removes all peers, after which no peers can be created.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.peers); n != 0 {
		log.V(2).Infof("instance %s: closing %d peers", m.instance, n)
	}
	m.peers = map[string]*Peer{}
	m.closed = true
}
