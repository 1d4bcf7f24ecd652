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

// Package bgptable implements the per address family route tables that are
// owned by routing instances, and the database in which tables are
// registered by name. Tables store routes and the extended communities that
// are attached to them; path selection is not performed.
package bgptable

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/golang/glog"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/lifetime"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

// Route is a single destination within a table.
type Route struct {
	// Prefix is the destination of the route.
	Prefix string
	// Communities are the extended communities attached to the route.
	Communities []bgp.ExtendedCommunityInterface
	// Generation is incremented each time the route is re-notified to the
	// listeners of the table.
	Generation uint64
}

// ListenerFn is called for each route that is re-notified by a table.
type ListenerFn func(*Table, *Route)

// Table is a route table for a single address family within a routing
// instance.
type Table struct {
	name   string
	family constants.Family
	db     *DB

	// mu protects routes, listener and notifyCount.
	mu          sync.RWMutex
	routes      map[string]*Route
	listener    ListenerFn
	notifyCount int

	// instance is the name of the routing instance that owns the table, the
	// table holds a reference on the instance through instanceRef.
	instance    string
	instanceRef *lifetime.Ref
	// onDestroy is called by the owner to remove the table from its own
	// structures when the table is destroyed.
	onDestroy func(*Table)

	deleter *lifetime.Deleter
}

// Name returns the name of the table.
func (t *Table) Name() string { return t.name }

// Family returns the address family of the table.
func (t *Table) Family() constants.Family { return t.family }

// RoutingInstance returns the name of the routing instance that owns the table.
func (t *Table) RoutingInstance() string { return t.instance }

// SetRoutingInstance assigns the table to the routing instance with the
// specified name. The table holds a reference on the instance's deleter
// until it is destroyed, at which point onDestroy is called.
func (t *Table) SetRoutingInstance(name string, parent *lifetime.Deleter, onDestroy func(*Table)) {
	t.instance = name
	t.instanceRef = lifetime.NewRef(t, parent)
	t.onDestroy = onDestroy
}

// SetListener sets the function that is called for each route when routes
// are re-notified.
func (t *Table) SetListener(fn ListenerFn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = fn
}

// AddRoute adds or replaces the route to prefix with the extended communities
// comms.
func (t *Table) AddRoute(prefix string, comms ...bgp.ExtendedCommunityInterface) error {
	if prefix == "" {
		return errors.New("invalid empty prefix")
	}
	if t.deleter.IsDeleted() {
		return fmt.Errorf("cannot add route %s, table %s is being deleted", prefix, t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[prefix] = &Route{Prefix: prefix, Communities: comms}
	return nil
}

// DeleteRoute removes the route to prefix. It returns true if the route was
// present.
func (t *Table) DeleteRoute(prefix string) bool {
	t.mu.Lock()
	_, ok := t.routes[prefix]
	delete(t.routes, prefix)
	empty := len(t.routes) == 0
	t.mu.Unlock()

	if ok && empty {
		t.deleter.RetryDelete()
	}
	return ok
}

// Route returns the route to prefix, and whether it was found.
func (t *Table) Route(prefix string) (*Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[prefix]
	return r, ok
}

// Routes returns the routes within the table, sorted by prefix.
func (t *Table) Routes() []*Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rs := make([]*Route, 0, len(t.routes))
	for _, r := range t.routes {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Prefix < rs[j].Prefix })
	return rs
}

// Size returns the number of routes in the table.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// NotifyAllEntries marks every route within the table for re-evaluation by
// the listener of the table.
func (t *Table) NotifyAllEntries() {
	t.mu.Lock()
	t.notifyCount++
	fn := t.listener
	rs := make([]*Route, 0, len(t.routes))
	for _, r := range t.routes {
		r.Generation++
		rs = append(rs, r)
	}
	t.mu.Unlock()

	log.V(2).Infof("table %s: notifying %d routes", t.name, len(rs))
	if fn == nil {
		return
	}
	for _, r := range rs {
		fn(t, r)
	}
}

// NotifyCount returns the number of times that all entries of the table have
// been re-notified.
func (t *Table) NotifyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.notifyCount
}

// Deleter returns the deleter of the table.
func (t *Table) Deleter() *lifetime.Deleter { return t.deleter }

// ManagedDelete requests deletion of the table. It implements the
// lifetime.Dependent interface.
func (t *Table) ManagedDelete() {
	t.deleter.Delete()
}

// tableActor implements lifetime.Actor for a Table.
type tableActor struct {
	t *Table
}

// MayDelete allows a table to be destroyed once all of its routes are gone.
func (a *tableActor) MayDelete() bool {
	return a.t.Size() == 0
}

// Shutdown flushes the routes of the table.
func (a *tableActor) Shutdown() {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	a.t.routes = map[string]*Route{}
}

// Destroy removes the table from the database and its owner, and releases
// the reference it holds on its owner.
func (a *tableActor) Destroy() {
	t := a.t
	if t.Size() != 0 {
		// Enforced by MayDelete.
		log.Fatalf("table %s destroyed with %d routes", t.name, t.Size())
	}
	t.db.RemoveTable(t)
	if t.onDestroy != nil {
		t.onDestroy(t)
	}
	if t.instanceRef != nil {
		t.instanceRef.Reset()
	}
}
