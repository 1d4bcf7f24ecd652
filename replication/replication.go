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

// Package replication implements the engine that redistributes routes between
// the tables of routing instances, based on the route targets that each table
// imports and exports. One engine exists for each VPN address family.
package replication

import (
	"fmt"
	"sort"

	log "github.com/golang/glog"
	"github.com/google/btree"
	"github.com/openconfig/vrfmgr/bgptable"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/rtarget"
)

// Replicator is the interface exposed to routing instances by the
// replication engine of an address family. Join and Leave are idempotent and
// are called from the serializing context whenever the target sets of a
// table change.
type Replicator interface {
	// Initialize prepares the replicator when the VPN table of its family is
	// created.
	Initialize()
	// Join adds table t to the group for route target rt, as an importer if
	// isImport is true, or as an exporter otherwise.
	Join(t *bgptable.Table, rt rtarget.RouteTarget, isImport bool)
	// Leave removes table t from the group for route target rt.
	Leave(t *bgptable.Table, rt rtarget.RouteTarget, isImport bool)
}

// Op names passed to OpHookFn.
const (
	OpJoin  = "join"
	OpLeave = "leave"
)

// OpHookFn is a function that is called for each Join or Leave that changes
// the membership of a group.
type OpHookFn func(f constants.Family, op string)

// Opt is an interface implemented by options to the engine.
type Opt interface {
	isEngineOpt()
}

type opHook struct {
	fn OpHookFn
}

func (*opHook) isEngineOpt() {}

// WithOpHook sets fn to be called for each membership change in the engine.
func WithOpHook(fn OpHookFn) *opHook {
	return &opHook{fn: fn}
}

// Group is the set of tables that import and export a single route target.
type Group struct {
	RT rtarget.RouteTarget

	importers map[string]*bgptable.Table
	exporters map[string]*bgptable.Table
}

func (g *Group) members(isImport bool) map[string]*bgptable.Table {
	if isImport {
		return g.importers
	}
	return g.exporters
}

func (g *Group) empty() bool {
	return len(g.importers) == 0 && len(g.exporters) == 0
}

func groupLess(a, b *Group) bool {
	return rtarget.Less(a.RT, b.RT)
}

// Engine is an in-memory replication engine for a single VPN family. Each
// membership of a table in a group holds a reference on the table so that it
// cannot be destroyed until it has left every group.
type Engine struct {
	family      constants.Family
	initialized bool
	groups      *btree.BTreeG[*Group]
	opHook      OpHookFn
}

// New returns a new replication engine for family f.
func New(f constants.Family, opts ...Opt) *Engine {
	e := &Engine{
		family: f,
		groups: btree.NewG[*Group](8, groupLess),
	}
	for _, o := range opts {
		switch v := o.(type) {
		case *opHook:
			e.opHook = v.fn
		}
	}
	return e
}

// Family returns the address family of the engine.
func (e *Engine) Family() constants.Family { return e.family }

// Initialize marks the engine as initialized. It implements Replicator.
func (e *Engine) Initialize() {
	if e.initialized {
		return
	}
	log.V(2).Infof("replication %s: initialized", e.family)
	e.initialized = true
}

// Initialized reports whether Initialize has been called.
func (e *Engine) Initialized() bool { return e.initialized }

// Join implements Replicator.
func (e *Engine) Join(t *bgptable.Table, rt rtarget.RouteTarget, isImport bool) {
	g, ok := e.groups.Get(&Group{RT: rt})
	if !ok {
		g = &Group{
			RT:        rt,
			importers: map[string]*bgptable.Table{},
			exporters: map[string]*bgptable.Table{},
		}
		e.groups.ReplaceOrInsert(g)
	}
	m := g.members(isImport)
	if _, ok := m[t.Name()]; ok {
		return
	}
	m[t.Name()] = t
	t.Deleter().Acquire()
	log.V(2).Infof("replication %s: %s joined %s (import: %v)", e.family, t.Name(), rt, isImport)
	e.hook(OpJoin)
}

// Leave implements Replicator.
func (e *Engine) Leave(t *bgptable.Table, rt rtarget.RouteTarget, isImport bool) {
	g, ok := e.groups.Get(&Group{RT: rt})
	if !ok {
		return
	}
	m := g.members(isImport)
	if m[t.Name()] != t {
		return
	}
	delete(m, t.Name())
	if g.empty() {
		e.groups.Delete(g)
	}
	log.V(2).Infof("replication %s: %s left %s (import: %v)", e.family, t.Name(), rt, isImport)
	e.hook(OpLeave)
	t.Deleter().Release()
}

func (e *Engine) hook(op string) {
	if e.opHook != nil {
		e.opHook(e.family, op)
	}
}

// Groups returns the route targets that have at least one member, in
// ascending order.
func (e *Engine) Groups() []rtarget.RouteTarget {
	var rts []rtarget.RouteTarget
	e.groups.Ascend(func(g *Group) bool {
		rts = append(rts, g.RT)
		return true
	})
	return rts
}

// Importers returns the sorted names of the tables that import rt.
func (e *Engine) Importers(rt rtarget.RouteTarget) []string {
	return e.names(rt, true)
}

// Exporters returns the sorted names of the tables that export rt.
func (e *Engine) Exporters(rt rtarget.RouteTarget) []string {
	return e.names(rt, false)
}

func (e *Engine) names(rt rtarget.RouteTarget, isImport bool) []string {
	g, ok := e.groups.Get(&Group{RT: rt})
	if !ok {
		return nil
	}
	var ns []string
	for n := range g.members(isImport) {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

// Empty reports whether the engine has no groups.
func (e *Engine) Empty() bool {
	return e.groups.Len() == 0
}

// String returns a summary of the engine for debugging.
func (e *Engine) String() string {
	return fmt.Sprintf("replication %s: %d groups", e.family, e.groups.Len())
}
