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

// Package routinginstance implements the routing instances (VRFs) of a BGP
// server and the manager that creates, updates and deletes them in response
// to configuration. The manager maintains reverse indexes from route target
// and virtual network index to instance, and notifies registered callbacks
// of every change to the set of instances.
//
// All functions that mutate instances or the manager must be called from a
// single serializing context, which must also call Process on the lifetime
// manager that the Manager was created with. Only the callback registry may
// be used concurrently from other contexts.
package routinginstance

import (
	"net/netip"
	"strings"
	"sync"

	log "github.com/golang/glog"
	"github.com/google/btree"
	"github.com/openconfig/vrfmgr/bgptable"
	"github.com/openconfig/vrfmgr/config"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/lifetime"
	"github.com/openconfig/vrfmgr/replication"
	"github.com/openconfig/vrfmgr/rtarget"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"go.uber.org/atomic"
)

const (
	// AmbiguousVnIndex is returned by GetVnIndexByRouteTarget when a route
	// target is carried by instances in different virtual networks.
	AmbiguousVnIndex = -1
	// UnresolvedVnIndex is returned when no virtual network index can be
	// determined.
	UnresolvedVnIndex = 0
)

// warningf logs a configuration race, tests override it to count warnings.
var warningf = log.Warningf

// Callback is called for each operation on a routing instance. A callback
// must not register or unregister callbacks on the Manager that calls it.
type Callback func(name string, op constants.OpType)

// ConfigSource provides the current configuration of routing instances. It
// is consulted when a deleted instance is destroyed, so that an instance that
// was configured again while it was being deleted is recreated.
type ConfigSource interface {
	FindInstance(name string) *config.InstanceConfig
}

// ServiceChainManager is notified when the service chain configuration of an
// instance changes.
type ServiceChainManager interface {
	// LocateServiceChain creates or updates the service chain sc for ri.
	LocateServiceChain(ri *RoutingInstance, sc *config.ServiceChainConfig) bool
	// StopServiceChain stops any service chain of ri.
	StopServiceChain(ri *RoutingInstance)
}

type noopServiceChains struct{}

func (noopServiceChains) LocateServiceChain(*RoutingInstance, *config.ServiceChainConfig) bool {
	return false
}
func (noopServiceChains) StopServiceChain(*RoutingInstance) {}

// Opt is an interface implemented by all options that can be supplied to New.
type Opt interface {
	isManagerOpt()
}

type routerID struct{ addr netip.Addr }

func (*routerID) isManagerOpt() {}

// WithRouterID sets the router ID used to form route distinguishers.
func WithRouterID(addr netip.Addr) *routerID {
	return &routerID{addr: addr}
}

type hostname struct{ name string }

func (*hostname) isManagerOpt() {}

// WithHostname sets the hostname that is reported in Info records.
func WithHostname(name string) *hostname {
	return &hostname{name: name}
}

type replicatorOpt struct {
	family constants.Family
	r      replication.Replicator
}

func (*replicatorOpt) isManagerOpt() {}

// WithReplicator sets the replicator used for VPN family f. Families without
// a replicator are given a replication.Engine.
func WithReplicator(f constants.Family, r replication.Replicator) *replicatorOpt {
	return &replicatorOpt{family: f, r: r}
}

type serviceChainOpt struct{ s ServiceChainManager }

func (*serviceChainOpt) isManagerOpt() {}

// WithServiceChainManager sets the manager notified of service chain changes.
func WithServiceChainManager(s ServiceChainManager) *serviceChainOpt {
	return &serviceChainOpt{s: s}
}

type infoHook struct{ fn InfoHookFn }

func (*infoHook) isManagerOpt() {}

// WithInfoHook sets fn to be called with each Info record that is logged.
func WithInfoHook(fn InfoHookFn) *infoHook {
	return &infoHook{fn: fn}
}

// nameIndex maps an instance name to its index.
type nameIndex struct {
	name  string
	index int
}

func nameLess(a, b nameIndex) bool { return a.name < b.name }

// Manager is the registry of all routing instances of a server.
type Manager struct {
	lm            *lifetime.Manager
	db            *bgptable.DB
	configs       ConfigSource
	replicators   map[constants.Family]replication.Replicator
	serviceChains ServiceChainManager
	routerID      netip.Addr
	hostname      string
	infoHook      InfoHookFn

	instances *slots[RoutingInstance]
	names     *btree.BTreeG[nameIndex]
	count     *atomic.Int64

	// targets maps each route target imported or exported by an instance to
	// the index of that instance.
	targets *multimap[rtarget.RouteTarget]
	// vnIndexes maps each non-zero VN index to the instances within it.
	vnIndexes *multimap[int]

	// cbMu protects callbacks.
	cbMu      sync.RWMutex
	callbacks *slots[Callback]

	// deletedCount is the number of instances between Shutdown and Destroy.
	deletedCount *atomic.Int64

	deleter *lifetime.Deleter
}

// New returns a new Manager. Deletion of instances is scheduled on lm, the
// tables of instances are created in db, and configs is consulted when
// deciding whether to recreate a destroyed instance.
func New(lm *lifetime.Manager, db *bgptable.DB, configs ConfigSource, opts ...Opt) *Manager {
	m := &Manager{
		lm:            lm,
		db:            db,
		configs:       configs,
		replicators:   map[constants.Family]replication.Replicator{},
		serviceChains: noopServiceChains{},
		routerID:      netip.IPv4Unspecified(),
		instances:     newSlots[RoutingInstance](),
		names:         btree.NewG[nameIndex](8, nameLess),
		count:         atomic.NewInt64(0),
		targets:       newMultimap[rtarget.RouteTarget](),
		vnIndexes:     newMultimap[int](),
		callbacks:     newSlots[Callback](),
		deletedCount:  atomic.NewInt64(0),
	}
	for _, o := range opts {
		switch v := o.(type) {
		case *routerID:
			m.routerID = v.addr
		case *hostname:
			m.hostname = v.name
		case *replicatorOpt:
			m.replicators[v.family] = v.r
		case *serviceChainOpt:
			m.serviceChains = v.s
		case *infoHook:
			m.infoHook = v.fn
		}
	}
	for _, f := range constants.VPNFamilies {
		if _, ok := m.replicators[f]; !ok {
			m.replicators[f] = replication.New(f)
		}
	}
	m.deleter = lm.NewDeleter("routing-instance-manager", managerActor{})
	return m
}

// Replicator returns the replicator for VPN family f.
func (m *Manager) Replicator(f constants.Family) replication.Replicator {
	return m.replicators[f]
}

// CreateRoutingInstance creates the instance described by cfg. If an
// instance with the same name already exists it is returned unchanged, unless
// it is being deleted, in which case nil is returned. nil is also returned
// if the instance cannot be created.
func (m *Manager) CreateRoutingInstance(cfg *config.InstanceConfig) *RoutingInstance {
	if cfg == nil {
		log.Errorf("cannot create routing instance with nil configuration")
		return nil
	}
	if ri := m.GetRoutingInstance(cfg.Name); ri != nil {
		if ri.Deleted() {
			warningf("instance %s: recreated before pending deletion is complete", cfg.Name)
			return nil
		}
		warningf("instance %s: already found during creation", cfg.Name)
		return ri
	}
	if m.deleter.IsDeleted() {
		warningf("instance %s: not created, manager is being deleted", cfg.Name)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("instance %s: refused, %v", cfg.Name, err)
		return nil
	}

	ri := newRoutingInstance(m, cfg)
	ri.setIndex(m.insert(ri))
	if err := ri.ProcessConfig(); err != nil {
		log.Errorf("instance %s: refused, %v", cfg.Name, err)
		m.remove(ri)
		ri.managerRef.Reset()
		return nil
	}
	m.instanceTargetAdd(ri)
	m.instanceVnIndexAdd(ri)

	m.NotifyInstanceOp(cfg.Name, constants.ADD)
	log.V(2).Infof("instance %s: created with index %d, import %v, export %v, vn %s (%d)",
		ri.name, ri.index, cfg.ImportList, cfg.ExportList, ri.VirtualNetwork(), ri.virtualNetworkIndex)
	return ri
}

// UpdateRoutingInstance applies cfg to the existing instance it names.
func (m *Manager) UpdateRoutingInstance(cfg *config.InstanceConfig) {
	if cfg == nil {
		log.Errorf("cannot update routing instance with nil configuration")
		return
	}
	ri := m.GetRoutingInstance(cfg.Name)
	switch {
	case ri == nil:
		warningf("instance %s: not found during update", cfg.Name)
		return
	case ri.Deleted():
		warningf("instance %s: updated before pending deletion is complete", cfg.Name)
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("instance %s: update refused, %v", cfg.Name, err)
		return
	}

	m.instanceTargetRemove(ri)
	m.instanceVnIndexRemove(ri)
	ri.UpdateConfig(cfg)
	m.instanceTargetAdd(ri)
	m.instanceVnIndexAdd(ri)

	m.NotifyInstanceOp(cfg.Name, constants.UPDATE)
}

// DeleteRoutingInstance requests deletion of the instance named name. The
// instance is removed from the reverse indexes immediately, but remains
// visible through GetRoutingInstance until it has been destroyed.
func (m *Manager) DeleteRoutingInstance(name string) {
	ri := m.GetRoutingInstance(name)
	switch {
	case ri == nil:
		warningf("instance %s: not found during delete", name)
		return
	case ri.Deleted():
		warningf("instance %s: duplicate delete while pending deletion", name)
		return
	case ri.isDefault:
		log.Errorf("instance %s: master instance cannot be deleted", name)
		return
	}

	m.instanceVnIndexRemove(ri)
	m.instanceTargetRemove(ri)
	ri.clearConfig()

	m.logInfo(ri.info("Delete"))
	ri.ClearRouteTarget()
	m.serviceChains.StopServiceChain(ri)

	m.NotifyInstanceOp(name, constants.DELETE)
	ri.ManagedDelete()
}

// destroyRoutingInstance removes a destroyed instance from the manager, and
// recreates it if it is still configured.
func (m *Manager) destroyRoutingInstance(ri *RoutingInstance) {
	m.logInfo(ri.info("Destroy"))
	m.remove(ri)

	if m.deleter.IsDeleted() || ri.isDefault {
		return
	}
	if cfg := m.configs.FindInstance(ri.name); cfg != nil {
		log.V(2).Infof("instance %s: recreating after deletion", ri.name)
		m.CreateRoutingInstance(cfg)
	}
}

// insert adds ri to the index store and returns its index.
func (m *Manager) insert(ri *RoutingInstance) int {
	idx := m.instances.insert(ri)
	m.names.ReplaceOrInsert(nameIndex{name: ri.name, index: idx})
	m.count.Inc()
	return idx
}

// remove removes ri from the index store, freeing its index.
func (m *Manager) remove(ri *RoutingInstance) {
	if m.instances.get(ri.index) != ri {
		log.Errorf("instance %s: not found at index %d", ri.name, ri.index)
		return
	}
	m.instances.release(ri.index)
	m.names.Delete(nameIndex{name: ri.name})
	m.count.Dec()
}

// ManagedDelete requests deletion of the manager and of every instance.
func (m *Manager) ManagedDelete() {
	m.deleter.Delete()
}

// Deleted reports whether deletion of the manager has been requested.
func (m *Manager) Deleted() bool {
	return m.deleter.IsDeleted()
}

// Deleter returns the deleter of the manager.
func (m *Manager) Deleter() *lifetime.Deleter { return m.deleter }

// managerActor implements lifetime.Actor for a Manager. Each instance holds a
// reference on the manager, so it is destroyed after the last instance.
type managerActor struct{}

func (managerActor) MayDelete() bool { return true }
func (managerActor) Shutdown()       {}
func (managerActor) Destroy()        {}

// GetRoutingInstance returns the instance named name, including an instance
// that is being deleted, or nil if there is none.
func (m *Manager) GetRoutingInstance(name string) *RoutingInstance {
	ni, ok := m.names.Get(nameIndex{name: name})
	if !ok {
		return nil
	}
	return m.instances.get(ni.index)
}

// GetRoutingInstanceByIndex returns the instance with index i, or nil.
func (m *Manager) GetRoutingInstanceByIndex(i int) *RoutingInstance {
	return m.instances.get(i)
}

// GetDefaultRoutingInstance returns the master instance, or nil if it has not
// been created.
func (m *Manager) GetDefaultRoutingInstance() *RoutingInstance {
	return m.GetRoutingInstance(constants.MasterInstance)
}

// Instances returns all instances in index order.
func (m *Manager) Instances() []*RoutingInstance {
	var ris []*RoutingInstance
	for i := 0; i < m.instances.size(); i++ {
		if ri := m.instances.get(i); ri != nil {
			ris = append(ris, ri)
		}
	}
	return ris
}

// Names returns the names of all instances that sort at or after from, in
// name order.
func (m *Manager) Names(from string) []string {
	var ns []string
	m.names.AscendGreaterOrEqual(nameIndex{name: from}, func(ni nameIndex) bool {
		ns = append(ns, ni.name)
		return true
	})
	return ns
}

// Count returns the number of instances, including those being deleted. It
// is safe for concurrent use.
func (m *Manager) Count() int {
	return int(m.count.Load())
}

// DeletedCount returns the number of instances that have been shut down but
// not yet destroyed. It is safe for concurrent use.
func (m *Manager) DeletedCount() int {
	return int(m.deletedCount.Load())
}

// instanceTargetAdd adds an entry to the target map for every route target
// imported or exported by ri.
func (m *Manager) instanceTargetAdd(ri *RoutingInstance) {
	add := func(rt rtarget.RouteTarget) bool {
		m.targets.insert(rt, ri.index)
		return true
	}
	ri.imports.Ascend(add)
	ri.exports.Ascend(add)
}

// instanceTargetRemove removes the entries for ri from the target map. Each
// target may map to several instances, so only the entry matching ri is
// removed.
func (m *Manager) instanceTargetRemove(ri *RoutingInstance) {
	del := func(rt rtarget.RouteTarget) bool {
		m.targets.remove(rt, ri.index)
		return true
	}
	ri.imports.Ascend(del)
	ri.exports.Ascend(del)
}

func (m *Manager) instanceVnIndexAdd(ri *RoutingInstance) {
	if vn := ri.virtualNetworkIndex; vn != 0 {
		m.vnIndexes.insert(vn, ri.index)
	}
}

func (m *Manager) instanceVnIndexRemove(ri *RoutingInstance) {
	if vn := ri.virtualNetworkIndex; vn != 0 {
		m.vnIndexes.remove(vn, ri.index)
	}
}

// GetInstanceByTarget returns an instance that imports or exports rt, the
// one with the lowest index if there are several, or nil if there is none.
func (m *Manager) GetInstanceByTarget(rt rtarget.RouteTarget) *RoutingInstance {
	idx, ok := m.targets.first(rt)
	if !ok {
		return nil
	}
	return m.instances.get(idx)
}

// GetVnIndexByRouteTarget returns the VN index of the instances that carry
// rt. It returns UnresolvedVnIndex if no instance with a VN index carries rt,
// and AmbiguousVnIndex if the instances that carry rt are in different
// virtual networks. A VN index of 0 does not conflict with any other.
func (m *Manager) GetVnIndexByRouteTarget(rt rtarget.RouteTarget) int {
	vn := UnresolvedVnIndex
	m.targets.bucket(rt, func(idx int) bool {
		ri := m.instances.get(idx)
		if ri == nil {
			return true
		}
		rvn := ri.virtualNetworkIndex
		if vn != 0 && rvn != 0 && rvn != vn {
			vn = AmbiguousVnIndex
			return false
		}
		if rvn != 0 {
			vn = rvn
		}
		return true
	})
	return vn
}

// GetVnIndexByExtCommunity returns the VN index derived from the route
// targets in comms. The result is UnresolvedVnIndex if any route target is
// ambiguous, or if two route targets resolve to different VN indexes.
func (m *Manager) GetVnIndexByExtCommunity(comms []bgp.ExtendedCommunityInterface) int {
	vn := UnresolvedVnIndex
	for _, c := range comms {
		rt, err := rtarget.FromExtendedCommunity(c)
		if err != nil {
			continue
		}
		rvn := m.GetVnIndexByRouteTarget(rt)
		if rvn < 0 || (vn != 0 && rvn != 0 && rvn != vn) {
			return UnresolvedVnIndex
		}
		if rvn != 0 {
			vn = rvn
		}
	}
	return vn
}

// GetInstanceByVnIndex returns an instance in the virtual network with index
// vn, the one with the lowest index if there are several, or nil.
func (m *Manager) GetInstanceByVnIndex(vn int) *RoutingInstance {
	idx, ok := m.vnIndexes.first(vn)
	if !ok {
		return nil
	}
	return m.instances.get(idx)
}

// GetVirtualNetworkByVnIndex returns the virtual network name for vn.
func (m *Manager) GetVirtualNetworkByVnIndex(vn int) string {
	if ri := m.GetInstanceByVnIndex(vn); ri != nil {
		return ri.VirtualNetwork()
	}
	return unresolvedVN
}

// TargetEntry is a single entry of the route target map.
type TargetEntry struct {
	RT       rtarget.RouteTarget
	Instance string
}

// TargetEntries returns the contents of the route target map, ordered by
// route target and then by instance index.
func (m *Manager) TargetEntries() []TargetEntry {
	var es []TargetEntry
	m.targets.ascend(func(rt rtarget.RouteTarget, idx int) bool {
		name := "<missing>"
		if ri := m.instances.get(idx); ri != nil {
			name = ri.name
		}
		es = append(es, TargetEntry{RT: rt, Instance: name})
		return true
	})
	return es
}

// VnIndexEntries returns the VN index map as a map of VN index to the names
// of the instances within it, in index order.
func (m *Manager) VnIndexEntries() map[int][]string {
	es := map[int][]string{}
	m.vnIndexes.ascend(func(vn, idx int) bool {
		if ri := m.instances.get(idx); ri != nil {
			es[vn] = append(es[vn], ri.name)
		}
		return true
	})
	return es
}

// RegisterCallback adds fn to the callbacks notified of instance operations
// and returns an identifier that can be passed to UnregisterCallback. The
// lowest free slot is reused.
func (m *Manager) RegisterCallback(fn Callback) int {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	return m.callbacks.insert(&fn)
}

// UnregisterCallback removes the callback with identifier id.
func (m *Manager) UnregisterCallback(id int) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	if !m.callbacks.release(id) {
		log.Errorf("cannot unregister unknown callback %d", id)
	}
}

// CallbackCount returns the number of registered callbacks.
func (m *Manager) CallbackCount() int {
	m.cbMu.RLock()
	defer m.cbMu.RUnlock()
	return m.callbacks.size() - m.callbacks.freeCount()
}

// NotifyInstanceOp calls every registered callback, in slot order, with name
// and op.
func (m *Manager) NotifyInstanceOp(name string, op constants.OpType) {
	m.cbMu.RLock()
	defer m.cbMu.RUnlock()
	for i := 0; i < m.callbacks.size(); i++ {
		if fn := m.callbacks.get(i); fn != nil {
			(*fn)(name, op)
		}
	}
}

// String returns a summary of the manager for debugging.
func (m *Manager) String() string {
	var b strings.Builder
	for _, ri := range m.Instances() {
		b.WriteString(ri.String())
		b.WriteString("\n")
	}
	return b.String()
}
