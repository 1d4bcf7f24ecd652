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

package routinginstance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	log "github.com/golang/glog"
	"github.com/openconfig/vrfmgr/bgptable"
	"github.com/openconfig/vrfmgr/config"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/lifetime"
	"github.com/openconfig/vrfmgr/peer"
	"github.com/openconfig/vrfmgr/rtarget"
	"github.com/openconfig/vrfmgr/setutil"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

const (
	// unresolvedVN is returned as the virtual network name of an instance
	// that has none configured.
	unresolvedVN = "unresolved"
	// unknownVRF is returned for table names that do not belong to an
	// instance.
	unknownVRF = "__unknown__"
)

// RoutingInstance is a single routing context, or VRF, within the server. It
// owns a table for each supported address family and the sets of route
// targets that it imports and exports.
//
// A RoutingInstance must only be mutated from the serializing context of its
// Manager.
type RoutingInstance struct {
	name      string
	index     int
	mgr       *Manager
	isDefault bool

	// config is the configuration the instance was created or last updated
	// with. It is nil once deletion has been requested.
	config *config.InstanceConfig

	virtualNetwork      string
	virtualNetworkIndex int
	allowTransit        bool
	vxlanID             int

	imports *rtarget.Set
	exports *rtarget.Set

	// tables is keyed by table name.
	tables map[string]*bgptable.Table
	rd     bgp.RouteDistinguisherInterface
	peers  *peer.Manager

	deleter    *lifetime.Deleter
	managerRef *lifetime.Ref
}

func newRoutingInstance(m *Manager, cfg *config.InstanceConfig) *RoutingInstance {
	ri := &RoutingInstance{
		name:      cfg.Name,
		index:     -1,
		mgr:       m,
		config:    cfg,
		isDefault: cfg.Name == constants.MasterInstance,
		imports:   rtarget.NewSet(),
		exports:   rtarget.NewSet(),
		tables:    map[string]*bgptable.Table{},
		peers:     peer.NewManager(cfg.Name),
	}
	ri.deleter = m.lm.NewDeleter(cfg.Name, &instanceActor{ri: ri})
	ri.managerRef = lifetime.NewRef(ri, m.deleter)
	return ri
}

// GetTableName returns the name of the table for family f in the instance
// named instance.
func GetTableName(instance string, f constants.Family) string {
	if instance != constants.MasterInstance {
		return fmt.Sprintf("%s.%s.0", instance, f.TableString())
	}
	if f == constants.INET || f == constants.INET6 {
		return fmt.Sprintf("%s.0", f.TableString())
	}
	return fmt.Sprintf("bgp.%s.0", f.TableString())
}

var masterTables = map[string]bool{
	"inet.0":            true,
	"bgp.l3vpn.0":       true,
	"bgp.l3vpn-inet6.0": true,
	"bgp.ermvpn.0":      true,
	"bgp.evpn.0":        true,
	"bgp.rtarget.0":     true,
}

// GetVrfFromTableName returns the name of the instance that owns the table
// named table.
func GetVrfFromTableName(table string) string {
	if masterTables[table] {
		return constants.MasterInstance
	}
	p1 := strings.LastIndex(table, ".")
	if p1 <= 0 {
		return unknownVRF
	}
	p2 := strings.LastIndex(table[:p1], ".")
	if p2 < 0 {
		return unknownVRF
	}
	return table[:p2]
}

// parseTargets returns the sorted, unique route targets in strs. Invalid
// route targets are logged and skipped.
func parseTargets(instance string, strs []string) []rtarget.RouteTarget {
	s := rtarget.NewSet()
	for _, str := range strs {
		rt, err := rtarget.FromString(str)
		if err != nil {
			warningf("instance %s: ignoring route target, %v", instance, err)
			continue
		}
		s.Insert(rt)
	}
	return s.Items()
}

// setIndex assigns the index of the instance, and derives its route
// distinguisher.
func (ri *RoutingInstance) setIndex(index int) {
	ri.index = index
	if ri.isDefault {
		return
	}
	if index > math.MaxUint16 {
		log.Errorf("instance %s: index %d cannot be encoded in a route distinguisher", ri.name, index)
		return
	}
	ri.rd = bgp.NewRouteDistinguisherIPAddressAS(ri.mgr.routerID.String(), uint16(index))
}

// tableFamilies returns the families for which the instance owns tables.
func (ri *RoutingInstance) tableFamilies() []constants.Family {
	if ri.isDefault {
		return append(append([]constants.Family{}, constants.VPNFamilies...), constants.RTARGET, constants.INET)
	}
	fs := make([]constants.Family, 0, len(constants.VRFFamilies))
	for _, fp := range constants.VRFFamilies {
		fs = append(fs, fp.VRF)
	}
	return fs
}

// ProcessConfig performs the initial setup of a new instance: it creates its
// tables and joins the replication groups of its configured route targets.
// It must be called once, after the index of the instance has been assigned.
// An error is returned if a table that the instance would create already
// exists, in which case the instance is left unchanged.
func (ri *RoutingInstance) ProcessConfig() error {
	cfg := ri.config
	ri.virtualNetwork = cfg.VirtualNetwork
	ri.virtualNetworkIndex = cfg.VirtualNetworkIndex
	ri.allowTransit = cfg.VirtualNetworkAllowTransit
	ri.vxlanID = cfg.VxlanID

	for _, f := range ri.tableFamilies() {
		if n := GetTableName(ri.name, f); ri.mgr.db.FindTable(n) != nil {
			return fmt.Errorf("instance %s: table %s already exists", ri.name, n)
		}
	}

	info := ri.info("Create")
	for _, rt := range parseTargets(ri.name, cfg.ImportList) {
		ri.imports.Insert(rt)
		info.AddImport = append(info.AddImport, rt.String())
	}
	for _, rt := range parseTargets(ri.name, cfg.ExportList) {
		ri.exports.Insert(rt)
		info.AddExport = append(info.AddExport, rt.String())
	}
	if len(info.AddImport) != 0 || len(info.AddExport) != 0 {
		ri.mgr.logInfo(info)
	}

	if ri.isDefault {
		for _, f := range constants.VPNFamilies {
			if _, err := ri.createTable(f); err != nil {
				return err
			}
			ri.mgr.Replicator(f).Initialize()
		}
		for _, f := range []constants.Family{constants.RTARGET, constants.INET} {
			if _, err := ri.createTable(f); err != nil {
				return err
			}
		}
	} else {
		for _, fp := range constants.VRFFamilies {
			t, err := ri.createTable(fp.VRF)
			if err != nil {
				return err
			}
			r := ri.mgr.Replicator(fp.VPN)
			ri.imports.Ascend(func(rt rtarget.RouteTarget) bool {
				r.Join(t, rt, true)
				return true
			})
			ri.exports.Ascend(func(rt rtarget.RouteTarget) bool {
				r.Join(t, rt, false)
				return true
			})
		}
	}

	if sc := cfg.ServiceChain(); sc != nil && sc.RoutingInstance != "" {
		ri.mgr.serviceChains.LocateServiceChain(ri, sc)
	}
	return nil
}

// createTable creates the table for family f and adds it to the instance.
func (ri *RoutingInstance) createTable(f constants.Family) (*bgptable.Table, error) {
	t, err := ri.mgr.db.CreateTable(GetTableName(ri.name, f), f)
	if err != nil {
		return nil, fmt.Errorf("instance %s: cannot create table, %v", ri.name, err)
	}
	t.SetRoutingInstance(ri.name, ri.deleter, ri.removeTable)
	ri.tables[t.Name()] = t

	info := ri.info("Add")
	info.Family = f.String()
	ri.mgr.logInfo(info)
	return t, nil
}

// removeTable removes a destroyed table from the instance.
func (ri *RoutingInstance) removeTable(t *bgptable.Table) {
	info := ri.info("Remove")
	info.Family = t.Family().String()
	delete(ri.tables, t.Name())
	ri.mgr.logInfo(info)
}

// UpdateConfig reconciles the instance with the new configuration cfg. If
// the virtual network attributes of the instance change, every route in
// every table of the instance is re-notified. The import and export route
// targets are each synchronised with cfg, leaving and joining only those
// replication groups that differ.
func (ri *RoutingInstance) UpdateConfig(cfg *config.InstanceConfig) {
	ri.config = cfg

	notifyRoutes := ri.allowTransit != cfg.VirtualNetworkAllowTransit ||
		ri.virtualNetwork != cfg.VirtualNetwork ||
		ri.virtualNetworkIndex != cfg.VirtualNetworkIndex
	if notifyRoutes {
		for _, t := range ri.Tables() {
			t.NotifyAllEntries()
		}
	}

	ri.virtualNetwork = cfg.VirtualNetwork
	ri.virtualNetworkIndex = cfg.VirtualNetworkIndex
	ri.allowTransit = cfg.VirtualNetworkAllowTransit
	ri.vxlanID = cfg.VxlanID

	// The master instance implicitly imports and exports all route targets.
	if ri.isDefault {
		return
	}

	info := ri.info("Update")
	info.AddImport, info.RemoveImport = ri.synchronize(ri.imports, parseTargets(ri.name, cfg.ImportList), true)
	info.AddExport, info.RemoveExport = ri.synchronize(ri.exports, parseTargets(ri.name, cfg.ExportList), false)
	if len(info.AddImport)+len(info.RemoveImport)+len(info.AddExport)+len(info.RemoveExport) != 0 {
		ri.mgr.logInfo(info)
	}

	if sc := cfg.ServiceChain(); sc != nil {
		ri.mgr.serviceChains.LocateServiceChain(ri, sc)
	} else {
		ri.mgr.serviceChains.StopServiceChain(ri)
	}
}

// synchronize moves the route target set s to the sorted targets in future,
// and returns the targets that were added and removed.
func (ri *RoutingInstance) synchronize(s *rtarget.Set, future []rtarget.RouteTarget, isImport bool) (added, removed []string) {
	setutil.Synchronize(s.Items(), future, rtarget.Compare,
		func(rt rtarget.RouteTarget) {
			s.Insert(rt)
			ri.joinAll(rt, isImport)
			added = append(added, rt.String())
		},
		func(rt rtarget.RouteTarget) {
			ri.leaveAll(rt, isImport)
			s.Delete(rt)
			removed = append(removed, rt.String())
		})
	return added, removed
}

// joinAll joins the replication group for rt in every family of the
// instance.
func (ri *RoutingInstance) joinAll(rt rtarget.RouteTarget, isImport bool) {
	for _, fp := range constants.VRFFamilies {
		t := ri.GetTable(fp.VRF)
		if t == nil {
			log.Errorf("instance %s: missing %s table when joining %s", ri.name, fp.VRF, rt)
			continue
		}
		ri.mgr.Replicator(fp.VPN).Join(t, rt, isImport)
	}
}

// leaveAll leaves the replication group for rt in every family of the
// instance.
func (ri *RoutingInstance) leaveAll(rt rtarget.RouteTarget, isImport bool) {
	for _, fp := range constants.VRFFamilies {
		if t := ri.GetTable(fp.VRF); t != nil {
			ri.mgr.Replicator(fp.VPN).Leave(t, rt, isImport)
		}
	}
}

// ClearRouteTarget leaves every replication group that the instance is a
// member of, and empties its import and export sets. It has no effect on the
// master instance.
func (ri *RoutingInstance) ClearRouteTarget() {
	if ri.isDefault {
		return
	}
	ri.imports.Ascend(func(rt rtarget.RouteTarget) bool {
		ri.leaveAll(rt, true)
		return true
	})
	ri.exports.Ascend(func(rt rtarget.RouteTarget) bool {
		ri.leaveAll(rt, false)
		return true
	})
	ri.imports.Clear()
	ri.exports.Clear()
}

// clearConfig drops the configuration of the instance.
func (ri *RoutingInstance) clearConfig() {
	ri.config = nil
}

// ManagedDelete requests deletion of the instance. It implements
// lifetime.Dependent.
func (ri *RoutingInstance) ManagedDelete() {
	if ri.isDefault {
		ri.mgr.logInfo(ri.info("Delete"))
	}
	ri.deleter.Delete()
}

// Deleted reports whether deletion of the instance has been requested.
func (ri *RoutingInstance) Deleted() bool {
	return ri.deleter.IsDeleted()
}

// Deleter returns the deleter of the instance.
func (ri *RoutingInstance) Deleter() *lifetime.Deleter { return ri.deleter }

// Name returns the name of the instance.
func (ri *RoutingInstance) Name() string { return ri.name }

// Index returns the index of the instance.
func (ri *RoutingInstance) Index() int { return ri.index }

// IsDefault reports whether the instance is the master instance.
func (ri *RoutingInstance) IsDefault() bool { return ri.isDefault }

// Config returns the configuration of the instance, or nil if it has been
// released.
func (ri *RoutingInstance) Config() *config.InstanceConfig { return ri.config }

// VirtualNetwork returns the name of the virtual network of the instance.
func (ri *RoutingInstance) VirtualNetwork() string {
	if ri.virtualNetwork == "" {
		return unresolvedVN
	}
	return ri.virtualNetwork
}

// GetVirtualNetworkName returns the configured virtual network name, or the
// name of the instance up to its last ':' if none is configured.
func (ri *RoutingInstance) GetVirtualNetworkName() string {
	if ri.virtualNetwork != "" {
		return ri.virtualNetwork
	}
	if i := strings.LastIndex(ri.name, ":"); i >= 0 {
		return ri.name[:i]
	}
	return ri.name
}

// VirtualNetworkIndex returns the VN index of the instance, 0 if unset.
func (ri *RoutingInstance) VirtualNetworkIndex() int { return ri.virtualNetworkIndex }

// VirtualNetworkAllowTransit reports whether transit is allowed through the
// virtual network.
func (ri *RoutingInstance) VirtualNetworkAllowTransit() bool { return ri.allowTransit }

// VxlanID returns the VXLAN identifier of the instance.
func (ri *RoutingInstance) VxlanID() int { return ri.vxlanID }

// ImportList returns the route targets imported by the instance, sorted.
func (ri *RoutingInstance) ImportList() []rtarget.RouteTarget { return ri.imports.Items() }

// ExportList returns the route targets exported by the instance, sorted.
func (ri *RoutingInstance) ExportList() []rtarget.RouteTarget { return ri.exports.Items() }

// HasExportTarget reports whether any route target in comms is exported by
// the instance.
func (ri *RoutingInstance) HasExportTarget(comms []bgp.ExtendedCommunityInterface) bool {
	for _, c := range comms {
		rt, err := rtarget.FromExtendedCommunity(c)
		if err != nil {
			continue
		}
		if ri.exports.Has(rt) {
			return true
		}
	}
	return false
}

// RouteDistinguisher returns the route distinguisher of the instance, nil
// for the master instance.
func (ri *RoutingInstance) RouteDistinguisher() bgp.RouteDistinguisherInterface { return ri.rd }

// GetTable returns the table of the instance for family f, or nil.
func (ri *RoutingInstance) GetTable(f constants.Family) *bgptable.Table {
	return ri.tables[GetTableName(ri.name, f)]
}

// Tables returns the tables of the instance sorted by name.
func (ri *RoutingInstance) Tables() []*bgptable.Table {
	ts := make([]*bgptable.Table, 0, len(ri.tables))
	for _, t := range ri.tables {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name() < ts[j].Name() })
	return ts
}

// Peers returns the peer manager of the instance.
func (ri *RoutingInstance) Peers() *peer.Manager { return ri.peers }

// instanceActor implements lifetime.Actor for a RoutingInstance.
type instanceActor struct {
	ri *RoutingInstance
}

// MayDelete implements lifetime.Actor. The tables of the instance hold
// references on it, so no further condition is needed.
func (a *instanceActor) MayDelete() bool { return true }

// Shutdown implements lifetime.Actor.
func (a *instanceActor) Shutdown() {
	ri, m := a.ri, a.ri.mgr
	m.deletedCount.Inc()
	m.NotifyInstanceOp(ri.name, constants.DELETE)

	m.logInfo(ri.info("Shutdown"))
	// Entries remain when the instance is deleted along with the manager.
	m.instanceTargetRemove(ri)
	m.instanceVnIndexRemove(ri)
	ri.ClearRouteTarget()
	m.serviceChains.StopServiceChain(ri)
	ri.clearConfig()
}

// Destroy implements lifetime.Actor.
func (a *instanceActor) Destroy() {
	ri, m := a.ri, a.ri.mgr
	m.deletedCount.Dec()
	ri.peers.Close()
	ri.managerRef.Reset()
	m.destroyRoutingInstance(ri)
}
