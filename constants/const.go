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

// package constants defines constants that are shared amongst multiple vrfmgr packages.
package constants

// MasterInstance is the name of the default routing instance. The master
// instance owns the VPN tables of the server and implicitly imports and
// exports all route targets.
const MasterInstance = "default-domain:default-project:ip-fabric:__default__"

// OpType indicates the type of operation that was performed on a routing
// instance, in contexts such as callbacks to user-provided functions.
type OpType int64

const (
	_ OpType = iota
	// ADD indicates that a routing instance was created.
	ADD
	// UPDATE indicates that the configuration of a routing instance was updated.
	UPDATE
	// DELETE indicates that a routing instance is being deleted.
	DELETE
)

var opNames = map[OpType]string{
	ADD:    "ADD",
	UPDATE: "UPDATE",
	DELETE: "DELETE",
}

// String returns a human-readable name for the operation.
func (o OpType) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// Family is an enumerated type describing the address families for which a
// routing instance can own a table.
type Family int64

const (
	_ Family = iota
	// INET is the IPv4 unicast family.
	INET
	// INET6 is the IPv6 unicast family.
	INET6
	// INETVPN is the IPv4 L3VPN family.
	INETVPN
	// INET6VPN is the IPv6 L3VPN family.
	INET6VPN
	// ERMVPN is the edge-replicated multicast VPN family.
	ERMVPN
	// EVPN is the Ethernet VPN family.
	EVPN
	// RTARGET is the route target membership family.
	RTARGET
)

// familyTables maps a Family to the string used when naming its tables.
var familyTables = map[Family]string{
	INET:     "inet",
	INET6:    "inet6",
	INETVPN:  "l3vpn",
	INET6VPN: "l3vpn-inet6",
	ERMVPN:   "ermvpn",
	EVPN:     "evpn",
	RTARGET:  "rtarget",
}

// TableString returns the name fragment used for tables of family f.
func (f Family) TableString() string {
	if s, ok := familyTables[f]; ok {
		return s
	}
	return "unknown"
}

// String implements fmt.Stringer.
func (f Family) String() string {
	return f.TableString()
}

// FamilyPair associates the family of a table within a routing instance with
// the VPN family whose replication engine redistributes routes into and out
// of it.
type FamilyPair struct {
	VRF Family
	VPN Family
}

// VRFFamilies lists the tables created for every non-default routing
// instance, in the order they are created.
var VRFFamilies = []FamilyPair{
	{VRF: INET, VPN: INETVPN},
	{VRF: INET6, VPN: INET6VPN},
	{VRF: ERMVPN, VPN: ERMVPN},
	{VRF: EVPN, VPN: EVPN},
}

// VPNFamilies lists the families that have a replication engine.
var VPNFamilies = []Family{INETVPN, INET6VPN, ERMVPN, EVPN}
