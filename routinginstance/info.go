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
	"strings"

	log "github.com/golang/glog"
)

// Info is a record of a change to a routing instance, logged for each
// creation, update, deletion and table change.
type Info struct {
	Name               string
	Hostname           string
	RouteDistinguisher string
	Operation          string
	Family             string
	AddImport          []string
	RemoveImport       []string
	AddExport          []string
	RemoveExport       []string
}

// String returns a single line representation of the record.
func (i *Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "instance %s: %s", i.Name, i.Operation)
	if i.Hostname != "" {
		fmt.Fprintf(&b, " host=%s", i.Hostname)
	}
	if i.RouteDistinguisher != "" {
		fmt.Fprintf(&b, " rd=%s", i.RouteDistinguisher)
	}
	if i.Family != "" {
		fmt.Fprintf(&b, " family=%s", i.Family)
	}
	for _, f := range []struct {
		n string
		v []string
	}{
		{"add-import", i.AddImport},
		{"remove-import", i.RemoveImport},
		{"add-export", i.AddExport},
		{"remove-export", i.RemoveExport},
	} {
		if len(f.v) != 0 {
			fmt.Fprintf(&b, " %s=%s", f.n, strings.Join(f.v, ","))
		}
	}
	return b.String()
}

// InfoHookFn is called with each Info record.
type InfoHookFn func(*Info)

// info returns a new record for ri describing operation op.
func (ri *RoutingInstance) info(op string) *Info {
	i := &Info{
		Name:      ri.name,
		Hostname:  ri.mgr.hostname,
		Operation: op,
	}
	if ri.rd != nil {
		i.RouteDistinguisher = ri.rd.String()
	}
	return i
}

// logInfo logs i and passes it to the info hook, if any.
func (m *Manager) logInfo(i *Info) {
	log.V(2).Info(i)
	if m.infoHook != nil {
		m.infoHook(i)
	}
}

// String returns a summary of the instance for debugging.
func (ri *RoutingInstance) String() string {
	state := "live"
	if ri.Deleted() {
		state = strings.ToLower(ri.deleter.State().String())
	}
	return fmt.Sprintf("%s index=%d vn=%s(%d) import=%v export=%v tables=%d %s",
		ri.name, ri.index, ri.VirtualNetwork(), ri.virtualNetworkIndex,
		ri.imports.Strings(), ri.exports.Strings(), len(ri.tables), state)
}
