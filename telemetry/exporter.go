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

package telemetry

import (
	"context"
	"time"

	log "github.com/golang/glog"
	"github.com/openconfig/gnmi/value"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/routinginstance"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

// unixTS is used to determine the current unix timestamp in nanoseconds since the
// epoch. It is defined such that it can be overloaded by unit tests.
var unixTS = time.Now().UnixNano

// queueLen is the number of notifications that can be queued for the
// collector before the exporter blocks.
const queueLen = 1024

// Publisher is implemented by targets of exported notifications, such as
// the Collector.
type Publisher interface {
	Publish(*gpb.Notification)
	Sync()
}

// InstanceSource looks up routing instances by name.
type InstanceSource interface {
	GetRoutingInstance(name string) *routinginstance.RoutingInstance
}

// Exporter converts routing instance operations into gNMI notifications
// under /network-instances/network-instance[name=N]/state.
type Exporter struct {
	target string
	src    InstanceSource
	out    Publisher
	ch     chan *gpb.SubscribeResponse
}

// NewExporter returns an exporter that writes notifications for target to
// out, reading instance state from src.
func NewExporter(target string, src InstanceSource, out Publisher) *Exporter {
	return &Exporter{
		target: target,
		src:    src,
		out:    out,
		ch:     make(chan *gpb.SubscribeResponse, queueLen),
	}
}

// Run forwards queued notifications to the output in the order they were
// generated, until ctx is done.
func (e *Exporter) Run(ctx context.Context) {
	for {
		select {
		case r := <-e.ch:
			e.forward(r)
		case <-ctx.Done():
			return
		}
	}
}

// forward hands a queued response to the publisher.
func (e *Exporter) forward(r *gpb.SubscribeResponse) {
	switch v := r.Response.(type) {
	case *gpb.SubscribeResponse_Update:
		e.out.Publish(v.Update)
	case *gpb.SubscribeResponse_SyncResponse:
		e.out.Sync()
	default:
		log.Errorf("telemetry: cannot forward response %T", v)
	}
}

// InstanceOp is a routing instance callback that queues a notification for
// the operation op on the instance named name. The state of the instance is
// read synchronously, so InstanceOp must be called from the context that
// mutates instances.
func (e *Exporter) InstanceOp(name string, op constants.OpType) {
	var n *gpb.Notification
	switch op {
	case constants.ADD, constants.UPDATE:
		ri := e.src.GetRoutingInstance(name)
		if ri == nil {
			log.Errorf("telemetry: %s notified for unknown instance %s", op, name)
			return
		}
		var err error
		if n, err = e.stateNotification(ri); err != nil {
			log.Errorf("telemetry: cannot build notification for %s, %v", name, err)
			return
		}
	case constants.DELETE:
		n = &gpb.Notification{
			Timestamp: unixTS(),
			Prefix:    e.instancePath(name, false),
			Delete:    []*gpb.Path{{}},
		}
	default:
		log.Errorf("telemetry: unknown operation %v for instance %s", op, name)
		return
	}
	e.ch <- &gpb.SubscribeResponse{
		Response: &gpb.SubscribeResponse_Update{Update: n},
	}
}

// Sync queues a sync response, indicating that the initial state has been
// exported.
func (e *Exporter) Sync() {
	e.ch <- &gpb.SubscribeResponse{
		Response: &gpb.SubscribeResponse_SyncResponse{SyncResponse: true},
	}
}

// instancePath returns the path to the instance named name, with the state
// container appended if state is true.
func (e *Exporter) instancePath(name string, state bool) *gpb.Path {
	p := &gpb.Path{
		Target: e.target,
		Elem: []*gpb.PathElem{{
			Name: "network-instances",
		}, {
			Name: "network-instance",
			Key:  map[string]string{"name": name},
		}},
	}
	if state {
		p.Elem = append(p.Elem, &gpb.PathElem{Name: "state"})
	}
	return p
}

func leaf(name string) *gpb.Path {
	return &gpb.Path{Elem: []*gpb.PathElem{{Name: name}}}
}

func leafList(vals []string) *gpb.TypedValue {
	sa := &gpb.ScalarArray{}
	for _, v := range vals {
		sa.Element = append(sa.Element, &gpb.TypedValue{Value: &gpb.TypedValue_StringVal{StringVal: v}})
	}
	return &gpb.TypedValue{Value: &gpb.TypedValue_LeaflistVal{LeaflistVal: sa}}
}

// stateNotification returns a notification containing the state of ri.
func (e *Exporter) stateNotification(ri *routinginstance.RoutingInstance) (*gpb.Notification, error) {
	scalars := []struct {
		name string
		val  any
	}{
		{"name", ri.Name()},
		{"index", uint64(ri.Index())},
		{"vn-index", int64(ri.VirtualNetworkIndex())},
		{"virtual-network", ri.VirtualNetwork()},
	}
	if rd := ri.RouteDistinguisher(); rd != nil {
		scalars = append(scalars, struct {
			name string
			val  any
		}{"route-distinguisher", rd.String()})
	}

	n := &gpb.Notification{
		Timestamp: unixTS(),
		Prefix:    e.instancePath(ri.Name(), true),
	}
	for _, s := range scalars {
		v, err := value.FromScalar(s.val)
		if err != nil {
			return nil, err
		}
		n.Update = append(n.Update, &gpb.Update{Path: leaf(s.name), Val: v})
	}

	var imports, exports []string
	for _, rt := range ri.ImportList() {
		imports = append(imports, rt.String())
	}
	for _, rt := range ri.ExportList() {
		exports = append(exports, rt.String())
	}
	n.Update = append(n.Update,
		&gpb.Update{Path: leaf("import-targets"), Val: leafList(imports)},
		&gpb.Update{Path: leaf("export-targets"), Val: leafList(exports)},
	)
	return n, nil
}
