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

// Package metrics defines the prometheus metrics exported for the routing
// instance manager and the replication engines.
package metrics

import (
	"github.com/openconfig/vrfmgr/constants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source is implemented by the routing instance manager. Its methods are
// called when metrics are collected, and must be safe for concurrent use.
type Source interface {
	Count() int
	DeletedCount() int
	CallbackCount() int
}

// Option is a functional option for New.
type Option func(*option)

// WithRegistry specifies the registerer used to create the metrics.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(o *option) {
		o.registry = registry
	}
}

type option struct {
	registry prometheus.Registerer
}

func apply(opts []Option) option {
	o := option{registry: prometheus.DefaultRegisterer}
	for _, option := range opts {
		option(&o)
	}
	return o
}

// Metrics holds the counters that are updated as operations occur. Gauges
// are read from the Source when they are collected.
type Metrics struct {
	InstanceOps    *prometheus.CounterVec
	ReplicationOps *prometheus.CounterVec
}

// New creates and registers the metrics for src.
func New(src Source, opts ...Option) *Metrics {
	o := apply(opts)
	auto := promauto.With(o.registry)

	auto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "vrfmgr_routing_instances",
		Help: "Number of routing instances, including those being deleted.",
	}, func() float64 { return float64(src.Count()) })
	auto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "vrfmgr_routing_instances_deleting",
		Help: "Number of routing instances that are shut down but not yet destroyed.",
	}, func() float64 { return float64(src.DeletedCount()) })
	auto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "vrfmgr_instance_callbacks",
		Help: "Number of registered routing instance callbacks.",
	}, func() float64 { return float64(src.CallbackCount()) })

	return &Metrics{
		InstanceOps: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "vrfmgr_instance_ops_total",
			Help: "Total number of routing instance operations notified, by operation.",
		}, []string{"op"}),
		ReplicationOps: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "vrfmgr_replication_ops_total",
			Help: "Total number of replication group membership changes, by family and operation.",
		}, []string{"family", "op"}),
	}
}

// InstanceOp counts an operation on a routing instance. It has the signature
// of a routing instance callback.
func (m *Metrics) InstanceOp(_ string, op constants.OpType) {
	m.InstanceOps.WithLabelValues(op.String()).Inc()
}

// ReplicationOp counts a replication membership change. It has the signature
// of a replication engine hook.
func (m *Metrics) ReplicationOp(f constants.Family, op string) {
	m.ReplicationOps.WithLabelValues(f.String(), op).Inc()
}
