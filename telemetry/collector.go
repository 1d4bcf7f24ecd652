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

// Package telemetry exports the state of routing instances over gNMI. It
// contains a single-target gNMI collector that supports the Subscribe RPC
// using the libraries from openconfig/gnmi, and an exporter that keeps the
// collector's cache in step with the routing instance manager.
package telemetry

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/golang/glog"
	"github.com/openconfig/gnmi/cache"
	"github.com/openconfig/gnmi/subscribe"
	"google.golang.org/grpc"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

var (
	// metadataUpdatePeriod is the period of time after which the metadata for the collector
	// is updated to the client.
	metadataUpdatePeriod = time.Duration(30 * time.Second)
	// sizeUpdatePeriod is the period of time after which the storage size information for
	// the collector is updated to the client.
	sizeUpdatePeriod = time.Duration(30 * time.Second)
)

// periodic runs the function fn every period until ctx is done.
func periodic(ctx context.Context, period time.Duration, fn func()) {
	if period == 0 {
		return
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// update is a single change queued for the cache, either a notification or
// a sync marker.
type update struct {
	n    *gpb.Notification
	sync bool
}

// Collector is a basic gNMI target that supports only the Subscribe
// RPC, and acts as a cache for exactly one target.
type Collector struct {
	cache *cache.Cache
	// name is the name of the target.
	name string
	// inCh carries updates to the goroutine that writes to the cache.
	inCh chan update
	// stopFn is the function used to stop the server.
	stopFn func()
}

// NewCollector returns a new collector that listens on the specified addr (in the
// form host:port), supporting a single target named hostname. sendMeta controls
// whether the metadata *other* than meta/sync and meta/connected is sent by the
// collector.
//
// NewCollector returns the new collector, the address it is listening on in the
// form hostname:port or any errors encounted whilst setting it up.
func NewCollector(ctx context.Context, addr string, hostname string, sendMeta bool, opts ...grpc.ServerOption) (*Collector, string, error) {
	c := &Collector{
		inCh: make(chan update),
		name: hostname,
	}

	srv := grpc.NewServer(opts...)
	c.cache = cache.New([]string{hostname})
	t := c.cache.GetTarget(hostname)

	if sendMeta {
		go periodic(ctx, metadataUpdatePeriod, c.cache.UpdateMetadata)
		go periodic(ctx, sizeUpdatePeriod, c.cache.UpdateSize)
	}
	t.Connect()

	// start our single collector from the input channel.
	go func() {
		for {
			select {
			case u := <-c.inCh:
				if err := c.apply(u); err != nil {
					log.Errorf("telemetry: cannot handle update, %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	subscribeSrv, err := subscribe.NewServer(c.cache)
	if err != nil {
		return nil, "", fmt.Errorf("could not instantiate gNMI server: %v", err)
	}
	gpb.RegisterGNMIServer(srv, subscribeSrv)
	// Forward streaming updates to clients.
	c.cache.SetClient(subscribeSrv.Update)
	// Register listening port and start serving.
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to listen: %v", err)
	}

	go srv.Serve(lis)
	c.stopFn = srv.Stop
	return c, lis.Addr().String(), nil
}

// Stop halts the running collector.
func (c *Collector) Stop() {
	c.stopFn()
}

// Name returns the name of the target served by the collector.
func (c *Collector) Name() string {
	return c.name
}

// apply writes a single queued update to the cache.
func (c *Collector) apply(u update) error {
	t := c.cache.GetTarget(c.name)
	if u.sync {
		t.Sync()
		return nil
	}
	if u.n == nil {
		return fmt.Errorf("nil notification for target %s", c.name)
	}
	return t.GnmiUpdate(u.n)
}

// Publish writes the notification n to the cache of the target, and to any
// subscribed clients.
func (c *Collector) Publish(n *gpb.Notification) {
	c.inCh <- update{n: n}
}

// Sync marks the target as synchronised, such that ONCE and POLL
// subscriptions receive a sync response after the current contents.
func (c *Collector) Sync() {
	c.inCh <- update{sync: true}
}
