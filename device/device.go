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

// Package device wires the routing instance manager together with its
// supporting services: a gNMI collector exporting instance state, and a
// Prometheus endpoint exporting manager metrics. All mutation of routing
// instances is performed by a single goroutine owned by the Device.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"

	log "github.com/golang/glog"
	"github.com/openconfig/vrfmgr/bgptable"
	"github.com/openconfig/vrfmgr/config"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/lifetime"
	"github.com/openconfig/vrfmgr/metrics"
	"github.com/openconfig/vrfmgr/replication"
	"github.com/openconfig/vrfmgr/routinginstance"
	"github.com/openconfig/vrfmgr/rtarget"
	"github.com/openconfig/vrfmgr/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// errStopped is returned by operations on a device whose config task has
// exited.
var errStopped = errors.New("device is stopped")

// Device is a wrapper struct that contains a routing instance manager, and
// the gNMI and metrics servers that expose its state.
type Device struct {
	// gnmiAddr is the address that the server is listening on
	// for gNMI.
	gnmiAddr string
	// gnmiSrv is the gNMI collector implementation.
	gnmiSrv *telemetry.Collector

	// metricsAddr is the address that the Prometheus handler is
	// listening on.
	metricsAddr string
	metricsSrv  *http.Server

	lm      *lifetime.Manager
	db      *bgptable.DB
	store   *config.Store
	mgr     *routinginstance.Manager
	metrics *metrics.Metrics

	// exporter converts instance operations into gNMI notifications.
	exporter *telemetry.Exporter
	// exporterID is the callback ID of the exporter.
	exporterID int

	// opCh carries operations to the config task.
	opCh chan func()
	// done is closed when the config task exits.
	done chan struct{}
}

const (
	// defaultTarget is the name that the device has in gNMI when no
	// hostname is specified.
	defaultTarget string = "vrfmgr"
)

// DevOpt is an interface that is implemented by options that can be handed to New()
// for the device.
type DevOpt interface {
	isDevOpt()
}

// gNMIAddress is the internal implementation that specifies the port that gNMI should
// listen on.
type gNMIAddr struct {
	host string
	port int
}

// isDevOpt implements the DevOpt interface.
func (*gNMIAddr) isDevOpt() {}

// GNMIAddr specifies the host and port that the gNMI server should listen on.
func GNMIAddr(host string, i int) *gNMIAddr {
	return &gNMIAddr{host: host, port: i}
}

// metricsAddr specifies the address of the Prometheus metrics handler.
type metricsAddr struct {
	host string
	port int
}

// isDevOpt implements the DevOpt interface.
func (*metricsAddr) isDevOpt() {}

// MetricsAddr specifies the host and port that the Prometheus metrics handler
// should listen on.
func MetricsAddr(host string, i int) *metricsAddr {
	return &metricsAddr{host: host, port: i}
}

type routerID struct {
	addr netip.Addr
}

// isDevOpt implements the DevOpt interface.
func (*routerID) isDevOpt() {}

// RouterID sets the router ID used to build route distinguishers.
func RouterID(addr netip.Addr) *routerID {
	return &routerID{addr: addr}
}

type hostname struct {
	name string
}

// isDevOpt implements the DevOpt interface.
func (*hostname) isDevOpt() {}

// Hostname sets the hostname of the device, which is also its gNMI target
// name.
func Hostname(name string) *hostname {
	return &hostname{name: name}
}

// deviceConfig is a wrapper for the startup routing instance configuration
// of the device.
type deviceConfig struct {
	instances []*config.InstanceConfig
}

// isDevOpt marks deviceConfig as a device option.
func (*deviceConfig) isDevOpt() {}

// DeviceConfig sets the startup config of the device to c. The configuration
// can subsequently be changed with Apply.
func DeviceConfig(c []*config.InstanceConfig) *deviceConfig {
	return &deviceConfig{instances: c}
}

// TLSCreds contains TLS credentials that can be used for a device.
type TLSCreds struct {
	C credentials.TransportCredentials
}

// isDevOpt implements the DevOpt interface.
func (*TLSCreds) isDevOpt() {}

// TLSCredsFromFile loads the credentials from the specified cert and key file
// and returns them such that they can be used for the gNMI server.
func TLSCredsFromFile(certFile, keyFile string) (*TLSCreds, error) {
	t, err := credentials.NewServerTLSFromFile(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &TLSCreds{C: t}, nil
}

// New returns a new device with the specific context. It returns the device, a function
// to stop the servers, or any errors that are encountered. Calling the stop function
// deletes all routing instances before the config task exits.
func New(ctx context.Context, opts ...DevOpt) (*Device, func(), error) {
	var cancel func()
	ctx, cancel = context.WithCancel(ctx)

	host := optHostname(opts)
	d := &Device{
		lm:    lifetime.NewManager(),
		store: config.NewStore(),
		opCh:  make(chan func()),
		done:  make(chan struct{}),
	}
	d.db = bgptable.NewDB(d.lm)

	// The replication hooks only fire from the config task, which is not
	// started until the metrics have been created.
	replHook := func(f constants.Family, op string) {
		d.metrics.ReplicationOp(f, op)
	}
	mgrOpts := []routinginstance.Opt{
		routinginstance.WithHostname(host),
		routinginstance.WithRouterID(optRouterID(opts)),
	}
	for _, f := range constants.VPNFamilies {
		mgrOpts = append(mgrOpts, routinginstance.WithReplicator(f, replication.New(f, replication.WithOpHook(replHook))))
	}
	d.mgr = routinginstance.New(d.lm, d.db, d.store, mgrOpts...)

	reg := prometheus.NewRegistry()
	d.metrics = metrics.New(d.mgr, metrics.WithRegistry(reg))
	d.mgr.RegisterCallback(d.metrics.InstanceOp)

	var gopts []grpc.ServerOption
	if c := optTLSCreds(opts); c != nil {
		gopts = append(gopts, grpc.Creds(c.C))
	}

	gn := optGNMIAddr(opts)
	ma := optMetricsAddr(opts)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.startgNMI(ctx, gn.host, gn.port, host, gopts...); err != nil {
			return fmt.Errorf("cannot start gNMI server, %v", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.startMetrics(gctx, ma.host, ma.port, reg); err != nil {
			return fmt.Errorf("cannot start metrics server, %v", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		d.stopServers()
		cancel()
		return nil, nil, err
	}

	d.exporter = telemetry.NewExporter(host, d.mgr, d.gnmiSrv)
	d.exporterID = d.mgr.RegisterCallback(d.exporter.InstanceOp)
	go d.exporter.Run(ctx)
	go d.run(ctx)

	stop := func() {
		cancel()
		<-d.done
		d.stopServers()
	}

	if err := d.Apply(ctx, optDeviceCfg(opts)); err != nil {
		stop()
		return nil, nil, fmt.Errorf("cannot apply startup configuration, %v", err)
	}
	if err := d.do(ctx, func() error {
		d.exporter.Sync()
		return nil
	}); err != nil {
		stop()
		return nil, nil, err
	}
	return d, stop, nil
}

// optGNMIAddr finds the first occurrence of the GNMIAddr option in opts.
// If no GNMIAddr option is found, the default of localhost:0 is returned.
func optGNMIAddr(opts []DevOpt) *gNMIAddr {
	for _, o := range opts {
		if v, ok := o.(*gNMIAddr); ok {
			return v
		}
	}
	return &gNMIAddr{host: "localhost", port: 0}
}

// optMetricsAddr finds the first occurrence of the MetricsAddr option in
// opts. If no MetricsAddr option is found, the default of localhost:0 is
// returned.
func optMetricsAddr(opts []DevOpt) *metricsAddr {
	for _, o := range opts {
		if v, ok := o.(*metricsAddr); ok {
			return v
		}
	}
	return &metricsAddr{host: "localhost", port: 0}
}

// optRouterID returns the router ID in opts, or the unspecified IPv4 address.
func optRouterID(opts []DevOpt) netip.Addr {
	for _, o := range opts {
		if v, ok := o.(*routerID); ok {
			return v.addr
		}
	}
	return netip.IPv4Unspecified()
}

func optHostname(opts []DevOpt) string {
	for _, o := range opts {
		if v, ok := o.(*hostname); ok && v.name != "" {
			return v.name
		}
	}
	return defaultTarget
}

// optDeviceCfg finds the first occurrence of the DeviceConfig option in opts.
func optDeviceCfg(opts []DevOpt) []*config.InstanceConfig {
	for _, o := range opts {
		if v, ok := o.(*deviceConfig); ok {
			return v.instances
		}
	}
	return nil
}

func optTLSCreds(opts []DevOpt) *TLSCreds {
	for _, o := range opts {
		if v, ok := o.(*TLSCreds); ok {
			return v
		}
	}
	return nil
}

// startgNMI starts the gNMI server on the specified host:port.
func (d *Device) startgNMI(ctx context.Context, host string, port int, target string, opts ...grpc.ServerOption) error {
	c, addr, err := telemetry.NewCollector(ctx, fmt.Sprintf("%s:%d", host, port), target, true, opts...)
	if err != nil {
		return err
	}
	d.gnmiAddr = addr
	d.gnmiSrv = c
	return nil
}

// startMetrics starts an HTTP server on host:port that serves the contents
// of reg at /metrics.
func (d *Device) startMetrics(ctx context.Context, host string, port int, reg *prometheus.Registry) error {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("cannot listen on %s:%d, %v", host, port, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	d.metricsSrv = &http.Server{Handler: mux}
	d.metricsAddr = l.Addr().String()
	go func() {
		if err := d.metricsSrv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server exited, %v", err)
		}
	}()
	return nil
}

func (d *Device) stopServers() {
	if d.gnmiSrv != nil {
		d.gnmiSrv.Stop()
	}
	if d.metricsSrv != nil {
		if err := d.metricsSrv.Close(); err != nil {
			log.Errorf("cannot close metrics server, %v", err)
		}
	}
}

// run is the config task. It is the only goroutine that mutates routing
// instances, and runs deferred deletions whenever the lifetime manager
// signals that there is work to do. When ctx is done the manager is deleted
// and all pending deletions are run before returning.
func (d *Device) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case op := <-d.opCh:
			op()
		case <-d.lm.Notify():
			if n := d.lm.Process(); n != 0 {
				log.V(2).Infof("destroyed %d entities", n)
			}
		case <-ctx.Done():
			// The exporter has stopped reading, so it must not be notified
			// of the deletions below.
			d.mgr.UnregisterCallback(d.exporterID)
			d.mgr.ManagedDelete()
			d.lm.Process()
			log.Infof("config task exiting, %d instances remain", d.mgr.Count())
			return
		}
	}
}

// do runs fn on the config task and returns its result.
func (d *Device) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case d.opCh <- func() { errCh <- fn() }:
	case <-d.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply replaces the routing instance configuration of the device with
// cfgs. Instances that are no longer configured are deleted, changed
// instances are updated and new instances are created. The master instance
// is always configured, whether or not it appears in cfgs.
func (d *Device) Apply(ctx context.Context, cfgs []*config.InstanceConfig) error {
	next := cfgs
	hasMaster := false
	for i, c := range cfgs {
		if c == nil {
			return fmt.Errorf("instance %d: empty configuration", i)
		}
		if c.IsMaster() {
			hasMaster = true
		}
	}
	if !hasMaster {
		next = append([]*config.InstanceConfig{{Name: constants.MasterInstance}}, cfgs...)
	}

	return d.do(ctx, func() error {
		ch, err := d.store.Diff(next)
		if err != nil {
			return err
		}
		// The master must exist before any other instance's tables, so it
		// is created first.
		for _, c := range ch.Create {
			if c.IsMaster() {
				if err := d.create(c); err != nil {
					return err
				}
			}
		}
		for _, n := range ch.Delete {
			d.store.Remove(n)
			d.mgr.DeleteRoutingInstance(n)
		}
		for _, c := range ch.Update {
			if err := d.store.Put(c); err != nil {
				return err
			}
			d.mgr.UpdateRoutingInstance(c)
		}
		for _, c := range ch.Create {
			if c.IsMaster() {
				continue
			}
			if err := d.create(c); err != nil {
				return err
			}
		}
		return nil
	})
}

// create stores c and creates its instance. An instance that is still being
// deleted is recreated from the store once its deletion completes.
func (d *Device) create(c *config.InstanceConfig) error {
	if err := d.store.Put(c); err != nil {
		return err
	}
	if ri := d.mgr.CreateRoutingInstance(c); ri == nil && d.mgr.GetRoutingInstance(c.Name) == nil {
		d.store.Remove(c.Name)
		return fmt.Errorf("routing instance %s was refused", c.Name)
	}
	return nil
}

// Instances returns the names of the routing instances of the device,
// including those that are being deleted.
func (d *Device) Instances(ctx context.Context) ([]string, error) {
	var names []string
	err := d.do(ctx, func() error {
		names = d.mgr.Names("")
		return nil
	})
	return names, err
}

// VnIndexByRouteTarget returns the virtual network index associated with
// the route target rt, using the same rules as the manager.
func (d *Device) VnIndexByRouteTarget(ctx context.Context, rt rtarget.RouteTarget) (int, error) {
	var vn int
	err := d.do(ctx, func() error {
		vn = d.mgr.GetVnIndexByRouteTarget(rt)
		return nil
	})
	return vn, err
}

// PauseDeletion stops deferred deletions from running until ResumeDeletion
// is called.
func (d *Device) PauseDeletion() {
	d.lm.Pause()
}

// ResumeDeletion resumes deferred deletions.
func (d *Device) ResumeDeletion() {
	d.lm.Resume()
}

// GNMIAddr returns the address that the gNMI server is listening on.
func (d *Device) GNMIAddr() string {
	return d.gnmiAddr
}

// MetricsAddr returns the address that the metrics handler is listening on.
func (d *Device) MetricsAddr() string {
	return d.metricsAddr
}
