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

// Binary vrfd runs a routing instance manager, configured from a YAML file,
// exporting instance state over gNMI and metrics over HTTP. Sending SIGHUP
// reloads the configuration file.
package main

import (
	"context"
	"flag"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	log "github.com/golang/glog"
	"github.com/openconfig/vrfmgr/config"
	"github.com/openconfig/vrfmgr/device"
)

var (
	configFile  = flag.String("config", "", "config is the path to the YAML routing instance configuration")
	gnmiHost    = flag.String("gnmi_host", "localhost", "gnmi_host is the host that the gNMI server listens on")
	gnmiPort    = flag.Int("gnmi_port", 0, "gnmi_port is the port that the gNMI server listens on")
	metricsHost = flag.String("metrics_host", "localhost", "metrics_host is the host that the metrics handler listens on")
	metricsPort = flag.Int("metrics_port", 0, "metrics_port is the port that the metrics handler listens on")
	routerID    = flag.String("router_id", "0.0.0.0", "router_id is the IPv4 router ID used in route distinguishers")
	hostname    = flag.String("hostname", "", "hostname is the name of the device, and its gNMI target name")
	certFile    = flag.String("cert", "", "cert is the path to the server TLS certificate file")
	keyFile     = flag.String("key", "", "key is the path to the server TLS key file")
)

func main() {
	flag.Parse()

	if *configFile == "" {
		log.Exitf("must specify a configuration file")
	}
	rid, err := netip.ParseAddr(*routerID)
	if err != nil || !rid.Is4() {
		log.Exitf("invalid router ID %s, must be an IPv4 address", *routerID)
	}
	cfgs, err := config.LoadFile(*configFile)
	if err != nil {
		log.Exitf("cannot load configuration, %v", err)
	}

	opts := []device.DevOpt{
		device.GNMIAddr(*gnmiHost, *gnmiPort),
		device.MetricsAddr(*metricsHost, *metricsPort),
		device.RouterID(rid),
		device.Hostname(*hostname),
		device.DeviceConfig(cfgs),
	}
	switch {
	case *certFile != "" && *keyFile != "":
		creds, err := device.TLSCredsFromFile(*certFile, *keyFile)
		if err != nil {
			log.Exitf("cannot initialise TLS, got: %v", err)
		}
		opts = append(opts, creds)
	case *certFile != "" || *keyFile != "":
		log.Exitf("must specify both a TLS certificate and key file")
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	d, cancel, err := device.New(ctx, opts...)
	if err != nil {
		log.Exitf("cannot start device, %v", err)
	}
	defer cancel()
	log.Infof("listening on:\n\tgNMI: %s\n\tmetrics: %s", d.GNMIAddr(), d.MetricsAddr())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for {
		select {
		case <-hup:
			cfgs, err := config.LoadFile(*configFile)
			if err != nil {
				log.Errorf("cannot reload configuration, %v", err)
				continue
			}
			if err := d.Apply(ctx, cfgs); err != nil {
				log.Errorf("cannot apply configuration, %v", err)
				continue
			}
			log.Infof("applied configuration from %s", *configFile)
		case <-ctx.Done():
			log.Infof("shutting down")
			return
		}
	}
}
