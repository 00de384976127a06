/*
# Copyright 2022-present Ralf Kundel
#
# Licensed under the Apache License, Version 2.0 (the "License");
# you may not use this file except in compliance with the License.
# You may obtain a copy of the License at
#
#    http://www.apache.org/licenses/LICENSE-2.0
#
# Unless required by applicable law or agreed to in writing, software
# distributed under the License is distributed on an "AS IS" BASIS,
# WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
# See the License for the specific language governing permissions and
# limitations under the License.
*/
package main

import (
	"log/syslog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"p4l2-controller/src/dataplane"
	p4rt "p4l2-controller/src/dataplane/p4rt/driver"
	"p4l2-controller/src/lib"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

type MainState struct {
	Switch dataplane.DataPlaneInterface
	done   chan struct{}
}

// bootstrap installs the static entries: the broadcast group, the routes
// and the addresses answered by the controller.
func bootstrap(cfg *lib.Config, ms *MainState) error {
	log.Infoln("Setup static switch entries")
	bs := cfg.ControllerConfiguration.Bootstrap

	if ports := cfg.ControllerConfiguration.FloodPorts(); len(ports) > 0 {
		if err := ms.Switch.AddMulticastGroup(bs.BroadcastMgid, ports); err != nil {
			return err
		}
		if err := ms.Switch.SetupBroadcast(bs.BroadcastMgid); err != nil {
			return err
		}
	}
	for _, route := range bs.Routes {
		dst, prefix_len, err := lib.ParseCidr(route.Cidr)
		if err != nil {
			return err
		}
		next_hop := net.ParseIP(route.NextHop)
		if next_hop == nil {
			return errors.Errorf("invalid next hop %q for %s", route.NextHop, route.Cidr)
		}
		if err := ms.Switch.SetupRoute(dst, prefix_len, next_hop); err != nil {
			return err
		}
	}
	for _, local_ip := range bs.LocalIps {
		ip := net.ParseIP(local_ip)
		if ip == nil {
			return errors.Errorf("invalid local ip %q", local_ip)
		}
		if err := ms.Switch.SetupLocalIp(ip); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	ms := MainState{done: make(chan struct{})}
	argsWithoutProg := os.Args[1:]
	var config_path string
	if len(argsWithoutProg) > 0 {
		config_path = argsWithoutProg[0]
	} else {
		config_path = "config/p4l2-controller.yaml"
	}
	cfg, err := lib.ParseControllerConfig(config_path)
	if err != nil {
		log.Fatalln(err)
	}
	ctrl := cfg.ControllerConfiguration

	level := log.InfoLevel

	switch ctrl.LogLevel {
	case "TraceLevel":
		level = log.TraceLevel
	case "DebugLevel":
		level = log.DebugLevel
	case "InfoLevel":
		level = log.InfoLevel
	case "WarnLevel":
		level = log.WarnLevel
	case "ErrorLevel":
		level = log.ErrorLevel
	case "FatalLevel":
		level = log.FatalLevel
	}

	log.SetLevel(level) //TraceLevel, DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if ctrl.Syslog {
		hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_INFO, ctrl.ControllerName)
		if err != nil {
			log.Warnf("syslog not available: %v", err)
		} else {
			log.AddHook(hook)
		}
	}
	log.Infof("Starting %s", ctrl.ControllerName)

	target, err := ctrl.P4Runtime.Target()
	if err != nil {
		log.Fatalln(err)
	}

	ms.Switch = p4rt.NewP4rtWrapper()
	SetupCloseHandler(&ms)
	if err := ms.Switch.Connect(target, ctrl.P4Runtime.DeviceId, ctrl.P4Runtime.ElectionId, ctrl.P4Runtime.P4InfoFile); err != nil {
		log.Fatalln(err)
	}
	if err := bootstrap(cfg, &ms); err != nil {
		ms.Switch.Close()
		log.Fatalln(err)
	}

	cpu := ctrl.CpuPort
	cpu_mac, err := lib.GetMacAddr(cpu.Interface)
	if err != nil {
		ms.Switch.Close()
		log.Fatalln(err)
	}
	log.Infof("cpu port: switch port %d on %s (%s)", cpu.SwitchPort, cpu.Interface, cpu_mac)
	if err := ms.Switch.SetupSlowpath(cpu.Interface, cpu.StartWait, cpu.PollInterval, cpu.SnapLen); err != nil {
		ms.Switch.Close()
		log.Fatalln(err)
	}

	select {
	case <-ms.done:
	case err := <-ms.Switch.Failed():
		ms.Switch.Close()
		log.Fatalln(err)
	}
}

func SetupCloseHandler(ms *MainState) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Infoln("\r- Ctrl+C pressed in Terminal")

		if ms.Switch != nil {
			ms.Switch.PrintTableEntries()
			ms.Switch.Close()
		}
		close(ms.done)
	}()
}
