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
package lib

import (
	"io/ioutil"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	DefaultStartWait    = 300 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
	DefaultSnapLen      = 1600
)

type Config struct {
	Info                    Info                    `yaml:"info"`
	ControllerConfiguration ControllerConfiguration `yaml:"configuration"`
}
type Info struct {
	Version string `yaml:"version"`

	Description string `yaml:"description"`
}

type ControllerConfiguration struct {
	ControllerName string          `yaml:"controllerName"`
	LogLevel       string          `yaml:"logLevel"`
	Syslog         bool            `yaml:"syslog"`
	P4Runtime      P4RuntimeConfig `yaml:"p4runtime"`
	CpuPort        CpuPortConfig   `yaml:"cpu_port"`
	Bootstrap      BootstrapConfig `yaml:"bootstrap"`
}

type P4RuntimeConfig struct {
	Ipv4addr   string `yaml:"addr"`
	Port       string `yaml:"port"`
	DeviceId   uint64 `yaml:"device_id"`
	ElectionId uint64 `yaml:"election_id"`
	// optional, otherwise the P4Info is fetched from the switch
	P4InfoFile string `yaml:"p4info"`
}

func (me *P4RuntimeConfig) GetPort() (int, error) {
	i, err := strconv.Atoi(me.Port)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid p4runtime port %q", me.Port)
	}
	return i, nil
}

func (me *P4RuntimeConfig) Target() (string, error) {
	port, err := me.GetPort()
	if err != nil {
		return "", err
	}
	return me.Ipv4addr + ":" + strconv.Itoa(port), nil
}

type CpuPortConfig struct {
	Interface    string        `yaml:"interface"`
	SwitchPort   uint16        `yaml:"switch_port"`
	StartWait    time.Duration `yaml:"start_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SnapLen      int32         `yaml:"snaplen"`
}

type BootstrapConfig struct {
	BroadcastMgid uint32        `yaml:"broadcast_mgid"`
	Ports         []uint32      `yaml:"ports"`
	Routes        []RouteConfig `yaml:"routes"`
	LocalIps      []string      `yaml:"local_ips"`
}

// FloodPorts returns the broadcast group members without the cpu port.
func (me *ControllerConfiguration) FloodPorts() []uint32 {
	ports := make([]uint32, 0, len(me.Bootstrap.Ports))
	for _, port := range me.Bootstrap.Ports {
		if port != uint32(me.CpuPort.SwitchPort) {
			ports = append(ports, port)
		}
	}
	return ports
}

type RouteConfig struct {
	Cidr    string `yaml:"cidr"`
	NextHop string `yaml:"next_hop"`
}

func ParseControllerConfig(f string) (*Config, error) {
	content, err := ioutil.ReadFile(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", f)
	}
	return UnmarshalControllerConfig(content)
}

func UnmarshalControllerConfig(content []byte) (*Config, error) {
	parsedConfig := &Config{}
	if err := yaml.Unmarshal(content, parsedConfig); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	cpu := &parsedConfig.ControllerConfiguration.CpuPort
	if cpu.Interface == "" {
		return nil, errors.New("cpu_port.interface must be set")
	}
	if cpu.StartWait == 0 {
		cpu.StartWait = DefaultStartWait
	}
	if cpu.PollInterval == 0 {
		cpu.PollInterval = DefaultPollInterval
	}
	if cpu.SnapLen == 0 {
		cpu.SnapLen = DefaultSnapLen
	}
	if parsedConfig.ControllerConfiguration.P4Runtime.ElectionId == 0 {
		parsedConfig.ControllerConfiguration.P4Runtime.ElectionId = 1
	}

	return parsedConfig, nil
}
