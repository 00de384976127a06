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

package p4rt

import (
	"net"
	"time"

	"p4l2-controller/src/dataplane"
	"p4l2-controller/src/dataplane/pktio"
	"p4l2-controller/src/dataplane/slowpath"

	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

const (
	BroadcastMac        = "ff:ff:ff:ff:ff:ff"
	SetMgidAction       = "MyIngress.set_mgid"
	SetMgidParam        = "mgid"
	Ipv4RoutingTable    = "MyIngress.ipv4_routing"
	Ipv4DstKey          = "hdr.ipv4.dstAddr"
	FindNextHopIpAction = "MyIngress.find_next_hop_ip"
	FindNextHopIpParam  = "dstAddr"
	LocalIpTable        = "MyIngress.local_ip_table"
	SendToCpuAction     = "MyIngress.send_to_cpu"
)

// PrintedTables are dumped by PrintTableEntries.
var PrintedTables = []string{
	slowpath.CamTable,
	slowpath.FwdL2Table,
	Ipv4RoutingTable,
	LocalIpTable,
}

type P4rtWrapper struct {
	Switch      *SwitchDriver
	slowPath    *slowpath.SlowPath
	pktio       *pktio.PcapChannel
	dialOptions []grpc.DialOption
	failed      chan error
}

func NewP4rtWrapper(opts ...grpc.DialOption) *P4rtWrapper {
	p4rtWrapper := P4rtWrapper{dialOptions: opts, failed: make(chan error, 1)}
	return &p4rtWrapper
}

func (me *P4rtWrapper) Connect(target string, device_id uint64, election_id uint64, p4info_file string) error {
	var p4info *p4_config_v1.P4Info
	if p4info_file != "" {
		var err error
		p4info, err = LoadP4InfoFile(p4info_file)
		if err != nil {
			return err
		}
	}
	me.Switch = NewSwitchDriver(device_id, election_id)
	return me.Switch.Connect(target, p4info, me.dialOptions...)
}

func (me *P4rtWrapper) Close() {
	log.Infoln("Close P4Runtime Wrapper")
	if me.slowPath != nil {
		me.slowPath.Stop()
	}
	if me.pktio != nil {
		me.pktio.Close()
	}
	if me.Switch != nil {
		me.Switch.Close()
	}
}

func (me *P4rtWrapper) InsertTableEntry(table_name string, match_fields map[string]interface{}, action_name string, action_params map[string]interface{}) error {
	if me.Switch == nil {
		return errors.New("not connected")
	}
	return me.Switch.InsertTableEntry(table_name, match_fields, action_name, action_params)
}

func (me *P4rtWrapper) AddMulticastGroup(mgid uint32, ports []uint32) error {
	if me.Switch == nil {
		return errors.New("not connected")
	}
	return me.Switch.AddMulticastGroup(mgid, ports)
}

// SetupBroadcast floods frames to the broadcast address with the given
// multicast group.
func (me *P4rtWrapper) SetupBroadcast(mgid uint32) error {
	return me.InsertTableEntry(slowpath.FwdL2Table,
		map[string]interface{}{slowpath.FwdL2Key: BroadcastMac},
		SetMgidAction,
		map[string]interface{}{SetMgidParam: mgid})
}

func (me *P4rtWrapper) SetupRoute(dst net.IP, prefix_len int32, next_hop net.IP) error {
	return me.InsertTableEntry(Ipv4RoutingTable,
		map[string]interface{}{Ipv4DstKey: dataplane.LpmValue{Value: dst.To4(), PrefixLen: prefix_len}},
		FindNextHopIpAction,
		map[string]interface{}{FindNextHopIpParam: next_hop.To4()})
}

// SetupLocalIp sends packets for an address owned by the controller to the cpu port.
func (me *P4rtWrapper) SetupLocalIp(ip net.IP) error {
	return me.InsertTableEntry(LocalIpTable,
		map[string]interface{}{Ipv4DstKey: ip.To4()},
		SendToCpuAction,
		map[string]interface{}{})
}

func (me *P4rtWrapper) SetupSlowpath(iface string, start_wait time.Duration, poll_interval time.Duration, snaplen int32) error {
	if me.Switch == nil {
		return errors.New("not connected")
	}
	if me.slowPath != nil {
		return slowpath.ErrAlreadyStarted
	}
	me.pktio = pktio.NewPcapChannel(snaplen, poll_interval)
	me.slowPath = slowpath.NewSlowPath(iface, me.Switch, me.pktio, start_wait)
	if err := me.slowPath.Start(); err != nil {
		return err
	}
	go me.watchSlowpath(me.slowPath)
	return nil
}

func (me *P4rtWrapper) watchSlowpath(sp *slowpath.SlowPath) {
	<-sp.Done()
	if err := sp.Err(); err != nil {
		me.failed <- err
	}
}

func (me *P4rtWrapper) Failed() <-chan error {
	return me.failed
}

func (me *P4rtWrapper) PrintTableEntries() {
	if me.Switch == nil {
		return
	}
	for _, table := range PrintedTables {
		entries, err := me.Switch.ReadTableEntries(table)
		if err != nil {
			log.Warnf("could not read %s: %v", table, err)
			continue
		}
		log.Infof("%s: %d entries", table, len(entries))
		for _, entry := range entries {
			log.Infoln("  " + me.Switch.FormatTableEntry(entry))
		}
	}
}
