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
package slowpath

import (
	"net"
	"p4l2-controller/src/dataplane"

	log "github.com/sirupsen/logrus"
)

// table, key and action names of the l2switch p4 program
const (
	CamTable             = "MyIngress.cam_table"
	CamTableKey          = "next_hop_ip"
	FindNextHopMacAction = "MyIngress.find_next_hop_mac"
	FindNextHopMacParam  = "dstAddr"

	FwdL2Table   = "MyIngress.fwd_l2"
	FwdL2Key     = "hdr.ethernet.dstAddr"
	SetEgrAction = "MyIngress.set_egr"
	SetEgrParam  = "port"
)

// SwitchProgrammer issues exactly one table insert per call. Callers only
// call it for bindings the learning store reported as new.
type SwitchProgrammer struct {
	sw dataplane.SwitchControl
}

func NewSwitchProgrammer(sw dataplane.SwitchControl) *SwitchProgrammer {
	return &SwitchProgrammer{sw: sw}
}

func (me *SwitchProgrammer) ProgramHostRoute(ip net.IP, mac net.HardwareAddr) error {
	keys := map[string]interface{}{CamTableKey: ip}
	datas := map[string]interface{}{FindNextHopMacParam: mac}
	err := me.sw.InsertTableEntry(CamTable, keys, FindNextHopMacAction, datas)
	if err != nil {
		return &SwitchProgrammingError{Table: CamTable, Key: ip.String(), Err: err}
	}
	log.Debugf("[%s] %s -> %s", CamTable, ip, mac)
	return nil
}

func (me *SwitchProgrammer) ProgramForwardingEntry(mac net.HardwareAddr, port uint16) error {
	keys := map[string]interface{}{FwdL2Key: mac}
	datas := map[string]interface{}{SetEgrParam: port}
	err := me.sw.InsertTableEntry(FwdL2Table, keys, SetEgrAction, datas)
	if err != nil {
		return &SwitchProgrammingError{Table: FwdL2Table, Key: mac.String(), Err: err}
	}
	log.Debugf("[%s] %s -> port %d", FwdL2Table, mac, port)
	return nil
}
