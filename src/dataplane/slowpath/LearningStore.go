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
	"fmt"
	"net"
	"strings"
)

// LearningStore holds the learned ip->mac and mac->port bindings. Entries are
// only ever inserted, never updated or removed. It is owned by the listener
// of the slow path and is not safe for concurrent use.
type LearningStore struct {
	macForIp   map[string]net.HardwareAddr
	portForMac map[string]uint16
}

func NewLearningStore() *LearningStore {
	return &LearningStore{
		macForIp:   make(map[string]net.HardwareAddr),
		portForMac: make(map[string]uint16),
	}
}

// RecordAddressBinding stores ip->mac unless ip is already bound and
// reports whether the binding was inserted.
func (me *LearningStore) RecordAddressBinding(ip net.IP, mac net.HardwareAddr) bool {
	key := ip.String()
	if _, ok := me.macForIp[key]; ok {
		return false
	}
	me.macForIp[key] = append(net.HardwareAddr{}, mac...)
	return true
}

// RecordForwardingBinding stores mac->port unless mac is already bound and
// reports whether the binding was inserted.
func (me *LearningStore) RecordForwardingBinding(mac net.HardwareAddr, port uint16) bool {
	key := mac.String()
	if _, ok := me.portForMac[key]; ok {
		return false
	}
	me.portForMac[key] = port
	return true
}

func (me *LearningStore) String() string {
	var sb strings.Builder
	sb.WriteString("LearningStore{ips:")
	for ip, mac := range me.macForIp {
		sb.WriteString(fmt.Sprintf(" %s->%s", ip, mac))
	}
	sb.WriteString(", macs:")
	for mac, port := range me.portForMac {
		sb.WriteString(fmt.Sprintf(" %s->%d", mac, port))
	}
	sb.WriteString("}")
	return sb.String()
}
