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

package dataplane

import (
	"net"
	"time"
)

// SwitchControl is the table API of the P4 switch the controller programs.
type SwitchControl interface {
	InsertTableEntry(table_name string, match_fields map[string]interface{}, action_name string, action_params map[string]interface{}) error
}

// LpmValue is used as a match field value for lpm keys.
type LpmValue struct {
	Value     interface{}
	PrefixLen int32
}

// TernaryValue is used as a match field value for ternary keys.
type TernaryValue struct {
	Value interface{}
	Mask  []byte
}

type DataPlaneInterface interface {
	SwitchControl
	Close()
	Connect(target string, device_id uint64, election_id uint64, p4info_file string) error

	AddMulticastGroup(mgid uint32, ports []uint32) error
	SetupBroadcast(mgid uint32) error
	SetupRoute(dst net.IP, prefix_len int32, next_hop net.IP) error
	SetupLocalIp(ip net.IP) error
	SetupSlowpath(iface string, start_wait time.Duration, poll_interval time.Duration, snaplen int32) error
	// Failed delivers the error that stopped the slow path listener.
	Failed() <-chan error

	PrintTableEntries()
}
