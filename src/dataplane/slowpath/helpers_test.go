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
	"sync"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind   string // "insert" or "transmit"
	table  string
	action string
	keys   map[string]interface{}
	datas  map[string]interface{}
	frame  []byte
}

// recorder is shared by the fake switch and the fake packet channel so that
// the order of table inserts and transmissions can be checked.
type recorder struct {
	mu         sync.Mutex
	calls      []call
	failTables map[string]error
	txErr      error
}

func newRecorder() *recorder {
	return &recorder{failTables: map[string]error{}}
}

func (r *recorder) InsertTableEntry(table_name string, match_fields map[string]interface{}, action_name string, action_params map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{kind: "insert", table: table_name, action: action_name, keys: match_fields, datas: action_params})
	return r.failTables[table_name]
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call{}, r.calls...)
}

type fakeChannel struct {
	rec        *recorder
	frames     chan []byte
	fail       chan error
	captureErr error
}

func newFakeChannel(rec *recorder) *fakeChannel {
	return &fakeChannel{rec: rec, frames: make(chan []byte, 16), fail: make(chan error, 1)}
}

func (f *fakeChannel) Capture(iface string, onFrame func([]byte), cancel <-chan struct{}) error {
	if f.captureErr != nil {
		return f.captureErr
	}
	for {
		select {
		case <-cancel:
			return nil
		case err := <-f.fail:
			return err
		case frame := <-f.frames:
			onFrame(frame)
		}
	}
}

func (f *fakeChannel) Transmit(iface string, frame []byte) error {
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	f.rec.calls = append(f.rec.calls, call{kind: "transmit", frame: frame})
	return f.rec.txErr
}

func mustMac(t *testing.T, s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func arpLayer(op uint16, mac net.HardwareAddr, ip net.IP, dstIp net.IP) *layers.ARP {
	return &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   mac,
		SourceProtAddress: ip.To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    dstIp.To4(),
	}
}

// cpuArpFrame builds an arp frame as the switch sends it to the cpu port.
func cpuArpFrame(t *testing.T, op uint16, mac string, ip string, port uint16, fromCpu bool) []byte {
	hw := mustMac(t, mac)
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.Ethernet{
			SrcMAC:       hw,
			DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			EthernetType: EthernetTypeCpuMetadata,
		},
		&CpuMetadata{FromCpu: fromCpu, OrigEtherType: layers.EthernetTypeARP, SrcPort: port},
		arpLayer(op, hw, net.ParseIP(ip), net.ParseIP("10.0.0.3")),
	)
	require.NoError(t, err)
	return buf.Bytes()
}

// cpuIpv4Frame builds a udp packet behind the cpu header.
func cpuIpv4Frame(t *testing.T, port uint16) []byte {
	buf := gopacket.NewSerializeBuffer()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 2},
		DstIP:    net.IP{10, 0, 0, 3},
	}
	udp := &layers.UDP{SrcPort: 4000, DstPort: 5000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		&layers.Ethernet{
			SrcMAC:       mustMac(t, "aa:aa:aa:aa:aa:aa"),
			DstMAC:       mustMac(t, "bb:bb:bb:bb:bb:bb"),
			EthernetType: EthernetTypeCpuMetadata,
		},
		&CpuMetadata{OrigEtherType: layers.EthernetTypeIPv4, SrcPort: port},
		ip,
		udp,
		gopacket.Payload([]byte("hello")),
	)
	require.NoError(t, err)
	return buf.Bytes()
}

// plainArpFrame is an arp frame without the cpu header.
func plainArpFrame(t *testing.T) []byte {
	hw := mustMac(t, "aa:aa:aa:aa:aa:aa")
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.Ethernet{
			SrcMAC:       hw,
			DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			EthernetType: layers.EthernetTypeARP,
		},
		arpLayer(layers.ARPRequest, hw, net.ParseIP("10.0.0.2"), net.ParseIP("10.0.0.3")),
	)
	require.NoError(t, err)
	return buf.Bytes()
}
