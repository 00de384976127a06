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

	"github.com/google/gopacket/layers"
)

const (
	ArpRequest = layers.ARPRequest
	ArpReply   = layers.ARPReply
)

// Outcome is the result of classifying one frame from the cpu port. It is
// one of NotEnvelope, FromController, NonArp or ArpEvent.
type Outcome interface {
	isOutcome()
}

// NotEnvelope: the frame has no cpu header.
type NotEnvelope struct {
	Err error
}

// FromController: the frame was sent by the controller itself.
type FromController struct{}

// NonArp: a valid cpu frame without an ipv4 arp payload.
type NonArp struct {
	Envelope ControlEnvelope
}

// ArpEvent carries the sender of an arp request or reply.
type ArpEvent struct {
	Operation   uint16
	SenderIP    net.IP
	SenderMAC   net.HardwareAddr
	IngressPort uint16

	frame *Frame
}

func (NotEnvelope) isOutcome()    {}
func (FromController) isOutcome() {}
func (NonArp) isOutcome()         {}
func (ArpEvent) isOutcome()       {}

func Classify(raw []byte) Outcome {
	frame, env, err := DecodeEnvelope(raw)
	if err != nil {
		return NotEnvelope{Err: err}
	}
	if env.FromController {
		return FromController{}
	}

	arpLayer := frame.Packet.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return NonArp{Envelope: env}
	}
	arp, _ := arpLayer.(*layers.ARP)
	if arp.Protocol != layers.EthernetTypeIPv4 || len(arp.SourceProtAddress) != net.IPv4len || len(arp.SourceHwAddress) != 6 {
		return NonArp{Envelope: env}
	}
	if arp.Operation != ArpRequest && arp.Operation != ArpReply {
		return NonArp{Envelope: env}
	}

	return ArpEvent{
		Operation:   arp.Operation,
		SenderIP:    net.IP(append([]byte{}, arp.SourceProtAddress...)),
		SenderMAC:   net.HardwareAddr(append([]byte{}, arp.SourceHwAddress...)),
		IngressPort: env.IngressPort,
		frame:       frame,
	}
}
