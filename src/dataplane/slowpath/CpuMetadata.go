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
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// EtherType the switch uses for frames exchanged with the cpu port.
const EthernetTypeCpuMetadata layers.EthernetType = 0x080a

const cpuMetadataLen = 5

var LayerTypeCpuMetadata = gopacket.RegisterLayerType(2080, gopacket.LayerTypeMetadata{
	Name:    "CpuMetadata",
	Decoder: gopacket.DecodeFunc(decodeCpuMetadata),
})

func init() {
	layers.EthernetTypeMetadata[EthernetTypeCpuMetadata] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(decodeCpuMetadata),
		Name:       "CpuMetadata",
		LayerType:  LayerTypeCpuMetadata,
	}
}

// CpuMetadata is the header the switch inserts between the ethernet header
// and the original payload of every frame on the cpu port:
//
//	fromCpu(8) | origEtherType(16) | srcPort(16)
type CpuMetadata struct {
	layers.BaseLayer
	FromCpu       bool
	OrigEtherType layers.EthernetType
	SrcPort       uint16
}

func (me *CpuMetadata) LayerType() gopacket.LayerType {
	return LayerTypeCpuMetadata
}

func (me *CpuMetadata) CanDecode() gopacket.LayerClass {
	return LayerTypeCpuMetadata
}

func (me *CpuMetadata) NextLayerType() gopacket.LayerType {
	return me.OrigEtherType.LayerType()
}

func (me *CpuMetadata) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < cpuMetadataLen {
		df.SetTruncated()
		return errors.Errorf("cpu metadata header too short: %d bytes", len(data))
	}
	me.FromCpu = data[0] != 0
	me.OrigEtherType = layers.EthernetType(uint16(data[1])<<8 | uint16(data[2]))
	me.SrcPort = uint16(data[3])<<8 | uint16(data[4])
	me.BaseLayer = layers.BaseLayer{Contents: data[:cpuMetadataLen], Payload: data[cpuMetadataLen:]}
	return nil
}

func (me *CpuMetadata) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(cpuMetadataLen)
	if err != nil {
		return err
	}
	bytes[0] = 0
	if me.FromCpu {
		bytes[0] = 1
	}
	bytes[1] = byte(me.OrigEtherType >> 8)
	bytes[2] = byte(me.OrigEtherType)
	bytes[3] = byte(me.SrcPort >> 8)
	bytes[4] = byte(me.SrcPort)
	return nil
}

func decodeCpuMetadata(data []byte, p gopacket.PacketBuilder) error {
	meta := &CpuMetadata{}
	if err := meta.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(meta)
	return p.NextDecoder(meta.OrigEtherType)
}

// ControlEnvelope is the per packet metadata of the cpu port.
type ControlEnvelope struct {
	FromController bool
	IngressPort    uint16
}

// Frame is a decoded frame from the cpu port.
type Frame struct {
	Ethernet *layers.Ethernet
	Metadata *CpuMetadata
	Packet   gopacket.Packet
}

// Inner returns the original payload behind the cpu header.
func (me *Frame) Inner() []byte {
	return me.Metadata.LayerPayload()
}

func (me *Frame) Envelope() ControlEnvelope {
	return ControlEnvelope{FromController: me.Metadata.FromCpu, IngressPort: me.Metadata.SrcPort}
}

// DecodeEnvelope strips the cpu header from a raw frame. Every frame on the
// cpu port has to carry it, so a missing header is ErrMalformedEnvelope.
func DecodeEnvelope(raw []byte) (*Frame, ControlEnvelope, error) {
	packet := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.Default)

	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, ControlEnvelope{}, errors.Wrap(ErrMalformedEnvelope, "no ethernet header")
	}
	metaLayer := packet.Layer(LayerTypeCpuMetadata)
	if metaLayer == nil {
		return nil, ControlEnvelope{}, errors.Wrapf(ErrMalformedEnvelope, "ethertype %s", ethLayer.(*layers.Ethernet).EthernetType)
	}

	frame := &Frame{
		Ethernet: ethLayer.(*layers.Ethernet),
		Metadata: metaLayer.(*CpuMetadata),
		Packet:   packet,
	}
	return frame, frame.Envelope(), nil
}

// EncodeEnvelope rebuilds the raw frame with the payload untouched and the
// fromCpu flag set as requested.
func EncodeEnvelope(frame *Frame, fromController bool) ([]byte, error) {
	eth := *frame.Ethernet
	eth.EthernetType = EthernetTypeCpuMetadata
	meta := CpuMetadata{
		FromCpu:       fromController,
		OrigEtherType: frame.Metadata.OrigEtherType,
		SrcPort:       frame.Metadata.SrcPort,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	err := gopacket.SerializeLayers(buf, opts,
		&eth,
		&meta,
		gopacket.Payload(frame.Inner()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize cpu frame")
	}
	return buf.Bytes(), nil
}
