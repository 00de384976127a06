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
package pktio

import (
	"sync"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PcapChannel captures and injects raw frames on the cpu interface of the
// switch with libpcap.
type PcapChannel struct {
	snaplen      int32
	pollInterval time.Duration

	mu sync.Mutex
	tx map[string]*pcap.Handle
}

// NewPcapChannel returns a channel whose Capture checks for cancellation at
// least every pollInterval.
func NewPcapChannel(snaplen int32, pollInterval time.Duration) *PcapChannel {
	return &PcapChannel{
		snaplen:      snaplen,
		pollInterval: pollInterval,
		tx:           make(map[string]*pcap.Handle),
	}
}

func (me *PcapChannel) Capture(iface string, onFrame func([]byte), cancel <-chan struct{}) error {
	// the read timeout is what lets the loop notice cancel without traffic
	handle, err := pcap.OpenLive(iface, me.snaplen, true, me.pollInterval)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s for capture", iface)
	}
	defer handle.Close()

	if err := handle.SetDirection(pcap.DirectionIn); err != nil {
		log.Debugf("capture on %s includes outgoing frames: %v", iface, err)
	}

	log.Infof("Capturing on %s", iface)
	for {
		select {
		case <-cancel:
			log.Infof("Stop capturing on %s", iface)
			return nil
		default:
		}

		data, _, err := handle.ReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "capture on %s failed", iface)
		}
		onFrame(data)
	}
}

func (me *PcapChannel) Transmit(iface string, frame []byte) error {
	handle, err := me.txHandle(iface)
	if err != nil {
		return err
	}
	if err := handle.WritePacketData(frame); err != nil {
		return errors.Wrapf(err, "failed to send %d bytes on %s", len(frame), iface)
	}
	return nil
}

func (me *PcapChannel) txHandle(iface string) (*pcap.Handle, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	if handle, ok := me.tx[iface]; ok {
		return handle, nil
	}
	handle, err := pcap.OpenLive(iface, me.snaplen, false, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s for sending", iface)
	}
	me.tx[iface] = handle
	return handle, nil
}

func (me *PcapChannel) Close() {
	me.mu.Lock()
	defer me.mu.Unlock()
	for iface, handle := range me.tx {
		handle.Close()
		delete(me.tx, iface)
	}
}
