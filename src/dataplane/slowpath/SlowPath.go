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
	"p4l2-controller/src/dataplane"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PacketChannel sends and receives raw frames on the cpu interface.
type PacketChannel interface {
	// Capture calls onFrame for every received frame until cancel is closed.
	Capture(iface string, onFrame func([]byte), cancel <-chan struct{}) error
	Transmit(iface string, frame []byte) error
}

type State int

const (
	Stopped State = iota
	Starting
	Running
	StopRequested
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case StopRequested:
		return "StopRequested"
	}
	return "Unknown"
}

// SlowPath learns from the arp traffic the switch sends to the cpu port and
// programs the switch with what it learned. All packets are handled by a
// single listener goroutine, which is the only user of the store and the
// programmer.
type SlowPath struct {
	iface      string
	startWait  time.Duration
	pktio      PacketChannel
	store      *LearningStore
	programmer *SwitchProgrammer
	onError    func(error)

	mu         sync.Mutex
	state      State
	started    bool
	cancel     chan struct{}
	exited     chan struct{}
	captureErr error
	wg         sync.WaitGroup
}

func NewSlowPath(iface string, sw dataplane.SwitchControl, pktio PacketChannel, startWait time.Duration) *SlowPath {
	slowPath := SlowPath{
		iface:      iface,
		startWait:  startWait,
		pktio:      pktio,
		store:      NewLearningStore(),
		programmer: NewSwitchProgrammer(sw),
		onError:    logError,
		state:      Stopped,
		cancel:     make(chan struct{}),
		exited:     make(chan struct{}),
	}
	return &slowPath
}

func logError(err error) {
	log.Warnf("[slowpath] %v", err)
}

// SetErrorHandler replaces the default handler, which logs the error. It has
// to be called before Start.
func (me *SlowPath) SetErrorHandler(handler func(error)) {
	me.onError = handler
}

func (me *SlowPath) State() State {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.state
}

// Done is closed when the listener has exited.
func (me *SlowPath) Done() <-chan struct{} {
	return me.exited
}

// Err returns the error that made the capture stop, if any.
func (me *SlowPath) Err() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.captureErr
}

// Start launches the listener and blocks for the settle interval so that the
// capture is attached before traffic is expected. A capture that fails within
// the settle interval is returned.
func (me *SlowPath) Start() error {
	me.mu.Lock()
	if me.started {
		state := me.state
		me.mu.Unlock()
		if state == Stopped {
			return ErrNotRestartable
		}
		return ErrAlreadyStarted
	}
	me.started = true
	me.state = Starting
	me.mu.Unlock()

	log.Infof("Start slow path listener on %s", me.iface)
	me.wg.Add(1)
	go me.runListener()

	time.Sleep(me.startWait)

	me.mu.Lock()
	defer me.mu.Unlock()
	if me.state == Starting {
		me.state = Running
	}
	return me.captureErr
}

// Stop asks the listener to exit and waits for it. A packet that is being
// handled is finished first.
func (me *SlowPath) Stop() {
	me.mu.Lock()
	if me.state != Starting && me.state != Running {
		me.mu.Unlock()
		return
	}
	me.state = StopRequested
	close(me.cancel)
	me.mu.Unlock()

	log.Infoln("Terminate SlowPath")
	me.wg.Wait()

	me.mu.Lock()
	me.state = Stopped
	me.mu.Unlock()
	log.Debugln(me.store)
}

func (me *SlowPath) runListener() {
	defer me.wg.Done()
	defer close(me.exited)
	err := me.pktio.Capture(me.iface, me.handlePacket, me.cancel)
	if err != nil {
		err = errors.Wrapf(err, "capture on %s stopped", me.iface)
		me.mu.Lock()
		me.captureErr = err
		me.state = Stopped
		me.mu.Unlock()
		me.onError(err)
		return
	}
	log.Infoln("Terminated slow path")
}

func (me *SlowPath) handlePacket(raw []byte) {
	if err := me.handleFrame(raw); err != nil {
		me.onError(err)
	}
}

func (me *SlowPath) handleFrame(raw []byte) error {
	switch outcome := Classify(raw).(type) {
	case NotEnvelope:
		return outcome.Err
	case FromController:
		return nil
	case NonArp:
		return nil
	case ArpEvent:
		if outcome.Operation == ArpRequest {
			return me.handleArpRequest(outcome)
		}
		return me.handleArpReply(outcome)
	default:
		return errors.Errorf("unexpected classification %T", outcome)
	}
}

func (me *SlowPath) handleArpRequest(ev ArpEvent) error {
	log.Debugf("arp request from %s (%s) on port %d", ev.SenderIP, ev.SenderMAC, ev.IngressPort)
	return me.learnAndForward(ev)
}

func (me *SlowPath) handleArpReply(ev ArpEvent) error {
	log.Debugf("arp reply from %s (%s) on port %d", ev.SenderIP, ev.SenderMAC, ev.IngressPort)
	return me.learnAndForward(ev)
}

// learnAndForward records the sender bindings, programs the new ones and
// sends the unmodified packet back to the switch marked as coming from the
// controller. A failed table insert leaves the binding recorded.
func (me *SlowPath) learnAndForward(ev ArpEvent) error {
	var errs PacketErrors

	if me.store.RecordAddressBinding(ev.SenderIP, ev.SenderMAC) {
		log.Infof("learned %s -> %s", ev.SenderIP, ev.SenderMAC)
		if err := me.programmer.ProgramHostRoute(ev.SenderIP, ev.SenderMAC); err != nil {
			errs = append(errs, err)
		}
	}

	if me.store.RecordForwardingBinding(ev.SenderMAC, ev.IngressPort) {
		log.Infof("learned %s -> port %d", ev.SenderMAC, ev.IngressPort)
		if err := me.programmer.ProgramForwardingEntry(ev.SenderMAC, ev.IngressPort); err != nil {
			errs = append(errs, err)
		}
	}

	if err := me.send(ev.frame); err != nil {
		errs = append(errs, err)
	}

	return errs.errorOrNil()
}

func (me *SlowPath) send(frame *Frame) error {
	out, err := EncodeEnvelope(frame, true)
	if err != nil {
		return &TransmitError{Iface: me.iface, Err: err}
	}
	if err := me.pktio.Transmit(me.iface, out); err != nil {
		return &TransmitError{Iface: me.iface, Err: err}
	}
	return nil
}
