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
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMalformedEnvelope = errors.New("frame without cpu metadata header")
	ErrNotRestartable    = errors.New("slow path cannot be restarted")
	ErrAlreadyStarted    = errors.New("slow path already started")
)

// SwitchProgrammingError is returned when the switch rejects a table insert
// for a binding that is already recorded in the learning store.
type SwitchProgrammingError struct {
	Table string
	Key   string
	Err   error
}

func (me *SwitchProgrammingError) Error() string {
	return fmt.Sprintf("failed to program %s for %s: %v", me.Table, me.Key, me.Err)
}

func (me *SwitchProgrammingError) Cause() error  { return me.Err }
func (me *SwitchProgrammingError) Unwrap() error { return me.Err }

// TransmitError is returned when a learned packet cannot be sent back to the switch.
type TransmitError struct {
	Iface string
	Err   error
}

func (me *TransmitError) Error() string {
	return fmt.Sprintf("failed to transmit on %s: %v", me.Iface, me.Err)
}

func (me *TransmitError) Cause() error  { return me.Err }
func (me *TransmitError) Unwrap() error { return me.Err }

// PacketErrors collects the errors of the individual steps of handling one
// packet. Later steps still run when an earlier one failed.
type PacketErrors []error

func (me PacketErrors) Error() string {
	msgs := make([]string, 0, len(me))
	for _, err := range me {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (me PacketErrors) errorOrNil() error {
	if len(me) == 0 {
		return nil
	}
	return me
}
