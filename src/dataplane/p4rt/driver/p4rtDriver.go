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
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"p4l2-controller/src/dataplane"
	"p4l2-controller/src/lib"

	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	connectTimeout     = 10 * time.Second
	arbitrationTimeout = 5 * time.Second
)

// SwitchDriver talks P4Runtime to a single device.
type SwitchDriver struct {
	isConnected   bool
	conn          *grpc.ClientConn
	client        p4_v1.P4RuntimeClient
	streamChannel p4_v1.P4Runtime_StreamChannelClient
	ctx           context.Context
	cancel        context.CancelFunc
	deviceId      uint64
	electionId    *p4_v1.Uint128

	Tables []Table
}

func (me *SwitchDriver) Close() {
	log.Infoln("CLOSE P4Runtime driver")
	me.Disconnect()
}

func NewSwitchDriver(deviceId uint64, electionId uint64) *SwitchDriver {
	switchDriver := SwitchDriver{
		isConnected: false,
		deviceId:    deviceId,
		electionId:  &p4_v1.Uint128{High: 0, Low: electionId},
	}
	return &switchDriver
}

// Connect becomes primary client of the device and resolves the table
// names. If p4info is nil the P4Info of the running pipeline is used.
func (g *SwitchDriver) Connect(target string, p4info *p4_config_v1.P4Info, opts ...grpc.DialOption) error {
	if g.isConnected {
		return nil
	}
	log.Infof("Connect to P4Runtime %s (device %d)", target, g.deviceId)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), connectTimeout)
	defer dialCancel()
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithInsecure()}
	}
	opts = append(opts, grpc.WithBlock())

	var err error
	g.conn, err = grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return errors.Wrapf(err, "could not connect to %s", target)
	}
	g.client = p4_v1.NewP4RuntimeClient(g.conn)
	g.ctx, g.cancel = context.WithCancel(context.Background())

	// Step 1: open the stream channel and become primary
	g.streamChannel, err = g.client.StreamChannel(g.ctx)
	if err != nil {
		g.teardown()
		return errors.Wrap(err, "could not open stream channel")
	}
	if err := g.arbitrate(); err != nil {
		g.teardown()
		return err
	}
	go g.receiveStream()

	// Step 2: get the P4Info of the running pipeline
	if p4info == nil {
		req := &p4_v1.GetForwardingPipelineConfigRequest{
			DeviceId:     g.deviceId,
			ResponseType: p4_v1.GetForwardingPipelineConfigRequest_P4INFO_AND_COOKIE,
		}
		resp, err := g.client.GetForwardingPipelineConfig(g.ctx, req)
		if err != nil {
			g.teardown()
			return errors.Wrap(err, "could not get forwarding pipeline config")
		}
		p4info = resp.GetConfig().GetP4Info()
		if p4info == nil {
			g.teardown()
			return errors.New("device has no forwarding pipeline config")
		}
	}

	// Step 3: parse tables and actions
	g.Tables = UnmarshalP4Info(p4info)
	log.Infof("P4Runtime connection ready, %d tables", len(g.Tables))

	g.isConnected = true
	return nil
}

func (g *SwitchDriver) arbitrate() error {
	req := &p4_v1.StreamMessageRequest{
		Update: &p4_v1.StreamMessageRequest_Arbitration{
			Arbitration: &p4_v1.MasterArbitrationUpdate{
				DeviceId:   g.deviceId,
				ElectionId: g.electionId,
			},
		},
	}
	if err := g.streamChannel.Send(req); err != nil {
		return errors.Wrap(err, "arbitration request failed")
	}

	result := make(chan error, 1)
	go func() {
		resp, err := g.streamChannel.Recv()
		if err != nil {
			result <- errors.Wrap(err, "arbitration response failed")
			return
		}
		arbitration := resp.GetArbitration()
		if arbitration == nil {
			result <- errors.Errorf("unexpected stream message %v", resp)
			return
		}
		if c := code.Code(arbitration.GetStatus().GetCode()); c != code.Code_OK {
			result <- errors.Errorf("not primary for device %d: %s %s", g.deviceId, c, arbitration.GetStatus().GetMessage())
			return
		}
		result <- nil
	}()

	select {
	case err := <-result:
		return err
	case <-time.After(arbitrationTimeout):
		return errors.New("timeout waiting for arbitration response")
	}
}

// receiveStream drains the stream channel until it is closed.
func (g *SwitchDriver) receiveStream() {
	for {
		resp, err := g.streamChannel.Recv()
		if err != nil {
			if err != io.EOF && status.Code(err) != codes.Canceled {
				log.Warnf("P4Runtime stream closed: %v", err)
			}
			return
		}
		switch {
		case resp.GetArbitration() != nil:
			log.Infof("arbitration update: %s", code.Code(resp.GetArbitration().GetStatus().GetCode()))
		case resp.GetError() != nil:
			log.Warnf("P4Runtime stream error: %s %s", code.Code(resp.GetError().GetCanonicalCode()), resp.GetError().GetMessage())
		default:
			log.Tracef("ignored stream message %v", resp)
		}
	}
}

func (g *SwitchDriver) findTable(name string) *Table {
	for i := range g.Tables {
		if g.Tables[i].matches(name) {
			return &g.Tables[i]
		}
	}
	return nil
}

func (g *SwitchDriver) findTableById(id uint32) *Table {
	for i := range g.Tables {
		if g.Tables[i].id == id {
			return &g.Tables[i]
		}
	}
	return nil
}

func (me *Table) findKey(name string) *Key {
	for i := range me.keys {
		if me.keys[i].name == name {
			return &me.keys[i]
		}
	}
	return nil
}

func (me *Table) findAction(name string) *Action {
	for i := range me.actions {
		if me.actions[i].matches(name) {
			return &me.actions[i]
		}
	}
	return nil
}

func (me *Action) findData(name string) *Data {
	for i := range me.datas {
		if me.datas[i].name == name {
			return &me.datas[i]
		}
	}
	return nil
}

func buildFieldMatch(key *Key, value interface{}) (*p4_v1.FieldMatch, error) {
	switch key.match_type {
	case p4_config_v1.MatchField_EXACT:
		b, err := lib.ToBytes(value)
		if err != nil {
			return nil, err
		}
		b, err = lib.Padded(b, key.bitwidth)
		if err != nil {
			return nil, err
		}
		return &p4_v1.FieldMatch{
			FieldId:        key.id,
			FieldMatchType: &p4_v1.FieldMatch_Exact_{Exact: &p4_v1.FieldMatch_Exact{Value: b}},
		}, nil
	case p4_config_v1.MatchField_LPM:
		lpm, ok := value.(dataplane.LpmValue)
		if !ok {
			lpm = dataplane.LpmValue{Value: value, PrefixLen: key.bitwidth}
		}
		b, err := lib.ToBytes(lpm.Value)
		if err != nil {
			return nil, err
		}
		b, err = lib.Padded(b, key.bitwidth)
		if err != nil {
			return nil, err
		}
		return &p4_v1.FieldMatch{
			FieldId:        key.id,
			FieldMatchType: &p4_v1.FieldMatch_Lpm{Lpm: &p4_v1.FieldMatch_LPM{Value: b, PrefixLen: lpm.PrefixLen}},
		}, nil
	case p4_config_v1.MatchField_TERNARY:
		ternary, ok := value.(dataplane.TernaryValue)
		if !ok {
			ternary = dataplane.TernaryValue{Value: value, Mask: lib.PrefixMask(key.bitwidth, key.bitwidth)}
		}
		b, err := lib.ToBytes(ternary.Value)
		if err != nil {
			return nil, err
		}
		b, err = lib.Padded(b, key.bitwidth)
		if err != nil {
			return nil, err
		}
		mask, err := lib.Padded(ternary.Mask, key.bitwidth)
		if err != nil {
			return nil, err
		}
		return &p4_v1.FieldMatch{
			FieldId:        key.id,
			FieldMatchType: &p4_v1.FieldMatch_Ternary_{Ternary: &p4_v1.FieldMatch_Ternary{Value: b, Mask: mask}},
		}, nil
	}
	return nil, errors.Errorf("match type %s of %s not supported", key.match_type, key.name)
}

// BuildTableEntry resolves names to p4info ids and encodes the values with
// the bitwidth of their field.
func (g *SwitchDriver) BuildTableEntry(table_name string, keys map[string]interface{}, action_name string, datas map[string]interface{}) (*p4_v1.TableEntry, error) {
	table := g.findTable(table_name)
	if table == nil {
		return nil, errors.New("Table ID not found for name " + table_name)
	}

	entry := &p4_v1.TableEntry{TableId: table.id}

	// map iteration order is random, keep the field ids sorted
	key_names := make([]string, 0, len(keys))
	for key_name := range keys {
		key_names = append(key_names, key_name)
	}
	sort.Strings(key_names)
	for _, key_name := range key_names {
		key := table.findKey(key_name)
		if key == nil {
			return nil, errors.New("Key ID not found for name " + key_name)
		}
		fm, err := buildFieldMatch(key, keys[key_name])
		if err != nil {
			return nil, errors.Wrapf(err, "key %s", key_name)
		}
		if key.match_type == p4_config_v1.MatchField_TERNARY {
			entry.Priority = 1
		}
		entry.Match = append(entry.Match, fm)
	}

	action := table.findAction(action_name)
	if action == nil {
		return nil, errors.New("Action ID not found for name " + action_name)
	}
	p4action := &p4_v1.Action{ActionId: action.id}
	data_names := make([]string, 0, len(datas))
	for data_name := range datas {
		data_names = append(data_names, data_name)
	}
	sort.Strings(data_names)
	for _, data_name := range data_names {
		data := action.findData(data_name)
		if data == nil {
			return nil, errors.New("Data ID not found for name " + data_name)
		}
		b, err := lib.ToBytes(datas[data_name])
		if err != nil {
			return nil, errors.Wrapf(err, "param %s", data_name)
		}
		b, err = lib.Padded(b, data.bitwidth)
		if err != nil {
			return nil, errors.Wrapf(err, "param %s", data_name)
		}
		p4action.Params = append(p4action.Params, &p4_v1.Action_Param{ParamId: data.id, Value: b})
	}
	if len(p4action.Params) != len(action.datas) {
		return nil, errors.Errorf("action %s needs %d params, got %d", action_name, len(action.datas), len(p4action.Params))
	}
	entry.Action = &p4_v1.TableAction{Type: &p4_v1.TableAction_Action{Action: p4action}}

	return entry, nil
}

func (g *SwitchDriver) SetTableEntry(table_name string, keys map[string]interface{}, action_name string, datas map[string]interface{}, update_mode string) error {
	if !g.isConnected {
		return errors.New("not connected")
	}
	entry, err := g.BuildTableEntry(table_name, keys, action_name, datas)
	if err != nil {
		return err
	}

	upd_mod := p4_v1.Update_INSERT
	switch update_mode {
	case "insert":
		upd_mod = p4_v1.Update_INSERT
	case "delete":
		upd_mod = p4_v1.Update_DELETE
	case "modify":
		upd_mod = p4_v1.Update_MODIFY
	default:
		return errors.Errorf("invalid update mode %q (insert, delete, modify)", update_mode)
	}

	update := &p4_v1.Update{
		Type:   upd_mod,
		Entity: &p4_v1.Entity{Entity: &p4_v1.Entity_TableEntry{TableEntry: entry}},
	}
	if err := g.write(update); err != nil {
		return errors.Wrapf(err, "%s %s", update_mode, table_name)
	}
	log.Debug("Populated table " + table_name + " sucessfully")
	return nil
}

func (g *SwitchDriver) InsertTableEntry(table_name string, match_fields map[string]interface{}, action_name string, action_params map[string]interface{}) error {
	return g.SetTableEntry(table_name, match_fields, action_name, action_params, "insert")
}

func (g *SwitchDriver) AddMulticastGroup(mgid uint32, ports []uint32) error {
	if !g.isConnected {
		return errors.New("not connected")
	}
	group := &p4_v1.MulticastGroupEntry{MulticastGroupId: mgid}
	for _, port := range ports {
		group.Replicas = append(group.Replicas, &p4_v1.Replica{EgressPort: port, Instance: 1})
	}
	update := &p4_v1.Update{
		Type: p4_v1.Update_INSERT,
		Entity: &p4_v1.Entity{Entity: &p4_v1.Entity_PacketReplicationEngineEntry{
			PacketReplicationEngineEntry: &p4_v1.PacketReplicationEngineEntry{
				Type: &p4_v1.PacketReplicationEngineEntry_MulticastGroupEntry{MulticastGroupEntry: group},
			},
		}},
	}
	if err := g.write(update); err != nil {
		return errors.Wrapf(err, "multicast group %d", mgid)
	}
	log.Debugf("Added multicast group %d with ports %v", mgid, ports)
	return nil
}

func (g *SwitchDriver) write(updates ...*p4_v1.Update) error {
	writeRequest := &p4_v1.WriteRequest{
		DeviceId:   g.deviceId,
		ElectionId: g.electionId,
		Updates:    updates,
		Atomicity:  p4_v1.WriteRequest_CONTINUE_ON_ERROR,
	}
	_, err := g.client.Write(g.ctx, writeRequest)
	if err != nil {
		return decodeWriteError(err)
	}
	return nil
}

// decodeWriteError adds the per update errors the server attaches as
// status details.
func decodeWriteError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var msgs []string
	for _, detail := range st.Details() {
		p4err, ok := detail.(*p4_v1.Error)
		if !ok || code.Code(p4err.GetCanonicalCode()) == code.Code_OK {
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", code.Code(p4err.GetCanonicalCode()), p4err.GetMessage()))
	}
	if len(msgs) == 0 {
		return errors.Wrap(err, "p4runtime write failed")
	}
	return errors.Wrapf(err, "p4runtime write failed [%s]", strings.Join(msgs, ", "))
}

func (g *SwitchDriver) ReadTableEntries(table_name string) ([]*p4_v1.TableEntry, error) {
	if !g.isConnected {
		return nil, errors.New("not connected")
	}
	table := g.findTable(table_name)
	if table == nil {
		return nil, errors.New("Table ID not found for name " + table_name)
	}
	req := &p4_v1.ReadRequest{
		DeviceId: g.deviceId,
		Entities: []*p4_v1.Entity{
			{Entity: &p4_v1.Entity_TableEntry{TableEntry: &p4_v1.TableEntry{TableId: table.id}}},
		},
	}
	stream, err := g.client.Read(g.ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", table_name)
	}
	var entries []*p4_v1.TableEntry
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", table_name)
		}
		for _, entity := range resp.GetEntities() {
			if entry := entity.GetTableEntry(); entry != nil {
				entries = append(entries, entry)
			}
		}
	}
	return entries, nil
}

// formatValue prints 48 bit values as mac and 32 bit values as ipv4 address.
func formatValue(val []byte) string {
	switch len(val) {
	case 6:
		return lib.ByteToMac(val)
	case 4:
		return net.IP(val).String()
	}
	return fmt.Sprintf("%x", val)
}

// FormatTableEntry renders an entry with the p4info names.
func (g *SwitchDriver) FormatTableEntry(entry *p4_v1.TableEntry) string {
	table := g.findTableById(entry.GetTableId())
	if table == nil {
		return entry.String()
	}
	var sb strings.Builder
	sb.WriteString(table.name + ": ")
	for _, fm := range entry.GetMatch() {
		name := fmt.Sprint(fm.GetFieldId())
		for _, key := range table.keys {
			if key.id == fm.GetFieldId() {
				name = key.name
			}
		}
		switch {
		case fm.GetExact() != nil:
			sb.WriteString(fmt.Sprintf("%s=%s ", name, formatValue(fm.GetExact().GetValue())))
		case fm.GetLpm() != nil:
			sb.WriteString(fmt.Sprintf("%s=%s/%d ", name, formatValue(fm.GetLpm().GetValue()), fm.GetLpm().GetPrefixLen()))
		case fm.GetTernary() != nil:
			sb.WriteString(fmt.Sprintf("%s=%s&&&%x ", name, formatValue(fm.GetTernary().GetValue()), fm.GetTernary().GetMask()))
		}
	}
	action := entry.GetAction().GetAction()
	if action == nil {
		return strings.TrimSpace(sb.String())
	}
	sb.WriteString("-> ")
	for _, a := range table.actions {
		if a.id != action.GetActionId() {
			continue
		}
		sb.WriteString(a.name + "(")
		var params []string
		for _, p := range action.GetParams() {
			for _, d := range a.datas {
				if d.id == p.GetParamId() {
					params = append(params, fmt.Sprintf("%s=%s", d.name, formatValue(p.GetValue())))
				}
			}
		}
		sb.WriteString(strings.Join(params, ", ") + ")")
	}
	return sb.String()
}

func (g *SwitchDriver) teardown() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.conn != nil {
		g.conn.Close()
	}
	g.client = nil
}

func (g *SwitchDriver) Disconnect() {
	if g.isConnected {
		g.teardown()
		g.isConnected = false
	}
}
