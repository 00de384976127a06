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
	"net"
	"sync"
	"testing"

	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/code"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func preamble(id uint32, name string) *p4_config_v1.Preamble {
	return &p4_config_v1.Preamble{Id: id, Name: name}
}

func exactField(id uint32, name string, bitwidth int32) *p4_config_v1.MatchField {
	return &p4_config_v1.MatchField{
		Id: id, Name: name, Bitwidth: bitwidth,
		Match: &p4_config_v1.MatchField_MatchType_{MatchType: p4_config_v1.MatchField_EXACT},
	}
}

func testP4Info() *p4_config_v1.P4Info {
	lpm := exactField(1, "hdr.ipv4.dstAddr", 32)
	lpm.Match = &p4_config_v1.MatchField_MatchType_{MatchType: p4_config_v1.MatchField_LPM}
	return &p4_config_v1.P4Info{
		Tables: []*p4_config_v1.Table{
			{
				Preamble:    preamble(100, "MyIngress.cam_table"),
				MatchFields: []*p4_config_v1.MatchField{exactField(1, "next_hop_ip", 32)},
				ActionRefs:  []*p4_config_v1.ActionRef{{Id: 200}},
			},
			{
				Preamble:    preamble(101, "MyIngress.fwd_l2"),
				MatchFields: []*p4_config_v1.MatchField{exactField(1, "hdr.ethernet.dstAddr", 48)},
				ActionRefs:  []*p4_config_v1.ActionRef{{Id: 201}, {Id: 202}},
			},
			{
				Preamble:    preamble(102, "MyIngress.ipv4_routing"),
				MatchFields: []*p4_config_v1.MatchField{lpm},
				ActionRefs:  []*p4_config_v1.ActionRef{{Id: 203}},
			},
			{
				Preamble:    preamble(103, "MyIngress.local_ip_table"),
				MatchFields: []*p4_config_v1.MatchField{exactField(1, "hdr.ipv4.dstAddr", 32)},
				ActionRefs:  []*p4_config_v1.ActionRef{{Id: 204}},
			},
		},
		Actions: []*p4_config_v1.Action{
			{Preamble: preamble(200, "MyIngress.find_next_hop_mac"), Params: []*p4_config_v1.Action_Param{{Id: 1, Name: "dstAddr", Bitwidth: 48}}},
			{Preamble: preamble(201, "MyIngress.set_egr"), Params: []*p4_config_v1.Action_Param{{Id: 1, Name: "port", Bitwidth: 9}}},
			{Preamble: preamble(202, "MyIngress.set_mgid"), Params: []*p4_config_v1.Action_Param{{Id: 1, Name: "mgid", Bitwidth: 16}}},
			{Preamble: preamble(203, "MyIngress.find_next_hop_ip"), Params: []*p4_config_v1.Action_Param{{Id: 1, Name: "dstAddr", Bitwidth: 32}}},
			{Preamble: preamble(204, "MyIngress.send_to_cpu")},
		},
	}
}

// fakeSwitch is an in-memory P4Runtime server.
type fakeSwitch struct {
	p4_v1.UnimplementedP4RuntimeServer

	mu           sync.Mutex
	p4info       *p4_config_v1.P4Info
	notPrimary   bool
	writeErr     codes.Code
	updates      []*p4_v1.Update
	arbitrations []*p4_v1.MasterArbitrationUpdate
}

func (me *fakeSwitch) StreamChannel(stream p4_v1.P4Runtime_StreamChannelServer) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			return nil
		}
		arbitration := req.GetArbitration()
		if arbitration == nil {
			continue
		}
		me.mu.Lock()
		me.arbitrations = append(me.arbitrations, arbitration)
		st := &rpcstatus.Status{Code: int32(code.Code_OK)}
		if me.notPrimary {
			st = &rpcstatus.Status{Code: int32(code.Code_ALREADY_EXISTS), Message: "another primary"}
		}
		me.mu.Unlock()
		resp := &p4_v1.StreamMessageResponse{
			Update: &p4_v1.StreamMessageResponse_Arbitration{
				Arbitration: &p4_v1.MasterArbitrationUpdate{
					DeviceId:   arbitration.GetDeviceId(),
					ElectionId: arbitration.GetElectionId(),
					Status:     st,
				},
			},
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
}

func (me *fakeSwitch) GetForwardingPipelineConfig(ctx context.Context, req *p4_v1.GetForwardingPipelineConfigRequest) (*p4_v1.GetForwardingPipelineConfigResponse, error) {
	if me.p4info == nil {
		return &p4_v1.GetForwardingPipelineConfigResponse{}, nil
	}
	return &p4_v1.GetForwardingPipelineConfigResponse{
		Config: &p4_v1.ForwardingPipelineConfig{P4Info: me.p4info},
	}, nil
}

func (me *fakeSwitch) Write(ctx context.Context, req *p4_v1.WriteRequest) (*p4_v1.WriteResponse, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.writeErr != codes.OK {
		st, _ := status.New(me.writeErr, "write failed").WithDetails(&p4_v1.Error{
			CanonicalCode: int32(code.Code_ALREADY_EXISTS),
			Message:       "entry exists",
		})
		return nil, st.Err()
	}
	me.updates = append(me.updates, req.GetUpdates()...)
	return &p4_v1.WriteResponse{}, nil
}

func (me *fakeSwitch) Read(req *p4_v1.ReadRequest, stream p4_v1.P4Runtime_ReadServer) error {
	me.mu.Lock()
	var entities []*p4_v1.Entity
	for _, want := range req.GetEntities() {
		for _, upd := range me.updates {
			entry := upd.GetEntity().GetTableEntry()
			if entry != nil && entry.GetTableId() == want.GetTableEntry().GetTableId() {
				entities = append(entities, upd.GetEntity())
			}
		}
	}
	me.mu.Unlock()
	return stream.Send(&p4_v1.ReadResponse{Entities: entities})
}

func (me *fakeSwitch) written() []*p4_v1.Update {
	me.mu.Lock()
	defer me.mu.Unlock()
	return append([]*p4_v1.Update{}, me.updates...)
}

// startFakeSwitch serves fake over bufconn and returns the dial options
// that reach it.
func startFakeSwitch(t *testing.T, fake *fakeSwitch) []grpc.DialOption {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	p4_v1.RegisterP4RuntimeServer(srv, fake)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, s string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithInsecure(),
	}
}

func connectedDriver(t *testing.T, fake *fakeSwitch) *SwitchDriver {
	opts := startFakeSwitch(t, fake)
	drv := NewSwitchDriver(1, 1)
	require.NoError(t, drv.Connect("bufnet", testP4Info(), opts...))
	t.Cleanup(drv.Close)
	return drv
}
