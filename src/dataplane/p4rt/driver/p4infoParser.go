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
	"io/ioutil"

	protov1 "github.com/golang/protobuf/proto"
	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/prototext"
)

type Table struct {
	name    string
	alias   string
	id      uint32
	keys    []Key
	actions []Action
}

type Key struct {
	name       string
	id         uint32
	match_type p4_config_v1.MatchField_MatchType
	bitwidth   int32
}

type Action struct {
	name  string
	alias string
	id    uint32
	datas []Data
}

type Data struct {
	name     string
	id       uint32
	bitwidth int32
}

func (me *Table) matches(name string) bool {
	return me.name == name || (me.alias != "" && me.alias == name)
}

func (me *Action) matches(name string) bool {
	return me.name == name || (me.alias != "" && me.alias == name)
}

func LoadP4InfoFile(path string) (*p4_config_v1.P4Info, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read p4info %s", path)
	}
	p4info := &p4_config_v1.P4Info{}
	if err := prototext.Unmarshal(content, protov1.MessageV2(p4info)); err != nil {
		return nil, errors.Wrapf(err, "failed to parse p4info %s", path)
	}
	return p4info, nil
}

// UnmarshalP4Info flattens the p4info into tables with their keys and the
// actions they can use.
func UnmarshalP4Info(p4info *p4_config_v1.P4Info) []Table {
	var tables []Table
	if p4info == nil {
		log.Warning("P4Info parsing not possible")
		return tables
	}

	actions := make(map[uint32]Action)
	for _, action := range p4info.GetActions() {
		a := Action{
			name:  action.GetPreamble().GetName(),
			alias: action.GetPreamble().GetAlias(),
			id:    action.GetPreamble().GetId(),
		}
		for _, param := range action.GetParams() {
			a.datas = append(a.datas, Data{name: param.GetName(), id: param.GetId(), bitwidth: param.GetBitwidth()})
		}
		actions[a.id] = a
	}

	for _, table := range p4info.GetTables() {
		t := Table{
			name:  table.GetPreamble().GetName(),
			alias: table.GetPreamble().GetAlias(),
			id:    table.GetPreamble().GetId(),
		}
		for _, mf := range table.GetMatchFields() {
			t.keys = append(t.keys, Key{name: mf.GetName(), id: mf.GetId(), match_type: mf.GetMatchType(), bitwidth: mf.GetBitwidth()})
		}
		for _, ref := range table.GetActionRefs() {
			if a, ok := actions[ref.GetId()]; ok {
				t.actions = append(t.actions, a)
			} else {
				log.Warnf("table %s references unknown action %d", t.name, ref.GetId())
			}
		}
		tables = append(tables, t)
	}
	return tables
}
