/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package topology

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
)

// FabricNode describes one node of a statically configured fabric.
type FabricNode struct {
	ID            string
	TotalCapacity float64
	UsedCapacity  float64
	Primary       bool
	Elastic       bool
	Neighbors     []string
}

// StaticFabric is a Fabric backed by configuration. Real deployments plug
// in a fabric that talks to the actual admission and transfer tooling; the
// static one serves single-host setups and tests, with the same admission
// lifecycle (nodes start unadmitted and are admitted on first scan).
type StaticFabric struct {
	nodes    map[string]*FabricNode
	root     string
	targets  []string
	admitted map[string]bool
	lock     sync.Mutex
}

func NewStaticFabric(nodes []FabricNode, root string, targets []string) (*StaticFabric, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("static fabric needs at least one node")
	}
	byID := make(map[string]*FabricNode, len(nodes))
	for i := range nodes {
		node := nodes[i]
		byID[node.ID] = &node
	}
	if root == "" {
		root = nodes[0].ID
	}
	if byID[root] == nil {
		return nil, fmt.Errorf("static fabric root %q is not a configured node", root)
	}
	return &StaticFabric{
		nodes:    byID,
		root:     root,
		targets:  targets,
		admitted: make(map[string]bool),
	}, nil
}

func (f *StaticFabric) Root() string {
	return f.root
}

func (f *StaticFabric) Neighbors(id string) []string {
	if node := f.nodes[id]; node != nil {
		return node.Neighbors
	}
	return nil
}

func (f *StaticFabric) IsAdmitted(id string) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.admitted[id]
}

func (f *StaticFabric) Admit(id string) error {
	if f.nodes[id] == nil {
		return fmt.Errorf("unknown node %q", id)
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	f.admitted[id] = true
	return nil
}

func (f *StaticFabric) Capacity(id string) (float64, float64, bool) {
	node := f.nodes[id]
	if node == nil {
		return 0, 0, false
	}
	return node.TotalCapacity, node.UsedCapacity, true
}

func (f *StaticFabric) IsPrimary(id string) bool {
	node := f.nodes[id]
	return node != nil && node.Primary
}

func (f *StaticFabric) IsElastic(id string) bool {
	node := f.nodes[id]
	return node != nil && node.Elastic
}

func (f *StaticFabric) EligibleTargets() []string {
	return f.targets
}

func (f *StaticFabric) PushPayload(id string) error {
	// nothing to copy on a static fabric, the executables are local
	log.Logger().Debug("payload push skipped on static fabric",
		zap.String("nodeID", id))
	return nil
}
