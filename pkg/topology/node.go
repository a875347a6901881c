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
	"github.com/google/btree"
)

// Node is one admitted machine in the compute pool. Nodes are rebuilt on
// every scan; the id is the only identity that survives between scans.
type Node struct {
	NodeID        string  `json:"nodeID"`
	TotalCapacity float64 `json:"totalCapacity"`
	UsedCapacity  float64 `json:"usedCapacity"`
	Primary       bool    `json:"primary"`
	Elastic       bool    `json:"elastic"`
}

// NewNode clamps the reported readings so used never exceeds total.
func NewNode(id string, total, used float64, primary, elastic bool) *Node {
	if total < 0 {
		total = 0
	}
	if used < 0 {
		used = 0
	}
	if used > total {
		used = total
	}
	return &Node{
		NodeID:        id,
		TotalCapacity: total,
		UsedCapacity:  used,
		Primary:       primary,
		Elastic:       elastic,
	}
}

// AvailableCapacity is always derived from the scan readings, never stored.
func (n *Node) AvailableCapacity() float64 {
	return n.TotalCapacity - n.UsedCapacity
}

// nodeRef is the btree item wrapping a node, ordered so that Ascend visits
// the largest available capacity first. Ties break on the node id to keep
// distinct nodes distinct in the tree.
type nodeRef struct {
	node *Node
}

func (nr nodeRef) Less(than btree.Item) bool {
	other, ok := than.(nodeRef)
	if !ok {
		return false
	}
	l := nr.node.AvailableCapacity()
	r := other.node.AvailableCapacity()
	if l != r {
		return l > r
	}
	return nr.node.NodeID < other.node.NodeID
}

// NodeCollection keeps the scanned nodes in a btree sorted by available
// capacity so the allocator gets its largest-first iteration cheaply.
type NodeCollection struct {
	tree *btree.BTree
}

func NewNodeCollection(nodes map[string]*Node) *NodeCollection {
	// degree 7 is plenty for pools well beyond what one orchestrator manages
	tree := btree.New(7)
	for _, n := range nodes {
		tree.ReplaceOrInsert(nodeRef{node: n})
	}
	return &NodeCollection{tree: tree}
}

func (nc *NodeCollection) Len() int {
	return nc.tree.Len()
}

// SortedByAvailable returns the nodes in descending available capacity
// order.
func (nc *NodeCollection) SortedByAvailable() []*Node {
	nodes := make([]*Node, 0, nc.tree.Len())
	nc.tree.Ascend(func(item btree.Item) bool {
		nodes = append(nodes, item.(nodeRef).node)
		return true
	})
	return nodes
}
