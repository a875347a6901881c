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

package allocator

import (
	"sort"

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/common"
	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/topology"
)

// AllocationsKey is where the daemon persists the latest allocation pass.
const AllocationsKey = "allocator/allocations"

// BuildCapacityPool turns a topology snapshot into the allocator's working
// pool: every admitted node with nonzero total capacity, available capacity
// derived from the scan readings, the primary node docked by the
// reservation (floored at zero). The pool comes back sorted by descending
// available capacity, a greedy largest-first hint for the allocation pass.
func BuildCapacityPool(snapshot *topology.Snapshot, reserveOnPrimary float64) []*PoolNode {
	if snapshot == nil {
		return nil
	}
	collection := topology.NewNodeCollection(snapshot.Nodes)
	pool := make([]*PoolNode, 0, collection.Len())
	for _, node := range collection.SortedByAvailable() {
		if node.TotalCapacity == 0 {
			continue
		}
		available := node.AvailableCapacity()
		if node.Primary {
			available = common.MaxFloat64(0, available-reserveOnPrimary)
		}
		pool = append(pool, &PoolNode{
			NodeID:    node.NodeID,
			Total:     node.TotalCapacity,
			Used:      node.UsedCapacity,
			Available: available,
			Primary:   node.Primary,
		})
	}
	// the primary reservation can reorder nodes relative to the raw
	// readings, so sort again on the adjusted numbers
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Available > pool[j].Available
	})
	return pool
}

// Allocate serves the requests in strict priority order from a shared
// working pool. Capacity taken by a higher priority request is permanently
// unavailable to lower priority ones within the pass: no rebalancing, no
// preemption. A request that cannot reach its minimum is rolled back
// wholesale and yields no allocation; granting below the floor would only
// waste capacity a smaller request could use productively.
func Allocate(pool []*PoolNode, requests []*ResourceRequest) []*CapacityAllocation {
	ordered := make([]*ResourceRequest, len(requests))
	copy(ordered, requests)
	// stable: equal priorities keep their input order
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var allocations []*CapacityAllocation
	for _, request := range ordered {
		if !request.Valid() {
			log.Logger().Warn("skipping invalid resource request",
				zap.String("module", request.ModuleName),
				zap.Float64("min", request.MinCapacity),
				zap.Float64("max", request.MaxCapacity))
			continue
		}
		if allocation := serveRequest(pool, request); allocation != nil {
			allocations = append(allocations, allocation)
		}
	}
	return allocations
}

func serveRequest(pool []*PoolNode, request *ResourceRequest) *CapacityAllocation {
	order := orderForRequest(pool, request.PreferredNodeIDs)

	type take struct {
		node   *PoolNode
		amount float64
	}
	var takes []take
	taken := 0.0
	for _, node := range order {
		if taken >= request.MaxCapacity {
			break
		}
		amount := common.MinFloat64(request.MaxCapacity-taken, node.Available)
		if amount <= 0 {
			continue
		}
		node.Available -= amount
		taken += amount
		takes = append(takes, take{node: node, amount: amount})
	}

	if taken < request.MinCapacity {
		// floor-or-nothing: return everything to the working pool
		for _, t := range takes {
			t.node.Available += t.amount
		}
		log.Logger().Debug("request below its floor, nothing granted",
			zap.String("module", request.ModuleName),
			zap.Float64("reachable", taken),
			zap.Float64("min", request.MinCapacity))
		return nil
	}

	allocation := &CapacityAllocation{
		ModuleName:        request.ModuleName,
		AllocatedTotal:    taken,
		PerNodeAllocation: make(map[string]float64, len(takes)),
	}
	for _, t := range takes {
		allocation.PerNodeAllocation[t.node.NodeID] = t.amount
	}
	return allocation
}

// orderForRequest builds the node visit order for one request. With
// preferences the preferred nodes come first, each group keeping its
// relative pool order. Without preferences the primary node goes last so
// modules land on worker nodes before eating into the orchestrator's host.
func orderForRequest(pool []*PoolNode, preferred []string) []*PoolNode {
	order := make([]*PoolNode, 0, len(pool))
	if len(preferred) > 0 {
		want := common.StringSet(preferred)
		for _, node := range pool {
			if want[node.NodeID] {
				order = append(order, node)
			}
		}
		for _, node := range pool {
			if !want[node.NodeID] {
				order = append(order, node)
			}
		}
		return order
	}
	for _, node := range pool {
		if !node.Primary {
			order = append(order, node)
		}
	}
	for _, node := range pool {
		if node.Primary {
			order = append(order, node)
		}
	}
	return order
}

// Stats aggregates a pool. A zero-capacity pool reports zero utilization.
func Stats(pool []*PoolNode) PoolStats {
	stats := PoolStats{TotalNodes: len(pool)}
	for _, node := range pool {
		stats.TotalCapacity += node.Total
		stats.UsedCapacity += node.Used
		stats.AvailableCapacity += node.Available
	}
	if stats.TotalCapacity > 0 {
		stats.UtilizationPercent = stats.UsedCapacity / stats.TotalCapacity * 100
	}
	return stats
}
