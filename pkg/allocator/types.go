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

// ResourceRequest is a module's declared capacity need, either reported by
// the module in a status update or synthesized from its registration
// record.
type ResourceRequest struct {
	ModuleName       string   `json:"moduleName"`
	Priority         int      `json:"priority"`
	MinCapacity      float64  `json:"minCapacity"`
	MaxCapacity      float64  `json:"maxCapacity"`
	PreferredNodeIDs []string `json:"preferredNodeIDs,omitempty"`
}

// Valid rejects requests whose bounds make no sense. Capacities are
// non-negative reals, fractional units are fine.
func (r *ResourceRequest) Valid() bool {
	return r != nil && r.MinCapacity >= 0 && r.MinCapacity <= r.MaxCapacity && r.MaxCapacity > 0
}

// CapacityAllocation is the allocator's grant for one request.
// AllocatedTotal always equals the sum over PerNodeAllocation and is either
// zero or within the request's [min, max] bounds.
type CapacityAllocation struct {
	ModuleName        string             `json:"moduleName"`
	AllocatedTotal    float64            `json:"allocatedTotal"`
	PerNodeAllocation map[string]float64 `json:"perNodeAllocation"`
}

// PoolNode is one entry of the allocator's working pool. Total and Used are
// the raw scan readings; Available starts at total minus used (minus the
// primary reservation on the primary node) and is consumed during an
// allocation pass.
type PoolNode struct {
	NodeID    string  `json:"nodeID"`
	Total     float64 `json:"total"`
	Used      float64 `json:"used"`
	Available float64 `json:"available"`
	Primary   bool    `json:"primary"`
}

// PoolStats is a pure aggregation over a capacity pool.
type PoolStats struct {
	TotalNodes         int     `json:"totalNodes"`
	TotalCapacity      float64 `json:"totalCapacity"`
	UsedCapacity       float64 `json:"usedCapacity"`
	AvailableCapacity  float64 `json:"availableCapacity"`
	UtilizationPercent float64 `json:"utilizationPercent"`
}
