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
	"time"

	"github.com/modgrid/modgrid-core/pkg/common"
)

// Snapshot is the discovered graph state at one point in time. It is
// immutable once produced; the next scan supersedes it rather than mutating
// it.
type Snapshot struct {
	AllNodeIDs             []string         `json:"allNodeIDs"`
	AdmittedNodeIDs        []string         `json:"admittedNodeIDs"`
	EligibleTargets        []string         `json:"eligibleTargets"`
	Nodes                  map[string]*Node `json:"nodes"`
	TotalAvailableCapacity float64          `json:"totalAvailableCapacity"`
	ScannedAt              time.Time        `json:"scannedAt"`
}

// Valid is the shape check applied to snapshots restored from the store; a
// snapshot failing it is treated as absent.
func (s *Snapshot) Valid() bool {
	if s == nil || s.ScannedAt.IsZero() {
		return false
	}
	all := common.StringSet(s.AllNodeIDs)
	for _, id := range s.AdmittedNodeIDs {
		if !all[id] {
			return false
		}
	}
	for _, id := range s.AdmittedNodeIDs {
		if s.Nodes[id] == nil {
			return false
		}
	}
	return true
}

// ChangeSet reports what a scan discovered relative to the previous
// snapshot. Purely derived, never persisted.
type ChangeSet struct {
	NewServers  []string `json:"newServers"`
	NewlyRooted []string `json:"newlyRooted"`
	NewTargets  []string `json:"newTargets"`
}

func (c *ChangeSet) Empty() bool {
	return len(c.NewServers) == 0 && len(c.NewlyRooted) == 0 && len(c.NewTargets) == 0
}

// DiffSnapshots computes the ChangeSet of current against previous. A nil
// or invalid previous snapshot reports everything as new.
func DiffSnapshots(previous, current *Snapshot) *ChangeSet {
	if previous == nil || !previous.Valid() {
		return &ChangeSet{
			NewServers:  common.SortedStrings(current.AllNodeIDs),
			NewlyRooted: common.SortedStrings(current.AdmittedNodeIDs),
			NewTargets:  common.SortedStrings(current.EligibleTargets),
		}
	}
	return &ChangeSet{
		NewServers:  common.SortedStrings(common.Diff(current.AllNodeIDs, previous.AllNodeIDs)),
		NewlyRooted: common.SortedStrings(common.Diff(current.AdmittedNodeIDs, previous.AdmittedNodeIDs)),
		NewTargets:  common.SortedStrings(common.Diff(current.EligibleTargets, previous.EligibleTargets)),
	}
}
