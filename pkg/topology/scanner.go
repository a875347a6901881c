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

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/store"
)

const (
	// SnapshotKey is where the latest snapshot lives in the state store.
	SnapshotKey = "topology/snapshot"
	// payloadKey records which nodes already received the task payloads.
	payloadKey = "topology/payloads"
)

// Fabric is the collaborator that knows the real compute graph: how nodes
// connect, how admission works and how task payloads reach a node. The
// scanner never talks to hardware directly.
type Fabric interface {
	// Root returns the id of the node the scan starts from.
	Root() string
	// Neighbors returns the ids reachable in one hop from the given node.
	Neighbors(id string) []string
	// IsAdmitted reports whether the node's capacity is usable by the pool.
	IsAdmitted(id string) bool
	// Admit performs the admission handshake for a node that is not yet
	// admitted.
	Admit(id string) error
	// Capacity returns the total and used capacity readings of an admitted
	// node. ok is false when the node cannot be read this cycle.
	Capacity(id string) (total, used float64, ok bool)
	// IsPrimary reports whether the node hosts the orchestrator itself.
	IsPrimary(id string) bool
	// IsElastic reports whether the operator can provision the node on
	// demand.
	IsElastic(id string) bool
	// EligibleTargets returns the domain specific resources the system is
	// permitted to act on.
	EligibleTargets() []string
	// PushPayload copies the task executables to a node.
	PushPayload(id string) error
}

// Scanner walks the compute graph and produces topology snapshots.
type Scanner struct {
	fabric Fabric
	store  store.Store
	// nowFn is replaced in tests
	nowFn func() time.Time
}

func NewScanner(fabric Fabric, s store.Store) *Scanner {
	return &Scanner{
		fabric: fabric,
		store:  s,
		nowFn:  time.Now,
	}
}

type pushedDoc struct {
	NodeIDs []string `json:"nodeIDs"`
}

// Scan traverses the graph breadth-first from the fabric root, visiting
// each reachable node exactly once, attempting admission for nodes that are
// not admitted yet. It persists the resulting snapshot, diffs it against
// the previously persisted one and pushes the task payloads to newly
// admitted nodes with nonzero capacity.
//
// Admission failures are never fatal to the scan: a node whose handshake
// errors is simply not admitted this cycle.
func (sc *Scanner) Scan() (*Snapshot, *ChangeSet) {
	snapshot := &Snapshot{
		Nodes:     make(map[string]*Node),
		ScannedAt: sc.nowFn(),
	}

	root := sc.fabric.Root()
	visited := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		snapshot.AllNodeIDs = append(snapshot.AllNodeIDs, id)
		sc.visit(id, snapshot)
		for _, next := range sc.fabric.Neighbors(id) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	snapshot.EligibleTargets = sc.fabric.EligibleTargets()

	previous := sc.previousSnapshot()
	changes := DiffSnapshots(previous, snapshot)

	if !sc.store.Write(SnapshotKey, snapshot) {
		log.Logger().Warn("failed to persist topology snapshot")
	}
	sc.pushPayloads(snapshot, changes)

	log.Logger().Info("topology scan complete",
		zap.Int("nodes", len(snapshot.AllNodeIDs)),
		zap.Int("admitted", len(snapshot.AdmittedNodeIDs)),
		zap.Float64("availableCapacity", snapshot.TotalAvailableCapacity),
		zap.Int("newServers", len(changes.NewServers)),
		zap.Int("newlyRooted", len(changes.NewlyRooted)))
	return snapshot, changes
}

func (sc *Scanner) visit(id string, snapshot *Snapshot) {
	if !sc.fabric.IsAdmitted(id) {
		if err := sc.fabric.Admit(id); err != nil {
			log.Logger().Debug("admission attempt failed",
				zap.String("nodeID", id),
				zap.Error(err))
			return
		}
		if !sc.fabric.IsAdmitted(id) {
			return
		}
	}
	total, used, ok := sc.fabric.Capacity(id)
	if !ok {
		log.Logger().Debug("capacity reading unavailable",
			zap.String("nodeID", id))
		return
	}
	node := NewNode(id, total, used, sc.fabric.IsPrimary(id), sc.fabric.IsElastic(id))
	snapshot.Nodes[id] = node
	snapshot.AdmittedNodeIDs = append(snapshot.AdmittedNodeIDs, id)
	snapshot.TotalAvailableCapacity += node.AvailableCapacity()
}

// previousSnapshot restores the last persisted snapshot, treating malformed
// state as absent.
func (sc *Scanner) previousSnapshot() *Snapshot {
	previous := &Snapshot{}
	if !sc.store.Read(SnapshotKey, previous) {
		return nil
	}
	if !previous.Valid() {
		log.Logger().Warn("ignoring malformed persisted snapshot")
		return nil
	}
	return previous
}

// pushPayloads sends the task executables to newly admitted nodes with
// nonzero capacity. The pushed set is persisted so the push stays
// idempotent across scans and restarts.
func (sc *Scanner) pushPayloads(snapshot *Snapshot, changes *ChangeSet) {
	pushed := &pushedDoc{}
	sc.store.Read(payloadKey, pushed)
	done := make(map[string]bool, len(pushed.NodeIDs))
	for _, id := range pushed.NodeIDs {
		done[id] = true
	}

	dirty := false
	for _, id := range changes.NewlyRooted {
		if done[id] {
			continue
		}
		node := snapshot.Nodes[id]
		if node == nil || node.TotalCapacity == 0 {
			continue
		}
		if err := sc.fabric.PushPayload(id); err != nil {
			log.Logger().Warn("payload push failed",
				zap.String("nodeID", id),
				zap.Error(err))
			continue
		}
		pushed.NodeIDs = append(pushed.NodeIDs, id)
		dirty = true
	}
	if dirty {
		sc.store.Write(payloadKey, pushed)
	}
}
