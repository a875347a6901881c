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
	"testing"

	"gotest.tools/v3/assert"

	"github.com/modgrid/modgrid-core/pkg/store"
)

// scriptedFabric gives tests full control over the graph and admission
// behavior, including cycles and failing handshakes.
type scriptedFabric struct {
	root      string
	neighbors map[string][]string
	admitted  map[string]bool
	admitErr  map[string]error
	capacity  map[string][2]float64
	primary   map[string]bool
	targets   []string
	pushed    []string
	pushErr   map[string]error
	visits    []string
}

func newScriptedFabric(root string) *scriptedFabric {
	return &scriptedFabric{
		root:      root,
		neighbors: make(map[string][]string),
		admitted:  make(map[string]bool),
		admitErr:  make(map[string]error),
		capacity:  make(map[string][2]float64),
		primary:   make(map[string]bool),
		pushErr:   make(map[string]error),
	}
}

func (f *scriptedFabric) addNode(id string, total, used float64, neighbors ...string) {
	f.capacity[id] = [2]float64{total, used}
	f.neighbors[id] = neighbors
}

func (f *scriptedFabric) Root() string                 { return f.root }
func (f *scriptedFabric) Neighbors(id string) []string { return f.neighbors[id] }
func (f *scriptedFabric) IsAdmitted(id string) bool    { return f.admitted[id] }

func (f *scriptedFabric) Admit(id string) error {
	f.visits = append(f.visits, id)
	if err := f.admitErr[id]; err != nil {
		return err
	}
	f.admitted[id] = true
	return nil
}

func (f *scriptedFabric) Capacity(id string) (float64, float64, bool) {
	readings, ok := f.capacity[id]
	if !ok {
		return 0, 0, false
	}
	return readings[0], readings[1], true
}

func (f *scriptedFabric) IsPrimary(id string) bool  { return f.primary[id] }
func (f *scriptedFabric) IsElastic(id string) bool  { return false }
func (f *scriptedFabric) EligibleTargets() []string { return f.targets }

func (f *scriptedFabric) PushPayload(id string) error {
	if err := f.pushErr[id]; err != nil {
		return err
	}
	f.pushed = append(f.pushed, id)
	return nil
}

func TestScanVisitsEveryNodeOnceInCyclicGraph(t *testing.T) {
	fabric := newScriptedFabric("A")
	// A <-> B <-> C, C -> A closes the cycle
	fabric.addNode("A", 100, 0, "B")
	fabric.addNode("B", 50, 0, "A", "C")
	fabric.addNode("C", 25, 0, "A")

	scanner := NewScanner(fabric, store.NewMemoryStore())
	snapshot, _ := scanner.Scan()

	assert.DeepEqual(t, snapshot.AllNodeIDs, []string{"A", "B", "C"})
	assert.Equal(t, len(snapshot.AdmittedNodeIDs), 3)
	assert.Equal(t, snapshot.TotalAvailableCapacity, 175.0)
	// one admission attempt per node, the visited set stops the cycle
	assert.DeepEqual(t, fabric.visits, []string{"A", "B", "C"})
}

func TestScanAdmissionFailureIsNotFatal(t *testing.T) {
	fabric := newScriptedFabric("A")
	fabric.addNode("A", 100, 0, "B")
	fabric.addNode("B", 50, 0)
	fabric.admitErr["B"] = fmt.Errorf("handshake refused")

	scanner := NewScanner(fabric, store.NewMemoryStore())
	snapshot, _ := scanner.Scan()

	assert.DeepEqual(t, snapshot.AllNodeIDs, []string{"A", "B"})
	assert.DeepEqual(t, snapshot.AdmittedNodeIDs, []string{"A"})
	assert.Assert(t, snapshot.Nodes["B"] == nil)
}

func TestScanPersistsAndDiffs(t *testing.T) {
	memStore := store.NewMemoryStore()
	fabric := newScriptedFabric("A")
	fabric.addNode("A", 100, 0)

	scanner := NewScanner(fabric, memStore)
	_, first := scanner.Scan()
	assert.DeepEqual(t, first.NewServers, []string{"A"})
	assert.DeepEqual(t, first.NewlyRooted, []string{"A"})

	// second scan discovers a new neighbor
	fabric.neighbors["A"] = []string{"B"}
	fabric.addNode("B", 50, 0)
	_, second := scanner.Scan()
	assert.DeepEqual(t, second.NewServers, []string{"B"})
	assert.DeepEqual(t, second.NewlyRooted, []string{"B"})

	restored := &Snapshot{}
	assert.Assert(t, memStore.Read(SnapshotKey, restored))
	assert.Assert(t, restored.Valid())
	assert.Equal(t, len(restored.AllNodeIDs), 2)
}

func TestScanPushesPayloadsOnce(t *testing.T) {
	memStore := store.NewMemoryStore()
	fabric := newScriptedFabric("A")
	fabric.addNode("A", 100, 0, "B")
	fabric.addNode("B", 0, 0)

	scanner := NewScanner(fabric, memStore)
	scanner.Scan()
	// B has zero capacity and gets no payload
	assert.DeepEqual(t, fabric.pushed, []string{"A"})

	// rescans must not push again
	scanner.Scan()
	assert.DeepEqual(t, fabric.pushed, []string{"A"})

	// neither does a fresh scanner over the same store
	again := NewScanner(fabric, memStore)
	again.Scan()
	assert.DeepEqual(t, fabric.pushed, []string{"A"})
}

func TestScanPayloadPushFailureRetriesNextScan(t *testing.T) {
	memStore := store.NewMemoryStore()
	fabric := newScriptedFabric("A")
	fabric.addNode("A", 100, 0)
	fabric.pushErr["A"] = fmt.Errorf("transfer failed")

	scanner := NewScanner(fabric, memStore)
	scanner.Scan()
	assert.Equal(t, len(fabric.pushed), 0)

	// a failed push is not recorded as done, but the node is no longer
	// newly rooted on the next scan, so the retry happens when the node
	// shows up as new again after dropping out
	delete(fabric.pushErr, "A")
	fabric.admitted = map[string]bool{}
	memStore.Write(SnapshotKey, &Snapshot{})
	scanner.Scan()
	assert.DeepEqual(t, fabric.pushed, []string{"A"})
}
