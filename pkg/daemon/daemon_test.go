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

package daemon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"gotest.tools/v3/assert"

	"github.com/modgrid/modgrid-core/pkg/allocator"
	"github.com/modgrid/modgrid-core/pkg/common/configs"
	"github.com/modgrid/modgrid-core/pkg/launch"
	"github.com/modgrid/modgrid-core/pkg/mailbox"
	"github.com/modgrid/modgrid-core/pkg/metrics/history"
	"github.com/modgrid/modgrid-core/pkg/registry"
	"github.com/modgrid/modgrid-core/pkg/store"
	"github.com/modgrid/modgrid-core/pkg/topology"
)

// fakeLauncher tracks handles in memory so tests can kill a process by
// flipping a map entry. Handle ids come from a package counter so two
// launcher instances over the same store never mint the same id, the way
// real pids and uuids never collide across daemon restarts.
var fakeHandleSeq int

type fakeLauncher struct {
	failNext   bool
	running    map[string]bool
	started    []string
	terminated []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{running: make(map[string]bool)}
}

func (f *fakeLauncher) Start(_ context.Context, executablePath, nodeID string, threads int, args ...string) (*launch.Handle, error) {
	if f.failNext {
		f.failNext = false
		return nil, fmt.Errorf("simulated launch failure for %s", executablePath)
	}
	fakeHandleSeq++
	id := fmt.Sprintf("proc-%d", fakeHandleSeq)
	f.running[id] = true
	f.started = append(f.started, executablePath)
	return &launch.Handle{
		ID:      id,
		NodeID:  nodeID,
		Backend: launch.BackendExec,
		PID:     fakeHandleSeq,
	}, nil
}

func (f *fakeLauncher) IsRunning(handle *launch.Handle) bool {
	return handle != nil && f.running[handle.ID]
}

func (f *fakeLauncher) Terminate(handle *launch.Handle) bool {
	if handle == nil {
		return true
	}
	delete(f.running, handle.ID)
	f.terminated = append(f.terminated, handle.ID)
	return true
}

func (f *fakeLauncher) kill(handle *launch.Handle) {
	delete(f.running, handle.ID)
}

type harness struct {
	daemon   *Daemon
	store    store.Store
	registry *registry.Registry
	mailbox  *mailbox.Mailbox
	launcher *fakeLauncher
	mock     *clock.Mock
}

func testConfig() *configs.OrchestratorConfig {
	conf := configs.DefaultConfig()
	conf.StartStaggerSeconds = 0
	conf.StartRetrySeconds = 0
	conf.StopGraceSeconds = 0
	conf.RootNode = "home"
	conf.Nodes = []configs.NodeConfig{
		{ID: "home", TotalCapacity: 1024, Primary: true, Neighbors: []string{"n1"}},
		{ID: "n1", TotalCapacity: 512, Neighbors: []string{"home"}},
	}
	conf.Modules = []configs.ModuleConfig{
		{
			Name:           "alpha",
			ExecutablePath: "/opt/modgrid/alpha",
			Priority:       1,
			MinCapacity:    40,
			MaxCapacity:    120,
			ControlChannel: 0,
			StatusChannel:  1,
			Enabled:        true,
		},
		{
			Name:           "beta",
			ExecutablePath: "/opt/modgrid/beta",
			Priority:       2,
			MinCapacity:    10,
			MaxCapacity:    20,
			ControlChannel: 2,
			StatusChannel:  3,
			Enabled:        false,
		},
	}
	return conf
}

func newHarness(t *testing.T, conf *configs.OrchestratorConfig, memStore store.Store) *harness {
	nodes := make([]topology.FabricNode, 0, len(conf.Nodes))
	for _, n := range conf.Nodes {
		nodes = append(nodes, topology.FabricNode{
			ID:            n.ID,
			TotalCapacity: n.TotalCapacity,
			UsedCapacity:  n.UsedCapacity,
			Primary:       n.Primary,
			Elastic:       n.Elastic,
			Neighbors:     n.Neighbors,
		})
	}
	fabric, err := topology.NewStaticFabric(nodes, conf.RootNode, conf.Targets)
	assert.NilError(t, err)

	reg := registry.NewRegistry(memStore)
	mbox := mailbox.NewMailbox(memStore, conf.MailboxChannels, conf.MailboxCapacity)
	launcher := newFakeLauncher()
	d := NewDaemon(conf, memStore, reg, topology.NewScanner(fabric, memStore), mbox, launcher,
		history.NewAggregateHistory(conf.HistorySize))
	mock := clock.NewMock()
	d.SetClock(mock)
	return &harness{
		daemon:   d,
		store:    memStore,
		registry: reg,
		mailbox:  mbox,
		launcher: launcher,
		mock:     mock,
	}
}

func controlKinds(msgs []mailbox.Message) []mailbox.ControlKind {
	var kinds []mailbox.ControlKind
	for _, msg := range msgs {
		if control, ok := msg.(*mailbox.ControlMessage); ok {
			kinds = append(kinds, control.Kind)
		}
	}
	return kinds
}

func reportStatus(h *harness, name string, channel int, data mailbox.StatusData) {
	h.mailbox.Send(channel, mailbox.NewStatusMessage(name, data))
}

func TestInitializeStartsEnabledModules(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()

	alpha := h.registry.Get("alpha")
	assert.Assert(t, alpha != nil)
	assert.Equal(t, alpha.LifecycleState(), registry.Starting)
	assert.Assert(t, alpha.ProcessHandle != nil)
	// modules launch on the primary node of the discovered topology
	assert.Equal(t, alpha.ProcessHandle.NodeID, "home")

	beta := h.registry.Get("beta")
	assert.Assert(t, beta != nil)
	assert.Equal(t, beta.LifecycleState(), registry.Stopped)
	assert.Assert(t, beta.ProcessHandle == nil)

	assert.Equal(t, len(h.launcher.started), 1)
	assert.Equal(t, h.launcher.started[0], "/opt/modgrid/alpha")

	// start handshake is a start message plus one retry
	kinds := controlKinds(h.mailbox.Drain(0))
	assert.Equal(t, len(kinds), 2)
	assert.Equal(t, kinds[0], mailbox.ControlStart)
	assert.Equal(t, kinds[1], mailbox.ControlStart)
}

func TestLaunchFailureMovesModuleToError(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.launcher.failNext = true
	h.daemon.initialize()

	alpha := h.registry.Get("alpha")
	assert.Equal(t, alpha.LifecycleState(), registry.Error)
	assert.Assert(t, alpha.ProcessHandle == nil)
}

func TestStatusUpdatesDriveLifecycle(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()

	reportStatus(h, "alpha", 1, mailbox.StatusData{IsActive: true, IsHealthy: true, CapacityUsage: 33})
	h.daemon.runIteration()
	alpha := h.registry.Get("alpha")
	assert.Equal(t, alpha.LifecycleState(), registry.Running)
	assert.Equal(t, alpha.Allocation.ActualUsed, 33.0)

	reportStatus(h, "alpha", 1, mailbox.StatusData{IsActive: false, IsHealthy: true, CapacityUsage: 0})
	h.daemon.runIteration()
	assert.Equal(t, h.registry.Get("alpha").LifecycleState(), registry.Paused)
}

func TestSilentModuleTimesOutToError(t *testing.T) {
	conf := testConfig()
	conf.AutoRecovery = false
	h := newHarness(t, conf, store.NewMemoryStore())
	h.daemon.initialize()

	// every iteration before the deadline runs a full allocation pass; the
	// per-tick grants must not count as signs of life
	for _, step := range []time.Duration{10 * time.Second, 10 * time.Second} {
		h.mock.Add(step)
		h.daemon.runIteration()
		assert.Equal(t, h.registry.Get("alpha").LifecycleState(), registry.Starting)
		assert.Equal(t, h.registry.Get("alpha").Allocation.Allocated, 120.0)
	}

	h.mock.Add(15 * time.Second)
	h.daemon.runIteration()
	assert.Equal(t, h.registry.Get("alpha").LifecycleState(), registry.Error)
}

func TestRecoveryRestartsDeadModule(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()
	firstHandle := h.registry.Get("alpha").ProcessHandle

	h.launcher.kill(firstHandle)
	h.mock.Add(35 * time.Second)
	h.daemon.runIteration()

	alpha := h.registry.Get("alpha")
	assert.Equal(t, alpha.LifecycleState(), registry.Starting)
	assert.Equal(t, alpha.RestartCount, 1)
	assert.Assert(t, alpha.ProcessHandle != nil)
	assert.Assert(t, alpha.ProcessHandle.ID != firstHandle.ID)
}

func TestRecoveryRespectsBackoffWindow(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()
	h.launcher.kill(h.registry.Get("alpha").ProcessHandle)
	h.mock.Add(35 * time.Second)
	h.daemon.runIteration()
	assert.Equal(t, h.registry.Get("alpha").RestartCount, 1)

	// kill the replacement immediately: the backoff window keeps the next
	// attempt from happening on the very next tick
	h.launcher.kill(h.registry.Get("alpha").ProcessHandle)
	h.registry.SetLifecycleState("alpha", registry.Error)
	h.daemon.runIteration()
	assert.Equal(t, h.registry.Get("alpha").RestartCount, 1)

	h.mock.Add(5 * time.Minute)
	h.daemon.runIteration()
	assert.Equal(t, h.registry.Get("alpha").RestartCount, 2)
}

// a process that stays alive while its module goes silent is replaced, not
// left wedged in error: cooperative stop, terminate, fresh start.
func TestRecoveryReplacesLiveButSilentProcess(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()
	silentHandle := h.registry.Get("alpha").ProcessHandle
	h.mailbox.Drain(0)

	h.mock.Add(35 * time.Second)
	h.daemon.runIteration()

	alpha := h.registry.Get("alpha")
	assert.Equal(t, alpha.LifecycleState(), registry.Starting)
	assert.Equal(t, alpha.RestartCount, 1)
	assert.Assert(t, alpha.ProcessHandle != nil)
	assert.Assert(t, alpha.ProcessHandle.ID != silentHandle.ID)
	assert.Equal(t, len(h.launcher.terminated), 1)
	assert.Equal(t, h.launcher.terminated[0], silentHandle.ID)

	kinds := controlKinds(h.mailbox.Drain(0))
	// stop for the old process, then the start handshake for the new one
	assert.Assert(t, len(kinds) >= 3)
	assert.Equal(t, kinds[0], mailbox.ControlStop)
	assert.Equal(t, kinds[1], mailbox.ControlStart)
}

func TestAllocationFromRegisteredBounds(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()
	h.mailbox.Drain(0)

	h.daemon.runIteration()

	// home is docked the primary reservation, so the non-primary node n1
	// covers the whole grant
	var allocations []*allocator.CapacityAllocation
	assert.Assert(t, h.store.Read(allocator.AllocationsKey, &allocations))
	assert.Equal(t, len(allocations), 1)
	assert.Equal(t, allocations[0].ModuleName, "alpha")
	assert.Equal(t, allocations[0].AllocatedTotal, 120.0)
	assert.Equal(t, allocations[0].PerNodeAllocation["n1"], 120.0)

	alpha := h.registry.Get("alpha")
	assert.Equal(t, alpha.Allocation.Requested, 120.0)
	assert.Equal(t, alpha.Allocation.Allocated, 120.0)

	kinds := controlKinds(h.mailbox.Drain(0))
	assert.Equal(t, len(kinds), 1)
	assert.Equal(t, kinds[0], mailbox.ControlResourceAllocation)
}

func TestLiveRequestWinsOverRegisteredBounds(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()
	h.mailbox.Drain(0)

	reportStatus(h, "alpha", 1, mailbox.StatusData{
		IsActive:  true,
		IsHealthy: true,
		ResourceRequest: &allocator.ResourceRequest{
			MinCapacity: 10,
			MaxCapacity: 50,
		},
	})
	h.daemon.runIteration()

	var allocations []*allocator.CapacityAllocation
	assert.Assert(t, h.store.Read(allocator.AllocationsKey, &allocations))
	assert.Equal(t, len(allocations), 1)
	assert.Equal(t, allocations[0].AllocatedTotal, 50.0)
	assert.Equal(t, h.registry.Get("alpha").Allocation.Requested, 50.0)
}

// a cached live request must stop drawing capacity once its module drops
// out of the live states.
func TestStaleLiveRequestPrunedAfterError(t *testing.T) {
	conf := testConfig()
	conf.AutoRecovery = false
	h := newHarness(t, conf, store.NewMemoryStore())
	h.daemon.initialize()

	reportStatus(h, "alpha", 1, mailbox.StatusData{
		IsActive:  true,
		IsHealthy: true,
		ResourceRequest: &allocator.ResourceRequest{
			MinCapacity: 10,
			MaxCapacity: 50,
		},
	})
	h.daemon.runIteration()
	assert.Equal(t, h.registry.Get("alpha").Allocation.Allocated, 50.0)

	// the module goes silent past the deadline; its old request must not
	// keep being granted
	h.mock.Add(35 * time.Second)
	h.daemon.runIteration()
	assert.Equal(t, h.registry.Get("alpha").LifecycleState(), registry.Error)

	var allocations []*allocator.CapacityAllocation
	h.store.Read(allocator.AllocationsKey, &allocations)
	assert.Equal(t, len(allocations), 0)
}

func TestStoppedModulesGetNoAllocation(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()
	h.daemon.stopAllModules()
	h.mailbox.Drain(0)

	h.daemon.runIteration()
	var allocations []*allocator.CapacityAllocation
	h.store.Read(allocator.AllocationsKey, &allocations)
	assert.Equal(t, len(allocations), 0)
}

func TestStopTerminatesRunningModules(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()
	handle := h.registry.Get("alpha").ProcessHandle
	h.mailbox.Drain(0)

	h.daemon.stopAllModules()

	kinds := controlKinds(h.mailbox.Drain(0))
	assert.Equal(t, len(kinds), 1)
	assert.Equal(t, kinds[0], mailbox.ControlStop)
	assert.Equal(t, len(h.launcher.terminated), 1)
	assert.Equal(t, h.launcher.terminated[0], handle.ID)

	alpha := h.registry.Get("alpha")
	assert.Equal(t, alpha.LifecycleState(), registry.Stopped)
	assert.Assert(t, alpha.ProcessHandle == nil)
}

// after a daemon restart a record that claims to be live without a live
// process is reconciled to error and started again.
func TestInitializeReconcilesStaleLiveRecords(t *testing.T) {
	memStore := store.NewMemoryStore()
	conf := testConfig()
	first := newHarness(t, conf, memStore)
	first.daemon.initialize()
	staleHandle := first.registry.Get("alpha").ProcessHandle
	first.launcher.kill(staleHandle)

	second := newHarness(t, conf, memStore)
	second.daemon.initialize()

	alpha := second.registry.Get("alpha")
	assert.Equal(t, alpha.LifecycleState(), registry.Starting)
	assert.Assert(t, alpha.ProcessHandle != nil)
	assert.Assert(t, alpha.ProcessHandle.ID != staleHandle.ID)
	assert.Equal(t, len(second.launcher.started), 1)
}

func TestPersistedOverridesApplyOnInitialize(t *testing.T) {
	memStore := store.NewMemoryStore()
	timeout := 90.0
	memStore.Write(OverridesKey, &configs.Overrides{StatusTimeoutSeconds: &timeout})

	conf := testConfig()
	h := newHarness(t, conf, memStore)
	h.daemon.initialize()
	assert.Equal(t, conf.StatusTimeoutSeconds, 90.0)

	// the module survives past the default timeout under the override
	h.mock.Add(60 * time.Second)
	h.daemon.runIteration()
	assert.Equal(t, h.registry.Get("alpha").LifecycleState(), registry.Starting)
}

func TestPublishStatsRecordsHistory(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()
	reportStatus(h, "alpha", 1, mailbox.StatusData{IsActive: true, IsHealthy: true})
	h.daemon.runIteration()

	stats := &AggregateStats{}
	assert.Assert(t, h.store.Read(StatsKey, stats))
	assert.Equal(t, stats.TotalModules, 2)
	assert.Equal(t, stats.RunningModules, 1)
	assert.Equal(t, stats.TotalNodes, 2)
	assert.Equal(t, stats.Ticks, int64(1))

	records := h.daemon.history.GetRecords()
	assert.Equal(t, len(records), 1)
	assert.Equal(t, records[0].RunningModules, 1)
}

func TestControlMessageOnStatusChannelIsDropped(t *testing.T) {
	h := newHarness(t, testConfig(), store.NewMemoryStore())
	h.daemon.initialize()

	h.mailbox.Send(1, &mailbox.ControlMessage{Kind: mailbox.ControlStop})
	h.daemon.runIteration()

	// the stray control message must not change lifecycle state
	assert.Equal(t, h.registry.Get("alpha").LifecycleState(), registry.Starting)
	assert.Assert(t, !h.mailbox.HasPending(1))
}
