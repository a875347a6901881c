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
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/allocator"
	"github.com/modgrid/modgrid-core/pkg/common/configs"
	"github.com/modgrid/modgrid-core/pkg/launch"
	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/mailbox"
	"github.com/modgrid/modgrid-core/pkg/metrics"
	"github.com/modgrid/modgrid-core/pkg/metrics/history"
	"github.com/modgrid/modgrid-core/pkg/registry"
	"github.com/modgrid/modgrid-core/pkg/store"
	"github.com/modgrid/modgrid-core/pkg/topology"
)

const (
	// OverridesKey holds operator config overrides in the state store.
	OverridesKey = "config/overrides"
	// localNodeID is the fallback launch target before the first scan finds
	// a primary node.
	localNodeID = "local"
	// threadsConfigKey lets a module declare its thread count in its config.
	threadsConfigKey = "threads"

	recoveryInitialInterval = 2 * time.Second
	recoveryMaxInterval     = 5 * time.Minute
)

// recoveryState staggers restart attempts per module: each failed module
// gets its own exponential backoff so one flapping module cannot cause a
// restart storm.
type recoveryState struct {
	backoff   *backoff.ExponentialBackOff
	notBefore time.Time
}

// Daemon is the orchestrator's control loop. One logical thread drives all
// mutations to the registry, topology snapshot and allocation state; the
// modules themselves only talk back through the mailbox.
type Daemon struct {
	conf     *configs.OrchestratorConfig
	store    store.Store
	registry *registry.Registry
	scanner  *topology.Scanner
	mailbox  *mailbox.Mailbox
	launcher launch.Launcher
	history  *history.AggregateHistory
	clock    clock.Clock

	// liveRequests memoizes the latest status-reported resource request per
	// module across iterations. Owned by the loop, never package state.
	liveRequests map[string]*allocator.ResourceRequest
	recovery     map[string]*recoveryState

	snapshot  *topology.Snapshot
	pool      []*allocator.PoolNode
	lastScan  time.Time
	startedAt time.Time
	ticks     int64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewDaemon(
	conf *configs.OrchestratorConfig,
	s store.Store,
	reg *registry.Registry,
	scanner *topology.Scanner,
	mbox *mailbox.Mailbox,
	launcher launch.Launcher,
	hist *history.AggregateHistory,
) *Daemon {
	d := &Daemon{
		conf:         conf,
		store:        s,
		registry:     reg,
		scanner:      scanner,
		mailbox:      mbox,
		launcher:     launcher,
		history:      hist,
		clock:        clock.New(),
		liveRequests: make(map[string]*allocator.ResourceRequest),
		recovery:     make(map[string]*recoveryState),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	reg.SetClock(d.clock.Now)
	return d
}

// SetClock replaces the daemon clock. Visible by tests; call before
// StartService.
func (d *Daemon) SetClock(c clock.Clock) {
	d.clock = c
	d.registry.SetClock(c.Now)
}

// StartService runs the control loop until Stop is called.
func (d *Daemon) StartService() {
	metrics.Register()
	go func() {
		defer close(d.done)
		d.initialize()
		ticker := d.clock.Ticker(d.conf.TickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.runIteration()
			}
		}
	}()
}

// Stop terminates the loop and cooperatively stops every module that still
// has a process.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.done
		d.stopAllModules()
	})
}

// initialize is the initializing -> running edge: config overrides,
// restored statistics, one discovery pass, module registration and the
// staggered start of every enabled module in priority order. The stagger
// keeps the first allocation pass from being a capacity-request thundering
// herd.
func (d *Daemon) initialize() {
	overrides := &configs.Overrides{}
	if d.store.Read(OverridesKey, overrides) {
		d.conf.ApplyOverrides(overrides)
		log.Logger().Info("applied persisted config overrides")
	}

	d.startedAt = d.clock.Now()
	restored := &AggregateStats{}
	if d.store.Read(StatsKey, restored) && !restored.StartedAt.IsZero() {
		d.startedAt = restored.StartedAt
	}

	d.scan()

	for _, mod := range d.conf.Modules {
		d.registry.Register(registry.Registration{
			Name:             mod.Name,
			ExecutablePath:   mod.ExecutablePath,
			Config:           mod.Config,
			Priority:         mod.Priority,
			MinCapacity:      mod.MinCapacity,
			MaxCapacity:      mod.MaxCapacity,
			Enabled:          mod.Enabled,
			ControlChannelID: mod.ControlChannel,
			StatusChannelID:  mod.StatusChannel,
		})
	}

	// reconcile state that survived a daemon restart: a record claiming to
	// be live without a live process goes to error so the start loop and
	// the recovery path can pick it up
	for _, mod := range d.registry.ListByPriority() {
		state := mod.LifecycleState()
		if state == registry.Stopped || state == registry.Error {
			continue
		}
		if mod.ProcessHandle == nil || !d.launcher.IsRunning(mod.ProcessHandle) {
			d.registry.SetLifecycleState(mod.Name, registry.Error)
			d.registry.SetProcessHandle(mod.Name, nil)
		}
	}

	for _, mod := range d.registry.ListByPriority() {
		if !mod.Enabled {
			continue
		}
		state := mod.LifecycleState()
		if state != registry.Stopped && state != registry.Error {
			// already live from before the restart
			continue
		}
		d.startModule(mod)
		d.pause(d.conf.StartStagger())
	}
	log.Logger().Info("daemon initialized",
		zap.Int("modules", len(d.registry.ListByPriority())))
}

// runIteration is one tick of the control loop. Nothing inside it may
// terminate the process; a panic is caught and the loop proceeds on the
// next tick.
func (d *Daemon) runIteration() {
	defer func() {
		if r := recover(); r != nil {
			log.Logger().Error("control loop iteration panicked",
				zap.Any("cause", r))
		}
	}()
	d.ticks++

	if d.clock.Now().Sub(d.lastScan) > d.conf.RescanInterval() {
		d.scan()
	}
	d.collectStatus()
	if d.conf.AutoRecovery {
		d.recoverFailedModules()
	}
	d.allocate()
	d.publishStats()
}

func (d *Daemon) scan() {
	snapshot, changes := d.scanner.Scan()
	d.snapshot = snapshot
	d.lastScan = d.clock.Now()
	metrics.TopologyScans.Inc()
	if !changes.Empty() {
		log.Logger().Info("topology changed",
			zap.Strings("newServers", changes.NewServers),
			zap.Strings("newlyRooted", changes.NewlyRooted),
			zap.Strings("newTargets", changes.NewTargets))
	}
}

// collectStatus drains every module's status channel, translates activity
// into lifecycle state, caches embedded resource requests and escalates
// silent modules to error.
func (d *Daemon) collectStatus() {
	for _, mod := range d.registry.ListByPriority() {
		for {
			msg, ok := d.mailbox.TryReceive(mod.StatusChannelID)
			if !ok {
				break
			}
			switch m := msg.(type) {
			case *mailbox.StatusMessage:
				d.applyStatus(mod, m)
			case *mailbox.ControlMessage:
				log.Logger().Warn("control message on a status channel dropped",
					zap.String("module", mod.Name),
					zap.Int("channelID", mod.StatusChannelID))
			}
		}
	}

	// timeout detection by timestamp comparison, no blocking waits:
	// detection latency is bounded by the tick interval
	now := d.clock.Now()
	for _, mod := range d.registry.ListByPriority() {
		state := mod.LifecycleState()
		if state == registry.Stopped || state == registry.Error {
			continue
		}
		if now.Sub(mod.LastStatusAt) > d.conf.StatusTimeout() {
			log.Logger().Warn("module status timed out",
				zap.String("module", mod.Name),
				zap.Time("lastStatus", mod.LastStatusAt))
			d.registry.SetLifecycleState(mod.Name, registry.Error)
		}
	}
}

func (d *Daemon) applyStatus(mod *registry.Module, msg *mailbox.StatusMessage) {
	if msg.Type != mailbox.StatusUpdateType {
		return
	}
	target := registry.Paused
	if msg.Data.IsActive {
		target = registry.Running
	}
	// a same-state update still refreshes the freshness stamp
	d.registry.SetLifecycleState(mod.Name, target)

	actual := msg.Data.CapacityUsage
	d.registry.SetAllocation(mod.Name, nil, nil, &actual)

	if req := msg.Data.ResourceRequest; req != nil {
		// the live request wins outright over the registered bounds; the
		// registered min/max stay a fallback only
		req.ModuleName = mod.Name
		if req.Priority == 0 {
			req.Priority = mod.Priority
		}
		d.liveRequests[mod.Name] = req
	}
	if msg.Data.IsHealthy {
		// a healthy report resets the module's recovery backoff
		delete(d.recovery, mod.Name)
	}
	if len(msg.Data.Errors) > 0 {
		log.Logger().Warn("module reported errors",
			zap.String("module", mod.Name),
			zap.Strings("errors", msg.Data.Errors))
	}
}

// recoverFailedModules restarts modules in error state, each within its own
// backoff window. A module whose process is still alive (silent, or somehow
// wedged) gets the cooperative stop first so the restart never duplicates
// the process.
func (d *Daemon) recoverFailedModules() {
	now := d.clock.Now()
	for _, mod := range d.registry.ListByState(registry.Error) {
		rec := d.recovery[mod.Name]
		if rec == nil {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = recoveryInitialInterval
			eb.MaxInterval = recoveryMaxInterval
			// never give up, the loop keeps retrying on its own cadence
			eb.MaxElapsedTime = 0
			eb.Reset()
			rec = &recoveryState{backoff: eb}
			d.recovery[mod.Name] = rec
		}
		if now.Before(rec.notBefore) {
			continue
		}
		if mod.ProcessHandle != nil && d.launcher.IsRunning(mod.ProcessHandle) {
			log.Logger().Info("replacing live but silent module process",
				zap.String("module", mod.Name),
				zap.String("handleID", mod.ProcessHandle.ID))
			d.mailbox.Send(mod.ControlChannelID, &mailbox.ControlMessage{Kind: mailbox.ControlStop})
			d.pause(d.conf.StopGrace())
			d.launcher.Terminate(mod.ProcessHandle)
			d.registry.SetProcessHandle(mod.Name, nil)
		}
		log.Logger().Info("recovering failed module",
			zap.String("module", mod.Name),
			zap.Int("restartCount", mod.RestartCount))
		if d.startModule(mod) {
			d.registry.IncrementRestartCount(mod.Name)
			metrics.ModuleRestarts.Inc()
		}
		rec.notBefore = now.Add(rec.backoff.NextBackOff())
	}
}

// startModule launches the executable and runs the start handshake: a
// start control message with the last known config, a brief pause, then one
// retry of the start message.
func (d *Daemon) startModule(mod *registry.Module) bool {
	if !d.registry.SetLifecycleState(mod.Name, registry.Starting) {
		return false
	}
	threads := 1
	if t, err := strconv.Atoi(mod.Config[threadsConfigKey]); err == nil && t > 0 {
		threads = t
	}
	handle, err := d.launcher.Start(context.Background(), mod.ExecutablePath, d.launchNodeID(), threads)
	if err != nil {
		log.Logger().Error("module launch failed",
			zap.String("module", mod.Name),
			zap.String("executable", mod.ExecutablePath),
			zap.Error(err))
		d.registry.SetLifecycleState(mod.Name, registry.Error)
		return false
	}
	d.registry.SetProcessHandle(mod.Name, handle)

	start := &mailbox.ControlMessage{Kind: mailbox.ControlStart, Config: mod.Config}
	d.mailbox.Send(mod.ControlChannelID, start)
	d.pause(d.conf.StartRetryPause())
	d.mailbox.Send(mod.ControlChannelID, start)
	return true
}

// launchNodeID returns the primary node of the latest snapshot.
func (d *Daemon) launchNodeID() string {
	if d.snapshot != nil {
		for _, node := range d.snapshot.Nodes {
			if node.Primary {
				return node.NodeID
			}
		}
	}
	return localNodeID
}

// allocate runs step four of the loop: gather requests (live cache
// preferred, registry defaults as fallback), run the allocator, persist the
// result and push each grant to its module.
func (d *Daemon) allocate() {
	// a live request is only as alive as its module: once the module leaves
	// the live states its cached request must stop drawing capacity
	for name := range d.liveRequests {
		mod := d.registry.Get(name)
		if mod == nil {
			delete(d.liveRequests, name)
			continue
		}
		state := mod.LifecycleState()
		if state == registry.Stopped || state == registry.Error {
			delete(d.liveRequests, name)
		}
	}

	var requests []*allocator.ResourceRequest
	if len(d.liveRequests) > 0 {
		// iterate the registry so ties keep a deterministic order
		for _, mod := range d.registry.ListByPriority() {
			if req, ok := d.liveRequests[mod.Name]; ok {
				requests = append(requests, req)
			}
		}
	} else {
		for _, mod := range d.registry.ListByPriority() {
			state := mod.LifecycleState()
			if state != registry.Running && state != registry.Starting {
				continue
			}
			requests = append(requests, &allocator.ResourceRequest{
				ModuleName:  mod.Name,
				Priority:    mod.Priority,
				MinCapacity: mod.MinCapacity,
				MaxCapacity: mod.MaxCapacity,
			})
		}
	}

	pool := allocator.BuildCapacityPool(d.snapshot, d.conf.PrimaryReservation)
	allocations := allocator.Allocate(pool, requests)
	d.pool = pool

	if !d.store.Write(allocator.AllocationsKey, allocations) {
		log.Logger().Warn("failed to persist allocations")
	}

	granted := make(map[string]*allocator.CapacityAllocation, len(allocations))
	for _, alloc := range allocations {
		granted[alloc.ModuleName] = alloc
	}
	for _, req := range requests {
		alloc, ok := granted[req.ModuleName]
		if !ok {
			metrics.AllocationShortfall.Inc()
			continue
		}
		metrics.AllocationFulfilled.Inc()
		mod := d.registry.Get(req.ModuleName)
		if mod == nil {
			continue
		}
		requested := req.MaxCapacity
		d.registry.SetAllocation(mod.Name, &requested, &alloc.AllocatedTotal, nil)
		d.mailbox.Send(mod.ControlChannelID, &mailbox.ControlMessage{
			Kind:       mailbox.ControlResourceAllocation,
			Allocation: alloc,
		})
	}
}

// stopAllModules sends every module with a process the cooperative stop,
// waits out the grace period once, then terminates what is still alive.
func (d *Daemon) stopAllModules() {
	var stopping []*registry.Module
	for _, mod := range d.registry.ListByPriority() {
		if mod.ProcessHandle == nil {
			continue
		}
		d.mailbox.Send(mod.ControlChannelID, &mailbox.ControlMessage{Kind: mailbox.ControlStop})
		stopping = append(stopping, mod)
	}
	if len(stopping) == 0 {
		return
	}
	d.pause(d.conf.StopGrace())
	for _, mod := range stopping {
		if d.launcher.IsRunning(mod.ProcessHandle) {
			d.launcher.Terminate(mod.ProcessHandle)
		}
		d.registry.SetProcessHandle(mod.Name, nil)
		d.registry.SetLifecycleState(mod.Name, registry.Stopped)
	}
}

func (d *Daemon) pause(dur time.Duration) {
	if dur > 0 {
		d.clock.Sleep(dur)
	}
}
