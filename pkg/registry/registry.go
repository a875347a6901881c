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

package registry

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/launch"
	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/store"
)

// ModulesKey is where the registry table lives in the state store.
const ModulesKey = "registry/modules"

// AllocationInfo tracks a module's capacity numbers: what it asked for,
// what the allocator granted and what it last reported actually using.
type AllocationInfo struct {
	Requested  float64 `json:"requested"`
	Allocated  float64 `json:"allocated"`
	ActualUsed float64 `json:"actualUsed"`
}

// Module is one registered unit of managed work. The slice order of the
// persisted table is the insertion order, which keeps priority sorting
// stable.
type Module struct {
	Name             string            `json:"name"`
	ExecutablePath   string            `json:"executablePath"`
	Config           map[string]string `json:"config,omitempty"`
	Priority         int               `json:"priority"`
	MinCapacity      float64           `json:"minCapacity"`
	MaxCapacity      float64           `json:"maxCapacity"`
	Enabled          bool              `json:"enabled"`
	State            string            `json:"state"`
	ProcessHandle    *launch.Handle    `json:"processHandle,omitempty"`
	ControlChannelID int               `json:"controlChannelID"`
	StatusChannelID  int               `json:"statusChannelID"`
	LastStatusAt     time.Time         `json:"lastStatusAt"`
	Allocation       AllocationInfo    `json:"allocation"`
	RestartCount     int               `json:"restartCount"`
}

// LifecycleState returns the parsed state, defaulting a module with a
// malformed persisted state to stopped.
func (m *Module) LifecycleState() State {
	state, ok := ParseState(m.State)
	if !ok {
		return Stopped
	}
	return state
}

// Registration is the caller supplied part of a module record.
type Registration struct {
	Name             string
	ExecutablePath   string
	Config           map[string]string
	Priority         int
	MinCapacity      float64
	MaxCapacity      float64
	Enabled          bool
	ControlChannelID int
	StatusChannelID  int
}

type moduleTable struct {
	Modules []*Module `json:"modules"`
}

// Registry is the authoritative table of known modules. Every operation is
// an atomic load-mutate-save over the state store, and every operation
// absorbs store failures into its boolean result: the registry must never
// crash the control loop, callers decide what a failure means.
type Registry struct {
	store store.Store
	// nowFn is replaced in tests
	nowFn func() time.Time
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{
		store: s,
		nowFn: time.Now,
	}
}

// SetClock lets the daemon drive the freshness stamps from its own clock.
func (r *Registry) SetClock(nowFn func() time.Time) {
	r.nowFn = nowFn
}

func (r *Registry) load() *moduleTable {
	table := &moduleTable{}
	// absent and malformed both start an empty table
	r.store.Read(ModulesKey, table)
	return table
}

func (r *Registry) save(table *moduleTable) bool {
	if !r.store.Write(ModulesKey, table) {
		log.Logger().Error("failed to persist module registry")
		return false
	}
	return true
}

func (table *moduleTable) find(name string) *Module {
	for _, mod := range table.Modules {
		if mod.Name == name {
			return mod
		}
	}
	return nil
}

// Register upserts a module record. A new record starts stopped; an
// existing one keeps its lifecycle state, process handle, allocation and
// restart count and only refreshes the declared fields.
func (r *Registry) Register(reg Registration) bool {
	if reg.Name == "" || reg.MinCapacity > reg.MaxCapacity {
		log.Logger().Warn("rejecting invalid module registration",
			zap.String("module", reg.Name))
		return false
	}
	table := r.load()
	mod := table.find(reg.Name)
	if mod == nil {
		mod = &Module{
			Name:  reg.Name,
			State: Stopped.String(),
		}
		table.Modules = append(table.Modules, mod)
	}
	mod.ExecutablePath = reg.ExecutablePath
	mod.Config = reg.Config
	mod.Priority = reg.Priority
	mod.MinCapacity = reg.MinCapacity
	mod.MaxCapacity = reg.MaxCapacity
	mod.Enabled = reg.Enabled
	mod.ControlChannelID = reg.ControlChannelID
	mod.StatusChannelID = reg.StatusChannelID
	mod.LastStatusAt = r.nowFn()
	return r.save(table)
}

// Unregister removes the record entirely. Reports false when the module is
// unknown.
func (r *Registry) Unregister(name string) bool {
	table := r.load()
	for i, mod := range table.Modules {
		if mod.Name == name {
			table.Modules = append(table.Modules[:i], table.Modules[i+1:]...)
			return r.save(table)
		}
	}
	return false
}

// Get returns a copy-free view of one record, nil when unknown.
func (r *Registry) Get(name string) *Module {
	return r.load().find(name)
}

// SetLifecycleState moves a module along the state machine. Illegal
// transitions are rejected; a same-state call succeeds and refreshes the
// freshness stamp.
func (r *Registry) SetLifecycleState(name string, target State) bool {
	table := r.load()
	mod := table.find(name)
	if mod == nil {
		return false
	}
	next, ok := transition(mod.LifecycleState(), target)
	if !ok {
		log.Logger().Warn("rejected lifecycle transition",
			zap.String("module", name),
			zap.String("from", mod.State),
			zap.String("to", target.String()))
		return false
	}
	mod.State = next.String()
	mod.LastStatusAt = r.nowFn()
	return r.save(table)
}

// SetProcessHandle attaches or clears (nil) the process handle.
func (r *Registry) SetProcessHandle(name string, handle *launch.Handle) bool {
	table := r.load()
	mod := table.find(name)
	if mod == nil {
		return false
	}
	mod.ProcessHandle = handle
	mod.LastStatusAt = r.nowFn()
	return r.save(table)
}

// SetChannels reassigns the module's mailbox channels.
func (r *Registry) SetChannels(name string, controlID, statusID int) bool {
	table := r.load()
	mod := table.find(name)
	if mod == nil {
		return false
	}
	mod.ControlChannelID = controlID
	mod.StatusChannelID = statusID
	mod.LastStatusAt = r.nowFn()
	return r.save(table)
}

// SetAllocation updates the capacity numbers that are non-nil. It never
// touches the freshness stamp: the daemon writes allocations every tick, so
// stamping here would keep a silent module looking alive forever. Only a
// lifecycle transition refreshes LastStatusAt.
func (r *Registry) SetAllocation(name string, requested, allocated, actualUsed *float64) bool {
	table := r.load()
	mod := table.find(name)
	if mod == nil {
		return false
	}
	if requested != nil {
		mod.Allocation.Requested = *requested
	}
	if allocated != nil {
		mod.Allocation.Allocated = *allocated
	}
	if actualUsed != nil {
		mod.Allocation.ActualUsed = *actualUsed
	}
	return r.save(table)
}

// IncrementRestartCount bumps the recovery counter.
func (r *Registry) IncrementRestartCount(name string) bool {
	table := r.load()
	mod := table.find(name)
	if mod == nil {
		return false
	}
	mod.RestartCount++
	return r.save(table)
}

// ListByPriority returns all records sorted descending by priority, ties
// keeping registration order.
func (r *Registry) ListByPriority() []*Module {
	modules := r.load().Modules
	out := make([]*Module, len(modules))
	copy(out, modules)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// ListByState returns the records currently in the given state, in
// registration order.
func (r *Registry) ListByState(state State) []*Module {
	var out []*Module
	for _, mod := range r.load().Modules {
		if mod.LifecycleState() == state {
			out = append(out, mod)
		}
	}
	return out
}

// ListRunning returns records that are running and have a live process
// handle attached.
func (r *Registry) ListRunning() []*Module {
	var out []*Module
	for _, mod := range r.load().Modules {
		if mod.LifecycleState() == Running && mod.ProcessHandle != nil {
			out = append(out, mod)
		}
	}
	return out
}

// FindByProcessHandle resolves a handle id back to its module.
func (r *Registry) FindByProcessHandle(handleID string) *Module {
	for _, mod := range r.load().Modules {
		if mod.ProcessHandle != nil && mod.ProcessHandle.ID == handleID {
			return mod
		}
	}
	return nil
}
