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
	"time"

	"github.com/modgrid/modgrid-core/pkg/allocator"
	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/metrics"
	"github.com/modgrid/modgrid-core/pkg/metrics/history"
	"github.com/modgrid/modgrid-core/pkg/registry"
)

// StatsKey is where the aggregate statistics document lives in the state
// store.
const StatsKey = "stats/aggregate"

// AggregateStats is the per-tick summary persisted for dashboards.
type AggregateStats struct {
	StartedAt          time.Time `json:"startedAt"`
	UptimeSeconds      float64   `json:"uptimeSeconds"`
	Ticks              int64     `json:"ticks"`
	TotalModules       int       `json:"totalModules"`
	RunningModules     int       `json:"runningModules"`
	ErrorModules       int       `json:"errorModules"`
	TotalNodes         int       `json:"totalNodes"`
	TotalCapacity      float64   `json:"totalCapacity"`
	AvailableCapacity  float64   `json:"availableCapacity"`
	UtilizationPercent float64   `json:"utilizationPercent"`
}

// publishStats recomputes the aggregate view, persists it, appends it to
// the in-memory history ring and refreshes the prometheus gauges.
func (d *Daemon) publishStats() {
	poolStats := allocator.Stats(d.pool)
	modules := d.registry.ListByPriority()

	counts := make(map[registry.State]int)
	for _, mod := range modules {
		counts[mod.LifecycleState()]++
	}

	stats := &AggregateStats{
		StartedAt:          d.startedAt,
		UptimeSeconds:      d.clock.Now().Sub(d.startedAt).Seconds(),
		Ticks:              d.ticks,
		TotalModules:       len(modules),
		RunningModules:     counts[registry.Running],
		ErrorModules:       counts[registry.Error],
		TotalNodes:         poolStats.TotalNodes,
		TotalCapacity:      poolStats.TotalCapacity,
		AvailableCapacity:  poolStats.AvailableCapacity,
		UtilizationPercent: poolStats.UtilizationPercent,
	}
	if !d.store.Write(StatsKey, stats) {
		log.Logger().Warn("failed to persist aggregate statistics")
	}
	if d.history != nil {
		d.history.Store(&history.AggregateRecord{
			Timestamp:          d.clock.Now(),
			TotalModules:       stats.TotalModules,
			RunningModules:     stats.RunningModules,
			TotalCapacity:      stats.TotalCapacity,
			AvailableCapacity:  stats.AvailableCapacity,
			UtilizationPercent: stats.UtilizationPercent,
		})
	}

	for _, state := range []registry.State{registry.Stopped, registry.Starting, registry.Running, registry.Paused, registry.Error} {
		metrics.ModulesByState.WithLabelValues(state.String()).Set(float64(counts[state]))
	}
	metrics.ActiveNodes.Set(float64(poolStats.TotalNodes))
	metrics.TotalCapacity.Set(poolStats.TotalCapacity)
	metrics.AvailableCapacity.Set(poolStats.AvailableCapacity)
	metrics.Utilization.Set(poolStats.UtilizationPercent)
}
