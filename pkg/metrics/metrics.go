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

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OrchestratorSubsystem - subsystem name used by the orchestrator core
	OrchestratorSubsystem = "modgrid_orchestrator"
)

var (
	ModulesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: OrchestratorSubsystem,
			Name:      "modules",
			Help:      "Number of registered modules, by lifecycle state.",
		}, []string{"state"})

	ActiveNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: OrchestratorSubsystem,
			Name:      "active_nodes",
			Help:      "Admitted nodes in the last topology scan.",
		})
	TotalCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: OrchestratorSubsystem,
			Name:      "total_capacity",
			Help:      "Total capacity over admitted nodes.",
		})
	AvailableCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: OrchestratorSubsystem,
			Name:      "available_capacity",
			Help:      "Unallocated capacity over admitted nodes.",
		})
	Utilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: OrchestratorSubsystem,
			Name:      "utilization_percent",
			Help:      "Used capacity as a percentage of total capacity.",
		})

	allocationPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: OrchestratorSubsystem,
			Name:      "allocation_requests_total",
			Help:      "Number of resource requests processed, by result. 'shortfall' means a request could not reach its minimum capacity.",
		}, []string{"result"})
	// AllocationFulfilled counts requests granted at or above their floor.
	AllocationFulfilled = allocationPasses.With(prometheus.Labels{"result": "fulfilled"})
	// AllocationShortfall counts requests rolled back below their floor.
	AllocationShortfall = allocationPasses.With(prometheus.Labels{"result": "shortfall"})

	ModuleRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: OrchestratorSubsystem,
			Name:      "module_restarts_total",
			Help:      "Automatic recovery restarts of failed modules.",
		})
	TopologyScans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: OrchestratorSubsystem,
			Name:      "topology_scans_total",
			Help:      "Completed topology discovery passes.",
		})

	metricsList = []prometheus.Collector{
		ModulesByState,
		ActiveNodes,
		TotalCapacity,
		AvailableCapacity,
		Utilization,
		allocationPasses,
		ModuleRestarts,
		TopologyScans,
	}
)

var registerOnce sync.Once

// Register installs the orchestrator collectors on the default registerer.
// Safe to call from every service start path.
func Register() {
	registerOnce.Do(func() {
		for _, collector := range metricsList {
			prometheus.MustRegister(collector)
		}
	})
}
