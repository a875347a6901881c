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

package history

import (
	"sync"
	"time"
)

// AggregateHistory keeps a bounded trail of per-tick aggregate readings
// for the web UI's front page. For detailed metrics use Prometheus.
type AggregateHistory struct {
	records []*AggregateRecord
	limit   int
	mutex   sync.Mutex
}

type AggregateRecord struct {
	Timestamp          time.Time `json:"timestamp"`
	TotalModules       int       `json:"totalModules"`
	RunningModules     int       `json:"runningModules"`
	TotalCapacity      float64   `json:"totalCapacity"`
	AvailableCapacity  float64   `json:"availableCapacity"`
	UtilizationPercent float64   `json:"utilizationPercent"`
}

func NewAggregateHistory(limit int) *AggregateHistory {
	return &AggregateHistory{
		records: make([]*AggregateRecord, 0),
		limit:   limit,
	}
}

func (h *AggregateHistory) Store(record *AggregateRecord) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.records = append(h.records, record)
	if len(h.records) > h.limit {
		// remove oldest entry
		h.records = h.records[1:]
	}
}

func (h *AggregateHistory) GetRecords() []*AggregateRecord {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	out := make([]*AggregateRecord, len(h.records))
	copy(out, h.records)
	return out
}

func (h *AggregateHistory) GetLimit() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.limit
}
