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

package configs

// Overrides carries operator tweaks persisted in the state store. Only set
// fields are applied, everything else keeps the loaded value. The merge is
// explicit per field so a stale or partial override document can never
// corrupt unrelated settings.
type Overrides struct {
	TickSeconds          *float64 `json:"tickSeconds,omitempty"`
	RescanSeconds        *float64 `json:"rescanSeconds,omitempty"`
	StatusTimeoutSeconds *float64 `json:"statusTimeoutSeconds,omitempty"`
	StartStaggerSeconds  *float64 `json:"startStaggerSeconds,omitempty"`
	AutoRecovery         *bool    `json:"autoRecovery,omitempty"`
	PrimaryReservation   *float64 `json:"primaryReservation,omitempty"`
	HistorySize          *int     `json:"historySize,omitempty"`
}

// ApplyOverrides merges o into the config field by field. Values that fail
// the same checks as Validate are skipped rather than applied.
func (c *OrchestratorConfig) ApplyOverrides(o *Overrides) {
	if o == nil {
		return
	}
	if o.TickSeconds != nil && *o.TickSeconds > 0 {
		c.TickSeconds = *o.TickSeconds
	}
	if o.RescanSeconds != nil && *o.RescanSeconds > 0 {
		c.RescanSeconds = *o.RescanSeconds
	}
	if o.StatusTimeoutSeconds != nil && *o.StatusTimeoutSeconds > 0 {
		c.StatusTimeoutSeconds = *o.StatusTimeoutSeconds
	}
	if o.StartStaggerSeconds != nil && *o.StartStaggerSeconds >= 0 {
		c.StartStaggerSeconds = *o.StartStaggerSeconds
	}
	if o.AutoRecovery != nil {
		c.AutoRecovery = *o.AutoRecovery
	}
	if o.PrimaryReservation != nil && *o.PrimaryReservation >= 0 {
		c.PrimaryReservation = *o.PrimaryReservation
	}
	if o.HistorySize != nil && *o.HistorySize > 0 {
		c.HistorySize = *o.HistorySize
	}
}
