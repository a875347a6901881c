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

package mailbox

import (
	"time"

	"github.com/modgrid/modgrid-core/pkg/allocator"
)

// ControlKind enumerates the closed set of orchestrator to module commands.
type ControlKind string

const (
	ControlStart              ControlKind = "start"
	ControlStop               ControlKind = "stop"
	ControlPause              ControlKind = "pause"
	ControlResume             ControlKind = "resume"
	ControlConfigUpdate       ControlKind = "config_update"
	ControlResourceAllocation ControlKind = "resource_allocation"
)

// Message is the closed union carried by mailbox channels. The only
// implementations are ControlMessage and StatusMessage; receivers switch
// exhaustively on the concrete type.
type Message interface {
	messageClass() string
}

const (
	classControl = "control"
	classStatus  = "status"
)

// ControlMessage travels orchestrator to module on the module's control
// channel. Config is set for start and config_update, Allocation for
// resource_allocation.
type ControlMessage struct {
	Kind       ControlKind                   `json:"kind"`
	Config     map[string]string             `json:"config,omitempty"`
	Allocation *allocator.CapacityAllocation `json:"allocation,omitempty"`
}

func (ControlMessage) messageClass() string { return classControl }

// StatusData is the payload of a module's periodic status update.
type StatusData struct {
	IsActive        bool                       `json:"isActive"`
	IsHealthy       bool                       `json:"isHealthy"`
	CapacityUsage   float64                    `json:"capacityUsage"`
	Statistics      map[string]float64         `json:"statistics,omitempty"`
	ResourceRequest *allocator.ResourceRequest `json:"resourceRequest,omitempty"`
	Errors          []string                   `json:"errors,omitempty"`
}

// StatusMessage travels module to orchestrator on the module's status
// channel.
type StatusMessage struct {
	Type       string     `json:"type"` // always "status_update"
	ModuleName string     `json:"moduleName"`
	Timestamp  time.Time  `json:"timestamp"`
	Data       StatusData `json:"data"`
}

func (StatusMessage) messageClass() string { return classStatus }

// StatusUpdateType is the only status message type on the wire today.
const StatusUpdateType = "status_update"

func NewStatusMessage(moduleName string, data StatusData) *StatusMessage {
	return &StatusMessage{
		Type:       StatusUpdateType,
		ModuleName: moduleName,
		Timestamp:  time.Now(),
		Data:       data,
	}
}
