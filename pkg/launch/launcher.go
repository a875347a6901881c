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

package launch

import (
	"context"
)

// Backend discriminates how a handle was produced.
const (
	BackendExec   = "exec"
	BackendDocker = "docker"
)

// Handle is the opaque reference to a launched module process. It is
// serializable so the registry can persist it and the daemon can probe
// liveness after a restart. Callers never interpret the backend fields.
type Handle struct {
	ID          string `json:"id"`
	NodeID      string `json:"nodeID"`
	Backend     string `json:"backend"`
	PID         int    `json:"pid,omitempty"`
	ContainerID string `json:"containerID,omitempty"`
}

// Launcher starts and supervises module executables. The orchestrator
// depends only on this contract, never on what the executable computes.
type Launcher interface {
	// Start launches the executable for the given node with the requested
	// thread count. Extra args are passed through verbatim.
	Start(ctx context.Context, executablePath, nodeID string, threads int, args ...string) (*Handle, error)
	// IsRunning probes whether the process behind the handle is still
	// alive. Unknown handles report not running.
	IsRunning(handle *Handle) bool
	// Terminate force-stops the process behind the handle and reports
	// whether it is gone afterwards.
	Terminate(handle *Handle) bool
}
