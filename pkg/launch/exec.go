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
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
)

// ExecLauncher runs module executables as local child processes. Handles
// for processes started by this launcher instance are tracked exactly (the
// reaper goroutine records the exit); handles restored from the store fall
// back to a signal probe on the pid.
type ExecLauncher struct {
	lock    sync.Mutex
	running map[string]*os.Process
	exited  map[string]bool
}

func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{
		running: make(map[string]*os.Process),
		exited:  make(map[string]bool),
	}
}

func (l *ExecLauncher) Start(_ context.Context, executablePath, nodeID string, threads int, args ...string) (*Handle, error) {
	argv := append([]string{"--node", nodeID, "--threads", strconv.Itoa(threads)}, args...)
	cmd := exec.Command(executablePath, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	handle := &Handle{
		ID:      uuid.NewString(),
		NodeID:  nodeID,
		Backend: BackendExec,
		PID:     cmd.Process.Pid,
	}
	l.lock.Lock()
	l.running[handle.ID] = cmd.Process
	l.lock.Unlock()

	// reap the child so a dead module never lingers as a zombie
	go func() {
		err := cmd.Wait()
		l.lock.Lock()
		delete(l.running, handle.ID)
		l.exited[handle.ID] = true
		l.lock.Unlock()
		log.Logger().Info("module process exited",
			zap.String("handleID", handle.ID),
			zap.Int("pid", handle.PID),
			zap.Error(err))
	}()

	log.Logger().Info("module process started",
		zap.String("executable", executablePath),
		zap.String("nodeID", nodeID),
		zap.Int("pid", handle.PID))
	return handle, nil
}

func (l *ExecLauncher) IsRunning(handle *Handle) bool {
	if handle == nil || handle.Backend != BackendExec {
		return false
	}
	l.lock.Lock()
	_, tracked := l.running[handle.ID]
	gone := l.exited[handle.ID]
	l.lock.Unlock()
	if tracked {
		return true
	}
	if gone {
		return false
	}
	return pidAlive(handle.PID)
}

func (l *ExecLauncher) Terminate(handle *Handle) bool {
	if handle == nil || handle.Backend != BackendExec {
		return false
	}
	l.lock.Lock()
	proc := l.running[handle.ID]
	l.lock.Unlock()
	if proc == nil {
		if !pidAlive(handle.PID) {
			return true
		}
		restored, err := os.FindProcess(handle.PID)
		if err != nil {
			return false
		}
		proc = restored
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// already gone
		return !pidAlive(handle.PID)
	}
	for i := 0; i < 20; i++ {
		if !l.IsRunning(handle) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := proc.Kill(); err != nil {
		log.Logger().Warn("failed to kill module process",
			zap.Int("pid", handle.PID),
			zap.Error(err))
	}
	return !l.IsRunning(handle)
}

// pidAlive probes a pid with the null signal.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
