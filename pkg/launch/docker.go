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
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
)

const dockerOpTimeout = 10 * time.Second

// DockerLauncher runs modules as containers: the executable path names the
// image. Useful when module binaries should not share the orchestrator's
// filesystem.
type DockerLauncher struct {
	cli *client.Client
}

func NewDockerLauncher() (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerLauncher{cli: cli}, nil
}

func (l *DockerLauncher) Start(ctx context.Context, executablePath, nodeID string, threads int, args ...string) (*Handle, error) {
	handleID := uuid.NewString()
	cmd := append([]string{"--node", nodeID, "--threads", strconv.Itoa(threads)}, args...)
	resp, err := l.cli.ContainerCreate(ctx, &container.Config{
		Image: executablePath,
		Cmd:   cmd,
		Labels: map[string]string{
			"modgrid.handle": handleID,
			"modgrid.node":   nodeID,
		},
	}, &container.HostConfig{}, nil, nil, "modgrid-"+handleID)
	if err != nil {
		return nil, err
	}
	if err = l.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, err
	}
	log.Logger().Info("module container started",
		zap.String("image", executablePath),
		zap.String("nodeID", nodeID),
		zap.String("containerID", resp.ID))
	return &Handle{
		ID:          handleID,
		NodeID:      nodeID,
		Backend:     BackendDocker,
		ContainerID: resp.ID,
	}, nil
}

func (l *DockerLauncher) IsRunning(handle *Handle) bool {
	if handle == nil || handle.Backend != BackendDocker || handle.ContainerID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), dockerOpTimeout)
	defer cancel()
	inspect, err := l.cli.ContainerInspect(ctx, handle.ContainerID)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

func (l *DockerLauncher) Terminate(handle *Handle) bool {
	if handle == nil || handle.Backend != BackendDocker || handle.ContainerID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), dockerOpTimeout)
	defer cancel()
	timeout := int(dockerOpTimeout.Seconds())
	if err := l.cli.ContainerStop(ctx, handle.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		log.Logger().Warn("container stop failed, killing",
			zap.String("containerID", handle.ContainerID),
			zap.Error(err))
		if err = l.cli.ContainerKill(ctx, handle.ContainerID, "KILL"); err != nil {
			return !l.IsRunning(handle)
		}
	}
	if err := l.cli.ContainerRemove(ctx, handle.ContainerID, types.ContainerRemoveOptions{Force: true}); err != nil {
		log.Logger().Debug("container remove failed",
			zap.String("containerID", handle.ContainerID),
			zap.Error(err))
	}
	return true
}
