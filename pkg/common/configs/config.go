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

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modgrid/modgrid-core/pkg/common"
)

// Defaults for the orchestrator configuration. All intervals are plain
// seconds so the file format stays numeric and language neutral.
const (
	DefaultTickSeconds          = 5.0
	DefaultRescanSeconds        = 60.0
	DefaultStatusTimeoutSeconds = 30.0
	DefaultStartStaggerSeconds  = 2.0
	DefaultStartRetrySeconds    = 1.0
	DefaultStopGraceSeconds     = 5.0
	DefaultPrimaryReservation   = 512.0
	DefaultHistorySize          = 1440
	DefaultWebPort              = 9080
	DefaultMailboxChannels      = 16
	DefaultMailboxCapacity      = 32
)

// ModuleConfig declares one managed module. Modules listed in the
// orchestrator configuration are registered at daemon startup.
type ModuleConfig struct {
	Name           string            `yaml:"name"`
	ExecutablePath string            `yaml:"executablePath"`
	Priority       int               `yaml:"priority"`
	MinCapacity    float64           `yaml:"minCapacity"`
	MaxCapacity    float64           `yaml:"maxCapacity"`
	ControlChannel int               `yaml:"controlChannel"`
	StatusChannel  int               `yaml:"statusChannel"`
	Enabled        bool              `yaml:"enabled"`
	Config         map[string]string `yaml:"config,omitempty"`
}

// OrchestratorConfig is the full configuration surface of the daemon.
type OrchestratorConfig struct {
	TickSeconds          float64 `yaml:"tickSeconds"`
	RescanSeconds        float64 `yaml:"rescanSeconds"`
	StatusTimeoutSeconds float64 `yaml:"statusTimeoutSeconds"`
	StartStaggerSeconds  float64 `yaml:"startStaggerSeconds"`
	StartRetrySeconds    float64 `yaml:"startRetrySeconds"`
	StopGraceSeconds     float64 `yaml:"stopGraceSeconds"`
	AutoRecovery         bool    `yaml:"autoRecovery"`
	PrimaryReservation   float64 `yaml:"primaryReservation"`
	HistorySize          int     `yaml:"historySize"`
	WebPort              int     `yaml:"webPort"`
	MailboxChannels      int     `yaml:"mailboxChannels"`
	MailboxCapacity      int     `yaml:"mailboxCapacity"`

	// state backend selection: a non-empty endpoint list wins over the dir
	StateDir      string   `yaml:"stateDir"`
	EtcdEndpoints []string `yaml:"etcdEndpoints,omitempty"`

	// fabric description for the built-in static fabric
	RootNode string       `yaml:"rootNode"`
	Nodes    []NodeConfig `yaml:"nodes,omitempty"`
	Targets  []string     `yaml:"targets,omitempty"`

	Modules []ModuleConfig `yaml:"modules,omitempty"`
}

// NodeConfig describes one node of the statically configured fabric.
type NodeConfig struct {
	ID            string   `yaml:"id"`
	TotalCapacity float64  `yaml:"totalCapacity"`
	UsedCapacity  float64  `yaml:"usedCapacity"`
	Primary       bool     `yaml:"primary"`
	Elastic       bool     `yaml:"elastic"`
	Neighbors     []string `yaml:"neighbors,omitempty"`
}

func DefaultConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		TickSeconds:          DefaultTickSeconds,
		RescanSeconds:        DefaultRescanSeconds,
		StatusTimeoutSeconds: DefaultStatusTimeoutSeconds,
		StartStaggerSeconds:  DefaultStartStaggerSeconds,
		StartRetrySeconds:    DefaultStartRetrySeconds,
		StopGraceSeconds:     DefaultStopGraceSeconds,
		AutoRecovery:         true,
		PrimaryReservation:   DefaultPrimaryReservation,
		HistorySize:          DefaultHistorySize,
		WebPort:              DefaultWebPort,
		MailboxChannels:      DefaultMailboxChannels,
		MailboxCapacity:      DefaultMailboxCapacity,
		StateDir:             ".modgrid-state",
		RootNode:             "local",
		Nodes: []NodeConfig{
			{ID: "local", TotalCapacity: 4096, Primary: true},
		},
	}
}

// LoadConfig reads a YAML file over the defaults. A missing path returns
// the defaults unchanged.
func LoadConfig(path string) (*OrchestratorConfig, error) {
	conf := DefaultConfig()
	if path == "" {
		return conf, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err = yaml.Unmarshal(buf, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *OrchestratorConfig) Validate() error {
	if c.TickSeconds <= 0 {
		return fmt.Errorf("tickSeconds must be positive, got %v", c.TickSeconds)
	}
	if c.StatusTimeoutSeconds <= 0 {
		return fmt.Errorf("statusTimeoutSeconds must be positive, got %v", c.StatusTimeoutSeconds)
	}
	if c.PrimaryReservation < 0 {
		return fmt.Errorf("primaryReservation must not be negative, got %v", c.PrimaryReservation)
	}
	if c.MailboxChannels <= 0 || c.MailboxCapacity <= 0 {
		return fmt.Errorf("mailbox channels and capacity must be positive")
	}
	for _, mod := range c.Modules {
		if mod.Name == "" {
			return fmt.Errorf("module without a name in config")
		}
		if mod.MinCapacity > mod.MaxCapacity {
			return fmt.Errorf("module %s: minCapacity %v exceeds maxCapacity %v",
				mod.Name, mod.MinCapacity, mod.MaxCapacity)
		}
	}
	return nil
}

func (c *OrchestratorConfig) TickInterval() time.Duration {
	return common.SecondsToDuration(c.TickSeconds)
}

func (c *OrchestratorConfig) RescanInterval() time.Duration {
	return common.SecondsToDuration(c.RescanSeconds)
}

func (c *OrchestratorConfig) StatusTimeout() time.Duration {
	return common.SecondsToDuration(c.StatusTimeoutSeconds)
}

func (c *OrchestratorConfig) StartStagger() time.Duration {
	return common.SecondsToDuration(c.StartStaggerSeconds)
}

func (c *OrchestratorConfig) StartRetryPause() time.Duration {
	return common.SecondsToDuration(c.StartRetrySeconds)
}

func (c *OrchestratorConfig) StopGrace() time.Duration {
	return common.SecondsToDuration(c.StopGraceSeconds)
}
