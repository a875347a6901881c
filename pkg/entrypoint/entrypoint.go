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

package entrypoint

import (
	"fmt"

	"github.com/modgrid/modgrid-core/pkg/common/configs"
	"github.com/modgrid/modgrid-core/pkg/daemon"
	"github.com/modgrid/modgrid-core/pkg/launch"
	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/mailbox"
	"github.com/modgrid/modgrid-core/pkg/metrics"
	"github.com/modgrid/modgrid-core/pkg/metrics/history"
	"github.com/modgrid/modgrid-core/pkg/registry"
	"github.com/modgrid/modgrid-core/pkg/store"
	"github.com/modgrid/modgrid-core/pkg/topology"
	"github.com/modgrid/modgrid-core/pkg/webservice"
)

// options used to control how services are started
type startupOptions struct {
	startWebAppFlag bool
	launcherBackend string
}

// StartAllServices wires the store, registry, scanner, mailbox, launcher,
// daemon and web service together and starts them.
func StartAllServices(conf *configs.OrchestratorConfig) (*ServiceContext, error) {
	log.Logger().Info("ServiceContext start all services")
	return startAllServicesWithParameters(conf, startupOptions{
		startWebAppFlag: true,
		launcherBackend: launch.BackendExec,
	})
}

// Visible by tests
func StartAllServicesWithoutWebApp(conf *configs.OrchestratorConfig) (*ServiceContext, error) {
	return startAllServicesWithParameters(conf, startupOptions{
		startWebAppFlag: false,
		launcherBackend: launch.BackendExec,
	})
}

func startAllServicesWithParameters(conf *configs.OrchestratorConfig, opts startupOptions) (*ServiceContext, error) {
	stateStore, err := buildStore(conf)
	if err != nil {
		return nil, err
	}

	fabricNodes := make([]topology.FabricNode, 0, len(conf.Nodes))
	for _, node := range conf.Nodes {
		fabricNodes = append(fabricNodes, topology.FabricNode{
			ID:            node.ID,
			TotalCapacity: node.TotalCapacity,
			UsedCapacity:  node.UsedCapacity,
			Primary:       node.Primary,
			Elastic:       node.Elastic,
			Neighbors:     node.Neighbors,
		})
	}
	fabric, err := topology.NewStaticFabric(fabricNodes, conf.RootNode, conf.Targets)
	if err != nil {
		return nil, err
	}

	launcher, err := buildLauncher(opts.launcherBackend)
	if err != nil {
		return nil, err
	}

	metrics.Register()
	reg := registry.NewRegistry(stateStore)
	scanner := topology.NewScanner(fabric, stateStore)
	mbox := mailbox.NewMailbox(stateStore, conf.MailboxChannels, conf.MailboxCapacity)
	hist := history.NewAggregateHistory(conf.HistorySize)

	coreDaemon := daemon.NewDaemon(conf, stateStore, reg, scanner, mbox, launcher, hist)
	coreDaemon.StartService()

	context := &ServiceContext{
		Daemon:   coreDaemon,
		Registry: reg,
		Store:    stateStore,
		Mailbox:  mbox,
	}
	if opts.startWebAppFlag {
		log.Logger().Info("ServiceContext start web application service")
		webapp := webservice.NewWebService(stateStore, hist, conf.WebPort)
		webapp.StartWebApp()
		context.WebApp = webapp
	}
	return context, nil
}

func buildStore(conf *configs.OrchestratorConfig) (store.Store, error) {
	if len(conf.EtcdEndpoints) > 0 {
		return store.NewEtcdStore(conf.EtcdEndpoints)
	}
	if conf.StateDir != "" {
		return store.NewFileStore(conf.StateDir)
	}
	return store.NewMemoryStore(), nil
}

func buildLauncher(backend string) (launch.Launcher, error) {
	switch backend {
	case launch.BackendExec:
		return launch.NewExecLauncher(), nil
	case launch.BackendDocker:
		return launch.NewDockerLauncher()
	default:
		return nil, fmt.Errorf("unknown launcher backend %q", backend)
	}
}
