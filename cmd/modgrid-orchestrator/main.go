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

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/common/configs"
	"github.com/modgrid/modgrid-core/pkg/entrypoint"
	"github.com/modgrid/modgrid-core/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to the orchestrator YAML configuration")
	stateDir := flag.String("state-dir", "", "override the state directory")
	webPort := flag.Int("port", 0, "override the web service port")
	flag.Parse()

	conf, err := configs.LoadConfig(*configPath)
	if err != nil {
		log.Logger().Fatal("failed to load configuration",
			zap.Error(err))
	}
	if *stateDir != "" {
		conf.StateDir = *stateDir
	}
	if *webPort != 0 {
		conf.WebPort = *webPort
	}

	serviceContext, err := entrypoint.StartAllServices(conf)
	if err != nil {
		log.Logger().Fatal("failed to start services",
			zap.Error(err))
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	log.Logger().Info("shutting down",
		zap.String("signal", sig.String()))
	serviceContext.StopAll()
}
