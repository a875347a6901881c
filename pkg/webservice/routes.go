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

package webservice

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

func (ws *WebService) routes() []route {
	return []route{
		{
			"Modules",
			"GET",
			"/ws/v1/modules",
			ws.getModules,
		},
		{
			"Topology",
			"GET",
			"/ws/v1/topology",
			ws.getTopology,
		},
		{
			"Allocations",
			"GET",
			"/ws/v1/allocations",
			ws.getAllocations,
		},
		{
			"Stats",
			"GET",
			"/ws/v1/stats",
			ws.getStats,
		},
		{
			"History",
			"GET",
			"/ws/v1/history",
			ws.getHistory,
		},
		{
			"Metrics",
			"GET",
			"/ws/v1/metrics",
			promhttp.Handler().ServeHTTP,
		},
	}
}
