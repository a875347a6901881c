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
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/allocator"
	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/registry"
	"github.com/modgrid/modgrid-core/pkg/topology"
)

// statsDocumentKey mirrors the daemon's aggregate statistics key; the web
// layer reads it back as an opaque document.
const statsDocumentKey = "stats/aggregate"

func writeHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

func (ws *WebService) writeDocument(w http.ResponseWriter, key string) {
	writeHeaders(w)
	var doc json.RawMessage
	if !ws.store.Read(key, &doc) {
		// nothing persisted yet, an empty object keeps clients simple
		doc = json.RawMessage("{}")
	}
	if _, err := w.Write(doc); err != nil {
		log.Logger().Error("unable to serve response",
			zap.String("key", key),
			zap.Error(err))
	}
}

func (ws *WebService) getModules(w http.ResponseWriter, _ *http.Request) {
	ws.writeDocument(w, registry.ModulesKey)
}

func (ws *WebService) getTopology(w http.ResponseWriter, _ *http.Request) {
	ws.writeDocument(w, topology.SnapshotKey)
}

func (ws *WebService) getAllocations(w http.ResponseWriter, _ *http.Request) {
	ws.writeDocument(w, allocator.AllocationsKey)
}

func (ws *WebService) getStats(w http.ResponseWriter, _ *http.Request) {
	ws.writeDocument(w, statsDocumentKey)
}

func (ws *WebService) getHistory(w http.ResponseWriter, _ *http.Request) {
	writeHeaders(w)
	records := ws.history.GetRecords()
	if err := json.NewEncoder(w).Encode(records); err != nil {
		log.Logger().Error("unable to serve history",
			zap.Error(err))
	}
}
