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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/metrics/history"
	"github.com/modgrid/modgrid-core/pkg/store"
)

// WebService serves read-only JSON views of the orchestrator's persisted
// state. It is a passive consumer: every byte it returns comes from the
// state store or the in-memory history ring, never from live objects.
type WebService struct {
	httpServer *http.Server
	store      store.Store
	history    *history.AggregateHistory
	port       int
}

func NewWebService(s store.Store, hist *history.AggregateHistory, port int) *WebService {
	return &WebService{
		store:   s,
		history: hist,
		port:    port,
	}
}

func (ws *WebService) newRouter() *httprouter.Router {
	router := httprouter.New()
	for _, webRoute := range ws.routes() {
		router.HandlerFunc(webRoute.Method, webRoute.Pattern, loggingHandler(webRoute.HandlerFunc, webRoute.Name))
	}
	return router
}

func loggingHandler(inner http.HandlerFunc, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inner.ServeHTTP(w, r)
		log.Logger().Debug("web request served",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.String("handler", name),
			zap.Duration("duration", time.Since(start)))
	}
}

// StartWebApp starts serving in the background.
func (ws *WebService) StartWebApp() {
	ws.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", ws.port),
		Handler: ws.newRouter(),
	}
	log.Logger().Info("web service starting",
		zap.Int("port", ws.port))
	go func() {
		err := ws.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Logger().Error("web service failed",
				zap.Error(err))
		}
	}()
}

func (ws *WebService) StopWebApp() error {
	if ws.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ws.httpServer.Shutdown(ctx)
}
