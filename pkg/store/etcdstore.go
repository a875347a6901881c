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

package store

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
)

const (
	etcdKeyPrefix   = "/modgrid/"
	etcdDialTimeout = 5 * time.Second
	etcdOpTimeout   = 3 * time.Second
)

// EtcdStore keeps documents in etcd under a fixed prefix. Meant for
// deployments where the dashboards run on a different host than the daemon;
// the semantics are identical to the file backend.
type EtcdStore struct {
	client *clientv3.Client
}

func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdStore{client: cli}, nil
}

func (e *EtcdStore) Close() error {
	return e.client.Close()
}

func (e *EtcdStore) Read(key string, out interface{}) bool {
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()
	resp, err := e.client.Get(ctx, etcdKeyPrefix+key)
	if err != nil {
		log.Logger().Warn("etcd read failed",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	if len(resp.Kvs) == 0 {
		return false
	}
	if err = json.Unmarshal(resp.Kvs[0].Value, out); err != nil {
		log.Logger().Warn("discarding malformed etcd document",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return true
}

func (e *EtcdStore) Write(key string, v interface{}) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Logger().Error("failed to marshal document",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()
	if _, err = e.client.Put(ctx, etcdKeyPrefix+key, string(raw)); err != nil {
		log.Logger().Warn("etcd write failed",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return true
}

func (e *EtcdStore) Update(key string, fields map[string]interface{}) bool {
	doc := make(map[string]interface{})
	// read-merge-write; the daemon is the only writer so there is no
	// transaction here
	e.Read(key, &doc)
	for k, v := range fields {
		doc[k] = v
	}
	return e.Write(key, doc)
}
