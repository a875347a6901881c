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
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
)

// Store is the durable key to JSON document contract every orchestrator
// component persists through. Implementations absorb I/O errors: a failed
// read reports absent, a failed write reports false. Malformed documents
// read as absent so callers reinitialize instead of crashing.
type Store interface {
	// Read unmarshals the document at key into out and reports whether a
	// usable document was found.
	Read(key string, out interface{}) bool
	// Write marshals v and stores it at key.
	Write(key string, v interface{}) bool
	// Update merges the given top level fields into the document at key,
	// creating the document when absent.
	Update(key string, fields map[string]interface{}) bool
}

// MemoryStore keeps documents in process memory. Used by tests and by
// embedded single-process runs.
type MemoryStore struct {
	docs map[string][]byte
	lock sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (m *MemoryStore) Read(key string, out interface{}) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	raw, ok := m.docs[key]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Logger().Warn("discarding malformed document",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return true
}

func (m *MemoryStore) Write(key string, v interface{}) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Logger().Error("failed to marshal document",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.docs[key] = raw
	return true
}

func (m *MemoryStore) Update(key string, fields map[string]interface{}) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	doc := make(map[string]interface{})
	if raw, ok := m.docs[key]; ok {
		// a malformed document is replaced wholesale
		if err := json.Unmarshal(raw, &doc); err != nil {
			doc = make(map[string]interface{})
		}
	}
	for k, v := range fields {
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		log.Logger().Error("failed to marshal merged document",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	m.docs[key] = raw
	return true
}
