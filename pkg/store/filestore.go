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
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
)

// FileStore persists one JSON file per key under a state directory.
// Writes go through a temp file and rename so a crash mid-write leaves the
// previous document intact. Keys may contain "/" which maps to
// subdirectories.
type FileStore struct {
	dir  string
	lock sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) string {
	// keep keys from escaping the state dir
	clean := strings.ReplaceAll(key, "..", "_")
	return filepath.Join(f.dir, clean+".json")
}

func (f *FileStore) Read(key string, out interface{}) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	raw, err := os.ReadFile(f.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Logger().Warn("failed to read state file",
				zap.String("key", key),
				zap.Error(err))
		}
		return false
	}
	if err = json.Unmarshal(raw, out); err != nil {
		log.Logger().Warn("discarding malformed state file",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return true
}

func (f *FileStore) Write(key string, v interface{}) bool {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Logger().Error("failed to marshal document",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.writeLocked(key, raw)
}

func (f *FileStore) writeLocked(key string, raw []byte) bool {
	target := f.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		log.Logger().Error("failed to create state dir",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		log.Logger().Error("failed to write state file",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	if err := os.Rename(tmp, target); err != nil {
		log.Logger().Error("failed to replace state file",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return true
}

func (f *FileStore) Update(key string, fields map[string]interface{}) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	doc := make(map[string]interface{})
	if raw, err := os.ReadFile(f.path(key)); err == nil {
		if err = json.Unmarshal(raw, &doc); err != nil {
			doc = make(map[string]interface{})
		}
	}
	for k, v := range fields {
		doc[k] = v
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Logger().Error("failed to marshal merged document",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return f.writeLocked(key, raw)
}
