// Copyright 2026 The Stackhive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/scope"
)

// LogStore is an in-memory instance.LogRepository.
type LogStore struct {
	mu   sync.Mutex
	logs []*instance.DeploymentLog
}

// NewLogStore creates an in-memory deployment log store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// Append inserts a new deployment log row
func (s *LogStore) Append(ctx context.Context, log *instance.DeploymentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *log
	s.logs = append(s.logs, &c)
	return nil
}

// Update finalizes a deployment log row after the executor settles
func (s *LogStore) Update(ctx context.Context, log *instance.DeploymentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.logs {
		if existing.ID == log.ID {
			c := *log
			s.logs[i] = &c
			return nil
		}
	}
	return nil
}

// ListByScope returns logs visible to the caller, newest first
func (s *LogStore) ListByScope(ctx context.Context, sc scope.Scope, instanceID string) ([]*instance.DeploymentLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*instance.DeploymentLog
	for _, log := range s.logs {
		if !sc.Allows(log.AccountID) {
			continue
		}
		if instanceID != "" && log.InstanceID != instanceID {
			continue
		}
		c := *log
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
