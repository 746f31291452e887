// Copyright 2026 Weftworks
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package coordination

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MutexLock is a named exclusive lock with owner tracking. Only the agent
// holding the lock may release it; a release attempt by any other agent
// returns false and leaves the holder unchanged.
type MutexLock struct {
	mu       sync.Mutex
	resource string
	holder   string

	// Token channel: holding the token = holding the lock.
	sem chan struct{}

	logger *zap.Logger
}

// NewMutexLock creates an unlocked mutex for the named resource.
func NewMutexLock(resource string, logger *zap.Logger) *MutexLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MutexLock{
		resource: resource,
		sem:      make(chan struct{}, 1),
		logger:   logger,
	}
}

// Acquire blocks until the lock is obtained, the timeout elapses, or ctx
// is cancelled. Returns true on success and records the holder. A timeout
// of zero or less waits until ctx is done.
func (ml *MutexLock) Acquire(ctx context.Context, agentName string, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case ml.sem <- struct{}{}:
		ml.mu.Lock()
		ml.holder = agentName
		ml.mu.Unlock()
		ml.logger.Debug("lock acquired",
			zap.String("resource", ml.resource),
			zap.String("holder", agentName))
		return true
	case <-deadline:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release unlocks if and only if agentName is the current holder.
// Non-owner releases return false without releasing; this prevents one
// agent from accidentally unlocking another's critical section.
func (ml *MutexLock) Release(agentName string) bool {
	ml.mu.Lock()
	if ml.holder != agentName || ml.holder == "" {
		ml.mu.Unlock()
		ml.logger.Debug("release rejected",
			zap.String("resource", ml.resource),
			zap.String("holder", ml.holder),
			zap.String("requester", agentName))
		return false
	}
	ml.holder = ""
	ml.mu.Unlock()

	<-ml.sem

	ml.logger.Debug("lock released",
		zap.String("resource", ml.resource),
		zap.String("agent", agentName))
	return true
}

// Holder returns the current holder, empty when unlocked.
func (ml *MutexLock) Holder() string {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.holder
}

// IsLocked reports whether the lock is held.
func (ml *MutexLock) IsLocked() bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.holder != ""
}

// Resource returns the resource name the lock guards.
func (ml *MutexLock) Resource() string { return ml.resource }
