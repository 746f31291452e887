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

// SyncBarrier is a rendezvous point for a fixed number of arrivals.
// Completion latches: once the expected count is reached, Wait returns
// immediately until Reset re-arms the barrier.
type SyncBarrier struct {
	mu       sync.Mutex
	name     string
	expected int

	// Arrived agent names; duplicate arrivals are idempotent.
	arrived map[string]struct{}

	// Closed when the barrier completes.
	done chan struct{}

	completed bool

	logger *zap.Logger
}

// NewSyncBarrier creates a barrier expecting the given number of distinct
// arrivals. expected < 1 is treated as 1.
func NewSyncBarrier(name string, expected int, logger *zap.Logger) *SyncBarrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if expected < 1 {
		expected = 1
	}
	return &SyncBarrier{
		name:     name,
		expected: expected,
		arrived:  make(map[string]struct{}),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Arrive records the agent's arrival and returns true when the barrier is
// complete. Arriving twice with the same name counts once.
func (sb *SyncBarrier) Arrive(agentName string) bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.arrived[agentName] = struct{}{}

	if !sb.completed && len(sb.arrived) >= sb.expected {
		sb.completed = true
		close(sb.done)
		sb.logger.Debug("barrier complete",
			zap.String("barrier", sb.name),
			zap.Int("arrived", len(sb.arrived)))
	}

	return sb.completed
}

// Wait blocks until the barrier completes, the timeout elapses, or ctx is
// cancelled. Returns false on timeout or cancellation. A timeout of zero
// or less waits until ctx is done.
func (sb *SyncBarrier) Wait(ctx context.Context, timeout time.Duration) bool {
	sb.mu.Lock()
	done := sb.done
	sb.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
		return true
	case <-deadline:
		return false
	case <-ctx.Done():
		return false
	}
}

// Reset empties the arrival set and re-arms the completion signal.
func (sb *SyncBarrier) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.arrived = make(map[string]struct{})
	sb.done = make(chan struct{})
	sb.completed = false

	sb.logger.Debug("barrier reset", zap.String("barrier", sb.name))
}

// Name returns the barrier's name.
func (sb *SyncBarrier) Name() string { return sb.name }

// Expected returns the number of distinct arrivals required.
func (sb *SyncBarrier) Expected() int { return sb.expected }

// ArrivedCount returns the number of distinct agents that have arrived.
func (sb *SyncBarrier) ArrivedCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.arrived)
}
