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
// Package coordination provides the shared-state primitives of the weft
// substrate: a versioned blackboard with change notification, rendezvous
// barriers, and owner-tracked mutex locks.
package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/weftworks/weft/pkg/observability"
)

// Span constants for blackboard operations
const (
	SpanBlackboardWrite = "blackboard.write"
	SpanBlackboardWatch = "blackboard.watch"
)

// DefaultHistoryLimit bounds the blackboard write history.
const DefaultHistoryLimit = 100

// Entry is a single blackboard record. Version starts at 1 and increases
// monotonically per (namespace, key) for the lifetime of the key.
type Entry struct {
	Namespace string
	Key       string
	Value     interface{}
	Version   int64
	Author    string
	Timestamp time.Time
}

// Blackboard is a namespaced key/value store with versioning and single-shot
// change notification. Multiple readers and writers are safe; writes are
// serialized and the version counter per key is strictly monotonic.
//
// Deleting a key removes its version counter: a re-created key restarts at
// version 1. Watchers learn only that a key changed, never the value.
type Blackboard struct {
	mu sync.RWMutex

	// Namespace → key → entry
	data map[string]map[string]*Entry

	// Namespace → key → single-shot watcher channels. Each Watch call
	// registers a fresh channel which is removed on return.
	watchers map[string]map[string][]chan struct{}

	// Recent writes, oldest first, bounded by historyLimit
	history      []*Entry
	historyLimit int

	// Dependencies
	tracer observability.Tracer
	logger *zap.Logger

	// Metrics
	totalWrites atomic.Int64
	totalReads  atomic.Int64
}

// BlackboardOption configures a Blackboard.
type BlackboardOption func(*Blackboard)

// WithHistoryLimit bounds the retained write history.
func WithHistoryLimit(n int) BlackboardOption {
	return func(bb *Blackboard) {
		if n > 0 {
			bb.historyLimit = n
		}
	}
}

// WithBlackboardTracer attaches a tracer for span instrumentation.
func WithBlackboardTracer(tracer observability.Tracer) BlackboardOption {
	return func(bb *Blackboard) {
		bb.tracer = tracer
	}
}

// NewBlackboard creates an empty blackboard.
func NewBlackboard(logger *zap.Logger, opts ...BlackboardOption) *Blackboard {
	if logger == nil {
		logger = zap.NewNop()
	}

	bb := &Blackboard{
		data:         make(map[string]map[string]*Entry),
		watchers:     make(map[string]map[string][]chan struct{}),
		historyLimit: DefaultHistoryLimit,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(bb)
	}

	return bb
}

// Write stores a value, increments the key's version, and wakes every
// watcher registered on the key. Returns the new version.
func (bb *Blackboard) Write(ctx context.Context, namespace, key string, value interface{}, author string) int64 {
	var span *observability.Span
	if bb.tracer != nil {
		_, span = bb.tracer.StartSpan(ctx, SpanBlackboardWrite)
		defer bb.tracer.EndSpan(span)
		span.SetAttribute("namespace", namespace)
		span.SetAttribute("key", key)
		span.SetAttribute("author", author)
	}

	bb.mu.Lock()

	ns, exists := bb.data[namespace]
	if !exists {
		ns = make(map[string]*Entry)
		bb.data[namespace] = ns
	}

	version := int64(1)
	if existing, found := ns[key]; found {
		version = existing.Version + 1
	}

	entry := &Entry{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		Version:   version,
		Author:    author,
		Timestamp: time.Now(),
	}
	ns[key] = entry

	bb.history = append(bb.history, entry)
	if len(bb.history) > bb.historyLimit {
		bb.history = bb.history[len(bb.history)-bb.historyLimit:]
	}

	// Single-shot notification: every registered watcher fires once and
	// the registration list is cleared.
	var woken []chan struct{}
	if nsWatchers, ok := bb.watchers[namespace]; ok {
		woken = nsWatchers[key]
		delete(nsWatchers, key)
	}

	bb.mu.Unlock()

	for _, ch := range woken {
		close(ch)
	}

	bb.totalWrites.Add(1)

	if span != nil {
		span.SetAttribute("version", version)
		span.SetAttribute("watchers_woken", len(woken))
	}

	bb.logger.Debug("blackboard write",
		zap.String("namespace", namespace),
		zap.String("key", key),
		zap.String("author", author),
		zap.Int64("version", version),
		zap.Int("watchers_woken", len(woken)))

	return version
}

// Read returns the value for (namespace, key). The second return is false
// when the key is absent.
func (bb *Blackboard) Read(namespace, key string) (interface{}, bool) {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	bb.totalReads.Add(1)

	ns, exists := bb.data[namespace]
	if !exists {
		return nil, false
	}
	entry, found := ns[key]
	if !found {
		return nil, false
	}
	return entry.Value, true
}

// ReadNamespace returns a snapshot of every key/value in the namespace.
func (bb *Blackboard) ReadNamespace(namespace string) map[string]interface{} {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	bb.totalReads.Add(1)

	out := make(map[string]interface{})
	for key, entry := range bb.data[namespace] {
		out[key] = entry.Value
	}
	return out
}

// Version returns the current version for (namespace, key), 0 if absent.
func (bb *Blackboard) Version(namespace, key string) int64 {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	if ns, exists := bb.data[namespace]; exists {
		if entry, found := ns[key]; found {
			return entry.Version
		}
	}
	return 0
}

// Watch blocks until the next write to (namespace, key), the timeout
// elapses, or ctx is cancelled. Returns true when a write occurred.
// Each call registers its own single-shot notification; the registration
// is removed on return regardless of outcome.
func (bb *Blackboard) Watch(ctx context.Context, namespace, key string, timeout time.Duration) bool {
	var span *observability.Span
	if bb.tracer != nil {
		_, span = bb.tracer.StartSpan(ctx, SpanBlackboardWatch)
		defer bb.tracer.EndSpan(span)
		span.SetAttribute("namespace", namespace)
		span.SetAttribute("key", key)
	}

	ch := make(chan struct{})

	bb.mu.Lock()
	nsWatchers, exists := bb.watchers[namespace]
	if !exists {
		nsWatchers = make(map[string][]chan struct{})
		bb.watchers[namespace] = nsWatchers
	}
	nsWatchers[key] = append(nsWatchers[key], ch)
	bb.mu.Unlock()

	defer bb.removeWatcher(namespace, key, ch)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ch:
		return true
	case <-deadline:
		return false
	case <-ctx.Done():
		return false
	}
}

// Delete removes (namespace, key) and its version counter. Returns true
// when the key existed. A later Write to the same key starts over at
// version 1.
func (bb *Blackboard) Delete(namespace, key string) bool {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	ns, exists := bb.data[namespace]
	if !exists {
		return false
	}
	if _, found := ns[key]; !found {
		return false
	}
	delete(ns, key)
	if len(ns) == 0 {
		delete(bb.data, namespace)
	}

	bb.logger.Debug("blackboard delete",
		zap.String("namespace", namespace),
		zap.String("key", key))

	return true
}

// ClearNamespace removes every key in the namespace and returns the count.
func (bb *Blackboard) ClearNamespace(namespace string) int {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	count := len(bb.data[namespace])
	delete(bb.data, namespace)

	bb.logger.Debug("blackboard namespace cleared",
		zap.String("namespace", namespace),
		zap.Int("count", count))

	return count
}

// History returns up to limit of the most recent writes, oldest first.
// limit <= 0 returns the whole retained history.
func (bb *Blackboard) History(limit int) []*Entry {
	bb.mu.RLock()
	defer bb.mu.RUnlock()

	if limit <= 0 || limit > len(bb.history) {
		limit = len(bb.history)
	}
	out := make([]*Entry, limit)
	copy(out, bb.history[len(bb.history)-limit:])
	return out
}

// removeWatcher drops a watcher registration if it is still present.
// Write clears fired registrations itself, so this is a no-op after a
// successful watch.
func (bb *Blackboard) removeWatcher(namespace, key string, ch chan struct{}) {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	nsWatchers, exists := bb.watchers[namespace]
	if !exists {
		return
	}
	list := nsWatchers[key]
	for i, c := range list {
		if c == ch {
			nsWatchers[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(nsWatchers[key]) == 0 {
		delete(nsWatchers, key)
	}
}
