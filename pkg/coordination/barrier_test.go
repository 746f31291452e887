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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestBarrierRendezvous(t *testing.T) {
	sb := NewSyncBarrier("sync", 2, zaptest.NewLogger(t))

	assert.False(t, sb.Arrive("a"))
	assert.False(t, sb.Arrive("a")) // duplicate arrival is idempotent
	assert.Equal(t, 1, sb.ArrivedCount())

	assert.True(t, sb.Arrive("b"))
	assert.True(t, sb.Wait(context.Background(), time.Second))
}

func TestBarrierWaitBlocksUntilComplete(t *testing.T) {
	sb := NewSyncBarrier("sync", 3, zaptest.NewLogger(t))
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() {
		done <- sb.Wait(ctx, 2*time.Second)
	}()

	sb.Arrive("a")
	sb.Arrive("b")
	select {
	case <-done:
		t.Fatal("wait returned before all arrivals")
	case <-time.After(50 * time.Millisecond):
	}

	sb.Arrive("c")
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("wait never completed")
	}
}

func TestBarrierWaitTimeout(t *testing.T) {
	sb := NewSyncBarrier("sync", 2, zaptest.NewLogger(t))
	sb.Arrive("only-one")

	assert.False(t, sb.Wait(context.Background(), 50*time.Millisecond))
}

func TestBarrierCompletionLatches(t *testing.T) {
	sb := NewSyncBarrier("sync", 1, zaptest.NewLogger(t))
	sb.Arrive("a")

	// Once complete, every Wait returns immediately.
	for i := 0; i < 3; i++ {
		assert.True(t, sb.Wait(context.Background(), 10*time.Millisecond))
	}
}

func TestBarrierReset(t *testing.T) {
	sb := NewSyncBarrier("sync", 2, zaptest.NewLogger(t))
	sb.Arrive("a")
	sb.Arrive("b")
	assert.True(t, sb.Wait(context.Background(), time.Second))

	sb.Reset()
	assert.Equal(t, 0, sb.ArrivedCount())
	assert.False(t, sb.Wait(context.Background(), 50*time.Millisecond))

	sb.Arrive("a")
	sb.Arrive("b")
	assert.True(t, sb.Wait(context.Background(), time.Second))
}
