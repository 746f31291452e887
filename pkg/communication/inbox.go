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
package communication

import (
	"container/heap"
	"sync"
)

// inboxItem wraps a message with its heap ordering key.
// seq is a bus-wide monotonic counter so that messages of equal priority
// dequeue in insertion order.
type inboxItem struct {
	msg *Message
	seq uint64
}

// inboxHeap orders items by (priority rank, sequence).
type inboxHeap []*inboxItem

func (h inboxHeap) Len() int { return len(h) }

func (h inboxHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority < h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h inboxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *inboxHeap) Push(x interface{}) {
	*h = append(*h, x.(*inboxItem))
}

func (h *inboxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// inbox is a bounded per-agent priority queue.
// Enqueue never blocks; a full inbox rejects the message.
type inbox struct {
	mu       sync.Mutex
	heap     inboxHeap
	capacity int

	// notify is closed and replaced on every enqueue, waking every
	// blocked receiver at once. Receivers grab the current channel via
	// waitChan before re-checking the queue.
	notify chan struct{}
}

func newInbox(capacity int) *inbox {
	ib := &inbox{
		capacity: capacity,
		notify:   make(chan struct{}),
	}
	heap.Init(&ib.heap)
	return ib
}

// enqueue adds a message. Returns false when the inbox is full.
func (ib *inbox) enqueue(msg *Message, seq uint64) bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if len(ib.heap) >= ib.capacity {
		return false
	}
	heap.Push(&ib.heap, &inboxItem{msg: msg, seq: seq})

	close(ib.notify)
	ib.notify = make(chan struct{})
	return true
}

// waitChan returns the channel that will be closed on the next enqueue.
// Callers must obtain it before checking the queue, so an enqueue landing
// between the check and the wait still wakes them.
func (ib *inbox) waitChan() chan struct{} {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.notify
}

// pop removes and returns the highest-priority message, or nil when empty.
func (ib *inbox) pop() *Message {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if len(ib.heap) == 0 {
		return nil
	}
	item := heap.Pop(&ib.heap).(*inboxItem)
	return item.msg
}

// size returns the number of queued messages.
func (ib *inbox) size() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.heap)
}
