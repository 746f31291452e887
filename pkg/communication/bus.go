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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftworks/weft/pkg/observability"
)

// Span constants for bus operations
const (
	SpanBusSend    = "bus.send"
	SpanBusReceive = "bus.receive"
	SpanBusPublish = "bus.publish"
	SpanBusRequest = "bus.request"
)

// Default configuration values
const (
	// DefaultMaxQueueSize is the per-agent inbox capacity.
	DefaultMaxQueueSize = 1000
	// DefaultLogLimit is the number of sent messages retained in the bus log.
	DefaultLogLimit = 1000
	// DefaultRequestTimeout bounds Request calls made without an explicit
	// timeout.
	DefaultRequestTimeout = 30 * time.Second
)

// Handler processes a message on behalf of an agent. The bus records
// handlers for higher layers but never invokes them itself; delivery is
// always pull-based through Receive.
type Handler func(ctx context.Context, msg *Message)

// MessageBus delivers messages between registered agents with per-priority
// FIFO ordering per recipient. It supports unicast, broadcast, topic pub/sub,
// and request/response with correlation IDs.
//
// The bus is best-effort and in-memory: unknown recipients and full inboxes
// cause Send to return false, never an error. All operations are safe for
// concurrent use by multiple goroutines.
type MessageBus struct {
	mu sync.RWMutex

	// Agent name → inbox
	inboxes map[string]*inbox

	// Agent name → registered handler (informational, never invoked by the bus)
	handlers map[string]Handler

	// Topic → subscriber names in registration order
	topics map[string][]string

	// Request ID → channel completing a pending Request call
	pending map[string]chan *Message

	// Recent sent messages, oldest first, bounded by logLimit
	log      []*Message
	logLimit int

	maxQueueSize   int
	requestTimeout time.Duration

	// Monotonic enqueue sequence; guarantees FIFO within a priority level
	seq atomic.Uint64

	// Dependencies
	tracer observability.Tracer
	logger *zap.Logger

	// Metrics (atomic counters)
	totalSent      atomic.Int64
	totalDelivered atomic.Int64
	totalDropped   atomic.Int64
	totalExpired   atomic.Int64

	// Lifecycle
	closed atomic.Bool
}

// BusOption configures a MessageBus.
type BusOption func(*MessageBus)

// WithMaxQueueSize sets the per-agent inbox capacity.
func WithMaxQueueSize(n int) BusOption {
	return func(b *MessageBus) {
		if n > 0 {
			b.maxQueueSize = n
		}
	}
}

// WithLogLimit sets the size of the retained message log.
func WithLogLimit(n int) BusOption {
	return func(b *MessageBus) {
		if n > 0 {
			b.logLimit = n
		}
	}
}

// WithRequestTimeout sets the fallback timeout for Request calls made
// with a timeout of zero or less.
func WithRequestTimeout(d time.Duration) BusOption {
	return func(b *MessageBus) {
		if d > 0 {
			b.requestTimeout = d
		}
	}
}

// WithTracer attaches a tracer for span instrumentation.
func WithTracer(tracer observability.Tracer) BusOption {
	return func(b *MessageBus) {
		b.tracer = tracer
	}
}

// NewMessageBus creates a new message bus.
func NewMessageBus(logger *zap.Logger, opts ...BusOption) *MessageBus {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &MessageBus{
		inboxes:      make(map[string]*inbox),
		handlers:     make(map[string]Handler),
		topics:       make(map[string][]string),
		pending:      make(map[string]chan *Message),
		logLimit:       DefaultLogLimit,
		maxQueueSize:   DefaultMaxQueueSize,
		requestTimeout: DefaultRequestTimeout,
		logger:         logger,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// RegisterAgent creates an inbox for the agent. Idempotent: registering an
// already-registered agent keeps its existing inbox.
func (b *MessageBus) RegisterAgent(name string) {
	if b.closed.Load() || name == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.inboxes[name]; exists {
		return
	}
	b.inboxes[name] = newInbox(b.maxQueueSize)

	b.logger.Debug("agent registered", zap.String("agent", name))
}

// UnregisterAgent removes the agent's inbox, handler, and all topic
// subscriptions. Idempotent.
func (b *MessageBus) UnregisterAgent(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inboxes, name)
	delete(b.handlers, name)
	for topic, subs := range b.topics {
		b.topics[topic] = removeName(subs, name)
	}

	b.logger.Debug("agent unregistered", zap.String("agent", name))
}

// SetHandler records a handler for the agent. The bus does not invoke it;
// higher layers use it to route received messages.
func (b *MessageBus) SetHandler(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = handler
}

// Handler returns the registered handler for the agent, if any.
func (b *MessageBus) Handler(name string) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[name]
	return h, ok
}

// Send delivers a message. With a receiver set, the message is enqueued to
// that agent's inbox; with an empty receiver it fans out to every registered
// agent except the sender. Returns true if at least one enqueue succeeded.
//
// When the message carries a correlation ID matching a pending Request, the
// waiting request is completed with this message in addition to normal
// delivery.
func (b *MessageBus) Send(ctx context.Context, msg *Message) bool {
	if b.closed.Load() || msg == nil {
		return false
	}

	var span *observability.Span
	if b.tracer != nil {
		_, span = b.tracer.StartSpan(ctx, SpanBusSend)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("sender", msg.Sender)
		span.SetAttribute("receiver", msg.Receiver)
		span.SetAttribute("type", msg.Type.String())
		span.SetAttribute("priority", msg.Priority.String())
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.totalSent.Add(1)
	b.appendLog(msg)

	// Complete a pending request waiting on this correlation ID.
	if msg.CorrelationID != "" {
		b.mu.RLock()
		waiter, waiting := b.pending[msg.CorrelationID]
		b.mu.RUnlock()
		if waiting {
			select {
			case waiter <- msg:
				b.logger.Debug("response routed to waiting request",
					zap.String("correlation_id", msg.CorrelationID),
					zap.String("sender", msg.Sender))
			default:
				// Request already completed or timed out.
			}
		}
	}

	delivered := 0
	dropped := 0

	if msg.Receiver != "" {
		// Unicast
		b.mu.RLock()
		ib, exists := b.inboxes[msg.Receiver]
		b.mu.RUnlock()

		if !exists {
			b.logger.Debug("send to unknown agent",
				zap.String("receiver", msg.Receiver),
				zap.String("message_id", msg.ID))
			return false
		}
		if ib.enqueue(msg, b.seq.Add(1)) {
			delivered++
		} else {
			dropped++
		}
	} else {
		// Broadcast to all registered agents except the sender. A full
		// inbox drops the message for that recipient only.
		b.mu.RLock()
		targets := make([]*inbox, 0, len(b.inboxes))
		for name, ib := range b.inboxes {
			if name == msg.Sender {
				continue
			}
			targets = append(targets, ib)
		}
		b.mu.RUnlock()

		for _, ib := range targets {
			if ib.enqueue(msg, b.seq.Add(1)) {
				delivered++
			} else {
				dropped++
			}
		}
	}

	b.totalDelivered.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))

	if span != nil {
		span.SetAttribute("delivered", delivered)
		span.SetAttribute("dropped", dropped)
	}

	b.logger.Debug("bus send",
		zap.String("message_id", msg.ID),
		zap.String("sender", msg.Sender),
		zap.String("receiver", msg.Receiver),
		zap.Int("delivered", delivered),
		zap.Int("dropped", dropped))

	return delivered > 0
}

// Receive dequeues the highest-priority message for the agent, blocking
// until one arrives, the timeout elapses, or ctx is cancelled. A timeout
// of zero or less blocks until ctx is done.
//
// Expired messages (TTL exceeded) are silently dropped on dequeue and the
// next live message is returned. Returns nil on timeout, cancellation, or
// unknown agent.
func (b *MessageBus) Receive(ctx context.Context, name string, timeout time.Duration) *Message {
	if b.closed.Load() {
		return nil
	}

	var span *observability.Span
	if b.tracer != nil {
		_, span = b.tracer.StartSpan(ctx, SpanBusReceive)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("agent", name)
	}

	b.mu.RLock()
	ib, exists := b.inboxes[name]
	b.mu.RUnlock()
	if !exists {
		return nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Grab the wakeup channel before checking the queue: an enqueue
		// landing in between closes this channel and the select returns
		// immediately.
		wake := ib.waitChan()

		if msg := b.popLive(ib); msg != nil {
			if span != nil {
				span.SetAttribute("message_id", msg.ID)
			}
			return msg
		}

		select {
		case <-wake:
			// Queue may be non-empty now; retry.
		case <-deadline:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// ReceiveNowait dequeues the highest-priority message without blocking.
// Returns nil when the inbox is empty or the agent is unknown.
func (b *MessageBus) ReceiveNowait(name string) *Message {
	if b.closed.Load() {
		return nil
	}

	b.mu.RLock()
	ib, exists := b.inboxes[name]
	b.mu.RUnlock()
	if !exists {
		return nil
	}
	return b.popLive(ib)
}

// popLive pops messages off the inbox, discarding expired ones, until a
// live message or an empty queue is found.
func (b *MessageBus) popLive(ib *inbox) *Message {
	now := time.Now()
	for {
		msg := ib.pop()
		if msg == nil {
			return nil
		}
		if msg.expired(now) {
			b.totalExpired.Add(1)
			b.logger.Debug("message expired on receive",
				zap.String("message_id", msg.ID),
				zap.Duration("ttl", msg.TTL))
			continue
		}
		return msg
	}
}

// Request sends a REQUEST to the receiver and blocks until a RESPONSE
// arrives whose correlation ID matches the request's ID. Returns nil on
// timeout or cancellation; the pending record is cleaned up either way.
func (b *MessageBus) Request(ctx context.Context, sender, receiver string, content map[string]interface{}, timeout time.Duration) *Message {
	if b.closed.Load() {
		return nil
	}

	var span *observability.Span
	if b.tracer != nil {
		ctx, span = b.tracer.StartSpan(ctx, SpanBusRequest)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("sender", sender)
		span.SetAttribute("receiver", receiver)
	}

	req := NewMessage(sender, receiver, MessageTypeRequest, content)
	req.Priority = PriorityHigh

	// Buffered size 1 so the responder never blocks on delivery.
	responseChan := make(chan *Message, 1)

	b.mu.Lock()
	b.pending[req.ID] = responseChan
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	if !b.Send(ctx, req) {
		return nil
	}

	if span != nil {
		span.SetAttribute("request_id", req.ID)
	}

	if timeout <= 0 {
		timeout = b.requestTimeout
	}

	select {
	case resp := <-responseChan:
		return resp
	case <-time.After(timeout):
		b.logger.Debug("request timed out",
			zap.String("request_id", req.ID),
			zap.String("sender", sender),
			zap.String("receiver", receiver),
			zap.Duration("timeout", timeout))
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Subscribe adds the agent to a topic. Membership is a set: duplicate
// subscriptions are ignored. Subscribers are retained in registration order.
func (b *MessageBus) Subscribe(name, topic string) {
	if b.closed.Load() || name == "" || topic == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics[topic] {
		if sub == name {
			return
		}
	}
	b.topics[topic] = append(b.topics[topic], name)

	b.logger.Debug("subscribed",
		zap.String("agent", name),
		zap.String("topic", topic))
}

// Unsubscribe removes the agent from a topic. Idempotent.
func (b *MessageBus) Unsubscribe(name, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = removeName(b.topics[topic], name)
}

// Publish fans an INFORM out to every subscriber of the topic except the
// sender. Returns the number of subscribers the message was enqueued to.
func (b *MessageBus) Publish(ctx context.Context, sender, topic string, content map[string]interface{}) int {
	if b.closed.Load() {
		return 0
	}

	var span *observability.Span
	if b.tracer != nil {
		_, span = b.tracer.StartSpan(ctx, SpanBusPublish)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("sender", sender)
		span.SetAttribute("topic", topic)
	}

	msg := NewMessage(sender, "", MessageTypeInform, content)
	msg.Topic = topic
	b.appendLog(msg)

	b.mu.RLock()
	subs := make([]string, 0, len(b.topics[topic]))
	for _, sub := range b.topics[topic] {
		if sub != sender {
			subs = append(subs, sub)
		}
	}
	targets := make(map[string]*inbox, len(subs))
	for _, sub := range subs {
		if ib, exists := b.inboxes[sub]; exists {
			targets[sub] = ib
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		ib, exists := targets[sub]
		if !exists {
			continue
		}
		if ib.enqueue(msg.clone(sub), b.seq.Add(1)) {
			delivered++
		} else {
			b.totalDropped.Add(1)
		}
	}

	b.totalSent.Add(1)
	b.totalDelivered.Add(int64(delivered))

	if span != nil {
		span.SetAttribute("delivered", delivered)
	}

	b.logger.Debug("bus publish",
		zap.String("sender", sender),
		zap.String("topic", topic),
		zap.Int("delivered", delivered))

	return delivered
}

// QueueSize returns the number of messages queued for the agent.
func (b *MessageBus) QueueSize(name string) int {
	b.mu.RLock()
	ib, exists := b.inboxes[name]
	b.mu.RUnlock()
	if !exists {
		return 0
	}
	return ib.size()
}

// MessageLog returns up to limit of the most recently sent messages,
// oldest first. limit <= 0 returns the whole retained log.
func (b *MessageBus) MessageLog(limit int) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.log) {
		limit = len(b.log)
	}
	out := make([]*Message, limit)
	copy(out, b.log[len(b.log)-limit:])
	return out
}

// Subscribers returns the subscriber names for a topic in registration order.
func (b *MessageBus) Subscribers(topic string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}

// RegisteredAgents returns the names of all registered agents.
func (b *MessageBus) RegisteredAgents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.inboxes))
	for name := range b.inboxes {
		out = append(out, name)
	}
	return out
}

// Close shuts down the bus. Subsequent sends and receives fail fast;
// blocked receivers drain on their timeouts.
func (b *MessageBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	b.logger.Info("message bus closed",
		zap.Int64("total_sent", b.totalSent.Load()),
		zap.Int64("total_delivered", b.totalDelivered.Load()),
		zap.Int64("total_dropped", b.totalDropped.Load()),
		zap.Int64("total_expired", b.totalExpired.Load()))

	return nil
}

// appendLog records a sent message in the bounded log.
func (b *MessageBus) appendLog(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.log = append(b.log, msg)
	if len(b.log) > b.logLimit {
		b.log = b.log[len(b.log)-b.logLimit:]
	}
}

// removeName deletes a name from a slice preserving order.
func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}
