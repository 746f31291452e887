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
	"time"

	"github.com/google/uuid"
)

// MessageType classifies the intent of a message.
type MessageType int

const (
	MessageTypeRequest MessageType = iota
	MessageTypeResponse
	MessageTypeInform
	MessageTypeCFP
	MessageTypeBroadcast
	MessageTypePropose
	MessageTypeAccept
	MessageTypeReject
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	case MessageTypeInform:
		return "inform"
	case MessageTypeCFP:
		return "cfp"
	case MessageTypeBroadcast:
		return "broadcast"
	case MessageTypePropose:
		return "propose"
	case MessageTypeAccept:
		return "accept"
	case MessageTypeReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Priority orders messages within an agent's inbox.
// Lower rank dequeues first.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Message is a single unit of agent-to-agent communication.
// A message with an empty Receiver is a broadcast.
// Messages are immutable after Send; the bus never modifies delivered messages.
type Message struct {
	ID            string
	Sender        string
	Receiver      string // empty = broadcast to all registered agents
	Type          MessageType
	Priority      Priority
	Content       map[string]interface{}
	Topic         string
	CorrelationID string // links a response to its originating request
	Timestamp     time.Time
	TTL           time.Duration // 0 = no expiry
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(sender, receiver string, msgType MessageType, content map[string]interface{}) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Receiver:  receiver,
		Type:      msgType,
		Priority:  PriorityNormal,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// expired reports whether the message has outlived its TTL.
func (m *Message) expired(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.Timestamp) > m.TTL
}

// clone returns a copy with a new receiver, used for pub/sub fan-out.
// The content map is shared; the bus treats delivered messages as read-only.
func (m *Message) clone(receiver string) *Message {
	c := *m
	c.Receiver = receiver
	return &c
}
