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
// Package consensus implements topic-scoped vote sessions with four
// resolution methods: majority, unanimous, weighted, and quorum.
package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftworks/weft/pkg/observability"
)

// Span constants for consensus operations
const (
	SpanConsensusCast    = "consensus.cast_vote"
	SpanConsensusResolve = "consensus.resolve"
)

// DefaultWeight is the voting weight for agents without an explicit weight.
const DefaultWeight = 1.0

// VoteType is an agent's position in a session.
type VoteType int

const (
	VoteApprove VoteType = iota
	VoteReject
	VoteAbstain
)

func (v VoteType) String() string {
	switch v {
	case VoteApprove:
		return "approve"
	case VoteReject:
		return "reject"
	case VoteAbstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// Method selects how a session's votes resolve into a result.
type Method int

const (
	// MethodMajority counts approves against rejects; abstains are ignored.
	MethodMajority Method = iota
	// MethodUnanimous approves only if every non-abstain vote approves.
	MethodUnanimous
	// MethodWeighted sums per-agent weights on each side.
	MethodWeighted
	// MethodQuorum approves when the approve ratio of non-abstain votes
	// meets the session quorum.
	MethodQuorum
)

func (m Method) String() string {
	switch m {
	case MethodMajority:
		return "majority"
	case MethodUnanimous:
		return "unanimous"
	case MethodWeighted:
		return "weighted"
	case MethodQuorum:
		return "quorum"
	default:
		return "unknown"
	}
}

// Vote is a single agent's ballot. Within a session, each agent votes at
// most once; the weight is captured at cast time.
type Vote struct {
	ID        string
	AgentName string
	Type      VoteType
	Weight    float64
	Reason    string
	Timestamp time.Time
}

// Session is a voting round on a topic. Once resolved, votes may not be
// added and the result is immutable.
type Session struct {
	ID       string
	Topic    string
	Method   Method
	Quorum   float64 // participation (and approval, for MethodQuorum) threshold in [0,1]
	Votes    []*Vote
	Resolved bool
	Result   VoteType
	Created  time.Time
}

// Builder manages agent weights and vote sessions.
// All operations are safe for concurrent use.
type Builder struct {
	mu sync.RWMutex

	// Session ID → session
	sessions map[string]*Session

	// Agent name → voting weight (absent = DefaultWeight)
	weights map[string]float64

	// Dependencies
	tracer observability.Tracer
	logger *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTracer attaches a tracer for span instrumentation.
func WithTracer(tracer observability.Tracer) BuilderOption {
	return func(b *Builder) {
		b.tracer = tracer
	}
}

// NewBuilder creates a consensus builder.
func NewBuilder(logger *zap.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Builder{
		sessions: make(map[string]*Session),
		weights:  make(map[string]float64),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// SetAgentWeight assigns a voting weight to the agent, clamped to >= 0.
func (b *Builder) SetAgentWeight(name string, weight float64) {
	if weight < 0 {
		weight = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.weights[name] = weight
}

// AgentWeight returns the agent's voting weight, DefaultWeight when unset.
func (b *Builder) AgentWeight(name string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if w, ok := b.weights[name]; ok {
		return w
	}
	return DefaultWeight
}

// CreateSession opens a new voting session. quorum is clamped to [0,1].
func (b *Builder) CreateSession(topic string, method Method, quorum float64) *Session {
	if quorum < 0 {
		quorum = 0
	}
	if quorum > 1 {
		quorum = 1
	}

	session := &Session{
		ID:      uuid.New().String(),
		Topic:   topic,
		Method:  method,
		Quorum:  quorum,
		Created: time.Now(),
	}

	b.mu.Lock()
	b.sessions[session.ID] = session
	b.mu.Unlock()

	b.logger.Debug("consensus session created",
		zap.String("session_id", session.ID),
		zap.String("topic", topic),
		zap.String("method", method.String()),
		zap.Float64("quorum", quorum))

	return session
}

// Session returns the session by ID, nil if unknown.
func (b *Builder) Session(id string) *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[id]
}

// CastVote records the agent's ballot. Returns nil when the session is
// unknown or resolved, or when the agent has already voted.
func (b *Builder) CastVote(ctx context.Context, sessionID, agentName string, voteType VoteType, reason string) *Vote {
	var span *observability.Span
	if b.tracer != nil {
		_, span = b.tracer.StartSpan(ctx, SpanConsensusCast)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("session_id", sessionID)
		span.SetAttribute("agent", agentName)
		span.SetAttribute("vote", voteType.String())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	session, exists := b.sessions[sessionID]
	if !exists || session.Resolved {
		b.logger.Debug("vote rejected",
			zap.String("session_id", sessionID),
			zap.String("agent", agentName),
			zap.Bool("found", exists))
		return nil
	}

	for _, v := range session.Votes {
		if v.AgentName == agentName {
			b.logger.Debug("duplicate vote rejected",
				zap.String("session_id", sessionID),
				zap.String("agent", agentName))
			return nil
		}
	}

	weight := DefaultWeight
	if w, ok := b.weights[agentName]; ok {
		weight = w
	}

	vote := &Vote{
		ID:        uuid.New().String(),
		AgentName: agentName,
		Type:      voteType,
		Weight:    weight,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	session.Votes = append(session.Votes, vote)

	b.logger.Debug("vote cast",
		zap.String("session_id", sessionID),
		zap.String("agent", agentName),
		zap.String("vote", voteType.String()),
		zap.Float64("weight", weight))

	return vote
}

// Resolve computes the session result. The second return is false when the
// session is unknown or cannot resolve yet (participation below quorum when
// totalAgents > 0; the session stays open and may resolve later).
//
// Resolving an already-resolved session returns the stored result and never
// mutates the session.
func (b *Builder) Resolve(ctx context.Context, sessionID string, totalAgents int) (VoteType, bool) {
	var span *observability.Span
	if b.tracer != nil {
		_, span = b.tracer.StartSpan(ctx, SpanConsensusResolve)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("session_id", sessionID)
		span.SetAttribute("total_agents", totalAgents)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	session, exists := b.sessions[sessionID]
	if !exists {
		return VoteAbstain, false
	}

	if session.Resolved {
		return session.Result, true
	}

	// Participation gate: with a known electorate, the session needs
	// enough ballots before it may resolve at all.
	if totalAgents > 0 {
		participation := float64(len(session.Votes)) / float64(totalAgents)
		if participation < session.Quorum {
			b.logger.Debug("participation below quorum",
				zap.String("session_id", sessionID),
				zap.Float64("participation", participation),
				zap.Float64("quorum", session.Quorum))
			return VoteAbstain, false
		}
	}

	result := resolveVotes(session)

	session.Resolved = true
	session.Result = result

	if span != nil {
		span.SetAttribute("result", result.String())
		span.SetAttribute("votes", len(session.Votes))
	}

	b.logger.Info("consensus resolved",
		zap.String("session_id", sessionID),
		zap.String("topic", session.Topic),
		zap.String("method", session.Method.String()),
		zap.String("result", result.String()),
		zap.Int("votes", len(session.Votes)))

	return result, true
}

// resolveVotes applies the session's resolution method.
func resolveVotes(session *Session) VoteType {
	var approves, rejects int
	var approveWeight, rejectWeight float64

	for _, v := range session.Votes {
		switch v.Type {
		case VoteApprove:
			approves++
			approveWeight += v.Weight
		case VoteReject:
			rejects++
			rejectWeight += v.Weight
		}
	}

	switch session.Method {
	case MethodMajority:
		switch {
		case approves > rejects:
			return VoteApprove
		case rejects > approves:
			return VoteReject
		default:
			return VoteAbstain
		}

	case MethodUnanimous:
		if approves+rejects == 0 {
			return VoteAbstain
		}
		if rejects == 0 {
			return VoteApprove
		}
		return VoteReject

	case MethodWeighted:
		switch {
		case approveWeight > rejectWeight:
			return VoteApprove
		case rejectWeight > approveWeight:
			return VoteReject
		default:
			return VoteAbstain
		}

	case MethodQuorum:
		if approves+rejects == 0 {
			return VoteAbstain
		}
		ratio := float64(approves) / float64(approves+rejects)
		if ratio >= session.Quorum {
			return VoteApprove
		}
		return VoteReject

	default:
		return VoteAbstain
	}
}
