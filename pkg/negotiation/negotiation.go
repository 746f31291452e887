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
// Package negotiation implements the Contract Net Protocol: a call for
// proposals, competing bids, weighted evaluation, and an award.
package negotiation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftworks/weft/pkg/observability"
)

// Span constants for negotiation operations
const (
	SpanNegotiationCreate   = "negotiation.create_cfp"
	SpanNegotiationBid      = "negotiation.submit_bid"
	SpanNegotiationEvaluate = "negotiation.evaluate"
)

// Default criteria weights for bid evaluation.
const (
	DefaultWeightCapability = 0.5
	DefaultWeightPrice      = 0.3
	DefaultWeightDuration   = 0.2
)

// Criteria keys recognized by the evaluator.
const (
	CriterionCapabilityScore   = "capability_score"
	CriterionPrice             = "price"
	CriterionEstimatedDuration = "estimated_duration"
)

// BidStatus is the lifecycle state of a bid. A bid's status is mutated
// only by the negotiation that owns it.
type BidStatus int

const (
	BidPending BidStatus = iota
	BidAccepted
	BidRejected
	BidWithdrawn
)

func (s BidStatus) String() string {
	switch s {
	case BidPending:
		return "pending"
	case BidAccepted:
		return "accepted"
	case BidRejected:
		return "rejected"
	case BidWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a negotiation. Transitions are linear:
// open → bidding → (awarded|failed) → (completed|cancelled), with
// cancelled reachable from any non-terminal state.
type State int

const (
	StateOpen State = iota
	StateBidding
	StateAwarded
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateBidding:
		return "bidding"
	case StateAwarded:
		return "awarded"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Bid is one agent's proposal for a task.
type Bid struct {
	ID                string
	AgentName         string
	NegotiationID     string
	Price             float64
	CapabilityScore   float64 // self-assessed fit in [0,1]
	EstimatedDuration float64 // seconds
	Proposal          map[string]interface{}
	Status            BidStatus
	Submitted         time.Time
}

// Negotiation is a single Contract Net round.
type Negotiation struct {
	ID                   string
	TaskDescription      string
	Initiator            string
	State                State
	Criteria             map[string]float64
	RequiredCapabilities []string
	Bids                 []*Bid
	Winner               string
	Deadline             time.Duration
	Created              time.Time
}

// Manager runs Contract Net negotiations over a registry of agent
// capabilities. All operations are safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	// Negotiation ID → negotiation
	negotiations map[string]*Negotiation

	// Agent name → capability list (replace semantics on registration)
	capabilities map[string][]string

	// Dependencies
	tracer observability.Tracer
	logger *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTracer attaches a tracer for span instrumentation.
func WithTracer(tracer observability.Tracer) ManagerOption {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// NewManager creates a negotiation manager.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		negotiations: make(map[string]*Negotiation),
		capabilities: make(map[string][]string),
		logger:       logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// RegisterCapabilities records the agent's capability list, replacing any
// previous registration.
func (m *Manager) RegisterCapabilities(agentName string, capabilities []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	caps := make([]string, len(capabilities))
	copy(caps, capabilities)
	m.capabilities[agentName] = caps

	m.logger.Debug("capabilities registered",
		zap.String("agent", agentName),
		zap.Strings("capabilities", caps))
}

// CreateCFP opens a call for proposals. The negotiation starts in the
// bidding state. Omitted criteria fall back to the default weights.
func (m *Manager) CreateCFP(ctx context.Context, initiator, taskDescription string, requiredCapabilities []string, criteria map[string]float64, deadline time.Duration) *Negotiation {
	var span *observability.Span
	if m.tracer != nil {
		_, span = m.tracer.StartSpan(ctx, SpanNegotiationCreate)
		defer m.tracer.EndSpan(span)
		span.SetAttribute("initiator", initiator)
	}

	if criteria == nil {
		criteria = map[string]float64{
			CriterionCapabilityScore:   DefaultWeightCapability,
			CriterionPrice:             DefaultWeightPrice,
			CriterionEstimatedDuration: DefaultWeightDuration,
		}
	}

	neg := &Negotiation{
		ID:                   uuid.New().String(),
		TaskDescription:      taskDescription,
		Initiator:            initiator,
		State:                StateBidding,
		Criteria:             criteria,
		RequiredCapabilities: requiredCapabilities,
		Deadline:             deadline,
		Created:              time.Now(),
	}

	m.mu.Lock()
	m.negotiations[neg.ID] = neg
	m.mu.Unlock()

	if span != nil {
		span.SetAttribute("negotiation_id", neg.ID)
	}

	m.logger.Info("cfp created",
		zap.String("negotiation_id", neg.ID),
		zap.String("initiator", initiator),
		zap.String("task", taskDescription),
		zap.Strings("required_capabilities", requiredCapabilities))

	return neg
}

// Negotiation returns the negotiation by ID, nil if unknown.
func (m *Manager) Negotiation(id string) *Negotiation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.negotiations[id]
}

// EligibleAgents returns agents whose capability set is a superset of the
// required capabilities. An empty requirement matches every registered
// agent.
func (m *Manager) EligibleAgents(requiredCapabilities []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var eligible []string
	for agent, caps := range m.capabilities {
		if hasAllCapabilities(caps, requiredCapabilities) {
			eligible = append(eligible, agent)
		}
	}
	return eligible
}

// SubmitBid records a bid on an open call. Returns nil when the
// negotiation is unknown or no longer accepting bids.
func (m *Manager) SubmitBid(ctx context.Context, negotiationID, agentName string, price, capabilityScore, estimatedDuration float64, proposal map[string]interface{}) *Bid {
	var span *observability.Span
	if m.tracer != nil {
		_, span = m.tracer.StartSpan(ctx, SpanNegotiationBid)
		defer m.tracer.EndSpan(span)
		span.SetAttribute("negotiation_id", negotiationID)
		span.SetAttribute("agent", agentName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	neg, exists := m.negotiations[negotiationID]
	if !exists || neg.State != StateBidding {
		m.logger.Debug("bid rejected",
			zap.String("negotiation_id", negotiationID),
			zap.String("agent", agentName),
			zap.Bool("found", exists))
		return nil
	}

	bid := &Bid{
		ID:                uuid.New().String(),
		AgentName:         agentName,
		NegotiationID:     negotiationID,
		Price:             price,
		CapabilityScore:   clamp01(capabilityScore),
		EstimatedDuration: estimatedDuration,
		Proposal:          proposal,
		Status:            BidPending,
		Submitted:         time.Now(),
	}
	neg.Bids = append(neg.Bids, bid)

	m.logger.Debug("bid submitted",
		zap.String("negotiation_id", negotiationID),
		zap.String("agent", agentName),
		zap.Float64("price", price),
		zap.Float64("capability_score", bid.CapabilityScore))

	return bid
}

// EvaluateBids scores all pending bids against the negotiation criteria
// and awards the negotiation to the strictly highest scorer; ties break
// toward the earlier bid. The winner's bid is accepted, all other pending
// bids rejected, and the state moves to awarded.
//
// With no pending bids the negotiation fails and the second return is
// false.
func (m *Manager) EvaluateBids(ctx context.Context, negotiationID string) (string, bool) {
	var span *observability.Span
	if m.tracer != nil {
		_, span = m.tracer.StartSpan(ctx, SpanNegotiationEvaluate)
		defer m.tracer.EndSpan(span)
		span.SetAttribute("negotiation_id", negotiationID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	neg, exists := m.negotiations[negotiationID]
	if !exists || neg.State != StateBidding {
		return "", false
	}

	var pending []*Bid
	for _, bid := range neg.Bids {
		if bid.Status == BidPending {
			pending = append(pending, bid)
		}
	}

	if len(pending) == 0 {
		neg.State = StateFailed
		m.logger.Info("negotiation failed: no bids",
			zap.String("negotiation_id", negotiationID))
		return "", false
	}

	// Normalization floors avoid division by zero on free or instant bids.
	maxPrice := 1.0
	maxDuration := 1.0
	for _, bid := range pending {
		if bid.Price > maxPrice {
			maxPrice = bid.Price
		}
		if bid.EstimatedDuration > maxDuration {
			maxDuration = bid.EstimatedDuration
		}
	}

	wCap := neg.Criteria[CriterionCapabilityScore]
	wPrice := neg.Criteria[CriterionPrice]
	wDur := neg.Criteria[CriterionEstimatedDuration]

	var winner *Bid
	bestScore := -1.0
	for _, bid := range pending {
		score := wCap*bid.CapabilityScore +
			wPrice*(1-bid.Price/maxPrice) +
			wDur*(1-bid.EstimatedDuration/maxDuration)
		if score > bestScore {
			bestScore = score
			winner = bid
		}
	}

	winner.Status = BidAccepted
	for _, bid := range pending {
		if bid != winner {
			bid.Status = BidRejected
		}
	}
	neg.State = StateAwarded
	neg.Winner = winner.AgentName

	if span != nil {
		span.SetAttribute("winner", winner.AgentName)
		span.SetAttribute("score", bestScore)
		span.SetAttribute("bids", len(pending))
	}

	m.logger.Info("negotiation awarded",
		zap.String("negotiation_id", negotiationID),
		zap.String("winner", winner.AgentName),
		zap.Float64("score", bestScore),
		zap.Int("bids", len(pending)))

	return winner.AgentName, true
}

// CompleteNegotiation closes an awarded negotiation. Returns false unless
// the state is awarded.
func (m *Manager) CompleteNegotiation(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	neg, exists := m.negotiations[id]
	if !exists || neg.State != StateAwarded {
		return false
	}
	neg.State = StateCompleted

	m.logger.Info("negotiation completed", zap.String("negotiation_id", id))
	return true
}

// CancelNegotiation cancels from any non-terminal state and withdraws all
// still-pending bids.
func (m *Manager) CancelNegotiation(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	neg, exists := m.negotiations[id]
	if !exists || neg.State.terminal() {
		return false
	}
	neg.State = StateCancelled
	for _, bid := range neg.Bids {
		if bid.Status == BidPending {
			bid.Status = BidWithdrawn
		}
	}

	m.logger.Info("negotiation cancelled", zap.String("negotiation_id", id))
	return true
}

// hasAllCapabilities reports whether caps is a superset of required.
func hasAllCapabilities(caps, required []string) bool {
	for _, req := range required {
		found := false
		for _, c := range caps {
			if c == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
