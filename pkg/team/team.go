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
// Package team forms agent teams by capability match and workload, and
// tracks roles with automatic leader promotion.
package team

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftworks/weft/pkg/observability"
)

// Span constants for team operations
const (
	SpanTeamCreate  = "team.create"
	SpanTeamDisband = "team.disband"
)

// Candidate scoring weights: capability fit dominates, free capacity
// breaks close calls.
const (
	matchWeight    = 0.7
	workloadWeight = 0.3
)

// Role is a member's function within a team.
type Role int

const (
	RoleLeader Role = iota
	RoleMember
	RoleSpecialist
	RoleObserver
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleMember:
		return "member"
	case RoleSpecialist:
		return "specialist"
	case RoleObserver:
		return "observer"
	default:
		return "unknown"
	}
}

// Status is a team's lifecycle state.
type Status int

const (
	StatusForming Status = iota
	StatusActive
	StatusExecuting
	StatusCompleted
	StatusDisbanded
)

func (s Status) String() string {
	switch s {
	case StatusForming:
		return "forming"
	case StatusActive:
		return "active"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusDisbanded:
		return "disbanded"
	default:
		return "unknown"
	}
}

// Member is an agent's membership in a team.
type Member struct {
	AgentName    string
	Role         Role
	Capabilities []string
	Workload     float64
	Joined       time.Time
}

// Team is a group of agents assembled for an objective. At most one
// member holds RoleLeader at a time.
type Team struct {
	ID                   string
	Name                 string
	Objective            string
	Members              []*Member
	RequiredCapabilities []string
	Status               Status
	Metadata             map[string]interface{}
	Created              time.Time
}

// profile is a registered agent's capability and capacity record.
type profile struct {
	capabilities []string
	workload     float64
}

// Manager registers agent profiles and forms teams from them.
// All operations are safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	// Team ID → team
	teams map[string]*Team

	// Agent name → profile; order preserves registration sequence so
	// candidate ties break deterministically.
	profiles map[string]*profile
	order    []string

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

// NewManager creates a team manager.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		teams:    make(map[string]*Team),
		profiles: make(map[string]*profile),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// RegisterAgent records an agent's capabilities and workload. Workload is
// clamped to [0,1]. Re-registering replaces the profile but keeps the
// agent's original position in the candidate order.
func (m *Manager) RegisterAgent(name string, capabilities []string, workload float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	caps := make([]string, len(capabilities))
	copy(caps, capabilities)

	if _, exists := m.profiles[name]; !exists {
		m.order = append(m.order, name)
	}
	m.profiles[name] = &profile{
		capabilities: caps,
		workload:     clamp01(workload),
	}

	m.logger.Debug("agent profile registered",
		zap.String("agent", name),
		zap.Strings("capabilities", caps),
		zap.Float64("workload", clamp01(workload)))
}

// UpdateWorkload sets the agent's workload, clamped to [0,1]. Returns
// false for unregistered agents.
func (m *Manager) UpdateWorkload(name string, workload float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.profiles[name]
	if !exists {
		return false
	}
	p.workload = clamp01(workload)
	return true
}

// CreateTeam assembles a team from the registered profiles. Candidates are
// scored by capability match and free capacity, the top maxMembers join,
// and the first selected becomes the leader. The team starts active when
// any member joined, forming otherwise.
func (m *Manager) CreateTeam(ctx context.Context, name, objective string, requiredCapabilities []string, maxMembers int, metadata map[string]interface{}) *Team {
	var span *observability.Span
	if m.tracer != nil {
		_, span = m.tracer.StartSpan(ctx, SpanTeamCreate)
		defer m.tracer.EndSpan(span)
		span.SetAttribute("name", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	team := &Team{
		ID:                   uuid.New().String(),
		Name:                 name,
		Objective:            objective,
		RequiredCapabilities: requiredCapabilities,
		Status:               StatusForming,
		Metadata:             metadata,
		Created:              time.Now(),
	}

	for _, candidate := range m.selectCandidates(requiredCapabilities, maxMembers) {
		p := m.profiles[candidate]
		role := RoleMember
		if len(team.Members) == 0 {
			role = RoleLeader
		}
		team.Members = append(team.Members, &Member{
			AgentName:    candidate,
			Role:         role,
			Capabilities: p.capabilities,
			Workload:     p.workload,
			Joined:       time.Now(),
		})
	}

	if len(team.Members) > 0 {
		team.Status = StatusActive
	}
	m.teams[team.ID] = team

	if span != nil {
		span.SetAttribute("team_id", team.ID)
		span.SetAttribute("members", len(team.Members))
	}

	m.logger.Info("team created",
		zap.String("team_id", team.ID),
		zap.String("name", name),
		zap.Int("members", len(team.Members)),
		zap.String("status", team.Status.String()))

	return team
}

// selectCandidates scores every profiled agent against the requirements
// and returns the top maxMembers names. Caller holds the lock.
//
// match_ratio = |required ∩ caps| / |required|, 1.0 when nothing is
// required. Agents matching none of a non-empty requirement are skipped.
// score = 0.7*match_ratio + 0.3*(1-workload). Ties keep registration
// order (the sort is stable over m.order).
func (m *Manager) selectCandidates(required []string, maxMembers int) []string {
	type scored struct {
		name  string
		score float64
	}

	var candidates []scored
	for _, name := range m.order {
		p := m.profiles[name]

		ratio := 1.0
		if len(required) > 0 {
			matched := 0
			for _, req := range required {
				for _, c := range p.capabilities {
					if c == req {
						matched++
						break
					}
				}
			}
			if matched == 0 {
				continue
			}
			ratio = float64(matched) / float64(len(required))
		}

		candidates = append(candidates, scored{
			name:  name,
			score: matchWeight*ratio + workloadWeight*(1-p.workload),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if maxMembers > 0 && len(candidates) > maxMembers {
		candidates = candidates[:maxMembers]
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

// Team returns the team by ID, nil if unknown.
func (m *Manager) Team(id string) *Team {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.teams[id]
}

// AddMember adds a registered agent to the team with the given role.
// Returns false when the team or agent is unknown, the team is disbanded,
// or the agent is already a member.
func (m *Manager) AddMember(teamID, agentName string, role Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	team, exists := m.teams[teamID]
	if !exists || team.Status == StatusDisbanded {
		return false
	}
	p, registered := m.profiles[agentName]
	if !registered {
		return false
	}
	for _, member := range team.Members {
		if member.AgentName == agentName {
			return false
		}
	}

	// A second leader demotes to member; at most one leader per team.
	if role == RoleLeader && m.leaderOf(team) != "" {
		role = RoleMember
	}

	team.Members = append(team.Members, &Member{
		AgentName:    agentName,
		Role:         role,
		Capabilities: p.capabilities,
		Workload:     p.workload,
		Joined:       time.Now(),
	})
	if team.Status == StatusForming {
		team.Status = StatusActive
	}

	m.logger.Debug("member added",
		zap.String("team_id", teamID),
		zap.String("agent", agentName),
		zap.String("role", role.String()))

	return true
}

// RemoveMember removes the agent from the team. If the leader leaves and
// members remain, the first remaining member is promoted in the same step.
func (m *Manager) RemoveMember(teamID, agentName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	team, exists := m.teams[teamID]
	if !exists {
		return false
	}

	idx := -1
	for i, member := range team.Members {
		if member.AgentName == agentName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	wasLeader := team.Members[idx].Role == RoleLeader
	team.Members = append(team.Members[:idx], team.Members[idx+1:]...)

	if wasLeader && len(team.Members) > 0 {
		team.Members[0].Role = RoleLeader
		m.logger.Info("leader promoted",
			zap.String("team_id", teamID),
			zap.String("agent", team.Members[0].AgentName))
	}

	return true
}

// AssignRole changes a member's role. Assigning RoleLeader demotes the
// current leader to member first.
func (m *Manager) AssignRole(teamID, agentName string, role Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	team, exists := m.teams[teamID]
	if !exists {
		return false
	}

	var target *Member
	for _, member := range team.Members {
		if member.AgentName == agentName {
			target = member
			break
		}
	}
	if target == nil {
		return false
	}

	if role == RoleLeader {
		for _, member := range team.Members {
			if member.Role == RoleLeader && member != target {
				member.Role = RoleMember
			}
		}
	}
	target.Role = role
	return true
}

// SetStatus moves the team between lifecycle states. Disbanded teams
// never leave that state.
func (m *Manager) SetStatus(teamID string, status Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	team, exists := m.teams[teamID]
	if !exists || team.Status == StatusDisbanded {
		return false
	}
	team.Status = status
	return true
}

// DisbandTeam marks the team disbanded and clears its members.
func (m *Manager) DisbandTeam(ctx context.Context, teamID string) bool {
	var span *observability.Span
	if m.tracer != nil {
		_, span = m.tracer.StartSpan(ctx, SpanTeamDisband)
		defer m.tracer.EndSpan(span)
		span.SetAttribute("team_id", teamID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	team, exists := m.teams[teamID]
	if !exists || team.Status == StatusDisbanded {
		return false
	}
	team.Status = StatusDisbanded
	team.Members = nil

	m.logger.Info("team disbanded", zap.String("team_id", teamID))
	return true
}

// AgentTeams returns the IDs of every non-disbanded team the agent
// belongs to.
func (m *Manager) AgentTeams(agentName string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, team := range m.teams {
		if team.Status == StatusDisbanded {
			continue
		}
		for _, member := range team.Members {
			if member.AgentName == agentName {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// TeamLeader returns the leader's agent name, empty when the team is
// unknown or leaderless.
func (m *Manager) TeamLeader(teamID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	team, exists := m.teams[teamID]
	if !exists {
		return ""
	}
	return m.leaderOf(team)
}

// leaderOf returns the leader's name or empty. Caller holds the lock.
func (m *Manager) leaderOf(team *Team) string {
	for _, member := range team.Members {
		if member.Role == RoleLeader {
			return member.AgentName
		}
	}
	return ""
}

// TeamCapabilities returns the sorted union of the members' capabilities.
func (m *Manager) TeamCapabilities(teamID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	team, exists := m.teams[teamID]
	if !exists {
		return nil
	}

	seen := make(map[string]struct{})
	for _, member := range team.Members {
		for _, c := range member.Capabilities {
			seen[c] = struct{}{}
		}
	}

	caps := make([]string, 0, len(seen))
	for c := range seen {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// ActiveTeams returns every team in the active or executing state.
func (m *Manager) ActiveTeams() []*Team {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*Team
	for _, team := range m.teams {
		if team.Status == StatusActive || team.Status == StatusExecuting {
			active = append(active, team)
		}
	}
	return active
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
