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
package team

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCreateTeamSelectsBestCandidates(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("analyst", []string{"analysis", "writing"}, 0.2)
	m.RegisterAgent("coder", []string{"coding"}, 0.1)
	m.RegisterAgent("busy-analyst", []string{"analysis", "writing"}, 0.9)

	team := m.CreateTeam(ctx, "report", "quarterly report", []string{"analysis", "writing"}, 2, nil)
	require.NotNil(t, team)
	assert.Equal(t, StatusActive, team.Status)

	// coder matches nothing and is skipped; both analysts match fully and
	// the idle one scores higher.
	require.Len(t, team.Members, 2)
	assert.Equal(t, "analyst", team.Members[0].AgentName)
	assert.Equal(t, RoleLeader, team.Members[0].Role)
	assert.Equal(t, "busy-analyst", team.Members[1].AgentName)
	assert.Equal(t, RoleMember, team.Members[1].Role)
}

func TestCreateTeamNoRequirementsMatchesAll(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	m.RegisterAgent("a", nil, 0.5)
	m.RegisterAgent("b", []string{"x"}, 0.5)

	team := m.CreateTeam(context.Background(), "any", "", nil, 10, nil)
	assert.Len(t, team.Members, 2)
}

func TestCreateTeamNoCandidatesStaysForming(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	m.RegisterAgent("coder", []string{"coding"}, 0.1)

	team := m.CreateTeam(context.Background(), "impossible", "", []string{"telepathy"}, 3, nil)
	assert.Equal(t, StatusForming, team.Status)
	assert.Empty(t, team.Members)
}

func TestCreateTeamTieBreaksByRegistrationOrder(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	m.RegisterAgent("second", []string{"go"}, 0.5)
	m.RegisterAgent("first", []string{"go"}, 0.5)

	team := m.CreateTeam(context.Background(), "t", "", []string{"go"}, 1, nil)
	require.Len(t, team.Members, 1)
	assert.Equal(t, "second", team.Members[0].AgentName)
}

func TestWorkloadClamped(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	m.RegisterAgent("over", []string{"go"}, 1.8)
	m.RegisterAgent("under", []string{"go"}, -0.4)

	// The clamped-to-idle agent outranks the clamped-to-saturated one.
	team := m.CreateTeam(context.Background(), "t", "", []string{"go"}, 2, nil)
	require.Len(t, team.Members, 2)
	assert.Equal(t, "under", team.Members[0].AgentName)
	assert.Equal(t, "over", team.Members[1].AgentName)
}

func TestUpdateWorkload(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	m.RegisterAgent("a", nil, 0.1)
	assert.True(t, m.UpdateWorkload("a", 0.9))
	assert.False(t, m.UpdateWorkload("ghost", 0.5))

	m.RegisterAgent("b", nil, 0.1)
	team := m.CreateTeam(context.Background(), "t", "", nil, 1, nil)
	require.Len(t, team.Members, 1)
	assert.Equal(t, "b", team.Members[0].AgentName)
}

func TestLeaderRemovalPromotesFirstRemaining(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("a", []string{"go"}, 0.0)
	m.RegisterAgent("b", []string{"go"}, 0.3)
	m.RegisterAgent("c", []string{"go"}, 0.6)

	team := m.CreateTeam(ctx, "t", "", []string{"go"}, 3, nil)
	require.Equal(t, "a", m.TeamLeader(team.ID))

	require.True(t, m.RemoveMember(team.ID, "a"))
	assert.Equal(t, "b", m.TeamLeader(team.ID))
	assert.Equal(t, RoleLeader, m.Team(team.ID).Members[0].Role)
}

func TestRemoveNonLeaderKeepsLeader(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("a", nil, 0.0)
	m.RegisterAgent("b", nil, 0.3)

	team := m.CreateTeam(ctx, "t", "", nil, 2, nil)
	require.True(t, m.RemoveMember(team.ID, "b"))
	assert.Equal(t, "a", m.TeamLeader(team.ID))
}

func TestRemoveLastMemberLeavesNoLeader(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	m.RegisterAgent("a", nil, 0.0)
	team := m.CreateTeam(context.Background(), "t", "", nil, 1, nil)

	require.True(t, m.RemoveMember(team.ID, "a"))
	assert.Empty(t, m.TeamLeader(team.ID))
	assert.False(t, m.RemoveMember(team.ID, "a"))
}

func TestAddMember(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("a", []string{"go"}, 0.0)
	team := m.CreateTeam(ctx, "t", "", []string{"go"}, 1, nil)

	m.RegisterAgent("b", []string{"rust"}, 0.2)
	assert.True(t, m.AddMember(team.ID, "b", RoleSpecialist))
	assert.False(t, m.AddMember(team.ID, "b", RoleMember))   // already a member
	assert.False(t, m.AddMember(team.ID, "ghost", RoleMember)) // unregistered
	assert.False(t, m.AddMember("no-such-team", "b", RoleMember))

	// A second leader is demoted to member on entry.
	m.RegisterAgent("c", nil, 0.1)
	require.True(t, m.AddMember(team.ID, "c", RoleLeader))
	assert.Equal(t, "a", m.TeamLeader(team.ID))
}

func TestAssignRole(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("a", nil, 0.0)
	m.RegisterAgent("b", nil, 0.2)
	team := m.CreateTeam(ctx, "t", "", nil, 2, nil)

	// Promoting b demotes the current leader.
	require.True(t, m.AssignRole(team.ID, "b", RoleLeader))
	assert.Equal(t, "b", m.TeamLeader(team.ID))

	for _, member := range m.Team(team.ID).Members {
		if member.AgentName == "a" {
			assert.Equal(t, RoleMember, member.Role)
		}
	}

	assert.False(t, m.AssignRole(team.ID, "ghost", RoleObserver))
}

func TestDisbandTeam(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("a", nil, 0.0)
	team := m.CreateTeam(ctx, "t", "", nil, 1, nil)

	assert.True(t, m.DisbandTeam(ctx, team.ID))
	assert.Equal(t, StatusDisbanded, m.Team(team.ID).Status)
	assert.Empty(t, m.Team(team.ID).Members)

	assert.False(t, m.DisbandTeam(ctx, team.ID))
	assert.False(t, m.AddMember(team.ID, "a", RoleMember))
	assert.Empty(t, m.AgentTeams("a"))
}

func TestAgentTeams(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("a", nil, 0.0)
	t1 := m.CreateTeam(ctx, "one", "", nil, 1, nil)
	t2 := m.CreateTeam(ctx, "two", "", nil, 1, nil)

	assert.ElementsMatch(t, []string{t1.ID, t2.ID}, m.AgentTeams("a"))
	assert.Empty(t, m.AgentTeams("ghost"))
}

func TestTeamCapabilitiesSortedUnion(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("a", []string{"writing", "analysis"}, 0.0)
	m.RegisterAgent("b", []string{"coding", "analysis"}, 0.1)

	team := m.CreateTeam(ctx, "t", "", nil, 2, nil)
	assert.Equal(t, []string{"analysis", "coding", "writing"}, m.TeamCapabilities(team.ID))
}

func TestActiveTeams(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	ctx := context.Background()

	m.RegisterAgent("a", nil, 0.0)
	active := m.CreateTeam(ctx, "active", "", nil, 1, nil)
	empty := m.CreateTeam(ctx, "forming", "", []string{"none"}, 1, nil)
	gone := m.CreateTeam(ctx, "gone", "", nil, 1, nil)
	m.DisbandTeam(ctx, gone.ID)

	require.True(t, m.SetStatus(active.ID, StatusExecuting))

	teams := m.ActiveTeams()
	require.Len(t, teams, 1)
	assert.Equal(t, active.ID, teams[0].ID)
	assert.Equal(t, StatusForming, m.Team(empty.ID).Status)
}
