package ice

import (
	"net"
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
)

func newTestAgentForRoleConflict(mode AgentMode, tiebreaker uint64) *Agent {
	return &Agent{
		log:        logging.NewDefaultLoggerFactory().NewLogger("test"),
		local:      newDescription(),
		remote:     newDescription(),
		mode:       mode,
		tiebreaker: tiebreaker,
	}
}

func TestResolveRoleConflictNoConflictWhenRolesDiffer(t *testing.T) {
	a := newTestAgentForRoleConflict(Controlling, 5)
	conflict, weKeep := a.resolveRoleConflictLocked(Controlled, 10)
	assert.False(t, conflict)
	assert.False(t, weKeep)
	assert.Equal(t, Controlling, a.mode)
}

func TestResolveRoleConflictLargerTiebreakerKeepsRole(t *testing.T) {
	a := newTestAgentForRoleConflict(Controlling, 10)
	conflict, weKeep := a.resolveRoleConflictLocked(Controlling, 5)
	assert.True(t, conflict)
	assert.True(t, weKeep)
	assert.Equal(t, Controlling, a.mode)
}

func TestResolveRoleConflictSmallerTiebreakerSwitchesRole(t *testing.T) {
	a := newTestAgentForRoleConflict(Controlling, 5)
	conflict, weKeep := a.resolveRoleConflictLocked(Controlling, 10)
	assert.True(t, conflict)
	assert.False(t, weKeep)
	assert.Equal(t, Controlled, a.mode)
}

func TestSwitchRoleRecomputesPairPriorities(t *testing.T) {
	a := newTestAgentForRoleConflict(Controlling, 5)
	_, _ = a.remote.addCandidate(newHostCandidate(0, &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1}))
	a.remote.candidates[0].priority = 1000
	_, _ = a.local.addCandidate(newHostCandidate(0, &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}))
	a.local.candidates[0].priority = 2000
	rcID := a.remote.candidates[0].id
	lcID := a.local.candidates[0].id

	a.pairs = append(a.pairs, CandidatePair{
		id: 0, remote: rcID, local: lcID, hasLocal: true,
		priority: computePairPriority(2000, 1000, true),
	})

	before := a.pairs[0].priority
	a.switchRoleLocked()
	after := a.pairs[0].priority

	assert.Equal(t, Controlled, a.mode)
	assert.NotEqual(t, before, after)
}
