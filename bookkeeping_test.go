package ice

import (
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
)

func newTestAgentForBookkeeping() *Agent {
	return &Agent{
		log:    logging.NewDefaultLoggerFactory().NewLogger("test"),
		local:  newDescription(),
		remote: newDescription(),
		mode:   Controlling,
	}
}

// Regression test: a SucceededKeepalive entry must not rearm forever
// without ever actually sending once its deadline is reached (an entry
// with isArmed()==false is "due" for a keepalive transmission, not a
// skip).
func TestBookkeepEntrySendsKeepaliveWhenDue(t *testing.T) {
	a := newTestAgentForBookkeeping()

	rcID, _ := a.remote.addCandidate(newHostCandidate(0, &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 4000}))
	lcID, _ := a.local.addCandidate(newHostCandidate(0, &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}))

	entryID := a.appendEntryLocked(StunEntry{
		typ:              EntryCheck,
		state:            SucceededKeepalive,
		destination:      &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 4000},
		pair:             0,
		hasPair:          true,
		nextTransmission: time.Now().Add(-time.Second), // already due
	})
	a.pairs = append(a.pairs, CandidatePair{
		id: 0, remote: rcID, local: lcID, hasLocal: true, entry: entryID,
	})

	before := a.entries[entryID].nextTransmission
	next := a.bookkeepEntryLocked(entryID, time.Now())

	assert.True(t, next.After(before), "keepalive deadline should advance past the due time")
	assert.False(t, a.entries[entryID].isArmed(), "armed flag should be cleared after a keepalive pass")
}

// A second pass before the new deadline must not re-send.
func TestBookkeepEntrySkipsKeepaliveBeforeDeadline(t *testing.T) {
	a := newTestAgentForBookkeeping()
	entryID := a.appendEntryLocked(StunEntry{
		typ:              EntryRelay,
		state:            SucceededKeepalive,
		nextTransmission: time.Now().Add(time.Minute),
	})

	next := a.bookkeepEntryLocked(entryID, time.Now())
	assert.Equal(t, a.entries[entryID].nextTransmission, next)
}

// Recent application traffic (armed) suppresses one keepalive cycle but
// still rearms for the next period.
func TestBookkeepEntrySuppressesKeepaliveWhenArmed(t *testing.T) {
	a := newTestAgentForBookkeeping()
	entryID := a.appendEntryLocked(StunEntry{
		typ:              EntryRelay,
		state:            SucceededKeepalive,
		nextTransmission: time.Now().Add(-time.Second),
		turn:             &TurnState{serverAddr: &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 3478}, peers: newTurnMap()},
	})
	a.entries[entryID].testAndSetArmed()

	before := a.entries[entryID].transactionID
	_ = a.bookkeepEntryLocked(entryID, time.Now())

	assert.Equal(t, before, a.entries[entryID].transactionID, "no new transaction should be sent while armed")
	assert.False(t, a.entries[entryID].isArmed())
}

func TestArmTransmissionEnforcesPacing(t *testing.T) {
	a := newTestAgentForBookkeeping()
	id1 := a.appendEntryLocked(StunEntry{state: EntryPending})
	id2 := a.appendEntryLocked(StunEntry{state: EntryPending})

	a.armTransmissionLocked(id1, 0)
	a.armTransmissionLocked(id2, 0)

	gap := a.entries[id2].nextTransmission.Sub(a.entries[id1].nextTransmission)
	assert.GreaterOrEqual(t, absDuration(gap), stunPacingTime)
}
