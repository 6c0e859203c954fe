package ice

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/stun/v3"
)

// EntryID is a stable index into Agent.entries (§3 Lifecycles:
// append-only; terminal states leave the slot in place).
type EntryID int

// EntryType distinguishes the three kinds of outstanding transactional
// relationship a StunEntry can represent (§3).
type EntryType int

const (
	EntryCheck EntryType = iota
	EntryServer
	EntryRelay
)

// EntryState is the per-entry transaction lifecycle (§3).
type EntryState int

const (
	Idle EntryState = iota
	EntryPending
	Cancelled
	EntryFailed
	EntrySucceeded
	SucceededKeepalive
)

// StunEntry is the unit of outstanding protocol work: one per STUN
// server, one per TURN server, and one per connectivity-check
// destination (§3 "StunEntry").
type StunEntry struct {
	id    EntryID
	typ   EntryType
	state EntryState

	// destination is the peer or server address this entry talks to.
	destination *net.UDPAddr

	// pair is set for Check entries.
	pair    PairID
	hasPair bool

	// relayEntry is set for Check entries whose local candidate is
	// relayed through that Relay entry.
	relayEntry    EntryID
	hasRelayEntry bool

	transactionID stun.TransactionID

	retransmissions       int
	retransmissionTimeout time.Duration
	nextTransmission      time.Time

	// armed is test-and-set by bookkeeping and cleared by the send fast
	// path, coalescing keepalive rearm requests (§3, §9).
	armed int32

	// turn is non-nil only for Relay entries.
	turn *TurnState

	// roleConflictsSent counts 487 responses sent for this entry; kept
	// purely to let tests assert the "at most one 487 after switching"
	// property from scenario S2 (SPEC_FULL.md SUPPLEMENT).
	roleConflictsSent int
}

func (e *StunEntry) testAndSetArmed() bool {
	return atomic.SwapInt32(&e.armed, 1) == 1
}

func (e *StunEntry) clearArmed() {
	atomic.StoreInt32(&e.armed, 0)
}

func (e *StunEntry) isArmed() bool {
	return atomic.LoadInt32(&e.armed) == 1
}

// resetTransaction restarts the retransmission budget for a fresh
// request cycle; the caller is responsible for pacing the first send via
// Agent.armTransmissionLocked and for setting transactionID once the
// request is actually built.
func (e *StunEntry) resetTransaction() {
	e.retransmissions = maxStunRetransmissionCount
	e.retransmissionTimeout = minStunRetransmissionTimeout
	e.state = EntryPending
}
