package ice

import "fmt"

// PairID is a stable index into Agent.pairs (§3 Lifecycles: appended
// only, never removed).
type PairID int

// PairState is one of the states named in §3; InProgress is folded into
// Pending.
type PairState int

const (
	Frozen PairState = iota
	Pending
	Succeeded
	Failed
)

func (s PairState) String() string {
	switch s {
	case Frozen:
		return "frozen"
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "?"
	}
}

// CandidatePair is a (local, remote) ordered pair under consideration
// for the single data component (§3 "CandidatePair").
type CandidatePair struct {
	id PairID

	remote CandidateID // required
	// local is only meaningfully set for relayed-local pairs, or after a
	// successful check resolves the mapped address (§3).
	local    CandidateID
	hasLocal bool

	priority uint64
	state    PairState

	nominated           bool
	nominationRequested bool

	// entry is the StunEntry carrying the outstanding/keepalive
	// transaction for this pair, set once created.
	entry EntryID

	// relayEntry is set when local is a relayed candidate: sends on this
	// pair must go through that Relay entry's TURN channel/permission
	// (§4.6).
	relayEntry    EntryID
	hasRelayEntry bool
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("pair#%d prio=%d state=%s nominated=%v", p.id, p.priority, p.state, p.nominated)
}

// computePairPriority implements RFC 8445 §6.1.2.3:
//
//	priority = 2^32 * min(G,D) + 2*max(G,D) + (G>D ? 1 : 0)
//
// localPriority/remotePriority are the candidate priorities of the local
// and remote candidates of the pair; weAreControlling says which one is
// G (the controlling agent's priority) for this agent's view of the pair.
func computePairPriority(localPriority, remotePriority uint32, weAreControlling bool) uint64 {
	g, d := uint64(localPriority), uint64(remotePriority)
	if !weAreControlling {
		g, d = d, g
	}
	min, max := g, d
	if d < g {
		min, max = d, g
	}
	var extra uint64
	if g > d {
		extra = 1
	}
	return (uint64(1)<<32)*min + 2*max + extra
}
