package ice

import "net"

// Description holds the ICE credentials and candidate list exchanged
// out-of-band between two agents (§3 "LocalDescription /
// RemoteDescription"). Candidate lists are bounded, per kind, to the
// capacity constants in constants.go.
type Description struct {
	UFrag    string
	Password string

	candidates []Candidate
	nextID     CandidateID

	// finished is the end-of-candidates flag: true once the owning side
	// has signaled it will gather/add no more candidates.
	finished bool
}

func newDescription() *Description {
	return &Description{}
}

func (d *Description) hasCredentials() bool {
	return d.UFrag != "" && d.Password != ""
}

// countKind reports how many candidates of a kind are already present,
// to enforce the fixed per-kind caps of §3.
func (d *Description) countKind(kind CandidateKind) int {
	n := 0
	for _, c := range d.candidates {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func capFor(kind CandidateKind) int {
	switch kind {
	case Host:
		return maxHostCandidates
	case ServerReflexive:
		return maxReflexiveCandidates
	case PeerReflexive:
		return maxPeerReflexive
	case Relayed:
		return maxRelayedCandidates
	default:
		return 0
	}
}

// addCandidate appends c if its kind has not hit its cap, returning the
// assigned CandidateID and whether it was added. Candidates are
// append-only (§3 Lifecycles): never moved or removed.
func (d *Description) addCandidate(c Candidate) (CandidateID, bool) {
	if d.countKind(c.kind) >= capFor(c.kind) {
		return 0, false
	}
	c.id = d.nextID
	d.nextID++
	d.candidates = append(d.candidates, c)
	return c.id, true
}

func (d *Description) candidate(id CandidateID) (Candidate, bool) {
	for _, c := range d.candidates {
		if c.id == id {
			return c, true
		}
	}
	return Candidate{}, false
}

// findByAddress looks up a candidate by resolved address and kind set.
// Used to resolve a pair's local candidate after a successful check
// (§4.3), and to recognize our own host addresses (§4.6 loopback
// rewrite).
func (d *Description) findByAddress(addr *net.UDPAddr, kinds ...CandidateKind) (Candidate, bool) {
	for _, c := range d.candidates {
		if !sameUDPAddr(c.address, addr) {
			continue
		}
		if len(kinds) == 0 {
			return c, true
		}
		for _, k := range kinds {
			if c.kind == k {
				return c, true
			}
		}
	}
	return Candidate{}, false
}
