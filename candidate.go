package ice

import (
	"fmt"
	"net"
)

// CandidateID is a stable index into Agent.candidates. Candidates are
// never moved or removed once appended (§3 "Lifecycles").
type CandidateID int

// CandidateKind is the RFC 8445 §4.1 candidate type.
type CandidateKind int

const (
	Host CandidateKind = iota
	ServerReflexive
	PeerReflexive
	Relayed
)

func (k CandidateKind) String() string {
	switch k {
	case Host:
		return "host"
	case ServerReflexive:
		return "srflx"
	case PeerReflexive:
		return "prflx"
	case Relayed:
		return "relay"
	default:
		return "unknown"
	}
}

// typePreference implements RFC 8445 §5.1.2's type-preference table. Peer
// reflexive is given its own preference, used for the PRIORITY attribute
// on outgoing checks even when the concrete local candidate is not yet
// known.
func (k CandidateKind) typePreference() uint32 {
	switch k {
	case Host:
		return 126
	case PeerReflexive:
		return 110
	case ServerReflexive:
		return 100
	case Relayed:
		return 0
	default:
		return 0
	}
}

// Candidate is a single transport address offered or discovered for
// connectivity. Component is always 1 (single-component ICE, §1
// Non-goals). Candidates live inside a Description; every other
// reference to one is a lookup by CandidateID, never a pointer held
// across the mutex boundary (§9 Design Notes).
type Candidate struct {
	id        CandidateID
	kind      CandidateKind
	component int
	foundation string
	transport string // always "udp"
	priority  uint32
	address   *net.UDPAddr

	// relatedAddress is the base address a reflexive/relayed candidate was
	// learned from; carried only for SDP raddr/rport encoding.
	relatedAddress *net.UDPAddr
}

func (c Candidate) String() string {
	if c.address == nil {
		return fmt.Sprintf("%s candidate (unresolved)", c.kind)
	}
	return fmt.Sprintf("%s candidate %s prio=%d", c.kind, c.address, c.priority)
}

// computeCandidatePriority implements RFC 8445 §5.1.2:
//
//	priority = (2^24)*type_pref + (2^8)*local_pref + (256 - component_id)
//
// localPref distinguishes multiple candidates of the same kind on
// multi-homed hosts; a single fixed value is used since this agent's
// gathering does not rank interfaces against each other (§4.6).
func computeCandidatePriority(kind CandidateKind, component int, localPref uint32) uint32 {
	return (kind.typePreference() << 24) | (localPref << 8) | uint32(256-component)
}

const defaultLocalPreference uint32 = 65535

// foundationOf derives a foundation string unique per (kind, base IP,
// transport) tuple, matching RFC 8445 §5.1.1.3's intent without needing
// a STUN/TURN server identity component (single server of each kind at
// a time in this agent).
func foundationOf(kind CandidateKind, baseIP net.IP) string {
	return fmt.Sprintf("%d%s", kind, baseIP.String())
}

func newHostCandidate(id CandidateID, addr *net.UDPAddr) Candidate {
	c := Candidate{
		id:         id,
		kind:       Host,
		component:  1,
		transport:  "udp",
		address:    addr,
		foundation: foundationOf(Host, addr.IP),
	}
	c.priority = computeCandidatePriority(Host, c.component, defaultLocalPreference)
	return c
}

func newServerReflexiveCandidate(id CandidateID, mapped, base *net.UDPAddr) Candidate {
	c := Candidate{
		id:             id,
		kind:           ServerReflexive,
		component:      1,
		transport:      "udp",
		address:        mapped,
		relatedAddress: base,
		foundation:     foundationOf(ServerReflexive, base.IP),
	}
	c.priority = computeCandidatePriority(ServerReflexive, c.component, defaultLocalPreference)
	return c
}

func newRelayedCandidate(id CandidateID, relayed, server *net.UDPAddr) Candidate {
	c := Candidate{
		id:             id,
		kind:           Relayed,
		component:      1,
		transport:      "udp",
		address:        relayed,
		relatedAddress: server,
		foundation:     foundationOf(Relayed, server.IP),
	}
	c.priority = computeCandidatePriority(Relayed, c.component, defaultLocalPreference)
	return c
}

// newPeerReflexiveCandidate builds a peer-reflexive candidate either for
// a remote address we just heard from (priority taken off the wire) or
// for a local mapped address discovered from a successful check
// response (priority recomputed locally).
func newPeerReflexiveCandidate(id CandidateID, addr *net.UDPAddr, priority uint32) Candidate {
	return Candidate{
		id:         id,
		kind:       PeerReflexive,
		component:  1,
		transport:  "udp",
		address:    addr,
		priority:   priority,
		foundation: foundationOf(PeerReflexive, addr.IP),
	}
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
