package ice

import (
	"fmt"
	"net"
	"strings"

	"github.com/pion/stun/v3"
)

// enableLoopbackRewrite is the compile-time option of §4.6: when a check
// entry's remote address equals one of our own host addresses, the
// destination is rewritten to the loopback address so the packet is
// delivered locally instead of out onto the LAN.
const enableLoopbackRewrite = true

func (a *Agent) translateDestinationLocked(addr *net.UDPAddr) *net.UDPAddr {
	if !enableLoopbackRewrite {
		return addr
	}
	for _, c := range a.local.candidates {
		if c.kind == Host && c.address.IP.Equal(addr.IP) {
			loop := net.IPv4(127, 0, 0, 1)
			if addr.IP.To4() == nil {
				loop = net.IPv6loopback
			}
			return &net.UDPAddr{IP: loop, Port: addr.Port}
		}
	}
	return addr
}

// peerReflexivePriority computes the PRIORITY attribute value used on
// outgoing connectivity checks: candidate priority as if the local side
// were peer-reflexive, per §4.3.
func (a *Agent) peerReflexivePriority() uint32 {
	return computeCandidatePriority(PeerReflexive, 1, defaultLocalPreference)
}

// sendConnectivityCheckLocked sends a Binding request for a Check entry
// (§4.3 "Connectivity checks"): short-term credentials, role attribute
// with tiebreaker, PRIORITY, and USE-CANDIDATE if we are controlling and
// nomination has been requested for this pair.
func (a *Agent) sendConnectivityCheckLocked(id EntryID) {
	e := &a.entries[id]
	p := &a.pairs[e.pair]
	remoteCand, _ := a.remote.candidate(p.remote)

	username := fmt.Sprintf("%s:%s", a.remote.UFrag, a.local.UFrag)
	txID := newTransactionID()

	setters := []stun.Setter{stun.NewUsername(username)}
	if a.mode == Controlling {
		setters = append(setters, iceControllingSetter{a.tiebreaker})
		if p.nominationRequested {
			setters = append(setters, useCandidateSetter{})
		}
	} else {
		setters = append(setters, iceControlledSetter{a.tiebreaker})
	}
	setters = append(setters, priorityAttrSetter{a.peerReflexivePriority()})
	setters = append(setters, shortTermIntegrity(a.remote.Password), stun.Fingerprint)

	m, err := buildMessage(stun.ClassRequest, stun.MethodBinding, txID, setters...)
	if err != nil {
		a.log.Warnf("build connectivity check: %s", err)
		return
	}

	e.transactionID = txID
	a.sendToPeerLocked(m.Raw, remoteCand.address)
}

// sendServerBindingLocked sends an unauthenticated Binding request to
// the configured STUN server for server-reflexive discovery (§4.3).
func (a *Agent) sendServerBindingLocked(id EntryID) {
	e := &a.entries[id]
	txID := newTransactionID()
	m, err := buildMessage(stun.ClassRequest, stun.MethodBinding, txID, stun.Fingerprint)
	if err != nil {
		a.log.Warnf("build server binding: %s", err)
		return
	}
	e.transactionID = txID
	a.writeLocked(m.Raw, e.destination)
}

// sendBindingIndicationLocked sends the no-attribute keepalive
// indication to a nominated peer entry (§4.3 "Keepalives").
func (a *Agent) sendBindingIndicationLocked(id EntryID) {
	e := &a.entries[id]
	m, err := buildMessage(stun.ClassIndication, stun.MethodBinding, newTransactionID())
	if err != nil {
		a.log.Warnf("build keepalive indication: %s", err)
		return
	}
	p := &a.pairs[e.pair]
	remoteCand, _ := a.remote.candidate(p.remote)
	a.sendToPeerLocked(m.Raw, remoteCand.address)
}

// handleBindingRequestLocked implements the inbound side of §4.3:
// role-conflict resolution, USE-CANDIDATE handling, and always replying
// with a Binding success response carrying the mapped source address.
func (a *Agent) handleBindingRequestLocked(m *stun.Message, src *net.UDPAddr) {
	if !verifyShortTermIntegrity(m, a.local.Password) {
		a.log.Debugf("dropping binding request from %s: bad integrity", src)
		return
	}
	if !a.verifyUsernameLocked(m) {
		a.log.Debugf("dropping binding request from %s: bad username", src)
		return
	}

	if peerMode, peerTie, ok := getRole(m); ok {
		if conflict, weKeepRole := a.resolveRoleConflictLocked(peerMode, peerTie); conflict {
			if !weKeepRole {
				return // role switched; the peer's request is simply stale now.
			}
			a.sendRoleConflictLocked(m, src)
			return
		}
	}

	pairID, ok := a.findPairByRemoteAddressLocked(src)
	if !ok {
		pairID, ok = a.adoptPeerReflexiveLocked(m, src)
		if !ok {
			a.sendBindingSuccessLocked(m, src)
			return
		}
	}
	p := &a.pairs[pairID]

	if hasUseCandidate(m) {
		if a.mode == Controlled {
			if p.state == Succeeded {
				a.nominatePairLocked(pairID)
			} else {
				p.nominationRequested = true
				p.state = Pending
				a.scheduleTriggeredCheckLocked(pairID)
			}
		}
	}

	a.sendBindingSuccessLocked(m, src)
}

// verifyUsernameLocked checks the inbound USERNAME against
// "{local_ufrag}:{remote_ufrag}" (§4.3 "Verification"): the half naming
// us must always match our own ufrag, and the half naming the peer is
// checked against the remote ufrag once it is known (it may not be yet,
// e.g. for a check that races SetRemoteDescription).
func (a *Agent) verifyUsernameLocked(m *stun.Message) bool {
	username, ok := usernameFrom(m)
	if !ok {
		return false
	}
	local, remote, ok := strings.Cut(username, ":")
	if !ok || local != a.local.UFrag {
		return false
	}
	if a.remote.hasCredentials() && remote != a.remote.UFrag {
		return false
	}
	return true
}

func (a *Agent) sendBindingSuccessLocked(req *stun.Message, src *net.UDPAddr) {
	setters := addXorMappedAddress(nil, src)
	setters = append(setters, shortTermIntegrity(a.local.Password), stun.Fingerprint)
	m, err := buildMessage(stun.ClassSuccessResponse, stun.MethodBinding, req.TransactionID, setters...)
	if err != nil {
		a.log.Warnf("build binding success: %s", err)
		return
	}
	a.sendToPeerLocked(m.Raw, src)
}

func (a *Agent) sendRoleConflictLocked(req *stun.Message, src *net.UDPAddr) {
	setters := addErrorCode(nil, codeRoleConflict, "Role Conflict")
	setters = append(setters, shortTermIntegrity(a.local.Password), stun.Fingerprint)
	m, err := buildMessage(stun.ClassErrorResponse, stun.MethodBinding, req.TransactionID, setters...)
	if err != nil {
		a.log.Warnf("build role conflict response: %s", err)
		return
	}
	if pairID, ok := a.findPairByRemoteAddressLocked(src); ok {
		a.entries[a.pairs[pairID].entry].roleConflictsSent++
	}
	a.sendToPeerLocked(m.Raw, src)
}

// resolveRoleConflictLocked implements RFC 8445 §7.3.1.1: if both sides
// claim the same role, the larger tiebreaker keeps it and the other
// switches (and rerolls pair priorities). Returns conflict=true if the
// roles matched, and weKeepRole says whether we kept ours (caller should
// send 487) or switched (caller should drop the stale request).
func (a *Agent) resolveRoleConflictLocked(peerMode AgentMode, peerTie uint64) (conflict, weKeepRole bool) {
	if peerMode != a.mode {
		return false, false
	}
	if a.tiebreaker >= peerTie {
		return true, true
	}
	a.switchRoleLocked()
	return true, false
}

func (a *Agent) switchRoleLocked() {
	if a.mode == Controlling {
		a.mode = Controlled
	} else {
		a.mode = Controlling
	}
	a.log.Infof("switched role to %s after conflict", a.mode)
	for i := range a.pairs {
		a.recomputePairPriorityLocked(PairID(i))
	}
}

// recomputePairPriorityLocked recomputes a pair's priority under the
// current role, using the peer-reflexive preference when the local
// candidate is not yet concretely known (§4.3 "recompute without the
// concrete local candidate").
func (a *Agent) recomputePairPriorityLocked(id PairID) {
	p := &a.pairs[id]
	remoteCand, _ := a.remote.candidate(p.remote)
	localPriority := a.peerReflexivePriority()
	if p.hasLocal {
		if lc, ok := a.local.candidate(p.local); ok {
			localPriority = lc.priority
		}
	}
	p.priority = computePairPriority(localPriority, remoteCand.priority, a.mode == Controlling)
}

// handleBindingSuccessLocked implements §4.3's inbound success-response
// handling for a Check entry.
func (a *Agent) handleBindingSuccessLocked(id EntryID, m *stun.Message, src *net.UDPAddr) {
	e := &a.entries[id]
	if !e.hasPair {
		return
	}
	p := &a.pairs[e.pair]

	if e.state != SucceededKeepalive {
		e.state = EntrySucceeded
		p.state = Succeeded
	}

	if !a.hasNominatedSelectedLocked() {
		e.state = SucceededKeepalive
		a.armTransmissionLocked(id, stunKeepalivePeriod)
	}

	if mapped, ok := mappedAddressFrom(m); ok && !p.hasLocal {
		if lc, found := a.local.findByAddress(mapped, Host, ServerReflexive); found {
			p.local = lc.id
			p.hasLocal = true
		} else {
			cid, added := a.local.addCandidate(newPeerReflexiveCandidate(0, mapped, a.peerReflexivePriority()))
			if added {
				p.local = cid
				p.hasLocal = true
			}
		}
	}

	if p.nominationRequested {
		a.nominatePairLocked(e.pair)
	}
}

func (a *Agent) hasNominatedSelectedLocked() bool {
	return a.hasSelectedPair && a.pairs[a.selectedPairID].nominated
}

// handleRoleConflictResponseLocked implements §4.3's 487 handling:
// switch role, reroll tiebreaker, and rearm immediately.
func (a *Agent) handleRoleConflictResponseLocked(id EntryID) {
	a.switchRoleLocked()
	newTie, err := randTiebreaker()
	if err == nil {
		a.tiebreaker = newTie
	}
	a.entries[id].resetTransaction()
	a.armTransmissionLocked(id, 0)
}

// handleBindingErrorLocked implements the "any other error response"
// branch of §4.3: the entry simply fails.
func (a *Agent) handleBindingErrorLocked(id EntryID, code int) {
	if code == codeRoleConflict {
		a.handleRoleConflictResponseLocked(id)
		return
	}
	a.failEntryLocked(id)
}

// handleServerReflexiveSuccessLocked implements §4.3's Server-entry
// discovery: register a server-reflexive candidate and emit it.
func (a *Agent) handleServerReflexiveSuccessLocked(id EntryID, m *stun.Message) {
	e := &a.entries[id]
	e.state = EntrySucceeded
	mapped, ok := mappedAddressFrom(m)
	if !ok {
		a.updateGatheringDoneLocked()
		return
	}
	cid, added := a.local.addCandidate(newServerReflexiveCandidate(0, mapped, a.localAddr))
	if added {
		c, _ := a.local.candidate(cid)
		a.emitCandidateLocked(c)
	}
	a.updateGatheringDoneLocked()
}

func (a *Agent) findPairByRemoteAddressLocked(addr *net.UDPAddr) (PairID, bool) {
	order := a.orderedPairIDs()
	for _, id := range order {
		remoteCand, ok := a.remote.candidate(a.pairs[id].remote)
		if ok && sameUDPAddr(remoteCand.address, addr) {
			return id, true
		}
	}
	return 0, false
}

// adoptPeerReflexiveLocked implements §4.3's "Adding candidates on the
// fly" for an inbound request from an unknown address: a new remote
// peer-reflexive candidate (priority from PRIORITY) paired immediately.
func (a *Agent) adoptPeerReflexiveLocked(m *stun.Message, src *net.UDPAddr) (PairID, bool) {
	priority, _ := getPriority(m)
	c := newPeerReflexiveCandidate(0, src, priority)
	if cid, added := a.remote.addCandidate(c); added {
		c, _ = a.remote.candidate(cid)
	}
	// Falls through with the unregistered candidate (c.id == 0) if the
	// remote peer-reflexive table is already full; the pair still tracks
	// the check by address, it just won't appear in RemoteDescription.
	return a.createPairLocked(c, EntryID(-1))
}

func (a *Agent) scheduleTriggeredCheckLocked(id PairID) {
	p := &a.pairs[id]
	a.entries[p.entry].resetTransaction()
	a.armTransmissionLocked(p.entry, stunPacingTime)
}

func randTiebreaker() (uint64, error) {
	return newAgentTiebreaker()
}
