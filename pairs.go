package ice

import "net"

// addCandidatePairsForRemoteLocked forms candidate pairs for each of the
// given remote candidates (§4.6 "Candidate pair construction"). Local
// non-relayed candidates are undifferentiated for sending (there is
// only one shared socket to send from), so exactly one hasLocal=false
// pair covers all of them per remote candidate; local relayed
// candidates of a matching address family still need their own pair,
// since sending on them means routing through a specific TURN
// allocation. Pairs are created Frozen until the remote ufrag/password
// are known, matching the freeze/unfreeze split driven from
// SetRemoteDescription.
func (a *Agent) addCandidatePairsForRemoteLocked(remoteCandidates []Candidate) {
	for _, rc := range remoteCandidates {
		if len(a.pairs) >= maxPairs {
			a.log.Warnf("dropping candidate pair: pair table full")
			return
		}
		if !a.undifferentiatedPairExistsLocked(rc.id) {
			a.addUndifferentiatedPairLocked(rc)
		}

		for _, lc := range a.local.candidates {
			if lc.kind != Relayed || !sameAddressFamily(lc.address, rc.address) {
				continue
			}
			if len(a.pairs) >= maxPairs {
				a.log.Warnf("dropping candidate pair: pair table full")
				return
			}
			if a.pairExistsLocked(lc.id, rc.id) {
				continue
			}
			a.addPairLocked(lc, rc)
		}
	}
}

// addPairsForNewLocalCandidateLocked pairs one newly discovered relayed
// local candidate against every already-known remote candidate of a
// matching address family (§4.4, §4.6); non-relayed local candidates
// never call this, since they are covered by the undifferentiated pair
// addCandidatePairsForRemoteLocked already created for each remote.
func (a *Agent) addPairsForNewLocalCandidateLocked(lc Candidate) {
	for _, rc := range a.remote.candidates {
		if lc.kind != Relayed || !sameAddressFamily(lc.address, rc.address) {
			continue
		}
		if len(a.pairs) >= maxPairs {
			a.log.Warnf("dropping candidate pair: pair table full")
			return
		}
		if a.pairExistsLocked(lc.id, rc.id) {
			continue
		}
		a.addPairLocked(lc, rc)
	}
}

func sameAddressFamily(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return (a.IP.To4() == nil) == (b.IP.To4() == nil)
}

func (a *Agent) pairExistsLocked(localID CandidateID, remoteID CandidateID) bool {
	for i := range a.pairs {
		p := &a.pairs[i]
		if p.remote == remoteID && p.hasLocal && p.local == localID {
			return true
		}
	}
	return false
}

func (a *Agent) undifferentiatedPairExistsLocked(remoteID CandidateID) bool {
	for i := range a.pairs {
		p := &a.pairs[i]
		if p.remote == remoteID && !p.hasLocal {
			return true
		}
	}
	return false
}

// addUndifferentiatedPairLocked creates the one hasLocal=false pair that
// stands in for every non-relayed local candidate against rc: the
// concrete local candidate is resolved once a check on it succeeds
// (stun_binding.go's handleBindingSuccessLocked), the same way a
// peer-reflexive local candidate is resolved.
func (a *Agent) addUndifferentiatedPairLocked(rc Candidate) PairID {
	id := PairID(len(a.pairs))

	e := StunEntry{typ: EntryCheck, state: Idle, destination: rc.address, pair: id, hasPair: true}
	entryID := a.appendEntryLocked(e)

	pairState := Frozen
	if a.remote.hasCredentials() {
		pairState = Pending
	}

	p := CandidatePair{
		id:       id,
		remote:   rc.id,
		priority: computePairPriority(a.peerReflexivePriority(), rc.priority, a.mode == Controlling),
		state:    pairState,
		entry:    entryID,
	}
	a.pairs = append(a.pairs, p)

	if pairState == Pending {
		a.armCheckLocked(entryID)
	}
	return id
}

// addPairLocked creates one candidate pair and its backing Check entry
// for a concrete (relayed local, remote) combination. Relayed local
// candidates route their check traffic through the Relay entry that
// allocated them (§4.4, §4.6).
func (a *Agent) addPairLocked(lc, rc Candidate) PairID {
	id := PairID(len(a.pairs))

	relayEntry, hasRelayEntry := a.relayEntryForCandidateLocked(lc.id)

	e := StunEntry{typ: EntryCheck, state: Idle, destination: rc.address, pair: id, hasPair: true}
	if hasRelayEntry {
		e.relayEntry, e.hasRelayEntry = relayEntry, true
	}
	entryID := a.appendEntryLocked(e)

	pairState := Frozen
	if a.remote.hasCredentials() {
		pairState = Pending
	}

	p := CandidatePair{
		id:       id,
		remote:   rc.id,
		local:    lc.id,
		hasLocal: true,
		priority: computePairPriority(lc.priority, rc.priority, a.mode == Controlling),
		state:    pairState,
		entry:    entryID,
	}
	if hasRelayEntry {
		p.relayEntry, p.hasRelayEntry = relayEntry, true
	}
	a.pairs = append(a.pairs, p)

	if pairState == Pending {
		a.armCheckLocked(entryID)
	}
	return id
}

// createPairLocked builds a pair for a remote candidate discovered from
// an inbound request (§4.3 "Adding candidates on the fly"). When
// existing is negative, the inbound check itself is treated as having
// already validated the pair; the concrete local candidate is resolved
// lazily, same as any other peer-reflexive discovery.
func (a *Agent) createPairLocked(c Candidate, existing EntryID) (PairID, bool) {
	if len(a.pairs) >= maxPairs || (existing < 0 && len(a.entries) >= maxStunEntries) {
		return 0, false
	}

	id := PairID(len(a.pairs))
	p := CandidatePair{id: id, remote: c.id}

	if existing >= 0 {
		p.entry = existing
		a.entries[existing].pair = id
		a.entries[existing].hasPair = true
	} else {
		e := StunEntry{typ: EntryCheck, state: EntrySucceeded, destination: c.address, pair: id, hasPair: true}
		p.entry = a.appendEntryLocked(e)
		p.state = Succeeded
	}

	a.pairs = append(a.pairs, p)
	return id, true
}

func (a *Agent) armCheckLocked(id EntryID) {
	a.entries[id].resetTransaction()
	a.armTransmissionLocked(id, 0)
}

// unfreezeAllPairsLocked thaws every Frozen pair once remote credentials
// become known (§4.1 "SetRemoteDescription").
func (a *Agent) unfreezeAllPairsLocked() {
	for i := range a.pairs {
		p := &a.pairs[i]
		if p.state != Frozen {
			continue
		}
		p.state = Pending
		a.armCheckLocked(p.entry)
	}
}

func (a *Agent) relayEntryForCandidateLocked(id CandidateID) (EntryID, bool) {
	c, ok := a.local.candidate(id)
	if !ok {
		return 0, false
	}
	for i := range a.entries {
		e := &a.entries[i]
		if e.typ == EntryRelay && e.turn != nil && e.turn.relayedAddress != nil && sameUDPAddr(e.turn.relayedAddress, c.address) {
			return EntryID(i), true
		}
	}
	return 0, false
}
