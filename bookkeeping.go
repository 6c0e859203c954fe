package ice

import (
	"sort"
	"time"
)

// armTransmissionLocked sets entries[id].nextTransmission = now+delay,
// then shifts it forward until it is at least stunPacingTime away from
// every other entry's scheduled transmission — the pacing invariant of
// §4.2, enforcing a minimum inter-send gap across the shared socket.
func (a *Agent) armTransmissionLocked(id EntryID, delay time.Duration) {
	next := time.Now().Add(delay)
	for {
		conflict := false
		for i := range a.entries {
			if EntryID(i) == id {
				continue
			}
			e := &a.entries[i]
			if e.state != EntryPending && e.state != SucceededKeepalive {
				continue
			}
			if absDuration(next.Sub(e.nextTransmission)) < stunPacingTime {
				next = next.Add(stunPacingTime)
				conflict = true
			}
		}
		if !conflict {
			break
		}
	}
	a.entries[id].nextTransmission = next
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// orderedPairIDs returns pair indices sorted from highest to lowest
// priority (§3 "priority-ordered view").
func (a *Agent) orderedPairIDs() []PairID {
	ids := make([]PairID, len(a.pairs))
	for i := range a.pairs {
		ids[i] = PairID(i)
	}
	sort.Slice(ids, func(i, j int) bool {
		return a.pairs[ids[i]].priority > a.pairs[ids[j]].priority
	})
	return ids
}

// bookkeepingLocked performs one pass of retransmission/keepalive/pair
// scheduling and returns the next timestamp the worker should wake at
// (§4.2). Must be called with mu held.
func (a *Agent) bookkeepingLocked(now time.Time) time.Time {
	next := now.Add(stunKeepalivePeriod) // generous fallback upper bound

	for i := range a.entries {
		if t := a.bookkeepEntryLocked(EntryID(i), now); !t.IsZero() && t.Before(next) {
			next = t
		}
	}

	if t := a.bookkeepPairsLocked(now); !t.IsZero() && t.Before(next) {
		next = t
	}

	return next
}

// bookkeepEntryLocked advances a single entry's retransmission/keepalive
// state machine (§4.2 "Per entry") and returns its next wake time, or
// the zero Time if it has none.
func (a *Agent) bookkeepEntryLocked(id EntryID, now time.Time) time.Time {
	e := &a.entries[id]

	switch e.state {
	case EntryPending:
		if now.Before(e.nextTransmission) {
			return e.nextTransmission
		}
		if e.retransmissions <= 0 {
			a.failEntryLocked(id)
			return time.Time{}
		}
		a.transmitLocked(id)
		e.retransmissions--
		e.retransmissionTimeout *= 2
		a.armTransmissionLocked(id, e.retransmissionTimeout)
		return e.nextTransmission

	case SucceededKeepalive:
		if now.Before(e.nextTransmission) {
			return e.nextTransmission
		}
		period := stunKeepalivePeriod
		if e.typ == EntryRelay {
			period = turnRefreshPeriod
		}
		// Recent application traffic (flagged by the Send fast path) already
		// proves liveness; skip the redundant keepalive but still rearm.
		if !e.isArmed() {
			a.transmitKeepaliveLocked(id)
		}
		e.clearArmed()
		a.armTransmissionLocked(id, period)
		return e.nextTransmission

	default:
		return time.Time{}
	}
}

// failEntryLocked marks an entry Failed after its retransmissions are
// exhausted, propagates failure to any associated pair, and
// re-evaluates gathering-done for discovery entries (§4.2, §7
// TransactionFailed).
func (a *Agent) failEntryLocked(id EntryID) {
	e := &a.entries[id]
	e.state = EntryFailed
	a.log.Debugf("entry %d failed after exhausting retransmissions", id)

	if e.hasPair {
		a.pairs[e.pair].state = Failed
	}
	if e.typ != EntryCheck {
		a.updateGatheringDoneLocked()
	}
}

// transmitLocked sends the next request for a Pending entry, dispatched
// by entry type (§4.2).
func (a *Agent) transmitLocked(id EntryID) {
	e := &a.entries[id]
	switch e.typ {
	case EntryCheck:
		a.sendConnectivityCheckLocked(id)
	case EntryServer:
		a.sendServerBindingLocked(id)
	case EntryRelay:
		a.sendTurnAllocateOrRefreshLocked(id)
	}
}

// transmitKeepaliveLocked sends a keepalive for an entry already in
// SucceededKeepalive (§4.2, §4.3 "Keepalives").
func (a *Agent) transmitKeepaliveLocked(id EntryID) {
	e := &a.entries[id]
	switch e.typ {
	case EntryRelay:
		a.sendTurnAllocateOrRefreshLocked(id)
	default:
		a.sendBindingIndicationLocked(id)
	}
}

// bookkeepPairsLocked implements §4.2's "Pair scheduling" and the state
// transitions it triggers, returning the fail-deadline wake time if
// one was just armed.
func (a *Agent) bookkeepPairsLocked(now time.Time) time.Time {
	pendingCount := 0
	for _, p := range a.pairs {
		if p.state == Pending && !p.nominated {
			pendingCount++
		}
	}

	order := a.orderedPairIDs()

	var nominatedID PairID
	hasNominated := false
	for _, id := range order {
		if a.pairs[id].nominated {
			nominatedID = id
			hasNominated = true
			break
		}
	}

	var selectedID PairID
	hasSelected := false
	if hasNominated {
		selectedID, hasSelected = nominatedID, true
	} else {
		for _, id := range order {
			if a.pairs[id].state == Succeeded {
				selectedID, hasSelected = id, true
				break
			}
		}
	}

	if a.mode == Controlling && hasSelected {
		selPrio := a.pairs[selectedID].priority
		for i := range a.pairs {
			p := &a.pairs[i]
			if p.priority < selPrio && p.state == Pending {
				p.state = Frozen
				a.entries[p.entry].state = Cancelled
			}
		}
	}

	if hasSelected && (!a.hasSelectedPair || a.selectedPairID != selectedID) {
		a.hasSelectedPair = true
		a.selectedPairID = selectedID
		a.selectedEntry.Store(int64(a.pairs[selectedID].entry))
		a.log.Infof("selected pair %s", a.pairs[selectedID].String())
	}

	if hasSelected && (a.pairs[selectedID].nominated || a.mode == Controlling) {
		for i := range a.pairs {
			p := &a.pairs[i]
			if p.state == Pending {
				e := &a.entries[p.entry]
				if e.retransmissions > 1 {
					e.retransmissions = 1
				}
			}
		}
	}

	if hasNominated {
		switch a.state {
		case Connecting:
			a.setStateLocked(Connected)
			if a.mode == Controlled || pendingCount == 0 {
				a.setStateLocked(Completed)
			}
		case Connected:
			if a.mode == Controlled || pendingCount == 0 {
				a.setStateLocked(Completed)
			}
		}
	} else if a.state == Gathering || a.state == Disconnected {
		if len(a.pairs) > 0 {
			a.setStateLocked(Connecting)
		}
	}

	if a.mode == Controlling && hasSelected && !a.pairs[selectedID].nominationRequested {
		a.pairs[selectedID].nominationRequested = true
		entryID := a.pairs[selectedID].entry
		a.entries[entryID].state = EntryPending
		a.entries[entryID].retransmissions = maxStunRetransmissionCount
		a.entries[entryID].retransmissionTimeout = minStunRetransmissionTimeout
		a.armTransmissionLocked(entryID, 0)
	}

	if !hasSelected && pendingCount == 0 {
		if !a.hasFailTimestamp {
			delay := iceFailTimeout
			if a.remote.finished {
				delay = 0
			}
			a.failTimestamp = now.Add(delay)
			a.hasFailTimestamp = true
		}
		if !now.Before(a.failTimestamp) {
			a.setStateLocked(Failed)
		}
		return a.failTimestamp
	}
	a.hasFailTimestamp = false

	return time.Time{}
}

// nominatePairLocked marks p nominated, promotes its entry (and, for a
// relayed local, its relay entry) to SucceededKeepalive, and demotes any
// other entry's SucceededKeepalive back to Succeeded (§4.2 "On
// nomination").
func (a *Agent) nominatePairLocked(id PairID) {
	p := &a.pairs[id]
	p.nominated = true

	for i := range a.entries {
		e := &a.entries[i]
		if EntryID(i) == p.entry {
			continue
		}
		if e.state == SucceededKeepalive {
			e.state = EntrySucceeded
		}
	}

	e := &a.entries[p.entry]
	e.state = SucceededKeepalive
	a.armTransmissionLocked(p.entry, stunKeepalivePeriod)

	if p.hasRelayEntry {
		re := &a.entries[p.relayEntry]
		re.state = SucceededKeepalive
		a.armTransmissionLocked(p.relayEntry, turnRefreshPeriod)
	}
}
