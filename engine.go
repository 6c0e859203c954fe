package ice

import (
	"fmt"
	"net"
	"time"
)

// run is the single worker thread goroutine (§4.1 "Engine loop"). It
// owns all reads from the shared socket and performs every state
// mutation except the atomically-published selectedEntry and each
// entry's armed flag.
func (a *Agent) run() {
	defer a.wg.Done()

	a.mu.Lock()
	a.resolveTurnServersLocked()
	a.resolveStunServerLocked()
	a.updateGatheringDoneLocked()
	a.mu.Unlock()

	buf := make([]byte, 1500)

	for {
		a.mu.Lock()
		if a.stopped {
			a.mu.Unlock()
			return
		}

		next := a.bookkeepingLocked(time.Now())
		timeout := time.Until(next)
		if timeout < 0 {
			timeout = 0
		}
		a.conn.SetReadDeadline(time.Now().Add(timeout))
		a.mu.Unlock()

		// The mutex is released exactly here, across the blocking read,
		// matching §5's "Suspension points": the worker blocks exclusively
		// in this wait.
		n, addr, err := a.conn.ReadFrom(buf)

		a.mu.Lock()
		if a.stopped {
			a.mu.Unlock()
			return
		}
		if err != nil {
			if isTimeout(err) {
				a.mu.Unlock()
				continue
			}
			if isContinuableNetError(err) {
				// §9 Open Question: ICMP port-unreachable and similar
				// transient errors on recvfrom must not close the socket.
				a.log.Debugf("continuable read error: %s", err)
				a.mu.Unlock()
				continue
			}
			a.log.Errorf("fatal socket error: %s", err)
			a.setStateLocked(Failed)
			a.mu.Unlock()
			return
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			udpAddr, _ = net.ResolveUDPAddr("udp", addr.String())
		}
		a.dispatchLocked(buf[:n], udpAddr)
		a.mu.Unlock()
	}
}

func isTimeout(err error) bool {
	type timeoutErr interface{ Timeout() bool }
	te, ok := err.(timeoutErr)
	return ok && te.Timeout()
}

// isContinuableNetError mirrors the source's "ignore Windows ICMP
// port-unreachable" policy (§9 Open Question): ECONNRESET/ENETRESET/
// ECONNREFUSED surfacing from recvfrom must not be treated as fatal.
func isContinuableNetError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"connection reset", "network reset", "connection refused"} {
		if containsFold(msg, s) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(s, substr string) int {
	// Small helper to avoid pulling in strings.Contains(strings.ToLower(...))
	// at call sites scattered through error classification.
	ls, lsub := len(s), len(substr)
	if lsub == 0 {
		return 0
	}
	for i := 0; i+lsub <= ls; i++ {
		match := true
		for j := 0; j < lsub; j++ {
			c1, c2 := s[i+j], substr[j]
			if 'A' <= c1 && c1 <= 'Z' {
				c1 += 'a' - 'A'
			}
			if 'A' <= c2 && c2 <= 'Z' {
				c2 += 'a' - 'A'
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// resolveTurnServersLocked resolves each configured TURN server
// (preferring IPv4), registers one Relay entry per resolved server
// (capped), and primes its first transmission with a pacing offset of
// i*stunPacingTime (§4.1 step 1).
func (a *Agent) resolveTurnServersLocked() {
	for i, cfg := range a.config.TurnServers {
		if len(a.entries) >= maxStunEntries {
			a.log.Warnf("dropping TURN server %s:%d: entry table full", cfg.Host, cfg.Port)
			break
		}
		addr, err := a.net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
		if err != nil {
			a.log.Warnf("resolve TURN server %s:%d: %s", cfg.Host, cfg.Port, err)
			continue
		}
		e := StunEntry{
			typ:         EntryRelay,
			state:       Idle,
			destination: addr,
			turn: &TurnState{
				serverAddr: addr,
				username:   cfg.Username,
				password:   cfg.Password,
				peers:      newTurnMap(),
			},
		}
		id := a.appendEntryLocked(e)
		a.entries[id].resetTransaction()
		a.armTransmissionLocked(id, time.Duration(i)*stunPacingTime)
	}
}

// resolveStunServerLocked mirrors resolveTurnServersLocked for the
// (optional) single STUN server (§4.1 step 2).
func (a *Agent) resolveStunServerLocked() {
	if a.config.StunServerHost == "" {
		return
	}
	if len(a.entries) >= maxStunEntries {
		a.log.Warnf("dropping STUN server: entry table full")
		return
	}
	addr, err := a.net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", a.config.StunServerHost, a.config.StunServerPort))
	if err != nil {
		a.log.Warnf("resolve STUN server: %s", err)
		return
	}
	e := StunEntry{
		typ:         EntryServer,
		state:       Idle,
		destination: addr,
	}
	id := a.appendEntryLocked(e)
	a.entries[id].resetTransaction()
	a.armTransmissionLocked(id, 0)
}

func (a *Agent) appendEntryLocked(e StunEntry) EntryID {
	id := EntryID(len(a.entries))
	e.id = id
	a.entries = append(a.entries, e)
	return id
}

// updateGatheringDoneLocked fires the gathering-done callback exactly
// once all STUN/TURN discovery entries have left Pending (§4.1 step 3,
// §4.3, §4.4).
func (a *Agent) updateGatheringDoneLocked() {
	if a.gatheringDone {
		return
	}
	for _, e := range a.entries {
		if e.typ == EntryCheck {
			continue
		}
		if e.state == EntryPending || e.state == Idle {
			return
		}
	}
	a.gatheringDone = true
	if a.onGatheringDone != nil {
		a.onGatheringDone()
	}
}
