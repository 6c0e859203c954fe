package ice

// Send transmits data to the currently selected candidate pair's remote
// address with the default (best-effort) DSCP marking (§4.1 "Send").
// Equivalent to SendDSCP(data, 0).
func (a *Agent) Send(data []byte) error {
	return a.SendDSCP(data, 0)
}

// SendDSCP transmits data to the currently selected candidate pair's
// remote address, tagging the outgoing datagram with the given 6-bit
// DSCP code point (§4.1 "Send"). The direct (non-relayed) path never
// takes mu: it relies solely on the atomically-published selectedEntry
// and the append-only entries slice (§3, §5), serializing only the
// setsockopt(DSCP)+sendto pair against other direct sends via sendMu. A
// relayed selected pair falls back to taking mu, since its
// channel/permission bookkeeping is otherwise only ever touched by the
// worker goroutine; DSCP marking does not apply to relayed traffic,
// which is encapsulated inside a TURN message to the relay server.
func (a *Agent) SendDSCP(data []byte, dscp int) error {
	raw := a.selectedEntry.Load()
	if raw == noSelectedEntry {
		return ErrNotConnected
	}

	id := EntryID(raw)
	e := &a.entries[id]
	e.testAndSetArmed()

	if !e.hasRelayEntry {
		a.sendMu.Lock()
		defer a.sendMu.Unlock()
		if err := setDSCP(a.conn, dscp); err != nil {
			a.log.Warnf("set DSCP: %s", err)
		}
		_, err := a.conn.WriteTo(data, e.destination)
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendViaRelayLocked(e.relayEntry, e.destination, data)
	return nil
}
