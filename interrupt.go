package ice

// interruptLocked wakes the worker thread by sending a zero-length UDP
// datagram to the socket's own local address, forcing the blocking read
// in run() to return immediately so freshly mutated state is observed
// (§4.1 "Interrupting the loop", §9 "Cross-thread interrupt"). Must be
// called with mu held; it is triggered after every API mutation.
func (a *Agent) interruptLocked() {
	if a.conn == nil || a.localAddr == nil {
		// Gather hasn't opened the socket yet; the worker isn't running.
		return
	}
	if _, err := a.conn.WriteTo(nil, a.localAddr); err != nil {
		a.log.Warnf("interrupt: %s", err)
	}
}
