// Package ice implements a single-component Interactive Connectivity
// Establishment agent (RFC 8445) backed by a single shared UDP socket.
//
// One Agent gathers host, server-reflexive and relayed candidates, pairs
// them against a remote description, runs prioritized STUN connectivity
// checks, resolves controlling/controlled role conflicts, nominates a
// winning pair, and forwards application datagrams over it — falling back
// to a TURN relay (RFC 8656) when no direct path exists.
//
// The wire-level STUN/TURN codec, DNS resolution and low-level socket
// creation, and cryptographic randomness are treated as external
// collaborators (github.com/pion/stun/v3, github.com/pion/transport/v4,
// github.com/pion/randutil); this package owns only the protocol state
// machine described in RFC 8445 and RFC 8656.
package ice
