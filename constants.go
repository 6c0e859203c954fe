package ice

import "time"

// Timing constants named directly after spec §4/§5.
const (
	// Minimum gap enforced between any two entries' next transmission,
	// across the whole shared socket.
	stunPacingTime = 20 * time.Millisecond

	minStunRetransmissionTimeout = 250 * time.Millisecond
	maxStunRetransmissionCount   = 7

	stunKeepalivePeriod = 15 * time.Second
	turnRefreshPeriod   = 5 * time.Minute

	// turnPermissionLifetime/turnBindLifetime are the RFC lifetimes;
	// scheduled refreshes fire at half of each (§4.4, §5).
	turnPermissionLifetime = 300 * time.Second
	turnBindLifetime       = 600 * time.Second

	iceFailTimeout = 30 * time.Second

	// Default requested TURN allocation lifetime.
	turnAllocationLifetime = 10 * time.Minute
)

// Capacity bounds named in §2 ("Implementation budget") and §3.
const (
	maxHostCandidates      = 32
	maxReflexiveCandidates = 8
	maxPeerReflexive       = 16
	maxRelayedCandidates   = 8

	maxStunEntries = 64
	maxPairs       = 128

	maxTurnServers = 4

	// TURN channel numbers occupy 0x4000..0x7FFF (RFC 8656 §12).
	turnChannelNumberMin = 0x4000
	turnChannelNumberMax = 0x7FFF
)
