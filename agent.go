package ice

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/transport/v4"
)

// noSelectedEntry is the sentinel stored in Agent.selectedEntry when no
// pair has succeeded yet (§3 "Selected entry").
const noSelectedEntry = -1

// Agent is a single-component ICE agent driving one bidirectional UDP
// path across NATs and firewalls (§2). All public methods are
// thread-safe: foreign-thread calls serialize against the worker via
// mu; the worker itself releases mu only around its blocking read
// (§5 "Suspension points").
//
// Go's sync.Mutex is not reentrant, unlike the recursive mutex of §5.
// Rather than emulate recursion, every internal method that expects the
// lock already held is suffixed "Locked" and never calls back into a
// lock-taking public method; public methods take the lock exactly once.
type Agent struct {
	mu     sync.Mutex
	sendMu sync.Mutex

	config Config
	log    logging.LeveledLogger
	net    transport.Net

	local  *Description
	remote *Description

	entries []StunEntry
	pairs   []CandidatePair

	mode       AgentMode
	tiebreaker uint64
	state      ConnectionState

	hasSelectedPair bool
	selectedPairID  PairID

	// selectedEntry is published atomically so the Send fast path never
	// takes mu (§3, §5).
	selectedEntry atomic.Int64

	conn      net.PacketConn
	localAddr *net.UDPAddr

	hasFailTimestamp bool
	failTimestamp    time.Time

	gatheringStarted bool
	gatheringDone    bool

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	onStateChange   func(ConnectionState)
	onCandidate     func(Candidate)
	onGatheringDone func()
	onDatagram      func([]byte)
}

// NewAgent validates config and constructs an Agent in the Disconnected
// state. The socket is not opened until Gather is called.
func NewAgent(config Config) (*Agent, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	n, err := netFactory()
	if err != nil {
		return nil, wrapAgentError(KindSocket, err, "construct net collaborator")
	}

	tiebreaker, err := newAgentTiebreaker()
	if err != nil {
		return nil, wrapAgentError(KindResolution, err, "generate tiebreaker")
	}

	a := &Agent{
		config:     config,
		log:        config.loggerFactory().NewLogger("ice"),
		net:        n,
		local:      newDescription(),
		remote:     newDescription(),
		// Capacities are reserved up front at their §2 budget so append
		// never reallocates the backing array out from under a concurrent
		// unlocked read on the Send fast path (§5 "Suspension points").
		entries:    make([]StunEntry, 0, maxStunEntries),
		pairs:      make([]CandidatePair, 0, maxPairs),
		mode:       ModeUnknown,
		tiebreaker: tiebreaker,
		state:      Disconnected,
		stopCh:     make(chan struct{}),
	}
	a.selectedEntry.Store(noSelectedEntry)

	ufrag, err := randutil.GenerateCryptoRandomString(8, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	if err != nil {
		return nil, wrapAgentError(KindResolution, err, "generate ufrag")
	}
	pwd, err := randutil.GenerateCryptoRandomString(24, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	if err != nil {
		return nil, wrapAgentError(KindResolution, err, "generate password")
	}
	a.local.UFrag = ufrag
	a.local.Password = pwd

	return a, nil
}

// newAgentTiebreaker draws a fresh §4.3 role-conflict tiebreaker, used
// both at construction and after switching roles in response to a 487.
func newAgentTiebreaker() (uint64, error) {
	return randutil.NewMathRandomGenerator().Uint64()
}

func (a *Agent) OnStateChange(fn func(ConnectionState)) { a.onStateChange = fn }
func (a *Agent) OnCandidate(fn func(Candidate))         { a.onCandidate = fn }
func (a *Agent) OnGatheringDone(fn func())              { a.onGatheringDone = fn }
func (a *Agent) OnDatagram(fn func([]byte))             { a.onDatagram = fn }

// LocalDescription returns a snapshot of the local ufrag/password and
// candidates gathered so far.
func (a *Agent) LocalDescription() *Description {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *a.local
	cp.candidates = append([]Candidate(nil), a.local.candidates...)
	return &cp
}

// Gather opens the shared UDP socket, enumerates local host candidates,
// and starts the worker thread (§4.1 "gather_candidates"). Idempotent
// after the first successful call.
func (a *Agent) Gather() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.gatheringStarted {
		return nil
	}

	conn, err := bindInPortRange(a.net, net.IPv4zero, a.config.LocalPorts)
	if err != nil {
		return err
	}
	a.conn = conn
	a.localAddr = conn.LocalAddr().(*net.UDPAddr)

	ips, err := hostAddresses(a.net)
	if err != nil {
		a.log.Warnf("failed to enumerate host addresses: %s", err)
	}
	for _, ip := range ips {
		addr := &net.UDPAddr{IP: ip, Port: a.localAddr.Port}
		id, ok := a.local.addCandidate(newHostCandidate(0, addr))
		if !ok {
			break
		}
		c, _ := a.local.candidate(id)
		a.log.Debugf("gathered host candidate %s", c)
		a.emitCandidateLocked(c)
	}

	a.gatheringStarted = true
	a.setStateLocked(Gathering)

	a.wg.Add(1)
	go a.run()

	return nil
}

func (a *Agent) emitCandidateLocked(c Candidate) {
	if c.kind == PeerReflexive {
		// Peer-reflexive is never emitted through the candidate callback
		// (§4.3).
		return
	}
	if a.onCandidate != nil {
		a.onCandidate(c)
	}
}

func (a *Agent) setStateLocked(s ConnectionState) {
	if s == a.state {
		return
	}
	if !canTransition(a.state, s) {
		a.log.Warnf("ignoring invalid state transition %s -> %s", a.state, s)
		return
	}
	a.log.Infof("state %s -> %s", a.state, s)
	a.state = s
	if a.onStateChange != nil {
		a.onStateChange(s)
	}
}

// State returns the agent's current coarse connection state.
func (a *Agent) State() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetRemoteDescription installs the remote ufrag/password/candidates
// (§4.1). Determines the agent's role if not already fixed: the first
// side to call this before the other locks in as controlling is
// resolved by tiebreaker on first contact (§4.3 role conflict).
// Existing pairs are unfrozen and new pairs are created for every
// remote candidate not already paired (§9 Open Question).
func (a *Agent) SetRemoteDescription(sdp string) error {
	remote, err := ParseDescription(sdp)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	hadCredentials := a.remote.hasCredentials()
	remote.candidates = append(a.remote.candidates, remote.candidates...)
	remote.finished = remote.finished || a.remote.finished
	a.remote = remote

	if a.mode == ModeUnknown {
		// Defaulting to controlling when nobody has told us otherwise yet
		// matches §4.3's scenario S2: both sides start controlling until a
		// role conflict forces one to switch.
		a.mode = Controlling
	}

	a.addCandidatePairsForRemoteLocked(a.remote.candidates)

	if !hadCredentials && a.remote.hasCredentials() {
		a.unfreezeAllPairsLocked()
	}

	a.interruptLocked()
	return nil
}

// AddRemoteCandidate adds one remote candidate arriving out-of-band
// (e.g. via trickle), pairing it against local candidates immediately
// if the remote ufrag/password are already known.
func (a *Agent) AddRemoteCandidate(sdp string) error {
	d, err := ParseDescription(sdp)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var added []Candidate
	for _, c := range d.candidates {
		id, ok := a.remote.addCandidate(c)
		if !ok {
			continue
		}
		c2, _ := a.remote.candidate(id)
		added = append(added, c2)
	}

	a.addCandidatePairsForRemoteLocked(added)
	a.interruptLocked()
	return nil
}

// SetRemoteGatheringDone records that the remote side has signaled
// end-of-candidates, which shortens the fail deadline to zero once no
// pairs remain pending (§4.1, §4.2).
func (a *Agent) SetRemoteGatheringDone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remote.finished = true
	a.interruptLocked()
}

// GetSelectedCandidatePair snapshots the currently selected pair, if
// any (§4.1).
func (a *Agent) GetSelectedCandidatePair() (local, remote Candidate, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.hasSelectedPair {
		return Candidate{}, Candidate{}, false
	}
	p := a.pairs[a.selectedPairID]
	remote, _ = a.remote.candidate(p.remote)
	if p.hasLocal {
		local, _ = a.local.candidate(p.local)
	}
	return local, remote, true
}

// Close stops the worker thread and releases the socket.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	close(a.stopCh)
	a.interruptLocked()
	a.mu.Unlock()

	a.wg.Wait()

	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
