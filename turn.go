package ice

import (
	"net"
	"time"

	"github.com/pion/stun/v3"
)

// TurnState holds the long-term-credentials state and per-peer
// permission/channel bookkeeping for one Relay entry (§3 "TurnState &
// TurnMap").
type TurnState struct {
	serverAddr *net.UDPAddr

	username string
	password string
	realm    string
	nonce    string

	// relayedAddress is the address allocated on the TURN server, filled
	// in once Allocate succeeds.
	relayedAddress *net.UDPAddr
	mappedAddress  *net.UDPAddr

	peers TurnMap
}

// turnPermission is one peer's CreatePermission lifecycle.
type turnPermission struct {
	expiry time.Time

	pending       bool
	transactionID stun.TransactionID
}

// turnChannel is one peer's ChannelBind lifecycle.
type turnChannel struct {
	number uint16
	bound  bool
	expiry time.Time

	pending       bool
	transactionID stun.TransactionID
}

// turnPeerState bundles the permission and channel state kept for one
// peer address.
type turnPeerState struct {
	addr       *net.UDPAddr
	permission *turnPermission
	channel    *turnChannel
}

// TurnMap keys per-peer state by peer address (§3). Invariants: channel
// numbers are unique per relay; a peer has at most one active
// permission and at most one bound channel (also §8 invariant 7).
type TurnMap struct {
	peers        map[string]*turnPeerState
	usedChannels map[uint16]string // channel number -> peer key
	nextChannel  uint16
}

func newTurnMap() TurnMap {
	return TurnMap{
		peers:        make(map[string]*turnPeerState),
		usedChannels: make(map[uint16]string),
		nextChannel:  turnChannelNumberMin,
	}
}

func peerKey(addr *net.UDPAddr) string {
	return addr.String()
}

func (m *TurnMap) peerState(addr *net.UDPAddr) *turnPeerState {
	k := peerKey(addr)
	s, ok := m.peers[k]
	if !ok {
		s = &turnPeerState{addr: addr}
		m.peers[k] = s
	}
	return s
}

func (m *TurnMap) lookupByChannel(number uint16) (*net.UDPAddr, bool) {
	k, ok := m.usedChannels[number]
	if !ok {
		return nil, false
	}
	return m.peers[k].addr, true
}

// allocateChannelNumber picks the next free channel number in
// 0x4000..0x7FFF (§8 invariant 7).
func (m *TurnMap) allocateChannelNumber() (uint16, bool) {
	for i := 0; i < (turnChannelNumberMax - turnChannelNumberMin + 1); i++ {
		n := m.nextChannel
		m.nextChannel++
		if m.nextChannel > turnChannelNumberMax {
			m.nextChannel = turnChannelNumberMin
		}
		if _, used := m.usedChannels[n]; !used {
			return n, true
		}
	}
	return 0, false
}

func (m *TurnMap) bindChannel(addr *net.UDPAddr, number uint16, key string) {
	m.usedChannels[number] = key
}

// findTransaction scans permissions and channels for a matching
// transaction id, used when matching CreatePermission/ChannelBind
// responses (§4.4 "Transaction id discipline").
func (m *TurnMap) findByTransaction(txID stun.TransactionID) (*turnPeerState, bool, bool) {
	for _, s := range m.peers {
		if s.permission != nil && s.permission.pending && s.permission.transactionID == txID {
			return s, true, false
		}
		if s.channel != nil && s.channel.pending && s.channel.transactionID == txID {
			return s, false, true
		}
	}
	return nil, false, false
}
