package ice

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/pion/stun/v3"
)

// turn_relay.go implements §4.4 ("TURN: Allocate, Refresh, Permissions,
// Channels") on top of the wire helpers in stunwire.go: the long-term
// credential retry dance on Allocate/Refresh, lazy CreatePermission and
// ChannelBind for each peer address a relayed pair talks to, and the
// ChannelData/Send-indication framing choice for relayed sends.

// sendTurnAllocateOrRefreshLocked sends Allocate (no relayed address
// yet) or Refresh (one already assigned), attaching long-term
// credentials once a realm/nonce has been learned from a prior 401/438.
func (a *Agent) sendTurnAllocateOrRefreshLocked(id EntryID) {
	e := &a.entries[id]
	t := e.turn

	method := methodAllocate
	if t.relayedAddress != nil {
		method = methodRefresh
	}

	txID := newTransactionID()
	m := new(stun.Message)
	m.TransactionID = txID
	m.SetType(stun.NewType(method, stun.ClassRequest))

	addRequestedTransportUDP(m)
	addDontFragment(m)
	addLifetime(m, uint32(turnAllocationLifetime/time.Second))
	a.addTurnAuthLocked(m, t)
	stun.Fingerprint.AddTo(m)
	m.WriteHeader()

	e.transactionID = txID
	a.writeLocked(m.Raw, t.serverAddr)
}

// addTurnAuthLocked appends USERNAME/REALM/NONCE/MESSAGE-INTEGRITY once
// a realm has been learned (§4.4 "long-term credentials").
func (a *Agent) addTurnAuthLocked(m *stun.Message, t *TurnState) {
	if t.realm == "" {
		return
	}
	stun.NewUsername(t.username).AddTo(m)
	stun.Realm(t.realm).AddTo(m)
	stun.Nonce(t.nonce).AddTo(m)
	stun.NewLongTermIntegrity(t.username, t.realm, t.password).AddTo(m)
}

func (a *Agent) dispatchTurnLocked(m *stun.Message, src *net.UDPAddr) {
	if id, ok := a.findEntryByTransactionLocked(m.TransactionID); ok {
		a.dispatchAllocateOrRefreshLocked(id, m)
		return
	}
	a.dispatchPermissionOrChannelLocked(m, src)
}

func (a *Agent) dispatchAllocateOrRefreshLocked(id EntryID, m *stun.Message) {
	switch m.Type.Class {
	case stun.ClassSuccessResponse:
		if m.Type.Method == methodAllocate {
			a.handleAllocateSuccessLocked(id, m)
		} else {
			a.handleRefreshSuccessLocked(id)
		}
	case stun.ClassErrorResponse:
		code, _ := errorCodeFrom(m)
		a.handleTurnErrorLocked(id, m, code)
	}
}

// handleTurnErrorLocked implements §4.4's credential retry: 401/438
// harvest REALM/NONCE and trigger an immediate retry; anything else
// fails the Relay entry (and, transitively, every pair routed through
// it, via failEntryLocked's propagation).
func (a *Agent) handleTurnErrorLocked(id EntryID, m *stun.Message, code int) {
	if code == codeUnauthorized || code == codeStaleNonce {
		e := &a.entries[id]
		if realm, ok := realmFrom(m); ok {
			e.turn.realm = realm
		}
		if nonce, ok := nonceFrom(m); ok {
			e.turn.nonce = nonce
		}
		e.resetTransaction()
		a.armTransmissionLocked(id, 0)
		return
	}
	a.failEntryLocked(id)
}

func (a *Agent) handleAllocateSuccessLocked(id EntryID, m *stun.Message) {
	e := &a.entries[id]
	relayed, ok := xorRelayedAddressFrom(m)
	if !ok {
		a.failEntryLocked(id)
		return
	}
	e.turn.relayedAddress = relayed
	if mapped, ok := mappedAddressFrom(m); ok {
		e.turn.mappedAddress = mapped
	}
	e.state = SucceededKeepalive
	a.armTransmissionLocked(id, turnRefreshPeriod)

	cid, added := a.local.addCandidate(newRelayedCandidate(0, relayed, e.turn.serverAddr))
	if !added {
		return
	}
	c, _ := a.local.candidate(cid)
	a.emitCandidateLocked(c)
	a.addPairsForNewLocalCandidateLocked(c)
	a.updateGatheringDoneLocked()
}

func (a *Agent) handleRefreshSuccessLocked(id EntryID) {
	e := &a.entries[id]
	e.state = SucceededKeepalive
	a.armTransmissionLocked(id, turnRefreshPeriod)
}

func (a *Agent) dispatchPermissionOrChannelLocked(m *stun.Message, src *net.UDPAddr) {
	for i := range a.entries {
		e := &a.entries[i]
		if e.typ != EntryRelay || e.turn == nil || !sameUDPAddr(e.turn.serverAddr, src) {
			continue
		}
		peer, isPermission, isChannel := e.turn.peers.findByTransaction(m.TransactionID)
		if peer == nil {
			continue
		}
		switch {
		case isPermission:
			a.handleCreatePermissionResponseLocked(peer, m)
		case isChannel:
			a.handleChannelBindResponseLocked(peer, m)
		}
		return
	}
}

func (a *Agent) handleCreatePermissionResponseLocked(peer *turnPeerState, m *stun.Message) {
	peer.permission.pending = false
	if m.Type.Class == stun.ClassSuccessResponse {
		peer.permission.expiry = time.Now().Add(turnPermissionLifetime / 2)
	} else {
		peer.permission = nil
	}
}

func (a *Agent) handleChannelBindResponseLocked(peer *turnPeerState, m *stun.Message) {
	peer.channel.pending = false
	if m.Type.Class != stun.ClassSuccessResponse {
		peer.channel = nil
		return
	}
	if n, ok := channelNumberFrom(m); ok && n != peer.channel.number {
		a.log.Warnf("ChannelBind response echoed unexpected channel %#x", n)
	}
	peer.channel.bound = true
	peer.channel.expiry = time.Now().Add(turnBindLifetime / 2)
}

// sendViaRelayLocked frames payload for delivery to peerAddr through the
// Relay entry's TURN allocation: a bound channel once one exists,
// otherwise a Send indication, lazily kicking off CreatePermission/
// ChannelBind for the peer along the way (§4.4).
func (a *Agent) sendViaRelayLocked(relayEntry EntryID, peerAddr *net.UDPAddr, payload []byte) {
	e := &a.entries[relayEntry]
	if e.turn == nil || e.turn.relayedAddress == nil {
		return // allocation not ready yet; caller's retransmission will retry.
	}
	peer := e.turn.peers.peerState(peerAddr)
	a.ensurePermissionLocked(e.turn, peer)

	if peer.channel != nil && peer.channel.bound {
		a.writeLocked(channelDataFrame(peer.channel.number, payload), e.turn.serverAddr)
		return
	}
	a.ensureChannelBoundLocked(e.turn, peer)

	m := new(stun.Message)
	m.TransactionID = newTransactionID()
	m.SetType(stun.NewType(methodSend, stun.ClassIndication))
	if err := addXorPeerAddress(m, peerAddr); err != nil {
		a.log.Warnf("add peer address to Send indication: %s", err)
		return
	}
	addData(m, payload)
	m.WriteHeader()
	a.writeLocked(m.Raw, e.turn.serverAddr)
}

func (a *Agent) ensurePermissionLocked(t *TurnState, peer *turnPeerState) {
	if peer.permission != nil {
		if peer.permission.pending || time.Now().Before(peer.permission.expiry) {
			return
		}
	}
	txID := newTransactionID()
	m := new(stun.Message)
	m.TransactionID = txID
	m.SetType(stun.NewType(methodCreatePermission, stun.ClassRequest))
	if err := addXorPeerAddress(m, peer.addr); err != nil {
		return
	}
	a.addTurnAuthLocked(m, t)
	stun.Fingerprint.AddTo(m)
	m.WriteHeader()

	peer.permission = &turnPermission{pending: true, transactionID: txID}
	a.writeLocked(m.Raw, t.serverAddr)
}

func (a *Agent) ensureChannelBoundLocked(t *TurnState, peer *turnPeerState) {
	if peer.channel != nil {
		return
	}
	number, ok := t.peers.allocateChannelNumber()
	if !ok {
		return
	}
	t.peers.bindChannel(peer.addr, number, peerKey(peer.addr))

	txID := newTransactionID()
	m := new(stun.Message)
	m.TransactionID = txID
	m.SetType(stun.NewType(methodChannelBind, stun.ClassRequest))
	addChannelNumber(m, number)
	if err := addXorPeerAddress(m, peer.addr); err != nil {
		return
	}
	a.addTurnAuthLocked(m, t)
	stun.Fingerprint.AddTo(m)
	m.WriteHeader()

	peer.channel = &turnChannel{number: number, pending: true, transactionID: txID}
	a.writeLocked(m.Raw, t.serverAddr)
}

func channelDataFrame(number uint16, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], number)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	return buf
}
