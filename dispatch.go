package ice

import (
	"encoding/binary"
	"net"

	"github.com/pion/stun/v3"
)

// dispatchLocked demultiplexes one datagram read off the shared socket
// (§4.5 "Input dispatch"): a zero-length datagram is the self-interrupt
// no-op, ChannelData-framed datagrams are unwrapped relay traffic, and
// everything else that parses as STUN is routed by method; anything
// else is handed to the application only if its source matches a Check
// entry, and dropped otherwise.
func (a *Agent) dispatchLocked(data []byte, src *net.UDPAddr) {
	if len(data) == 0 {
		return
	}

	if isChannelData(data) {
		a.handleChannelDataLocked(data, src)
		return
	}

	if !stun.IsMessage(data) {
		if _, ok := a.findCheckEntryByAddressLocked(src); !ok {
			a.log.Debugf("dropping datagram from unknown source %s", src)
			return
		}
		if a.onDatagram != nil {
			a.onDatagram(data)
		}
		return
	}

	m := new(stun.Message)
	m.Raw = append([]byte(nil), data...)
	if err := m.Decode(); err != nil {
		a.log.Debugf("dropping malformed STUN message from %s: %s", src, err)
		return
	}

	switch m.Type.Method {
	case stun.MethodBinding:
		a.dispatchBindingLocked(m, src)
	case methodAllocate, methodRefresh, methodCreatePermission, methodChannelBind:
		a.dispatchTurnLocked(m, src)
	case methodData:
		a.handleTurnDataIndicationLocked(m, src)
	default:
		a.log.Debugf("ignoring STUN message with unknown method %d from %s", m.Type.Method, src)
	}
}

func isChannelData(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	n := binary.BigEndian.Uint16(data[0:2])
	return n >= turnChannelNumberMin && n <= turnChannelNumberMax
}

func (a *Agent) dispatchBindingLocked(m *stun.Message, src *net.UDPAddr) {
	switch m.Type.Class {
	case stun.ClassRequest:
		a.handleBindingRequestLocked(m, src)
	case stun.ClassSuccessResponse:
		a.dispatchBindingSuccessLocked(m, src)
	case stun.ClassErrorResponse:
		a.dispatchBindingErrorLocked(m, src)
	}
}

func (a *Agent) dispatchBindingSuccessLocked(m *stun.Message, src *net.UDPAddr) {
	id, ok := a.findEntryByTransactionLocked(m.TransactionID)
	if !ok {
		return
	}
	switch a.entries[id].typ {
	case EntryCheck:
		a.handleBindingSuccessLocked(id, m, src)
	case EntryServer:
		a.handleServerReflexiveSuccessLocked(id, m)
	}
}

func (a *Agent) dispatchBindingErrorLocked(m *stun.Message, src *net.UDPAddr) {
	id, ok := a.findEntryByTransactionLocked(m.TransactionID)
	if !ok {
		return
	}
	code, _ := errorCodeFrom(m)
	if a.entries[id].typ == EntryCheck {
		a.handleBindingErrorLocked(id, code)
	} else {
		a.failEntryLocked(id)
	}
}

// findCheckEntryByAddressLocked is the three-tier "entry lookup by
// incoming address" of §4.5: the selectedEntry fast path, then the
// highest-priority pair whose remote candidate matches src, then a
// direct scan of Check entries by destination. A datagram from an
// address matching none of these has never completed (or even
// started) a check and must not reach the application (§7
// ValidationFailure "unknown source").
func (a *Agent) findCheckEntryByAddressLocked(src *net.UDPAddr) (EntryID, bool) {
	if a.hasSelectedPair {
		p := &a.pairs[a.selectedPairID]
		if rc, ok := a.remote.candidate(p.remote); ok && sameUDPAddr(rc.address, src) {
			return p.entry, true
		}
	}
	if pairID, ok := a.findPairByRemoteAddressLocked(src); ok {
		return a.pairs[pairID].entry, true
	}
	for i := range a.entries {
		e := &a.entries[i]
		if e.typ == EntryCheck && sameUDPAddr(e.destination, src) {
			return EntryID(i), true
		}
	}
	return 0, false
}

func (a *Agent) findEntryByTransactionLocked(txID stun.TransactionID) (EntryID, bool) {
	for i := range a.entries {
		if a.entries[i].transactionID == txID {
			return EntryID(i), true
		}
	}
	return 0, false
}

// handleChannelDataLocked unwraps a ChannelData-framed datagram arriving
// from a TURN server and routes its payload the same way an unframed
// Data indication would be (§4.4, §4.5).
func (a *Agent) handleChannelDataLocked(data []byte, src *net.UDPAddr) {
	n := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint16(data[2:4])
	if int(length) > len(data)-4 {
		return
	}
	payload := data[4 : 4+length]

	for i := range a.entries {
		e := &a.entries[i]
		if e.typ != EntryRelay || e.turn == nil || !sameUDPAddr(e.turn.serverAddr, src) {
			continue
		}
		if peerAddr, ok := e.turn.peers.lookupByChannel(n); ok {
			a.deliverRelayedPayloadLocked(payload, peerAddr)
			return
		}
	}
}

func (a *Agent) handleTurnDataIndicationLocked(m *stun.Message, src *net.UDPAddr) {
	data, ok := dataFrom(m)
	if !ok {
		return
	}
	peerAddr, ok := xorPeerAddressFrom(m)
	if !ok {
		peerAddr = src
	}
	a.deliverRelayedPayloadLocked(data, peerAddr)
}

// deliverRelayedPayloadLocked routes a payload that arrived through a
// relay: a nested Binding message is a connectivity check from peerAddr
// and is run back through the normal Binding dispatch; anything else is
// application data (§4.4, §4.5).
func (a *Agent) deliverRelayedPayloadLocked(payload []byte, peerAddr *net.UDPAddr) {
	if stun.IsMessage(payload) {
		m := new(stun.Message)
		m.Raw = append([]byte(nil), payload...)
		if err := m.Decode(); err == nil && m.Type.Method == stun.MethodBinding {
			a.dispatchBindingLocked(m, peerAddr)
			return
		}
	}
	if a.onDatagram != nil {
		a.onDatagram(payload)
	}
}
