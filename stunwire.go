package ice

import (
	"encoding/binary"
	"net"

	"github.com/pion/stun/v3"
)

// stunwire.go is the thin glue between this agent's state machine and
// the pion/stun/v3 wire-codec collaborator (SPEC_FULL.md [DOMAIN]).
// ICE-specific attributes (PRIORITY, ICE-CONTROLLING, ICE-CONTROLLED,
// USE-CANDIDATE) and the handful of TURN attributes pion/stun does not
// define are declared here as raw attribute types built through
// stun.Message.Add/Get, the same generic mechanism pion/stun's own typed
// attributes are built on.
const (
	attrPriority       stun.AttrType = 0x0024
	attrUseCandidate   stun.AttrType = 0x0025
	attrIceControlled  stun.AttrType = 0x8029
	attrIceControlling stun.AttrType = 0x802A

	attrChannelNumber      stun.AttrType = 0x000C
	attrLifetime           stun.AttrType = 0x000D
	attrXorPeerAddress     stun.AttrType = 0x0012
	attrData               stun.AttrType = 0x0013
	attrXorRelayedAddress  stun.AttrType = 0x0016
	attrRequestedTransport stun.AttrType = 0x0019
	attrDontFragment       stun.AttrType = 0x001A
)

// TURN methods (RFC 8656 §18.3); Binding is stun.MethodBinding.
const (
	methodAllocate         stun.Method = 0x003
	methodRefresh          stun.Method = 0x004
	methodSend             stun.Method = 0x006
	methodData             stun.Method = 0x007
	methodCreatePermission stun.Method = 0x008
	methodChannelBind      stun.Method = 0x009
)

const udpTransportProtocolByte = 17 // IANA UDP protocol number, for REQUESTED-TRANSPORT.

func newTransactionID() stun.TransactionID {
	id, err := stun.NewTransactionID()
	if err != nil {
		// crypto/rand failure is effectively unrecoverable; pion/stun's own
		// doc notes this only happens if the platform's CSPRNG is broken.
		panic(err)
	}
	return id
}

// buildMessage assembles a STUN message of the given type/transaction,
// applying setters in order and finalizing the wire encoding.
func buildMessage(class stun.MessageClass, method stun.Method, txID stun.TransactionID, setters ...stun.Setter) (*stun.Message, error) {
	m := new(stun.Message)
	m.TransactionID = txID
	m.SetType(stun.NewType(method, class))
	for _, s := range setters {
		if err := s.AddTo(m); err != nil {
			return nil, err
		}
	}
	m.WriteHeader()
	return m, nil
}

func addPriority(m *stun.Message, priority uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], priority)
	m.Add(attrPriority, b[:])
}

// priorityAttrSetter, useCandidateSetter, iceControllingSetter, and
// iceControlledSetter let the ICE-only attributes compose with
// pion/stun's stun.Setter-based message builder alongside its own
// typed attributes (stun.NewUsername, stun.Fingerprint, ...).
type priorityAttrSetter struct{ priority uint32 }

func (s priorityAttrSetter) AddTo(m *stun.Message) error {
	addPriority(m, s.priority)
	return nil
}

type useCandidateSetter struct{}

func (useCandidateSetter) AddTo(m *stun.Message) error {
	addUseCandidate(m)
	return nil
}

type iceControllingSetter struct{ tiebreaker uint64 }

func (s iceControllingSetter) AddTo(m *stun.Message) error {
	addIceControlling(m, s.tiebreaker)
	return nil
}

type iceControlledSetter struct{ tiebreaker uint64 }

func (s iceControlledSetter) AddTo(m *stun.Message) error {
	addIceControlled(m, s.tiebreaker)
	return nil
}

func getPriority(m *stun.Message) (uint32, bool) {
	v, err := m.Get(attrPriority)
	if err != nil || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func addUseCandidate(m *stun.Message) {
	m.Add(attrUseCandidate, nil)
}

func hasUseCandidate(m *stun.Message) bool {
	_, err := m.Get(attrUseCandidate)
	return err == nil
}

func addIceControlling(m *stun.Message, tiebreaker uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], tiebreaker)
	m.Add(attrIceControlling, b[:])
}

func addIceControlled(m *stun.Message, tiebreaker uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], tiebreaker)
	m.Add(attrIceControlled, b[:])
}

// getRole reports the tiebreaker carried by whichever of
// ICE-CONTROLLING/ICE-CONTROLLED is present (§4.3 role-conflict
// resolution).
func getRole(m *stun.Message) (mode AgentMode, tiebreaker uint64, ok bool) {
	if v, err := m.Get(attrIceControlling); err == nil && len(v) == 8 {
		return Controlling, binary.BigEndian.Uint64(v), true
	}
	if v, err := m.Get(attrIceControlled); err == nil && len(v) == 8 {
		return Controlled, binary.BigEndian.Uint64(v), true
	}
	return ModeUnknown, 0, false
}

func shortTermIntegrity(key string) stun.Setter {
	return stun.NewShortTermIntegrity(key)
}

// verifyShortTermIntegrity checks MESSAGE-INTEGRITY against key,
// matching §4.3's "Verification" rules.
func verifyShortTermIntegrity(m *stun.Message, key string) bool {
	return stun.NewShortTermIntegrity(key).Check(m) == nil
}

func mappedAddressFrom(m *stun.Message) (*net.UDPAddr, bool) {
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(m); err != nil {
		return nil, false
	}
	return &net.UDPAddr{IP: xor.IP, Port: xor.Port}, true
}

func addXorMappedAddress(setters []stun.Setter, addr *net.UDPAddr) []stun.Setter {
	return append(setters, &stun.XORMappedAddress{IP: addr.IP, Port: addr.Port})
}

func errorCodeFrom(m *stun.Message) (int, bool) {
	var ec stun.ErrorCodeAttribute
	if err := ec.GetFrom(m); err != nil {
		return 0, false
	}
	return int(ec.Code), true
}

const (
	codeUnauthorized = 401
	codeStaleNonce   = 438
	codeRoleConflict = 487
)

func addErrorCode(setters []stun.Setter, code int, reason string) []stun.Setter {
	return append(setters, &stun.ErrorCodeAttribute{Code: stun.ErrorCode(code), Reason: []byte(reason)})
}

func usernameFrom(m *stun.Message) (string, bool) {
	var u stun.Username
	if err := u.GetFrom(m); err != nil {
		return "", false
	}
	return u.String(), true
}

func realmFrom(m *stun.Message) (string, bool) {
	var r stun.Realm
	if err := r.GetFrom(m); err != nil {
		return "", false
	}
	return r.String(), true
}

func nonceFrom(m *stun.Message) (string, bool) {
	var n stun.Nonce
	if err := n.GetFrom(m); err != nil {
		return "", false
	}
	return n.String(), true
}

func addRequestedTransportUDP(m *stun.Message) {
	m.Add(attrRequestedTransport, []byte{udpTransportProtocolByte, 0, 0, 0})
}

func addDontFragment(m *stun.Message) {
	m.Add(attrDontFragment, nil)
}

func addLifetime(m *stun.Message, seconds uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], seconds)
	m.Add(attrLifetime, b[:])
}

func addChannelNumber(m *stun.Message, number uint16) {
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], number)
	m.Add(attrChannelNumber, b[:])
}

func channelNumberFrom(m *stun.Message) (uint16, bool) {
	v, err := m.Get(attrChannelNumber)
	if err != nil || len(v) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v[0:2]), true
}

// xorPeerAddress/xorRelayedAddress reuse pion/stun's XOR address codec
// (same XOR transform as XOR-MAPPED-ADDRESS, just a different attribute
// number) by round-tripping through the attribute rather than
// duplicating the XOR math.
func addXorPeerAddress(m *stun.Message, addr *net.UDPAddr) error {
	return addXoredAddress(m, attrXorPeerAddress, addr)
}

func xorPeerAddressFrom(m *stun.Message) (*net.UDPAddr, bool) {
	return xoredAddressFrom(m, attrXorPeerAddress)
}

func xorRelayedAddressFrom(m *stun.Message) (*net.UDPAddr, bool) {
	return xoredAddressFrom(m, attrXorRelayedAddress)
}

func addXoredAddress(m *stun.Message, attr stun.AttrType, addr *net.UDPAddr) error {
	xor := stun.XORMappedAddress{IP: addr.IP, Port: addr.Port}
	tmp := new(stun.Message)
	tmp.TransactionID = m.TransactionID
	if err := xor.AddTo(tmp); err != nil {
		return err
	}
	v, err := tmp.Get(stun.AttrXORMappedAddress)
	if err != nil {
		return err
	}
	m.Add(attr, v)
	return nil
}

func xoredAddressFrom(m *stun.Message, attr stun.AttrType) (*net.UDPAddr, bool) {
	v, err := m.Get(attr)
	if err != nil {
		return nil, false
	}
	tmp := new(stun.Message)
	tmp.TransactionID = m.TransactionID
	tmp.Add(stun.AttrXORMappedAddress, v)
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(tmp); err != nil {
		return nil, false
	}
	return &net.UDPAddr{IP: xor.IP, Port: xor.Port}, true
}

func addData(m *stun.Message, data []byte) {
	m.Add(attrData, data)
}

func dataFrom(m *stun.Message) ([]byte, bool) {
	v, err := m.Get(attrData)
	if err != nil {
		return nil, false
	}
	return v, true
}
