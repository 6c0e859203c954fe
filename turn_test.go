package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnMapAllocateChannelNumberInRange(t *testing.T) {
	m := newTurnMap()
	n, ok := m.allocateChannelNumber()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, n, uint16(turnChannelNumberMin))
	assert.LessOrEqual(t, n, uint16(turnChannelNumberMax))
}

func TestTurnMapAllocateChannelNumberUnique(t *testing.T) {
	m := newTurnMap()
	seen := make(map[uint16]bool)
	for i := 0; i < 10; i++ {
		n, ok := m.allocateChannelNumber()
		assert.True(t, ok)
		addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: i}
		m.bindChannel(addr, n, peerKey(addr))
		assert.False(t, seen[n], "channel number %#x reused", n)
		seen[n] = true
	}
}

func TestTurnMapAllocateChannelNumberExhaustion(t *testing.T) {
	m := newTurnMap()
	total := turnChannelNumberMax - turnChannelNumberMin + 1
	for i := 0; i < total; i++ {
		n, ok := m.allocateChannelNumber()
		assert.True(t, ok)
		addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: i}
		m.bindChannel(addr, n, peerKey(addr))
	}
	_, ok := m.allocateChannelNumber()
	assert.False(t, ok, "channel space should be exhausted")
}

func TestTurnMapLookupByChannel(t *testing.T) {
	m := newTurnMap()
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4000}
	n, ok := m.allocateChannelNumber()
	assert.True(t, ok)
	m.bindChannel(addr, n, peerKey(addr))

	peer := m.peerState(addr)
	peer.channel = &turnChannel{number: n, bound: true}

	got, ok := m.lookupByChannel(n)
	assert.True(t, ok)
	assert.True(t, sameUDPAddr(addr, got))
}

func TestTurnMapPeerStateIsStable(t *testing.T) {
	m := newTurnMap()
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4000}
	p1 := m.peerState(addr)
	p1.permission = &turnPermission{}
	p2 := m.peerState(addr)
	assert.Same(t, p1, p2)
}
