package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeCandidatePriorityTypePreference(t *testing.T) {
	host := computeCandidatePriority(Host, 1, defaultLocalPreference)
	srflx := computeCandidatePriority(ServerReflexive, 1, defaultLocalPreference)
	prflx := computeCandidatePriority(PeerReflexive, 1, defaultLocalPreference)
	relay := computeCandidatePriority(Relayed, 1, defaultLocalPreference)

	assert.Greater(t, host, prflx)
	assert.Greater(t, prflx, srflx)
	assert.Greater(t, srflx, relay)
}

func TestComputeCandidatePriorityComponent(t *testing.T) {
	c1 := computeCandidatePriority(Host, 1, defaultLocalPreference)
	c2 := computeCandidatePriority(Host, 2, defaultLocalPreference)
	assert.Greater(t, c1, c2)
}

func TestNewHostCandidateString(t *testing.T) {
	c := newHostCandidate(0, &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 12345})
	assert.Equal(t, Host, c.kind)
	assert.Equal(t, "0192.168.1.1", c.foundation)
	assert.Contains(t, c.String(), "192.168.1.1:12345")
}

func TestSameUDPAddr(t *testing.T) {
	a := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	b := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	c := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1}
	assert.True(t, sameUDPAddr(a, b))
	assert.False(t, sameUDPAddr(a, c))
	assert.False(t, sameUDPAddr(a, nil))
	assert.True(t, sameUDPAddr(nil, nil))
}
