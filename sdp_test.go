package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeParseCandidateRoundTrip(t *testing.T) {
	c := newHostCandidate(0, &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 12345})
	line := EncodeCandidate(c)

	parsed, err := parseCandidateLine(line)
	assert.NoError(t, err)
	assert.Equal(t, c.kind, parsed.kind)
	assert.Equal(t, c.foundation, parsed.foundation)
	assert.Equal(t, c.priority, parsed.priority)
	assert.True(t, sameUDPAddr(c.address, parsed.address))
}

func TestEncodeParseCandidateWithRelatedAddress(t *testing.T) {
	mapped := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 54321}
	base := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 12345}
	c := newServerReflexiveCandidate(0, mapped, base)

	line := EncodeCandidate(c)
	parsed, err := parseCandidateLine(line)
	assert.NoError(t, err)
	assert.Equal(t, ServerReflexive, parsed.kind)
	assert.True(t, sameUDPAddr(mapped, parsed.address))
	assert.True(t, sameUDPAddr(base, parsed.relatedAddress))
}

func TestParseCandidateLineRejectsUnsupportedComponent(t *testing.T) {
	_, err := parseCandidateLine("a=candidate:0 2 udp 100 192.168.1.1 1 typ host")
	assert.Error(t, err)
}

func TestDescriptionMarshalParseRoundTrip(t *testing.T) {
	d := newDescription()
	d.UFrag = "ufrag1"
	d.Password = "password1password1"
	d.addCandidate(newHostCandidate(0, &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 9000}))
	d.finished = true

	out := d.Marshal()
	parsed, err := ParseDescription(out)
	assert.NoError(t, err)
	assert.Equal(t, d.UFrag, parsed.UFrag)
	assert.Equal(t, d.Password, parsed.Password)
	assert.True(t, parsed.finished)
	assert.Len(t, parsed.candidates, 1)
	assert.True(t, sameUDPAddr(d.candidates[0].address, parsed.candidates[0].address))
}

func TestDescriptionMarshalOmitsPeerReflexive(t *testing.T) {
	d := newDescription()
	d.UFrag, d.Password = "u", "p"
	d.addCandidate(newPeerReflexiveCandidate(0, &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}, 100))

	out := d.Marshal()
	parsed, err := ParseDescription(out)
	assert.NoError(t, err)
	assert.Empty(t, parsed.candidates)
}

func TestAddCandidateEnforcesCapPerKind(t *testing.T) {
	d := newDescription()
	for i := 0; i < maxHostCandidates; i++ {
		addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: i}
		_, ok := d.addCandidate(newHostCandidate(0, addr))
		assert.True(t, ok)
	}
	_, ok := d.addCandidate(newHostCandidate(0, &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9999}))
	assert.False(t, ok)
}
