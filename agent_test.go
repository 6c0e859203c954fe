package ice

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackCandidateLine builds the single a=candidate line needed to
// point a peer straight at another in-process agent's bound UDP port,
// bypassing host-address enumeration (which only lists non-loopback
// interfaces) so the two agents in this test can reach each other over
// 127.0.0.1 without any real STUN/TURN infrastructure.
func loopbackCandidateLine(port int) string {
	return fmt.Sprintf("a=candidate:0 1 udp 2130706431 127.0.0.1 %d typ host", port)
}

func manualDescription(ufrag, password string, port int) string {
	return fmt.Sprintf("%s%s\r\n%s%s\r\n%s\r\n%s\r\n",
		lineUFrag, ufrag, linePassword, password, loopbackCandidateLine(port), lineEndOfCandidates)
}

// TestTwoAgentsConnectOverLoopback exercises the full gather -> pair ->
// connectivity-check -> nomination -> Connected/Completed path between
// two real Agents talking over real loopback UDP sockets, with one side
// controlling and the other resolved to controlled by role conflict.
func TestTwoAgentsConnectOverLoopback(t *testing.T) {
	agentA, err := NewAgent(Config{})
	require.NoError(t, err)
	defer agentA.Close()

	agentB, err := NewAgent(Config{})
	require.NoError(t, err)
	defer agentB.Close()

	require.NoError(t, agentA.Gather())
	require.NoError(t, agentB.Gather())

	portA := agentA.localAddr.Port
	portB := agentB.localAddr.Port

	descForA := manualDescription(agentB.local.UFrag, agentB.local.Password, portB)
	descForB := manualDescription(agentA.local.UFrag, agentA.local.Password, portA)

	require.NoError(t, agentA.SetRemoteDescription(descForA))
	require.NoError(t, agentB.SetRemoteDescription(descForB))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if agentA.State() == Completed && agentB.State() == Completed {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	assert.Equal(t, Completed, agentA.State())
	assert.Equal(t, Completed, agentB.State())

	_, _, okA := agentA.GetSelectedCandidatePair()
	_, _, okB := agentB.GetSelectedCandidatePair()
	assert.True(t, okA)
	assert.True(t, okB)

	received := make(chan []byte, 1)
	agentB.OnDatagram(func(data []byte) { received <- data })

	require.NoError(t, agentA.Send([]byte("hello")))

	select {
	case data := <-received:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for application datagram")
	}
}
