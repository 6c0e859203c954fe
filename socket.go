package ice

import (
	"net"

	"github.com/pion/transport/v4"
	"github.com/pion/transport/v4/stdnet"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// netFactory is the "address resolution, UDP socket creation, IPv4/IPv6
// mapping helpers" collaborator of §1. A package-level var so tests can
// substitute a vnet.Net; production always uses stdnet.
var netFactory = func() (transport.Net, error) {
	return stdnet.NewNet()
}

// bindInPortRange opens a UDP socket on ip, trying each port in
// [r.Begin, r.End] (or an ephemeral port if the range is zero). This is
// the one socket shared by all peers, STUN servers, and TURN servers
// (§2).
func bindInPortRange(n transport.Net, ip net.IP, r PortRange) (net.PacketConn, error) {
	if r.Begin == 0 && r.End == 0 {
		return n.ListenPacket("udp4", &net.UDPAddr{IP: ip, Port: 0})
	}
	var lastErr error
	for port := int(r.Begin); port <= int(r.End); port++ {
		conn, err := n.ListenPacket("udp4", &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, wrapAgentError(KindSocket, lastErr, "bind within configured port range")
}

// hostAddresses enumerates local, non-loopback IPv4 addresses to
// advertise as host candidates (§4.1 step "enumerates local host
// addresses").
func hostAddresses(n transport.Net) ([]net.IP, error) {
	ifaces, err := n.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate interfaces")
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				ips = append(ips, ip4)
			}
		}
	}
	return ips, nil
}

// writeLocked sends one already-encoded message, serializing against
// any concurrent Send fast-path write via sendMu (§4.1's "small
// send-mutex that serializes setsockopt(DSCP) with sendto").
func (a *Agent) writeLocked(data []byte, dest *net.UDPAddr) {
	if a.conn == nil || dest == nil {
		return
	}
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if _, err := a.conn.WriteTo(data, dest); err != nil {
		a.log.Warnf("write to %s: %s", dest, err)
	}
}

// sendToPeerLocked sends payload to a remote ICE address, routing
// through that pair's Relay entry when the pair in use is relayed-local,
// and applying the §4.6 loopback rewrite on the direct path.
func (a *Agent) sendToPeerLocked(payload []byte, dest *net.UDPAddr) {
	if pairID, ok := a.findPairByRemoteAddressLocked(dest); ok {
		if p := &a.pairs[pairID]; p.hasRelayEntry {
			a.sendViaRelayLocked(p.relayEntry, dest, payload)
			return
		}
	}
	a.writeLocked(payload, a.translateDestinationLocked(dest))
}

// setDSCP serializes the DSCP setsockopt with the caller's sendto, per
// §4.1's send fast path ("small send-mutex that serializes
// setsockopt(DSCP) with sendto"). dscp is the 6-bit differentiated
// services code point; 0 leaves the default.
func setDSCP(conn net.PacketConn, dscp int) error {
	if dscp == 0 {
		return nil
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return nil
	}
	pc := ipv4.NewPacketConn(udpConn)
	return pc.SetTOS(dscp << 2)
}
