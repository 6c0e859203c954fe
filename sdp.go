package ice

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// sdp.go implements the narrow slice of the ICE SDP surface (§6) this
// agent needs to exchange out-of-band: ice-ufrag/ice-pwd lines, one
// a=candidate line per candidate (RFC 8839 §5.1), and an
// end-of-candidates marker. Full session/media-line parsing is the
// external SDP collaborator's job; this is the minimal candidate-line
// codec, generalized from one candidate to whole descriptions.
const (
	lineUFrag           = "a=ice-ufrag:"
	linePassword        = "a=ice-pwd:"
	lineCandidate       = "a=candidate:"
	lineEndOfCandidates = "a=end-of-candidates"
)

func candidateTypeName(k CandidateKind) string {
	switch k {
	case Host:
		return "host"
	case ServerReflexive:
		return "srflx"
	case PeerReflexive:
		return "prflx"
	case Relayed:
		return "relay"
	default:
		return "host"
	}
}

func parseCandidateType(s string) (CandidateKind, error) {
	switch s {
	case "host":
		return Host, nil
	case "srflx":
		return ServerReflexive, nil
	case "prflx":
		return PeerReflexive, nil
	case "relay":
		return Relayed, nil
	default:
		return 0, errors.Errorf("unknown candidate type %q", s)
	}
}

// EncodeCandidate renders one a=candidate line (RFC 8839 §5.1):
//
//	candidate:{foundation} {component} {transport} {priority} {addr} {port} typ {type} [raddr {ip} rport {port}]
func EncodeCandidate(c Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s %d %s %d %s %d typ %s",
		lineCandidate, c.foundation, c.component, c.transport, c.priority,
		c.address.IP.String(), c.address.Port, candidateTypeName(c.kind))
	if c.relatedAddress != nil {
		fmt.Fprintf(&b, " raddr %s rport %d", c.relatedAddress.IP.String(), c.relatedAddress.Port)
	}
	return b.String()
}

// parseCandidateLine parses the body following "a=candidate:".
func parseCandidateLine(line string) (Candidate, error) {
	body := strings.TrimPrefix(line, lineCandidate)
	r := strings.NewReader(body)

	var foundation, transport, addr, typ string
	var component, port int
	var priority uint32
	if _, err := fmt.Fscanf(r, "%s %d %s %d %s %d typ %s",
		&foundation, &component, &transport, &priority, &addr, &port, &typ); err != nil {
		return Candidate{}, errors.Wrap(err, "parse candidate line")
	}
	if component != 1 {
		return Candidate{}, errors.Errorf("unsupported component id %d", component)
	}

	kind, err := parseCandidateType(typ)
	if err != nil {
		return Candidate{}, err
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return Candidate{}, errors.Errorf("invalid candidate address %q", addr)
	}

	c := Candidate{
		kind:       kind,
		component:  1,
		transport:  strings.ToLower(transport),
		priority:   priority,
		address:    &net.UDPAddr{IP: ip, Port: port},
		foundation: foundation,
	}

	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	var raddr string
	var rport int
	var name string
	for scanner.Scan() {
		if name == "" {
			name = scanner.Text()
			continue
		}
		value := scanner.Text()
		switch name {
		case "raddr":
			raddr = value
		case "rport":
			rport, _ = strconv.Atoi(value)
		}
		name = ""
	}
	if raddr != "" {
		if rip := net.ParseIP(raddr); rip != nil {
			c.relatedAddress = &net.UDPAddr{IP: rip, Port: rport}
		}
	}

	return c, nil
}

// Marshal renders a Description as the subset of SDP lines this agent
// cares about: ice-ufrag, ice-pwd, one candidate line per candidate, and
// an end-of-candidates marker if finished.
func (d *Description) Marshal() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\r\n", lineUFrag, d.UFrag)
	fmt.Fprintf(&b, "%s%s\r\n", linePassword, d.Password)
	for _, c := range d.candidates {
		if c.kind == PeerReflexive {
			// Peer-reflexive candidates are local discoveries, never
			// advertised to the other side (§4.3).
			continue
		}
		fmt.Fprintf(&b, "%s\r\n", EncodeCandidate(c))
	}
	if d.finished {
		fmt.Fprintf(&b, "%s\r\n", lineEndOfCandidates)
	}
	return b.String()
}

// ParseDescription parses the lines produced by Marshal (or an
// equivalent external SDP collaborator) into a Description.
func ParseDescription(sdp string) (*Description, error) {
	d := newDescription()
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, lineUFrag):
			d.UFrag = strings.TrimPrefix(line, lineUFrag)
		case strings.HasPrefix(line, linePassword):
			d.Password = strings.TrimPrefix(line, linePassword)
		case strings.HasPrefix(line, lineCandidate):
			c, err := parseCandidateLine(line)
			if err != nil {
				return nil, err
			}
			if _, ok := d.addCandidate(c); !ok {
				// Cap exceeded for this kind; drop silently, per §3's
				// bounded candidate lists.
				continue
			}
		case line == lineEndOfCandidates:
			d.finished = true
		}
	}
	return d, nil
}
