// Command icedemo exercises a single ice.Agent end to end: it gathers
// candidates, prints the local description to stdout, reads a remote
// description from stdin (copy/paste signaling, same as the gather-then-
// paste flow used throughout the pion examples), and once connected
// echoes whatever it receives back to the peer.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/lanikai/iceagent"
)

var (
	flagStunHost = pflag.String("stun-host", "", "STUN server hostname for server-reflexive discovery")
	flagStunPort = pflag.Int("stun-port", 3478, "STUN server port")
	flagTurnHost = pflag.String("turn-host", "", "TURN server hostname")
	flagTurnPort = pflag.Int("turn-port", 3478, "TURN server port")
	flagTurnUser = pflag.String("turn-user", "", "TURN server username")
	flagTurnPass = pflag.String("turn-pass", "", "TURN server password")
	flagPortMin  = pflag.Uint16("port-min", 0, "lower bound of the local UDP port range")
	flagPortMax  = pflag.Uint16("port-max", 0, "upper bound of the local UDP port range")
	flagControl  = pflag.Bool("controlling", false, "act as the controlling agent")
)

func init() {
	pflag.Parse()
}

func main() {
	config := ice.Config{
		StunServerHost: *flagStunHost,
		StunServerPort: *flagStunPort,
		LocalPorts:     ice.PortRange{Begin: *flagPortMin, End: *flagPortMax},
	}
	if *flagTurnHost != "" {
		config.TurnServers = append(config.TurnServers, ice.TurnServerConfig{
			Host:     *flagTurnHost,
			Port:     *flagTurnPort,
			Username: *flagTurnUser,
			Password: *flagTurnPass,
		})
	}

	agent, err := ice.NewAgent(config)
	if err != nil {
		fatal("create agent: %s", err)
	}
	defer agent.Close()

	agent.OnCandidate(func(c ice.Candidate) {
		color.Yellow("local candidate: %s", c)
	})
	agent.OnStateChange(func(s ice.ConnectionState) {
		color.Cyan("state: %s", s)
	})
	agent.OnDatagram(func(data []byte) {
		color.Green("received %d bytes: %q", len(data), data)
		if err := agent.Send(data); err != nil {
			color.Red("echo failed: %s", err)
		}
	})

	if *flagControl {
		color.Cyan("running as controlling agent")
	}

	gatheringDone := make(chan struct{})
	agent.OnGatheringDone(func() { close(gatheringDone) })

	if err := agent.Gather(); err != nil {
		fatal("gather: %s", err)
	}

	select {
	case <-gatheringDone:
	case <-time.After(5 * time.Second):
	}

	fmt.Println("-- local description, paste into the peer --")
	fmt.Println(agent.LocalDescription().Marshal())
	fmt.Println("-- paste the peer's description below, then a blank line --")

	remote := readRemoteDescription()
	if err := agent.SetRemoteDescription(remote); err != nil {
		fatal("set remote description: %s", err)
	}

	for {
		time.Sleep(time.Second)
		if local, remoteCand, ok := agent.GetSelectedCandidatePair(); ok {
			color.Magenta("selected pair: %s <-> %s", local, remoteCand)
		}
		if agent.State() == ice.Failed {
			fatal("connection failed")
		}
	}
}

func readRemoteDescription() string {
	var lines []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func fatal(format string, args ...interface{}) {
	color.Red(format, args...)
	os.Exit(1)
}
