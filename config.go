package ice

import "github.com/pion/logging"

// TurnServerConfig describes one configured TURN server (§6
// "Configuration").
type TurnServerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// PortRange is the local UDP port range the agent's socket is bound
// within (§6).
type PortRange struct {
	Begin, End uint16
}

// Config is the Agent's configuration surface (§6). STUN/TURN server
// resolution, logging, and randomness are external collaborators; only
// the plain data needed to drive them lives here.
type Config struct {
	// StunServerHost/StunServerPort are optional; leave Host empty to
	// skip server-reflexive discovery entirely.
	StunServerHost string
	StunServerPort int

	TurnServers []TurnServerConfig

	LocalPorts PortRange

	// LoggerFactory supplies the leveled logger used throughout the core
	// (§1 "Logging ... external collaborators"). Defaults to
	// logging.NewDefaultLoggerFactory() when nil.
	LoggerFactory logging.LoggerFactory

	// candidateCallback, etc. are not part of Config: they are set via
	// Agent.OnCandidate/OnStateChange/OnGatheringDone/OnDatagram so that
	// callers can attach them before or after NewAgent.
}

func (c Config) validate() error {
	if len(c.TurnServers) > maxTurnServers {
		return ErrTooManyTurnServers
	}
	if c.LocalPorts.Begin != 0 || c.LocalPorts.End != 0 {
		if c.LocalPorts.Begin > c.LocalPorts.End {
			return ErrInvalidPortRange
		}
	}
	return nil
}

func (c Config) loggerFactory() logging.LoggerFactory {
	if c.LoggerFactory != nil {
		return c.LoggerFactory
	}
	return logging.NewDefaultLoggerFactory()
}
