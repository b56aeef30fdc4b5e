// Package juice is the public façade over internal/ice, internal/turn and
// internal/transport: it wires one Agent's socket, STUN/TURN servers, and
// dispatcher together, and exposes the session-description text block
// (spec.md §6) embedding applications exchange over their own signaling
// channel. The agent state machine, STUN codec and TURN client themselves
// live in internal/ — this package only assembles them.
package juice

import (
	"github.com/pion/logging"

	"github.com/AltFreq07/libjuice/internal/ice"
)

// ConcurrencyMode selects how the dispatcher underneath an Agent is driven,
// per spec.md §6's configuration surface.
type ConcurrencyMode int

const (
	// ConcurrencyPoll runs the dispatcher's event loop on a dedicated
	// goroutine, multiplexing socket reads, timers and Submit'd commands.
	ConcurrencyPoll ConcurrencyMode = iota
	// ConcurrencyEventFD is accepted for configuration-surface parity with
	// spec.md §6's event-fd mode; Go's runtime-multiplexed network poller
	// already gives ConcurrencyPoll the same non-blocking behavior an
	// event-fd based loop would provide by hand, so both modes currently
	// select the same goroutine-backed Dispatcher.
	ConcurrencyEventFD
)

// PortRange is an inclusive local UDP port range to bind within; the zero
// value means "let the OS choose" (spec.md §6).
type PortRange struct {
	Begin, End uint16
}

// TURNServer names one relay server and the long-term credential to
// authenticate against it.
type TURNServer struct {
	Host     string
	Port     int
	Username string
	Password string
	Realm    string // not read: the realm is always learned from the server's 401
}

// Config configures a new Agent. Every field mirrors an entry of spec.md
// §6's enumerated configuration surface.
type Config struct {
	// STUNServer is host:port of a STUN server used for server-reflexive
	// gathering. Empty disables srflx gathering.
	STUNServer string

	// TURNServers lists relay servers used for relayed-candidate gathering.
	TURNServers []TURNServer

	// PortRange (or the LocalPortRangeBegin/End alternative form) bounds
	// local socket binding; the zero value lets the OS pick ephemeral
	// ports.
	PortRange             PortRange
	LocalPortRangeBegin   uint16
	LocalPortRangeEnd     uint16

	ConcurrencyMode ConcurrencyMode

	// BindAddress, when set, restricts host-candidate gathering to this
	// single address instead of enumerating every local interface — used
	// by tests to force loopback-only agents (spec.md §8 scenario 1).
	BindAddress string

	// Controlling is not read by NewAgent: the agent's initial ICE role
	// (controlling for the offerer, per RFC 8445 §6.1.1) is set by
	// NewAgent's controlling parameter alone.
	Controlling bool

	// Aggressive selects aggressive nomination (spec.md §4.3): USE-CANDIDATE
	// is set on every outgoing check instead of only the nominating one.
	Aggressive bool

	LoggerFactory logging.LoggerFactory
}

func (c Config) effectivePortRange() (begin, end uint16) {
	if c.PortRange.Begin != 0 || c.PortRange.End != 0 {
		return c.PortRange.Begin, c.PortRange.End
	}
	return c.LocalPortRangeBegin, c.LocalPortRangeEnd
}

func (c Config) nomination() ice.NominationMode {
	if c.Aggressive {
		return ice.NominationAggressive
	}
	return ice.NominationRegular
}

func (c Config) loggerFactory() logging.LoggerFactory {
	if c.LoggerFactory != nil {
		return c.LoggerFactory
	}
	return logging.NewDefaultLoggerFactory()
}
