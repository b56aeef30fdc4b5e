package ice

import "fmt"

// ConnectionState is the agent's overall connectivity state, mirroring
// RFC 8445 §2's state machine as exposed to the caller (spec.md §6).
type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateGathering
	ConnectionStateChecking
	ConnectionStateConnected
	ConnectionStateCompleted
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateGathering:
		return "gathering"
	case ConnectionStateChecking:
		return "checking"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateCompleted:
		return "completed"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// GatheringState tracks candidate gathering progress independently of
// ConnectionState, since gathering and checking can overlap once the
// first candidate pairs are known (RFC 8445 §5.3).
type GatheringState int

const (
	GatheringStateNew GatheringState = iota
	GatheringStateGathering
	GatheringStateComplete
)

func (s GatheringState) String() string {
	switch s {
	case GatheringStateNew:
		return "new"
	case GatheringStateGathering:
		return "gathering"
	case GatheringStateComplete:
		return "complete"
	default:
		return fmt.Sprintf("gatheringstate(%d)", int(s))
	}
}
