package ice

import "fmt"

// PairState is a candidate pair's position in the check list state machine
// (RFC 8445 §6.1.2.6).
type PairState int

const (
	PairFrozen PairState = iota
	PairWaiting
	PairInProgress
	PairSucceeded
	PairFailed
)

func (s PairState) String() string {
	switch s {
	case PairFrozen:
		return "frozen"
	case PairWaiting:
		return "waiting"
	case PairInProgress:
		return "in-progress"
	case PairSucceeded:
		return "succeeded"
	case PairFailed:
		return "failed"
	default:
		return fmt.Sprintf("pairstate(%d)", int(s))
	}
}

// CandidatePair is referenced by the stable indices of its two candidates
// into Agent.candidates, not by pointer, for the same reason Candidate
// itself is appended-to rather than relocated (spec.md §3).
type CandidatePair struct {
	Local, Remote int // indices into Agent.candidates and Agent.remoteCandidates

	Priority  uint64
	State     PairState
	Nominated bool

	// foundation groups pairs for the freeze/unfreeze algorithm (RFC 8445
	// §6.1.2.5): the concatenation of the local and remote candidate
	// foundations.
	foundation string
}

// PairPriority computes RFC 8445 §6.1.2.3's pair priority formula.
// controllingIsLocal indicates whether the controlling agent's candidate
// is the "local" (G) side of this pair from the perspective of the agent
// computing it.
func PairPriority(localPriority, remotePriority uint32, controllingIsLocal bool) uint64 {
	g, d := uint64(localPriority), uint64(remotePriority)
	if !controllingIsLocal {
		g, d = d, g
	}
	min, max := g, d
	if min > max {
		min, max = max, min
	}
	extra := uint64(0)
	if g > d {
		extra = 1
	}
	return min<<32 + max<<1 + extra
}
