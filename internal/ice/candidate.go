// Package ice implements a userspace ICE (RFC 8445) agent: candidate
// gathering, foundation and priority computation, check list construction
// and connectivity checks, role/tie-break resolution, nomination and
// keep-alives. It drives internal/stunmsg for the wire format; it does not
// talk to TURN servers itself: the caller (package juice, through
// internal/turn) obtains relayed candidates and adds them to the agent.
package ice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
)

// CandidateType is the ICE candidate type (RFC 8445 §5.1.1.1).
type CandidateType int

const (
	CandidateTypeHost CandidateType = iota + 1
	CandidateTypeServerReflexive
	CandidateTypePeerReflexive
	CandidateTypeRelay
)

// This is done this way because of a linter.
const (
	candidateTypeHostStr  = "host"
	candidateTypeSrflxStr = "srflx"
	candidateTypePrflxStr = "prflx"
	candidateTypeRelayStr = "relay"
)

func (t CandidateType) String() string {
	switch t {
	case CandidateTypeHost:
		return candidateTypeHostStr
	case CandidateTypeServerReflexive:
		return candidateTypeSrflxStr
	case CandidateTypePeerReflexive:
		return candidateTypePrflxStr
	case CandidateTypeRelay:
		return candidateTypeRelayStr
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// NewCandidateType parses the wire-form candidate type token.
func NewCandidateType(raw string) (CandidateType, error) {
	switch raw {
	case candidateTypeHostStr:
		return CandidateTypeHost, nil
	case candidateTypeSrflxStr:
		return CandidateTypeServerReflexive, nil
	case candidateTypePrflxStr:
		return CandidateTypePeerReflexive, nil
	case candidateTypeRelayStr:
		return CandidateTypeRelay, nil
	default:
		return 0, fmt.Errorf("ice: unknown candidate type %q", raw)
	}
}

// typePreference is RFC 8445 §5.1.2.1's recommended per-type preference,
// used as the high-order term of the priority formula.
func (t CandidateType) typePreference() int {
	switch t {
	case CandidateTypeHost:
		return 126
	case CandidateTypePeerReflexive:
		return 110
	case CandidateTypeServerReflexive:
		return 100
	case CandidateTypeRelay:
		return 0
	default:
		return 0
	}
}

// Candidate is one gathered transport address, identified by its stable
// index into Agent.candidates (see spec.md §3): appends never invalidate
// an index already handed out, unlike a pointer into a slice that may
// reallocate, and unlike a pointer that may be shared accidentally between
// the agent's internal state and a caller's copy.
type Candidate struct {
	Type           CandidateType
	Foundation     string
	Component      int
	Address        net.IP
	Port           int
	Priority       uint32
	RelatedAddress net.IP // base address for srflx/relay/prflx, per RFC 8445 §5.1.1
	RelatedPort    int

	// networkID distinguishes candidates gathered from different local
	// interfaces/address families when computing foundations, per RFC 8445
	// §5.1.1.3.
	networkID int
}

// Foundation computes the foundation string for a candidate gathered from
// baseAddr on the network identified by networkID, talking to a server
// (STUN/TURN) at serverAddr (empty for host candidates). RFC 8445 §5.1.1.3
// requires foundations to be equal only when type, base, and server all
// match; this implementation hashes type, base, protocol, server and
// networkID with SHA-256 and keeps the first 4 bytes (8 hex characters),
// which keeps SDP candidate lines short
// while the collision probability stays negligible for any single session.
func Foundation(t CandidateType, baseAddr net.IP, protocol string, serverAddr string, networkID int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", t, baseAddr.String(), protocol, serverAddr, networkID)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:4])
}

// Priority computes the RFC 8445 §5.1.2.1 candidate priority:
// (2^24)*type-preference + (2^8)*local-preference + (256-component).
func Priority(t CandidateType, localPreference int, component int) uint32 {
	return uint32(t.typePreference())<<24 | uint32(localPreference)<<8 | uint32(256-component)
}

// Base returns the local source address packets for this candidate are
// sent from (spec.md §3): the candidate's own address for a host
// candidate, or RelatedAddress/RelatedPort for srflx/relay/prflx, which
// record the local socket the candidate was discovered through.
func (c Candidate) Base() (net.IP, int) {
	if c.Type == CandidateTypeHost {
		return c.Address, c.Port
	}
	return c.RelatedAddress, c.RelatedPort
}
