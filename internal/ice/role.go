package ice

import "fmt"

// Role is the ICE agent's role in the current session (RFC 8445 §6.1.1).
type Role int

const (
	RoleControlling Role = iota + 1
	RoleControlled
)

func (r Role) String() string {
	switch r {
	case RoleControlling:
		return "controlling"
	case RoleControlled:
		return "controlled"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ResolveRoleConflict implements RFC 8445 §7.3.1.1's tie-breaker
// comparison for a role conflict detected on an incoming request (the
// request's ICE-CONTROLLING/ICE-CONTROLLED value disagrees with the
// agent's own role). It returns the role the local agent should switch to,
// and whether the peer's request should be rejected with error 487
// (the local agent keeps its role and the peer is expected to switch).
//
// Per the RFC: if the agent is controlling and its tie-breaker is >= the
// peer's, the agent stays controlling and the peer's request is rejected
// with 487 Role Conflict. Otherwise the agent switches to controlled. The
// symmetric case applies when the agent is controlled.
func ResolveRoleConflict(localRole Role, localTieBreaker, peerTieBreaker uint64) (newRole Role, reject487 bool) {
	switch localRole {
	case RoleControlling:
		if localTieBreaker >= peerTieBreaker {
			return RoleControlling, true
		}
		return RoleControlled, false
	case RoleControlled:
		if localTieBreaker >= peerTieBreaker {
			return RoleControlled, true
		}
		return RoleControlling, false
	default:
		return localRole, false
	}
}
