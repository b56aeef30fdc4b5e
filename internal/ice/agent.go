package ice

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
	"github.com/AltFreq07/libjuice/internal/dispatch"
	"github.com/AltFreq07/libjuice/internal/util"
)

// ufragLen and pwdLen satisfy RFC 8445 §5.3's minimum entropy requirements
// (ufrag at least 24 bits, password at least 128 bits) with comfortable
// margin, matching the lengths ICE implementations conventionally use.
const (
	ufragLen = 8
	pwdLen   = 24
)

// globalFailureTimeout is the maximum time an agent waits, from the start
// of checking, for a pair to be nominated before declaring ConnectionStateFailed,
// per spec.md §4.4.
const globalFailureTimeout = 30 * time.Second

// keepAliveBase and keepAliveJitter bound the interval between STUN
// Binding indications sent on the nominated pair, per spec.md §4.4.
const (
	keepAliveBase   = 15 * time.Second
	keepAliveJitter = 5 * time.Second
)

// NominationMode selects how the controlling agent marks a pair as the one
// to use, per RFC 8445 §8.1.
type NominationMode int

const (
	// NominationRegular waits for a pair to succeed, then sends a second,
	// USE-CANDIDATE-bearing request on it before declaring it nominated.
	NominationRegular NominationMode = iota
	// NominationAggressive sets USE-CANDIDATE on every check from the
	// start; the first pair to succeed is immediately nominated.
	NominationAggressive
)

// Config configures a new Agent. Gathering itself — enumerating local
// addresses, binding sockets, talking to STUN/TURN servers — is driven by
// the caller (package juice) and reported back through
// BeginGathering/AddHostCandidate/etc.; this Config only covers what the
// check-list state machine needs directly.
type Config struct {
	LoggerFactory logging.LoggerFactory
	Dispatcher    *dispatch.Dispatcher
	Primitives    cryptoprim.Primitives
	Nomination    NominationMode
}

// Agent is a single ICE component's connection checker. All mutable state
// is touched only from commands run through disp, so none of it needs its
// own lock (spec.md §5 / §9).
type Agent struct {
	log  logging.LeveledLogger
	disp *dispatch.Dispatcher
	prim cryptoprim.Primitives

	role       Role
	tieBreaker uint64
	nomination NominationMode

	localUfrag, localPwd   string
	remoteUfrag, remotePwd string

	candidates       []Candidate
	remoteCandidates []Candidate
	checklist        CheckList

	state                ConnectionState
	gatheringState       GatheringState
	gatheringOutstanding int
	nominatedPair        int // index into checklist.Pairs, -1 if none

	// transports holds the per-local-candidate Transport (parallel to
	// candidates): checks and responses sent from a given local candidate go
	// out over its own socket, which matters once an agent gathers more than
	// one (host plus relayed, say). defaultTransport is used for indices that
	// have none registered, which covers the common single-socket agent.
	transports       []Transport
	defaultTransport Transport

	onStateChange   func(ConnectionState)
	onCandidate     func(Candidate)
	onGatheringDone func()
	onData          func([]byte)

	cancelFailureTimer func()
	cancelKeepAlive     func()
}

// NewAgent creates an Agent in RoleControlling by default; the caller
// switches it with SetRole before checks begin if the signaling layer
// assigned the controlled role instead (spec.md §4.4).
func NewAgent(cfg Config) (*Agent, error) {
	ufrag, err := util.RandomCredential(ufragLen)
	if err != nil {
		return nil, errors.Wrap(err, "ice: generate local ufrag")
	}
	pwd, err := util.RandomCredential(pwdLen)
	if err != nil {
		return nil, errors.Wrap(err, "ice: generate local password")
	}

	a := &Agent{
		log:           cfg.LoggerFactory.NewLogger("ice"),
		disp:          cfg.Dispatcher,
		prim:          cfg.Primitives,
		role:          RoleControlling,
		tieBreaker:    util.RandomUint64(),
		nomination:    cfg.Nomination,
		localUfrag:    ufrag,
		localPwd:      pwd,
		state:         ConnectionStateNew,
		nominatedPair: -1,
	}
	return a, nil
}

// SetRole overrides the agent's role before checking begins. Changing role
// after checks have started should instead go through a role-conflict
// resolution (role.go), not this setter.
func (a *Agent) SetRole(r Role) {
	a.disp.Submit(func() { a.role = r })
}

// SetRemoteCredentials records the peer's ICE ufrag/password, learned out
// of band (typically from the offer/answer carried over a signaling
// channel outside this module's scope).
func (a *Agent) SetRemoteCredentials(ufrag, pwd string) {
	a.disp.Submit(func() {
		a.remoteUfrag = ufrag
		a.remotePwd = pwd
	})
}

// LocalCredentials returns this agent's ufrag/password to be carried in
// the local session description.
func (a *Agent) LocalCredentials() (ufrag, pwd string) {
	return a.localUfrag, a.localPwd
}

func (a *Agent) setState(s ConnectionState) {
	if a.state == s {
		return
	}
	a.state = s
	if a.onStateChange != nil {
		a.onStateChange(s)
	}
}

// OnStateChange registers a callback invoked whenever ConnectionState
// changes. It must be set before gathering/checking starts.
func (a *Agent) OnStateChange(f func(ConnectionState)) { a.onStateChange = f }

// OnCandidate registers a callback invoked once per gathered local
// candidate.
func (a *Agent) OnCandidate(f func(Candidate)) { a.onCandidate = f }

// OnGatheringDone registers a callback invoked once gathering completes.
func (a *Agent) OnGatheringDone(f func()) { a.onGatheringDone = f }

// OnData registers a callback invoked for each application datagram
// received on the nominated pair.
func (a *Agent) OnData(f func([]byte)) { a.onData = f }

// addLocalCandidate appends c and returns its stable index, firing
// OnCandidate. Must run on the dispatcher goroutine.
func (a *Agent) addLocalCandidate(c Candidate) int {
	idx := len(a.candidates)
	a.candidates = append(a.candidates, c)
	if a.onCandidate != nil {
		a.onCandidate(c)
	}
	a.formPairsForLocal(idx)
	return idx
}

// AddRemoteCandidate adds a candidate learned from the peer's session
// description (or trickled later) and forms check-list pairs against
// every existing local candidate of the same address family.
func (a *Agent) AddRemoteCandidate(c Candidate) {
	a.disp.Submit(func() {
		idx := len(a.remoteCandidates)
		a.remoteCandidates = append(a.remoteCandidates, c)
		a.formPairsForRemote(idx)
	})
}

func (a *Agent) formPairsForLocal(localIdx int) {
	local := a.candidates[localIdx]
	for remoteIdx, remote := range a.remoteCandidates {
		a.maybeAddPair(localIdx, local, remoteIdx, remote)
	}
}

func (a *Agent) formPairsForRemote(remoteIdx int) {
	remote := a.remoteCandidates[remoteIdx]
	for localIdx, local := range a.candidates {
		a.maybeAddPair(localIdx, local, remoteIdx, remote)
	}
}

func (a *Agent) maybeAddPair(localIdx int, local Candidate, remoteIdx int, remote Candidate) {
	if sameFamily(local.Address, remote.Address) {
		foundation := local.Foundation + remote.Foundation
		a.checklist.Add(localIdx, remoteIdx, local.Priority, remote.Priority, a.role == RoleControlling, foundation)
	}
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}

// LocalCandidates returns a snapshot of gathered local candidates.
func (a *Agent) LocalCandidates() []Candidate {
	var out []Candidate
	a.disp.Submit(func() {
		out = append(out, a.candidates...)
	})
	return out
}

// State returns the current connection state.
func (a *Agent) State() ConnectionState {
	var s ConnectionState
	a.disp.Submit(func() { s = a.state })
	return s
}

// NominatedPair returns the currently nominated candidate pair, if any.
func (a *Agent) NominatedPair() (CandidatePair, bool) {
	var pair CandidatePair
	var ok bool
	a.disp.Submit(func() {
		if a.nominatedPair >= 0 {
			pair, ok = a.checklist.Pairs[a.nominatedPair], true
		}
	})
	return pair, ok
}

// RunLocked executes fn on the agent's single dispatcher goroutine, the
// same serialization every exported method already gets itself. Package
// juice's socket read loops use it to call HandleIncomingRequest without
// introducing locking of their own.
func (a *Agent) RunLocked(fn func()) {
	a.disp.Submit(fn)
}

// DeliverApplicationData hands payload to the OnData callback, but only
// when localIdx is the local candidate of the currently nominated pair
// (spec.md §4.5): data arriving on any other candidate is discarded, since
// only the selected pair is a valid application data path.
func (a *Agent) DeliverApplicationData(localIdx int, payload []byte) {
	a.disp.Submit(func() {
		if a.nominatedPair < 0 {
			return
		}
		if a.checklist.Pairs[a.nominatedPair].Local != localIdx {
			return
		}
		if a.onData != nil {
			a.onData(payload)
		}
	})
}

func (a *Agent) String() string {
	return fmt.Sprintf("ice.Agent{role=%s state=%s pairs=%d}", a.role, a.state, len(a.checklist.Pairs))
}
