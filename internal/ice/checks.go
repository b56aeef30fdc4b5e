package ice

import (
	"context"
	"encoding/binary"
	"net"

	"github.com/AltFreq07/libjuice/internal/stunmsg"
	"github.com/AltFreq07/libjuice/internal/util"
)

// SetTransport binds the Transport used to send checks/responses from the
// local candidate at localIdx, or the fallback used for any candidate
// without one of its own when localIdx is -1. Must be called before
// StartChecking for every local candidate a check might be sent from.
func (a *Agent) SetTransport(localIdx int, t Transport) {
	a.disp.Submit(func() {
		if localIdx < 0 {
			a.defaultTransport = t
			return
		}
		for len(a.transports) <= localIdx {
			a.transports = append(a.transports, nil)
		}
		a.transports[localIdx] = t
	})
}

func (a *Agent) transportFor(localIdx int) Transport {
	if localIdx >= 0 && localIdx < len(a.transports) && a.transports[localIdx] != nil {
		return a.transports[localIdx]
	}
	return a.defaultTransport
}

// StartChecking begins the ordinary-check schedule (RFC 8445 §6.1.4): one
// pair per foundation group is thawed immediately, and a global failure
// timeout is armed.
func (a *Agent) StartChecking(ctx context.Context) {
	a.disp.Submit(func() {
		a.checklist.UnfreezeFirstOfEachFoundation()
		a.setState(ConnectionStateChecking)
		a.cancelFailureTimer = a.disp.AfterFunc(globalFailureTimeout, func() {
			if a.nominatedPair < 0 {
				a.setState(ConnectionStateFailed)
			}
		})
		a.pumpChecks(ctx)
	})
}

// pumpChecks fires off every currently-Waiting pair. It must run on the
// dispatcher goroutine. New pairs thawed later (on triggered checks or
// foundation unfreeze) call this again.
func (a *Agent) pumpChecks(ctx context.Context) {
	for {
		idx := a.checklist.NextWaiting()
		if idx < 0 {
			return
		}
		a.checklist.Pairs[idx].State = PairInProgress
		a.runCheck(ctx, idx, a.nomination == NominationAggressive)
	}
}

// runCheck sends one Binding request for pair idx and handles its outcome
// asynchronously; the transport's RoundTrip call is expected to run on its
// own goroutine and hand the result back via a.disp.Submit so it is
// processed on the dispatcher goroutine like everything else.
func (a *Agent) runCheck(ctx context.Context, idx int, useCandidate bool) {
	pair := a.checklist.Pairs[idx]
	local := a.candidates[pair.Local]
	remote := a.candidates2(pair.Remote)

	req, err := a.buildCheckRequest(local, remote, useCandidate)
	if err != nil {
		a.log.Warnf("ice: build check request: %v", err)
		a.checklist.Pairs[idx].State = PairFailed
		return
	}

	dst := &net.UDPAddr{IP: remote.Address, Port: remote.Port}
	key := []byte(a.remotePwd)
	transport := a.transportFor(pair.Local)

	go func() {
		resp, err := transport.RoundTrip(ctx, req, dst, key)
		a.disp.Submit(func() {
			a.handleCheckResult(ctx, idx, resp, err, useCandidate)
		})
	}()
}

// candidates2 is a small indirection kept distinct from Agent.candidates
// (local) to make clear at call sites which list an index refers to.
func (a *Agent) candidates2(remoteIdx int) Candidate {
	return a.remoteCandidates[remoteIdx]
}

func (a *Agent) buildCheckRequest(local, remote Candidate, useCandidate bool) (*stunmsg.Message, error) {
	txID, err := stunmsg.NewTransactionID(a.prim.Random)
	if err != nil {
		return nil, err
	}
	m := stunmsg.New(stunmsg.ClassRequest, stunmsg.MethodBinding, txID)
	m.Add(stunmsg.AttrUsername, []byte(a.remoteUfrag+":"+a.localUfrag))

	// PRIORITY carries the priority this candidate would have if the peer
	// learns it as peer-reflexive (RFC 8445 §7.1.1): same component and
	// local preference, but the peer-reflexive type preference.
	prflxPriority := Priority(CandidateTypePeerReflexive, localPreferenceOf(local), local.Component)
	pb := make([]byte, 4)
	binary.BigEndian.PutUint32(pb, prflxPriority)
	m.Add(stunmsg.AttrPriority, pb)

	tb := make([]byte, 8)
	binary.BigEndian.PutUint64(tb, a.tieBreaker)
	if a.role == RoleControlling {
		m.Add(stunmsg.AttrIceControlling, tb)
		if useCandidate {
			m.Add(stunmsg.AttrUseCandidate, nil)
		}
	} else {
		m.Add(stunmsg.AttrIceControlled, tb)
	}
	return m, nil
}

// localPreferenceOf recovers the local-preference term that was folded
// into a candidate's priority at gather time, used when re-deriving a
// peer-reflexive priority for PRIORITY attributes on outgoing checks.
func localPreferenceOf(c Candidate) int {
	return int((c.Priority >> 8) & 0xffff)
}

func (a *Agent) handleCheckResult(ctx context.Context, idx int, resp *stunmsg.Message, err error, nominating bool) {
	if idx >= len(a.checklist.Pairs) {
		return // idx does not name a formed pair
	}
	if err != nil || resp.Class == stunmsg.ClassErrorResponse {
		a.checklist.Pairs[idx].State = PairFailed
		a.checkForFailure()
		return
	}

	foundation := a.checklist.Pairs[idx].foundation
	localIdx := a.checklist.Pairs[idx].Local
	remoteIdx := a.checklist.Pairs[idx].Remote
	local := a.candidates[localIdx]

	// RFC 8445 §7.2.5.3.1: if the response's mapped address does not match
	// the local candidate the check was sent from, a new local
	// peer-reflexive candidate has been discovered; the pair that actually
	// succeeded is the one built from it, not the original pair.
	succeededIdx := idx
	if mapped, ok := resp.Get(stunmsg.AttrXorMappedAddress); ok {
		if mappedIP, mappedPort, derr := stunmsg.DecodeXorAddress(mapped.Value, resp.TransactionID); derr == nil {
			if !(mappedIP.Equal(local.Address) && mappedPort == local.Port) {
				if discovered := a.discoverPeerReflexiveLocal(localIdx, remoteIdx, local, mappedIP, mappedPort); discovered >= 0 {
					succeededIdx = discovered
				}
			}
		}
	}

	a.checklist.Pairs[idx].State = PairSucceeded
	a.checklist.Pairs[succeededIdx].State = PairSucceeded
	a.checklist.UnfreezeFoundation(foundation)
	a.pumpChecks(ctx)

	switch {
	case a.role == RoleControlling && a.nomination == NominationAggressive:
		a.nominate(succeededIdx)
	case a.role == RoleControlling && nominating:
		a.nominate(succeededIdx)
	case a.role == RoleControlling && a.nomination == NominationRegular && a.nominatedPair < 0:
		a.scheduleNomination(ctx, succeededIdx)
	}
}

// discoverPeerReflexiveLocal implements RFC 8445 §7.2.5.3.1's local
// peer-reflexive candidate discovery: the mapped address reported by a
// successful check differs from the candidate that sent it, because a NAT
// between the agent and the peer rewrote the source address/port. The new
// candidate's base is the original candidate's base and its priority is
// the PRIORITY value the check itself advertised. Returns the index of the
// pair formed against remoteIdx for the (possibly newly discovered) local
// candidate, or -1 if no such pair exists.
func (a *Agent) discoverPeerReflexiveLocal(localIdx, remoteIdx int, local Candidate, mappedIP net.IP, mappedPort int) int {
	for i, c := range a.candidates {
		if c.Address.Equal(mappedIP) && c.Port == mappedPort {
			return a.findPair(i, remoteIdx)
		}
	}

	baseIP, basePort := local.Base()
	c := Candidate{
		Type:           CandidateTypePeerReflexive,
		Foundation:     Foundation(CandidateTypePeerReflexive, baseIP, "udp", "", local.networkID),
		Component:      local.Component,
		Address:        mappedIP,
		Port:           mappedPort,
		Priority:       Priority(CandidateTypePeerReflexive, localPreferenceOf(local), local.Component),
		RelatedAddress: baseIP,
		RelatedPort:    basePort,
		networkID:      local.networkID,
	}
	newIdx := a.addLocalCandidate(c)
	return a.findPair(newIdx, remoteIdx)
}

// findPair returns the check-list index of the pair (localIdx, remoteIdx),
// or -1 if it has not been formed.
func (a *Agent) findPair(localIdx, remoteIdx int) int {
	for i, p := range a.checklist.Pairs {
		if p.Local == localIdx && p.Remote == remoteIdx {
			return i
		}
	}
	return -1
}

func (a *Agent) checkForFailure() {
	if a.nominatedPair < 0 && a.checklist.AllTerminal() {
		a.setState(ConnectionStateFailed)
	}
}

// HandleIncomingRequest processes a Binding request received from src on
// the socket bound to the local candidate at localIdx. It is called by the
// Transport implementation's receive loop, already on the dispatcher
// goroutine (or wrapped in a.disp.Submit by the caller if not).
func (a *Agent) HandleIncomingRequest(localIdx int, req *stunmsg.Message, src net.Addr) {
	if err := stunmsg.VerifyMessageIntegrity(req, []byte(a.localPwd), a.prim.HMAC); err != nil {
		a.log.Debugf("ice: rejecting check with bad integrity from %s: %v", src, err)
		return
	}

	if reject := a.resolveRoleFromRequest(req); reject {
		a.respondRoleConflict(localIdx, req, src)
		return
	}

	remoteIdx := a.learnPeerReflexive(localIdx, req, src)
	udpSrc, _ := src.(*net.UDPAddr)
	a.respondSuccess(localIdx, req, src)

	if udpSrc != nil {
		a.triggerCheck(localIdx, remoteIdx)
	}

	if _, hasUseCandidate := req.Get(stunmsg.AttrUseCandidate); hasUseCandidate && a.role == RoleControlled {
		a.nominateByAddr(localIdx, remoteIdx)
	}
}

func (a *Agent) resolveRoleFromRequest(req *stunmsg.Message) (reject487 bool) {
	if attr, ok := req.Get(stunmsg.AttrIceControlling); ok && a.role == RoleControlling {
		peerTB := binary.BigEndian.Uint64(attr.Value)
		newRole, reject := ResolveRoleConflict(a.role, a.tieBreaker, peerTB)
		a.role = newRole
		return reject
	}
	if attr, ok := req.Get(stunmsg.AttrIceControlled); ok && a.role == RoleControlled {
		peerTB := binary.BigEndian.Uint64(attr.Value)
		newRole, reject := ResolveRoleConflict(a.role, a.tieBreaker, peerTB)
		a.role = newRole
		return reject
	}
	return false
}

func (a *Agent) respondRoleConflict(localIdx int, req *stunmsg.Message, src net.Addr) {
	resp := stunmsg.New(stunmsg.ClassErrorResponse, stunmsg.MethodBinding, req.TransactionID)
	resp.Add(stunmsg.AttrErrorCode, stunmsg.EncodeErrorCode(4, 87, "Role Conflict"))
	_ = a.transportFor(localIdx).Respond(resp, src, []byte(a.localPwd))
}

func (a *Agent) respondSuccess(localIdx int, req *stunmsg.Message, src net.Addr) {
	udp, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}
	resp := stunmsg.New(stunmsg.ClassSuccessResponse, stunmsg.MethodBinding, req.TransactionID)
	resp.Add(stunmsg.AttrXorMappedAddress, stunmsg.EncodeXorAddress(udp.IP, udp.Port, req.TransactionID))
	_ = a.transportFor(localIdx).Respond(resp, src, []byte(a.localPwd))
}

// learnPeerReflexive implements RFC 8445 §7.3.1.3: if src does not match
// any known remote candidate, it is a new peer-reflexive candidate learned
// from this request, added with the priority the request declared.
func (a *Agent) learnPeerReflexive(localIdx int, req *stunmsg.Message, src net.Addr) int {
	udp, ok := src.(*net.UDPAddr)
	if !ok {
		return -1
	}
	for i, c := range a.remoteCandidates {
		if c.Address.Equal(udp.IP) && c.Port == udp.Port {
			return i
		}
	}

	priority := uint32(0)
	if attr, ok := req.Get(stunmsg.AttrPriority); ok && len(attr.Value) == 4 {
		priority = binary.BigEndian.Uint32(attr.Value)
	}
	c := Candidate{
		Type:       CandidateTypePeerReflexive,
		Foundation: Foundation(CandidateTypePeerReflexive, udp.IP, "udp", "", localIdx),
		Component:  1,
		Address:    udp.IP,
		Port:       udp.Port,
		Priority:   priority,
	}
	idx := len(a.remoteCandidates)
	a.remoteCandidates = append(a.remoteCandidates, c)
	a.formPairsForRemote(idx)
	return idx
}

// triggerCheck moves the pair (localIdx, remoteIdx), if it exists and is
// not already in progress or succeeded, to the front of the queue (RFC
// 8445 §7.3.1.4): set it Waiting and run the checks immediately.
func (a *Agent) triggerCheck(localIdx, remoteIdx int) {
	for i := range a.checklist.Pairs {
		p := &a.checklist.Pairs[i]
		if p.Local == localIdx && p.Remote == remoteIdx && p.State != PairInProgress && p.State != PairSucceeded {
			p.State = PairWaiting
			a.pumpChecks(context.Background())
			return
		}
	}
}

func (a *Agent) nominateByAddr(localIdx, remoteIdx int) {
	for i, p := range a.checklist.Pairs {
		if p.Local == localIdx && p.Remote == remoteIdx {
			a.nominate(i)
			return
		}
	}
}

func (a *Agent) scheduleNomination(ctx context.Context, idx int) {
	a.runCheck(ctx, idx, true)
}

func (a *Agent) nominate(idx int) {
	if a.nominatedPair >= 0 {
		return
	}
	a.nominatedPair = idx
	a.checklist.Pairs[idx].Nominated = true
	if a.cancelFailureTimer != nil {
		a.cancelFailureTimer()
	}
	a.setState(ConnectionStateConnected)
	a.setState(ConnectionStateCompleted)
	a.startKeepAlive(idx)
}

// startKeepAlive arms a recurring STUN Binding indication on the nominated
// pair (spec.md §4.4), re-scheduling itself after every send with fresh
// jitter so consecutive keep-alives don't fall into lockstep with the
// peer's. a.cancelKeepAlive holds the cancel function of the pending
// keep-alive; nothing in this package calls it, so keep-alives continue
// until the dispatcher stops running.
func (a *Agent) startKeepAlive(idx int) {
	var arm func()
	arm = func() {
		a.cancelKeepAlive = a.disp.AfterFunc(util.Jitter(keepAliveBase, keepAliveJitter), func() {
			a.sendKeepAlive(idx)
			arm()
		})
	}
	arm()
}

func (a *Agent) sendKeepAlive(idx int) {
	if idx >= len(a.checklist.Pairs) {
		return
	}
	pair := a.checklist.Pairs[idx]
	remote := a.remoteCandidates[pair.Remote]
	txID, err := stunmsg.NewTransactionID(a.prim.Random)
	if err != nil {
		a.log.Warnf("ice: build keepalive: %v", err)
		return
	}
	m := stunmsg.New(stunmsg.ClassIndication, stunmsg.MethodBinding, txID)
	raw, err := stunmsg.Encode(m, a.prim, nil)
	if err != nil {
		a.log.Warnf("ice: encode keepalive: %v", err)
		return
	}
	dst := &net.UDPAddr{IP: remote.Address, Port: remote.Port}
	if err := a.transportFor(pair.Local).SendData(raw, dst); err != nil {
		a.log.Debugf("ice: keepalive send on pair %d: %v", idx, err)
	}
}

// SendData sends payload to the peer over the nominated pair. It returns
// an error if no pair has been nominated yet.
func (a *Agent) SendData(payload []byte) error {
	var err error
	a.disp.Submit(func() {
		if a.nominatedPair < 0 {
			err = errNotConnected
			return
		}
		pair := a.checklist.Pairs[a.nominatedPair]
		remote := a.remoteCandidates[pair.Remote]
		dst := &net.UDPAddr{IP: remote.Address, Port: remote.Port}
		err = a.transportFor(pair.Local).SendData(payload, dst)
	})
	return err
}
