package ice

import (
	"net"
	"time"
)

// GatherTimeout bounds candidate gathering (spec.md §4.3): gathering ends
// once every outstanding STUN/TURN transaction has terminated, or this cap
// elapses, whichever comes first.
const GatherTimeout = 10 * time.Second

// BeginGathering arms the gathering-state bookkeeping. The caller (the
// façade package driving real sockets) is responsible for actually
// enumerating interfaces and running the STUN/TURN exchanges; this agent
// only tracks outstanding work so it knows when to declare
// GatheringStateComplete and fire OnGatheringDone.
func (a *Agent) BeginGathering(expected int) {
	a.disp.Submit(func() {
		a.gatheringState = GatheringStateGathering
		a.gatheringOutstanding = expected
		a.setState(ConnectionStateGathering)
		if expected == 0 {
			a.finishGathering()
		}
	})
}

// GatheringDone reports a single gathering transaction (a server-reflexive
// Binding or a TURN Allocate) having terminated, successfully or not. Once
// every expected transaction has reported in, gathering completes.
func (a *Agent) GatheringDone() {
	a.disp.Submit(func() {
		if a.gatheringOutstanding > 0 {
			a.gatheringOutstanding--
		}
		if a.gatheringOutstanding == 0 {
			a.finishGathering()
		}
	})
}

func (a *Agent) finishGathering() {
	if a.gatheringState == GatheringStateComplete {
		return
	}
	a.gatheringState = GatheringStateComplete
	if a.onGatheringDone != nil {
		a.onGatheringDone()
	}
}

// localPreferenceForFamily assigns the RFC 8445 §5.1.2.2 local-preference
// term: a candidate that is the only one of its kind gets the maximum
// 65535 (spec.md §8's literal-priority test depends on this for the
// single-interface case); when several candidates of the same family
// compete, earlier entries in the enumeration order handed in by the
// caller are preferred over later ones, there being no better signal for
// interface desirability once loopback/link-local addresses are already
// excluded (spec.md §4.4).
func localPreferenceForFamily(ordinal, totalOfFamily int) int {
	const maxPref = 65535
	if totalOfFamily <= 1 {
		return maxPref
	}
	step := maxPref / totalOfFamily
	pref := maxPref - ordinal*step
	if pref < 1 {
		pref = 1
	}
	return pref
}

// AddHostCandidate registers a host candidate discovered on addr (a local
// socket's bound address), computing its priority from ordinal/totalOfFamily
// (its position among other local addresses of the same family, used for
// the local-preference term). networkID distinguishes candidates bound on
// different local interfaces for foundation purposes (RFC 8445 §5.1.1.3).
func (a *Agent) AddHostCandidate(addr net.IP, port int, networkID, ordinal, totalOfFamily int) (Candidate, int) {
	var c Candidate
	var idx int
	a.disp.Submit(func() {
		localPref := localPreferenceForFamily(ordinal, totalOfFamily)
		c = Candidate{
			Type:       CandidateTypeHost,
			Foundation: Foundation(CandidateTypeHost, addr, "udp", "", networkID),
			Component:  1,
			Address:    addr,
			Port:       port,
			Priority:   Priority(CandidateTypeHost, localPref, 1),
			networkID:  networkID,
		}
		idx = a.addLocalCandidate(c)
	})
	return c, idx
}

// AddServerReflexiveCandidate registers a srflx candidate discovered by a
// successful gathering Binding request sent from baseAddr/basePort to
// serverAddr, whose response's XOR-MAPPED-ADDRESS was mappedIP/mappedPort
// (spec.md §4.3 gathering step 2).
func (a *Agent) AddServerReflexiveCandidate(mappedIP net.IP, mappedPort int, baseAddr net.IP, basePort int, serverAddr string, networkID int) (Candidate, int) {
	var c Candidate
	var idx int
	a.disp.Submit(func() {
		localPref := localPreferenceForFamily(0, 1)
		c = Candidate{
			Type:           CandidateTypeServerReflexive,
			Foundation:     Foundation(CandidateTypeServerReflexive, baseAddr, "udp", serverAddr, networkID),
			Component:      1,
			Address:        mappedIP,
			Port:           mappedPort,
			Priority:       Priority(CandidateTypeServerReflexive, localPref, 1),
			RelatedAddress: baseAddr,
			RelatedPort:    basePort,
			networkID:      networkID,
		}
		idx = a.addLocalCandidate(c)
	})
	return c, idx
}

// AddRelayedCandidate registers a relayed candidate obtained from a
// successful TURN Allocate against serverAddr (spec.md §4.3 gathering step
// 3). Its base is the relayed address itself, per RFC 8445 §5.1.1.1.
func (a *Agent) AddRelayedCandidate(relayedIP net.IP, relayedPort int, serverAddr string, networkID int) (Candidate, int) {
	var c Candidate
	var idx int
	a.disp.Submit(func() {
		localPref := localPreferenceForFamily(0, 1)
		c = Candidate{
			Type:           CandidateTypeRelay,
			Foundation:     Foundation(CandidateTypeRelay, relayedIP, "udp", serverAddr, networkID),
			Component:      1,
			Address:        relayedIP,
			Port:           relayedPort,
			Priority:       Priority(CandidateTypeRelay, localPref, 1),
			RelatedAddress: relayedIP,
			RelatedPort:    relayedPort,
			networkID:      networkID,
		}
		idx = a.addLocalCandidate(c)
	})
	return c, idx
}

// GatheringState returns the agent's current candidate-gathering progress.
func (a *Agent) GatheringState() GatheringState {
	var s GatheringState
	a.disp.Submit(func() { s = a.gatheringState })
	return s
}
