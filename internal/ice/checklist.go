package ice

// maxPairs caps the check list size per RFC 8445 §6.1.2.4. Capping is
// enforced by refusing new pairs once the list is full rather than by
// reordering or evicting existing ones, since pairs are referenced by
// their slice index (runCheck's in-flight goroutines, Agent.nominatedPair)
// the same way candidates are (spec.md §3) and reordering would invalidate
// those references.
const maxPairs = 100

// CheckList holds the candidate pairs formed for one ICE component, per
// RFC 8445 §6.1.2. NextWaiting scans for the highest-priority Waiting pair
// on every call, so the slice itself does not need to stay sorted.
type CheckList struct {
	Pairs []CandidatePair
}

// Add forms the pair (localIdx, remoteIdx) with priority computed under
// controllingIsLocal, unless it already exists or the list is at capacity.
// Pairs between mismatched address families are the caller's
// responsibility to exclude before calling Add.
func (cl *CheckList) Add(localIdx, remoteIdx int, localPriority, remotePriority uint32, controllingIsLocal bool, foundation string) {
	for _, p := range cl.Pairs {
		if p.Local == localIdx && p.Remote == remoteIdx {
			return
		}
	}
	if len(cl.Pairs) >= maxPairs {
		return
	}
	cl.Pairs = append(cl.Pairs, CandidatePair{
		Local:      localIdx,
		Remote:     remoteIdx,
		Priority:   PairPriority(localPriority, remotePriority, controllingIsLocal),
		State:      PairFrozen,
		foundation: foundation,
	})
}

// UnfreezeFirstOfEachFoundation thaws exactly one pair (the highest
// priority) per distinct foundation group, per RFC 8445 §6.1.2.6's initial
// state: "for all pairs with the same foundation, set the state of the
// pair with the lowest component ID to Waiting... if there is more than
// one such pair, the one with the highest priority is used."
func (cl *CheckList) UnfreezeFirstOfEachFoundation() {
	// best tracks, per foundation, the index of the highest-priority Frozen
	// pair seen so far. Pairs is never sorted (its indices are referenced
	// elsewhere, see maxPairs above), so the winner is found by scanning
	// rather than by picking the first Frozen pair of each foundation.
	best := make(map[string]int)
	for i := range cl.Pairs {
		p := &cl.Pairs[i]
		if p.State != PairFrozen {
			continue
		}
		if cur, ok := best[p.foundation]; !ok || p.Priority > cl.Pairs[cur].Priority {
			best[p.foundation] = i
		}
	}
	for _, i := range best {
		cl.Pairs[i].State = PairWaiting
	}
}

// UnfreezeFoundation thaws every frozen pair sharing foundation, called
// when a pair in that foundation group succeeds (RFC 8445 §6.1.2.6).
func (cl *CheckList) UnfreezeFoundation(foundation string) {
	for i := range cl.Pairs {
		if cl.Pairs[i].foundation == foundation && cl.Pairs[i].State == PairFrozen {
			cl.Pairs[i].State = PairWaiting
		}
	}
}

// NextWaiting returns the index of the highest-priority Waiting pair, or
// -1 if none (RFC 8445 §6.1.4.2's ordinary check scheduling).
func (cl *CheckList) NextWaiting() int {
	best := -1
	for i := range cl.Pairs {
		if cl.Pairs[i].State != PairWaiting {
			continue
		}
		if best == -1 || cl.Pairs[i].Priority > cl.Pairs[best].Priority {
			best = i
		}
	}
	return best
}

// AllTerminal reports whether every pair in the list is Succeeded or
// Failed, the failure condition of RFC 8445 §7.1.3.1 absent a nominated
// pair.
func (cl *CheckList) AllTerminal() bool {
	for _, p := range cl.Pairs {
		if p.State != PairSucceeded && p.State != PairFailed {
			return false
		}
	}
	return true
}

// HasNominated reports whether any pair has been nominated.
func (cl *CheckList) HasNominated() bool {
	for _, p := range cl.Pairs {
		if p.Nominated {
			return true
		}
	}
	return false
}
