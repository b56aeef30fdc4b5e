package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPairPrioritySymmetric confirms RFC 8445 §6.1.2.3's invariant that both
// peers in a session compute the same pair priority: whichever side is
// controlling, the formula's G/D terms must resolve to the controlling
// agent's candidate priority as G and the controlled agent's as D, so the
// controlling and controlled agents' independent PairPriority calls over
// the same two candidate priorities must agree.
func TestPairPrioritySymmetric(t *testing.T) {
	controllingPriority := uint32(2130706431)
	controlledPriority := uint32(1845501695)

	fromControllingSide := PairPriority(controllingPriority, controlledPriority, true)
	fromControlledSide := PairPriority(controlledPriority, controllingPriority, false)

	assert.Equal(t, fromControllingSide, fromControlledSide)
}

func TestPairPriorityTieBreakBit(t *testing.T) {
	higher := PairPriority(200, 100, true)
	lower := PairPriority(100, 200, true)
	assert.NotEqual(t, higher, lower)
	// swapping which side is "G" only flips the low tie-break bit once
	// min/max are equalized; the formula must not collapse the two.
	assert.Equal(t, higher&^uint64(1), lower&^uint64(1))
}

func TestPairPriorityEqualPriorities(t *testing.T) {
	got := PairPriority(500, 500, true)
	assert.Equal(t, uint64(500)<<32+uint64(500)<<1, got)
}

func TestCheckListAddDeduplicatesAndCaps(t *testing.T) {
	cl := &CheckList{}
	cl.Add(0, 0, 100, 100, true, "f1")
	cl.Add(0, 0, 100, 100, true, "f1")
	assert.Len(t, cl.Pairs, 1, "duplicate (local, remote) pair must not be added twice")

	for i := 0; i < maxPairs+5; i++ {
		cl.Add(i+1, i+1, 1, 1, true, "f1")
	}
	assert.LessOrEqual(t, len(cl.Pairs), maxPairs)
}

func TestUnfreezeFirstOfEachFoundationPicksHighestPriority(t *testing.T) {
	cl := &CheckList{
		Pairs: []CandidatePair{
			{Local: 0, Remote: 0, Priority: 10, State: PairFrozen, foundation: "f1"},
			{Local: 0, Remote: 1, Priority: 99, State: PairFrozen, foundation: "f1"},
			{Local: 0, Remote: 2, Priority: 50, State: PairFrozen, foundation: "f1"},
			{Local: 1, Remote: 0, Priority: 5, State: PairFrozen, foundation: "f2"},
		},
	}

	cl.UnfreezeFirstOfEachFoundation()

	assert.Equal(t, PairFrozen, cl.Pairs[0].State)
	assert.Equal(t, PairWaiting, cl.Pairs[1].State, "pair with priority 99 must be the one thawed for foundation f1")
	assert.Equal(t, PairFrozen, cl.Pairs[2].State)
	assert.Equal(t, PairWaiting, cl.Pairs[3].State, "the sole f2 pair must be thawed")
}

func TestUnfreezeFoundationThawsAllMatching(t *testing.T) {
	cl := &CheckList{
		Pairs: []CandidatePair{
			{Local: 0, Remote: 0, Priority: 10, State: PairFrozen, foundation: "f1"},
			{Local: 0, Remote: 1, Priority: 20, State: PairFrozen, foundation: "f1"},
			{Local: 1, Remote: 0, Priority: 30, State: PairFrozen, foundation: "f2"},
		},
	}
	cl.UnfreezeFoundation("f1")
	assert.Equal(t, PairWaiting, cl.Pairs[0].State)
	assert.Equal(t, PairWaiting, cl.Pairs[1].State)
	assert.Equal(t, PairFrozen, cl.Pairs[2].State)
}

func TestNextWaitingReturnsHighestPriority(t *testing.T) {
	cl := &CheckList{
		Pairs: []CandidatePair{
			{Priority: 10, State: PairWaiting},
			{Priority: 99, State: PairWaiting},
			{Priority: 50, State: PairSucceeded},
		},
	}
	assert.Equal(t, 1, cl.NextWaiting())
}

func TestAllTerminalAndHasNominated(t *testing.T) {
	cl := &CheckList{
		Pairs: []CandidatePair{
			{State: PairSucceeded},
			{State: PairFailed},
		},
	}
	assert.True(t, cl.AllTerminal())
	assert.False(t, cl.HasNominated())

	cl.Pairs[0].Nominated = true
	assert.True(t, cl.HasNominated())

	cl.Pairs = append(cl.Pairs, CandidatePair{State: PairWaiting})
	assert.False(t, cl.AllTerminal())
}
