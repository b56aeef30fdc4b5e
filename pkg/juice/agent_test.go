package juice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AltFreq07/libjuice/internal/ice"
)

// newLoopbackAgent builds an Agent restricted to 127.0.0.1 with no
// STUN/TURN servers configured, matching spec.md §8 scenario 1's
// direct-connectivity test setup.
func newLoopbackAgent(t *testing.T, controlling bool) *Agent {
	t.Helper()
	a, err := NewAgent(Config{BindAddress: "127.0.0.1"}, controlling)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func waitState(t *testing.T, states <-chan ice.ConnectionState, want ice.ConnectionState) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestTwoLoopbackAgentsConnectAndExchangeData(t *testing.T) {
	ctx := context.Background()

	offerer := newLoopbackAgent(t, true)
	answerer := newLoopbackAgent(t, false)

	offererStates := make(chan ice.ConnectionState, 16)
	answererStates := make(chan ice.ConnectionState, 16)
	offerer.OnStateChange(func(s ice.ConnectionState) { offererStates <- s })
	answerer.OnStateChange(func(s ice.ConnectionState) { answererStates <- s })

	offererData := make(chan []byte, 4)
	answererData := make(chan []byte, 4)
	offerer.OnData(func(p []byte) { offererData <- append([]byte(nil), p...) })
	answerer.OnData(func(p []byte) { answererData <- append([]byte(nil), p...) })

	offererGathered := make(chan struct{})
	answererGathered := make(chan struct{})
	offerer.OnGatheringDone(func() { close(offererGathered) })
	answerer.OnGatheringDone(func() { close(answererGathered) })

	require.NoError(t, offerer.Gather(ctx))
	require.NoError(t, answerer.Gather(ctx))

	select {
	case <-offererGathered:
	case <-time.After(5 * time.Second):
		t.Fatal("offerer never finished gathering")
	}
	select {
	case <-answererGathered:
	case <-time.After(5 * time.Second):
		t.Fatal("answerer never finished gathering")
	}

	offerer.SetRemoteDescription(answerer.LocalDescription())
	answerer.SetRemoteDescription(offerer.LocalDescription())

	offerer.StartChecking(ctx)
	answerer.StartChecking(ctx)

	waitState(t, offererStates, ice.ConnectionStateConnected)
	waitState(t, answererStates, ice.ConnectionStateConnected)

	require.NoError(t, offerer.SendData([]byte("hello from offerer")))
	require.NoError(t, answerer.SendData([]byte("hello from answerer")))

	select {
	case p := <-answererData:
		require.Equal(t, "hello from offerer", string(p))
	case <-time.After(5 * time.Second):
		t.Fatal("answerer never received data")
	}
	select {
	case p := <-offererData:
		require.Equal(t, "hello from answerer", string(p))
	case <-time.After(5 * time.Second):
		t.Fatal("offerer never received data")
	}
}

func TestAgentIDIsStable(t *testing.T) {
	a := newLoopbackAgent(t, true)
	first := a.ID()
	require.Equal(t, first, a.ID())
}

func TestCloseIsIdempotent(t *testing.T) {
	a := newLoopbackAgent(t, true)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
