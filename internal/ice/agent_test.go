package ice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/require"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
	"github.com/AltFreq07/libjuice/internal/dispatch"
	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// fakeTransport answers every Binding request with an immediate success
// response whose XOR-MAPPED-ADDRESS echoes the local candidate, so checks
// resolve without a real socket.
type fakeTransport struct {
	localAddr net.IP
	localPort int
	sent      chan []byte
}

func (f *fakeTransport) RoundTrip(ctx context.Context, req *stunmsg.Message, dst net.Addr, key []byte) (*stunmsg.Message, error) {
	resp := stunmsg.New(stunmsg.ClassSuccessResponse, stunmsg.MethodBinding, req.TransactionID)
	resp.Add(stunmsg.AttrXorMappedAddress, stunmsg.EncodeXorAddress(f.localAddr, f.localPort, req.TransactionID))
	return resp, nil
}

func (f *fakeTransport) Respond(resp *stunmsg.Message, dst net.Addr, key []byte) error {
	return nil
}

func (f *fakeTransport) SendData(payload []byte, dst net.Addr) error {
	if f.sent != nil {
		f.sent <- payload
	}
	return nil
}

// TestStartCheckingReachesCompletedWithoutDeadlock is a regression test for
// the dispatcher reentrancy deadlock: StartChecking (which calls
// disp.AfterFunc from inside a Submit closure) followed by aggressive
// nomination succeeding (which calls startKeepAlive's AfterFunc from
// inside handleCheckResult, itself inside a Submit closure) must not hang.
func TestStartCheckingReachesCompletedWithoutDeadlock(t *testing.T) {
	disp := dispatch.New(logging.NewDefaultLoggerFactory(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)
	defer disp.Close()

	a, err := NewAgent(Config{
		LoggerFactory: logging.NewDefaultLoggerFactory(),
		Dispatcher:    disp,
		Primitives:    cryptoprim.Default(),
		Nomination:    NominationAggressive,
	})
	require.NoError(t, err)

	localIP := net.ParseIP("127.0.0.1")
	local := Candidate{
		Type:       CandidateTypeHost,
		Foundation: "local",
		Component:  1,
		Address:    localIP,
		Port:       10000,
		Priority:   Priority(CandidateTypeHost, 65535, 1),
	}
	remote := Candidate{
		Type:       CandidateTypeHost,
		Foundation: "remote",
		Component:  1,
		Address:    localIP,
		Port:       10001,
		Priority:   Priority(CandidateTypeHost, 65535, 1),
	}

	var localIdx int
	disp.Submit(func() {
		localIdx = a.addLocalCandidate(local)
	})

	ft := &fakeTransport{localAddr: localIP, localPort: local.Port}
	a.SetTransport(localIdx, ft)
	a.SetTransport(-1, ft)

	a.AddRemoteCandidate(remote)

	states := make(chan ConnectionState, 16)
	a.OnStateChange(func(s ConnectionState) { states <- s })

	a.StartChecking(ctx)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == ConnectionStateCompleted {
				return
			}
		case <-deadline:
			t.Fatal("agent never reached ConnectionStateCompleted; StartChecking likely deadlocked")
		}
	}
}

// TestSendDataBeforeNominationReturnsErrNotConnected covers the
// errNotConnected sentinel SendData returns when no pair has been
// nominated yet.
func TestSendDataBeforeNominationReturnsErrNotConnected(t *testing.T) {
	disp := dispatch.New(logging.NewDefaultLoggerFactory(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)
	defer disp.Close()

	a, err := NewAgent(Config{
		LoggerFactory: logging.NewDefaultLoggerFactory(),
		Dispatcher:    disp,
		Primitives:    cryptoprim.Default(),
	})
	require.NoError(t, err)

	err = a.SendData([]byte("hello"))
	require.ErrorIs(t, err, errNotConnected)
}
