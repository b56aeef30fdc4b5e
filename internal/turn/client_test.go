package turn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// fakeServer is a minimal in-process TURN/STUN server used to exercise
// Client without a real socket. It challenges every request sent without
// long-term credentials with 401 Unauthorized, and accepts every request
// that carries them.
type fakeServer struct {
	prim     cryptoprim.Primitives
	realm    string
	nonce    string
	username string
	password string

	relayed net.UDPAddr

	challenged map[[stunmsg.TransactionIDSize]byte]bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		prim:       cryptoprim.Default(),
		realm:      "example.org",
		nonce:      "abc123",
		username:   "alice",
		password:   "secret",
		relayed:    net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 51000},
		challenged: make(map[[stunmsg.TransactionIDSize]byte]bool),
	}
}

func (s *fakeServer) RoundTrip(_ context.Context, req *stunmsg.Message, integrityKey []byte) (*stunmsg.Message, error) {
	if integrityKey == nil {
		resp := stunmsg.New(stunmsg.ClassErrorResponse, req.Method, req.TransactionID)
		resp.Add(stunmsg.AttrErrorCode, stunmsg.EncodeErrorCode(4, 1, "Unauthorized"))
		resp.Add(stunmsg.AttrRealm, []byte(s.realm))
		resp.Add(stunmsg.AttrNonce, []byte(s.nonce))
		return resp, nil
	}

	resp := stunmsg.New(stunmsg.ClassSuccessResponse, req.Method, req.TransactionID)
	switch req.Method {
	case stunmsg.MethodAllocate:
		resp.Add(stunmsg.AttrXorRelayedAddress, stunmsg.EncodeXorAddress(s.relayed.IP, s.relayed.Port, req.TransactionID))
		resp.Add(stunmsg.AttrLifetime, []byte{0, 0, 0x02, 0x58}) // 600s
	case stunmsg.MethodRefresh:
		resp.Add(stunmsg.AttrLifetime, []byte{0, 0, 0x02, 0x58})
	}
	return resp, nil
}

func TestAllocateRetriesWithLongTermCredentials(t *testing.T) {
	srv := newFakeServer()
	c := NewClient(srv, srv.username, srv.password, srv.prim, logging.NewDefaultLoggerFactory())

	alloc, err := c.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.relayed.IP.String(), alloc.Relayed.IP.String())
	assert.Equal(t, srv.relayed.Port, alloc.Relayed.Port)
	assert.Equal(t, 600*time.Second, alloc.Lifetime)
}

func TestRefreshInterval(t *testing.T) {
	a := &Allocation{Lifetime: 600 * time.Second}
	assert.Equal(t, 450*time.Second, a.RefreshInterval())
}

func TestChannelNumberAllocationSkipsUsed(t *testing.T) {
	a := &Allocation{
		channels:    map[uint16]net.UDPAddr{0x4000: {}},
		channelsRev: map[string]uint16{},
		nextChannel: 0x4000,
	}
	n, err := a.allocateChannelNumber()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x4001), n)
}

func TestChannelDataRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3}
	encoded := EncodeChannelData(0x4000, payload)
	assert.True(t, IsChannelData(encoded))

	number, decoded, ok := DecodeChannelData(encoded)
	require.True(t, ok)
	assert.Equal(t, uint16(0x4000), number)
	assert.Equal(t, payload, decoded)
}

func TestShouldBindAfterTwoSends(t *testing.T) {
	a := &Allocation{
		channelsRev: map[string]uint16{},
		sendCounts:  map[string]int{},
	}
	peer := net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 4000}
	assert.False(t, a.ShouldBind(peer))
	a.RecordSend(peer)
	assert.False(t, a.ShouldBind(peer))
	a.RecordSend(peer)
	assert.True(t, a.ShouldBind(peer))
}
