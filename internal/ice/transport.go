package ice

import (
	"context"
	"net"

	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// Transport is the socket-facing seam connectivity checks are built on.
// pkg/juice (backed by internal/transport's UDP sockets) supplies the
// concrete implementations; tests supply an in-process fake so the
// check state machine can be exercised without a network.
type Transport interface {
	// RoundTrip sends req from the local candidate's socket to dst and
	// waits for a matching response, retransmitting per
	// stunmsg.RetransmitSchedule. integrityKey, when non-nil, is used to
	// attach MESSAGE-INTEGRITY to req.
	RoundTrip(ctx context.Context, req *stunmsg.Message, dst net.Addr, integrityKey []byte) (*stunmsg.Message, error)

	// Respond sends a response or indication with no retransmission and no
	// wait for a reply.
	Respond(resp *stunmsg.Message, dst net.Addr, integrityKey []byte) error

	// SendData sends an application payload to dst over the pair's
	// transport (directly for host/srflx/prflx pairs, through the TURN
	// allocation's Send indication or channel for relayed ones).
	SendData(payload []byte, dst net.Addr) error
}
