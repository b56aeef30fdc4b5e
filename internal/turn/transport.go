package turn

import (
	"context"

	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// RoundTripper sends a STUN/TURN request to the server and returns its
// response, handling encoding (including MESSAGE-INTEGRITY under
// integrityKey, when non-nil) and retransmission internally.
// pkg/juice supplies the concrete implementation bound to a UDP socket;
// tests supply a fake.
type RoundTripper interface {
	RoundTrip(ctx context.Context, req *stunmsg.Message, integrityKey []byte) (*stunmsg.Message, error)
}
