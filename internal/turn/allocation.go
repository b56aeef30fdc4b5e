package turn

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// transportUDP is the REQUESTED-TRANSPORT protocol value for UDP (RFC 5766
// §14.7: the 17 in the high octet is the IANA protocol number for UDP).
const transportUDP = 17

// defaultLifetime is requested when Allocate/Refresh do not specify one;
// the server's response LIFETIME is authoritative regardless.
const defaultLifetime = 600 * time.Second

// Allocation is the client-side view of a TURN allocation: its relayed
// address, the permissions and channel bindings installed against it, and
// the lifetime the server granted.
type Allocation struct {
	client *Client

	Relayed  net.UDPAddr
	Lifetime time.Duration

	permissions map[string]time.Time   // peer IP -> expiry
	channels    map[uint16]net.UDPAddr // channel number -> peer
	channelsRev map[string]uint16      // peer "ip:port" -> channel number
	channelsAt  map[uint16]time.Time   // channel number -> last (re)bind time
	sendCounts  map[string]int         // peer "ip:port" -> Send indications before a binding exists
	nextChannel uint16

	permLimiter *rate.Limiter
	chanLimiter *rate.Limiter
}

// Allocate requests a new relayed transport address, retrying with
// long-term credentials on the server's 401 challenge, per spec.md §4.2.
// DONT-FRAGMENT is always requested; the server may ignore it.
func (c *Client) Allocate(ctx context.Context) (*Allocation, error) {
	attrs := []stunmsg.Attr{
		{Type: stunmsg.AttrRequestedTransport, Value: []byte{transportUDP, 0, 0, 0}},
		{Type: stunmsg.AttrDontFragment, Value: nil},
	}

	resp, err := c.do(ctx, stunmsg.MethodAllocate, attrs)
	if err != nil {
		if code := errorCode(err); code != 0 {
			return nil, errors.Wrap(classify(code), "turn: allocate")
		}
		return nil, errors.Wrap(err, "turn: allocate")
	}

	relayedAttr, ok := resp.Get(stunmsg.AttrXorRelayedAddress)
	if !ok {
		return nil, ErrNoRelayedAddress
	}
	ip, port, err := stunmsg.DecodeXorAddress(relayedAttr.Value, resp.TransactionID)
	if err != nil {
		return nil, errors.Wrap(err, "turn: decode relayed address")
	}

	lifetime := defaultLifetime
	if lt, ok := resp.Get(stunmsg.AttrLifetime); ok && len(lt.Value) == 4 {
		lifetime = time.Duration(beUint32(lt.Value)) * time.Second
	}

	alloc := &Allocation{
		client:      c,
		Relayed:     net.UDPAddr{IP: ip, Port: port},
		Lifetime:    lifetime,
		permissions: make(map[string]time.Time),
		channels:    make(map[uint16]net.UDPAddr),
		channelsRev: make(map[string]uint16),
		channelsAt:  make(map[uint16]time.Time),
		sendCounts:  make(map[string]int),
		nextChannel: 0x4000,
		permLimiter: newMaintenanceLimiter(),
		chanLimiter: newMaintenanceLimiter(),
	}
	c.alloc = alloc
	return alloc, nil
}

// Refresh renews the allocation's lifetime. A requested lifetime of 0
// releases the allocation immediately (RFC 5766 §7.1).
func (a *Allocation) Refresh(ctx context.Context, lifetime time.Duration) error {
	lt := make([]byte, 4)
	putUint32(lt, uint32(lifetime/time.Second))

	resp, err := a.client.do(ctx, stunmsg.MethodRefresh, []stunmsg.Attr{
		{Type: stunmsg.AttrLifetime, Value: lt},
	})
	if err != nil {
		return errors.Wrap(err, "turn: refresh")
	}
	if got, ok := resp.Get(stunmsg.AttrLifetime); ok && len(got.Value) == 4 {
		a.Lifetime = time.Duration(beUint32(got.Value)) * time.Second
	}
	return nil
}

// RefreshInterval is when the caller should schedule the next Refresh:
// three quarters of the way through the granted lifetime, per spec.md §4.2.
func (a *Allocation) RefreshInterval() time.Duration {
	return a.Lifetime * 3 / 4
}

func errorCode(err error) int {
	var se *serverError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
