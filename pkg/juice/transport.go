package juice

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
	"github.com/AltFreq07/libjuice/internal/stunmsg"
	"github.com/AltFreq07/libjuice/internal/transport"
	"github.com/AltFreq07/libjuice/internal/turn"
)

// ErrTransactionTimeout is returned by RoundTrip when no response arrives
// within the cumulative STUN retransmission schedule (spec.md §3): 16·RTO
// after the final retransmission, 79·RTO after the first send.
var ErrTransactionTimeout = errors.New("juice: stun transaction timed out")

// pendingTable correlates outstanding STUN/TURN transactions (by id) with
// the goroutine awaiting a response, shared between whichever goroutine
// sent the request and the socket read loop that eventually delivers its
// answer (spec.md §5: the only suspension point is the dispatcher's
// multiplexed wait — RoundTrip itself blocks its own caller goroutine, not
// the dispatcher).
type pendingTable struct {
	mu      sync.Mutex
	waiters map[[stunmsg.TransactionIDSize]byte]chan *stunmsg.Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[[stunmsg.TransactionIDSize]byte]chan *stunmsg.Message)}
}

func (p *pendingTable) register(id [stunmsg.TransactionIDSize]byte) chan *stunmsg.Message {
	ch := make(chan *stunmsg.Message, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingTable) unregister(id [stunmsg.TransactionIDSize]byte) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// deliver hands resp to its registered waiter, if any. It returns false
// when no transaction matches, meaning the caller should treat resp as
// something else (an indication, or a request needing its own handling).
func (p *pendingTable) deliver(resp *stunmsg.Message) bool {
	p.mu.Lock()
	ch, ok := p.waiters[resp.TransactionID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
	default:
	}
	return true
}

// retransmit runs send once, then again after each of stunmsg's
// retransmission schedule delays, until respCh yields a response, ctx is
// canceled, or the cumulative timeout elapses (spec.md §3).
func retransmit(ctx context.Context, respCh <-chan *stunmsg.Message, send func() error) (*stunmsg.Message, error) {
	if err := send(); err != nil {
		return nil, err
	}
	for _, delay := range stunmsg.RetransmitSchedule(stunmsg.DefaultRTO) {
		select {
		case resp := <-respCh:
			return resp, nil
		case <-time.After(delay):
			if err := send(); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case resp := <-respCh:
		return resp, nil
	case <-time.After(stunmsg.FinalTimeout(stunmsg.DefaultRTO)):
		return nil, ErrTransactionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// directTransport implements ice.Transport over one host/srflx/peer-reflexive
// local candidate's own UDP socket: checks and application data both go
// straight to the wire, with no relay in between.
type directTransport struct {
	sock    *transport.Socket
	prim    cryptoprim.Primitives
	pending *pendingTable
}

func (t *directTransport) RoundTrip(ctx context.Context, req *stunmsg.Message, dst net.Addr, integrityKey []byte) (*stunmsg.Message, error) {
	raw, err := stunmsg.Encode(req, t.prim, integrityKey)
	if err != nil {
		return nil, errors.Wrap(err, "juice: encode check")
	}
	respCh := t.pending.register(req.TransactionID)
	defer t.pending.unregister(req.TransactionID)

	return retransmit(ctx, respCh, func() error {
		_, err := t.sock.WriteTo(raw, dst)
		return errors.Wrap(err, "juice: send check")
	})
}

func (t *directTransport) Respond(resp *stunmsg.Message, dst net.Addr, integrityKey []byte) error {
	raw, err := stunmsg.Encode(resp, t.prim, integrityKey)
	if err != nil {
		return errors.Wrap(err, "juice: encode response")
	}
	_, err = t.sock.WriteTo(raw, dst)
	return errors.Wrap(err, "juice: send response")
}

func (t *directTransport) SendData(payload []byte, dst net.Addr) error {
	_, err := t.sock.WriteTo(payload, dst)
	return errors.Wrap(err, "juice: send data")
}

// controlTransport implements turn.RoundTripper over a TURN server's
// control socket: it is shared by the gathering Allocate request and every
// subsequent Refresh/CreatePermission/ChannelBind the allocation sends.
type controlTransport struct {
	sock       *transport.Socket
	serverAddr *net.UDPAddr
	prim       cryptoprim.Primitives
	pending    *pendingTable
}

func (t *controlTransport) RoundTrip(ctx context.Context, req *stunmsg.Message, integrityKey []byte) (*stunmsg.Message, error) {
	raw, err := stunmsg.Encode(req, t.prim, integrityKey)
	if err != nil {
		return nil, errors.Wrap(err, "juice: encode turn request")
	}
	respCh := t.pending.register(req.TransactionID)
	defer t.pending.unregister(req.TransactionID)

	return retransmit(ctx, respCh, func() error {
		_, err := t.sock.WriteTo(raw, t.serverAddr)
		return errors.Wrap(err, "juice: send turn request")
	})
}

// relayTransport implements ice.Transport for a relayed local candidate:
// connectivity checks are tunneled through the TURN allocation's Send
// indication (or, once bound, ChannelData framing) exactly as application
// data is, per spec.md §4.2's Send/Data path.
type relayTransport struct {
	alloc      *turn.Allocation
	sock       *transport.Socket
	serverAddr *net.UDPAddr
	prim       cryptoprim.Primitives
	pending    *pendingTable
}

func (t *relayTransport) RoundTrip(ctx context.Context, req *stunmsg.Message, dst net.Addr, integrityKey []byte) (*stunmsg.Message, error) {
	udpDst, ok := dst.(*net.UDPAddr)
	if !ok {
		return nil, errors.New("juice: relay transport requires a UDP destination")
	}
	inner, err := stunmsg.Encode(req, t.prim, integrityKey)
	if err != nil {
		return nil, errors.Wrap(err, "juice: encode relayed check")
	}
	respCh := t.pending.register(req.TransactionID)
	defer t.pending.unregister(req.TransactionID)

	return retransmit(ctx, respCh, func() error { return t.sendToPeer(*udpDst, inner) })
}

func (t *relayTransport) Respond(resp *stunmsg.Message, dst net.Addr, integrityKey []byte) error {
	udpDst, ok := dst.(*net.UDPAddr)
	if !ok {
		return errors.New("juice: relay transport requires a UDP destination")
	}
	inner, err := stunmsg.Encode(resp, t.prim, integrityKey)
	if err != nil {
		return errors.Wrap(err, "juice: encode relayed response")
	}
	return t.sendToPeer(*udpDst, inner)
}

func (t *relayTransport) SendData(payload []byte, dst net.Addr) error {
	udpDst, ok := dst.(*net.UDPAddr)
	if !ok {
		return errors.New("juice: relay transport requires a UDP destination")
	}
	t.alloc.RecordSend(*udpDst)
	return t.sendToPeer(*udpDst, payload)
}

func (t *relayTransport) sendToPeer(peer net.UDPAddr, payload []byte) error {
	maintainCtx, cancel := context.WithTimeout(context.Background(), turnMaintenanceTimeout)
	defer cancel()
	if err := t.alloc.MaintainPermission(maintainCtx, peer.IP); err != nil {
		return errors.Wrap(err, "juice: maintain turn permission")
	}
	if err := t.alloc.MaintainChannel(maintainCtx, peer); err != nil {
		return errors.Wrap(err, "juice: maintain turn channel")
	}

	if number, bound := t.alloc.ChannelOf(peer); bound {
		_, err := t.sock.WriteTo(turn.EncodeChannelData(number, payload), t.serverAddr)
		return errors.Wrap(err, "juice: send channel data")
	}
	ind, err := t.alloc.EncodeSendIndication(peer, payload)
	if err != nil {
		return errors.Wrap(err, "juice: build send indication")
	}
	raw, err := stunmsg.Encode(ind, t.prim, nil)
	if err != nil {
		return errors.Wrap(err, "juice: encode send indication")
	}
	_, err = t.sock.WriteTo(raw, t.serverAddr)
	return errors.Wrap(err, "juice: send indication")
}

// turnMaintenanceTimeout bounds the CreatePermission/ChannelBind round trip
// MaintainPermission/MaintainChannel may need to run before the actual
// payload goes out.
const turnMaintenanceTimeout = 5 * time.Second
