package juice

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	transportv4 "github.com/pion/transport/v4"
	"github.com/pkg/errors"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
	"github.com/AltFreq07/libjuice/internal/dispatch"
	"github.com/AltFreq07/libjuice/internal/ice"
	"github.com/AltFreq07/libjuice/internal/stunmsg"
	"github.com/AltFreq07/libjuice/internal/transport"
	"github.com/AltFreq07/libjuice/internal/turn"
)

// maxDatagramSize bounds one read off a socket. Fragmentation/path-MTU
// discovery is out of scope (spec.md's Non-goals); this is generous enough
// for STUN/TURN signaling and ordinary application datagrams alike.
const maxDatagramSize = 1500

// turnRefreshLifetime is the lifetime requested on every periodic TURN
// allocation Refresh; the server's granted value (returned in its response)
// is what actually governs the next RefreshInterval.
const turnRefreshLifetime = 600 * time.Second

// candidateSocket is one local candidate's wire path: a bound UDP socket
// and its table of outstanding transactions. alloc/client/serverAddr are
// only set for the TURN control socket backing a relayed candidate.
type candidateSocket struct {
	sock     *transport.Socket
	localIdx int32 // atomic; -1 until the candidate it belongs to is registered
	pending  *pendingTable

	alloc      *turn.Allocation
	client     *turn.Client
	serverAddr *net.UDPAddr
}

func newCandidateSocket(sock *transport.Socket) *candidateSocket {
	cs := &candidateSocket{sock: sock, pending: newPendingTable()}
	atomic.StoreInt32(&cs.localIdx, -1)
	return cs
}

func (cs *candidateSocket) setLocalIdx(idx int) { atomic.StoreInt32(&cs.localIdx, int32(idx)) }
func (cs *candidateSocket) getLocalIdx() int     { return int(atomic.LoadInt32(&cs.localIdx)) }

// Agent is the public façade over one ICE session (spec.md §1): it gathers
// candidates over real sockets, runs connectivity checks, and exchanges
// application data once a pair is nominated. The session description text
// block (description.go) is how two Agents, run by independent
// applications, learn about each other.
type Agent struct {
	id  uuid.UUID
	cfg Config
	log logging.LeveledLogger

	disp *dispatch.Dispatcher
	ice  *ice.Agent
	prim cryptoprim.Primitives
	net  transportv4.Net

	loopCancel context.CancelFunc
	done       chan struct{}

	mu            sync.Mutex
	sockets       []*candidateSocket
	closed        bool
	networkIDs    map[string]int
	nextNetworkID int
}

// NewAgent creates an Agent bound to cfg and starts its dispatcher loop.
// controlling sets the agent's initial ICE role (RFC 8445 §6.1.1); the
// offering side is normally controlling, the answering side controlled.
// Gather must be called afterwards to begin candidate collection.
func NewAgent(cfg Config, controlling bool) (*Agent, error) {
	loggerFactory := cfg.loggerFactory()
	disp := dispatch.New(loggerFactory, false)

	prim := cryptoprim.Default()
	iceAgent, err := ice.NewAgent(ice.Config{
		LoggerFactory: loggerFactory,
		Dispatcher:    disp,
		Primitives:    prim,
		Nomination:    cfg.nomination(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "juice: create ice agent")
	}
	if !controlling {
		iceAgent.SetRole(ice.RoleControlled)
	}

	n, err := transport.NewDefaultNet()
	if err != nil {
		return nil, errors.Wrap(err, "juice: create network")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)

	a := &Agent{
		id:         uuid.New(),
		cfg:        cfg,
		log:        loggerFactory.NewLogger("juice"),
		disp:       disp,
		ice:        iceAgent,
		prim:       prim,
		net:        n,
		loopCancel: cancel,
		done:       make(chan struct{}),
		networkIDs: make(map[string]int),
	}
	a.log.Infof("juice: agent %s created, controlling=%v", a.id, controlling)
	return a, nil
}

// ID returns this agent's log-correlation identifier. The agent's creation
// log line carries it; its other log lines do not.
func (a *Agent) ID() uuid.UUID { return a.id }

func (a *Agent) networkIDFor(ip net.IP) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := ip.String()
	if id, ok := a.networkIDs[key]; ok {
		return id
	}
	id := a.nextNetworkID
	a.nextNetworkID++
	a.networkIDs[key] = id
	return id
}

func (a *Agent) registerSocket(cs *candidateSocket) {
	a.mu.Lock()
	a.sockets = append(a.sockets, cs)
	a.mu.Unlock()
}

func (a *Agent) hostAddresses() ([]net.IP, error) {
	if a.cfg.BindAddress != "" {
		ip := net.ParseIP(a.cfg.BindAddress)
		if ip == nil {
			return nil, errors.Errorf("juice: invalid BindAddress %q", a.cfg.BindAddress)
		}
		return []net.IP{ip}, nil
	}
	addrs, err := transport.HostAddresses(a.net)
	if err != nil {
		return nil, errors.Wrap(err, "juice: enumerate host addresses")
	}
	return addrs, nil
}

// Gather begins candidate collection (spec.md §4.3): one host candidate per
// eligible local address (or exactly cfg.BindAddress, when set), one
// server-reflexive candidate per host socket when cfg.STUNServer is
// configured, and one relayed candidate per cfg.TURNServers entry. It
// returns once every local socket is bound and the async gathering
// transactions have been started; OnGatheringDone reports when they
// finish.
func (a *Agent) Gather(ctx context.Context) error {
	addrs, err := a.hostAddresses()
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return errors.New("juice: no eligible local address to gather host candidates from")
	}

	totalV4, totalV6 := 0, 0
	for _, ip := range addrs {
		if ip.To4() != nil {
			totalV4++
		} else {
			totalV6++
		}
	}

	portMin, portMax := a.cfg.effectivePortRange()
	seenV4, seenV6 := 0, 0
	var hostSockets []*candidateSocket
	for _, ip := range addrs {
		sock, err := transport.NewHostSocket(ip, portMin, portMax)
		if err != nil {
			a.log.Warnf("juice: bind host socket on %s: %v", ip, err)
			continue
		}

		ordinal, totalOfFamily := seenV4, totalV4
		if ip.To4() == nil {
			ordinal, totalOfFamily = seenV6, totalV6
		}
		if ip.To4() != nil {
			seenV4++
		} else {
			seenV6++
		}

		_, localIdx := a.ice.AddHostCandidate(ip, sock.LocalAddr.Port, a.networkIDFor(ip), ordinal, totalOfFamily)
		cs := newCandidateSocket(sock)
		cs.setLocalIdx(localIdx)
		a.ice.SetTransport(localIdx, &directTransport{sock: sock, prim: a.prim, pending: cs.pending})
		a.registerSocket(cs)
		hostSockets = append(hostSockets, cs)
		go a.readDirectLoop(cs)
	}
	if len(hostSockets) == 0 {
		return errors.New("juice: failed to bind any host socket")
	}

	stunCount := 0
	if a.cfg.STUNServer != "" {
		stunCount = len(hostSockets)
	}
	a.ice.BeginGathering(stunCount + len(a.cfg.TURNServers))

	if a.cfg.STUNServer != "" {
		for _, cs := range hostSockets {
			go a.gatherServerReflexive(ctx, cs)
		}
	}
	for _, srv := range a.cfg.TURNServers {
		go a.gatherRelayed(ctx, srv)
	}
	return nil
}

func (a *Agent) gatherServerReflexive(ctx context.Context, cs *candidateSocket) {
	defer a.ice.GatheringDone()

	serverAddr, err := net.ResolveUDPAddr("udp", a.cfg.STUNServer)
	if err != nil {
		a.log.Warnf("juice: resolve STUN server %s: %v", a.cfg.STUNServer, err)
		return
	}
	txID, err := stunmsg.NewTransactionID(a.prim.Random)
	if err != nil {
		a.log.Warnf("juice: build gathering request: %v", err)
		return
	}
	req := stunmsg.New(stunmsg.ClassRequest, stunmsg.MethodBinding, txID)
	raw, err := stunmsg.Encode(req, a.prim, nil)
	if err != nil {
		a.log.Warnf("juice: encode gathering request: %v", err)
		return
	}

	respCh := cs.pending.register(txID)
	defer cs.pending.unregister(txID)

	gctx, cancel := context.WithTimeout(ctx, ice.GatherTimeout)
	defer cancel()
	resp, err := retransmit(gctx, respCh, func() error {
		_, werr := cs.sock.WriteTo(raw, serverAddr)
		return errors.Wrap(werr, "juice: send gathering request")
	})
	if err != nil {
		a.log.Warnf("juice: gather srflx candidate via %s: %v", a.cfg.STUNServer, err)
		return
	}

	mapped, ok := resp.Get(stunmsg.AttrXorMappedAddress)
	if !ok {
		a.log.Warnf("juice: gathering response from %s missing XOR-MAPPED-ADDRESS", a.cfg.STUNServer)
		return
	}
	mappedIP, mappedPort, err := stunmsg.DecodeXorAddress(mapped.Value, resp.TransactionID)
	if err != nil {
		a.log.Warnf("juice: decode mapped address: %v", err)
		return
	}

	base, basePort := cs.sock.LocalAddr.IP, cs.sock.LocalAddr.Port
	a.ice.AddServerReflexiveCandidate(mappedIP, mappedPort, base, basePort, a.cfg.STUNServer, a.networkIDFor(base))
}

func (a *Agent) gatherRelayed(ctx context.Context, srv TURNServer) {
	defer a.ice.GatheringDone()

	serverHost := fmt.Sprintf("%s:%d", srv.Host, srv.Port)
	serverAddr, err := net.ResolveUDPAddr("udp", serverHost)
	if err != nil {
		a.log.Warnf("juice: resolve TURN server %s: %v", serverHost, err)
		return
	}

	bindIP := net.IPv4zero
	if serverAddr.IP.To4() == nil {
		bindIP = net.IPv6zero
	}
	portMin, portMax := a.cfg.effectivePortRange()
	sock, err := transport.NewHostSocket(bindIP, portMin, portMax)
	if err != nil {
		a.log.Warnf("juice: bind turn control socket for %s: %v", serverHost, err)
		return
	}

	cs := newCandidateSocket(sock)
	cs.serverAddr = serverAddr
	ct := &controlTransport{sock: sock, serverAddr: serverAddr, prim: a.prim, pending: cs.pending}
	client := turn.NewClient(ct, srv.Username, srv.Password, a.prim, a.cfg.loggerFactory())
	cs.client = client
	a.registerSocket(cs)
	go a.readTurnLoop(cs)

	gctx, cancel := context.WithTimeout(ctx, ice.GatherTimeout)
	defer cancel()
	alloc, err := client.Allocate(gctx)
	if err != nil {
		a.log.Warnf("juice: allocate relayed candidate on %s: %v", serverHost, err)
		return
	}
	cs.alloc = alloc

	_, localIdx := a.ice.AddRelayedCandidate(alloc.Relayed.IP, alloc.Relayed.Port, serverHost, a.networkIDFor(alloc.Relayed.IP))
	cs.setLocalIdx(localIdx)
	relay := &relayTransport{alloc: alloc, sock: sock, serverAddr: serverAddr, prim: a.prim, pending: cs.pending}
	a.ice.SetTransport(localIdx, relay)

	a.startRefreshLoop(cs)
}

// startRefreshLoop periodically renews a relayed candidate's TURN
// allocation at three-quarters of its granted lifetime (spec.md §4.2). It
// runs on its own goroutine, not the dispatcher's timer wheel, since
// Refresh blocks on a network round trip and must never stall agent checks.
func (a *Agent) startRefreshLoop(cs *candidateSocket) {
	go func() {
		for {
			timer := time.NewTimer(cs.alloc.RefreshInterval())
			select {
			case <-a.done:
				timer.Stop()
				return
			case <-timer.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), ice.GatherTimeout)
			err := cs.alloc.Refresh(ctx, turnRefreshLifetime)
			cancel()
			if err != nil {
				a.log.Warnf("juice: refresh turn allocation on %s: %v", cs.serverAddr, err)
				return
			}
		}
	}()
}

// readDirectLoop demultiplexes inbound datagrams on a host/srflx/prflx
// candidate's own socket (spec.md §4.5): STUN requests go to the ICE
// agent's check handler, STUN responses/errors complete an outstanding
// RoundTrip, and anything else is application data delivered only if this
// candidate is part of the nominated pair.
func (a *Agent) readDirectLoop(cs *candidateSocket) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := cs.sock.ReadFrom(buf)
		if err != nil {
			return
		}
		raw := append([]byte(nil), buf[:n]...)
		udpAddr, _ := addr.(*net.UDPAddr)

		if stunmsg.IsStunMessage(raw) {
			msg, derr := stunmsg.Decode(raw)
			if derr != nil {
				a.log.Debugf("juice: drop malformed STUN datagram from %s: %v", addr, derr)
				continue
			}
			if msg.Class == stunmsg.ClassRequest {
				if localIdx := cs.getLocalIdx(); localIdx >= 0 {
					a.ice.RunLocked(func() { a.ice.HandleIncomingRequest(localIdx, msg, udpAddr) })
				}
				continue
			}
			cs.pending.deliver(msg)
			continue
		}

		if localIdx := cs.getLocalIdx(); localIdx >= 0 {
			a.ice.DeliverApplicationData(localIdx, raw)
		}
	}
}

// readTurnLoop demultiplexes inbound datagrams on a TURN control socket
// (spec.md §4.5): ChannelData and Data indications both carry a relayed
// payload from some peer, which is itself either a STUN message (a check,
// handled the same way readDirectLoop handles one) or application data.
// Everything else is an Allocate/Refresh/CreatePermission/ChannelBind
// response completing an outstanding transaction.
func (a *Agent) readTurnLoop(cs *candidateSocket) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := cs.sock.ReadFrom(buf)
		if err != nil {
			return
		}
		raw := append([]byte(nil), buf[:n]...)

		if turn.IsChannelData(raw) {
			number, payload, ok := turn.DecodeChannelData(raw)
			if !ok || cs.alloc == nil {
				continue
			}
			peer, ok := cs.alloc.PeerOf(number)
			if !ok {
				continue
			}
			a.handleRelayedPayload(cs, peer, payload)
			continue
		}

		if !stunmsg.IsStunMessage(raw) {
			continue
		}
		msg, derr := stunmsg.Decode(raw)
		if derr != nil {
			a.log.Debugf("juice: drop malformed turn datagram: %v", derr)
			continue
		}
		if msg.Class == stunmsg.ClassIndication && msg.Method == stunmsg.MethodData {
			if peer, payload, ok := turn.DecodeDataIndication(msg); ok {
				a.handleRelayedPayload(cs, peer, payload)
			}
			continue
		}
		cs.pending.deliver(msg)
	}
}

func (a *Agent) handleRelayedPayload(cs *candidateSocket, peer net.UDPAddr, payload []byte) {
	localIdx := cs.getLocalIdx()
	if localIdx < 0 {
		return
	}

	if stunmsg.IsStunMessage(payload) {
		inner, err := stunmsg.Decode(payload)
		if err != nil {
			a.log.Debugf("juice: drop malformed relayed STUN payload: %v", err)
			return
		}
		if inner.Class == stunmsg.ClassRequest {
			p := peer
			a.ice.RunLocked(func() { a.ice.HandleIncomingRequest(localIdx, inner, &p) })
			return
		}
		cs.pending.deliver(inner)
		return
	}

	a.ice.DeliverApplicationData(localIdx, payload)
}

// LocalDescription returns the session-description text block (spec.md §6)
// to hand to the signaling channel: local ufrag/password plus every
// candidate gathered so far.
func (a *Agent) LocalDescription() Description {
	ufrag, pwd := a.ice.LocalCredentials()
	d := Description{UFrag: ufrag, Pwd: pwd, EndOfCandidates: a.ice.GatheringState() == ice.GatheringStateComplete}
	for _, c := range a.ice.LocalCandidates() {
		d.Candidates = append(d.Candidates, FromCandidate(c))
	}
	return d
}

// SetRemoteDescription applies a peer's description: its credentials and
// every candidate it has gathered so far. Call it again as trickled
// candidates arrive over the signaling channel; this method is safe to call
// more than once.
func (a *Agent) SetRemoteDescription(d Description) {
	a.ice.SetRemoteCredentials(d.UFrag, d.Pwd)
	for _, c := range d.Candidates {
		a.ice.AddRemoteCandidate(c.Candidate())
	}
}

// StartChecking begins connectivity checks (RFC 8445 §6.1.4). Call it once
// the remote description has been applied.
func (a *Agent) StartChecking(ctx context.Context) {
	a.ice.StartChecking(ctx)
}

// SendData sends payload to the peer over the currently nominated pair.
func (a *Agent) SendData(payload []byte) error {
	return a.ice.SendData(payload)
}

// OnStateChange registers a callback invoked whenever the connection state
// changes (spec.md §4.4). Must be set before Gather/StartChecking.
func (a *Agent) OnStateChange(f func(ice.ConnectionState)) { a.ice.OnStateChange(f) }

// OnCandidate registers a callback invoked once per gathered local
// candidate, suitable for trickling candidates to the peer as they appear.
func (a *Agent) OnCandidate(f func(ice.Candidate)) { a.ice.OnCandidate(f) }

// OnGatheringDone registers a callback invoked once every gathering
// transaction has completed.
func (a *Agent) OnGatheringDone(f func()) { a.ice.OnGatheringDone(f) }

// OnData registers a callback invoked for each application datagram
// received on the nominated pair.
func (a *Agent) OnData(f func([]byte)) { a.ice.OnData(f) }

// State returns the current connection state.
func (a *Agent) State() ice.ConnectionState { return a.ice.State() }

// Close tears the agent down: every relayed candidate's TURN allocation is
// released with a best-effort Refresh(0) (RFC 5766 §7.1), every socket is
// closed, and the dispatcher loop is stopped. It is safe to call more than
// once.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	sockets := a.sockets
	a.mu.Unlock()

	close(a.done)

	var errs []error
	for _, cs := range sockets {
		if cs.alloc != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := cs.alloc.Refresh(ctx, 0); err != nil {
				a.log.Debugf("juice: best-effort turn release on %s: %v", cs.serverAddr, err)
			}
			cancel()
		}
		if err := cs.sock.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.loopCancel()
	a.disp.Close()

	if len(errs) == 0 {
		return nil
	}
	return errors.Wrap(errs[0], "juice: close agent")
}
