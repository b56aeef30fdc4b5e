package transport

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// portCursor is the process-wide next-port-to-try for PortRange binding.
// It starts at zero and only SeedPortCursor moves it elsewhere; nothing in
// this module calls SeedPortCursor, so every process starts scanning the
// configured range from the same offset.
var portCursor uint32

// SeedPortCursor sets the starting point for port-range allocation. Call it
// once at startup with a cryptographically random 32-bit value.
func SeedPortCursor(seed uint32) {
	atomic.StoreUint32(&portCursor, seed)
}

// Socket is one bound, family-specific UDP socket with its PacketConn
// (ipv4 or ipv6, whichever matches LocalAddr), through which SetDSCP sets
// the socket's outgoing DiffServ code point.
type Socket struct {
	Conn      *net.UDPConn
	LocalAddr net.UDPAddr

	v4 *ipv4.PacketConn
	v6 *ipv6.PacketConn
}

// ErrSocketExhausted is the SocketError-class sentinel of spec.md §7: every
// port in a configured PortRange is already bound. Callers match it with
// errors.Is.
var ErrSocketExhausted = errors.New("transport: no free port in range")

// NewHostSocket binds a UDP socket on ip. If portMin/portMax are both zero
// the OS chooses the port; otherwise binding is attempted at successive
// ports starting from the shared portCursor, wrapping within
// [portMin, portMax], per spec.md §4.3's port-range configuration.
func NewHostSocket(ip net.IP, portMin, portMax uint16) (*Socket, error) {
	if portMin == 0 && portMax == 0 {
		return bindAt(ip, 0)
	}
	if portMin > portMax {
		return nil, fmt.Errorf("transport: invalid port range %d-%d", portMin, portMax)
	}

	span := uint32(portMax-portMin) + 1
	start := atomic.AddUint32(&portCursor, 1) % span
	for i := uint32(0); i < span; i++ {
		port := portMin + uint16((start+i)%span)
		sock, err := bindAt(ip, port)
		if err == nil {
			return sock, nil
		}
	}
	return nil, errors.Wrapf(ErrSocketExhausted, "%d-%d on %s", portMin, portMax, ip)
}

func bindAt(ip net.IP, port uint16) (*Socket, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: int(port)})
	if err != nil {
		return nil, err
	}
	sock := &Socket{Conn: conn, LocalAddr: *conn.LocalAddr().(*net.UDPAddr)}
	if ip4 := ip.To4(); ip4 != nil {
		sock.v4 = ipv4.NewPacketConn(conn)
	} else {
		sock.v6 = ipv6.NewPacketConn(conn)
	}
	return sock, nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return errors.Wrap(s.Conn.Close(), "transport: close socket")
}

// ReadFrom reads one datagram straight from the UDP socket; no per-packet
// control data is read.
func (s *Socket) ReadFrom(buf []byte) (int, net.Addr, error) {
	return s.Conn.ReadFrom(buf)
}

// WriteTo sends one datagram to dst.
func (s *Socket) WriteTo(buf []byte, dst net.Addr) (int, error) {
	return s.Conn.WriteTo(buf, dst)
}

// SetDSCP sets the outgoing DiffServ code point on this socket's datagrams,
// using whichever of ipv4/ipv6's PacketConn matches the socket's bound
// family (the two APIs expose the same concept under different names: TOS
// for v4, traffic class for v6).
func (s *Socket) SetDSCP(dscp int) error {
	if s.v4 != nil {
		return s.v4.SetTOS(dscp << 2)
	}
	return s.v6.SetTrafficClass(dscp << 2)
}
