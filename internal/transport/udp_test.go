package transport

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewHostSocketPortRangeExhausted covers spec.md §8 scenario 5: binding
// against a PortRange where every candidate port is already taken must fail
// with ErrSocketExhausted, testable via errors.Is.
func TestNewHostSocketPortRangeExhausted(t *testing.T) {
	ip := net.ParseIP("127.0.0.1")

	held, err := bindAt(ip, 0)
	require.NoError(t, err)
	defer held.Close()

	port := uint16(held.LocalAddr.Port)

	_, err = NewHostSocket(ip, port, port)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSocketExhausted))
}

func TestNewHostSocketInvalidRange(t *testing.T) {
	ip := net.ParseIP("127.0.0.1")
	_, err := NewHostSocket(ip, 5000, 4000)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrSocketExhausted))
}

func TestNewHostSocketAnyPort(t *testing.T) {
	ip := net.ParseIP("127.0.0.1")
	sock, err := NewHostSocket(ip, 0, 0)
	require.NoError(t, err)
	defer sock.Close()
	require.NotZero(t, sock.LocalAddr.Port)
}

func TestSocketReadWriteTo(t *testing.T) {
	ip := net.ParseIP("127.0.0.1")
	a, err := NewHostSocket(ip, 0, 0)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewHostSocket(ip, 0, 0)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.WriteTo([]byte("ping"), &b.LocalAddr)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, _, err := b.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestSocketCloseSucceeds(t *testing.T) {
	ip := net.ParseIP("127.0.0.1")
	sock, err := NewHostSocket(ip, 0, 0)
	require.NoError(t, err)
	require.NoError(t, sock.Close())
}
