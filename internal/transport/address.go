// Package transport provides the host network plumbing underneath
// internal/ice: local address enumeration and the per-address UDP sockets
// candidates are gathered and checks are sent on. It wraps
// github.com/pion/transport/v4's Net abstraction so the agent can be
// pointed at a virtual network in tests the way pion/ice itself is.
package transport

import (
	"net"
	"strings"

	transportv4 "github.com/pion/transport/v4"
	"github.com/pion/transport/v4/stdnet"
	"github.com/pkg/errors"
)

// HostAddresses enumerates the local IP addresses eligible as ICE host
// candidates, per spec.md §4.3: loopback and link-local addresses are
// excluded, IPv4 addresses are kept in full, and IPv6 addresses are
// deduplicated to their first 64 bits (the routed prefix) so an interface
// that holds many privacy-extension temporary addresses on one prefix
// contributes only one candidate per prefix.
func HostAddresses(n transportv4.Net) ([]net.IP, error) {
	ifaces, err := n.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "transport: list interfaces")
	}

	seenV6Prefix := make(map[string]bool)
	var out []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip := addrOf(a)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				out = append(out, v4)
				continue
			}
			prefix := ip.Mask(net.CIDRMask(64, 128)).String()
			if seenV6Prefix[prefix] {
				continue
			}
			seenV6Prefix[prefix] = true
			out = append(out, ip)
		}
	}
	return out, nil
}

func addrOf(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			host = strings.TrimSuffix(a.String(), "/32")
		}
		return net.ParseIP(host)
	}
}

// NewDefaultNet returns the Net implementation backed by the real
// operating system, for production use outside of tests.
func NewDefaultNet() (transportv4.Net, error) {
	n, err := stdnet.NewNet()
	if err != nil {
		return nil, errors.Wrap(err, "transport: create stdnet")
	}
	return n, nil
}
