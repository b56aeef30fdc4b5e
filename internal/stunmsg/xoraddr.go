package stunmsg

import (
	"encoding/binary"
	"net"
)

const (
	familyIPv4 byte = 0x01
	familyIPv6 byte = 0x02
)

// EncodeXorAddress builds the value of an XOR-MAPPED-ADDRESS (or
// XOR-PEER-ADDRESS / XOR-RELAYED-ADDRESS, which share the same transform)
// attribute for ip/port under the given transaction id, per spec.md §4.1:
// the port is XORed with the top 16 bits of the magic cookie; an IPv4
// address is XORed with the magic cookie; an IPv6 address is XORed with
// the magic cookie followed by the 12-byte transaction id.
func EncodeXorAddress(ip net.IP, port int, txID [TransactionIDSize]byte) []byte {
	v4 := ip.To4()
	family := familyIPv6
	addr := ip.To16()
	if v4 != nil {
		family = familyIPv4
		addr = v4
	}

	key := make([]byte, 4+TransactionIDSize)
	binary.BigEndian.PutUint32(key, MagicCookie)
	copy(key[4:], txID[:])

	out := make([]byte, 4+len(addr))
	out[1] = family
	binary.BigEndian.PutUint16(out[2:4], uint16(port)^uint16(MagicCookie>>16))
	for i, b := range addr {
		out[4+i] = b ^ key[i]
	}
	return out
}

// DecodeXorAddress reverses EncodeXorAddress. It returns ErrMalformed for an
// unrecognized family or a length inconsistent with that family.
func DecodeXorAddress(value []byte, txID [TransactionIDSize]byte) (net.IP, int, error) {
	if len(value) < 4 {
		return nil, 0, ErrMalformed
	}
	family := value[1]
	addrLen := 4
	if family == familyIPv6 {
		addrLen = 16
	} else if family != familyIPv4 {
		return nil, 0, ErrMalformed
	}
	if len(value) != 4+addrLen {
		return nil, 0, ErrMalformed
	}

	port := binary.BigEndian.Uint16(value[2:4]) ^ uint16(MagicCookie>>16)

	key := make([]byte, 4+TransactionIDSize)
	binary.BigEndian.PutUint32(key, MagicCookie)
	copy(key[4:], txID[:])

	addr := make(net.IP, addrLen)
	for i := 0; i < addrLen; i++ {
		addr[i] = value[4+i] ^ key[i]
	}
	return addr, int(port), nil
}

// EncodeMappedAddress builds a (non-XORed) MAPPED-ADDRESS value.
func EncodeMappedAddress(ip net.IP, port int) []byte {
	v4 := ip.To4()
	family := familyIPv6
	addr := ip.To16()
	if v4 != nil {
		family = familyIPv4
		addr = v4
	}
	out := make([]byte, 4+len(addr))
	out[1] = family
	binary.BigEndian.PutUint16(out[2:4], uint16(port))
	copy(out[4:], addr)
	return out
}
