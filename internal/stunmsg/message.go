// Package stunmsg implements the STUN (RFC 5389/8489) message codec: header
// and attribute encode/decode, MESSAGE-INTEGRITY (HMAC-SHA1) and
// FINGERPRINT (CRC-32) over a virtually rewritten header length, and the
// XOR-MAPPED-ADDRESS transform. It is the wire format shared by the ICE
// connectivity checks (internal/ice) and the TURN client (internal/turn).
package stunmsg

import (
	"encoding/binary"
	"fmt"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
)

// Class is the two-bit STUN message class (request/indication/success/error).
type Class uint16

// STUN message classes, RFC 5389 §6.
const (
	ClassRequest         Class = 0x000
	ClassIndication      Class = 0x010
	ClassSuccessResponse Class = 0x100
	ClassErrorResponse   Class = 0x110
)

func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassIndication:
		return "indication"
	case ClassSuccessResponse:
		return "success"
	case ClassErrorResponse:
		return "error"
	default:
		return fmt.Sprintf("class(0x%03x)", uint16(c))
	}
}

// Method is the 12-bit STUN method.
type Method uint16

// Methods used by this module: Binding (RFC 5389) and the six TURN methods
// (RFC 5766).
const (
	MethodBinding          Method = 0x0001
	MethodAllocate         Method = 0x0003
	MethodRefresh          Method = 0x0004
	MethodSend             Method = 0x0006
	MethodData             Method = 0x0007
	MethodCreatePermission Method = 0x0008
	MethodChannelBind      Method = 0x0009
)

func (m Method) String() string {
	switch m {
	case MethodBinding:
		return "Binding"
	case MethodAllocate:
		return "Allocate"
	case MethodRefresh:
		return "Refresh"
	case MethodSend:
		return "Send"
	case MethodData:
		return "Data"
	case MethodCreatePermission:
		return "CreatePermission"
	case MethodChannelBind:
		return "ChannelBind"
	default:
		return fmt.Sprintf("method(0x%03x)", uint16(m))
	}
}

// AttrType is a STUN/TURN attribute type code.
type AttrType uint16

// Attribute type codes handled by this codec (spec.md §4.1).
const (
	AttrMappedAddress      AttrType = 0x0001
	AttrUsername           AttrType = 0x0006
	AttrMessageIntegrity   AttrType = 0x0008
	AttrErrorCode          AttrType = 0x0009
	AttrUnknownAttributes  AttrType = 0x000A
	AttrChannelNumber      AttrType = 0x000C
	AttrLifetime           AttrType = 0x000D
	AttrXorPeerAddress     AttrType = 0x0012
	AttrData               AttrType = 0x0013
	AttrRealm              AttrType = 0x0014
	AttrNonce              AttrType = 0x0015
	AttrXorRelayedAddress  AttrType = 0x0016
	AttrRequestedTransport AttrType = 0x0019
	AttrDontFragment       AttrType = 0x001A
	AttrXorMappedAddress   AttrType = 0x0020
	AttrPriority           AttrType = 0x0024
	AttrUseCandidate       AttrType = 0x0025
	AttrSoftware           AttrType = 0x8022
	AttrFingerprint        AttrType = 0x8028
	AttrIceControlled      AttrType = 0x8029
	AttrIceControlling     AttrType = 0x802A
)

func (t AttrType) String() string {
	switch t {
	case AttrMappedAddress:
		return "MAPPED-ADDRESS"
	case AttrUsername:
		return "USERNAME"
	case AttrMessageIntegrity:
		return "MESSAGE-INTEGRITY"
	case AttrErrorCode:
		return "ERROR-CODE"
	case AttrUnknownAttributes:
		return "UNKNOWN-ATTRIBUTES"
	case AttrChannelNumber:
		return "CHANNEL-NUMBER"
	case AttrLifetime:
		return "LIFETIME"
	case AttrXorPeerAddress:
		return "XOR-PEER-ADDRESS"
	case AttrData:
		return "DATA"
	case AttrRealm:
		return "REALM"
	case AttrNonce:
		return "NONCE"
	case AttrXorRelayedAddress:
		return "XOR-RELAYED-ADDRESS"
	case AttrRequestedTransport:
		return "REQUESTED-TRANSPORT"
	case AttrDontFragment:
		return "DONT-FRAGMENT"
	case AttrXorMappedAddress:
		return "XOR-MAPPED-ADDRESS"
	case AttrPriority:
		return "PRIORITY"
	case AttrUseCandidate:
		return "USE-CANDIDATE"
	case AttrSoftware:
		return "SOFTWARE"
	case AttrFingerprint:
		return "FINGERPRINT"
	case AttrIceControlled:
		return "ICE-CONTROLLED"
	case AttrIceControlling:
		return "ICE-CONTROLLING"
	default:
		return fmt.Sprintf("attr(0x%04x)", uint16(t))
	}
}

// isComprehensionRequired reports whether an unrecognized attribute of this
// type must cause the message to be rejected with UnknownRequired (RFC 5389
// §15: attribute types below 0x8000 are comprehension-required).
func (t AttrType) isComprehensionRequired() bool {
	return t < 0x8000
}

// MagicCookie is the fixed STUN magic cookie (RFC 5389 §6).
const MagicCookie uint32 = 0x2112A442

// HeaderSize is the fixed STUN header length in bytes.
const HeaderSize = 20

// TransactionIDSize is the STUN transaction id length in bytes (96 bits).
const TransactionIDSize = 12

// Attr is one decoded or to-be-encoded STUN attribute: a type and its raw
// (unpadded) value. Address attributes, USERNAME, etc. are encoded/decoded
// into this raw form by the helpers in xoraddr.go and errorcode.go.
type Attr struct {
	Type  AttrType
	Value []byte
}

// Message is a decoded or under-construction STUN message.
type Message struct {
	Class         Class
	Method        Method
	TransactionID [TransactionIDSize]byte
	Attributes    []Attr

	// raw holds the original wire bytes for a decoded message, and
	// miOffset/fpOffset the byte offset of the MESSAGE-INTEGRITY and
	// FINGERPRINT attribute headers within raw (-1 if absent). They let
	// VerifyMessageIntegrity and VerifyFingerprint recompute the exact
	// virtually-rewritten prefix the sender signed, without re-serializing
	// attributes the codec does not otherwise understand.
	raw      []byte
	miOffset int
	fpOffset int
}

// New creates a message ready for attributes to be appended with Add.
func New(class Class, method Method, txID [TransactionIDSize]byte) *Message {
	return &Message{
		Class:         class,
		Method:        method,
		TransactionID: txID,
		miOffset:      -1,
		fpOffset:      -1,
	}
}

// Add appends an attribute. Attributes are encoded in the order Add is
// called (the codec never reorders them), per spec.md §4.1's encoding
// contract.
func (m *Message) Add(t AttrType, value []byte) {
	m.Attributes = append(m.Attributes, Attr{Type: t, Value: value})
}

// Get returns the first attribute of type t.
func (m *Message) Get(t AttrType) (Attr, bool) {
	for _, a := range m.Attributes {
		if a.Type == t {
			return a, true
		}
	}
	return Attr{}, false
}

// HasMessageIntegrity reports whether the decoded message carried a
// MESSAGE-INTEGRITY attribute.
func (m *Message) HasMessageIntegrity() bool {
	return m.miOffset >= 0
}

// typeToWire and wireToTypeParts implement the bit interleaving of RFC 5389
// §6: the 16-bit type field is "00 M M M M C M M M C M M M M" (MSB first) —
// a 12-bit method split across three runs of bits, with the two class bits
// inserted after method bit 6 (at wire bit 8) and after method bit 3 (at
// wire bit 4). The Class constants above are already expressed in their
// final wire position (0x000/0x010/0x100/0x110), so encoding/decoding the
// class is a plain mask once the method bits are untangled.
func typeToWire(method Method, class Class) uint16 {
	m := uint16(method)
	a := m & 0x000f         // method bits 0-3 -> wire bits 0-3
	b := m & 0x0070         // method bits 4-6 -> wire bits 5-7
	e := m & 0x0f80         // method bits 7-11 -> wire bits 9-13
	encodedMethod := a | (b << 1) | (e << 2)
	return encodedMethod | uint16(class)
}

func wireToTypeParts(wire uint16) (Method, Class) {
	class := Class(wire & 0x110)
	a := wire & 0x000f
	b := (wire >> 1) & 0x0070
	e := (wire >> 2) & 0x0f80
	method := Method(a | b | e)
	return method, class
}

func putUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
