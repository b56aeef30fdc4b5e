package turn

import (
	"net"

	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// EncodeSendIndication builds a Send indication carrying payload to peer
// (RFC 5766 §10.1). Indications carry no MESSAGE-INTEGRITY retry logic:
// the caller fires and forgets.
func (a *Allocation) EncodeSendIndication(peer net.UDPAddr, payload []byte) (*stunmsg.Message, error) {
	txID, err := a.client.newTxID()
	if err != nil {
		return nil, err
	}
	m := stunmsg.New(stunmsg.ClassIndication, stunmsg.MethodSend, txID)
	m.Add(stunmsg.AttrXorPeerAddress, stunmsg.EncodeXorAddress(peer.IP, peer.Port, txID))
	m.Add(stunmsg.AttrData, payload)
	return m, nil
}

// DecodeDataIndication extracts the peer address and payload from a
// received Data indication (RFC 5766 §10.4).
func DecodeDataIndication(m *stunmsg.Message) (peer net.UDPAddr, payload []byte, ok bool) {
	if m.Class != stunmsg.ClassIndication || m.Method != stunmsg.MethodData {
		return net.UDPAddr{}, nil, false
	}
	addrAttr, hasAddr := m.Get(stunmsg.AttrXorPeerAddress)
	dataAttr, hasData := m.Get(stunmsg.AttrData)
	if !hasAddr || !hasData {
		return net.UDPAddr{}, nil, false
	}
	ip, port, err := stunmsg.DecodeXorAddress(addrAttr.Value, m.TransactionID)
	if err != nil {
		return net.UDPAddr{}, nil, false
	}
	return net.UDPAddr{IP: ip, Port: port}, dataAttr.Value, true
}
