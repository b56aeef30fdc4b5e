package turn

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// channelLifetime is fixed by RFC 5766 §11 at 10 minutes.
const channelLifetime = 10 * time.Minute

// channelRefreshMargin: a binding is rebound once it has stood for 9
// minutes (1 minute before expiry), per spec.md §4.2.
const channelRefreshMargin = time.Minute

const (
	channelNumberMin = 0x4000
	channelNumberMax = 0x7ffe
)

// ChannelBind installs (or refreshes) a channel binding for peer, choosing
// the next free channel number in 0x4000-0x7FFE if one is not already
// bound. Per spec.md §4.2 the caller normally only does this after two
// successful Send indications to the same peer.
func (a *Allocation) ChannelBind(ctx context.Context, peer net.UDPAddr) (uint16, error) {
	key := peer.String()
	if number, ok := a.channelsRev[key]; ok {
		if err := a.bind(ctx, number, peer); err != nil {
			return 0, err
		}
		return number, nil
	}

	number, err := a.allocateChannelNumber()
	if err != nil {
		return 0, err
	}
	if err := a.bind(ctx, number, peer); err != nil {
		return 0, err
	}
	a.channels[number] = peer
	a.channelsRev[key] = number
	return number, nil
}

func (a *Allocation) bind(ctx context.Context, number uint16, peer net.UDPAddr) error {
	build := func(txID [stunmsg.TransactionIDSize]byte) []stunmsg.Attr {
		cn := make([]byte, 4)
		binary.BigEndian.PutUint16(cn, number)
		return []stunmsg.Attr{
			{Type: stunmsg.AttrChannelNumber, Value: cn},
			{Type: stunmsg.AttrXorPeerAddress, Value: stunmsg.EncodeXorAddress(peer.IP, peer.Port, txID)},
		}
	}
	if _, err := a.client.doBuilt(ctx, stunmsg.MethodChannelBind, build); err != nil {
		return errors.Wrap(err, "turn: channel bind")
	}
	a.channelsAt[number] = time.Now()
	return nil
}

// ChannelRefreshDue reports whether the channel bound to peer was last
// (re)bound more than channelLifetime-channelRefreshMargin ago and should
// be rebound before its 10-minute lifetime lapses.
func (a *Allocation) ChannelRefreshDue(peer net.UDPAddr) bool {
	number, ok := a.channelsRev[peer.String()]
	if !ok {
		return false
	}
	boundAt, ok := a.channelsAt[number]
	if !ok {
		return true
	}
	return time.Since(boundAt) >= channelLifetime-channelRefreshMargin
}

func (a *Allocation) allocateChannelNumber() (uint16, error) {
	for n := a.nextChannel; n <= channelNumberMax; n++ {
		if _, used := a.channels[n]; !used {
			a.nextChannel = n + 1
			return n, nil
		}
	}
	for n := uint16(channelNumberMin); n < a.nextChannel; n++ {
		if _, used := a.channels[n]; !used {
			a.nextChannel = n + 1
			return n, nil
		}
	}
	return 0, ErrChannelNumbersExhausted
}

// ChannelOf returns the channel number bound to peer, if any.
func (a *Allocation) ChannelOf(peer net.UDPAddr) (uint16, bool) {
	n, ok := a.channelsRev[peer.String()]
	return n, ok
}

// PeerOf reverses ChannelOf: it returns the peer bound to number, if any,
// letting the read loop demultiplex inbound ChannelData back to a peer
// address (spec.md §4.5).
func (a *Allocation) PeerOf(number uint16) (net.UDPAddr, bool) {
	peer, ok := a.channels[number]
	return peer, ok
}

// RecordSend tracks a Send indication to peer. ShouldBind reports true once
// two have been recorded without an intervening channel binding, letting
// the caller apply the "bind after two sends" heuristic from spec.md §4.2.
func (a *Allocation) RecordSend(peer net.UDPAddr) {
	key := peer.String()
	if _, bound := a.channelsRev[key]; bound {
		return
	}
	a.sendCounts[key]++
}

// ShouldBind reports whether peer has accumulated enough Send indications
// to justify installing a channel binding instead of continuing to use
// Send/Data indications.
func (a *Allocation) ShouldBind(peer net.UDPAddr) bool {
	return a.sendCounts[peer.String()] >= 2
}

// EncodeChannelData frames payload for channel number per RFC 5766 §11.4:
// a 2-byte channel number, a 2-byte length, the payload, then padding to a
// 4-byte boundary (the padding is not part of the length field).
func EncodeChannelData(number uint16, payload []byte) []byte {
	padded := len(payload)
	if r := padded % 4; r != 0 {
		padded += 4 - r
	}
	out := make([]byte, 4+padded)
	binary.BigEndian.PutUint16(out[0:2], number)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[4:], payload)
	return out
}

// DecodeChannelData reverses EncodeChannelData. It returns false if buf is
// too short to be a ChannelData message or its declared length overruns
// the buffer.
func DecodeChannelData(buf []byte) (number uint16, payload []byte, ok bool) {
	if len(buf) < 4 {
		return 0, nil, false
	}
	number = binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])
	if int(length)+4 > len(buf) {
		return 0, nil, false
	}
	return number, buf[4 : 4+int(length)], true
}

// IsChannelData reports whether the first two bits of buf's leading byte
// match a ChannelData channel number (0b01, since channel numbers fall in
// 0x4000-0x7FFE), distinguishing it from a STUN header (0b00) on the same
// socket, per spec.md §4.5.
func IsChannelData(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	return buf[0]&0xc0 == 0x40
}
