// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package voicepacket parses and encodes the decrypted payload of a Mumble
// UDP voice datagram: either a ping echo or an Opus audio frame. It mirrors
// the split Lotlab-grumble's pkg/mumbleproto/udp_packet.go makes between
// "packet kind" and "on-the-wire encoding", adapted to the legacy
// varint-framed header spec.md §6 specifies (1-byte type<<5|target header
// followed by varint fields and the codec payload) rather than that
// package's newer protobuf-framed alternative.
package voicepacket

import (
	"errors"

	"github.com/vspeak/grumbled/pkg/varint"
)

// Kind identifies the two UDP voice message shapes grumbled understands.
type Kind int

const (
	// KindAudio carries an Opus-encoded voice frame.
	KindAudio Kind = iota
	// KindPing carries a client/server liveness probe.
	KindPing
)

// udpMessageTypePing is the ping value of the legacy 3-bit message-type field packed into the
// high bits of the wire header byte (type<<5 | target).
const udpMessageTypePing = 1

// ErrShort is returned when a buffer is too small to contain a valid voice
// packet.
var ErrShort = errors.New("voicepacket: packet too short")

// Packet is a decoded UDP voice datagram. Target is meaningful only for
// audio packets: 0 is the sender's current channel, 1..=30 select a
// whisper-target slot, and 31 is loopback (spec.md §4.5).
type Packet struct {
	Kind      Kind
	Target    uint8
	Session   uint32
	Sequence  uint64
	Payload   []byte
	Timestamp uint64
}

// Parse decodes a datagram already known not to be the 12-byte anonymous
// ping (see spec.md §4.3 item 1, handled before this package is reached).
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < 1 {
		return nil, ErrShort
	}

	header := buf[0]
	msgType := (header >> 5) & 0x7
	target := header & 0x1F

	if msgType == udpMessageTypePing {
		rest := buf[1:]
		ts, n, err := varint.Decode(rest)
		if err != nil {
			return nil, err
		}
		_ = n
		return &Packet{Kind: KindPing, Timestamp: ts}, nil
	}

	rest := buf[1:]
	seq, n, err := varint.Decode(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]

	size, n, err := varint.Decode(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]

	payloadLen := int(size &^ 0x2000)
	if len(rest) < payloadLen {
		return nil, ErrShort
	}

	return &Packet{
		Kind:     KindAudio,
		Target:   target,
		Sequence: seq,
		Payload:  append([]byte(nil), rest[:payloadLen]...),
	}, nil
}

// Encode renders p into the wire format for the given target and sender
// session. For KindAudio, target overrides p.Target (used when stamping a
// frame for a loopback echo or a particular recipient); session is folded
// into the header only implicitly — Mumble's legacy format carries the
// sender identity out of band via the UDP binding, matching
// Lotlab-grumble's AudioPacket.LegacyData, which does not place the session
// id on the wire either; recipients learn "who" from which decrypt key
// succeeded.
func Encode(dst []byte, p *Packet, target uint8) []byte {
	if p.Kind == KindPing {
		dst = append(dst, byte(udpMessageTypePing)<<5)
		return varint.Encode(dst, p.Timestamp)
	}

	dst = append(dst, target&0x1F)
	dst = varint.Encode(dst, p.Sequence)
	dst = varint.Encode(dst, uint64(len(p.Payload)))
	dst = append(dst, p.Payload...)
	return dst
}
