// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"net"

	"github.com/vspeak/grumbled/internal/metrics"
	"github.com/vspeak/grumbled/pkg/client"
	"github.com/vspeak/grumbled/pkg/voicepacket"
)

// sendEncryptedVoice encrypts frame under c's crypt state and sends it to
// ep over the shared UDP socket (spec.md §4.6).
func (s *Server) sendEncryptedVoice(c *client.Client, ep *net.UDPAddr, frame *client.Frame) {
	plain := encodeVoiceFrame(frame)

	c.Crypt.Mu.Lock()
	var out []byte
	c.Crypt.Encrypt(&out, plain)
	c.Crypt.Mu.Unlock()

	s.udpConn.WriteToUDP(out, ep)
	recordMessageLabel(metrics.ProtocolUDP, metrics.DirectionOut, voiceKindLabel, len(out))
}

// routeTunnelledVoice decodes a VoicePacket received as a TCP-tunnelled
// UDPTunnel frame and hands it back to c's own outbound queue as a
// RouteVoicePacket envelope, so the client's writer task is the one that
// actually calls FanOut (spec.md §4.6), matching the reader/writer split
// the rest of the control channel uses.
func (s *Server) routeTunnelledVoice(c *client.Client, buf []byte) {
	pkt, err := voicepacket.Parse(buf)
	if err != nil || pkt.Kind != voicepacket.KindAudio {
		return
	}
	c.Enqueue(client.RouteVoicePacket{
		Frame: &client.Frame{
			Target:    pkt.Target,
			Session:   c.Session,
			Sequence:  pkt.Sequence,
			Payload:   pkt.Payload,
			Timestamp: pkt.Timestamp,
		},
		SenderSession: c.Session,
	})
}

// encodeVoiceFrame renders frame back onto the wire, for delivery either
// over UDP (encrypted) or as a tunnelled TCP message.
func encodeVoiceFrame(frame *client.Frame) []byte {
	return voicepacket.Encode(nil, &voicepacket.Packet{
		Kind:      voicepacket.KindAudio,
		Session:   frame.Session,
		Sequence:  frame.Sequence,
		Payload:   frame.Payload,
		Timestamp: frame.Timestamp,
	}, frame.Target)
}
