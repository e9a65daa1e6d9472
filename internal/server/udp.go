// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"context"
	"encoding/binary"
	"net"

	"github.com/vspeak/grumbled/internal/metrics"
	"github.com/vspeak/grumbled/pkg/client"
	"github.com/vspeak/grumbled/pkg/registry"
	"github.com/vspeak/grumbled/pkg/voicepacket"
)

// maxUDPDatagram is large enough for any Mumble voice datagram; this
// module never needs to handle jumbo Opus frames.
const maxUDPDatagram = 2048

// RunUDP owns the shared UDP socket and runs the receive loop until ctx is
// cancelled (spec.md §4.3).
func (s *Server) RunUDP(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, maxUDPDatagram)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		datagram := append([]byte(nil), buf[:n]...)
		go s.handleUDPDatagram(conn, datagram, addr)
	}
}

func (s *Server) handleUDPDatagram(conn *net.UDPConn, buf []byte, addr *net.UDPAddr) {
	if isAnonymousPing(buf) {
		s.replyAnonymousPing(conn, buf, addr)
		return
	}

	if c, ok := s.Registry.ClientByUDP(addr); ok {
		s.decryptAndRoute(conn, c, buf, addr)
		return
	}

	s.probeAndBind(conn, buf, addr)
}

// isAnonymousPing recognizes the 12-byte zero-kind server-list ping
// (spec.md §4.3 item 1).
func isAnonymousPing(buf []byte) bool {
	return len(buf) == 12 && buf[0] == 0 && buf[1] == 0 && buf[2] == 0 && buf[3] == 0
}

func (s *Server) replyAnonymousPing(conn *net.UDPConn, buf []byte, addr *net.UDPAddr) {
	reply := make([]byte, 24)
	binary.BigEndian.PutUint32(reply[0:4], s.Config.ProtocolVersion)
	copy(reply[4:12], buf[4:12]) // echoed 8-byte client timestamp, sent back verbatim (little-endian on the wire already)
	binary.BigEndian.PutUint32(reply[12:16], uint32(s.Registry.ClientCount()))
	binary.BigEndian.PutUint32(reply[16:20], registry.MaxClients)
	binary.BigEndian.PutUint32(reply[20:24], registry.MaxBandwidth)
	conn.WriteToUDP(reply, addr)
}

func (s *Server) decryptAndRoute(conn *net.UDPConn, c *client.Client, buf []byte, addr *net.UDPAddr) {
	c.Crypt.Mu.Lock()
	plain, err := c.Crypt.Decrypt(buf)
	late := c.Crypt.Late
	c.Crypt.Mu.Unlock()

	if err != nil {
		if restartCryptOnDecryptError(err, late) {
			s.ResetCrypt(c)
		}
		return
	}

	s.handleDecryptedVoice(conn, c, plain, addr)
}

// probeAndBind implements spec.md §4.3 item 3: trial-decrypt against every
// client in the probe set, binding the winner.
func (s *Server) probeAndBind(conn *net.UDPConn, buf []byte, addr *net.UDPAddr) {
	var winner *client.Client
	var plain []byte

	s.Registry.RangeProbe(func(c *client.Client) bool {
		trial := append([]byte(nil), buf...)
		c.Crypt.Mu.Lock()
		p, err := c.Crypt.Decrypt(trial)
		c.Crypt.Mu.Unlock()
		if err == nil {
			winner = c
			plain = p
			return false
		}
		return true
	})

	if winner == nil {
		metrics.UDPUnmatchedTotal.Inc()
		return
	}

	s.Registry.BindUDP(winner.Session, addr)
	s.handleDecryptedVoice(conn, winner, plain, addr)
}

func (s *Server) handleDecryptedVoice(conn *net.UDPConn, c *client.Client, plain []byte, addr *net.UDPAddr) {
	recordMessageLabel(metrics.ProtocolUDP, metrics.DirectionIn, voiceKindLabel, len(plain))

	pkt, err := voicepacket.Parse(plain)
	if err != nil {
		return
	}

	if pkt.Kind == voicepacket.KindPing {
		s.echoVoicePing(conn, c, pkt, addr)
		return
	}

	s.FanOut(c, &client.Frame{
		Target:   pkt.Target,
		Session:  c.Session,
		Sequence: pkt.Sequence,
		Payload:  pkt.Payload,
	})
}

// echoVoicePing replies to a voice-plane ping over UDP; it does not
// traverse fan-out (spec.md §4.3).
func (s *Server) echoVoicePing(conn *net.UDPConn, c *client.Client, pkt *voicepacket.Packet, addr *net.UDPAddr) {
	plain := voicepacket.Encode(nil, pkt, 0)

	c.Crypt.Mu.Lock()
	var out []byte
	c.Crypt.Encrypt(&out, plain)
	c.Crypt.Mu.Unlock()

	conn.WriteToUDP(out, addr)
	recordMessageLabel(metrics.ProtocolUDP, metrics.DirectionOut, voiceKindLabel, len(out))
}
