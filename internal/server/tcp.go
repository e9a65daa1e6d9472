// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net"
	"strconv"

	MumbleProto "layeh.com/gumble/gumble/MumbleProto"

	"google.golang.org/protobuf/proto"

	"github.com/vspeak/grumbled/internal/metrics"
	"github.com/vspeak/grumbled/pkg/channel"
	"github.com/vspeak/grumbled/pkg/client"
	"github.com/vspeak/grumbled/pkg/mumbleproto"
	"github.com/vspeak/grumbled/pkg/registry"
)

// ErrCapacity is the error the accept path logs when it closes a new
// connection because the registry is full (spec.md §4.2: "The server
// rejects new TCP connections when the registered-client count reaches
// 4096").
var ErrCapacity = errors.New("server: at client capacity")

// RunTCP accepts TLS connections on ln until ctx is cancelled, spawning
// one handshake+read/write pair per connection (spec.md §4.2, §5).
func (s *Server) RunTCP(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Log.Printf("accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if s.Registry.AtCapacity() {
		s.Log.Printf("%s: rejected: %v", conn.RemoteAddr(), ErrCapacity)
		return
	}

	tlsConn, ok := conn.(*tls.Conn)
	if ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			s.Log.Printf("%s: tls handshake: %v", conn.RemoteAddr(), err)
			return
		}
	}

	c, err := s.handshake(conn)
	if err != nil {
		s.Log.Printf("%s: handshake: %v", conn.RemoteAddr(), err)
		return
	}

	done := make(chan struct{})
	go func() {
		s.writerLoop(c)
		conn.Close()
		close(done)
	}()

	s.readerLoop(conn, c)

	c.CloseOutbound()
	<-done

	s.disconnect(c)
}

// handshake runs spec.md §4.2 steps 1-9 and returns the newly registered
// client.
func (s *Server) handshake(conn net.Conn) (*client.Client, error) {
	_, payload, err := mumbleproto.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	clientVersion := &MumbleProto.Version{}
	if err := proto.Unmarshal(payload, clientVersion); err != nil {
		return nil, err
	}

	if err := mumbleproto.WriteFrame(conn, mumbleproto.KindVersion, mustMarshal(&MumbleProto.Version{
		Version: proto.Uint32(s.Config.ProtocolVersion),
		Release: proto.String("grumbled"),
	})); err != nil {
		return nil, err
	}

	_, payload, err = mumbleproto.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	auth := &MumbleProto.Authenticate{}
	if err := proto.Unmarshal(payload, auth); err != nil {
		return nil, err
	}

	session := s.Registry.NextSessionID()
	username := auth.GetUsername()

	logger := log.New(s.Log.Writer(), "", 0)
	c := client.New(session, username, conn, logger)
	c.Codecs = auth.GetCeltVersions()

	c.Crypt.Mu.Lock()
	setup := c.Crypt.GetSetup()
	c.Crypt.Mu.Unlock()
	if err := mumbleproto.WriteFrame(conn, mumbleproto.KindCryptSetup, mustMarshal(&MumbleProto.CryptSetup{
		Key:         setup.Key[:],
		ClientNonce: setup.EncryptIV[:],
		ServerNonce: setup.DecryptIV[:],
	})); err != nil {
		return nil, err
	}

	s.Registry.AddClient(c)
	metrics.ClientsTotal.Inc()
	s.Registry.JoinChannel(channel.RootID, c.Session)
	c.SetChannel(channel.RootID)

	alpha, beta, preferAlpha, changed := s.Registry.NegotiateCodec(c.Codecs)
	codecVersion := &MumbleProto.CodecVersion{
		Alpha:       proto.Int32(alpha),
		Beta:        proto.Int32(beta),
		PreferAlpha: proto.Bool(preferAlpha),
		Opus:        proto.Bool(true),
	}
	if changed {
		s.Registry.Broadcast(client.SendMessage{Kind: uint16(mumbleproto.KindCodecVersion), Payload: mustMarshal(codecVersion)})
	} else {
		if err := mumbleproto.WriteFrame(conn, mumbleproto.KindCodecVersion, mustMarshal(codecVersion)); err != nil {
			return nil, err
		}
	}

	s.Registry.RangeChannels(func(ch *channel.Channel) bool {
		return mumbleproto.WriteFrame(conn, mumbleproto.KindChannelState, mustMarshal(channelStateOf(ch))) == nil
	})
	s.Registry.RangeClients(func(other *client.Client) bool {
		if other.Session == c.Session {
			return true
		}
		return mumbleproto.WriteFrame(conn, mumbleproto.KindUserState, mustMarshal(userStateOf(other))) == nil
	})

	if err := mumbleproto.WriteFrame(conn, mumbleproto.KindUserState, mustMarshal(userStateOf(c))); err != nil {
		return nil, err
	}
	if err := mumbleproto.WriteFrame(conn, mumbleproto.KindServerSync, mustMarshal(&MumbleProto.ServerSync{
		Session:      proto.Uint32(c.Session),
		MaxBandwidth: proto.Uint32(registry.MaxBandwidth),
		WelcomeText:  proto.String(s.Config.Welcome),
	})); err != nil {
		return nil, err
	}
	if err := mumbleproto.WriteFrame(conn, mumbleproto.KindServerConfig, mustMarshal(&MumbleProto.ServerConfig{
		AllowHtml:          proto.Bool(true),
		MessageLength:      proto.Uint32(512),
		ImageMessageLength: proto.Uint32(0),
	})); err != nil {
		return nil, err
	}

	s.Registry.Broadcast(client.SendMessage{Kind: uint16(mumbleproto.KindUserState), Payload: mustMarshal(userStateOf(c))})
	s.pushStatus()

	return c, nil
}

func (s *Server) readerLoop(conn net.Conn, c *client.Client) {
	for {
		kind, payload, err := mumbleproto.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.Log.Printf("client %d: read: %v", c.Session, err)
			}
			return
		}
		recordMessage(metrics.ProtocolTCP, metrics.DirectionIn, kind, len(payload))

		msg, err := mumbleproto.Unmarshal(mumbleproto.Kind(kind), payload)
		if err != nil {
			s.Log.Printf("client %d: decode kind %d: %v", c.Session, kind, err)
			return
		}
		s.Dispatch(c, mumbleproto.Kind(kind), msg)
	}
}

func (s *Server) writerLoop(c *client.Client) {
	for env := range c.Outbound() {
		switch e := env.(type) {
		case client.SendMessage:
			if err := c.WriteFramed(mumbleproto.FrameBytes(mumbleproto.Kind(e.Kind), e.Payload)); err != nil {
				return
			}
			recordMessage(metrics.ProtocolTCP, metrics.DirectionOut, mumbleproto.Kind(e.Kind), len(e.Payload))
		case client.SendVoicePacket:
			if ep := c.UDPEndpoint(); ep != nil && s.udpConn != nil {
				s.sendEncryptedVoice(c, ep, e.Frame)
				continue
			}
			wire := encodeVoiceFrame(e.Frame)
			if err := c.WriteFramed(mumbleproto.FrameBytes(mumbleproto.KindUDPTunnel, wire)); err != nil {
				return
			}
			recordMessage(metrics.ProtocolTCP, metrics.DirectionOut, mumbleproto.KindUDPTunnel, len(wire))
		case client.RouteVoicePacket:
			if sender, ok := s.Registry.Client(e.SenderSession); ok {
				s.FanOut(sender, e.Frame)
			}
		case client.Disconnect:
			c.CloseOutbound()
			return
		}
	}
}

func (s *Server) disconnect(c *client.Client) {
	s.Registry.RemoveClient(c)
	metrics.ClientsTotal.Dec()

	s.Registry.RangeChannels(func(ch *channel.Channel) bool {
		ch.RemoveClient(c.Session)
		return true
	})
	removed, didRemove := s.Registry.LeaveChannel(c.Channel(), c.Session)

	s.Registry.Broadcast(client.SendMessage{
		Kind: uint16(mumbleproto.KindUserRemove),
		Payload: mustMarshal(&MumbleProto.UserRemove{
			Session: proto.Uint32(c.Session),
			Reason:  proto.String("disconnected"),
		}),
	})

	if didRemove {
		s.Registry.Broadcast(client.SendMessage{
			Kind:    uint16(mumbleproto.KindChannelRemove),
			Payload: mustMarshal(&MumbleProto.ChannelRemove{ChannelId: proto.Uint32(removed)}),
		})
	}
	s.pushStatus()
}

// recordMessage increments the messages_total/messages_bytes pair spec.md
// §6 calls out as the metrics collaborator's responsibility for every
// framed message, tagged by protocol, direction, and kind.
func recordMessage(protocol, direction string, kind mumbleproto.Kind, payloadBytes int) {
	recordMessageLabel(protocol, direction, strconv.Itoa(int(kind)), payloadBytes)
}

// voiceKindLabel tags UDP voice datagrams, which carry no mumbleproto.Kind
// of their own.
const voiceKindLabel = "voice"

func recordMessageLabel(protocol, direction, kindLabel string, payloadBytes int) {
	metrics.MessagesTotal.WithLabelValues(protocol, direction, kindLabel).Inc()
	metrics.MessagesBytes.WithLabelValues(protocol, direction, kindLabel).Add(float64(payloadBytes))
}

func userStateOf(c *client.Client) *MumbleProto.UserState {
	return &MumbleProto.UserState{
		Session:   proto.Uint32(c.Session),
		Name:      proto.String(c.Username),
		ChannelId: proto.Uint32(c.Channel()),
		Mute:      proto.Bool(c.Muted()),
		Deaf:      proto.Bool(c.Deafened()),
	}
}

