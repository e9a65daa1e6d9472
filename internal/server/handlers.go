// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	MumbleProto "layeh.com/gumble/gumble/MumbleProto"

	"google.golang.org/protobuf/proto"

	"github.com/vspeak/grumbled/pkg/channel"
	"github.com/vspeak/grumbled/pkg/client"
	"github.com/vspeak/grumbled/pkg/mumbleproto"
)

// maxChannelNameLength bounds ChannelState.Name (spec.md §4.4).
const maxChannelNameLength = 512

// Dispatch routes one decoded control-channel message to its handler
// (spec.md §4.4). Unrecognized-but-accepted kinds (BanList, TextMessage,
// ...) arrive here as msg == nil and are silently ignored.
func (s *Server) Dispatch(c *client.Client, kind mumbleproto.Kind, msg proto.Message) {
	if msg == nil {
		return
	}

	switch m := msg.(type) {
	case *MumbleProto.Version:
		// no-op: version was already exchanged during the handshake.
	case *MumbleProto.Authenticate:
		// no-op: post-handshake Authenticate messages are ignored.
	case *MumbleProto.Ping:
		s.handlePing(c, m)
	case *MumbleProto.CryptSetup:
		s.handleCryptSetup(c, m)
	case *MumbleProto.ChannelState:
		s.handleChannelState(c, m)
	case *MumbleProto.UserState:
		s.handleUserState(c, m)
	case *MumbleProto.VoiceTarget:
		s.handleVoiceTarget(c, m)
	case *MumbleProto.UDPTunnel:
		s.handleUDPTunnel(c, m)
	}
}

func (s *Server) handlePing(c *client.Client, in *MumbleProto.Ping) {
	c.Touch()

	c.Crypt.Mu.Lock()
	good, late, lost, resync := c.Crypt.Good, c.Crypt.Late, c.Crypt.Lost, c.Crypt.Resync
	c.Crypt.Mu.Unlock()

	out := &MumbleProto.Ping{
		Timestamp: in.Timestamp,
		Good:      proto.Uint32(good),
		Late:      proto.Uint32(late),
		Lost:      proto.Uint32(lost),
		Resync:    proto.Uint32(resync),
	}
	s.sendProto(c, out)
}

func (s *Server) handleCryptSetup(c *client.Client, in *MumbleProto.CryptSetup) {
	if nonce := in.GetClientNonce(); len(nonce) > 0 {
		c.Crypt.Mu.Lock()
		c.Crypt.SetDecryptNonce(nonce)
		c.Crypt.Mu.Unlock()
		return
	}
	s.sendCryptSetup(c)
}

// handleChannelState implements spec.md §4.4's creation-only ChannelState
// rule.
func (s *Server) handleChannelState(c *client.Client, in *MumbleProto.ChannelState) {
	if in.ChannelId != nil {
		s.Log.Printf("client %d: editing channels is not supported", c.Session)
		return
	}
	if in.Parent == nil {
		s.Log.Printf("client %d: cannot create channel without a parent", c.Session)
		return
	}
	if in.Name == nil {
		s.Log.Printf("client %d: cannot create channel without a name", c.Session)
		return
	}
	if in.Temporary == nil || !in.GetTemporary() {
		s.Log.Printf("client %d: cannot create non-temporary channel", c.Session)
		return
	}
	if len(in.GetName()) > maxChannelNameLength {
		s.Log.Printf("client %d: channel name too long", c.Session)
		return
	}
	if _, ok := s.Registry.Channel(in.GetParent()); !ok {
		s.Log.Printf("client %d: parent channel %d does not exist", c.Session, in.GetParent())
		return
	}

	name := in.GetName()
	if existing, ok := s.Registry.ChannelByName(name); ok {
		s.sendProto(c, channelStateOf(existing))
		s.moveToChannel(c, existing.ID)
		return
	}

	parent := in.GetParent()
	id := s.Registry.NextChannelID()
	ch := channel.New(id, &parent, name, true)
	s.Registry.AddChannel(ch)
	s.Registry.Broadcast(client.SendMessage{Kind: uint16(mumbleproto.KindChannelState), Payload: mustMarshal(channelStateOf(ch))})
	s.moveToChannel(c, ch.ID)
}

// handleUserState implements spec.md §4.4's UserState handler: honored
// only for self, applies mute/deaf/channel/listener changes.
func (s *Server) handleUserState(c *client.Client, in *MumbleProto.UserState) {
	if in.Session == nil || in.GetSession() != c.Session {
		return
	}

	if in.Mute != nil {
		c.SetMuted(in.GetMute())
	}
	if in.Deaf != nil {
		c.SetDeafened(in.GetDeaf())
	}

	if in.ChannelId != nil {
		if _, ok := s.Registry.Channel(in.GetChannelId()); ok {
			s.moveToChannel(c, in.GetChannelId())
		}
	}

	for _, id := range in.GetListeningChannelAdd() {
		if ch, ok := s.Registry.Channel(id); ok {
			ch.AddListener(c.Session)
		}
	}
	for _, id := range in.GetListeningChannelRemove() {
		if ch, ok := s.Registry.Channel(id); ok {
			ch.RemoveListener(c.Session)
		}
	}
}

// handleVoiceTarget implements spec.md §4.4's VoiceTarget handler.
func (s *Server) handleVoiceTarget(c *client.Client, in *MumbleProto.VoiceTarget) {
	id := in.GetId()
	if id < 1 || id > 30 {
		return
	}
	slot := c.Targets.Slot(uint8(id))
	if slot == nil {
		return
	}

	var sessions, channels []uint32
	seenSession := make(map[uint32]bool)
	seenChannel := make(map[uint32]bool)
	for _, item := range in.GetTargets() {
		for _, session := range item.GetSession() {
			if !seenSession[session] {
				seenSession[session] = true
				sessions = append(sessions, session)
			}
		}
		if item.ChannelId != nil {
			chID := item.GetChannelId()
			if !seenChannel[chID] {
				seenChannel[chID] = true
				channels = append(channels, chID)
			}
		}
	}
	slot.Set(sessions, channels)
}

// handleUDPTunnel implements the TCP-tunnelled voice path: a VoicePacket
// that arrived framed as UDPTunnel on the control channel instead of over
// UDP (used by clients without a working UDP path).
func (s *Server) handleUDPTunnel(c *client.Client, in *MumbleProto.UDPTunnel) {
	s.routeTunnelledVoice(c, in.GetPacket())
}

func (s *Server) moveToChannel(c *client.Client, id uint32) {
	prev := c.Channel()
	if removed, didRemove := s.Registry.LeaveChannel(prev, c.Session); didRemove {
		s.Registry.Broadcast(client.SendMessage{
			Kind:    uint16(mumbleproto.KindChannelRemove),
			Payload: mustMarshal(&MumbleProto.ChannelRemove{ChannelId: proto.Uint32(removed)}),
		})
	}
	s.Registry.JoinChannel(id, c.Session)
	c.SetChannel(id)
}

func channelStateOf(ch *channel.Channel) *MumbleProto.ChannelState {
	state := &MumbleProto.ChannelState{
		ChannelId: proto.Uint32(ch.ID),
		Name:      proto.String(ch.Name),
		Temporary: proto.Bool(ch.Temporary),
		Position:  proto.Int32(int32(ch.ID)),
	}
	if ch.ParentID != nil {
		state.Parent = proto.Uint32(*ch.ParentID)
	}
	return state
}

func mustMarshal(msg proto.Message) []byte {
	b, err := proto.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return b
}

// sendProto marshals msg and enqueues it as a SendMessage envelope.
func (s *Server) sendProto(c *client.Client, msg proto.Message) bool {
	kind, payload, err := mumbleproto.Marshal(msg)
	if err != nil {
		s.Log.Printf("client %d: marshal %T: %v", c.Session, msg, err)
		return false
	}
	return c.Enqueue(client.SendMessage{Kind: uint16(kind), Payload: payload})
}
