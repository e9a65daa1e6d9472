// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"github.com/vspeak/grumbled/internal/metrics"
	"github.com/vspeak/grumbled/pkg/channel"
	"github.com/vspeak/grumbled/pkg/client"
)

// FanOut resolves the recipients of one client-bound voice frame and
// enqueues it onto each of their outbound queues (spec.md §4.5). frame is
// shared by reference across every recipient and must not be mutated
// after this call begins.
func (s *Server) FanOut(sender *client.Client, frame *client.Frame) {
	if sender.Muted() {
		return
	}

	if frame.Target == 31 {
		sender.Enqueue(client.SendVoicePacket{Frame: frame})
		return
	}

	recipients := make(map[uint32]*client.Client)

	switch {
	case frame.Target == 0:
		ch, ok := s.Registry.Channel(sender.Channel())
		if !ok {
			break
		}
		s.collectChannel(ch, recipients)

	case frame.Target >= 1 && frame.Target <= 30:
		slot := sender.Targets.Slot(frame.Target)
		if slot == nil {
			break
		}
		for _, session := range slot.Sessions() {
			if c, ok := s.Registry.Client(session); ok {
				recipients[c.Session] = c
			}
		}
		for _, chID := range slot.Channels() {
			if ch, ok := s.Registry.Channel(chID); ok {
				s.collectChannel(ch, recipients)
			}
		}

	default:
		s.Log.Printf("client %d: invalid voice target %d", sender.Session, frame.Target)
		return
	}

	for _, recipient := range recipients {
		if recipient.Deafened() {
			continue
		}
		if recipient.Session == sender.Session {
			continue
		}
		if !recipient.Enqueue(client.SendVoicePacket{Frame: frame}) {
			metrics.VoiceDroppedTotal.Inc()
		}
	}
}

func (s *Server) collectChannel(ch *channel.Channel, recipients map[uint32]*client.Client) {
	for _, session := range ch.Residents() {
		if c, ok := s.Registry.Client(session); ok {
			recipients[c.Session] = c
		}
	}
	for _, session := range ch.Listeners() {
		if c, ok := s.Registry.Client(session); ok {
			recipients[c.Session] = c
		}
	}
}
