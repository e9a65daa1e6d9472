// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"bytes"
	"log"
	"net"
	"testing"

	"github.com/vspeak/grumbled/pkg/channel"
	"github.com/vspeak/grumbled/pkg/client"
	"github.com/vspeak/grumbled/pkg/registry"
)

func udpAddrFor(t *testing.T, port int) *net.UDPAddr {
	t.Helper()
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func newFanoutServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		Registry: registry.New(),
		Log:      log.New(&bytes.Buffer{}, "", 0),
	}
}

func newFanoutClient(t *testing.T, r *registry.Registry, name string) *client.Client {
	t.Helper()
	var buf bytes.Buffer
	c := client.New(r.NextSessionID(), name, &buf, log.New(&buf, "", 0))
	r.AddClient(c)
	r.JoinChannel(channel.RootID, c.Session)
	c.SetChannel(channel.RootID)
	return c
}

func drainOne(t *testing.T, c *client.Client) client.Envelope {
	t.Helper()
	select {
	case env := <-c.Outbound():
		return env
	default:
		t.Fatalf("client %d: expected an enqueued envelope, found none", c.Session)
		return nil
	}
}

func TestFanOutChannelTargetReachesOtherResidentsNotSelf(t *testing.T) {
	s := newFanoutServer(t)
	sender := newFanoutClient(t, s.Registry, "sender")
	other := newFanoutClient(t, s.Registry, "other")

	frame := &client.Frame{Target: 0, Session: sender.Session, Payload: []byte("hi")}
	s.FanOut(sender, frame)

	env := drainOne(t, other)
	if _, ok := env.(client.SendVoicePacket); !ok {
		t.Fatalf("other resident should receive a SendVoicePacket, got %T", env)
	}

	select {
	case env := <-sender.Outbound():
		t.Fatalf("sender must not receive its own channel-target frame back, got %v", env)
	default:
	}
}

func TestFanOutLoopbackTargetReturnsOnlyToSender(t *testing.T) {
	s := newFanoutServer(t)
	sender := newFanoutClient(t, s.Registry, "sender")
	other := newFanoutClient(t, s.Registry, "other")

	frame := &client.Frame{Target: 31, Session: sender.Session, Payload: []byte("echo")}
	s.FanOut(sender, frame)

	drainOne(t, sender)

	select {
	case env := <-other.Outbound():
		t.Fatalf("loopback target 31 must not reach other clients, got %v", env)
	default:
	}
}

func TestFanOutMutedSenderSuppressesEverything(t *testing.T) {
	s := newFanoutServer(t)
	sender := newFanoutClient(t, s.Registry, "sender")
	other := newFanoutClient(t, s.Registry, "other")
	sender.SetMuted(true)

	s.FanOut(sender, &client.Frame{Target: 0, Session: sender.Session})

	select {
	case env := <-other.Outbound():
		t.Fatalf("a muted sender's frame must never be fanned out, got %v", env)
	default:
	}
}

func TestFanOutDeafenedRecipientIsSkipped(t *testing.T) {
	s := newFanoutServer(t)
	sender := newFanoutClient(t, s.Registry, "sender")
	deaf := newFanoutClient(t, s.Registry, "deaf")
	deaf.SetDeafened(true)

	s.FanOut(sender, &client.Frame{Target: 0, Session: sender.Session})

	select {
	case env := <-deaf.Outbound():
		t.Fatalf("a deafened recipient must not receive a fanned-out frame, got %v", env)
	default:
	}
}

func TestFanOutWhisperTargetReachesSlotSessionOnly(t *testing.T) {
	s := newFanoutServer(t)
	sender := newFanoutClient(t, s.Registry, "sender")
	targeted := newFanoutClient(t, s.Registry, "targeted")
	bystander := newFanoutClient(t, s.Registry, "bystander")

	slot := sender.Targets.Slot(1)
	slot.Set([]uint32{targeted.Session}, nil)

	s.FanOut(sender, &client.Frame{Target: 1, Session: sender.Session})

	drainOne(t, targeted)

	select {
	case env := <-bystander.Outbound():
		t.Fatalf("a whisper target must not reach clients outside the slot, got %v", env)
	default:
	}
}
