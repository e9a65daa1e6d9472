// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package registry

import (
	"bytes"
	"log"
	"net"
	"testing"

	"github.com/vspeak/grumbled/pkg/channel"
	"github.com/vspeak/grumbled/pkg/client"
)

func newTestClient(t *testing.T, session uint32) *client.Client {
	t.Helper()
	var buf bytes.Buffer
	return client.New(session, "user", &buf, log.New(&buf, "", 0))
}

func TestNextSessionIDStrictlyIncreases(t *testing.T) {
	r := New()
	a := r.NextSessionID()
	b := r.NextSessionID()
	if b <= a {
		t.Fatalf("session ids not strictly increasing: %d then %d", a, b)
	}
}

func TestAddClientPutsItInProbeSet(t *testing.T) {
	r := New()
	c := newTestClient(t, r.NextSessionID())
	r.AddClient(c)

	if _, ok := r.Client(c.Session); !ok {
		t.Fatal("client should be found by session after AddClient")
	}
	found := false
	r.RangeProbe(func(pc *client.Client) bool {
		if pc.Session == c.Session {
			found = true
		}
		return true
	})
	if !found {
		t.Fatal("freshly added client must be in the probe set (spec.md §3 invariant)")
	}
}

func TestBindUDPRemovesFromProbeSet(t *testing.T) {
	r := New()
	c := newTestClient(t, r.NextSessionID())
	r.AddClient(c)

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 60000}
	if !r.BindUDP(c.Session, addr) {
		t.Fatal("BindUDP on a registered client should succeed")
	}

	found := false
	r.RangeProbe(func(pc *client.Client) bool {
		if pc.Session == c.Session {
			found = true
		}
		return true
	})
	if found {
		t.Fatal("bound client must leave the probe set")
	}

	got, ok := r.ClientByUDP(addr)
	if !ok || got.Session != c.Session {
		t.Fatal("ClientByUDP should resolve the bound address back to the client")
	}
}

func TestBindUDPRaceOnlyFirstWins(t *testing.T) {
	r := New()
	a := newTestClient(t, r.NextSessionID())
	b := newTestClient(t, r.NextSessionID())
	r.AddClient(a)
	r.AddClient(b)

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 60001}
	if !r.BindUDP(a.Session, addr) {
		t.Fatal("first bind should succeed")
	}
	// Second registrant racing for the same remote address must not steal
	// the binding (spec.md §9 "Address binding race").
	if !r.BindUDP(b.Session, addr) {
		t.Fatal("a losing BindUDP call still reports ok for its own decrypt")
	}
	got, _ := r.ClientByUDP(addr)
	if got.Session != a.Session {
		t.Fatalf("address must stay bound to the first client, got session %d", got.Session)
	}
}

func TestRemoveClientClearsAllMaps(t *testing.T) {
	r := New()
	c := newTestClient(t, r.NextSessionID())
	r.AddClient(c)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 60002}
	r.BindUDP(c.Session, addr)

	r.RemoveClient(c)

	if _, ok := r.Client(c.Session); ok {
		t.Fatal("RemoveClient must clear the by-session map")
	}
	if _, ok := r.ClientByUDP(addr); ok {
		t.Fatal("RemoveClient must clear the by-UDP map")
	}
	found := false
	r.RangeProbe(func(pc *client.Client) bool {
		if pc.Session == c.Session {
			found = true
		}
		return true
	})
	if found {
		t.Fatal("RemoveClient must clear the probe set")
	}
}

func TestLeaveChannelRemovesEmptyTemporaryChannel(t *testing.T) {
	r := New()
	parent := uint32(channel.RootID)
	temp := channel.New(r.NextChannelID(), &parent, "temp", true)
	r.AddChannel(temp)
	r.JoinChannel(temp.ID, 1)

	removed, didRemove := r.LeaveChannel(temp.ID, 1)
	if !didRemove || removed != temp.ID {
		t.Fatal("emptying a temporary non-root channel must remove it")
	}
	if _, ok := r.Channel(temp.ID); ok {
		t.Fatal("removed channel must not be findable afterward")
	}
}

func TestLeaveChannelKeepsRootEvenWhenEmpty(t *testing.T) {
	r := New()
	r.JoinChannel(channel.RootID, 1)
	_, didRemove := r.LeaveChannel(channel.RootID, 1)
	if didRemove {
		t.Fatal("root channel must never be removed")
	}
	if _, ok := r.Channel(channel.RootID); !ok {
		t.Fatal("root channel must still exist")
	}
}

func TestChannelByNameFindsExisting(t *testing.T) {
	r := New()
	parent := uint32(channel.RootID)
	ch := channel.New(r.NextChannelID(), &parent, "Lobby", true)
	r.AddChannel(ch)

	found, ok := r.ChannelByName("Lobby")
	if !ok || found.ID != ch.ID {
		t.Fatal("ChannelByName should find the registered channel")
	}
	if _, ok := r.ChannelByName("missing"); ok {
		t.Fatal("ChannelByName should report false for an unknown name")
	}
}

func TestClientByNameFindsRegisteredClient(t *testing.T) {
	r := New()
	var buf bytes.Buffer
	c := client.New(r.NextSessionID(), "alice", &buf, log.New(&buf, "", 0))
	r.AddClient(c)

	found, ok := r.ClientByName("alice")
	if !ok || found.Session != c.Session {
		t.Fatal("ClientByName should find the registered client by username")
	}
	if _, ok := r.ClientByName("bob"); ok {
		t.Fatal("ClientByName should report false for an unregistered username")
	}
}

func TestNegotiateCodecPicksPlurality(t *testing.T) {
	r := New()
	alpha, beta, preferAlpha, changed := r.NegotiateCodec([]int32{4, 4, 5})
	if !changed {
		t.Fatal("first negotiation with any votes must flip from the zero state")
	}
	if preferAlpha {
		if alpha != 4 {
			t.Fatalf("alpha = %d, want 4", alpha)
		}
	} else {
		if beta != 4 {
			t.Fatalf("beta = %d, want 4", beta)
		}
	}

	// Same plurality again: must not flip a second time.
	_, _, _, changed = r.NegotiateCodec([]int32{4, 4, 5})
	if changed {
		t.Fatal("unchanged plurality must not flip prefer_alpha again")
	}
}
