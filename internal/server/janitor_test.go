// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"testing"
	"time"

	"github.com/vspeak/grumbled/pkg/client"
)

func TestJanitorPassDisconnectsStalePing(t *testing.T) {
	s := newFanoutServer(t)
	stale := newFanoutClient(t, s.Registry, "stale")
	stale.Touch()

	future := time.Now().Add(PingTimeout + time.Second)
	s.janitorPassAt(future, PingTimeout, CryptStaleness)

	env := drainOne(t, stale)
	d, ok := env.(client.Disconnect)
	if !ok {
		t.Fatalf("stale client should be enqueued a Disconnect, got %T", env)
	}
	if d.Reason == "" {
		t.Fatal("Disconnect envelope should carry a reason")
	}
}

func TestJanitorPassLeavesFreshClientAlone(t *testing.T) {
	s := newFanoutServer(t)
	fresh := newFanoutClient(t, s.Registry, "fresh")
	fresh.Touch()

	s.janitorPassAt(time.Now(), PingTimeout, CryptStaleness)

	select {
	case env := <-fresh.Outbound():
		t.Fatalf("a freshly-pinged client must not be disconnected, got %v", env)
	default:
	}
}

func TestJanitorPassResyncsStaleCrypt(t *testing.T) {
	s := newFanoutServer(t)
	c := newFanoutClient(t, s.Registry, "stalecrypt")
	c.Touch()

	addr := udpAddrFor(t, 61000)
	s.Registry.BindUDP(c.Session, addr)

	future := time.Now().Add(CryptStaleness + time.Second)
	s.janitorPassAt(future, PingTimeout, CryptStaleness)

	if _, ok := s.Registry.ClientByUDP(addr); ok {
		t.Fatal("a crypt resync must clear the client's bound UDP endpoint")
	}

	env := drainOne(t, c)
	if _, ok := env.(client.SendMessage); !ok {
		t.Fatalf("resync should enqueue a CryptSetup SendMessage, got %T", env)
	}
}
