// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package client

import (
	"bytes"
	"log"
	"net"
	"testing"
)

func newTestClient(t *testing.T) (*Client, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	return New(1, "alice", &buf, logger), &buf
}

func TestMuteDeafRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)

	c.SetMuted(true)
	if !c.Muted() {
		t.Fatal("SetMuted(true) then Muted() should be true")
	}
	c.SetMuted(false)
	if c.Muted() {
		t.Fatal("SetMuted(false) then Muted() should be false")
	}

	c.SetDeafened(true)
	if !c.Deafened() {
		t.Fatal("SetDeafened(true) then Deafened() should be true")
	}
}

func TestSetChannelRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetChannel(7)
	if c.Channel() != 7 {
		t.Fatalf("Channel() = %d, want 7", c.Channel())
	}
}

func TestEnqueueAndDrain(t *testing.T) {
	c, _ := newTestClient(t)
	env := SendMessage{Kind: 1, Payload: []byte("hi")}
	if !c.Enqueue(env) {
		t.Fatal("Enqueue should succeed on a fresh queue")
	}
	got := <-c.Outbound()
	if got.(SendMessage).Kind != 1 {
		t.Fatalf("drained envelope = %v", got)
	}
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	c, _ := newTestClient(t)
	c.CloseOutbound()
	if c.Enqueue(SendMessage{Kind: 1}) {
		t.Fatal("Enqueue onto a closed queue must report failure, not panic")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	c, _ := newTestClient(t)
	for i := 0; i < OutboundQueueCapacity; i++ {
		if !c.Enqueue(SendMessage{Kind: 1}) {
			t.Fatalf("queue rejected envelope %d before reaching capacity", i)
		}
	}
	if c.Enqueue(SendMessage{Kind: 1}) {
		t.Fatal("Enqueue on a full queue must drop, not block or succeed")
	}
}

func TestUDPEndpointBindAndClear(t *testing.T) {
	c, _ := newTestClient(t)
	if c.UDPEndpoint() != nil {
		t.Fatal("fresh client should have no bound UDP endpoint")
	}

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 60000}
	c.SetUDPEndpoint(addr)
	if got := c.UDPEndpoint(); got == nil || got.String() != addr.String() {
		t.Fatalf("UDPEndpoint() = %v, want %v after binding", got, addr)
	}
	c.SetUDPEndpoint(nil)
	if c.UDPEndpoint() != nil {
		t.Fatal("SetUDPEndpoint(nil) should clear the bound UDP endpoint")
	}
}
