// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package client holds the Client type: one connected user's mutable
// runtime state (current channel, mute/deaf, crypt state, outbound queue,
// voice targets) and the envelope kinds its writer drains. It generalizes
// Lotlab-grumble/cmd/grumble/client.go's Client struct to the fields
// spec.md §3 actually names, dropping the ACL/registration/bandwidth-
// recorder fields that belong to persistence grumbled doesn't do.
package client

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vspeak/grumbled/pkg/cryptstate"
	"github.com/vspeak/grumbled/pkg/target"
)

// OutboundQueueCapacity is the bound on a client's outbound envelope queue,
// chosen to match spec.md §5's "MAX_MTU envelopes (~1400)".
const OutboundQueueCapacity = 1400

// Envelope is one unit of work for a client's writer loop (spec.md §4.6).
type Envelope interface {
	isEnvelope()
}

// SendMessage carries a framed control-channel message to write on the TLS
// connection.
type SendMessage struct {
	Kind    uint16
	Payload []byte
}

func (SendMessage) isEnvelope() {}

// SendVoicePacket carries a decoded voice frame to deliver to this client,
// either over its bound UDP endpoint or tunnelled over TLS. The frame is
// shared by reference across every recipient of one fan-out (spec.md §9)
// and must not be mutated after fan-out begins.
type SendVoicePacket struct {
	Frame *Frame
}

func (SendVoicePacket) isEnvelope() {}

// RouteVoicePacket is the TCP-tunnelled-VoicePacket path: it asks the
// fan-out step to treat Frame as freshly received from SenderSession.
type RouteVoicePacket struct {
	Frame         *Frame
	SenderSession uint32
}

func (RouteVoicePacket) isEnvelope() {}

// Disconnect makes the writer loop close the outbound queue and return;
// the connection is then closed, so the reader loop's next read fails and
// it terminates (spec.md §4.6).
type Disconnect struct {
	Reason string
}

func (Disconnect) isEnvelope() {}

// Frame is a client-bound voice frame: decrypted audio plus the routing
// target and sender stamped onto it by the UDP or TCP voice path.
type Frame struct {
	Target    uint8
	Session   uint32
	Sequence  uint64
	Payload   []byte
	Timestamp uint64
}

// Writer is the narrow interface the client needs onto its own TLS
// connection's write half; net.Conn satisfies it.
type Writer interface {
	Write(b []byte) (int, error)
}

// Client is one connected user (spec.md §3). Fields intended for
// concurrent access without a lock are atomics; fields read only by
// the client's own reader/writer goroutines need no synchronization at
// all.
type Client struct {
	*log.Logger

	Session  uint32
	Username string

	channel  atomic.Uint32
	muted    atomic.Bool
	deafened atomic.Bool
	lastPing atomic.Int64 // unix nanoseconds

	Codecs []int32

	Crypt *cryptstate.State

	Targets *target.Table

	outbound chan Envelope

	udpMu  sync.Mutex
	udpEP  *net.UDPAddr

	writeMu sync.Mutex
	writer  Writer
}

// New constructs a Client seated in channel root, with a fresh crypt state
// and an empty voice-target table.
func New(session uint32, username string, writer Writer, logger *log.Logger) *Client {
	c := &Client{
		Logger:   logger,
		Session:  session,
		Username: username,
		Crypt:    cryptstate.New(),
		Targets:  target.NewTable(),
		outbound: make(chan Envelope, OutboundQueueCapacity),
		writer:   writer,
	}
	c.lastPing.Store(time.Now().UnixNano())
	return c
}

// Channel returns the client's current channel id (atomic read).
func (c *Client) Channel() uint32 { return c.channel.Load() }

// SetChannel atomically updates the client's current channel id.
func (c *Client) SetChannel(id uint32) { c.channel.Store(id) }

// Muted reports the sender-side suppression flag. Per spec.md §9's Open
// Question on mute vs deaf: mute is the sole mechanism that suppresses a
// client's own outbound voice.
func (c *Client) Muted() bool { return c.muted.Load() }

// SetMuted sets the mute flag.
func (c *Client) SetMuted(v bool) { c.muted.Store(v) }

// Deafened reports the recipient-side suppression flag: the sole
// mechanism that suppresses delivery to this client.
func (c *Client) Deafened() bool { return c.deafened.Load() }

// SetDeafened sets the deaf flag.
func (c *Client) SetDeafened(v bool) { c.deafened.Store(v) }

// LastPing returns the time of the last received control-plane ping.
func (c *Client) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

// Touch records that a control-plane ping was just received.
func (c *Client) Touch() {
	c.lastPing.Store(time.Now().UnixNano())
}

// UDPEndpoint returns the client's bound UDP remote address, or nil if
// unbound.
func (c *Client) UDPEndpoint() *net.UDPAddr {
	c.udpMu.Lock()
	defer c.udpMu.Unlock()
	return c.udpEP
}

// SetUDPEndpoint binds (or, with nil, clears) the client's UDP remote
// address. Clearing happens on crypt reset (spec.md §4.1), which moves the
// client back into the registry's probe set.
func (c *Client) SetUDPEndpoint(addr *net.UDPAddr) {
	c.udpMu.Lock()
	c.udpEP = addr
	c.udpMu.Unlock()
}

// Enqueue offers env to the outbound queue without blocking. It reports
// whether the envelope was accepted; a false return means the queue was
// full (voice, spec.md §4.5) or closed (any kind, spec.md §4.6) and the
// caller must not retry.
func (c *Client) Enqueue(env Envelope) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.outbound <- env:
		return true
	default:
		return false
	}
}

// Outbound exposes the receive side of the outbound queue for the
// writer loop.
func (c *Client) Outbound() <-chan Envelope { return c.outbound }

// CloseOutbound closes the outbound queue, the trigger the writer loop and
// reader loop both use to know the client is gone (spec.md §4.6).
func (c *Client) CloseOutbound() {
	defer func() { recover() }()
	close(c.outbound)
}

// WriteFramed serializes one control-channel frame onto the TLS writer
// under the writer mutex (spec.md §5: "the per-client TLS writer is
// protected by an async mutex").
func (c *Client) WriteFramed(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.writer.Write(b)
	return err
}
