// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package registry holds Registry, the single shared ServerState value
// spec.md §9 describes: "a single ServerState value is shared by reference
// across all tasks; initialized once in main; torn down at process exit
// only." It generalizes original_source/src/state.rs (whose DashMap-backed
// fields it mirrors field-for-field) using xsync.Map in place of DashMap,
// the same substitution pkg/target and pkg/channel make.
package registry

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/vspeak/grumbled/pkg/channel"
	"github.com/vspeak/grumbled/pkg/client"
)

// MaxClients is the registered-client cap spec.md §4.2/§6 names.
const MaxClients = 4096

// MaxBandwidth is the advertised max bandwidth in bits/sec (spec.md §6).
const MaxBandwidth = 144000

// Registry is the shared session/channel registry (spec.md §3's "Server
// registry"). All methods are safe for concurrent use.
type Registry struct {
	clientCount atomic.Int64

	bySession *xsync.Map[uint32, *client.Client]
	byUDP     *xsync.Map[string, *client.Client]
	probe     *xsync.Map[uint32, *client.Client]

	channels *xsync.Map[uint32, *channel.Channel]

	nextSession atomic.Uint32
	nextChannel atomic.Uint32

	codecMu      sync.Mutex
	codecAlpha   int32
	codecBeta    int32
	preferAlpha  bool
	codecCounts  map[int32]int
}

// New builds a Registry pre-populated with the permanent root channel
// (spec.md §3).
func New() *Registry {
	r := &Registry{
		bySession:   xsync.NewMap[uint32, *client.Client](),
		byUDP:       xsync.NewMap[string, *client.Client](),
		probe:       xsync.NewMap[uint32, *client.Client](),
		channels:    xsync.NewMap[uint32, *channel.Channel](),
		codecCounts: make(map[int32]int),
	}
	r.channels.Store(channel.RootID, channel.NewRoot())
	r.nextChannel.Store(channel.RootID + 1)
	r.nextSession.Store(1)
	return r
}

// NextSessionID returns a fresh, strictly increasing session id (spec.md
// §8: "get_free_session_id() returns strictly increasing values within a
// process lifetime").
func (r *Registry) NextSessionID() uint32 {
	return r.nextSession.Add(1) - 1
}

// NextChannelID returns a fresh, strictly increasing channel id.
func (r *Registry) NextChannelID() uint32 {
	return r.nextChannel.Add(1) - 1
}

// ClientCount returns the number of currently-registered clients.
func (r *Registry) ClientCount() int {
	return int(r.clientCount.Load())
}

// AtCapacity reports whether the registry has reached MaxClients
// (spec.md §4.2's connection cap).
func (r *Registry) AtCapacity() bool {
	return r.clientCount.Load() >= MaxClients
}

// AddClient registers c under its session id and places it in the probe
// set, since a freshly handshaked client has no bound UDP endpoint yet
// (spec.md §3 invariant).
func (r *Registry) AddClient(c *client.Client) {
	r.bySession.Store(c.Session, c)
	r.probe.Store(c.Session, c)
	r.clientCount.Add(1)
}

// Client looks up a client by session id.
func (r *Registry) Client(session uint32) (*client.Client, bool) {
	return r.bySession.Load(session)
}

// ClientByName returns the first registered client whose self-reported
// username matches, used by the admin HTTP surface to resolve a user-facing
// name into a session (original_source/src/state.rs's get_client_by_name).
func (r *Registry) ClientByName(name string) (*client.Client, bool) {
	var found *client.Client
	r.RangeClients(func(c *client.Client) bool {
		if c.Username == name {
			found = c
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// RangeClients calls f for every registered client, in arbitrary order,
// stopping early if f returns false. Used for handshake snapshots and
// broadcasts (spec.md §4.2 step 7).
func (r *Registry) RangeClients(f func(*client.Client) bool) {
	r.bySession.Range(func(_ uint32, c *client.Client) bool {
		return f(c)
	})
}

// Broadcast enqueues env onto every registered client's outbound queue.
func (r *Registry) Broadcast(env client.Envelope) {
	r.RangeClients(func(c *client.Client) bool {
		c.Enqueue(env)
		return true
	})
}

// BindUDP performs the atomic insert-if-absent bind spec.md §9's "Address
// binding race" requires: only the first caller for a given remote address
// wins; a loser still gets ok==true back for its own already-completed
// decrypt, it simply does not re-insert. Returns false only if the
// session is not currently registered.
func (r *Registry) BindUDP(session uint32, addr *net.UDPAddr) bool {
	c, ok := r.bySession.Load(session)
	if !ok {
		return false
	}
	key := addr.String()
	if _, loaded := r.byUDP.LoadOrStore(key, c); !loaded {
		c.SetUDPEndpoint(addr)
		r.probe.Delete(session)
	}
	return true
}

// ClientByUDP looks up a client by its bound remote UDP address.
func (r *Registry) ClientByUDP(addr *net.UDPAddr) (*client.Client, bool) {
	return r.byUDP.Load(addr.String())
}

// RangeProbe calls f for every client whose UDP endpoint is not yet bound,
// for the UDP plane's trial-decrypt loop (spec.md §4.3 step 3).
func (r *Registry) RangeProbe(f func(*client.Client) bool) {
	r.probe.Range(func(_ uint32, c *client.Client) bool {
		return f(c)
	})
}

// UnbindUDP clears a client's bound UDP endpoint and moves it back to the
// probe set, the effect of a crypt reset (spec.md §4.1).
func (r *Registry) UnbindUDP(c *client.Client) {
	if ep := c.UDPEndpoint(); ep != nil {
		r.byUDP.Delete(ep.String())
	}
	c.SetUDPEndpoint(nil)
	r.probe.Store(c.Session, c)
}

// RemoveClient unregisters c from every map the registry keeps it in
// (spec.md §4.8 disconnect path, steps 1-3). It does not touch channel
// membership; callers run the channel-leave routine separately.
func (r *Registry) RemoveClient(c *client.Client) {
	if _, existed := r.bySession.LoadAndDelete(c.Session); existed {
		r.clientCount.Add(-1)
	}
	r.probe.Delete(c.Session)
	if ep := c.UDPEndpoint(); ep != nil {
		r.byUDP.Delete(ep.String())
		c.SetUDPEndpoint(nil)
	}
}

// Channel looks up a channel by id.
func (r *Registry) Channel(id uint32) (*channel.Channel, bool) {
	return r.channels.Load(id)
}

// AddChannel registers a newly created channel.
func (r *Registry) AddChannel(ch *channel.Channel) {
	r.channels.Store(ch.ID, ch)
}

// ChannelByName returns the first channel whose name matches, used by the
// ChannelState handler's "channel already exists" rule (spec.md §4.4).
func (r *Registry) ChannelByName(name string) (*channel.Channel, bool) {
	var found *channel.Channel
	r.channels.Range(func(_ uint32, ch *channel.Channel) bool {
		if ch.Name == name {
			found = ch
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// RangeChannels calls f for every channel, in arbitrary order.
func (r *Registry) RangeChannels(f func(*channel.Channel) bool) {
	r.channels.Range(func(_ uint32, ch *channel.Channel) bool {
		return f(ch)
	})
}

// RemoveChannel unregisters a channel, used once the channel-leave routine
// finds it temporary, non-root, and empty (spec.md §4.8).
func (r *Registry) RemoveChannel(id uint32) {
	r.channels.Delete(id)
}

// LeaveChannel removes session from channel id's resident set and, if
// that leaves a temporary non-root channel empty, removes the channel
// entirely. It reports the removed channel's id when that happens, so the
// caller can broadcast ChannelRemove (spec.md §4.8).
func (r *Registry) LeaveChannel(id uint32, session uint32) (removed uint32, didRemove bool) {
	ch, ok := r.channels.Load(id)
	if !ok {
		return 0, false
	}
	ch.RemoveResident(session)
	if ch.ID != channel.RootID && ch.Temporary && ch.IsEmpty() {
		r.channels.Delete(ch.ID)
		return ch.ID, true
	}
	return 0, false
}

// JoinChannel moves session into channel id's resident set. Callers are
// responsible for removing it from its previous channel first.
func (r *Registry) JoinChannel(id uint32, session uint32) bool {
	ch, ok := r.channels.Load(id)
	if !ok {
		return false
	}
	ch.AddResident(session)
	return true
}

// NegotiateCodec tallies codecs across connected clients and decides
// whether the plurality codec has changed, implementing spec.md §4.4's
// alpha/beta/prefer_alpha rule. It must be called while holding no other
// lock; it takes its own internal lock for the duration of the tally.
//
// changed reports whether the plurality flipped (and thus CodecVersion
// must be broadcast to everyone); alpha/beta/preferAlpha are the new
// negotiated state to send in all cases.
func (r *Registry) NegotiateCodec(newCodecs []int32) (alpha, beta int32, preferAlpha bool, changed bool) {
	r.codecMu.Lock()
	defer r.codecMu.Unlock()

	counts := make(map[int32]int)
	for _, c := range newCodecs {
		counts[c]++
	}
	r.RangeClients(func(c *client.Client) bool {
		for _, v := range c.Codecs {
			counts[v]++
		}
		return true
	})

	var plurality int32
	var best int
	for v, n := range counts {
		if n > best || (n == best && v > plurality) {
			plurality = v
			best = n
		}
	}

	current := r.codecBeta
	if r.preferAlpha {
		current = r.codecAlpha
	}
	if best == 0 || plurality == current {
		return r.codecAlpha, r.codecBeta, r.preferAlpha, false
	}

	r.preferAlpha = !r.preferAlpha
	if r.preferAlpha {
		r.codecAlpha = plurality
	} else {
		r.codecBeta = plurality
	}
	return r.codecAlpha, r.codecBeta, r.preferAlpha, true
}
