// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package channel holds the Channel type: a named group of resident and
// listening clients, referenced everywhere else by id rather than pointer
// so removal is always safe (spec.md §9, "Back-references"). It mirrors
// original_source/src/channel.rs, whose Channel backs its listener set with
// dashmap::DashMap; grumbled uses xsync.Map for the same concurrent
// membership semantics.
package channel

import "github.com/puzpuzpuz/xsync/v4"

// RootID is the id of the single permanent, parentless root channel created
// at startup.
const RootID = 0

// Channel is a named group whose residents hear each other by default, plus
// the set of clients who listen to it without being resident.
type Channel struct {
	ID          uint32
	ParentID    *uint32
	Name        string
	Temporary   bool

	residents *xsync.Map[uint32, struct{}]
	listeners *xsync.Map[uint32, struct{}]
}

// New constructs a Channel. parentID is nil only for the root channel.
func New(id uint32, parentID *uint32, name string, temporary bool) *Channel {
	return &Channel{
		ID:        id,
		ParentID:  parentID,
		Name:      name,
		Temporary: temporary,
		residents: xsync.NewMap[uint32, struct{}](),
		listeners: xsync.NewMap[uint32, struct{}](),
	}
}

// NewRoot builds the permanent root channel (spec.md §3).
func NewRoot() *Channel {
	return New(RootID, nil, "Root", false)
}

// AddResident marks session as resident in this channel.
func (c *Channel) AddResident(session uint32) {
	c.residents.Store(session, struct{}{})
}

// RemoveResident removes session from this channel's resident set.
func (c *Channel) RemoveResident(session uint32) {
	c.residents.Delete(session)
}

// Residents returns the current resident session ids.
func (c *Channel) Residents() []uint32 {
	out := make([]uint32, 0, c.residents.Size())
	c.residents.Range(func(k uint32, _ struct{}) bool {
		out = append(out, k)
		return true
	})
	return out
}

// IsEmpty reports whether the channel has no residents. Channel removal
// (spec.md §3 invariants) only ever considers residents, not listeners: a
// channel with only listeners and no residents is still eligible for
// removal once temporary and non-root.
func (c *Channel) IsEmpty() bool {
	return c.residents.Size() == 0
}

// AddListener subscribes session to this channel's audio without making it
// resident.
func (c *Channel) AddListener(session uint32) {
	c.listeners.Store(session, struct{}{})
}

// RemoveListener unsubscribes session.
func (c *Channel) RemoveListener(session uint32) {
	c.listeners.Delete(session)
}

// Listeners returns the current listener session ids.
func (c *Channel) Listeners() []uint32 {
	out := make([]uint32, 0, c.listeners.Size())
	c.listeners.Range(func(k uint32, _ struct{}) bool {
		out = append(out, k)
		return true
	})
	return out
}

// RemoveClient drops session from both the resident and listener sets,
// called unconditionally during disconnect (spec.md §4.8) regardless of
// which set it was actually in.
func (c *Channel) RemoveClient(session uint32) {
	c.residents.Delete(session)
	c.listeners.Delete(session)
}
