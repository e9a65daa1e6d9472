// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package target holds the per-client voice-target table spec.md §3 and
// §4.4 describe: 30 addressable slots (wire ids 1..=30, id 0 meaning
// "current channel" and 31 meaning "loopback" are handled outside this
// table entirely), each a set of session ids plus a set of channel ids,
// atomically rewritten on every VoiceTarget message.
package target

import "github.com/puzpuzpuz/xsync/v4"

// slotCount is the number of addressable slots: wire ids 1..=30 map to
// indices 0..=29 (original_source/src/client.rs's get_target: "id - 1").
const slotCount = 30

// Slot is one voice-target slot's session/channel set, grounded on
// original_source/src/target.rs's VoiceTarget (DashSet sessions + DashSet
// channels).
type Slot struct {
	sessions *xsync.Map[uint32, struct{}]
	channels *xsync.Map[uint32, struct{}]
}

func newSlot() *Slot {
	return &Slot{
		sessions: xsync.NewMap[uint32, struct{}](),
		channels: xsync.NewMap[uint32, struct{}](),
	}
}

// Set clears the slot and repopulates it with sessions and channels,
// matching original_source/src/handler/voice_target.rs's clear-then-
// reinsert sequence (spec.md §4.4, §8 invariant on VoiceTarget rewrite).
func (s *Slot) Set(sessions, channels []uint32) {
	s.sessions.Clear()
	s.channels.Clear()
	for _, v := range sessions {
		s.sessions.Store(v, struct{}{})
	}
	for _, v := range channels {
		s.channels.Store(v, struct{}{})
	}
}

// Sessions returns the slot's session ids, in arbitrary order.
func (s *Slot) Sessions() []uint32 {
	out := make([]uint32, 0, s.sessions.Size())
	s.sessions.Range(func(session uint32, _ struct{}) bool {
		out = append(out, session)
		return true
	})
	return out
}

// Channels returns the slot's channel ids, in arbitrary order.
func (s *Slot) Channels() []uint32 {
	out := make([]uint32, 0, s.channels.Size())
	s.channels.Range(func(channel uint32, _ struct{}) bool {
		out = append(out, channel)
		return true
	})
	return out
}

// Table is one client's full set of 30 voice-target slots.
type Table struct {
	slots [slotCount]*Slot
}

// NewTable builds an empty voice-target table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i] = newSlot()
	}
	return t
}

// Slot returns the slot for wire id id (1..=30), or nil if id is out of
// range (spec.md §4.4: "reject ids outside 1..=30").
func (t *Table) Slot(id uint8) *Slot {
	if id < 1 || int(id) > slotCount {
		return nil
	}
	return t.slots[id-1]
}
