// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package target

import (
	"sort"
	"testing"
)

func TestSlotRangeBounds(t *testing.T) {
	table := NewTable()

	if table.Slot(0) != nil {
		t.Fatal("slot 0 is reserved for current-channel, must not be addressable")
	}
	if table.Slot(31) != nil {
		t.Fatal("slot 31 is reserved for loopback, must not be addressable")
	}
	if table.Slot(1) == nil || table.Slot(30) == nil {
		t.Fatal("slots 1 and 30 must be addressable")
	}
}

func TestSetClearsThenRepopulates(t *testing.T) {
	table := NewTable()
	slot := table.Slot(3)

	slot.Set([]uint32{1, 2}, []uint32{9})
	sessions := slot.Sessions()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i] < sessions[j] })
	if len(sessions) != 2 || sessions[0] != 1 || sessions[1] != 2 {
		t.Fatalf("sessions = %v, want [1 2]", sessions)
	}
	if channels := slot.Channels(); len(channels) != 1 || channels[0] != 9 {
		t.Fatalf("channels = %v, want [9]", channels)
	}

	// A second Set call must replace, not merge, the slot's contents
	// (spec.md §8 invariant: targets[t-1] equals the union of the *latest*
	// VoiceTarget message's sub-items, not an accumulation across calls).
	slot.Set([]uint32{5}, nil)
	if sessions := slot.Sessions(); len(sessions) != 1 || sessions[0] != 5 {
		t.Fatalf("sessions after second Set = %v, want [5]", sessions)
	}
	if channels := slot.Channels(); len(channels) != 0 {
		t.Fatalf("channels after second Set = %v, want none", channels)
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	table := NewTable()
	table.Slot(1).Set([]uint32{1}, nil)
	table.Slot(2).Set([]uint32{2}, nil)

	if s := table.Slot(1).Sessions(); len(s) != 1 || s[0] != 1 {
		t.Fatalf("slot 1 sessions = %v, want [1]", s)
	}
	if s := table.Slot(2).Sessions(); len(s) != 1 || s[0] != 2 {
		t.Fatalf("slot 2 sessions = %v, want [2]", s)
	}
}
