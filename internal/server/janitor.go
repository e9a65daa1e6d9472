// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	"context"
	"time"

	"github.com/vspeak/grumbled/pkg/client"
)

// PingTimeout is how long a client may go without a control-plane ping
// before the janitor disconnects it (spec.md §4.7). This is spec.md's own
// value, not original_source/src/clean.rs's 60s: where the two disagree,
// spec.md wins.
const PingTimeout = 30 * time.Second

// CryptStaleness is how long a client's crypt state may go without a
// successful decrypt before the janitor requests a resync (spec.md §4.1,
// §4.7).
const CryptStaleness = 8 * time.Second

// JanitorTick is the fixed tick the janitor runs on (spec.md §4.7).
const JanitorTick = 1 * time.Second

// RunJanitor runs the 1-second eviction/resync tick until ctx is
// cancelled.
func (s *Server) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(JanitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.janitorPass()
		}
	}
}

func (s *Server) janitorPass() {
	s.janitorPassAt(time.Now(), PingTimeout, CryptStaleness)
}

// janitorPassAt is janitorPass with the clock and thresholds factored out,
// so tests can exercise the real eviction/resync logic without sleeping
// through spec.md's 30s/8s constants.
func (s *Server) janitorPassAt(now time.Time, pingTimeout, cryptStaleness time.Duration) {
	var toDisconnect []*client.Client
	var toResync []*client.Client

	s.Registry.RangeClients(func(c *client.Client) bool {
		if now.Sub(c.LastPing()) > pingTimeout {
			toDisconnect = append(toDisconnect, c)
			return true
		}

		c.Crypt.Mu.Lock()
		lastGood := c.Crypt.LastGood
		c.Crypt.Mu.Unlock()

		if now.Sub(lastGood) > cryptStaleness {
			toResync = append(toResync, c)
		}
		return true
	})

	for _, c := range toDisconnect {
		c.Enqueue(client.Disconnect{Reason: "ping timeout"})
	}
	for _, c := range toResync {
		s.ResetCrypt(c)
	}
}
