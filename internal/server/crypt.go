// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package server

import (
	MumbleProto "layeh.com/gumble/gumble/MumbleProto"

	"github.com/vspeak/grumbled/pkg/client"
	"github.com/vspeak/grumbled/pkg/cryptstate"
)

// sendCryptSetup transports c's current (key, nonces) to the client
// without regenerating them (spec.md §4.1 get_crypt_setup / §4.2 handshake
// step 5); ResetCrypt regenerates first and then calls it.
func (s *Server) sendCryptSetup(c *client.Client) {
	c.Crypt.Mu.Lock()
	setup := c.Crypt.GetSetup()
	c.Crypt.Mu.Unlock()

	msg := &MumbleProto.CryptSetup{
		Key:         setup.Key[:],
		ClientNonce: setup.EncryptIV[:],
		ServerNonce: setup.DecryptIV[:],
	}
	s.sendProto(c, msg)
}

// ResetCrypt regenerates c's crypt state, transports the fresh setup, and
// moves c back to the probe set by clearing its bound UDP endpoint
// (spec.md §4.1: "Reset simultaneously clears the client's bound UDP
// endpoint, moving it back to the probe set").
func (s *Server) ResetCrypt(c *client.Client) {
	c.Crypt.Mu.Lock()
	c.Crypt.Reset()
	c.Crypt.Mu.Unlock()

	s.Registry.UnbindUDP(c)
	s.sendCryptSetup(c)
}

// restartCryptOnDecryptError implements spec.md §4.3's decrypt-outcome
// policy: Repeat is silent, Late only resets once its counter passes 100,
// any other error always resets.
func restartCryptOnDecryptError(err error, late uint32) bool {
	switch err {
	case cryptstate.ErrRepeat:
		return false
	case cryptstate.ErrLate:
		return late > 100
	default:
		return true
	}
}
