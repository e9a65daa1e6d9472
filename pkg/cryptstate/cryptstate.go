// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package cryptstate implements the OCB2-like authenticated stream cipher
// Mumble uses to protect UDP voice datagrams. Each client gets its own
// State: a symmetric key, a pair of synchronized nonces, a replay
// window, and the counters (good/late/lost/resync) spec.md §4.1 requires.
package cryptstate

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

// BlockSize is the size of the underlying AES block, and therefore the size
// of the key and of each nonce.
const BlockSize = 16

// decryptHistorySize is the size of the per-nonce-byte replay window.
const decryptHistorySize = 0x100

// Errors returned by Decrypt. Repeat and Late are ordinary, expected
// conditions on an unreliable transport; Mac and Eof mean the datagram could
// not be authenticated and are always treated as a reset trigger upstream.
var (
	ErrRepeat = errors.New("cryptstate: repeated nonce")
	ErrLate   = errors.New("cryptstate: late nonce")
	ErrMac    = errors.New("cryptstate: mac mismatch")
	ErrEof    = errors.New("cryptstate: short packet")
)

// Setup is the (key, encrypt-nonce, decrypt-nonce) triple transported to the
// peer over TCP on connect and on resync.
type Setup struct {
	Key       [BlockSize]byte
	EncryptIV [BlockSize]byte
	DecryptIV [BlockSize]byte
}

// State is the per-client cryptographic state machine. All of its methods
// are CPU-bound and are meant to be called while holding Mu; callers must
// never suspend (I/O, channel send) while holding it — spec.md §5 and §9
// call this out explicitly ("non-async mutex... never await while holding
// it").
type State struct {
	Mu sync.Mutex

	key       [BlockSize]byte
	encryptIV [BlockSize]byte
	decryptIV [BlockSize]byte
	history   [decryptHistorySize]uint16 // decryptIV[1]+1 per byte-0 value; 0 means never seen

	block cipher.Block

	Good   uint32
	Late   uint32
	Lost   uint32
	Resync uint32

	LastGood time.Time
}

// New returns a freshly-keyed State.
func New() *State {
	cs := &State{}
	cs.Reset()
	return cs
}

// Reset regenerates the key and both nonces. The server calls it on
// divergence (spec.md §4.1 reset policy); a client CryptSetup with no nonce
// is answered with the current setup and does not reset. The caller is
// responsible for clearing the client's bound UDP endpoint, since State has
// no notion of transport.
func (cs *State) Reset() {
	randRead(cs.key[:])
	randRead(cs.encryptIV[:])
	randRead(cs.decryptIV[:])
	cs.history = [decryptHistorySize]uint16{}
	cs.Good, cs.Late, cs.Lost, cs.Resync = 0, 0, 0, 0
	cs.LastGood = time.Now()

	block, err := aes.NewCipher(cs.key[:])
	if err != nil {
		// A 16-byte key is always valid for AES-128; this cannot fail.
		panic(err)
	}
	cs.block = block
}

func randRead(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
}

// GetSetup returns the triple to transport to the peer.
func (cs *State) GetSetup() Setup {
	return Setup{Key: cs.key, EncryptIV: cs.encryptIV, DecryptIV: cs.decryptIV}
}

// SetDecryptNonce honors a peer-declared decrypt nonce, sent when the peer
// is resyncing.
func (cs *State) SetDecryptNonce(nonce []byte) {
	if len(nonce) != BlockSize {
		return
	}
	copy(cs.decryptIV[:], nonce)
}

// Overhead is the number of bytes Encrypt prepends to a frame: one clear
// nonce byte plus a 3-byte MAC.
func (cs *State) Overhead() int {
	return 4
}

// Encrypt appends the encrypted form of src (tag-prefixed) to dst and
// advances the encrypt nonce.
func (cs *State) Encrypt(dst *[]byte, src []byte) {
	inc(&cs.encryptIV)

	cipherText := make([]byte, len(src))
	var tag [BlockSize]byte
	ocbEncrypt(cs.block, &cs.encryptIV, src, cipherText, &tag)

	*dst = append(*dst, cs.encryptIV[0], tag[0], tag[1], tag[2])
	*dst = append(*dst, cipherText...)
}

// Decrypt authenticates and decrypts buf, returning the plaintext frame. It
// resynchronizes the decrypt nonce window (accepting an in-window repeat, a
// recent late packet, or a forward jump), verifies the MAC, and updates the
// replay bitmap and counters.
func (cs *State) Decrypt(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, ErrEof
	}

	ivByte := buf[0]
	wantTag := buf[1:4]
	cipherText := buf[4:]

	saved := cs.decryptIV
	lateNonce := false
	lost := 0

	switch {
	case (int(cs.decryptIV[0])+1)%256 == int(ivByte):
		if ivByte > cs.decryptIV[0] {
			cs.decryptIV[0] = ivByte
		} else {
			incOuter(&cs.decryptIV)
			cs.decryptIV[0] = ivByte
		}
	default:
		diff := int(ivByte) - int(cs.decryptIV[0])
		switch {
		case diff > 128:
			diff -= 256
		case diff < -128:
			diff += 256
		}

		switch {
		case diff > 0 && diff < 30:
			if ivByte < cs.decryptIV[0] {
				incOuter(&cs.decryptIV)
			}
			cs.decryptIV[0] = ivByte
			if diff > 1 {
				lost = diff - 1
			}
			cs.Resync++
		case diff <= 0 && diff > -30:
			lateNonce = true
			if ivByte > cs.decryptIV[0] {
				// The late packet predates the head's last wrap of byte 0.
				for i := 1; i < BlockSize; i++ {
					cs.decryptIV[i]--
					if cs.decryptIV[i] != 0xFF {
						break
					}
				}
			}
			cs.decryptIV[0] = ivByte
		default:
			cs.decryptIV = saved
			return nil, ErrLate
		}
	}

	if lateNonce {
		if cs.history[cs.decryptIV[0]] == uint16(cs.decryptIV[1])+1 {
			cs.decryptIV = saved
			cs.Late++
			return nil, ErrRepeat
		}
	}

	plain := make([]byte, len(cipherText))
	var tag [BlockSize]byte
	ocbDecrypt(cs.block, &cs.decryptIV, cipherText, plain, &tag)

	if !constantTimeEqual(tag[:3], wantTag) {
		cs.decryptIV = saved
		return nil, ErrMac
	}

	cs.history[cs.decryptIV[0]] = uint16(cs.decryptIV[1]) + 1

	if lateNonce {
		// A late-but-accepted packet is not the new head: restore the
		// head we temporarily moved to ivByte for the replay check and
		// decrypt, so a later in-order/wraparound packet still computes
		// its diff against the real head instead of this late packet's
		// position.
		cs.decryptIV = saved
		cs.Late++
	} else {
		cs.Good++
	}
	if lost > 0 {
		cs.Lost += uint32(lost)
	}
	cs.LastGood = time.Now()

	return plain, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// inc increments the full 16-byte nonce, carrying from byte 0 upward.
func inc(iv *[BlockSize]byte) {
	for i := 0; i < BlockSize; i++ {
		iv[i]++
		if iv[i] != 0 {
			return
		}
	}
}

// incOuter increments bytes [1:] of the nonce, used when byte 0 of the
// decrypt nonce wraps during in-order delivery.
func incOuter(iv *[BlockSize]byte) {
	for i := 1; i < BlockSize; i++ {
		iv[i]++
		if iv[i] != 0 {
			break
		}
	}
}
