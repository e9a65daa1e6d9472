// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package cryptstate

import "crypto/cipher"

// This file implements the reduced OCB2 construction Mumble has used for UDP
// voice datagrams since protocol 1.2: a single running "delta" value doubled
// once per full block in GF(2^128), block-cipher-encrypted, and XORed with
// plaintext/ciphertext; the final 16-byte tag is derived from a checksum of
// all plaintext blocks masked by the nonce and truncated to 3 bytes on the
// wire. The block cipher below is always AES-128.

// double multiplies a 128-bit block by x in the GF(2^128) field Mumble uses
// (reduction polynomial x^128 + x^7 + x^2 + x + 1, i.e. the 0x87 constant).
func double(b *[BlockSize]byte) {
	carry := b[0] >> 7
	for i := 0; i < BlockSize-1; i++ {
		b[i] = (b[i] << 1) | (b[i+1] >> 7)
	}
	b[BlockSize-1] <<= 1
	if carry != 0 {
		b[BlockSize-1] ^= 0x87
	}
}

func xorBlock(dst, a, b *[BlockSize]byte) {
	for i := 0; i < BlockSize; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

func xorInto(dst *[BlockSize]byte, src []byte) {
	for i := 0; i < len(src) && i < BlockSize; i++ {
		dst[i] ^= src[i]
	}
}

// ocbEncrypt encrypts plain into cipherText (same length) and derives tag,
// using nonce as the OCB starting point. block must be an AES-128 cipher.
func ocbEncrypt(block cipher.Block, nonce *[BlockSize]byte, plain, cipherText []byte, tag *[BlockSize]byte) {
	var delta [BlockSize]byte
	block.Encrypt(delta[:], nonce[:])

	var checksum [BlockSize]byte
	pos := 0
	for remaining := len(plain); remaining > BlockSize; remaining -= BlockSize {
		double(&delta)

		var tmp [BlockSize]byte
		xorInto(&checksum, plain[pos:pos+BlockSize])

		var masked [BlockSize]byte
		for i := 0; i < BlockSize; i++ {
			masked[i] = plain[pos+i] ^ delta[i]
		}
		block.Encrypt(tmp[:], masked[:])
		for i := 0; i < BlockSize; i++ {
			cipherText[pos+i] = tmp[i] ^ delta[i]
		}
		pos += BlockSize
	}

	tail := plain[pos:]
	double(&delta)

	var lenBlock [BlockSize]byte
	lenBlock[BlockSize-1] = byte(len(tail) * 8)
	xorInto(&lenBlock, delta[:])

	var pad [BlockSize]byte
	block.Encrypt(pad[:], lenBlock[:])

	var padded [BlockSize]byte
	copy(padded[:], tail)
	copy(padded[len(tail):], pad[len(tail):])
	xorInto(&checksum, padded[:])

	for i := range tail {
		cipherText[pos+i] = tail[i] ^ pad[i]
	}

	double(&delta)
	double(&delta)
	var tagInput [BlockSize]byte
	xorBlock(&tagInput, &delta, &checksum)
	block.Encrypt(tag[:], tagInput[:])
}

// ocbDecrypt decrypts cipherText into plain (same length) and recomputes the
// authentication tag from the recovered plaintext so the caller can compare
// it against the one carried on the wire.
func ocbDecrypt(block cipher.Block, nonce *[BlockSize]byte, cipherText, plain []byte, tag *[BlockSize]byte) {
	var delta [BlockSize]byte
	block.Encrypt(delta[:], nonce[:])

	var checksum [BlockSize]byte
	pos := 0
	for remaining := len(cipherText); remaining > BlockSize; remaining -= BlockSize {
		double(&delta)

		var masked [BlockSize]byte
		for i := 0; i < BlockSize; i++ {
			masked[i] = cipherText[pos+i] ^ delta[i]
		}
		var tmp [BlockSize]byte
		block.Decrypt(tmp[:], masked[:])
		for i := 0; i < BlockSize; i++ {
			plain[pos+i] = tmp[i] ^ delta[i]
		}
		xorInto(&checksum, plain[pos:pos+BlockSize])
		pos += BlockSize
	}

	tail := cipherText[pos:]
	double(&delta)

	var lenBlock [BlockSize]byte
	lenBlock[BlockSize-1] = byte(len(tail) * 8)
	xorInto(&lenBlock, delta[:])

	var pad [BlockSize]byte
	block.Encrypt(pad[:], lenBlock[:])

	for i, c := range tail {
		plain[pos+i] = c ^ pad[i]
	}

	var padded [BlockSize]byte
	copy(padded[:], plain[pos:])
	copy(padded[len(tail):], pad[len(tail):])
	xorInto(&checksum, padded[:])

	double(&delta)
	double(&delta)
	var tagInput [BlockSize]byte
	xorBlock(&tagInput, &delta, &checksum)
	block.Encrypt(tag[:], tagInput[:])
}
