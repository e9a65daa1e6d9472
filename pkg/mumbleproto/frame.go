// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package mumbleproto

import (
	"encoding/binary"
	"io"

	"google.golang.org/protobuf/proto"
)

// MaxFrameLength bounds a single control-channel payload. Mumble clients
// never send anything close to this; it exists to keep a malicious or
// confused peer from making the server allocate unboundedly.
const MaxFrameLength = 8 * 1024 * 1024

// ReadFrame reads one `u16 kind | u32 length | payload` frame (spec.md §6),
// mirroring Client.readProtoMessage in Lotlab-grumble/cmd/grumble/client.go.
func ReadFrame(r io.Reader) (Kind, []byte, error) {
	var header [6]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	kind := Kind(binary.BigEndian.Uint16(header[0:2]))
	length := binary.BigEndian.Uint32(header[2:6])
	if length > MaxFrameLength {
		return 0, nil, io.ErrShortBuffer
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return kind, payload, nil
}

// FrameBytes renders one length-prefixed frame as a single contiguous
// buffer, for callers (the per-client writer) that must hand it to a
// mutex-guarded writer as one atomic write.
func FrameBytes(kind Kind, payload []byte) []byte {
	buf := make([]byte, 6+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(kind))
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[6:], payload)
	return buf
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	var header [6]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(kind))
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Marshal frames msg for transport: kind, then protobuf-encoded payload.
func Marshal(msg proto.Message) (Kind, []byte, error) {
	kind := KindOf(msg)
	payload, err := proto.Marshal(msg)
	if err != nil {
		return 0, nil, err
	}
	return kind, payload, nil
}

// Unmarshal decodes payload into a fresh message value for kind. It returns
// (nil, nil) for a kind grumbled accepts on the wire but otherwise ignores
// (BanList, TextMessage, ...), so callers can treat those as a documented
// no-op rather than a framing error.
func Unmarshal(kind Kind, payload []byte) (proto.Message, error) {
	msg := New(kind)
	if msg == nil {
		return nil, nil
	}
	if err := proto.Unmarshal(payload, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
