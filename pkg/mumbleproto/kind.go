// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package mumbleproto frames and dispatches the length-prefixed protobuf
// messages that make up the Mumble TCP control channel (spec.md §6),
// delegating message encoding itself to
// layeh.com/gumble/gumble/MumbleProto — the "Mumble protobuf message codec"
// spec.md §1 treats as an externally supplied library. It plays the same
// role Lotlab-grumble/pkg/mumbleproto plays over google.golang.org/protobuf,
// narrowed to the message kinds spec.md §6 enumerates.
package mumbleproto

import (
	MumbleProto "layeh.com/gumble/gumble/MumbleProto"

	"google.golang.org/protobuf/proto"
)

// Kind is the 16-bit message-type tag that precedes every TCP control-
// channel frame.
type Kind uint16

// The message kinds spec.md §6 requires the control channel to speak. Order
// and values follow the Mumble wire protocol exactly, since clients rely on
// it.
const (
	KindVersion Kind = iota
	KindUDPTunnel
	KindAuthenticate
	KindPing
	KindReject
	KindServerSync
	KindChannelRemove
	KindChannelState
	KindUserRemove
	KindUserState
	KindBanList
	KindTextMessage
	KindPermissionDenied
	KindACL
	KindQueryUsers
	KindCryptSetup
	KindContextActionModify
	KindContextAction
	KindUserList
	KindVoiceTarget
	KindPermissionQuery
	KindCodecVersion
	KindUserStats
	KindRequestBlob
	KindServerConfig
	KindSuggestConfig
)

// New returns a zero-valued message for kind, or nil if kind is not one
// grumbled dispatches (BanList, TextMessage, PermissionDenied, ACL,
// QueryUsers, ContextActionModify, ContextAction, UserList,
// PermissionQuery, UserStats, RequestBlob, SuggestConfig are accepted on the
// wire per spec.md §6 but otherwise ignored).
func New(kind Kind) proto.Message {
	switch kind {
	case KindVersion:
		return &MumbleProto.Version{}
	case KindUDPTunnel:
		return &MumbleProto.UDPTunnel{}
	case KindAuthenticate:
		return &MumbleProto.Authenticate{}
	case KindPing:
		return &MumbleProto.Ping{}
	case KindReject:
		return &MumbleProto.Reject{}
	case KindServerSync:
		return &MumbleProto.ServerSync{}
	case KindChannelRemove:
		return &MumbleProto.ChannelRemove{}
	case KindChannelState:
		return &MumbleProto.ChannelState{}
	case KindUserRemove:
		return &MumbleProto.UserRemove{}
	case KindUserState:
		return &MumbleProto.UserState{}
	case KindCryptSetup:
		return &MumbleProto.CryptSetup{}
	case KindVoiceTarget:
		return &MumbleProto.VoiceTarget{}
	case KindCodecVersion:
		return &MumbleProto.CodecVersion{}
	case KindServerConfig:
		return &MumbleProto.ServerConfig{}
	default:
		return nil
	}
}

// KindOf returns the wire kind for a concrete message value, the mirror
// image of New. It panics on a message type grumbled never sends, the same
// contract Lotlab-grumble/pkg/mumbleproto.PacketType has for packet kinds
// it doesn't know.
func KindOf(msg proto.Message) Kind {
	switch msg.(type) {
	case *MumbleProto.Version:
		return KindVersion
	case *MumbleProto.UDPTunnel:
		return KindUDPTunnel
	case *MumbleProto.Authenticate:
		return KindAuthenticate
	case *MumbleProto.Ping:
		return KindPing
	case *MumbleProto.Reject:
		return KindReject
	case *MumbleProto.ServerSync:
		return KindServerSync
	case *MumbleProto.ChannelRemove:
		return KindChannelRemove
	case *MumbleProto.ChannelState:
		return KindChannelState
	case *MumbleProto.UserRemove:
		return KindUserRemove
	case *MumbleProto.UserState:
		return KindUserState
	case *MumbleProto.CryptSetup:
		return KindCryptSetup
	case *MumbleProto.VoiceTarget:
		return KindVoiceTarget
	case *MumbleProto.CodecVersion:
		return KindCodecVersion
	case *MumbleProto.ServerConfig:
		return KindServerConfig
	default:
		panic("mumbleproto: unknown message type")
	}
}
