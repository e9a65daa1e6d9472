// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package server wires the TCP control plane, the shared UDP voice plane,
// the voice fan-out engine, and the janitor task together over a single
// Registry (spec.md §4, §5). It generalizes the task layout
// Lotlab-grumble/cmd/grumble spreads across client.go's tlsRecvLoop /
// udpRecvLoop and an (unretrieved) server.go, and follows
// original_source/src/server/{tcp,udp}.rs for the accept/dispatch shape of
// each task.
package server

import (
	"log"
	"net"
	"os"

	"github.com/vspeak/grumbled/pkg/registry"
)

// Config bundles the runtime-configurable values spec.md §6 calls out as
// CLI-provided collaborator input (welcome string, advertised version).
type Config struct {
	Welcome         string
	ProtocolVersion uint32
}

// Server is the top-level grumbled session/voice-routing engine: one
// Registry shared by every task spec.md §5 enumerates (TCP acceptor, UDP
// receiver, janitor, handler tasks implicit in the TCP read loop).
type Server struct {
	Config   Config
	Registry *registry.Registry
	Log      *log.Logger

	udpConn      *net.UDPConn
	statusPusher StatusPusher
}

// StatusPusher is notified whenever the registered-client set changes, so
// the admin HTTP websocket feed can push a fresh snapshot without polling
// (spec.md §13's /ws/status addition). internal/adminhttp.Server satisfies
// this.
type StatusPusher interface {
	PushStatus()
}

// SetUDPConn records the shared UDP socket so per-client writer loops can
// deliver SendVoicePacket envelopes over it (spec.md §4.6).
func (s *Server) SetUDPConn(conn *net.UDPConn) {
	s.udpConn = conn
}

// SetStatusPusher wires the admin HTTP status feed in.
func (s *Server) SetStatusPusher(p StatusPusher) {
	s.statusPusher = p
}

func (s *Server) pushStatus() {
	if s.statusPusher != nil {
		s.statusPusher.PushStatus()
	}
}

// New constructs a Server with a fresh Registry (spec.md §9: "a single
// ServerState value is shared by reference across all tasks; initialized
// once in main").
func New(cfg Config) *Server {
	return &Server{
		Config:   cfg,
		Registry: registry.New(),
		Log:      log.New(os.Stderr, "grumbled: ", log.LstdFlags),
	}
}
