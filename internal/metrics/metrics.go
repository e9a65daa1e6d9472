// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package metrics exposes the Prometheus counters/gauges spec.md §6 calls
// for as an external collaborator ("Metrics are name-tagged counters and a
// client gauge incremented at the documented sites"). Names and label sets
// are carried over from original_source/src/metrics.rs, plus two counters
// this module adds for the silent-drop sites spec.md §4.3/§4.5 call out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Protocol label values.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

// Direction label values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	// MessagesTotal counts every framed control-channel or voice message,
	// tagged by protocol/direction/kind.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grumbled_messages_total",
		Help: "number of messages",
	}, []string{"protocol", "direction", "kind"})

	// MessagesBytes counts the payload bytes of every message, same
	// labels as MessagesTotal.
	MessagesBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grumbled_messages_bytes",
		Help: "message bytes",
	}, []string{"protocol", "direction", "kind"})

	// ClientsTotal is the current number of registered clients.
	ClientsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grumbled_clients_total",
		Help: "total number of connected clients",
	})

	// VoiceDroppedTotal counts voice frames dropped at fan-out because a
	// recipient's outbound queue was full (spec.md §4.5).
	VoiceDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grumbled_voice_dropped_total",
		Help: "voice frames dropped because a recipient's outbound queue was full",
	})

	// UDPUnmatchedTotal counts UDP datagrams that matched no bound
	// endpoint and no probe-set client (spec.md §4.3).
	UDPUnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grumbled_udp_unmatched_total",
		Help: "UDP datagrams that could not be matched to any client",
	})
)
