// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package adminhttp is the read-mostly admin surface spec.md §6 treats as
// an external collaborator: "an HTTP admin surface that reads the registry
// to list clients and mutates only mute/deaf... is an external
// collaborator, not part of the session/voice-routing core." It mirrors
// original_source/src/http/{status,mute,deaf}.rs's three routes and adds a
// /ws/status push feed over the teacher's own gorilla/websocket dependency
// (spec.md §13).
package adminhttp

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/vspeak/grumbled/pkg/client"
	"github.com/vspeak/grumbled/pkg/registry"
)

// Server is the admin HTTP surface. It holds no state of its own beyond a
// bcrypt-hashed credential and the live set of websocket subscribers; every
// read goes straight through to the Registry.
type Server struct {
	Registry *registry.Registry
	Log      *log.Logger

	username     string
	passwordHash []byte // nil disables auth, matching the Rust original's optional http_password

	upgrader websocket.Upgrader

	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]struct{}
}

// New builds a Server. An empty password disables basic auth entirely,
// mirroring original_source/src/main.rs's Option<String> http_password.
func New(reg *registry.Registry, username, password string, logger *log.Logger) (*Server, error) {
	s := &Server{
		Registry:  reg,
		Log:       logger,
		username:  username,
		wsClients: make(map[*websocket.Conn]struct{}),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		s.passwordHash = hash
	}
	return s, nil
}

// Handler builds the routed http.Handler, every route guarded by basicAuth.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.basicAuth(s.getStatus)).Methods(http.MethodGet)
	r.HandleFunc("/mute/{user}", s.basicAuth(s.getMute)).Methods(http.MethodGet)
	r.HandleFunc("/mute", s.basicAuth(s.postMute)).Methods(http.MethodPost)
	r.HandleFunc("/deaf/{user}", s.basicAuth(s.getDeaf)).Methods(http.MethodGet)
	r.HandleFunc("/deaf", s.basicAuth(s.postDeaf)).Methods(http.MethodPost)
	r.HandleFunc("/ws/status", s.basicAuth(s.wsStatus)).Methods(http.MethodGet)
	return r
}

// basicAuth wraps h with HTTP basic authentication, comparing the supplied
// password against the bcrypt hash rather than the plaintext credential
// (spec.md §11's bcrypt requirement). A Server built with an empty password
// skips auth entirely.
func (s *Server) basicAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if s.passwordHash == nil {
			h(w, req)
			return
		}
		user, pass, ok := req.BasicAuth()
		if !ok || user != s.username || bcrypt.CompareHashAndPassword(s.passwordHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="grumbled"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, req)
	}
}

// mumbleClient is the per-client JSON shape original_source/src/http/status.rs's
// MumbleClient renders.
type mumbleClient struct {
	Name             string         `json:"name"`
	SessionID        uint32         `json:"session_id"`
	Channel          *string        `json:"channel"`
	Mute             bool           `json:"mute"`
	Deaf             bool           `json:"deaf"`
	Good             uint32         `json:"good"`
	Late             uint32         `json:"late"`
	Lost             uint32         `json:"lost"`
	Resync           uint32         `json:"resync"`
	LastGoodDuration int64          `json:"last_good_duration"`
	Targets          []mumbleTarget `json:"targets"`
}

type mumbleTarget struct {
	Sessions []uint32 `json:"sessions"`
	Channels []uint32 `json:"channels"`
}

func (s *Server) snapshot() map[uint32]mumbleClient {
	out := make(map[uint32]mumbleClient)
	s.Registry.RangeClients(func(c *client.Client) bool {
		out[c.Session] = s.describeClient(c)
		return true
	})
	return out
}

func (s *Server) describeClient(c *client.Client) mumbleClient {
	var channelName *string
	if ch, ok := s.Registry.Channel(c.Channel()); ok {
		name := ch.Name
		channelName = &name
	}

	c.Crypt.Mu.Lock()
	good, late, lost, resync := c.Crypt.Good, c.Crypt.Late, c.Crypt.Lost, c.Crypt.Resync
	lastGood := c.Crypt.LastGood
	c.Crypt.Mu.Unlock()

	targets := make([]mumbleTarget, 0, 30)
	for id := uint8(1); id <= 30; id++ {
		slot := c.Targets.Slot(id)
		targets = append(targets, mumbleTarget{
			Sessions: slot.Sessions(),
			Channels: slot.Channels(),
		})
	}

	return mumbleClient{
		Name:             c.Username,
		SessionID:        c.Session,
		Channel:          channelName,
		Mute:             c.Muted(),
		Deaf:             c.Deafened(),
		Good:             good,
		Late:             late,
		Lost:             lost,
		Resync:           resync,
		LastGoodDuration: time.Since(lastGood).Milliseconds(),
		Targets:          targets,
	}
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

type muteBody struct {
	Mute bool   `json:"mute"`
	User string `json:"user"`
}

func (s *Server) getMute(w http.ResponseWriter, req *http.Request) {
	username := mux.Vars(req)["user"]
	c, ok := s.Registry.ClientByName(username)
	if !ok {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, http.StatusOK, muteBody{Mute: c.Muted(), User: username})
}

func (s *Server) postMute(w http.ResponseWriter, req *http.Request) {
	var body muteBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	c, ok := s.Registry.ClientByName(body.User)
	if !ok {
		http.NotFound(w, req)
		return
	}
	c.SetMuted(body.Mute)
	w.WriteHeader(http.StatusOK)
}

type deafBody struct {
	Deaf bool   `json:"deaf"`
	User string `json:"user"`
}

func (s *Server) getDeaf(w http.ResponseWriter, req *http.Request) {
	username := mux.Vars(req)["user"]
	c, ok := s.Registry.ClientByName(username)
	if !ok {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, http.StatusOK, deafBody{Deaf: c.Deafened(), User: username})
}

func (s *Server) postDeaf(w http.ResponseWriter, req *http.Request) {
	var body deafBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	c, ok := s.Registry.ClientByName(body.User)
	if !ok {
		http.NotFound(w, req)
		return
	}
	c.SetDeafened(body.Deaf)
	w.WriteHeader(http.StatusOK)
}

// wsStatus upgrades to a websocket and registers the connection for
// PushStatus broadcasts, the added-beyond-the-original live feed
// (spec.md §13).
func (s *Server) wsStatus(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	s.wsMu.Lock()
	s.wsClients[conn] = struct{}{}
	s.wsMu.Unlock()

	if err := conn.WriteJSON(s.snapshot()); err != nil {
		s.dropWSClient(conn)
		return
	}

	// Drain reads so pong/close control frames are handled; the client
	// never sends anything meaningful over this socket.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.dropWSClient(conn)
			return
		}
	}
}

func (s *Server) dropWSClient(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.wsClients, conn)
	s.wsMu.Unlock()
	conn.Close()
}

// PushStatus broadcasts the current snapshot to every subscribed websocket
// client. Call it whenever the registry's client set changes.
func (s *Server) PushStatus() {
	snapshot := s.snapshot()

	s.wsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.wsClients))
	for c := range s.wsClients {
		conns = append(conns, c)
	}
	s.wsMu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(snapshot); err != nil {
			s.dropWSClient(conn)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
