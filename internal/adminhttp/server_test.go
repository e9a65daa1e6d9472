// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package adminhttp

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vspeak/grumbled/pkg/channel"
	"github.com/vspeak/grumbled/pkg/client"
	"github.com/vspeak/grumbled/pkg/registry"
)

func newTestServer(t *testing.T, password string) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	var buf bytes.Buffer
	s, err := New(reg, "admin", password, log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, reg
}

func addClient(t *testing.T, reg *registry.Registry, name string) *client.Client {
	t.Helper()
	var buf bytes.Buffer
	c := client.New(reg.NextSessionID(), name, &buf, log.New(&buf, "", 0))
	reg.AddClient(c)
	reg.JoinChannel(channel.RootID, c.Session)
	c.SetChannel(channel.RootID)
	return c
}

func TestBasicAuthRejectsWrongCredentials(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBasicAuthAcceptsCorrectCredentials(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestEmptyPasswordDisablesAuth(t *testing.T) {
	s, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with no credential supplied", rec.Code)
	}
}

func TestGetStatusReportsRegisteredClients(t *testing.T) {
	s, reg := newTestServer(t, "")
	c := addClient(t, reg, "alice")
	c.SetMuted(true)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]mumbleClient
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := body["1"]
	if !ok {
		t.Fatalf("status response missing session 1: %v", body)
	}
	if got.Name != "alice" || !got.Mute {
		t.Fatalf("got %+v, want name=alice mute=true", got)
	}
}

func TestGetMuteReportsCurrentState(t *testing.T) {
	s, reg := newTestServer(t, "")
	c := addClient(t, reg, "bob")
	c.SetMuted(true)

	req := httptest.NewRequest(http.MethodGet, "/mute/bob", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body muteBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Mute || body.User != "bob" {
		t.Fatalf("got %+v, want mute=true user=bob", body)
	}
}

func TestGetMuteUnknownUserReturns404(t *testing.T) {
	s, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/mute/nobody", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPostMuteChangesClientState(t *testing.T) {
	s, reg := newTestServer(t, "")
	c := addClient(t, reg, "carol")

	req := httptest.NewRequest(http.MethodPost, "/mute", strings.NewReader(`{"mute":true,"user":"carol"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !c.Muted() {
		t.Fatal("POST /mute should have set the client's muted flag")
	}
}

func TestPostDeafChangesClientState(t *testing.T) {
	s, reg := newTestServer(t, "")
	c := addClient(t, reg, "dave")

	req := httptest.NewRequest(http.MethodPost, "/deaf", strings.NewReader(`{"deaf":true,"user":"dave"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !c.Deafened() {
		t.Fatal("POST /deaf should have set the client's deafened flag")
	}
}
