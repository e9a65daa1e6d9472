// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package certs

import (
	"path/filepath"
	"testing"
)

func TestLoadGeneratesWhenMissing(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "grumbled.crt")
	keyPath := filepath.Join(dir, "grumbled.key")

	cert, err := Load(certPath, keyPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("generated certificate has no DER bytes")
	}
}

func TestLoadReusesPersistedCert(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "grumbled.crt")
	keyPath := filepath.Join(dir, "grumbled.key")

	first, err := Load(certPath, keyPath)
	if err != nil {
		t.Fatalf("Load (first): %v", err)
	}
	second, err := Load(certPath, keyPath)
	if err != nil {
		t.Fatalf("Load (second): %v", err)
	}
	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Fatal("second Load should reuse the persisted certificate, not regenerate")
	}
}
