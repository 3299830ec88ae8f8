// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"strings"
	"testing"
)

const minimalYAML = `
initiator:
  name: iqn.2026-01.com.example:initiator01
  isid: 000102030405
targets:
  - name: iqn.2026-01.com.example:target01
    address: 10.0.0.5:3260
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Negotiation.MaxRecvDataSegmentLength != 8192 {
		t.Fatalf("MRDSL default = %d, want 8192", cfg.Negotiation.MaxRecvDataSegmentLength)
	}
	if cfg.Connections.MaxSessions != 1 {
		t.Fatalf("MaxSessions default = %d, want 1", cfg.Connections.MaxSessions)
	}
	if cfg.Performance.IOTimeout.Seconds() != 5 {
		t.Fatalf("IOTimeout default = %v, want 5s", cfg.Performance.IOTimeout)
	}
}

func TestLoadRejectsBadISID(t *testing.T) {
	bad := strings.Replace(minimalYAML, "000102030405", "zz", 1)
	_, err := Load(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for invalid hex ISID")
	}
}

func TestLoadRejectsShortISID(t *testing.T) {
	bad := strings.Replace(minimalYAML, "000102030405", "0001", 1)
	_, err := Load(strings.NewReader(bad))
	if !errors.Is(err, ErrInvalidISID) {
		t.Fatalf("expected ErrInvalidISID, got %v", err)
	}
}

func TestLoadRejectsNoTargets(t *testing.T) {
	doc := `
initiator:
  name: iqn.2026-01.com.example:initiator01
  isid: 000102030405
targets: []
`
	_, err := Load(strings.NewReader(doc))
	if !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
}

func TestLoadRejectsIncompleteAuth(t *testing.T) {
	doc := minimalYAML + `    auth:
      username: alice
`
	_, err := Load(strings.NewReader(doc))
	if !errors.Is(err, ErrIncompleteAuth) {
		t.Fatalf("expected ErrIncompleteAuth, got %v", err)
	}
}
