// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/config"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
)

const testYAML = `
initiator:
  name: iqn.2026-01.com.example:initiator01
  isid: 000102030405
targets:
  - name: iqn.2026-01.com.example:target01
    address: fake:3260
connections:
  max_sessions: 2
`

func fakeLoginTarget(t *testing.T, server net.Conn) {
	t.Helper()
	buf := make([]byte, pdu.BHSLen)
	total := 0
	for total < len(buf) {
		n, err := server.Read(buf[total:])
		total += n
		if err != nil {
			return
		}
	}
	bhs := pdu.BHS(buf)
	dsl := int(bhs.DataSegmentLength())
	if dsl > 0 {
		pad := (4 - dsl%4) % 4
		data := make([]byte, dsl+pad)
		server.Read(data)
	}
	resp := pdu.LoginRespView{pdu.NewBHS()}
	resp.SetOpcode(pdu.LoginResp)
	resp.SetITT(bhs.ITT())
	resp.SetFlagsByte(0x80 | byte(pdu.StageOperational)<<2 | byte(pdu.StageFullFeature)) // T=1, CSG=Operational, NSG=FullFeature
	resp.SetTSIH(42)
	wire, _ := pdu.Build(resp.BHS, nil, nil, pdu.DigestPolicy{})
	server.Write(wire)
}

func TestLoginAndInsert(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	p := New(cfg, WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go fakeLoginTarget(t, server)
		return client, nil
	}))

	sess, err := p.LoginAndInsert(context.Background(), cfg.Targets[0])
	if err != nil {
		t.Fatalf("LoginAndInsert: %v", err)
	}
	if sess.TSIH != 42 {
		t.Fatalf("TSIH = %d, want 42", sess.TSIH)
	}
	if _, ok := p.Session(cfg.Targets[0].Name); !ok {
		t.Fatal("session not registered in pool")
	}
}

func TestLoginAndInsertDuplicateTarget(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	p := New(cfg, WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go fakeLoginTarget(t, server)
		return client, nil
	}))

	if _, err := p.LoginAndInsert(context.Background(), cfg.Targets[0]); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := p.LoginAndInsert(context.Background(), cfg.Targets[0]); err == nil {
		t.Fatal("expected error on duplicate target login")
	}
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SessionsActive.Inc()
	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mf) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestShutdownGracefully(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	p := New(cfg, WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			fakeLoginTarget(t, server)

			buf := make([]byte, pdu.BHSLen)
			total := 0
			for total < len(buf) {
				n, err := server.Read(buf[total:])
				total += n
				if err != nil {
					return
				}
			}
			req := pdu.LogoutReqView{pdu.BHS(buf)}
			resp := pdu.LogoutRespView{pdu.NewBHS()}
			resp.SetOpcode(pdu.LogoutResp)
			resp.SetITT(req.ITT())
			wire, _ := pdu.Build(resp.BHS, nil, nil, pdu.DigestPolicy{})
			server.Write(wire)
		}()
		return client, nil
	}))

	if _, err := p.LoginAndInsert(context.Background(), cfg.Targets[0]); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := p.ShutdownGracefully(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("ShutdownGracefully: %v", err)
	}
	if _, err := p.LoginAndInsert(context.Background(), cfg.Targets[0]); err != ErrPoolShutdown {
		t.Fatalf("expected ErrPoolShutdown after shutdown, got %v", err)
	}
}
