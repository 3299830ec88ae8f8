// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"net"
	"testing"
	"time"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
)

func pipePair(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := NewConnection(client, Options{})
	t.Cleanup(func() { c.Close() })
	return c, server
}

func TestSendRequestAwaitRoundTrip(t *testing.T) {
	c, server := pipePair(t)

	v := pdu.NewNopOut()
	v.SetITT(7)
	v.SetTTT(pdu.DefaultTag)
	wire, err := pdu.Build(v.BHS, nil, nil, pdu.DigestPolicy{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	go func() {
		buf := make([]byte, pdu.BHSLen)
		if _, err := readFull(server, buf); err != nil {
			return
		}
		resp := pdu.NopInView{pdu.NewBHS()}
		resp.SetOpcode(pdu.NopIn)
		resp.SetITT(7)
		resp.SetTTT(pdu.DefaultTag)
		respWire, _ := pdu.Build(resp.BHS, nil, nil, pdu.DigestPolicy{})
		server.Write(respWire)
	}()

	if err := c.SendRequest(7, wire, time.Time{}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	frame, err := c.Await(7, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	got := pdu.NopInView{frame.BHS}
	if got.ITT() != 7 {
		t.Fatalf("ITT = %d, want 7", got.ITT())
	}
}

func TestSendRequestDuplicateITT(t *testing.T) {
	c, _ := pipePair(t)
	if _, err := c.registerWaiter(5); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := c.registerWaiter(5); err != ErrWaiterExists {
		t.Fatalf("expected ErrWaiterExists, got %v", err)
	}
}

func TestAwaitTimeout(t *testing.T) {
	c, _ := pipePair(t)
	if _, err := c.registerWaiter(9); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := c.Await(9, time.Now().Add(20*time.Millisecond))
	if err != ErrIOTimeout {
		t.Fatalf("expected ErrIOTimeout, got %v", err)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	c, _ := pipePair(t)
	ch, err := c.registerWaiter(3)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	c.Close()
	select {
	case r := <-ch:
		if r.err != ErrConnectionClosed {
			t.Fatalf("expected ErrConnectionClosed, got %v", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestUnsolicitedNopRoutedToHandler(t *testing.T) {
	client, server := net.Pipe()
	received := make(chan pdu.Frame, 1)
	c := NewConnection(client, Options{NopHandler: func(f pdu.Frame) {
		received <- f
	}})
	defer c.Close()

	v := pdu.NopInView{pdu.NewBHS()}
	v.SetOpcode(pdu.NopIn)
	v.SetITT(pdu.DefaultTag)
	v.SetTTT(1234)
	wire, _ := pdu.Build(v.BHS, nil, nil, pdu.DigestPolicy{})
	go server.Write(wire)

	select {
	case f := <-received:
		got := pdu.NopInView{f.BHS}
		if got.TTT() != 1234 {
			t.Fatalf("TTT = %d, want 1234", got.TTT())
		}
	case <-time.After(time.Second):
		t.Fatal("unsolicited NOP-In never reached handler")
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
