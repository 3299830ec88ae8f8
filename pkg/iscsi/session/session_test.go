// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"sync"
	"testing"
)

func TestNextITTMonotoneUnderConcurrency(t *testing.T) {
	s := New(0)
	const n = 200
	seen := make(chan uint32, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			seen <- s.NextITT()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint32]bool, n)
	for itt := range seen {
		if itt == 0 {
			t.Fatal("NextITT returned 0")
		}
		if unique[itt] {
			t.Fatalf("duplicate ITT %d handed out under concurrency", itt)
		}
		unique[itt] = true
	}
	if len(unique) != n {
		t.Fatalf("got %d unique ITTs, want %d", len(unique), n)
	}
}

func TestNextCmdSNAdvancesAndPeekDoesNotConsume(t *testing.T) {
	s := New(5)
	if got := s.PeekCmdSN(); got != 5 {
		t.Fatalf("PeekCmdSN = %d, want 5", got)
	}
	if got := s.NextCmdSN(); got != 5 {
		t.Fatalf("NextCmdSN = %d, want 5", got)
	}
	if got := s.PeekCmdSN(); got != 6 {
		t.Fatalf("PeekCmdSN after advance = %d, want 6", got)
	}
	if got := s.NextCmdSN(); got != 6 {
		t.Fatalf("NextCmdSN = %d, want 6", got)
	}
}

func TestAddConnectionRejectsDuplicateCID(t *testing.T) {
	s := New(0)
	if err := s.AddConnection(&Conn{CID: 1}); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	err := s.AddConnection(&Conn{CID: 1})
	if err == nil {
		t.Fatal("expected error on duplicate CID")
	}
}

func TestRemoveConnectionAndLookup(t *testing.T) {
	s := New(0)
	c := &Conn{CID: 7}
	if err := s.AddConnection(c); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if got, ok := s.Connection(7); !ok || got != c {
		t.Fatal("expected to find connection 7")
	}
	if s.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", s.ConnectionCount())
	}
	s.RemoveConnection(7)
	if _, ok := s.Connection(7); ok {
		t.Fatal("connection 7 should be gone")
	}
	if s.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount = %d, want 0", s.ConnectionCount())
	}
}

func TestAnyConnectionEmpty(t *testing.T) {
	s := New(0)
	if _, ok := s.AnyConnection(); ok {
		t.Fatal("expected no connection on a fresh session")
	}
	c := &Conn{CID: 3}
	s.AddConnection(c)
	got, ok := s.AnyConnection()
	if !ok || got != c {
		t.Fatal("expected AnyConnection to return the only attached leg")
	}
}

func TestWithISIDAndTSIHOptions(t *testing.T) {
	isid := [6]byte{1, 2, 3, 4, 5, 6}
	s := New(0, WithISID(isid), WithTSIH(42))
	if s.ISID != isid {
		t.Fatalf("ISID = %v, want %v", s.ISID, isid)
	}
	if s.TSIH != 42 {
		t.Fatalf("TSIH = %d, want 42", s.TSIH)
	}
}
