// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the Session and per-session Connection bookkeeping:
// CmdSN/ITT sequencing and the CID->Connection map a Session needs to
// route a command onto one of its legs. Grounded on the teacher's
// Session/ControlSession split (session.go) and its functional-options
// construction (SessionOpt), generalized from the teacher's single
// TSN/HSN pair into the ISID+TSIH identity RFC 7143 uses and a CID-keyed
// connection map, since an iSCSI session supports many TCP connections
// where a TCG session never does.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

// Conn is one TCP leg of a Session, identified by its Connection ID.
type Conn struct {
	CID       uint16
	Transport *transport.Connection
}

// Session is one iSCSI session: an ISID+TSIH identity shared across
// one or more Connections, plus the monotone counters RFC 7143 ties to
// the session rather than to any one connection.
type Session struct {
	ISID [6]byte
	TSIH uint16

	mu    sync.Mutex
	conns map[uint16]*Conn

	cmdSN  uint32 // protected by mu; next CmdSN to issue
	ittGen uint32 // atomic; monotonically increasing ITT source
}

// SessionOpt configures a new Session, following the teacher's
// functional-options construction style.
type SessionOpt func(*Session)

// WithTSIH sets the Target Session Identifying Handle returned by the
// target's Login response.
func WithTSIH(tsih uint16) SessionOpt {
	return func(s *Session) { s.TSIH = tsih }
}

// WithISID sets the Initiator Session ID chosen by this initiator.
func WithISID(isid [6]byte) SessionOpt {
	return func(s *Session) { s.ISID = isid }
}

// New constructs a Session with CmdSN starting at initialCmdSN, as
// negotiated during Login.
func New(initialCmdSN uint32, opts ...SessionOpt) *Session {
	s := &Session{
		conns: make(map[uint16]*Conn),
		cmdSN: initialCmdSN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextITT returns the next Initiator Task Tag for this session. ITTs
// are drawn from a per-session monotone counter rather than reused,
// so collisions across connections within a session cannot occur even
// under concurrent issue.
func (s *Session) NextITT() uint32 {
	return atomic.AddUint32(&s.ittGen, 1)
}

// NextCmdSN returns the CmdSN to stamp on the next non-immediate
// command and advances the counter. Advancing and reading happen
// atomically under the session lock so two goroutines can never be
// handed the same CmdSN.
func (s *Session) NextCmdSN() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn := s.cmdSN
	s.cmdSN++
	return sn
}

// PeekCmdSN returns the next CmdSN to be issued without consuming it,
// for building the ExpCmdSN field of unrelated replies.
func (s *Session) PeekCmdSN() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmdSN
}

// AddConnection registers a logged-in Connection under its CID. It is
// an invariant violation for a CID to be added twice; ErrDuplicateCID
// signals a driver bug, not a recoverable runtime condition.
func (s *Session) AddConnection(c *Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conns[c.CID]; exists {
		return fmt.Errorf("%w: cid %d", ErrDuplicateCID, c.CID)
	}
	s.conns[c.CID] = c
	return nil
}

// RemoveConnection drops a connection's bookkeeping, typically after a
// successful Logout(CloseConnection) or connection failure.
func (s *Session) RemoveConnection(cid uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, cid)
}

// Connection returns the leg for cid, or ok=false if none is
// registered.
func (s *Session) Connection(cid uint16) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[cid]
	return c, ok
}

// AnyConnection returns an arbitrary active leg, for commands that do
// not care which connection carries them (MC/S round-robin load
// balancing across several legs for ordinary command traffic remains a
// non-goal; this always returns the first map entry found).
func (s *Session) AnyConnection() (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		return c, true
	}
	return nil, false
}

// LowestCID returns the leg with the numerically smallest CID. RFC
// 7143 4.2 directs a session-closing Logout (Reason=CloseSession) at
// this connection specifically.
func (s *Session) LowestCID() (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Conn
	for cid, c := range s.conns {
		if best == nil || cid < best.CID {
			best = c
		}
	}
	return best, best != nil
}

// Connections returns every active leg, for operations that must act
// on all of them (graceful quiesce, half-close during shutdown).
func (s *Session) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// ConnectionCount reports how many legs remain attached.
func (s *Session) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
