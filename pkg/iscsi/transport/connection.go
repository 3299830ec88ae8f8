// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the iSCSI connection multiplexer: a single TCP stream
// shared by many concurrently outstanding commands, demultiplexed by
// Initiator Task Tag. Grounded on the teacher's plainCom Send/Receive
// pairing (communication.go) for the framing discipline - one writer
// at a time, one reader loop - generalized from the teacher's
// synchronous request/response call shape into an async waiter table,
// a pattern modeled on gocanopen's SDOClient.Handle callback-resolution
// loop (samsamfire-gocanopen/sdo_client.go) since the teacher itself
// never multiplexes more than one outstanding method call.
package transport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
)

// Connection owns one TCP stream to an iSCSI target and multiplexes
// it across every command outstanding on it. Callers never read or
// write the socket directly; they call SendRequest/Await.
type Connection struct {
	conn   net.Conn
	policy pdu.DigestPolicy
	log    *logrus.Entry

	writeMu sync.Mutex

	waitersMu sync.Mutex
	waiters   map[uint32]chan waiterResult

	// nopHandler, when set, is invoked from the reader goroutine for
	// every non-Reject frame carrying the no-tag ITT (0xFFFFFFFF), such
	// as an unsolicited NOP-In, so the caller can answer the target's
	// keepalive ping without a round trip through a waiter. The reader
	// does not look at the TTT; any filtering on it is the handler's.
	nopHandler func(pdu.Frame)

	// rejectHandler, when set, is invoked from the reader goroutine for
	// every Reject PDU. A Reject's own BHS carries the no-tag ITT, so it
	// cannot be routed through the ordinary waiter table; the handler is
	// expected to decode the embedded original header and call
	// FailWaiter for the ITT it addresses, if any.
	rejectHandler func(pdu.Frame)

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error

	// expStatSN is the next StatSN this connection expects from the
	// target, advanced from every status-bearing PDU the reader loop
	// observes (LoginResp, ScsiCommandResp, a final Data-In, R2T, NopIn,
	// LogoutResp, Reject) and stamped on the next outgoing request.
	expStatSN uint32

	quiesceMu   sync.Mutex
	quiescing   bool
	quiescedCh  chan struct{}
	outstanding int
}

type waiterResult struct {
	frame pdu.Frame
	err   error
}

// Options configures a new Connection.
type Options struct {
	Policy        pdu.DigestPolicy
	NopHandler    func(pdu.Frame)
	RejectHandler func(pdu.Frame)
	Logger        *logrus.Entry
}

// NewConnection wraps an already-established net.Conn (typically from
// net.Dial("tcp", target)) and starts its background reader loop. The
// caller owns the lifetime of conn; Close shuts both down together.
func NewConnection(conn net.Conn, opts Options) *Connection {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Connection{
		conn:       conn,
		policy:     opts.Policy,
		log:        log,
		waiters:       make(map[uint32]chan waiterResult),
		nopHandler:    opts.NopHandler,
		rejectHandler: opts.RejectHandler,
		closed:        make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// IOTimeout returns a deadline derived from d, applied to the next
// single blocking operation (SendRequest's write, or Await's wait).
// A zero d means no deadline.
func IOTimeout(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// registerWaiter installs a response channel for itt. Returns
// ErrWaiterExists if one is already outstanding.
func (c *Connection) registerWaiter(itt uint32) (chan waiterResult, error) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	if _, ok := c.waiters[itt]; ok {
		return nil, ErrWaiterExists
	}
	// Buffered deep enough to hold a full Data-In/R2T burst between
	// registration and the first AwaitNext call without blocking the
	// reader loop.
	ch := make(chan waiterResult, 64)
	c.waiters[itt] = ch
	return ch, nil
}

func (c *Connection) removeWaiter(itt uint32) {
	c.waitersMu.Lock()
	delete(c.waiters, itt)
	c.waitersMu.Unlock()
}

// Release tears down the waiter for itt registered by SendRequest,
// for multi-reply exchanges driven through AwaitNext.
func (c *Connection) Release(itt uint32) {
	c.removeWaiter(itt)
}

// FailWaiter delivers err to the waiter registered for itt, if any,
// without tearing down the rest of the connection. Used by a Reject
// handler to fail only the command a Reject names.
func (c *Connection) FailWaiter(itt uint32, err error) {
	c.waitersMu.Lock()
	ch, ok := c.waiters[itt]
	c.waitersMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- waiterResult{err: err}:
	default:
	}
}

// ExpStatSN returns the StatSN this connection next expects from the
// target, for stamping onto the next outgoing request.
func (c *Connection) ExpStatSN() uint32 {
	return atomic.LoadUint32(&c.expStatSN)
}

// advanceExpStatSN records statSN as delivered, so the connection next
// expects statSN+1.
func (c *Connection) advanceExpStatSN(statSN uint32) {
	atomic.StoreUint32(&c.expStatSN, statSN+1)
}

// observeStatSN bumps expStatSN from any frame that carries a valid
// StatSN, per the opcode's own rules (a non-final Data-In's StatSN
// field is not valid and must be ignored).
func (c *Connection) observeStatSN(frame pdu.Frame) {
	var statSN uint32
	switch frame.BHS.Opcode() {
	case pdu.LoginResp:
		statSN = pdu.LoginRespView{BHS: frame.BHS}.StatSN()
	case pdu.ScsiCommandResp:
		statSN = pdu.ScsiCommandRespView{BHS: frame.BHS}.StatSN()
	case pdu.ScsiDataIn:
		v := pdu.ScsiDataInView{BHS: frame.BHS}
		if !v.S() {
			return
		}
		statSN = v.StatSN()
	case pdu.ReadyToTransfer:
		statSN = pdu.ReadyToTransferView{BHS: frame.BHS}.StatSN()
	case pdu.NopIn:
		statSN = pdu.NopInView{BHS: frame.BHS}.StatSN()
	case pdu.LogoutResp:
		statSN = pdu.LogoutRespView{BHS: frame.BHS}.StatSN()
	case pdu.Reject:
		statSN = pdu.RejectView{BHS: frame.BHS}.StatSN()
	default:
		return
	}
	c.advanceExpStatSN(statSN)
}

// beginWrite registers one in-flight write against the quiesce
// accounting, rejecting it outright once GracefulQuiesce has been
// called. Every accepted write must be paired with endWrite.
func (c *Connection) beginWrite() error {
	c.quiesceMu.Lock()
	defer c.quiesceMu.Unlock()
	if c.quiescing {
		return ErrQuiescing
	}
	c.outstanding++
	return nil
}

func (c *Connection) endWrite() {
	c.quiesceMu.Lock()
	c.outstanding--
	done := c.quiescing && c.outstanding == 0
	var ch chan struct{}
	if done {
		ch = c.quiescedCh
	}
	c.quiesceMu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// GracefulQuiesce stops the connection from admitting any new WRITE
// task (BeginWriteTask starts failing with ErrQuiescing; SendRequest
// and SendOnly are not gated) and blocks until every task already
// admitted has completed, or timeout elapses first. Part of the graceful shutdown sequence: quiesce
// writes on every connection before issuing the session-closing
// Logout.
func (c *Connection) GracefulQuiesce(timeout time.Duration) error {
	c.quiesceMu.Lock()
	if !c.quiescing {
		c.quiescing = true
		c.quiescedCh = make(chan struct{})
	}
	ch := c.quiescedCh
	already := c.outstanding == 0
	c.quiesceMu.Unlock()
	if already {
		select {
		case <-ch:
		default:
			close(ch)
		}
		return nil
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-ch:
		return nil
	case <-timeoutCh:
		return fmt.Errorf("transport: quiesce: %w", ErrIOTimeout)
	case <-c.closed:
		return nil
	}
}

// WriteQuiesced reports whether GracefulQuiesce has completed (or the
// connection never had any in-flight write when it was called).
func (c *Connection) WriteQuiesced() bool {
	c.quiesceMu.Lock()
	quiescing, ch := c.quiescing, c.quiescedCh
	c.quiesceMu.Unlock()
	if !quiescing {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// SendRequest serializes wire and writes it to the socket under the
// connection's single writer lock, registering a waiter for itt first
// so no reply can race ahead of registration. It does not wait for the
// reply; call Await with the same itt to collect it.
func (c *Connection) SendRequest(itt uint32, wire []byte, deadline time.Time) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	if _, err := c.registerWaiter(itt); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !deadline.IsZero() {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(wire); err != nil {
		c.removeWaiter(itt)
		c.fail(fmt.Errorf("transport: write: %w", err))
		return ErrConnectionClosed
	}
	return nil
}

// SendOnly writes wire without registering a waiter, for PDUs that
// carry no ITT-addressed reply of their own (e.g. a SCSI Data-Out
// burst, which is acknowledged only by the eventual command response).
func (c *Connection) SendOnly(wire []byte, deadline time.Time) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !deadline.IsZero() {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(wire); err != nil {
		c.fail(fmt.Errorf("transport: write: %w", err))
		return ErrConnectionClosed
	}
	return nil
}

// BeginWriteTask registers one in-flight SCSI WRITE task against the
// quiesce accounting, refusing to admit it once GracefulQuiesce has
// been called. A task already admitted runs to completion even if
// quiesce begins mid-task; only tasks that have not yet called
// BeginWriteTask are turned away. Every successful call must be
// paired with EndWriteTask.
func (c *Connection) BeginWriteTask() error {
	return c.beginWrite()
}

// EndWriteTask releases the accounting registered by BeginWriteTask.
func (c *Connection) EndWriteTask() {
	c.endWrite()
}

// Await blocks for the single PDU addressed to itt and releases the
// waiter immediately afterward. Use this for exchanges where exactly
// one reply is expected (Login, Logout, NOP, TEST UNIT READY).
func (c *Connection) Await(itt uint32, deadline time.Time) (pdu.Frame, error) {
	defer c.removeWaiter(itt)
	return c.AwaitNext(itt, deadline)
}

// AwaitNext blocks for the next PDU addressed to itt without releasing
// the waiter, for exchanges that expect several replies against one
// ITT (READ's Data-In stream, WRITE's R2T/Data-Out loop). The caller
// must call Release(itt) once the exchange concludes.
func (c *Connection) AwaitNext(itt uint32, deadline time.Time) (pdu.Frame, error) {
	c.waitersMu.Lock()
	ch, ok := c.waiters[itt]
	c.waitersMu.Unlock()
	if !ok {
		return pdu.Frame{}, fmt.Errorf("transport: no waiter registered for ITT 0x%08x", itt)
	}

	if deadline.IsZero() {
		select {
		case r := <-ch:
			return r.frame, r.err
		case <-c.closed:
			return pdu.Frame{}, c.closeErrOrDefault()
		}
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.frame, r.err
	case <-timer.C:
		return pdu.Frame{}, ErrIOTimeout
	case <-c.closed:
		return pdu.Frame{}, c.closeErrOrDefault()
	}
}

func (c *Connection) closeErrOrDefault() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrConnectionClosed
}

// readLoop is the connection's single reader goroutine. It owns all
// reads off the socket; nothing else may call conn.Read.
func (c *Connection) readLoop() {
	partial := map[uint32][]byte{} // ITT -> accumulated Data Segment, Login/Text only
	for {
		frame, err := pdu.ReadFrame(c.conn, c.policy)
		if err != nil {
			c.fail(fmt.Errorf("transport: read: %w", err))
			return
		}
		if err := pdu.Validate(frame); err != nil {
			c.log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		frame, ready := reassembleLoginText(partial, frame)
		if !ready {
			continue
		}
		c.observeStatSN(frame)
		if frame.BHS.Opcode() == pdu.Reject {
			if c.rejectHandler != nil {
				c.rejectHandler(frame)
			}
			continue
		}
		itt := frame.BHS.ITT()
		if itt == pdu.DefaultTag {
			if c.nopHandler != nil {
				c.nopHandler(frame)
			}
			continue
		}
		c.waitersMu.Lock()
		ch, ok := c.waiters[itt]
		c.waitersMu.Unlock()
		if !ok {
			c.log.WithField("itt", itt).Warn("no waiter for incoming PDU, dropping")
			continue
		}
		select {
		case ch <- waiterResult{frame: frame}:
		default:
			// Waiter already satisfied or abandoned; never block the
			// reader loop on a slow or gone consumer.
		}
	}
}

// reassembleLoginText folds a possibly-continued Login/Text response
// into a single logical Frame. Login and Text are the only PDUs whose
// C bit (byte 1, 0x40) promises more Data Segment in a follow-up PDU
// carrying the same ITT; every other opcode is returned unmodified.
// On the final PDU (C=0) the accumulated Data Segment replaces the
// last BHS's own, and its length field is fixed up to match, so
// callers never see a partial key=value list.
func reassembleLoginText(partial map[uint32][]byte, frame pdu.Frame) (pdu.Frame, bool) {
	op := frame.BHS.Opcode()
	if op != pdu.LoginResp && op != pdu.TextResp {
		return frame, true
	}
	continued := frame.BHS.FlagsByte()&0x40 != 0
	itt := frame.BHS.ITT()
	buf := append(partial[itt], frame.Data...)
	if continued {
		partial[itt] = buf
		return pdu.Frame{}, false
	}
	delete(partial, itt)
	frame.Data = buf
	frame.BHS.SetDataSegmentLength(uint32(len(buf)))
	return frame, true
}

// fail tears the connection down and wakes every outstanding waiter
// with err, wrapped in ErrConnectionClosed unless it already is that.
func (c *Connection) fail(err error) {
	if err != ErrConnectionClosed {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.waitersMu.Lock()
		for itt, ch := range c.waiters {
			ch <- waiterResult{err: err}
			delete(c.waiters, itt)
		}
		c.waitersMu.Unlock()
		close(c.closed)
		c.conn.Close()
	})
}

// Close shuts the connection down and wakes every outstanding waiter
// with ErrConnectionClosed.
func (c *Connection) Close() error {
	c.fail(ErrConnectionClosed)
	return nil
}

// HalfCloseWrites shuts down the write half only, letting the target
// drain and close the read half on its own schedule. Used by graceful
// Logout: no more commands will be issued, but in-flight responses are
// still collected.
func (c *Connection) HalfCloseWrites() error {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := c.conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return fmt.Errorf("transport: underlying connection does not support half-close")
}

// Done returns a channel closed when the connection's reader loop has
// exited, for callers that want to select on connection liveness.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

var _ io.Closer = (*Connection)(nil)
