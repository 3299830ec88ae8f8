// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sm

import (
	"context"
	"fmt"
	"time"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/session"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

// Ping drives a solicited NOP-Out/NOP-In round trip, used both as an
// explicit keepalive and to measure connection liveness.
func (d *Driver) Ping(ctx context.Context, itt uint32, timeout time.Duration) error {
	return Run(ctx, d.pingSend(itt, timeout))
}

func (d *Driver) pingSend(itt uint32, timeout time.Duration) State {
	return func(ctx context.Context) (State, error) {
		v := pdu.NewNopOut()
		v.SetITT(itt)
		v.SetTTT(pdu.DefaultTag)
		v.SetCmdSN(d.Session.PeekCmdSN())
		v.SetExpStatSN(d.Conn.ExpStatSN())

		wire, err := pdu.Build(v.BHS, nil, nil, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: nop: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(timeout)); err != nil {
			return nil, fmt.Errorf("sm: nop: send: %w", err)
		}
		return d.pingAwait(itt, timeout), nil
	}
}

func (d *Driver) pingAwait(itt uint32, timeout time.Duration) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.Await(itt, transport.IOTimeout(timeout))
		if err != nil {
			return nil, fmt.Errorf("sm: nop: recv: %w", err)
		}
		if err := pdu.ExpectOpcode(frame, pdu.NopIn); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// AutoReplyNopIn answers an unsolicited NOP-In (ITT==0xFFFFFFFF) with a
// NOP-Out carrying the target's TTT, per RFC 7143 10.18.2. It takes the
// connection and session directly, rather than through a Driver, so it
// can be wired as a transport.Options.NopHandler closure before the
// Driver that will later issue commands on the same connection even
// exists yet.
func AutoReplyNopIn(conn *transport.Connection, sess *session.Session, frame pdu.Frame) {
	in := pdu.NopInView{frame.BHS}
	if in.TTT() == pdu.DefaultTag {
		return // target did not solicit a reply
	}
	v := pdu.NewNopOut()
	v.SetITT(pdu.DefaultTag)
	v.SetTTT(in.TTT())
	v.SetCmdSN(sess.PeekCmdSN())
	v.SetExpStatSN(conn.ExpStatSN())
	wire, err := pdu.Build(v.BHS, nil, nil, pdu.DigestPolicy{})
	if err != nil {
		return
	}
	conn.SendOnly(wire, time.Time{})
}

// AutoReplyNopIn is the Driver-bound convenience form of the
// package-level function above, for callers that already have a
// Driver in hand.
func (d *Driver) AutoReplyNopIn(frame pdu.Frame) {
	AutoReplyNopIn(d.Conn, d.Session, frame)
}
