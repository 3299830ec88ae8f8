// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sm

import (
	"context"
	"fmt"
	"time"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

// LogoutParams parameterizes a Logout exchange.
type LogoutParams struct {
	Reason    pdu.LogoutReason
	CID       uint16 // meaningful for CloseConnection/RemoveConnectionForRecovery
	IOTimeout time.Duration
}

// LogoutResult is what a completed Logout exchange reports back, so
// the caller's session-pool cleanup policy can act on it.
type LogoutResult struct {
	ResponseCode pdu.LogoutResponseCode
	Time2Wait    uint16
	Time2Retain  uint16
}

// ErrLogoutFailed wraps a non-success LogoutResponseCode.
var ErrLogoutFailed = fmt.Errorf("sm: logout failed")

// Logout drives a Logout exchange: Idle -> Wait (request sent,
// response outstanding) -> Done. The three Reason values imply three
// different cleanup policies at the caller:
//   - CloseSession: every connection in the session must be torn down.
//   - CloseConnection: only CID's connection is torn down.
//   - RemoveConnectionForRecovery: CID's connection is torn down but the
//     session survives pending a recovery login.
// This state machine only performs the wire exchange; cleanup policy
// is the session pool's responsibility.
func (d *Driver) Logout(ctx context.Context, p LogoutParams, itt uint32) (LogoutResult, error) {
	var result LogoutResult
	if err := Run(ctx, d.logoutSend(p, itt, &result)); err != nil {
		return LogoutResult{}, err
	}
	return result, nil
}

func (d *Driver) logoutSend(p LogoutParams, itt uint32, out *LogoutResult) State {
	return func(ctx context.Context) (State, error) {
		v := pdu.NewLogoutReq()
		v.SetITT(itt)
		v.SetReason(p.Reason)
		v.SetCID(p.CID)
		v.SetCmdSN(d.Session.NextCmdSN())
		v.SetExpStatSN(d.Conn.ExpStatSN())

		wire, err := pdu.Build(v.BHS, nil, nil, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: logout: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: logout: send: %w", err)
		}
		return d.logoutAwait(p, itt, out), nil
	}
}

func (d *Driver) logoutAwait(p LogoutParams, itt uint32, out *LogoutResult) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.Await(itt, transport.IOTimeout(p.IOTimeout))
		if err != nil {
			return nil, fmt.Errorf("sm: logout: recv: %w", err)
		}
		if err := pdu.ExpectOpcode(frame, pdu.LogoutResp); err != nil {
			return nil, err
		}
		resp := pdu.LogoutRespView{frame.BHS}
		out.ResponseCode = resp.ResponseCode()
		out.Time2Wait = resp.Time2Wait()
		out.Time2Retain = resp.Time2Retain()
		if out.ResponseCode != pdu.LogoutSuccess {
			return nil, fmt.Errorf("%w: code 0x%02x", ErrLogoutFailed, out.ResponseCode)
		}
		return nil, nil
	}
}
