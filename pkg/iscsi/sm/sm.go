// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the state-machine driver shared by every iSCSI protocol
// exchange (Login, Logout, NOP, TEST UNIT READY, READ, WRITE).
// Grounded on the teacher's MethodCall.Execute (method.go), which
// drives a single call to completion against a Session and
// CommunicationIntf; generalized here into a reusable State-closure
// loop because an iSCSI exchange is a multi-round conversation rather
// than one request/response pair, a shape this package borrows from
// gocanopen's SDO_STATE-driven SDOClient (samsamfire-gocanopen).
package sm

import (
	"context"
	"fmt"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/session"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

// State advances one step of an exchange. Returning a nil next State
// with a nil error means the exchange finished successfully; a nil
// next State with a non-nil error means it failed.
type State func(ctx context.Context) (State, error)

// Run drives start to completion, stopping either when a State returns
// a nil next state or when ctx is cancelled.
func Run(ctx context.Context, start State) error {
	state := start
	for state != nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("sm: %w", ctx.Err())
		default:
		}
		next, err := state(ctx)
		if err != nil {
			return err
		}
		state = next
	}
	return nil
}

// Driver bundles the two handles every State closure needs: the wire
// connection to read/write on, and the session whose counters (CmdSN,
// ITT) the exchange consumes.
type Driver struct {
	Conn    *transport.Connection
	Session *session.Session
}
