// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sm

import (
	"context"
	"fmt"
	"time"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/cdb"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

// TestUnitReadyParams parameterizes a TEST UNIT READY command.
type TestUnitReadyParams struct {
	LUN       [8]byte
	IOTimeout time.Duration
}

// TestUnitReady drives a single no-data-transfer SCSI command to
// completion: Send -> Await. This is the simplest possible instance of
// the SCSI Command exchange, and the template the READ/WRITE machines
// extend with a data phase.
func (d *Driver) TestUnitReady(ctx context.Context, p TestUnitReadyParams, itt uint32) (ScsiResult, error) {
	var result ScsiResult
	if err := Run(ctx, d.turSend(p, itt, &result)); err != nil {
		return ScsiResult{}, err
	}
	return result, nil
}

func (d *Driver) turSend(p TestUnitReadyParams, itt uint32, out *ScsiResult) State {
	return func(ctx context.Context) (State, error) {
		var buf [16]byte
		cdb.TestUnitReady(buf[:], 0)

		v := buildScsiCommandReq(itt, p.LUN, buf[:], false, false, 0, d.Session.NextCmdSN(), d.Conn.ExpStatSN())
		wire, err := pdu.Build(v.BHS, nil, nil, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: tur: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: tur: send: %w", err)
		}
		return d.turAwait(p, itt, out), nil
	}
}

func (d *Driver) turAwait(p TestUnitReadyParams, itt uint32, out *ScsiResult) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.Await(itt, transport.IOTimeout(p.IOTimeout))
		if err != nil {
			return nil, fmt.Errorf("sm: tur: recv: %w", err)
		}
		result, err := parseScsiResponse(frame)
		*out = result
		return nil, err
	}
}
