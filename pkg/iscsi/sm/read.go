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

// ReadParams parameterizes a READ(10/16) exchange. CDB must already be
// filled by the caller via pkg/iscsi/cdb.
type ReadParams struct {
	LUN       [8]byte
	CDB       []byte
	EDTL      uint32 // expected data transfer length, bytes
	IOTimeout time.Duration
}

// ReadResult is a completed READ's outcome.
type ReadResult struct {
	Data []byte
	Scsi ScsiResult
}

// Read drives Start -> WaitData (accumulate Data-In, verifying
// monotone DataSN) -> WaitResp. A target may fold the final status
// into the last Data-In PDU (S bit set) instead of sending a separate
// SCSI Response; both forms are accepted.
func (d *Driver) Read(ctx context.Context, p ReadParams, itt uint32) (ReadResult, error) {
	result := ReadResult{Data: make([]byte, p.EDTL)}
	var nextDataSN, received uint32
	if err := Run(ctx, d.readSend(p, itt, &result, &nextDataSN, &received)); err != nil {
		return ReadResult{}, err
	}
	return result, nil
}

func (d *Driver) readSend(p ReadParams, itt uint32, out *ReadResult, nextDataSN, received *uint32) State {
	return func(ctx context.Context) (State, error) {
		v := buildScsiCommandReq(itt, p.LUN, p.CDB, true, false, p.EDTL, d.Session.NextCmdSN(), d.Conn.ExpStatSN())
		wire, err := pdu.Build(v.BHS, nil, nil, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: read: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: read: send: %w", err)
		}
		return d.readCollect(p, itt, out, nextDataSN, received), nil
	}
}

func (d *Driver) readCollect(p ReadParams, itt uint32, out *ReadResult, nextDataSN, received *uint32) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.AwaitNext(itt, transport.IOTimeout(p.IOTimeout))
		if err != nil {
			d.Conn.Release(itt)
			return nil, fmt.Errorf("sm: read: recv: %w", err)
		}

		if frame.BHS.Opcode() == pdu.ScsiCommandResp {
			d.Conn.Release(itt)
			result, err := parseScsiResponse(frame)
			out.Scsi = result
			if err != nil {
				return nil, err
			}
			return nil, verifyTransferLength(*received, p.EDTL, result)
		}

		if err := pdu.ExpectOpcode(frame, pdu.ScsiDataIn); err != nil {
			d.Conn.Release(itt)
			return nil, err
		}
		in := pdu.ScsiDataInView{frame.BHS}
		if in.DataSN() != *nextDataSN {
			d.Conn.Release(itt)
			return nil, fmt.Errorf("sm: read: out-of-order DataSN: got %d want %d", in.DataSN(), *nextDataSN)
		}
		*nextDataSN++

		off := int(in.BufferOffset())
		if off+len(frame.Data) > len(out.Data) {
			d.Conn.Release(itt)
			return nil, fmt.Errorf("sm: read: data-in overruns expected transfer length")
		}
		copy(out.Data[off:], frame.Data)
		*received += uint32(len(frame.Data))

		if in.S() {
			d.Conn.Release(itt)
			out.Scsi = ScsiResult{
				Status:        in.Status(),
				ResidualCount: in.ResidualCount(),
				Underflow:     in.U(),
				Overflow:      in.O(),
			}
			if out.Scsi.Status != pdu.StatusGood {
				return nil, &ErrTaskFailed{Result: out.Scsi}
			}
			return nil, verifyTransferLength(*received, p.EDTL, out.Scsi)
		}
		return d.readCollect(p, itt, out, nextDataSN, received), nil
	}
}

// verifyTransferLength checks the bytes actually collected for a READ
// against EDTL, reconciling against the terminal response's own
// residual accounting (RFC 7143 10.4.2) rather than recomputing a
// residual independently: an Underflow/Overflow flag on the terminal
// PDU is trusted at face value, and ErrShortDataIn only fires when the
// byte count disagrees with what that flag says should have arrived.
func verifyTransferLength(received, edtl uint32, result ScsiResult) error {
	if result.Status != pdu.StatusGood {
		return nil
	}
	switch {
	case result.Underflow:
		if result.ResidualCount > edtl || received != edtl-result.ResidualCount {
			return fmt.Errorf("%w: underflow residual %d but received %d of %d", ErrShortDataIn, result.ResidualCount, received, edtl)
		}
	case result.Overflow:
		if received != edtl+result.ResidualCount {
			return fmt.Errorf("%w: overflow residual %d but received %d of %d", ErrShortDataIn, result.ResidualCount, received, edtl)
		}
	default:
		if received != edtl {
			return fmt.Errorf("%w: received %d of %d with no residual indication", ErrShortDataIn, received, edtl)
		}
	}
	return nil
}
