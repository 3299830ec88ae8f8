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

// WriteParams parameterizes a WRITE(10/16) exchange. CDB must already
// be filled by the caller via pkg/iscsi/cdb. This driver always
// operates unsolicited-data-free (ImmediateData=No, InitialR2T=Yes):
// every byte of Data is sent only once R2T'd, which every target
// supports regardless of its negotiated InitialR2T/ImmediateData
// settings.
type WriteParams struct {
	LUN            [8]byte
	CDB            []byte
	Data           []byte
	MaxBurstLength uint32
	IOTimeout      time.Duration
}

// Write drives IssueCmd -> WaitR2T -> SendWindow(loop) -> WaitResp,
// honoring each R2T's BufferOffset/DesiredDataTransferLength window.
// Data-Out DataSN is monotonically increasing for the life of the
// task, per RFC 7143 10.7, not restarted at each R2T window.
func (d *Driver) Write(ctx context.Context, p WriteParams, itt uint32) (ScsiResult, error) {
	if err := d.Conn.BeginWriteTask(); err != nil {
		return ScsiResult{}, fmt.Errorf("sm: write: %w", err)
	}
	defer d.Conn.EndWriteTask()

	var result ScsiResult
	nextDataSN := new(uint32)
	if err := Run(ctx, d.writeIssueCmd(p, itt, nextDataSN, &result)); err != nil {
		return ScsiResult{}, err
	}
	return result, nil
}

func (d *Driver) writeIssueCmd(p WriteParams, itt uint32, nextDataSN *uint32, out *ScsiResult) State {
	return func(ctx context.Context) (State, error) {
		v := buildScsiCommandReq(itt, p.LUN, p.CDB, false, true, uint32(len(p.Data)), d.Session.NextCmdSN(), d.Conn.ExpStatSN())
		wire, err := pdu.Build(v.BHS, nil, nil, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: write: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: write: send: %w", err)
		}
		return d.writeWaitR2T(p, itt, nextDataSN, out), nil
	}
}

func (d *Driver) writeWaitR2T(p WriteParams, itt uint32, nextDataSN *uint32, out *ScsiResult) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.AwaitNext(itt, transport.IOTimeout(p.IOTimeout))
		if err != nil {
			d.Conn.Release(itt)
			return nil, fmt.Errorf("sm: write: recv: %w", err)
		}

		if frame.BHS.Opcode() == pdu.ScsiCommandResp {
			d.Conn.Release(itt)
			result, err := parseScsiResponse(frame)
			*out = result
			return nil, err
		}

		if err := pdu.ExpectOpcode(frame, pdu.ReadyToTransfer); err != nil {
			d.Conn.Release(itt)
			return nil, err
		}
		r2t := pdu.ReadyToTransferView{frame.BHS}
		return d.writeSendWindow(p, itt, nextDataSN, out, r2t.TTT(), r2t.BufferOffset(), r2t.DesiredDataTransferLength()), nil
	}
}

func (d *Driver) writeSendWindow(p WriteParams, itt uint32, nextDataSN *uint32, out *ScsiResult, ttt, bufferOffset, length uint32) State {
	return func(ctx context.Context) (State, error) {
		if uint64(bufferOffset)+uint64(length) > uint64(len(p.Data)) {
			d.Conn.Release(itt)
			return nil, fmt.Errorf("sm: write: R2T window exceeds command's data length")
		}
		maxBurst := p.MaxBurstLength
		if maxBurst == 0 {
			maxBurst = length
		}
		window := p.Data[bufferOffset : bufferOffset+length]
		segments := pdu.SegmentData(window, maxBurst)

		for i, seg := range segments {
			v := pdu.NewScsiDataOut()
			v.SetITT(itt)
			v.SetTTT(ttt)
			v.SetExpStatSN(d.Conn.ExpStatSN())
			v.SetDataSN(*nextDataSN)
			v.SetBufferOffset(bufferOffset + uint32(i)*maxBurst)
			if i == len(segments)-1 {
				v.SetFinalBit(true)
			}
			wire, err := pdu.Build(v.BHS, nil, seg, pdu.DigestPolicy{})
			if err != nil {
				d.Conn.Release(itt)
				return nil, fmt.Errorf("sm: write: build data-out: %w", err)
			}
			if err := d.Conn.SendOnly(wire, transport.IOTimeout(p.IOTimeout)); err != nil {
				d.Conn.Release(itt)
				return nil, fmt.Errorf("sm: write: send data-out: %w", err)
			}
			*nextDataSN++
		}
		return d.writeWaitR2T(p, itt, nextDataSN, out), nil
	}
}
