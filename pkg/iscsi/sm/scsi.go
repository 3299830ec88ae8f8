// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Shared SCSI Command Request/Response machinery used by the TEST UNIT
// READY, READ, and WRITE state machines: building the command PDU and
// decoding the terminal response, including the sense data RFC 7143
// 10.4.3 packs into the response's Data Segment on CHECK CONDITION.
package sm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/sense"
)

// ScsiResult is the outcome of a completed SCSI Command exchange.
type ScsiResult struct {
	Status        pdu.ScsiStatus
	Response      pdu.ScsiResponseCode
	Sense         *sense.Data
	ResidualCount uint32
	Underflow     bool
	Overflow      bool
}

// ErrTaskFailed wraps a non-GOOD SCSI status, with Sense populated when
// the target supplied any.
type ErrTaskFailed struct {
	Result ScsiResult
}

func (e *ErrTaskFailed) Error() string {
	if e.Result.Sense != nil {
		return fmt.Sprintf("sm: scsi command failed: status 0x%02x: %s", e.Result.Status, e.Result.Sense)
	}
	return fmt.Sprintf("sm: scsi command failed: status 0x%02x", e.Result.Status)
}

// EncodeLUN packs a SCSI logical unit number using SAM-5 peripheral
// device addressing (addressing method 0b00), sufficient for the flat
// single-digit LUN spaces iSCSI targets commonly expose.
func EncodeLUN(lun uint8) [8]byte {
	var b [8]byte
	b[1] = lun
	return b
}

func buildScsiCommandReq(itt uint32, lun [8]byte, cdb []byte, read, write bool, edtl uint32, cmdSN, expStatSN uint32) pdu.ScsiCommandReqView {
	v := pdu.NewScsiCommandReq()
	v.SetITT(itt)
	v.SetLUN(lun)
	v.SetRead(read)
	v.SetWrite(write)
	v.SetTaskAttribute(pdu.TaskSimple)
	v.SetEDTL(edtl)
	v.SetCmdSN(cmdSN)
	v.SetExpStatSN(expStatSN)
	copy(v.CDB(), cdb)
	return v
}

// parseScsiResponse decodes a ScsiCommandResp frame's status and, on
// CHECK CONDITION, the sense data packed into its Data Segment: a
// 2-byte big-endian SenseLength followed by that many bytes of fixed
// sense data (RFC 7143 10.4.3).
func parseScsiResponse(frame pdu.Frame) (ScsiResult, error) {
	if err := pdu.ExpectOpcode(frame, pdu.ScsiCommandResp); err != nil {
		return ScsiResult{}, err
	}
	resp := pdu.ScsiCommandRespView{frame.BHS}
	result := ScsiResult{
		Status:        resp.Status(),
		Response:      resp.Response(),
		ResidualCount: resp.ResidualCount(),
		Underflow:     resp.Underflow(),
		Overflow:      resp.Overflow(),
	}
	if result.Response != pdu.CommandCompleted {
		return result, fmt.Errorf("sm: scsi: target-level failure, response code 0x%02x", result.Response)
	}
	if result.Status == pdu.StatusCheckCondition && len(frame.Data) >= 2 {
		senseLen := binary.BigEndian.Uint16(frame.Data[0:2])
		if int(senseLen) <= len(frame.Data)-2 {
			if d, err := sense.Parse(frame.Data[2 : 2+int(senseLen)]); err == nil {
				result.Sense = &d
			}
		}
	}
	if result.Status != pdu.StatusGood {
		return result, &ErrTaskFailed{Result: result}
	}
	return result, nil
}

// ErrShortDataIn is returned when the bytes actually collected for a
// READ disagree with EDTL and the terminal response's own
// Underflow/Overflow/ResidualCount accounting.
var ErrShortDataIn = errors.New("sm: data-in byte count disagrees with residual accounting")
