// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

import "fmt"

// Validate checks a parsed Frame against the structural rules spec
// section 4.1 requires on receive, independent of whatever state
// machine will consume it.
func Validate(f Frame) error {
	op := f.BHS.Opcode()
	switch op {
	case ScsiDataIn:
		v := ScsiDataInView{f.BHS}
		if v.U() && v.O() {
			return fmt.Errorf("pdu: ScsiDataIn U and O both set: %w", ErrInvalidFlagCombo)
		}
		if v.S() && !v.FinalBit() {
			return fmt.Errorf("pdu: ScsiDataIn S set without F: %w", ErrInvalidFlagCombo)
		}
	case LogoutReq:
		if f.BHS.AHSLenBytes() != 0 || f.BHS.DataSegmentLength() != 0 {
			return fmt.Errorf("pdu: LogoutReq carries AHS or data: %w", ErrInvalidFlagCombo)
		}
	case LogoutResp:
		if f.BHS.AHSLenBytes() != 0 || f.BHS.DataSegmentLength() != 0 {
			return fmt.Errorf("pdu: LogoutResp carries AHS or data: %w", ErrInvalidFlagCombo)
		}
	case ReadyToTransfer:
		if f.BHS.DataSegmentLength() != 0 {
			return fmt.Errorf("pdu: R2T carries data: %w", ErrInvalidFlagCombo)
		}
	case Reject:
		// Reject carries the original 48-byte header as payload; no
		// further structural checks apply beyond BHS sanity already
		// performed while reading.
	}
	return nil
}

// ExpectOpcode validates that a parsed Frame is of the expected
// request/response opcode, returning a descriptive error otherwise.
func ExpectOpcode(f Frame, want Opcode) error {
	if f.BHS.Opcode() != want {
		return fmt.Errorf("pdu: expected opcode %s, got %s: %w", want, f.BHS.Opcode(), ErrBadOpcode)
	}
	return nil
}
