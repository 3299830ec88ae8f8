// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

import (
	"errors"
	"fmt"
)

// CodecError is the taxonomy member covering malformed or unrepresentable
// wire data. Every exported error the codec returns is either one of the
// sentinels below or wraps one via fmt.Errorf("%w", ...), so callers can
// use errors.Is against them.
var (
	ErrShortBuffer      = errors.New("pdu: short buffer")
	ErrBadOpcode        = errors.New("pdu: unknown or mismatched opcode")
	ErrReservedBitsSet  = errors.New("pdu: reserved bits set")
	ErrInvalidFlagCombo = errors.New("pdu: invalid flag combination")
	ErrLengthOverflow   = errors.New("pdu: length exceeds wire representation")
	ErrDigestMismatch   = errors.New("pdu: digest mismatch")
)

// DigestMismatchError carries which digest (header or data) failed so
// callers can log or report it without string-matching.
type DigestMismatchError struct {
	Data bool // false: HeaderDigest, true: DataDigest
	Want uint32
	Got  uint32
}

func (e *DigestMismatchError) Error() string {
	kind := "HeaderDigest"
	if e.Data {
		kind = "DataDigest"
	}
	return fmt.Sprintf("pdu: %s mismatch: want %08x got %08x", kind, e.Want, e.Got)
}

func (e *DigestMismatchError) Unwrap() error { return ErrDigestMismatch }

// BadOpcodeError names the offending byte for diagnostics.
type BadOpcodeError struct {
	Got byte
}

func (e *BadOpcodeError) Error() string {
	return fmt.Sprintf("pdu: unknown opcode 0x%02x", e.Got)
}

func (e *BadOpcodeError) Unwrap() error { return ErrBadOpcode }
