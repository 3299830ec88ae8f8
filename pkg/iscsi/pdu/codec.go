// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements full-PDU assembly and parsing: BHS + AHS + optional
// HeaderDigest + Data + padding + optional DataDigest. Grounded on the
// teacher's plainCom.Send/Receive (pkg/core/communication.go), which
// builds up a bytes.Buffer of nested headers with binary.Write and
// reads it back the same way; this codec generalizes that shape to
// iSCSI's BHS/AHS/digest/padding framing.
package pdu

import (
	"bytes"
	"fmt"
	"io"
)

// noDigestOpcodes never carry digests even when the connection has
// negotiated them on, because digests are negotiated *during* Login.
func noDigestOpcodes(op Opcode) bool {
	switch op {
	case LoginReq, LoginResp, LogoutReq, LogoutResp:
		return true
	}
	return false
}

// Build assembles a full wire PDU: BHS, AHS (already padded by the
// caller to a 4-byte boundary), optional HeaderDigest, Data, Data
// padding, optional DataDigest.
func Build(bhs BHS, ahs []byte, data []byte, policy DigestPolicy) ([]byte, error) {
	if !bhs.valid() {
		return nil, ErrShortBuffer
	}
	if err := bhs.SetDataSegmentLength(uint32(len(data))); err != nil {
		return nil, err
	}
	bhs.SetAHSLenBytes(len(ahs))

	useDigests := policy
	if noDigestOpcodes(bhs.Opcode()) {
		useDigests = DigestPolicy{}
	}

	buf := bytes.Buffer{}
	buf.Write(bhs)
	buf.Write(ahs)
	if useDigests.Header {
		d := digest(buf.Bytes())
		buf.Write(d[:])
	}
	buf.Write(data)
	pad := padLen(len(data))
	if pad > 0 {
		buf.Write(make([]byte, pad))
	}
	if useDigests.Data {
		d := digest(buf.Bytes()[buf.Len()-len(data)-pad:])
		buf.Write(d[:])
	}
	return buf.Bytes(), nil
}

// Frame is a fully assembled/parsed PDU: a BHS plus whatever bytes
// followed it (AHS and Data Segment, with padding stripped).
type Frame struct {
	BHS  BHS
	AHS  []byte
	Data []byte
}

// ReadFrame reads one PDU from r, validating digests per policy (with
// the Login/Logout exemption applied automatically based on the parsed
// opcode).
func ReadFrame(r io.Reader, policy DigestPolicy) (Frame, error) {
	bhs := NewBHS()
	if _, err := io.ReadFull(r, bhs); err != nil {
		return Frame{}, fmt.Errorf("pdu: read BHS: %w", err)
	}
	if !bhs.Opcode().IsKnown() {
		return Frame{}, &BadOpcodeError{Got: bhs[0] & 0x3f}
	}

	useDigests := policy
	if noDigestOpcodes(bhs.Opcode()) {
		useDigests = DigestPolicy{}
	}

	ahsLen := bhs.AHSLenBytes()
	ahs := make([]byte, ahsLen)
	if ahsLen > 0 {
		if _, err := io.ReadFull(r, ahs); err != nil {
			return Frame{}, fmt.Errorf("pdu: read AHS: %w", err)
		}
	}

	if useDigests.Header {
		want := make([]byte, 4)
		if _, err := io.ReadFull(r, want); err != nil {
			return Frame{}, fmt.Errorf("pdu: read HeaderDigest: %w", err)
		}
		domain := append(append([]byte{}, bhs...), ahs...)
		computed := digestValue(domain)
		computedLE := digest(domain)
		if !bytes.Equal(computedLE[:], want) {
			return Frame{}, &DigestMismatchError{Data: false, Want: leToU32(want), Got: computed}
		}
	}

	dsl := int(bhs.DataSegmentLength())
	data := make([]byte, dsl)
	if dsl > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return Frame{}, fmt.Errorf("pdu: read Data: %w", err)
		}
	}
	pad := padLen(dsl)
	if pad > 0 {
		padBuf := make([]byte, pad)
		if _, err := io.ReadFull(r, padBuf); err != nil {
			return Frame{}, fmt.Errorf("pdu: read Data padding: %w", err)
		}
	}

	if useDigests.Data {
		want := make([]byte, 4)
		if _, err := io.ReadFull(r, want); err != nil {
			return Frame{}, fmt.Errorf("pdu: read DataDigest: %w", err)
		}
		domain := make([]byte, 0, dsl+pad)
		domain = append(domain, data...)
		domain = append(domain, make([]byte, pad)...)
		computed := digestValue(domain)
		computedLE := digest(domain)
		if !bytes.Equal(computedLE[:], want) {
			return Frame{}, &DigestMismatchError{Data: true, Want: leToU32(want), Got: computed}
		}
	}

	return Frame{BHS: bhs, AHS: ahs, Data: data}, nil
}

func leToU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// SegmentData splits data into chunks no larger than maxLen, used by
// Data-Out and Login/Text continuation to respect MaxRecvDataSegmentLength.
// Always yields at least one (possibly empty) segment.
func SegmentData(data []byte, maxLen uint32) [][]byte {
	if maxLen == 0 || uint32(len(data)) <= maxLen {
		return [][]byte{data}
	}
	var segs [][]byte
	for off := 0; off < len(data); off += int(maxLen) {
		end := off + int(maxLen)
		if end > len(data) {
			end = len(data)
		}
		segs = append(segs, data[off:end])
	}
	return segs
}
