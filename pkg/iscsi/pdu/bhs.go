// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the iSCSI Basic Header Segment (RFC 7143 section 10):
// a byte-exact, zero-copy view over the 48-byte BHS with big-endian
// accessors. The BHS layout mixes bit-packed fields (opcode + flags
// in byte 0), odd-width integers (24-bit DataSegmentLength) and
// opcode-specific reuse of the same byte ranges, so a plain
// encoding/binary struct tag can't express it -- accessors decode and
// encode directly against the backing slice instead, the one place
// this codec departs from the teacher's binary.Read/Write struct
// idiom used for ComPacket/Packet/SubPacket headers.
package pdu

import (
	"encoding/binary"
)

// BHSLen is the fixed size of every Basic Header Segment.
const BHSLen = 48

// BHS is a zero-copy view over a 48-byte Basic Header Segment. All
// multi-byte fields are big-endian on the wire.
type BHS []byte

// NewBHS allocates a zeroed Basic Header Segment.
func NewBHS() BHS {
	return make(BHS, BHSLen)
}

func (b BHS) valid() bool { return len(b) >= BHSLen }

// --- common fields (offsets shared by every opcode) ---

func (b BHS) Opcode() Opcode { return Opcode(b[0] & 0x3f) }
func (b BHS) SetOpcode(o Opcode) {
	b[0] = (b[0] & 0xc0) | byte(o)&0x3f
}

// I is the Immediate bit (byte 0, bit 6).
func (b BHS) I() bool { return b[0]&0x40 != 0 }
func (b BHS) SetI(v bool) {
	if v {
		b[0] |= 0x40
	} else {
		b[0] &^= 0x40
	}
}

// FinalBit is the top bit of the opcode-specific flags byte (byte 1),
// named "F" for every opcode that defines it.
func (b BHS) FinalBit() bool { return b[1]&0x80 != 0 }
func (b BHS) SetFinalBit(v bool) {
	if v {
		b[1] |= 0x80
	} else {
		b[1] &^= 0x80
	}
}

func (b BHS) FlagsByte() byte      { return b[1] }
func (b BHS) SetFlagsByte(v byte)  { b[1] = v }

func (b BHS) TotalAHSLength() uint8    { return b[4] }
func (b BHS) SetTotalAHSLength(v uint8) { b[4] = v }

// DataSegmentLength decodes the 24-bit big-endian length at bytes 5..8.
func (b BHS) DataSegmentLength() uint32 {
	return uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
}

func (b BHS) SetDataSegmentLength(v uint32) error {
	if v > 0xFFFFFF {
		return ErrLengthOverflow
	}
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
	return nil
}

// LUN returns the 8-byte LUN/opcode-specific field at offset 8.
func (b BHS) LUN() [8]byte {
	var lun [8]byte
	copy(lun[:], b[8:16])
	return lun
}

func (b BHS) SetLUN(lun [8]byte) { copy(b[8:16], lun[:]) }

func (b BHS) ITT() uint32     { return binary.BigEndian.Uint32(b[16:20]) }
func (b BHS) SetITT(v uint32) { binary.BigEndian.PutUint32(b[16:20], v) }

// --- generic opcode-field accessors over bytes 20..48 ---

func (b BHS) uint32At(off int) uint32     { return binary.BigEndian.Uint32(b[off : off+4]) }
func (b BHS) setUint32At(off int, v uint32) { binary.BigEndian.PutUint32(b[off:off+4], v) }
func (b BHS) uint16At(off int) uint16     { return binary.BigEndian.Uint16(b[off : off+2]) }
func (b BHS) setUint16At(off int, v uint16) { binary.BigEndian.PutUint16(b[off:off+2], v) }

// AHSLenBytes returns the AHS byte-length encoded by TotalAHSLength
// (stored on the wire in 4-byte words).
func (b BHS) AHSLenBytes() int { return int(b.TotalAHSLength()) * 4 }

func (b BHS) SetAHSLenBytes(n int) {
	b.SetTotalAHSLength(uint8(n / 4))
}
