// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Deterministic, side-effect-free SCSI CDB fillers, grounded on the
// teacher's pkg/drive/sgio CDB6/CDB10/CDB12/CDB16 fixed-layout byte
// array types and the opcode constants in pkg/drive/sgio/ops.go. An
// iSCSI Command PDU always carries a 16-byte CDB field regardless of
// the command's natural CDB length, so every builder here fills a
// caller-supplied 16-byte buffer and leaves the remainder zero.
package cdb

import "encoding/binary"

// Opcode constants for the eight SCSI commands this package builds,
// plus REQUEST SENSE used to retrieve CheckCondition detail.
const (
	OpTestUnitReady   = 0x00
	OpRequestSense    = 0x03
	OpInquiry         = 0x12
	OpModeSense6      = 0x1A
	OpReadCapacity10  = 0x25
	OpRead10          = 0x28
	OpWrite10         = 0x2A
	OpModeSense10     = 0x5A
	OpReportLUNs      = 0xA0
	OpRead16          = 0x88
	OpWrite16         = 0x8A
	OpReadCapacity16  = 0x9E // Service Action IN(16), service action 0x10
)

// ReadWriteFlags encodes RDPROTECT/WRPROTECT|DPO|FUA. Read10 and
// Write10 mask it to their legal bit-field; Read16 and Write16 write
// it unmasked.
type ReadWriteFlags uint8

const (
	FlagDPO ReadWriteFlags = 1 << 4
	FlagFUA ReadWriteFlags = 1 << 3
)

func zero(cdb []byte) {
	for i := range cdb {
		cdb[i] = 0
	}
}

// TestUnitReady fills a 6-byte TEST UNIT READY CDB into buf[0:16].
func TestUnitReady(buf []byte, control byte) {
	zero(buf)
	buf[0] = OpTestUnitReady
	buf[5] = control
}

// RequestSense fills a 6-byte REQUEST SENSE CDB.
func RequestSense(buf []byte, desc bool, allocLen uint8, control byte) {
	zero(buf)
	buf[0] = OpRequestSense
	if desc {
		buf[1] = 0x01
	}
	buf[4] = allocLen
	buf[5] = control
}

// Inquiry fills a 6-byte INQUIRY CDB. When evpd is false, page and
// subpage are ignored (standard inquiry).
func Inquiry(buf []byte, evpd bool, page, subpage, allocLen, control byte) {
	zero(buf)
	buf[0] = OpInquiry
	if evpd {
		buf[1] = 0x01
		buf[2] = page
		buf[3] = subpage
	}
	buf[4] = allocLen
	buf[5] = control
}

// PageControl is the PC field of MODE SENSE (6/10).
type PageControl uint8

const (
	PCCurrent     PageControl = 0
	PCChangeable  PageControl = 1
	PCDefault     PageControl = 2
	PCSaved       PageControl = 3
)

// ModeSense6 fills a 6-byte MODE SENSE(6) CDB.
func ModeSense6(buf []byte, dbd bool, pc PageControl, page, subpage, allocLen, control byte) {
	zero(buf)
	buf[0] = OpModeSense6
	if dbd {
		buf[1] = 1 << 3
	}
	buf[2] = (byte(pc) << 6) | (page & 0x3f)
	buf[3] = subpage
	buf[4] = allocLen
	buf[5] = control
}

// ModeSense10 fills a 10-byte MODE SENSE(10) CDB.
func ModeSense10(buf []byte, llbaa, dbd bool, pc PageControl, page, subpage byte, allocLen uint16, control byte) {
	zero(buf)
	buf[0] = OpModeSense10
	var b1 byte
	if llbaa {
		b1 |= 1 << 4
	}
	if dbd {
		b1 |= 1 << 3
	}
	buf[1] = b1
	buf[2] = (byte(pc) << 6) | (page & 0x3f)
	buf[3] = subpage
	binary.BigEndian.PutUint16(buf[7:9], allocLen)
	buf[9] = control
}

// Read10 fills a 10-byte READ(10) CDB. blocks==0 means 65536 blocks
// per SBC, encoded as the wire value 0.
func Read10(buf []byte, flags ReadWriteFlags, lba uint32, blocks uint16, control byte) {
	zero(buf)
	buf[0] = OpRead10
	buf[1] = byte(flags) & 0xF8
	binary.BigEndian.PutUint32(buf[2:6], lba)
	binary.BigEndian.PutUint16(buf[7:9], blocks)
	buf[9] = control
}

// Read16 fills a 16-byte READ(16) CDB.
func Read16(buf []byte, flags ReadWriteFlags, lba uint64, blocks uint32, control byte) {
	zero(buf)
	buf[0] = OpRead16
	buf[1] = byte(flags)
	binary.BigEndian.PutUint64(buf[2:10], lba)
	binary.BigEndian.PutUint32(buf[10:14], blocks)
	buf[15] = control
}

// Write10 fills a 10-byte WRITE(10) CDB.
func Write10(buf []byte, flags ReadWriteFlags, lba uint32, blocks uint16, control byte) {
	zero(buf)
	buf[0] = OpWrite10
	buf[1] = byte(flags) & 0xFA
	binary.BigEndian.PutUint32(buf[2:6], lba)
	binary.BigEndian.PutUint16(buf[7:9], blocks)
	buf[9] = control
}

// Write16 fills a 16-byte WRITE(16) CDB.
func Write16(buf []byte, flags ReadWriteFlags, lba uint64, blocks uint32, control byte) {
	zero(buf)
	buf[0] = OpWrite16
	buf[1] = byte(flags)
	binary.BigEndian.PutUint64(buf[2:10], lba)
	binary.BigEndian.PutUint32(buf[10:14], blocks)
	buf[15] = control
}

// ReadCapacity10 fills a 10-byte READ CAPACITY(10) CDB.
func ReadCapacity10(buf []byte, pmi bool, lba uint32, control byte) {
	zero(buf)
	buf[0] = OpReadCapacity10
	if pmi {
		binary.BigEndian.PutUint32(buf[2:6], lba)
		buf[8] = 0x01
	}
	buf[9] = control
}

// ReadCapacity16 fills a 16-byte SERVICE ACTION IN(16) CDB requesting
// the READ CAPACITY(16) service action (0x10).
func ReadCapacity16(buf []byte, pmi bool, lba uint64, allocLen uint32, control byte) {
	zero(buf)
	buf[0] = OpReadCapacity16
	buf[1] = 0x10
	binary.BigEndian.PutUint64(buf[2:10], lba)
	binary.BigEndian.PutUint32(buf[10:14], allocLen)
	if pmi {
		buf[14] = 0x01
	}
	buf[15] = control
}

// ReportLUNs fills a 12-byte REPORT LUNS CDB (into the low 12 bytes of
// the 16-byte buffer).
func ReportLUNs(buf []byte, selectReport byte, allocLen uint32, control byte) {
	zero(buf)
	buf[0] = OpReportLUNs
	buf[2] = selectReport
	binary.BigEndian.PutUint32(buf[6:10], allocLen)
	buf[11] = control
}
