// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements SCSI fixed-format sense data parsing (SPC-4 4.5.3) and an
// ASC/ASCQ description lookup. Grounded on the teacher's small
// fixed-layout parsing style (pkg/drive/sgio/ops.go's InquiryResponse),
// generalized from binary.Read-over-a-struct to manual bit/byte
// extraction because sense data packs a response code and a Valid bit
// into the same byte.
package sense

import "fmt"

// Key is the SCSI sense key (byte 2, low nibble).
type Key uint8

const (
	KeyNoSense        Key = 0x0
	KeyRecoveredError Key = 0x1
	KeyNotReady       Key = 0x2
	KeyMediumError    Key = 0x3
	KeyHardwareError  Key = 0x4
	KeyIllegalRequest Key = 0x5
	KeyUnitAttention  Key = 0x6
	KeyDataProtect    Key = 0x7
	KeyBlankCheck     Key = 0x8
	KeyAbortedCommand Key = 0xB
	KeyVolumeOverflow Key = 0xD
	KeyMiscompare     Key = 0xE
)

func (k Key) String() string {
	switch k {
	case KeyNoSense:
		return "NoSense"
	case KeyRecoveredError:
		return "RecoveredError"
	case KeyNotReady:
		return "NotReady"
	case KeyMediumError:
		return "MediumError"
	case KeyHardwareError:
		return "HardwareError"
	case KeyIllegalRequest:
		return "IllegalRequest"
	case KeyUnitAttention:
		return "UnitAttention"
	case KeyDataProtect:
		return "DataProtect"
	case KeyBlankCheck:
		return "BlankCheck"
	case KeyAbortedCommand:
		return "AbortedCommand"
	case KeyVolumeOverflow:
		return "VolumeOverflow"
	case KeyMiscompare:
		return "Miscompare"
	}
	return "<Unknown>"
}

// Data is a parsed fixed-format sense buffer (SPC-4 table 46).
type Data struct {
	Valid          bool
	ResponseCode   uint8
	FileMark       bool
	EndOfMedium    bool
	ILI            bool
	SenseKey       Key
	Information    uint32
	AdditionalLen  uint8
	ASC            uint8
	ASCQ           uint8
}

// ErrShortBuffer is returned by Parse when b is shorter than the
// minimum 18-byte fixed sense format.
var ErrShortBuffer = fmt.Errorf("sense: buffer shorter than fixed sense format")

// Parse decodes fixed-format sense data. The caller passes the raw
// bytes delivered by a CheckCondition response or a REQUEST SENSE
// command.
func Parse(b []byte) (Data, error) {
	if len(b) < 18 {
		return Data{}, ErrShortBuffer
	}
	d := Data{
		Valid:        b[0]&0x80 != 0,
		ResponseCode: b[0] & 0x7f,
		SenseKey:     Key(b[2] & 0x0f),
		FileMark:     b[2]&0x80 != 0,
		EndOfMedium:  b[2]&0x40 != 0,
		ILI:          b[2]&0x20 != 0,
		Information:  uint32(b[3])<<24 | uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6]),
		AdditionalLen: b[7],
		ASC:          b[12],
		ASCQ:         b[13],
	}
	return d, nil
}

// Description returns the ASC/ASCQ→description lookup result, or
// "unknown additional sense code" if no entry matches.
func (d Data) Description() string {
	return Describe(d.ASC, d.ASCQ)
}

func (d Data) String() string {
	return fmt.Sprintf("%s (ASC=0x%02x ASCQ=0x%02x %s)", d.SenseKey, d.ASC, d.ASCQ, d.Description())
}
