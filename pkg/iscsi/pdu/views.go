// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Per-opcode typed views over a BHS, following the field inventory in
// spec section 6. Each view embeds a BHS and adds named accessors for
// the opcode-specific byte ranges (offsets 20..48, plus the handful of
// opcodes that repurpose the flags byte or the LUN/opcode-specific
// range at offset 8).
package pdu

// LoginReqView is a LoginReq BHS.
type LoginReqView struct{ BHS }

func NewLoginReq() LoginReqView {
	b := NewBHS()
	b.SetOpcode(LoginReq)
	b.SetI(true)
	return LoginReqView{b}
}

func (v LoginReqView) T() bool      { return v.FlagsByte()&0x80 != 0 }
func (v LoginReqView) SetT(t bool) {
	if t {
		v[1] |= 0x80
	} else {
		v[1] &^= 0x80
	}
}
func (v LoginReqView) C() bool { return v.FlagsByte()&0x40 != 0 }
func (v LoginReqView) SetC(c bool) {
	if c {
		v[1] |= 0x40
	} else {
		v[1] &^= 0x40
	}
}
func (v LoginReqView) CSG() Stage { return Stage((v.FlagsByte() >> 2) & 0x3) }
func (v LoginReqView) SetCSG(s Stage) {
	v[1] = (v[1] &^ 0x0c) | (byte(s)&0x3)<<2
}
func (v LoginReqView) NSG() Stage { return Stage(v.FlagsByte() & 0x3) }
func (v LoginReqView) SetNSG(s Stage) {
	v[1] = (v[1] &^ 0x03) | byte(s)&0x3
}
func (v LoginReqView) VersionMax() uint8     { return v[2] }
func (v LoginReqView) SetVersionMax(x uint8) { v[2] = x }
func (v LoginReqView) VersionMin() uint8     { return v[3] }
func (v LoginReqView) SetVersionMin(x uint8) { v[3] = x }
func (v LoginReqView) ISID() [6]byte {
	var isid [6]byte
	copy(isid[:], v[8:14])
	return isid
}
func (v LoginReqView) SetISID(isid [6]byte) { copy(v[8:14], isid[:]) }
func (v LoginReqView) TSIH() uint16         { return v.uint16At(14) }
func (v LoginReqView) SetTSIH(x uint16)     { v.setUint16At(14, x) }
func (v LoginReqView) CID() uint16          { return v.uint16At(20) }
func (v LoginReqView) SetCID(x uint16)      { v.setUint16At(20, x) }
func (v LoginReqView) CmdSN() uint32        { return v.uint32At(24) }
func (v LoginReqView) SetCmdSN(x uint32)    { v.setUint32At(24, x) }
func (v LoginReqView) ExpStatSN() uint32    { return v.uint32At(28) }
func (v LoginReqView) SetExpStatSN(x uint32) { v.setUint32At(28, x) }

// LoginRespView is a LoginResp BHS.
type LoginRespView struct{ BHS }

func (v LoginRespView) T() bool        { return v.FlagsByte()&0x80 != 0 }
func (v LoginRespView) C() bool        { return v.FlagsByte()&0x40 != 0 }
func (v LoginRespView) CSG() Stage     { return Stage((v.FlagsByte() >> 2) & 0x3) }
func (v LoginRespView) NSG() Stage     { return Stage(v.FlagsByte() & 0x3) }
func (v LoginRespView) VersionMax() uint8    { return v[2] }
func (v LoginRespView) VersionActive() uint8 { return v[3] }
func (v LoginRespView) ISID() [6]byte {
	var isid [6]byte
	copy(isid[:], v[8:14])
	return isid
}
func (v LoginRespView) TSIH() uint16        { return v.uint16At(14) }
func (v LoginRespView) SetTSIH(x uint16)    { v.setUint16At(14, x) }
func (v LoginRespView) StatSN() uint32      { return v.uint32At(20) }
func (v LoginRespView) ExpCmdSN() uint32    { return v.uint32At(24) }
func (v LoginRespView) MaxCmdSN() uint32    { return v.uint32At(28) }
func (v LoginRespView) StatusClass() StatusClass { return StatusClass(v[32]) }
func (v LoginRespView) StatusDetail() uint8      { return v[33] }

// ScsiCommandReqView is a SCSI Command Request BHS.
type ScsiCommandReqView struct{ BHS }

func NewScsiCommandReq() ScsiCommandReqView {
	b := NewBHS()
	b.SetOpcode(ScsiCommandReq)
	return ScsiCommandReqView{b}
}

func (v ScsiCommandReqView) SetRead(r bool) {
	if r {
		v[1] |= 0x40
	} else {
		v[1] &^= 0x40
	}
}
func (v ScsiCommandReqView) Read() bool { return v.FlagsByte()&0x40 != 0 }
func (v ScsiCommandReqView) SetWrite(w bool) {
	if w {
		v[1] |= 0x20
	} else {
		v[1] &^= 0x20
	}
}
func (v ScsiCommandReqView) Write() bool { return v.FlagsByte()&0x20 != 0 }
func (v ScsiCommandReqView) SetTaskAttribute(a TaskAttribute) {
	v[1] = (v[1] &^ 0x07) | byte(a)&0x07
}
func (v ScsiCommandReqView) TaskAttribute() TaskAttribute {
	return TaskAttribute(v.FlagsByte() & 0x07)
}
func (v ScsiCommandReqView) EDTL() uint32       { return v.uint32At(20) }
func (v ScsiCommandReqView) SetEDTL(x uint32)   { v.setUint32At(20, x) }
func (v ScsiCommandReqView) CmdSN() uint32      { return v.uint32At(24) }
func (v ScsiCommandReqView) SetCmdSN(x uint32)  { v.setUint32At(24, x) }
func (v ScsiCommandReqView) ExpStatSN() uint32  { return v.uint32At(28) }
func (v ScsiCommandReqView) SetExpStatSN(x uint32) { v.setUint32At(28, x) }
func (v ScsiCommandReqView) CDB() []byte        { return v[32:48] }

// ScsiCommandRespView is a SCSI Command Response BHS.
type ScsiCommandRespView struct{ BHS }

func (v ScsiCommandRespView) BidiOverflow() bool  { return v.FlagsByte()&0x10 != 0 }
func (v ScsiCommandRespView) BidiUnderflow() bool { return v.FlagsByte()&0x08 != 0 }
func (v ScsiCommandRespView) Overflow() bool      { return v.FlagsByte()&0x04 != 0 }
func (v ScsiCommandRespView) Underflow() bool     { return v.FlagsByte()&0x02 != 0 }
func (v ScsiCommandRespView) Response() ScsiResponseCode { return ScsiResponseCode(v[2]) }
func (v ScsiCommandRespView) Status() ScsiStatus         { return ScsiStatus(v[3]) }
func (v ScsiCommandRespView) SNACKTag() uint32           { return v.uint32At(20) }
func (v ScsiCommandRespView) StatSN() uint32             { return v.uint32At(24) }
func (v ScsiCommandRespView) ExpCmdSN() uint32           { return v.uint32At(28) }
func (v ScsiCommandRespView) MaxCmdSN() uint32           { return v.uint32At(32) }
func (v ScsiCommandRespView) ExpDataSN() uint32          { return v.uint32At(36) }
func (v ScsiCommandRespView) BidiReadResidualCount() uint32 { return v.uint32At(40) }
func (v ScsiCommandRespView) ResidualCount() uint32      { return v.uint32At(44) }

// ScsiDataOutView is a SCSI Data-Out BHS.
type ScsiDataOutView struct{ BHS }

func NewScsiDataOut() ScsiDataOutView {
	b := NewBHS()
	b.SetOpcode(ScsiDataOut)
	return ScsiDataOutView{b}
}

func (v ScsiDataOutView) TTT() uint32          { return v.uint32At(20) }
func (v ScsiDataOutView) SetTTT(x uint32)      { v.setUint32At(20, x) }
func (v ScsiDataOutView) SetExpStatSN(x uint32) { v.setUint32At(28, x) }
func (v ScsiDataOutView) ExpStatSN() uint32    { return v.uint32At(28) }
func (v ScsiDataOutView) DataSN() uint32       { return v.uint32At(36) }
func (v ScsiDataOutView) SetDataSN(x uint32)   { v.setUint32At(36, x) }
func (v ScsiDataOutView) BufferOffset() uint32 { return v.uint32At(40) }
func (v ScsiDataOutView) SetBufferOffset(x uint32) { v.setUint32At(40, x) }

// ScsiDataInView is a SCSI Data-In BHS.
type ScsiDataInView struct{ BHS }

func (v ScsiDataInView) A() bool { return v.FlagsByte()&0x40 != 0 }
func (v ScsiDataInView) O() bool { return v.FlagsByte()&0x04 != 0 }
func (v ScsiDataInView) U() bool { return v.FlagsByte()&0x02 != 0 }
func (v ScsiDataInView) S() bool { return v.FlagsByte()&0x01 != 0 }
func (v ScsiDataInView) Status() ScsiStatus       { return ScsiStatus(v[3]) }
func (v ScsiDataInView) TTT() uint32              { return v.uint32At(20) }
func (v ScsiDataInView) StatSN() uint32           { return v.uint32At(24) }
func (v ScsiDataInView) SetStatSN(x uint32)       { v.setUint32At(24, x) }
func (v ScsiDataInView) ExpCmdSN() uint32         { return v.uint32At(28) }
func (v ScsiDataInView) MaxCmdSN() uint32         { return v.uint32At(32) }
func (v ScsiDataInView) DataSN() uint32           { return v.uint32At(36) }
func (v ScsiDataInView) BufferOffset() uint32     { return v.uint32At(40) }
func (v ScsiDataInView) ResidualCount() uint32    { return v.uint32At(44) }

// ReadyToTransferView is an R2T BHS.
type ReadyToTransferView struct{ BHS }

func (v ReadyToTransferView) TTT() uint32          { return v.uint32At(20) }
func (v ReadyToTransferView) StatSN() uint32       { return v.uint32At(24) }
func (v ReadyToTransferView) ExpCmdSN() uint32     { return v.uint32At(28) }
func (v ReadyToTransferView) MaxCmdSN() uint32     { return v.uint32At(32) }
func (v ReadyToTransferView) R2TSN() uint32        { return v.uint32At(36) }
func (v ReadyToTransferView) BufferOffset() uint32 { return v.uint32At(40) }
func (v ReadyToTransferView) DesiredDataTransferLength() uint32 { return v.uint32At(44) }

// NopOutView is a NopOut BHS.
type NopOutView struct{ BHS }

func NewNopOut() NopOutView {
	b := NewBHS()
	b.SetOpcode(NopOut)
	b.SetFinalBit(true)
	return NopOutView{b}
}

func (v NopOutView) TTT() uint32           { return v.uint32At(20) }
func (v NopOutView) SetTTT(x uint32)       { v.setUint32At(20, x) }
func (v NopOutView) CmdSN() uint32         { return v.uint32At(24) }
func (v NopOutView) SetCmdSN(x uint32)     { v.setUint32At(24, x) }
func (v NopOutView) ExpStatSN() uint32     { return v.uint32At(28) }
func (v NopOutView) SetExpStatSN(x uint32) { v.setUint32At(28, x) }

// NopInView is a NopIn BHS.
type NopInView struct{ BHS }

func (v NopInView) TTT() uint32       { return v.uint32At(20) }
func (v NopInView) SetTTT(x uint32)   { v.setUint32At(20, x) }
func (v NopInView) StatSN() uint32    { return v.uint32At(24) }
func (v NopInView) ExpCmdSN() uint32  { return v.uint32At(28) }
func (v NopInView) MaxCmdSN() uint32  { return v.uint32At(32) }

// LogoutReqView is a LogoutReq BHS.
type LogoutReqView struct{ BHS }

func NewLogoutReq() LogoutReqView {
	b := NewBHS()
	b.SetOpcode(LogoutReq)
	b.SetFinalBit(true)
	return LogoutReqView{b}
}

func (v LogoutReqView) Reason() LogoutReason { return LogoutReason(v.FlagsByte() & 0x7f) }
func (v LogoutReqView) SetReason(r LogoutReason) {
	v[1] = 0x80 | byte(r)&0x7f
}
func (v LogoutReqView) CID() uint16         { return v.uint16At(20) }
func (v LogoutReqView) SetCID(x uint16)     { v.setUint16At(20, x) }
func (v LogoutReqView) CmdSN() uint32       { return v.uint32At(24) }
func (v LogoutReqView) SetCmdSN(x uint32)   { v.setUint32At(24, x) }
func (v LogoutReqView) ExpStatSN() uint32   { return v.uint32At(28) }
func (v LogoutReqView) SetExpStatSN(x uint32) { v.setUint32At(28, x) }

// LogoutRespView is a LogoutResp BHS.
type LogoutRespView struct{ BHS }

func (v LogoutRespView) ResponseCode() LogoutResponseCode {
	return LogoutResponseCode(v.FlagsByte() & 0x7f)
}
func (v LogoutRespView) StatSN() uint32    { return v.uint32At(24) }
func (v LogoutRespView) ExpCmdSN() uint32  { return v.uint32At(28) }
func (v LogoutRespView) MaxCmdSN() uint32  { return v.uint32At(32) }
func (v LogoutRespView) Time2Wait() uint16 { return v.uint16At(36) }
func (v LogoutRespView) Time2Retain() uint16 { return v.uint16At(38) }

// RejectView is a Reject BHS. Its Data Segment carries the original
// 48-byte header of the rejected PDU.
type RejectView struct{ BHS }

func (v RejectView) Reason() RejectReason        { return RejectReason(v[2]) }
func (v RejectView) StatSN() uint32              { return v.uint32At(24) }
func (v RejectView) ExpCmdSN() uint32            { return v.uint32At(28) }
func (v RejectView) MaxCmdSN() uint32            { return v.uint32At(32) }
func (v RejectView) DataSNOrR2TSN() uint32       { return v.uint32At(36) }
