// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cdb

import "fmt"

// VPDPage is a Vital Product Data page code, sent to INQUIRY when
// EVPD=1. Building accepts any byte (the caller may be probing an
// unknown page deliberately); decoding a value read off the wire
// rejects anything outside this closed set.
type VPDPage uint8

const (
	VPDSupportedPages   VPDPage = 0x00
	VPDUnitSerialNumber VPDPage = 0x80
	VPDDeviceIdentification VPDPage = 0x83
	VPDBlockLimits      VPDPage = 0xB0
	VPDBlockDeviceChars VPDPage = 0xB1
)

func (p VPDPage) String() string {
	switch p {
	case VPDSupportedPages:
		return "SupportedPages"
	case VPDUnitSerialNumber:
		return "UnitSerialNumber"
	case VPDDeviceIdentification:
		return "DeviceIdentification"
	case VPDBlockLimits:
		return "BlockLimits"
	case VPDBlockDeviceChars:
		return "BlockDeviceCharacteristics"
	}
	return "<Unknown>"
}

// DecodeVPDPage validates a byte read off the wire against the closed
// set of known VPD page codes.
func DecodeVPDPage(b byte) (VPDPage, error) {
	switch VPDPage(b) {
	case VPDSupportedPages, VPDUnitSerialNumber, VPDDeviceIdentification, VPDBlockLimits, VPDBlockDeviceChars:
		return VPDPage(b), nil
	}
	return 0, fmt.Errorf("cdb: unknown VPD page code 0x%02x", b)
}

// DecodePageControl validates a 2-bit PC field read off the wire.
func DecodePageControl(b byte) (PageControl, error) {
	pc := PageControl(b & 0x3)
	switch pc {
	case PCCurrent, PCChangeable, PCDefault, PCSaved:
		return pc, nil
	}
	return 0, fmt.Errorf("cdb: unknown page control 0x%x", b)
}
