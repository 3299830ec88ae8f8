// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sense

// ascEntry is one row of the hand-authored ASC/ASCQ table. ascqAny
// matches any ASCQ value for a given ASC, used for the "NN" wildcard
// rows T10 defines for some codes (e.g. 04/NN).
const ascqAny = 0xFF

type ascEntry struct {
	asc, ascq   uint8
	description string
}

// ascTable covers the ASC/ASCQ codes an iSCSI initiator actually
// encounters in practice: no sense, recovered error, medium error,
// hardware error, illegal request, unit attention, write protected,
// and not-ready conditions. It is not a transcription of the full T10
// ASC/ASCQ registry.
var ascTable = []ascEntry{
	{0x00, 0x00, "no additional sense information"},
	{0x01, 0x00, "no index/sector signal"},
	{0x04, 0x00, "logical unit not ready, cause not reportable"},
	{0x04, 0x01, "logical unit is in process of becoming ready"},
	{0x04, 0x02, "logical unit not ready, initializing command required"},
	{0x04, 0x03, "logical unit not ready, manual intervention required"},
	{0x04, ascqAny, "logical unit not ready"},
	{0x11, 0x00, "unrecovered read error"},
	{0x17, 0x01, "recovered data with retries"},
	{0x1A, 0x00, "parameter list length error"},
	{0x20, 0x00, "invalid command operation code"},
	{0x21, 0x00, "logical block address out of range"},
	{0x24, 0x00, "invalid field in CDB"},
	{0x25, 0x00, "logical unit not supported"},
	{0x26, 0x00, "invalid field in parameter list"},
	{0x27, 0x00, "write protected"},
	{0x28, 0x00, "not ready to ready change, medium may have changed"},
	{0x29, 0x00, "power on, reset, or bus device reset occurred"},
	{0x29, 0x01, "power on occurred"},
	{0x29, 0x02, "scsi bus reset occurred"},
	{0x29, ascqAny, "reset occurred"},
	{0x2A, 0x01, "mode parameters changed"},
	{0x2A, ascqAny, "parameters changed"},
	{0x3A, 0x00, "medium not present"},
	{0x3F, 0x0E, "reported luns data has changed"},
	{0x44, 0x00, "internal target failure"},
	{0x5D, ascqAny, "failure prediction threshold exceeded"},
}

// Describe returns a human-readable description for an ASC/ASCQ pair.
// Exact (ASC,ASCQ) matches win over ASCQ-wildcard rows; if neither
// matches, "unknown additional sense code" is returned.
func Describe(asc, ascq uint8) string {
	wildcard := ""
	for _, e := range ascTable {
		if e.asc != asc {
			continue
		}
		if e.ascq == ascq {
			return e.description
		}
		if e.ascq == ascqAny && wildcard == "" {
			wildcard = e.description
		}
	}
	if wildcard != "" {
		return wildcard
	}
	return "unknown additional sense code"
}
