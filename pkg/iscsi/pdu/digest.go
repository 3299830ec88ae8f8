// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

import (
	"encoding/binary"
	"hash/crc32"
)

// DigestPolicy selects whether HeaderDigest / DataDigest are negotiated
// on for a connection. Login and Logout PDUs never carry digests
// regardless of policy (digests are negotiated *during* Login).
type DigestPolicy struct {
	Header bool
	Data   bool
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// digest computes the CRC32C over b and returns its 4-byte little-endian
// wire representation.
func digest(b []byte) [4]byte {
	sum := crc32.Checksum(b, crc32cTable)
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], sum)
	return out
}

func digestValue(b []byte) uint32 {
	return crc32.Checksum(b, crc32cTable)
}
