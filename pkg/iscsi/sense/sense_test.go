// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sense

import "testing"

func TestParseShortBuffer(t *testing.T) {
	if _, err := Parse(make([]byte, 10)); err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestParseFixedFormat(t *testing.T) {
	b := make([]byte, 18)
	b[0] = 0x80 | 0x70 // Valid=1, ResponseCode=0x70
	b[2] = 0x80 | byte(KeyIllegalRequest)
	b[3], b[4], b[5], b[6] = 0, 0, 0, 42
	b[7] = 10
	b[12] = 0x21
	b[13] = 0x00

	d, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !d.Valid || d.ResponseCode != 0x70 {
		t.Fatalf("Valid/ResponseCode mismatch: %+v", d)
	}
	if d.SenseKey != KeyIllegalRequest {
		t.Fatalf("SenseKey = %v, want IllegalRequest", d.SenseKey)
	}
	if !d.FileMark {
		t.Fatalf("expected FileMark set")
	}
	if d.Information != 42 {
		t.Fatalf("Information = %d, want 42", d.Information)
	}
	if d.ASC != 0x21 || d.ASCQ != 0x00 {
		t.Fatalf("ASC/ASCQ = %02x/%02x", d.ASC, d.ASCQ)
	}
	if got := d.Description(); got != "logical block address out of range" {
		t.Fatalf("Description = %q", got)
	}
}

func TestDescribeWildcardAndExact(t *testing.T) {
	if got := Describe(0x04, 0x03); got != "logical unit not ready, manual intervention required" {
		t.Fatalf("exact match failed: %q", got)
	}
	if got := Describe(0x04, 0x77); got != "logical unit not ready" {
		t.Fatalf("wildcard match failed: %q", got)
	}
	if got := Describe(0xEE, 0xEE); got != "unknown additional sense code" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestKeyString(t *testing.T) {
	if KeyNotReady.String() != "NotReady" {
		t.Fatalf("String() = %q", KeyNotReady.String())
	}
	if Key(0xFF).String() != "<Unknown>" {
		t.Fatalf("expected <Unknown> for out-of-range key")
	}
}
