// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdu

import (
	"bytes"
	"errors"
	"testing"
)

func TestNopOutRoundTrip(t *testing.T) {
	v := NewNopOut()
	v.SetITT(42)
	v.SetTTT(DefaultTag)
	v.SetCmdSN(7)
	v.SetExpStatSN(3)

	wire, err := Build(v.BHS, nil, []byte("hello"), DigestPolicy{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	f, err := ReadFrame(bytes.NewReader(wire), DigestPolicy{})
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	got := NopOutView{f.BHS}
	if got.ITT() != 42 || got.TTT() != DefaultTag || got.CmdSN() != 7 || got.ExpStatSN() != 3 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if !bytes.Equal(f.Data, []byte("hello")) {
		t.Fatalf("data mismatch: %q", f.Data)
	}
}

func TestPaddingLaw(t *testing.T) {
	for n := 0; n <= 20; n++ {
		data := bytes.Repeat([]byte{0xAA}, n)
		v := NewNopOut()
		wire, err := Build(v.BHS, nil, data, DigestPolicy{})
		if err != nil {
			t.Fatalf("n=%d Build: %v", n, err)
		}
		body := wire[BHSLen:]
		if len(body)%4 != 0 {
			t.Fatalf("n=%d body length %d not 4-aligned", n, len(body))
		}
	}
}

func TestDigestLaw(t *testing.T) {
	policy := DigestPolicy{Header: true, Data: true}
	v := NewNopOut()
	wire, err := Build(v.BHS, nil, []byte("payload"), policy)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := ReadFrame(bytes.NewReader(wire), policy); err != nil {
		t.Fatalf("expected clean parse, got %v", err)
	}

	// Flip a header byte.
	corruptHeader := append([]byte{}, wire...)
	corruptHeader[2] ^= 0xFF
	if _, err := ReadFrame(bytes.NewReader(corruptHeader), policy); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch on header corruption, got %v", err)
	}

	// Flip a data byte.
	corruptData := append([]byte{}, wire...)
	corruptData[len(corruptData)-8] ^= 0xFF
	if _, err := ReadFrame(bytes.NewReader(corruptData), policy); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch on data corruption, got %v", err)
	}
}

func TestLoginReqNeverDigests(t *testing.T) {
	v := NewLoginReq()
	v.SetCSG(StageOperational)
	v.SetNSG(StageFullFeature)
	v.SetT(true)
	wire, err := Build(v.BHS, nil, []byte("k=v\x00"), DigestPolicy{Header: true, Data: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// No digests were appended despite the policy requesting them -
	// length must equal BHS + padded data exactly.
	wantLen := BHSLen + 4 // "k=v\x00" is already 4-aligned
	if len(wire) != wantLen {
		t.Fatalf("expected no digests on LoginReq: got len %d want %d", len(wire), wantLen)
	}
}

func TestBadOpcodeRejected(t *testing.T) {
	bhs := NewBHS()
	bhs.SetOpcode(Opcode(0x2A)) // not in the closed set
	wire, err := Build(bhs, nil, nil, DigestPolicy{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader(wire), DigestPolicy{}); !errors.Is(err, ErrBadOpcode) {
		t.Fatalf("expected ErrBadOpcode, got %v", err)
	}
}

func TestDataInFlagCombos(t *testing.T) {
	bhs := NewBHS()
	bhs.SetOpcode(ScsiDataIn)
	bhs.SetFlagsByte(0x04 | 0x02) // O and U both set, no F
	if err := Validate(Frame{BHS: bhs}); !errors.Is(err, ErrInvalidFlagCombo) {
		t.Fatalf("expected invalid combo for O&U, got %v", err)
	}

	bhs.SetFlagsByte(0x01) // S without F
	if err := Validate(Frame{BHS: bhs}); !errors.Is(err, ErrInvalidFlagCombo) {
		t.Fatalf("expected invalid combo for S without F, got %v", err)
	}
}

func TestSegmentDataLaw(t *testing.T) {
	for _, tc := range []struct {
		n, max int
	}{
		{0, 512}, {1, 512}, {512, 512}, {513, 512}, {8192, 4096}, {8193, 4096},
	} {
		data := bytes.Repeat([]byte{1}, tc.n)
		segs := SegmentData(data, uint32(tc.max))
		total := 0
		for i, s := range segs {
			if i < len(segs)-1 && len(s) != tc.max {
				t.Fatalf("n=%d max=%d: non-final segment %d has len %d", tc.n, tc.max, i, len(s))
			}
			total += len(s)
		}
		if total != tc.n {
			t.Fatalf("n=%d max=%d: total segmented %d != %d", tc.n, tc.max, total, tc.n)
		}
	}
}

func TestEncodeDecodeKeys(t *testing.T) {
	kvs := []KeyValue{
		{Key: "InitiatorName", Value: "iqn.test"},
		{Key: "TargetName", Value: "iqn.tgt"},
		{Key: "SessionType", Value: "Normal"},
	}
	data := EncodeKeys(kvs)
	got := DecodeKeys(data)
	if len(got) != len(kvs) {
		t.Fatalf("decoded %d keys, want %d", len(got), len(kvs))
	}
	for i := range kvs {
		if got[i] != kvs[i] {
			t.Fatalf("key %d = %+v, want %+v", i, got[i], kvs[i])
		}
	}
	v, ok := Lookup(got, "TargetName")
	if !ok || v != "iqn.tgt" {
		t.Fatalf("Lookup(TargetName) = %q, %v", v, ok)
	}
}
