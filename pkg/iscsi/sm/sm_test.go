// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sm

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/cdb"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/session"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

func newTestDriver(t *testing.T) (*Driver, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	conn := transport.NewConnection(client, transport.Options{})
	t.Cleanup(func() { conn.Close() })
	sess := session.New(1, session.WithISID([6]byte{1, 2, 3, 4, 5, 6}))
	return &Driver{Conn: conn, Session: sess}, server
}

func readBHS(t *testing.T, server net.Conn) pdu.BHS {
	t.Helper()
	buf := make([]byte, pdu.BHSLen)
	total := 0
	for total < len(buf) {
		n, err := server.Read(buf[total:])
		total += n
		if err != nil {
			t.Fatalf("read BHS: %v", err)
		}
	}
	return pdu.BHS(buf)
}

func readData(t *testing.T, server net.Conn, n int) []byte {
	t.Helper()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	total := 0
	for total < len(buf) {
		k, err := server.Read(buf[total:])
		total += k
		if err != nil {
			t.Fatalf("read data: %v", err)
		}
	}
	return buf
}

// TestPlainLogin is scenario S1: a full CSG=Operational,NSG=FullFeature
// Login request answered immediately with success.
func TestPlainLogin(t *testing.T) {
	d, server := newTestDriver(t)
	go func() {
		bhs := readBHS(t, server)
		req := pdu.LoginReqView{bhs}
		dsl := bhs.DataSegmentLength()
		readData(t, server, int(dsl)+padDelta(int(dsl)))

		resp := pdu.LoginRespView{pdu.NewBHS()}
		resp.SetOpcode(pdu.LoginResp)
		resp.SetITT(req.ITT())
		resp.SetFlagsByte(0x80 | byte(pdu.StageOperational)<<2 | byte(pdu.StageFullFeature)) // T=1, CSG=Operational, NSG=FullFeature
		resp.SetTSIH(99)
		wire, _ := pdu.Build(resp.BHS, nil, nil, pdu.DigestPolicy{})
		server.Write(wire)
	}()

	res, err := d.Login(context.Background(), LoginParams{
		InitiatorName:            "iqn.test:initiator",
		TargetName:               "iqn.test:target",
		ISID:                     [6]byte{1, 2, 3, 4, 5, 6},
		MaxRecvDataSegmentLength: 8192,
		IOTimeout:                time.Second,
	}, d.Session.NextITT())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.TSIH != 99 {
		t.Fatalf("TSIH = %d, want 99", res.TSIH)
	}
}

func padDelta(n int) int {
	if n%4 == 0 {
		return 0
	}
	return 4 - n%4
}

// TestLogoutCloseSession is scenario S5.
func TestLogoutCloseSession(t *testing.T) {
	d, server := newTestDriver(t)
	go func() {
		bhs := readBHS(t, server)
		req := pdu.LogoutReqView{bhs}
		if req.Reason() != pdu.CloseSession {
			t.Errorf("Reason = %v, want CloseSession", req.Reason())
		}
		resp := pdu.LogoutRespView{pdu.NewBHS()}
		resp.SetOpcode(pdu.LogoutResp)
		resp.SetITT(req.ITT())
		wire, _ := pdu.Build(resp.BHS, nil, nil, pdu.DigestPolicy{})
		server.Write(wire)
	}()

	res, err := d.Logout(context.Background(), LogoutParams{
		Reason:    pdu.CloseSession,
		IOTimeout: time.Second,
	}, d.Session.NextITT())
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if res.ResponseCode != pdu.LogoutSuccess {
		t.Fatalf("ResponseCode = %v, want Success", res.ResponseCode)
	}
}

// TestReadOneBlock is scenario S3: a single Data-In PDU with S set
// carries both the data and the final status.
func TestReadOneBlock(t *testing.T) {
	d, server := newTestDriver(t)
	const blockSize = 512
	go func() {
		bhs := readBHS(t, server)
		req := pdu.ScsiCommandReqView{bhs}
		if !req.Read() {
			t.Errorf("expected Read=true")
		}

		in := pdu.ScsiDataInView{pdu.NewBHS()}
		in.SetOpcode(pdu.ScsiDataIn)
		in.SetFlagsByte(0x81) // F and S: the final Data-In carries the status
		in.SetITT(req.ITT())
		wire, _ := pdu.Build(in.BHS, nil, make([]byte, blockSize), pdu.DigestPolicy{})
		server.Write(wire)
	}()

	buf := make([]byte, 16)
	cdb.Read10(buf, 0, 0, 1, 0)
	res, err := d.Read(context.Background(), ReadParams{
		CDB:       buf,
		EDTL:      blockSize,
		IOTimeout: time.Second,
	}, d.Session.NextITT())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(res.Data) != blockSize {
		t.Fatalf("got %d bytes, want %d", len(res.Data), blockSize)
	}
}

// TestTestUnitReady is a minimal no-data SCSI exchange.
func TestTestUnitReady(t *testing.T) {
	d, server := newTestDriver(t)
	go func() {
		bhs := readBHS(t, server)
		req := pdu.ScsiCommandReqView{bhs}
		resp := pdu.ScsiCommandRespView{pdu.NewBHS()}
		resp.SetOpcode(pdu.ScsiCommandResp)
		resp.SetITT(req.ITT())
		wire, _ := pdu.Build(resp.BHS, nil, nil, pdu.DigestPolicy{})
		server.Write(wire)
	}()

	res, err := d.TestUnitReady(context.Background(), TestUnitReadyParams{
		IOTimeout: time.Second,
	}, d.Session.NextITT())
	if err != nil {
		t.Fatalf("TestUnitReady: %v", err)
	}
	if res.Status != pdu.StatusGood {
		t.Fatalf("Status = %v, want Good", res.Status)
	}
}

// TestWriteTwoR2Ts is scenario S4: a WRITE whose data is solicited
// across two separate R2T windows.
func TestWriteTwoR2Ts(t *testing.T) {
	d, server := newTestDriver(t)
	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i)
	}

	go func() {
		bhs := readBHS(t, server)
		req := pdu.ScsiCommandReqView{bhs}
		if !req.Write() {
			t.Errorf("expected Write=true")
		}
		itt := req.ITT()

		sendR2T := func(offset, length uint32) {
			r2t := pdu.ReadyToTransferView{pdu.NewBHS()}
			r2t.SetOpcode(pdu.ReadyToTransfer)
			r2t.SetITT(itt)
			wire, _ := pdu.Build(r2t.BHS, nil, nil, pdu.DigestPolicy{})
			server.Write(patchR2T(wire, offset, length))
		}

		sendR2T(0, 1024)
		readBHS(t, server)
		readData(t, server, 1024+padDelta(1024))

		sendR2T(1024, 1024)
		readBHS(t, server)
		readData(t, server, 1024+padDelta(1024))

		resp := pdu.ScsiCommandRespView{pdu.NewBHS()}
		resp.SetOpcode(pdu.ScsiCommandResp)
		resp.SetITT(itt)
		wire, _ := pdu.Build(resp.BHS, nil, nil, pdu.DigestPolicy{})
		server.Write(wire)
	}()

	buf := make([]byte, 16)
	cdb.Write10(buf, 0, 0, 4, 0)
	res, err := d.Write(context.Background(), WriteParams{
		CDB:            buf,
		Data:           data,
		MaxBurstLength: 1024,
		IOTimeout:      2 * time.Second,
	}, d.Session.NextITT())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Status != pdu.StatusGood {
		t.Fatalf("Status = %v, want Good", res.Status)
	}
}

// patchR2T overwrites a built R2T PDU's BufferOffset (40) and
// DesiredDataTransferLength (44) fields.
func patchR2T(wire []byte, offset, length uint32) []byte {
	putU32 := func(off int, v uint32) {
		wire[off] = byte(v >> 24)
		wire[off+1] = byte(v >> 16)
		wire[off+2] = byte(v >> 8)
		wire[off+3] = byte(v)
	}
	putU32(40, offset)
	putU32(44, length)
	return wire
}

// TestAutoReplyNopIn is scenario S6: an unsolicited NOP-In is answered
// without any caller-visible round trip.
func TestAutoReplyNopIn(t *testing.T) {
	client, server := net.Pipe()
	sess := session.New(1)
	var conn *transport.Connection
	conn = transport.NewConnection(client, transport.Options{
		NopHandler: func(f pdu.Frame) { AutoReplyNopIn(conn, sess, f) },
	})
	defer conn.Close()

	go func() {
		in := pdu.NopInView{pdu.NewBHS()}
		in.SetOpcode(pdu.NopIn)
		in.SetITT(pdu.DefaultTag)
		in.SetTTT(55)
		wire, _ := pdu.Build(in.BHS, nil, nil, pdu.DigestPolicy{})
		server.Write(wire)
	}()

	bhs := readBHS(t, server)
	out := pdu.NopOutView{bhs}
	if out.TTT() != 55 {
		t.Fatalf("reply TTT = %d, want 55", out.TTT())
	}
	if out.ITT() != pdu.DefaultTag {
		t.Fatalf("reply ITT = %#x, want DefaultTag", out.ITT())
	}
}
