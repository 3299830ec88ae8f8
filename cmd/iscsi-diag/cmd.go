// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/cdb"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/session"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/sm"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

// runContext is the context struct required by the kong command line
// parser, threading a logger into every subcommand the way the
// teacher's cmdutil-backed CLIs thread a *context through Run.
type runContext struct {
	log *logrus.Entry
}

// targetFlags are the connection parameters every subcommand needs to
// reach a target. Duplicated per-command (rather than shared through a
// parent struct) because that's how the teacher's gosedctl lays out
// device/password flags on each leaf command.
type targetFlags struct {
	Address       string `flag:"" required:"" short:"a" help:"Target TCP address, host:port"`
	TargetName    string `flag:"" required:"" short:"t" help:"Target iSCSI name (iqn...)"`
	InitiatorName string `flag:"" required:"" short:"i" help:"Initiator iSCSI name (iqn...)"`
	ISID          string `flag:"" default:"000000000001" help:"Initiator Session ID, 6 bytes hex"`
	CHAPUser      string `flag:"" optional:"" help:"CHAP username, if the target requires authentication"`
	CHAPSecret    string `flag:"" optional:"" help:"CHAP secret; prompted on the terminal if CHAPUser is set and this is empty"`
	Timeout       time.Duration `flag:"" default:"5s" help:"Per-exchange I/O timeout"`
}

type probeCmd struct {
	targetFlags
}

type readBlockCmd struct {
	targetFlags
	LBA       uint32 `flag:"" default:"0" help:"Logical block address to read"`
	BlockSize uint32 `flag:"" default:"512" help:"Block size in bytes"`
}

var cli struct {
	Probe     probeCmd     `cmd:"" help:"Login, TEST UNIT READY, logout"`
	ReadBlock readBlockCmd `cmd:"" help:"Login, READ(10) one block, logout, dump bytes"`
}

// dial opens the TCP connection and drives the Login exchange shared by
// every subcommand, prompting for a CHAP secret on the controlling
// terminal if one is required but not supplied on the command line.
func dial(ctx context.Context, rc *runContext, f targetFlags) (*sm.Driver, error) {
	isid, err := decodeISID(f.ISID)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", f.Address, f.Timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.Address, err)
	}

	var tc *transport.Connection
	sess := session.New(0, session.WithISID(isid))
	tc = transport.NewConnection(conn, transport.Options{
		Logger:        rc.log,
		NopHandler:    func(fr pdu.Frame) { sm.AutoReplyNopIn(tc, sess, fr) },
		RejectHandler: func(fr pdu.Frame) { sm.RejectHandler(tc)(fr) },
	})
	driver := &sm.Driver{Conn: tc, Session: sess}

	params := sm.LoginParams{
		InitiatorName:            f.InitiatorName,
		TargetName:               f.TargetName,
		ISID:                     isid,
		MaxRecvDataSegmentLength: 8192,
		IOTimeout:                f.Timeout,
	}
	if f.CHAPUser != "" {
		secret := f.CHAPSecret
		if secret == "" {
			var err error
			secret, err = promptSecret(f.CHAPUser)
			if err != nil {
				tc.Close()
				return nil, err
			}
		}
		params.Auth = &sm.CHAPAuth{Username: f.CHAPUser, Secret: secret}
	}

	rc.log.Infof("logging in to %s at %s", f.TargetName, f.Address)
	result, err := driver.Login(ctx, params, sess.NextITT())
	if err != nil {
		tc.Close()
		return nil, fmt.Errorf("login: %w", err)
	}
	sess.TSIH = result.TSIH
	if err := sess.AddConnection(&session.Conn{CID: 0, Transport: tc}); err != nil {
		tc.Close()
		return nil, err
	}
	rc.log.Infof("login succeeded, TSIH=%d", result.TSIH)
	return driver, nil
}

func promptSecret(user string) (string, error) {
	fmt.Fprintf(os.Stderr, "CHAP secret for %s: ", user)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read CHAP secret: %w", err)
	}
	return string(secret), nil
}

func decodeISID(hexStr string) ([6]byte, error) {
	var out [6]byte
	if len(hexStr) != 12 {
		return out, fmt.Errorf("isid: want 12 hex chars, got %d", len(hexStr))
	}
	for i := 0; i < 6; i++ {
		var b byte
		if _, err := fmt.Sscanf(hexStr[i*2:i*2+2], "%02x", &b); err != nil {
			return out, fmt.Errorf("isid: %w", err)
		}
		out[i] = b
	}
	return out, nil
}

func logoutAndClose(ctx context.Context, d *sm.Driver, timeout time.Duration) {
	d.Logout(ctx, sm.LogoutParams{Reason: pdu.CloseSession, IOTimeout: timeout}, d.Session.NextITT())
	d.Conn.Close()
}

func (c *probeCmd) Run(rc *runContext) error {
	ctx := context.Background()
	d, err := dial(ctx, rc, c.targetFlags)
	if err != nil {
		return err
	}
	defer logoutAndClose(ctx, d, c.Timeout)

	res, err := d.TestUnitReady(ctx, sm.TestUnitReadyParams{IOTimeout: c.Timeout}, d.Session.NextITT())
	if err != nil {
		return fmt.Errorf("test unit ready: %w", err)
	}
	fmt.Printf("TEST UNIT READY status=%s response=%s\n", res.Status, res.Response)
	if res.Sense != nil {
		spew.Dump(res.Sense)
	}
	return nil
}

func (c *readBlockCmd) Run(rc *runContext) error {
	ctx := context.Background()
	d, err := dial(ctx, rc, c.targetFlags)
	if err != nil {
		return err
	}
	defer logoutAndClose(ctx, d, c.Timeout)

	cdbBytes := make([]byte, 10)
	cdb.Read10(cdbBytes, 0, c.LBA, 1, 0)

	res, err := d.Read(ctx, sm.ReadParams{
		CDB:       cdbBytes,
		EDTL:      c.BlockSize,
		IOTimeout: c.Timeout,
	}, d.Session.NextITT())
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	fmt.Printf("READ(10) lba=%d status=%s\n", c.LBA, res.Scsi.Status)
	spew.Dump(res.Data)
	return nil
}
