// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// iscsi-diag is a hand-driven diagnostic tool, not a production
// initiator CLI: one target, one connection, one command at a time.
// Modeled on the teacher's cmd/tcgsdiag, which pokes a single TPer
// through its Level0Discovery/ControlSession lifecycle and dumps
// whatever it gets back with go-spew rather than building a stable
// user-facing report.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
)

const (
	programName = "iscsi-diag"
	programDesc = "Ad-hoc iSCSI initiator diagnostics: login, probe, logout"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	err := ctx.Run(&runContext{log: logrus.NewEntry(logrus.StandardLogger())})
	ctx.FatalIfErrorf(err)
}
