// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pool

import "github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/session"

// Re-exported so pool callers don't need to import the session
// package just to compare against errors a Pool method returns.
var (
	ErrMaxSessions  = session.ErrMaxSessions
	ErrUnknownTarget = session.ErrUnknownTarget
	ErrPoolShutdown = session.ErrPoolShutdown
)
