// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import "errors"

var (
	// ErrDuplicateCID signals an attempt to register a connection ID
	// that is already attached to the session.
	ErrDuplicateCID = errors.New("session: duplicate connection id")

	// ErrDuplicateTSIH signals an attempt to insert a session for a
	// target name the Pool already holds a session for.
	ErrDuplicateTSIH = errors.New("session: duplicate tsih")

	// ErrMaxSessions signals a Pool has reached its configured session
	// ceiling.
	ErrMaxSessions = errors.New("session: pool has reached max_sessions")

	// ErrUnknownTarget signals a lookup against a target name the Pool
	// holds no logged-in session for.
	ErrUnknownTarget = errors.New("session: unknown target")

	// ErrPoolShutdown signals an operation attempted after
	// ShutdownGracefully has begun draining the Pool.
	ErrPoolShutdown = errors.New("session: pool is shutting down")
)
