// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import "errors"

// ErrConnectionClosed is delivered to every outstanding waiter, and
// returned from every subsequent call, once a Connection's reader
// loop exits for any reason (peer close, I/O error, explicit Close).
var ErrConnectionClosed = errors.New("transport: connection closed")

// ErrWaiterExists is returned by registerWaiter when the caller's ITT
// collides with one already outstanding on the connection.
var ErrWaiterExists = errors.New("transport: ITT already has an outstanding waiter")

// ErrIOTimeout is returned when a per-call deadline set by IOTimeout
// elapses before a response arrives.
var ErrIOTimeout = errors.New("transport: I/O timeout")

// ErrQuiescing is returned by BeginWriteTask once GracefulQuiesce has
// been called on the connection; no new WRITE task is admitted while
// admitted ones drain.
var ErrQuiescing = errors.New("transport: connection is quiescing")
