// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sm

import (
	"fmt"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

// ErrRejected wraps a Reject PDU's reason code.
type ErrRejected struct {
	Reason pdu.RejectReason
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("sm: target sent Reject, reason 0x%02x", e.Reason)
}

// HandleReject decodes a Reject PDU's embedded original header (its
// Data Segment carries the rejected PDU's 48-byte BHS, per RFC 7143
// 10.17) and reports which ITT it addresses, so the caller can fail
// that command's waiter specifically rather than the whole connection.
//
// A Reject with no recoverable ITT (the embedded header is absent,
// short, or itself carries the no-tag sentinel) cannot be attributed to
// one outstanding command and must be treated as fatal to the
// connection: ok is false and the caller should abort every waiter on
// it.
func HandleReject(frame pdu.Frame) (itt uint32, err error, ok bool) {
	view := pdu.RejectView{frame.BHS}
	err = &ErrRejected{Reason: view.Reason()}
	if len(frame.Data) < pdu.BHSLen {
		return 0, err, false
	}
	original := pdu.BHS(frame.Data[:pdu.BHSLen])
	tag := original.ITT()
	if tag == pdu.DefaultTag {
		return 0, err, false
	}
	return tag, err, true
}

// RejectHandler wires HandleReject into a transport.Options.RejectHandler:
// an addressable Reject fails only the ITT it names, leaving the rest
// of the connection's outstanding commands untouched; an unaddressable
// one closes the connection, since no single command can be blamed.
func RejectHandler(conn *transport.Connection) func(pdu.Frame) {
	return func(frame pdu.Frame) {
		itt, err, ok := HandleReject(frame)
		if !ok {
			conn.Close()
			return
		}
		conn.FailWaiter(itt, err)
	}
}
