// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the Login/Text key=value text encoding (RFC 7143 section
// 5.1): a sequence of "Key=Value\0" ASCII strings concatenated in the
// Data Segment.
package pdu

import (
	"bytes"
)

// KeyValue is a single ordered Key=Value pair from a Login/Text Data
// Segment. Order is preserved because the wire format is sensitive to
// it for multi-valued negotiation (e.g. AuthMethod lists).
type KeyValue struct {
	Key   string
	Value string
}

// EncodeKeys serializes an ordered list of key/value pairs into a
// Data Segment body.
func EncodeKeys(kvs []KeyValue) []byte {
	var buf bytes.Buffer
	for _, kv := range kvs {
		buf.WriteString(kv.Key)
		buf.WriteByte('=')
		buf.WriteString(kv.Value)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeKeys parses a Data Segment body into an ordered list of
// key/value pairs. A trailing null-terminated empty string is ignored.
func DecodeKeys(data []byte) []KeyValue {
	var out []KeyValue
	for _, tok := range bytes.Split(data, []byte{0}) {
		if len(tok) == 0 {
			continue
		}
		i := bytes.IndexByte(tok, '=')
		if i < 0 {
			out = append(out, KeyValue{Key: string(tok)})
			continue
		}
		out = append(out, KeyValue{Key: string(tok[:i]), Value: string(tok[i+1:])})
	}
	return out
}

// Lookup returns the value for key, or ok=false if absent. Returns the
// first match if the key repeats.
func Lookup(kvs []KeyValue, key string) (string, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}
