// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/pdu"
	"github.com/open-source-firmware/go-iscsi-initiator/pkg/iscsi/transport"
)

// LoginParams carries everything a Login exchange needs to negotiate a
// session from scratch.
type LoginParams struct {
	InitiatorName string
	TargetName    string
	ISID          [6]byte
	CID           uint16

	// TSIH, when non-zero, names an already-established session this
	// Login is adding a new connection to (MC/S, RFC 7143 5.3.2)
	// instead of establishing a fresh session.
	TSIH uint16

	// Auth, when non-nil, drives the 4-step CHAP handshake (RFC 7143
	// 11.1.4) instead of AuthMethod=None.
	Auth *CHAPAuth

	MaxRecvDataSegmentLength uint32
	HeaderDigest             bool
	DataDigest               bool

	IOTimeout time.Duration
}

// CHAPAuth is the initiator's half of a CHAP exchange.
type CHAPAuth struct {
	Username string
	Secret   string
}

// LoginResult is what a successful Login exchange produces.
type LoginResult struct {
	TSIH            uint16
	ExpCmdSN        uint32
	MaxCmdSN        uint32
	StatSN          uint32
	NegotiatedMRDSL uint32
}

var (
	// ErrLoginRejected is returned when the target's final Login
	// response carries a non-success status class.
	ErrLoginRejected = errors.New("sm: login rejected by target")
	// ErrUnexpectedStage is returned when a Login response names a
	// CSG/NSG combination the driver did not request.
	ErrUnexpectedStage = errors.New("sm: unexpected login stage in response")
)

// Login drives a full Login exchange to FullFeaturePhase, choosing the
// plain or CHAP path based on p.Auth.
func (d *Driver) Login(ctx context.Context, p LoginParams, itt uint32) (LoginResult, error) {
	var result LoginResult
	var state State
	if p.Auth != nil {
		state = d.loginCHAPSecurity(p, itt, &result)
	} else {
		state = d.loginPlain(p, itt, &result)
	}
	if err := Run(ctx, state); err != nil {
		return LoginResult{}, err
	}
	return result, nil
}

func negotiationKeys(p LoginParams) []pdu.KeyValue {
	digestList := func(on bool) string {
		if on {
			return "CRC32C,None"
		}
		return "None"
	}
	return []pdu.KeyValue{
		{Key: "MaxRecvDataSegmentLength", Value: fmt.Sprintf("%d", p.MaxRecvDataSegmentLength)},
		{Key: "HeaderDigest", Value: digestList(p.HeaderDigest)},
		{Key: "DataDigest", Value: digestList(p.DataDigest)},
		{Key: "DefaultTime2Wait", Value: "2"},
		{Key: "DefaultTime2Retain", Value: "20"},
		{Key: "ErrorRecoveryLevel", Value: "0"},
	}
}

// loginPlain issues one CSG=Operational,NSG=FullFeature,T=1 request
// carrying both the session-establishing keys and the operational
// negotiation keys, the minimal legal Login sequence for AuthMethod=None.
func (d *Driver) loginPlain(p LoginParams, itt uint32, out *LoginResult) State {
	return func(ctx context.Context) (State, error) {
		v := pdu.NewLoginReq()
		v.SetITT(itt)
		v.SetISID(p.ISID)
		v.SetCID(p.CID)
		v.SetTSIH(p.TSIH)
		v.SetCSG(pdu.StageOperational)
		v.SetNSG(pdu.StageFullFeature)
		v.SetT(true)
		v.SetVersionMax(0)
		v.SetVersionMin(0)
		v.SetCmdSN(d.Session.NextCmdSN())
		v.SetExpStatSN(d.Conn.ExpStatSN())

		keys := append([]pdu.KeyValue{
			{Key: "InitiatorName", Value: p.InitiatorName},
			{Key: "TargetName", Value: p.TargetName},
			{Key: "SessionType", Value: "Normal"},
			{Key: "AuthMethod", Value: "None"},
		}, negotiationKeys(p)...)
		data := pdu.EncodeKeys(keys)

		wire, err := pdu.Build(v.BHS, nil, data, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: login: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: login: send: %w", err)
		}
		return d.awaitLoginResponse(itt, p, out, pdu.StageFullFeature), nil
	}
}

// loginCHAPSecurity issues the Security-stage AuthMethod proposal, the
// first of CHAP's four round trips (RFC 7143 11.1.4): propose
// AuthMethod=CHAP, offer CHAP_A, receive CHAP_I/CHAP_C, send
// CHAP_N/CHAP_R.
func (d *Driver) loginCHAPSecurity(p LoginParams, itt uint32, out *LoginResult) State {
	return func(ctx context.Context) (State, error) {
		v := pdu.NewLoginReq()
		v.SetITT(itt)
		v.SetISID(p.ISID)
		v.SetCID(p.CID)
		v.SetTSIH(p.TSIH)
		v.SetCSG(pdu.StageSecurity)
		v.SetNSG(pdu.StageSecurity)
		v.SetT(false)
		v.SetCmdSN(d.Session.NextCmdSN())
		v.SetExpStatSN(d.Conn.ExpStatSN())

		keys := []pdu.KeyValue{
			{Key: "InitiatorName", Value: p.InitiatorName},
			{Key: "TargetName", Value: p.TargetName},
			{Key: "SessionType", Value: "Normal"},
			{Key: "AuthMethod", Value: "CHAP"},
		}
		data := pdu.EncodeKeys(keys)
		wire, err := pdu.Build(v.BHS, nil, data, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: login chap security: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: login chap security: send: %w", err)
		}
		return d.recvAuthMethodAck(p, itt, out), nil
	}
}

// recvAuthMethodAck collects the target's acknowledgment of
// AuthMethod=CHAP, still in the Security stage with nothing more to
// negotiate yet, then offers CHAP_A as its own round trip.
func (d *Driver) recvAuthMethodAck(p LoginParams, itt uint32, out *LoginResult) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.Await(itt, transport.IOTimeout(p.IOTimeout))
		if err != nil {
			return nil, fmt.Errorf("sm: login chap security: recv: %w", err)
		}
		if err := pdu.ExpectOpcode(frame, pdu.LoginResp); err != nil {
			return nil, err
		}
		resp := pdu.LoginRespView{frame.BHS}
		if resp.StatusClass() != pdu.StatusClassSuccess {
			return nil, fmt.Errorf("%w: class 0x%02x detail 0x%02x", ErrLoginRejected, resp.StatusClass(), resp.StatusDetail())
		}
		if resp.CSG() != pdu.StageSecurity {
			return nil, ErrUnexpectedStage
		}
		out.ExpCmdSN = resp.ExpCmdSN()
		out.MaxCmdSN = resp.MaxCmdSN()
		out.StatSN = resp.StatSN()
		return d.sendCHAPAlgorithm(p, itt, out), nil
	}
}

// sendCHAPAlgorithm sends CHAP_A=5 (MD5, the only algorithm this
// initiator offers), the step between proposing AuthMethod=CHAP and
// receiving the target's CHAP_I/CHAP_C challenge.
func (d *Driver) sendCHAPAlgorithm(p LoginParams, itt uint32, out *LoginResult) State {
	return func(ctx context.Context) (State, error) {
		v := pdu.NewLoginReq()
		v.SetITT(itt)
		v.SetISID(p.ISID)
		v.SetCID(p.CID)
		v.SetTSIH(p.TSIH)
		v.SetCSG(pdu.StageSecurity)
		v.SetNSG(pdu.StageSecurity)
		v.SetT(false)
		v.SetCmdSN(d.Session.PeekCmdSN())
		v.SetExpStatSN(d.Conn.ExpStatSN())

		keys := []pdu.KeyValue{
			{Key: "CHAP_A", Value: "5"},
		}
		data := pdu.EncodeKeys(keys)
		wire, err := pdu.Build(v.BHS, nil, data, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: login chap algorithm: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: login chap algorithm: send: %w", err)
		}
		return d.recvCHAPChallenge(p, itt, out), nil
	}
}

func (d *Driver) recvCHAPChallenge(p LoginParams, itt uint32, out *LoginResult) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.Await(itt, transport.IOTimeout(p.IOTimeout))
		if err != nil {
			return nil, fmt.Errorf("sm: login chap security: recv: %w", err)
		}
		if err := pdu.ExpectOpcode(frame, pdu.LoginResp); err != nil {
			return nil, err
		}
		resp := pdu.LoginRespView{frame.BHS}
		if resp.StatusClass() != pdu.StatusClassSuccess {
			return nil, fmt.Errorf("%w: class 0x%02x detail 0x%02x", ErrLoginRejected, resp.StatusClass(), resp.StatusDetail())
		}
		if resp.CSG() != pdu.StageSecurity {
			return nil, ErrUnexpectedStage
		}
		kvs := pdu.DecodeKeys(frame.Data)
		idHex, _ := pdu.Lookup(kvs, "CHAP_I")
		challengeHex, _ := pdu.Lookup(kvs, "CHAP_C")
		id, err := decodeCHAPByte(idHex)
		if err != nil {
			return nil, fmt.Errorf("sm: login chap: CHAP_I: %w", err)
		}
		challenge, err := hex.DecodeString(challengeHex)
		if err != nil {
			return nil, fmt.Errorf("sm: login chap: CHAP_C: %w", err)
		}
		out.ExpCmdSN = resp.ExpCmdSN()
		out.MaxCmdSN = resp.MaxCmdSN()
		out.StatSN = resp.StatSN()
		return d.sendCHAPResponse(p, itt, id, challenge, out), nil
	}
}

func decodeCHAPByte(hexStr string) (byte, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != 1 {
		return 0, fmt.Errorf("malformed CHAP_I value %q", hexStr)
	}
	return b[0], nil
}

// chapResponse computes CHAP_R = MD5(id || secret || challenge), per
// RFC 1994.
func chapResponse(id byte, secret string, challenge []byte) []byte {
	h := md5.New()
	h.Write([]byte{id})
	h.Write([]byte(secret))
	h.Write(challenge)
	return h.Sum(nil)
}

func (d *Driver) sendCHAPResponse(p LoginParams, itt uint32, id byte, challenge []byte, out *LoginResult) State {
	return func(ctx context.Context) (State, error) {
		response := chapResponse(id, p.Auth.Secret, challenge)

		v := pdu.NewLoginReq()
		v.SetITT(itt)
		v.SetISID(p.ISID)
		v.SetCID(p.CID)
		v.SetTSIH(p.TSIH)
		v.SetCSG(pdu.StageSecurity)
		v.SetNSG(pdu.StageOperational)
		v.SetT(true)
		v.SetCmdSN(d.Session.PeekCmdSN())
		v.SetExpStatSN(d.Conn.ExpStatSN())

		keys := []pdu.KeyValue{
			{Key: "CHAP_N", Value: p.Auth.Username},
			{Key: "CHAP_R", Value: hex.EncodeToString(response)},
		}
		data := pdu.EncodeKeys(keys)
		wire, err := pdu.Build(v.BHS, nil, data, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: login chap response: build: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: login chap response: send: %w", err)
		}
		return d.awaitOperationalTransition(p, itt, out), nil
	}
}

// awaitOperationalTransition collects the target's ack of the
// Security->Operational transition, then issues the final
// Operational->FullFeature request carrying the negotiation keys.
func (d *Driver) awaitOperationalTransition(p LoginParams, itt uint32, out *LoginResult) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.Await(itt, transport.IOTimeout(p.IOTimeout))
		if err != nil {
			return nil, fmt.Errorf("sm: login: recv operational ack: %w", err)
		}
		if err := pdu.ExpectOpcode(frame, pdu.LoginResp); err != nil {
			return nil, err
		}
		resp := pdu.LoginRespView{frame.BHS}
		if resp.StatusClass() != pdu.StatusClassSuccess {
			return nil, fmt.Errorf("%w: class 0x%02x detail 0x%02x", ErrLoginRejected, resp.StatusClass(), resp.StatusDetail())
		}
		out.ExpCmdSN = resp.ExpCmdSN()
		out.MaxCmdSN = resp.MaxCmdSN()
		out.StatSN = resp.StatSN()
		out.TSIH = resp.TSIH()

		v := pdu.NewLoginReq()
		v.SetITT(itt)
		v.SetISID(p.ISID)
		v.SetCID(p.CID)
		v.SetTSIH(out.TSIH)
		v.SetCSG(pdu.StageOperational)
		v.SetNSG(pdu.StageFullFeature)
		v.SetT(true)
		v.SetCmdSN(d.Session.PeekCmdSN())
		v.SetExpStatSN(d.Conn.ExpStatSN())
		data := pdu.EncodeKeys(negotiationKeys(p))
		wire, err := pdu.Build(v.BHS, nil, data, pdu.DigestPolicy{})
		if err != nil {
			return nil, fmt.Errorf("sm: login: build final: %w", err)
		}
		if err := d.Conn.SendRequest(itt, wire, transport.IOTimeout(p.IOTimeout)); err != nil {
			return nil, fmt.Errorf("sm: login: send final: %w", err)
		}
		return d.awaitLoginResponse(itt, p, out, pdu.StageFullFeature), nil
	}
}

func (d *Driver) awaitLoginResponse(itt uint32, p LoginParams, out *LoginResult, wantNSG pdu.Stage) State {
	return func(ctx context.Context) (State, error) {
		frame, err := d.Conn.Await(itt, transport.IOTimeout(p.IOTimeout))
		if err != nil {
			return nil, fmt.Errorf("sm: login: recv: %w", err)
		}
		if err := pdu.ExpectOpcode(frame, pdu.LoginResp); err != nil {
			return nil, err
		}
		resp := pdu.LoginRespView{frame.BHS}
		if resp.StatusClass() != pdu.StatusClassSuccess {
			return nil, fmt.Errorf("%w: class 0x%02x detail 0x%02x", ErrLoginRejected, resp.StatusClass(), resp.StatusDetail())
		}
		if !resp.T() || resp.NSG() != wantNSG {
			return nil, ErrUnexpectedStage
		}
		out.TSIH = resp.TSIH()
		out.ExpCmdSN = resp.ExpCmdSN()
		out.MaxCmdSN = resp.MaxCmdSN()
		out.StatSN = resp.StatSN()
		kvs := pdu.DecodeKeys(frame.Data)
		if v, ok := pdu.Lookup(kvs, "MaxRecvDataSegmentLength"); ok {
			fmt.Sscanf(v, "%d", &out.NegotiatedMRDSL)
		}
		return nil, nil
	}
}
