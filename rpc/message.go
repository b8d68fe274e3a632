// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rpc implements NitroRPC: signed request and response envelopes,
// their verification, replay protection, a proof-of-history timestamp chain
// and a multiplexed client and server over a message transport.
package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/wallet"
	"perun.network/perun-nitro-backend/wallet/types"
)

// ErrorMethod is the method of error responses.
const ErrorMethod = "error"

// Payload is the signed part of a message. It is encoded as the JSON array
// [requestId, method, params, timestamp]. Timestamps are unix milliseconds.
type Payload struct {
	RequestID uint64
	Method    string
	Params    json.RawMessage
	Timestamp uint64
}

// NewPayload encodes params into a payload.
func NewPayload(id uint64, method string, params interface{}, ts uint64) (Payload, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Payload{}, errors.Wrapf(err, "encoding params of %s", method)
	}
	return Payload{RequestID: id, Method: method, Params: raw, Timestamp: ts}, nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	params := p.Params
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]interface{}{p.RequestID, p.Method, params, p.Timestamp}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return errors.WithMessage(ErrMalformedMessage, err.Error())
	}
	if len(parts) != 4 { //nolint:gomnd
		return errors.WithMessagef(ErrMalformedMessage, "payload has %d elements, want 4", len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.RequestID); err != nil {
		return errors.WithMessage(ErrMalformedMessage, "request id must be an unsigned integer")
	}
	if err := json.Unmarshal(parts[1], &p.Method); err != nil || p.Method == "" {
		return errors.WithMessage(ErrMalformedMessage, "method must be a non-empty string")
	}
	p.Params = append(json.RawMessage(nil), parts[2]...)
	if err := json.Unmarshal(parts[3], &p.Timestamp); err != nil {
		return errors.WithMessage(ErrMalformedMessage, "timestamp must be an unsigned integer")
	}
	return nil
}

// Hash is the signing target of the payload: keccak256 of its JSON array
// encoding, without prefix.
func (p Payload) Hash() (common.Hash, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(data), nil
}

// DecodeParams decodes the params into v.
func (p Payload) DecodeParams(v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(p.Params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.WithMessagef(ErrInvalidParams, "%s: %v", p.Method, err)
	}
	return nil
}

// Signed is a message carrying signatures over its payload.
type Signed interface {
	Payload() Payload
	Signatures() []types.Sig
}

// Request is a signed client request {"req": payload, "sig": [...]}.
type Request struct {
	Req Payload     `json:"req"`
	Sig []types.Sig `json:"sig"`
}

// Response is a server response {"res": payload, "sig": [...]}. Error
// responses carry no signature.
type Response struct {
	Res Payload     `json:"res"`
	Sig []types.Sig `json:"sig"`
}

func (r *Request) Payload() Payload { return r.Req }

func (r *Request) Signatures() []types.Sig { return r.Sig }

func (r *Response) Payload() Payload { return r.Res }

func (r *Response) Signatures() []types.Sig { return r.Sig }

// Sign appends the signer's signature over the request payload.
func (r *Request) Sign(signer wallet.Signer) error {
	sig, err := SignPayload(signer, r.Req)
	if err != nil {
		return err
	}
	r.Sig = append(r.Sig, sig)
	return nil
}

// Sign appends the signer's signature over the response payload.
func (r *Response) Sign(signer wallet.Signer) error {
	sig, err := SignPayload(signer, r.Res)
	if err != nil {
		return err
	}
	r.Sig = append(r.Sig, sig)
	return nil
}

// IsError reports whether r is an error response.
func (r *Response) IsError() bool {
	return r.Res.Method == ErrorMethod
}

// ErrorResult is the result of error responses.
type ErrorResult struct {
	Error string `json:"error"`
}

// NewErrorResponse returns an unsigned error response to request id.
func NewErrorResponse(id uint64, cause error, ts uint64) *Response {
	raw, _ := json.Marshal(ErrorResult{Error: cause.Error()}) // cannot fail
	return &Response{Res: Payload{RequestID: id, Method: ErrorMethod, Params: raw, Timestamp: ts}, Sig: []types.Sig{}}
}

// SignPayload signs the hash of p.
func SignPayload(signer wallet.Signer, p Payload) (types.Sig, error) {
	h, err := p.Hash()
	if err != nil {
		return nil, errors.WithMessage(err, "hashing payload")
	}
	return signer.Sign(h.Bytes())
}
