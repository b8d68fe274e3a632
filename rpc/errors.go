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

package rpc

import (
	"github.com/pkg/errors"
)

// Protocol errors. They are local to a connection and never change channel
// state.
var (
	ErrMalformedMessage        = errors.New("malformed message")
	ErrInvalidParams           = errors.New("invalid params")
	ErrDuplicateRequest        = errors.New("duplicate request id")
	ErrStaleTimestamp          = errors.New("timestamp older than session history")
	ErrMissingSignature        = errors.New("missing signature")
	ErrInvalidSignature        = errors.New("signature does not match signer")
	ErrMissingCountersignature = errors.New("response lacks server countersignature")
	ErrUnauthenticated         = errors.New("session not authenticated")
	ErrAuthInFlight            = errors.New("authentication already in progress")
	ErrAlreadyAuthenticated    = errors.New("session already authenticated")
	ErrMethodNotFound          = errors.New("method not found")
	ErrTimeout                 = errors.New("request timed out")
	ErrConnClosed              = errors.New("connection closed")
)

// RemoteError is an error response received from the server.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Method + ": " + e.Message
}
