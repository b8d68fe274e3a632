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

package channel

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies rejections so callers can tell malformed input from bad
// signatures and from conflicts with the recorded channel state.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors not created by this package.
	KindUnknown Kind = iota
	// KindValidation marks malformed channels, states or transitions.
	KindValidation
	// KindSignature marks missing or invalid signatures.
	KindSignature
	// KindStateConflict marks operations not allowed in the current status.
	KindStateConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSignature:
		return "signature"
	case KindStateConflict:
		return "state conflict"
	default:
		return "unknown"
	}
}

// Error is a classified rejection. The message names the violated invariant.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// NewValidationError returns a validation error with the given message.
func NewValidationError(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)} //nolint: goerr113
}

// NewSignatureError returns a signature error with the given message.
func NewSignatureError(format string, args ...interface{}) error {
	return &Error{Kind: KindSignature, Err: fmt.Errorf(format, args...)} //nolint: goerr113
}

// NewStateConflictError classifies err as a state conflict.
func NewStateConflictError(err error) error {
	return &Error{Kind: KindStateConflict, Err: err}
}

// Sentinels shared by the validation rules.
var (
	ErrVersionIncrement  = errors.New("version must increase by exactly 1")
	ErrSumMismatch       = errors.New("allocation sums must be equal per asset")
	ErrInitializeVersion = errors.New("INITIALIZE intent only allowed at version 0")
	ErrGenesisIntent     = errors.New("version 0 state must have INITIALIZE intent")
	ErrSignatureCount    = errors.New("state must carry exactly one signature per participant")
	ErrResizeIntent      = errors.New("resize state must have RESIZE intent")
	ErrNegativeAmount    = errors.New("allocation amount must not be negative")
	ErrAmountOverflow    = errors.New("allocation amount must fit into uint256")
)

func invalid(err error) error {
	return &Error{Kind: KindValidation, Err: err}
}

func badSig(err error) error {
	return &Error{Kind: KindSignature, Err: err}
}

// WithKind classifies err. It returns nil for nil errors.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}
