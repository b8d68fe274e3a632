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
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

var resizeArgs abi.Arguments

func init() {
	resizeArgs = abi.Arguments{{Type: mustType("int256[]", nil)}}
}

// EncodeResizeData returns abi.encode(int256[] deltas), the application data
// of a RESIZE state.
func EncodeResizeData(deltas []*big.Int) ([]byte, error) {
	return resizeArgs.Pack(deltas)
}

// DecodeResizeData decodes the per-participant deltas of a RESIZE state.
func DecodeResizeData(data []byte) ([]*big.Int, error) {
	vals, err := resizeArgs.Unpack(data)
	if err != nil {
		return nil, invalid(errors.WithMessage(err, "resize data must be abi encoded int256[]"))
	}
	deltas, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, NewValidationError("resize data must be abi encoded int256[]")
	}
	return deltas, nil
}
