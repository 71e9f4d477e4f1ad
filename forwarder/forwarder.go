// Package forwarder implements the meta-transaction relay flow against a
// MinimalForwarder contract. The forwarder owns signature verification and
// the per-signer replay nonce; this package never re-derives either locally,
// so the relayer's notion of a valid request is exactly what execute() will
// accept on-chain.
package forwarder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	relayer "github.com/crogas/relayer"
)

const (
	functionGetNonce = "getNonce"
	functionVerify   = "verify"
	functionExecute  = "execute"
)

// MinimalForwarder surface used by the relay flow.
var forwarderABIJSON = `[
	{
		"name": "getNonce",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "from", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "verify",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{
				"name": "req",
				"type": "tuple",
				"components": [
					{"name": "from", "type": "address"},
					{"name": "to", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "gas", "type": "uint256"},
					{"name": "nonce", "type": "uint256"},
					{"name": "deadline", "type": "uint48"},
					{"name": "data", "type": "bytes"}
				]
			},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"name": "execute",
		"type": "function",
		"stateMutability": "payable",
		"inputs": [
			{
				"name": "req",
				"type": "tuple",
				"components": [
					{"name": "from", "type": "address"},
					{"name": "to", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "gas", "type": "uint256"},
					{"name": "nonce", "type": "uint256"},
					{"name": "deadline", "type": "uint48"},
					{"name": "data", "type": "bytes"}
				]
			},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [{"name": "success", "type": "bool"}]
	}
]`

var forwarderABI = mustParseABI(forwarderABIJSON)

// ForwardRequest is a signed description of a call the forwarder should make
// on behalf of From. Nonce is owned and incremented exclusively by the
// contract; Deadline bounds validity. Constructed per inbound request, never
// persisted, single use enforced by the contract's nonce check.
type ForwardRequest struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      *big.Int
	Nonce    *big.Int
	Deadline *big.Int
	Data     []byte
}

// Validate checks the fields the relay flow requires. Defaults for optional
// fields (Value, Gas) are the caller's concern.
func (r ForwardRequest) Validate() error {
	if r.From == (common.Address{}) {
		return relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "missing from address", nil)
	}
	if r.To == (common.Address{}) {
		return relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "missing to address", nil)
	}
	if r.Nonce == nil {
		return relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "missing nonce", nil)
	}
	if r.Deadline == nil {
		return relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "missing deadline", nil)
	}
	return nil
}

// RequestTypes returns the EIP-712 type schema clients sign against. Must
// stay byte-identical to what the forwarder contract verifies, or client
// signatures will never validate.
func RequestTypes() map[string][]relayer.TypedDataField {
	return map[string][]relayer.TypedDataField{
		"ForwardRequest": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "gas", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint48"},
			{Name: "data", Type: "bytes"},
		},
	}
}

func packVerify(req ForwardRequest, signature []byte) ([]byte, error) {
	data, err := forwarderABI.Pack(functionVerify, req, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to pack verify: %w", err)
	}
	return data, nil
}

func packExecute(req ForwardRequest, signature []byte) ([]byte, error) {
	data, err := forwarderABI.Pack(functionExecute, req, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to pack execute: %w", err)
	}
	return data, nil
}

func packGetNonce(from common.Address) ([]byte, error) {
	data, err := forwarderABI.Pack(functionGetNonce, from)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}
	return data, nil
}

func unpackBool(method string, output []byte) (bool, error) {
	values, err := forwarderABI.Unpack(method, output)
	if err != nil {
		return false, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	result, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s result type", method)
	}
	return result, nil
}

func unpackUint256(method string, output []byte) (*big.Int, error) {
	values, err := forwarderABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	result, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type", method)
	}
	return result, nil
}

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
