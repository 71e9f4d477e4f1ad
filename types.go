// Package relayer contains the core types and gas pricing for the CroGas
// gas-abstraction relayer: priority tiers, gas quotes, and the chain gateway
// contract shared by the meta-transaction, x402 facilitation, and faucet
// services.
package relayer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriorityTier selects how aggressively a relayed transaction is priced.
type PriorityTier string

const (
	TierSlow   PriorityTier = "slow"
	TierNormal PriorityTier = "normal"
	TierFast   PriorityTier = "fast"
)

// TierInfo describes one pricing tier: the gas-price multiplier in basis
// points plus the human-readable metadata returned in quotes.
type TierInfo struct {
	MultiplierBps int64
	Emoji         string
	Label         string
	EstimatedTime string
}

var tierTable = map[PriorityTier]TierInfo{
	TierSlow:   {MultiplierBps: 8000, Emoji: "🐢", Label: "Économique", EstimatedTime: "~30s"},
	TierNormal: {MultiplierBps: 10000, Emoji: "🚗", Label: "Standard", EstimatedTime: "~10s"},
	TierFast:   {MultiplierBps: 15000, Emoji: "🚀", Label: "Prioritaire", EstimatedTime: "~3s"},
}

// ParseTier maps a wire-level priority string to a tier. Unknown or empty
// values degrade to TierNormal rather than failing the request.
func ParseTier(s string) PriorityTier {
	tier := PriorityTier(s)
	if _, ok := tierTable[tier]; !ok {
		return TierNormal
	}
	return tier
}

// Info returns the tier's pricing metadata, falling back to normal for
// values outside the closed tier set.
func (t PriorityTier) Info() TierInfo {
	if info, ok := tierTable[t]; ok {
		return info
	}
	return tierTable[TierNormal]
}

// GasQuote is the priced cost of one intended call. Quotes are computed
// fresh per request and never cached: both the estimate and the network gas
// price are time-sensitive. The quoted cost is indicative, not the final
// amount charged on-chain.
type GasQuote struct {
	// GasEstimate is the raw unit estimate from simulating the call.
	GasEstimate *big.Int
	// SubmittedGas is the gas limit actually submitted: ceil(GasEstimate * 1.2).
	SubmittedGas *big.Int
	// AdjustedGasPrice is the network gas price scaled by the tier multiplier.
	AdjustedGasPrice *big.Int
	// Tier is the tier the multiplier was taken from.
	Tier PriorityTier
	// CostStable is SubmittedGas * AdjustedGasPrice converted to stablecoin
	// base units, rounded up.
	CostStable *big.Int
	// CostDisplay is CostStable rendered as a decimal string for responses.
	CostDisplay string
}

// Call is a contract call or plain transfer from the relayer account:
// destination, calldata, and attached native value. A nil Value means zero.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// SubmitOptions carries the execution parameters for a write. A nil GasLimit
// lets the gateway estimate and buffer one itself; nil fee fields fall back
// to the network's suggested gas price.
type SubmitOptions struct {
	GasLimit             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// TypedDataDomain binds an EIP-712 signature to exactly one contract
// instance and chain. Process-wide constant per contract.
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField is one field of an EIP-712 type schema.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ChainGateway is the single upstream EVM access point: one RPC endpoint,
// one relayer signing identity. Reads may run concurrently; implementations
// must serialize SubmitTransaction internally because every submission
// consumes one relayer account nonce.
type ChainGateway interface {
	// RelayerAddress returns the funded signing account paying for gas.
	RelayerAddress() common.Address

	// ChainID returns the id of the connected network.
	ChainID() *big.Int

	// CallContract executes a read-only contract call.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// EstimateGas simulates the call as sent from the relayer account and
	// returns the raw gas unit estimate.
	EstimateGas(ctx context.Context, call Call) (*big.Int, error)

	// SuggestGasPrice returns the network's current gas price in wei.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// VerifyTypedData checks that signature was produced by signer over the
	// EIP-712 digest of the given domain, types, and message. Returns false
	// for a well-formed signature by the wrong key; returns an error only
	// for structurally invalid signatures.
	VerifyTypedData(signer string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error)

	// SubmitTransaction signs and broadcasts the call from the relayer
	// account and returns the transaction hash. Once this returns the
	// transaction cannot be withdrawn.
	SubmitTransaction(ctx context.Context, call Call, opts SubmitOptions) (string, error)
}
