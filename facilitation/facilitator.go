// Package facilitation implements the x402 flow: a payer signs an EIP-3009
// transfer authorization covering the gas cost of an arbitrary target
// transaction, the relayer collects that payment in the stablecoin, then
// relays the target call with its own native funds.
//
// Payment collection and target relay are two independent on-chain
// transactions. The partial-failure exposure is handled with a compensating
// refund: if the target relay fails after payment was collected, the
// facilitator sends the collected amount back to the payer and reports a
// PartialFailure outcome carrying both the collection hash and the refund
// state, structurally distinct from success and from a clean failure.
package facilitation

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	relayer "github.com/crogas/relayer"
	"github.com/crogas/relayer/evm"
)

// Authorization is an EIP-3009 TransferWithAuthorization message: the payer
// pre-authorizes a stablecoin transfer to the relayer. Nonce is a
// contract-tracked per-payer anti-replay value; the validity window is
// enforced by the token contract at settlement, not locally.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// Validate checks the fields the facilitation flow requires.
func (a Authorization) Validate() error {
	if a.From == (common.Address{}) {
		return relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "missing authorization from address", nil)
	}
	if a.Value == nil || a.ValidAfter == nil || a.ValidBefore == nil {
		return relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "missing authorization amount or validity window", nil)
	}
	return nil
}

// AuthorizationTypes returns the EIP-712 schema the token contract recovers
// against at settlement time. The local check and the contract check must
// agree; a divergence here would accept signatures settlement rejects.
func AuthorizationTypes() map[string][]relayer.TypedDataField {
	return map[string][]relayer.TypedDataField{
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// Status is the closed outcome set of a facilitation attempt.
type Status int

const (
	// Settled: payment collected and target transaction broadcast.
	Settled Status = iota
	// Unauthorized: the authorization signature or terms were rejected
	// before any chain write.
	Unauthorized
	// EstimationFailed: an RPC read failed before any chain write; safe to
	// retry.
	EstimationFailed
	// CollectFailed: the payment-collection transaction failed. The target
	// was never attempted; no money moved for the payer.
	CollectFailed
	// PartialFailure: payment was collected but the target relay failed.
	// Money moved; the refund fields report the compensation attempt.
	PartialFailure
)

// Result reports a facilitation attempt with the realized cost breakdown.
type Result struct {
	Status      Status
	AuthHash    string
	RelayHash   string
	RefundHash  string
	RefundError string
	GasEstimate *big.Int
	CostStable  *big.Int
	CostDisplay string
	Reason      string
}

// Facilitator orchestrates authorization verification, gas pricing, payment
// collection, and target relay against one stablecoin contract.
type Facilitator struct {
	gateway relayer.ChainGateway
	pricing *relayer.PricingEngine
	token   common.Address
	domain  relayer.TypedDataDomain
	log     *zap.Logger
}

// NewFacilitator creates a facilitator for one token contract. The signing
// domain is pinned to the token's name/version and the gateway's chain id,
// mirroring the domain the token itself recovers against.
func NewFacilitator(gateway relayer.ChainGateway, pricing *relayer.PricingEngine, token common.Address, tokenName, tokenVersion string, log *zap.Logger) *Facilitator {
	return &Facilitator{
		gateway: gateway,
		pricing: pricing,
		token:   token,
		domain: relayer.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainID:           gateway.ChainID(),
			VerifyingContract: token.Hex(),
		},
		log: log,
	}
}

// Facilitate runs the payment-then-relay sequence. An error return means the
// input was structurally invalid and nothing was attempted; operational
// outcomes are reported through Result. No automatic retry on any failure.
func (f *Facilitator) Facilitate(ctx context.Context, auth Authorization, signature []byte, target relayer.Call) (*Result, error) {
	if err := auth.Validate(); err != nil {
		return nil, err
	}
	if target.To == (common.Address{}) {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "missing target transaction destination", nil)
	}

	f.log.Info("x402 facilitation request",
		zap.String("payer", auth.From.Hex()),
		zap.String("target", target.To.Hex()))

	// Local recovery against the token's own domain, the same check the
	// contract performs at settlement.
	message := map[string]interface{}{
		"from":        auth.From.Hex(),
		"to":          auth.To.Hex(),
		"value":       auth.Value,
		"validAfter":  auth.ValidAfter,
		"validBefore": auth.ValidBefore,
		"nonce":       auth.Nonce[:],
	}
	valid, err := f.gateway.VerifyTypedData(auth.From.Hex(), f.domain, AuthorizationTypes(),
		"TransferWithAuthorization", message, signature)
	if err != nil {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidSignature, err.Error(), nil)
	}
	if !valid {
		f.log.Warn("invalid payment authorization signature", zap.String("payer", auth.From.Hex()))
		return &Result{Status: Unauthorized, Reason: "invalid authorization signature"}, nil
	}
	if auth.To != f.gateway.RelayerAddress() {
		return &Result{Status: Unauthorized, Reason: "authorization does not pay the relayer"}, nil
	}

	// Price the target call as if sent directly, not wrapped.
	gasEstimate, err := f.gateway.EstimateGas(ctx, target)
	if err != nil {
		return &Result{Status: EstimationFailed, Reason: err.Error()}, nil
	}
	gasPrice, err := f.gateway.SuggestGasPrice(ctx)
	if err != nil {
		return &Result{Status: EstimationFailed, Reason: err.Error()}, nil
	}
	quote := f.pricing.Quote(gasEstimate, gasPrice, relayer.TierNormal)

	// The collected amount is the signed amount; it must cover the quoted
	// cost, which is rounded up so the relayer is never shorted.
	if auth.Value.Cmp(quote.CostStable) < 0 {
		return &Result{
			Status:      Unauthorized,
			Reason:      "authorized amount below gas cost",
			GasEstimate: quote.GasEstimate,
			CostStable:  quote.CostStable,
			CostDisplay: quote.CostDisplay,
		}, nil
	}

	v, r, s, err := evm.SplitSignature(signature)
	if err != nil {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidSignature, err.Error(), nil)
	}
	collectData, err := evm.PackTransferWithAuthorization(auth.From, auth.To,
		auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce, v, r, s)
	if err != nil {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, err.Error(), nil)
	}

	// Transaction 1: collect payment. The token contract enforces the
	// validity window and the per-payer nonce here.
	authHash, err := f.gateway.SubmitTransaction(ctx, relayer.Call{To: f.token, Data: collectData}, relayer.SubmitOptions{})
	if err != nil {
		f.log.Warn("payment collection failed",
			zap.String("payer", auth.From.Hex()), zap.Error(err))
		return &Result{
			Status:      CollectFailed,
			Reason:      err.Error(),
			GasEstimate: quote.GasEstimate,
			CostStable:  quote.CostStable,
			CostDisplay: quote.CostDisplay,
		}, nil
	}

	// Transaction 2: relay the target call.
	relayHash, err := f.gateway.SubmitTransaction(ctx, target, relayer.SubmitOptions{
		GasLimit: quote.SubmittedGas,
	})
	if err != nil {
		return f.compensate(ctx, auth, authHash, quote, err), nil
	}

	f.log.Info("x402 facilitation settled",
		zap.String("authHash", authHash),
		zap.String("relayHash", relayHash),
		zap.String("gasEstimate", quote.GasEstimate.String()),
		zap.String("costStable", quote.CostDisplay))

	return &Result{
		Status:      Settled,
		AuthHash:    authHash,
		RelayHash:   relayHash,
		GasEstimate: quote.GasEstimate,
		CostStable:  quote.CostStable,
		CostDisplay: quote.CostDisplay,
	}, nil
}

// compensate refunds the collected payment after a failed target relay. The
// refund is best effort: a refund failure is reported, never swallowed, so
// the caller always learns that money moved.
func (f *Facilitator) compensate(ctx context.Context, auth Authorization, authHash string, quote relayer.GasQuote, relayErr error) *Result {
	result := &Result{
		Status:      PartialFailure,
		AuthHash:    authHash,
		Reason:      relayErr.Error(),
		GasEstimate: quote.GasEstimate,
		CostStable:  quote.CostStable,
		CostDisplay: quote.CostDisplay,
	}

	f.log.Error("target relay failed after payment collection, refunding",
		zap.String("authHash", authHash),
		zap.String("payer", auth.From.Hex()),
		zap.Error(relayErr))

	refundData, err := evm.PackTransfer(auth.From, auth.Value)
	if err != nil {
		result.RefundError = err.Error()
		return result
	}

	refundHash, err := f.gateway.SubmitTransaction(ctx, relayer.Call{To: f.token, Data: refundData}, relayer.SubmitOptions{})
	if err != nil {
		f.log.Error("refund failed, payer remains charged",
			zap.String("authHash", authHash),
			zap.String("payer", auth.From.Hex()),
			zap.Error(err))
		result.RefundError = err.Error()
		return result
	}

	f.log.Info("payment refunded",
		zap.String("refundHash", refundHash),
		zap.String("payer", auth.From.Hex()))
	result.RefundHash = refundHash
	return result
}
