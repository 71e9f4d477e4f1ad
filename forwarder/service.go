package forwarder

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	relayer "github.com/crogas/relayer"
)

// RelayStatus is the closed outcome set of a relay attempt.
type RelayStatus int

const (
	// RelayOK: the execute transaction was broadcast.
	RelayOK RelayStatus = iota
	// RelayUnauthorized: the forwarder contract rejected the signature.
	// Nothing was broadcast; safe to retry with a corrected signature.
	RelayUnauthorized
	// RelayEstimationFailed: an RPC read (verify, estimate, gas price)
	// failed. Nothing was broadcast; safe to retry.
	RelayEstimationFailed
	// RelayBroadcastFailed: the execute transaction was submitted but the
	// node rejected it. Not safe to blindly retry without fee or nonce
	// adjustment.
	RelayBroadcastFailed
)

// RelayResult reports a relay attempt. Quote is the quote actually used for
// submission, not a re-estimate, so callers can reconcile what they were
// charged against what was executed.
type RelayResult struct {
	Status RelayStatus
	TxHash string
	Quote  *relayer.GasQuote
	Reason string
}

// Service relays signed ForwardRequests through the forwarder contract.
type Service struct {
	gateway  relayer.ChainGateway
	pricing  *relayer.PricingEngine
	contract common.Address
	domain   relayer.TypedDataDomain
	log      *zap.Logger
}

// NewService creates the relay service for one forwarder contract instance.
// The signing domain is pinned to the gateway's chain id and the contract
// address so signatures cannot be replayed across deployments.
func NewService(gateway relayer.ChainGateway, pricing *relayer.PricingEngine, contract common.Address, domainName, domainVersion string, log *zap.Logger) *Service {
	return &Service{
		gateway:  gateway,
		pricing:  pricing,
		contract: contract,
		domain: relayer.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainID:           gateway.ChainID(),
			VerifyingContract: contract.Hex(),
		},
		log: log,
	}
}

// SigningDomain returns the EIP-712 domain clients must sign against.
// Repeated calls return identical values.
func (s *Service) SigningDomain() relayer.TypedDataDomain {
	return s.domain
}

// Nonce returns the forwarder's replay counter for an address. The contract
// is the single source of truth; the value is re-queried per request and
// never cached locally.
func (s *Service) Nonce(ctx context.Context, from common.Address) (*big.Int, error) {
	data, err := packGetNonce(from)
	if err != nil {
		return nil, err
	}
	output, err := s.gateway.CallContract(ctx, s.contract, data)
	if err != nil {
		return nil, err
	}
	return unpackUint256(functionGetNonce, output)
}

// Relay verifies a signed ForwardRequest against the forwarder contract,
// prices the execute call, and broadcasts it. An error return means the
// input was structurally invalid and nothing was attempted; all operational
// outcomes are reported through RelayResult. No retry is performed on any
// failure: resubmission risks double-spending the forwarder nonce when the
// original transaction is slow rather than failed.
func (s *Service) Relay(ctx context.Context, req ForwardRequest, signature []byte, tier relayer.PriorityTier) (*RelayResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(signature) == 0 {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "missing signature", nil)
	}

	s.log.Info("meta-tx relay request",
		zap.String("from", req.From.Hex()),
		zap.String("to", req.To.Hex()),
		zap.String("priority", string(tier)))

	// Verification is delegated to the contract's own view call, keeping the
	// relayer's notion of validity consistent with what execute() accepts.
	verifyData, err := packVerify(req, signature)
	if err != nil {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, err.Error(), nil)
	}
	output, err := s.gateway.CallContract(ctx, s.contract, verifyData)
	if err != nil {
		return &RelayResult{Status: RelayEstimationFailed, Reason: err.Error()}, nil
	}
	valid, err := unpackBool(functionVerify, output)
	if err != nil {
		return &RelayResult{Status: RelayEstimationFailed, Reason: err.Error()}, nil
	}
	if !valid {
		s.log.Warn("invalid forward request signature", zap.String("from", req.From.Hex()))
		return &RelayResult{Status: RelayUnauthorized, Reason: "forwarder rejected signature"}, nil
	}

	executeData, err := packExecute(req, signature)
	if err != nil {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, err.Error(), nil)
	}

	call := relayer.Call{To: s.contract, Data: executeData}
	gasEstimate, err := s.gateway.EstimateGas(ctx, call)
	if err != nil {
		return &RelayResult{Status: RelayEstimationFailed, Reason: err.Error()}, nil
	}
	gasPrice, err := s.gateway.SuggestGasPrice(ctx)
	if err != nil {
		return &RelayResult{Status: RelayEstimationFailed, Reason: err.Error()}, nil
	}

	quote := s.pricing.Quote(gasEstimate, gasPrice, tier)

	txHash, err := s.gateway.SubmitTransaction(ctx, call, relayer.SubmitOptions{
		GasLimit:             quote.SubmittedGas,
		MaxFeePerGas:         quote.AdjustedGasPrice,
		MaxPriorityFeePerGas: new(big.Int).Div(quote.AdjustedGasPrice, big.NewInt(10)),
	})
	if err != nil {
		return &RelayResult{Status: RelayBroadcastFailed, Quote: &quote, Reason: err.Error()}, nil
	}

	s.log.Info("meta-tx relayed",
		zap.String("txHash", txHash),
		zap.String("from", req.From.Hex()),
		zap.String("to", req.To.Hex()),
		zap.String("gasEstimate", quote.GasEstimate.String()),
		zap.String("costStable", quote.CostDisplay))

	return &RelayResult{Status: RelayOK, TxHash: txHash, Quote: &quote}, nil
}
