// Package faucet disburses fixed testnet amounts of the stablecoin or the
// native token to a requester address, one disbursement per address per
// rate-limit window. No signature is required; authorization is the window
// store's concern.
package faucet

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	relayer "github.com/crogas/relayer"
	"github.com/crogas/relayer/evm"
)

// Kind selects what the faucet sends.
type Kind string

const (
	KindStablecoin Kind = "stablecoin"
	KindNative     Kind = "native"
)

// Disbursement reports one completed faucet send. Amount is in base units of
// the disbursed asset.
type Disbursement struct {
	TxHash string
	Kind   Kind
	Amount *big.Int
}

// Service sends fixed amounts from the relayer's balances.
type Service struct {
	gateway      relayer.ChainGateway
	token        common.Address
	stableAmount *big.Int
	nativeAmount *big.Int
	window       *Window
	log          *zap.Logger
}

// NewService creates the faucet. stableAmount is in token base units,
// nativeAmount in wei.
func NewService(gateway relayer.ChainGateway, token common.Address, stableAmount, nativeAmount *big.Int, window *Window, log *zap.Logger) *Service {
	return &Service{
		gateway:      gateway,
		token:        token,
		stableAmount: stableAmount,
		nativeAmount: nativeAmount,
		window:       window,
		log:          log,
	}
}

// Disburse sends the configured amount of kind to the address. The window
// hold is taken before the transaction is built and only confirmed once the
// broadcast succeeds, so a duplicate request inside the race cannot
// double-disburse, and a failed send leaves the address free to retry.
func (s *Service) Disburse(ctx context.Context, kind Kind, to common.Address) (*Disbursement, error) {
	if kind != KindStablecoin && kind != KindNative {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, "unknown disbursement kind", nil)
	}
	if to == (common.Address{}) {
		return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidAddress, "missing recipient address", nil)
	}

	reservation, err := s.window.Reserve(windowKey(kind, to))
	if err != nil {
		s.log.Warn("faucet rate limited",
			zap.String("address", to.Hex()), zap.String("kind", string(kind)))
		return nil, err
	}

	s.log.Info("faucet request",
		zap.String("address", to.Hex()), zap.String("kind", string(kind)))

	var call relayer.Call
	var amount *big.Int
	switch kind {
	case KindStablecoin:
		amount = s.stableAmount
		data, packErr := evm.PackTransfer(to, amount)
		if packErr != nil {
			reservation.Release()
			return nil, relayer.NewRelayerError(relayer.ErrCodeInvalidRequest, packErr.Error(), nil)
		}
		call = relayer.Call{To: s.token, Data: data}
	case KindNative:
		amount = s.nativeAmount
		call = relayer.Call{To: to, Value: amount}
	}

	gasEstimate, err := s.gateway.EstimateGas(ctx, call)
	if err != nil {
		reservation.Release()
		return nil, relayer.NewRelayerError(relayer.ErrCodeEstimationFailed, err.Error(), nil)
	}

	txHash, err := s.gateway.SubmitTransaction(ctx, call, relayer.SubmitOptions{
		GasLimit: relayer.BufferGasLimit(gasEstimate),
	})
	if err != nil {
		reservation.Release()
		return nil, relayer.NewRelayerError(relayer.ErrCodeBroadcastFailed, err.Error(), nil)
	}
	reservation.Confirm()

	s.log.Info("faucet disbursed",
		zap.String("txHash", txHash),
		zap.String("address", to.Hex()),
		zap.String("kind", string(kind)),
		zap.String("amount", amount.String()))

	return &Disbursement{TxHash: txHash, Kind: kind, Amount: new(big.Int).Set(amount)}, nil
}

func windowKey(kind Kind, to common.Address) string {
	return string(kind) + ":" + strings.ToLower(to.Hex())
}
