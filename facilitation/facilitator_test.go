package facilitation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	relayer "github.com/crogas/relayer"
	"github.com/crogas/relayer/evm"
)

var (
	relayerAddr = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	payerAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	targetAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenAddr   = common.HexToAddress("0xF94b01ec5Bdc9F77cB77d4Cb1d5036D0b3f79C92")
)

type scriptedSubmit struct {
	hash string
	err  error
}

type mockGateway struct {
	verifyValid bool
	verifyErr   error
	estimate    *big.Int
	estimateErr error
	gasPrice    *big.Int

	script  []scriptedSubmit
	submits []relayer.Call
}

func (m *mockGateway) RelayerAddress() common.Address { return relayerAddr }
func (m *mockGateway) ChainID() *big.Int              { return big.NewInt(338) }

func (m *mockGateway) CallContract(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, errors.New("unexpected read")
}

func (m *mockGateway) EstimateGas(_ context.Context, _ relayer.Call) (*big.Int, error) {
	if m.estimateErr != nil {
		return nil, m.estimateErr
	}
	return new(big.Int).Set(m.estimate), nil
}

func (m *mockGateway) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.gasPrice), nil
}

func (m *mockGateway) VerifyTypedData(string, relayer.TypedDataDomain, map[string][]relayer.TypedDataField, string, map[string]interface{}, []byte) (bool, error) {
	return m.verifyValid, m.verifyErr
}

func (m *mockGateway) SubmitTransaction(_ context.Context, call relayer.Call, _ relayer.SubmitOptions) (string, error) {
	i := len(m.submits)
	m.submits = append(m.submits, call)
	if i >= len(m.script) {
		return "", errors.New("unexpected submit")
	}
	return m.script[i].hash, m.script[i].err
}

func testFacilitator(gw *mockGateway) *Facilitator {
	rate, _ := relayer.NewConversionRate("0.10", 6)
	pricing := relayer.NewPricingEngine(rate, 6)
	return NewFacilitator(gw, pricing, tokenAddr, "USD Coin", "2", zap.NewNop())
}

func testAuth(value int64) Authorization {
	return Authorization{
		From:        payerAddr,
		To:          relayerAddr,
		Value:       big.NewInt(value),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(1900000000),
		Nonce:       [32]byte{0x01},
	}
}

func testSignature() []byte {
	sig := make([]byte, 65)
	sig[64] = 27
	return sig
}

func testTarget() relayer.Call {
	return relayer.Call{To: targetAddr, Data: []byte{0xbe, 0xef}}
}

func TestFacilitateInvalidSignatureNoWrites(t *testing.T) {
	gw := &mockGateway{verifyValid: false, estimate: big.NewInt(50000), gasPrice: big.NewInt(5_000_000_000)}
	f := testFacilitator(gw)

	result, err := f.Facilitate(context.Background(), testAuth(1_000_000), testSignature(), testTarget())
	require.NoError(t, err)
	require.Equal(t, Unauthorized, result.Status)
	require.Empty(t, gw.submits, "no chain write before verification")
}

func TestFacilitateWrongRecipient(t *testing.T) {
	gw := &mockGateway{verifyValid: true, estimate: big.NewInt(50000), gasPrice: big.NewInt(5_000_000_000)}
	f := testFacilitator(gw)

	auth := testAuth(1_000_000)
	auth.To = targetAddr
	result, err := f.Facilitate(context.Background(), auth, testSignature(), testTarget())
	require.NoError(t, err)
	require.Equal(t, Unauthorized, result.Status)
	require.Empty(t, gw.submits)
}

func TestFacilitateInsufficientAuthorizedAmount(t *testing.T) {
	// 50000 gas at 5 gwei normal tier: submitted 60000, cost 3e14 wei,
	// which converts to 30 stablecoin base units.
	gw := &mockGateway{verifyValid: true, estimate: big.NewInt(50000), gasPrice: big.NewInt(5_000_000_000)}
	f := testFacilitator(gw)

	result, err := f.Facilitate(context.Background(), testAuth(29), testSignature(), testTarget())
	require.NoError(t, err)
	require.Equal(t, Unauthorized, result.Status)
	require.Zero(t, result.CostStable.Cmp(big.NewInt(30)))
	require.Empty(t, gw.submits)
}

func TestFacilitateCollectRejected(t *testing.T) {
	// Token contract rejects the authorized transfer, e.g. validBefore has
	// already passed. The target transaction must never be attempted.
	gw := &mockGateway{
		verifyValid: true,
		estimate:    big.NewInt(50000),
		gasPrice:    big.NewInt(5_000_000_000),
		script:      []scriptedSubmit{{err: errors.New("execution reverted: authorization is expired")}},
	}
	f := testFacilitator(gw)

	result, err := f.Facilitate(context.Background(), testAuth(1_000_000), testSignature(), testTarget())
	require.NoError(t, err)
	require.Equal(t, CollectFailed, result.Status)
	require.Contains(t, result.Reason, "expired")
	require.Len(t, gw.submits, 1)
	require.Equal(t, tokenAddr, gw.submits[0].To)
}

func TestFacilitatePartialFailureRefunds(t *testing.T) {
	gw := &mockGateway{
		verifyValid: true,
		estimate:    big.NewInt(50000),
		gasPrice:    big.NewInt(5_000_000_000),
		script: []scriptedSubmit{
			{hash: "0xauth"},
			{err: errors.New("execution reverted")},
			{hash: "0xrefund"},
		},
	}
	f := testFacilitator(gw)

	auth := testAuth(1_000_000)
	result, err := f.Facilitate(context.Background(), auth, testSignature(), testTarget())
	require.NoError(t, err)
	require.Equal(t, PartialFailure, result.Status)
	require.Equal(t, "0xauth", result.AuthHash, "collection hash must survive the failure")
	require.Equal(t, "0xrefund", result.RefundHash)
	require.Empty(t, result.RefundError)
	require.Contains(t, result.Reason, "reverted")

	// The refund is an ERC-20 transfer of the collected amount back to the payer.
	require.Len(t, gw.submits, 3)
	require.Equal(t, tokenAddr, gw.submits[2].To)
	to, amount, err := evm.UnpackTransfer(gw.submits[2].Data)
	require.NoError(t, err)
	require.Equal(t, payerAddr, to)
	require.Zero(t, amount.Cmp(auth.Value))
}

func TestFacilitatePartialFailureRefundFails(t *testing.T) {
	gw := &mockGateway{
		verifyValid: true,
		estimate:    big.NewInt(50000),
		gasPrice:    big.NewInt(5_000_000_000),
		script: []scriptedSubmit{
			{hash: "0xauth"},
			{err: errors.New("execution reverted")},
			{err: errors.New("insufficient token balance")},
		},
	}
	f := testFacilitator(gw)

	result, err := f.Facilitate(context.Background(), testAuth(1_000_000), testSignature(), testTarget())
	require.NoError(t, err)
	require.Equal(t, PartialFailure, result.Status)
	require.Equal(t, "0xauth", result.AuthHash)
	require.Empty(t, result.RefundHash)
	require.Contains(t, result.RefundError, "insufficient token balance")
}

func TestFacilitateSettles(t *testing.T) {
	gw := &mockGateway{
		verifyValid: true,
		estimate:    big.NewInt(50000),
		gasPrice:    big.NewInt(5_000_000_000),
		script: []scriptedSubmit{
			{hash: "0xauth"},
			{hash: "0xrelay"},
		},
	}
	f := testFacilitator(gw)

	result, err := f.Facilitate(context.Background(), testAuth(1_000_000), testSignature(), testTarget())
	require.NoError(t, err)
	require.Equal(t, Settled, result.Status)
	require.Equal(t, "0xauth", result.AuthHash)
	require.Equal(t, "0xrelay", result.RelayHash)
	require.Zero(t, result.GasEstimate.Cmp(big.NewInt(50000)))
	require.Zero(t, result.CostStable.Cmp(big.NewInt(30)))
	require.Equal(t, "0.000030", result.CostDisplay)

	require.Len(t, gw.submits, 2)
	require.Equal(t, tokenAddr, gw.submits[0].To)
	require.Equal(t, targetAddr, gw.submits[1].To)
}

func TestFacilitateEstimationFailure(t *testing.T) {
	gw := &mockGateway{
		verifyValid: true,
		estimateErr: errors.New("node unreachable"),
		gasPrice:    big.NewInt(5_000_000_000),
	}
	f := testFacilitator(gw)

	result, err := f.Facilitate(context.Background(), testAuth(1_000_000), testSignature(), testTarget())
	require.NoError(t, err)
	require.Equal(t, EstimationFailed, result.Status)
	require.Empty(t, gw.submits)
}

func TestFacilitateBadSignatureEncoding(t *testing.T) {
	gw := &mockGateway{verifyErr: errors.New("invalid signature length: 3")}
	f := testFacilitator(gw)

	_, err := f.Facilitate(context.Background(), testAuth(1_000_000), []byte{1, 2, 3}, testTarget())
	require.Error(t, err)
	require.Empty(t, gw.submits)
}
