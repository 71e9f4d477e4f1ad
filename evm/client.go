// Package evm is the chain gateway: one upstream EVM RPC endpoint and one
// relayer signing identity, shared by every service in the process. Reads run
// concurrently; writes are serialized because each one consumes a relayer
// account nonce.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	relayer "github.com/crogas/relayer"
)

// Client implements relayer.ChainGateway over go-ethereum's ethclient.
type Client struct {
	eth         *ethclient.Client
	key         *ecdsa.PrivateKey
	address     common.Address
	chainID     *big.Int
	callTimeout time.Duration
	log         *zap.Logger

	// submitMu serializes build -> sign -> broadcast. Concurrent submissions
	// from the same account risk nonce collisions and out-of-order broadcast.
	submitMu sync.Mutex
}

// Dial connects to the upstream RPC endpoint and derives the relayer account
// from the hex-encoded private key. callTimeout bounds every RPC call; zero
// means no timeout beyond the caller's context.
func Dial(ctx context.Context, rpcURL, privateKeyHex string, callTimeout time.Duration, log *zap.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	log.Info("chain gateway connected",
		zap.String("relayer", address.Hex()),
		zap.String("chainId", chainID.String()))

	return &Client{
		eth:         eth,
		key:         key,
		address:     address,
		chainID:     chainID,
		callTimeout: callTimeout,
		log:         log,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// RelayerAddress returns the funded signing account.
func (c *Client) RelayerAddress() common.Address {
	return c.address
}

// ChainID returns the id of the connected network.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	return result, nil
}

// EstimateGas simulates the call as sent from the relayer account.
func (c *Client) EstimateGas(ctx context.Context, call relayer.Call) (*big.Int, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &call.To,
		Data:  call.Data,
		Value: call.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation failed: %w", err)
	}
	return new(big.Int).SetUint64(gas), nil
}

// SuggestGasPrice returns the network's current gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price fetch failed: %w", err)
	}
	return price, nil
}

// VerifyTypedData checks an EIP-712 signature by local ECDSA recovery.
func (c *Client) VerifyTypedData(
	signer string,
	domain relayer.TypedDataDomain,
	dataTypes map[string][]relayer.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	digest, err := HashTypedData(domain, dataTypes, primaryType, message)
	if err != nil {
		return false, err
	}

	recovered, err := RecoverSigner(digest, signature)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered.Hex(), signer), nil
}

// SubmitTransaction signs and broadcasts an EIP-1559 transaction from the
// relayer account. The account nonce is re-queried from the node under the
// submission lock; it is never cached across submissions.
func (c *Client) SubmitTransaction(ctx context.Context, call relayer.Call, opts relayer.SubmitOptions) (string, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("failed to fetch account nonce: %w", err)
	}

	feeCap := opts.MaxFeePerGas
	if feeCap == nil {
		feeCap, err = c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("gas price fetch failed: %w", err)
		}
	}
	tip := opts.MaxPriorityFeePerGas
	if tip == nil {
		tip = new(big.Int).Div(feeCap, big.NewInt(10))
	}

	gasLimit := opts.GasLimit
	if gasLimit == nil {
		estimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.address,
			To:    &call.To,
			Data:  call.Data,
			Value: call.Value,
		})
		if err != nil {
			return "", fmt.Errorf("gas estimation failed: %w", err)
		}
		gasLimit = relayer.BufferGasLimit(new(big.Int).SetUint64(estimate))
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	to := call.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit.Uint64(),
		To:        &to,
		Value:     value,
		Data:      call.Data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("broadcast failed: %w", err)
	}

	hash := signedTx.Hash().Hex()
	c.log.Info("transaction broadcast",
		zap.String("txHash", hash),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("gasLimit", gasLimit.String()))
	return hash, nil
}

func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}
