// Package chain binds the seller to Ethereum contracts over JSON-RPC.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wonny/otcseller/pkg/config"
	"github.com/wonny/otcseller/pkg/logger"
)

// nativeTransferGas covers agent contracts that run a payable fallback
const nativeTransferGas = 100_000

var (
	// ErrReadOnly is returned for writes when no seller key is configured
	ErrReadOnly = errors.New("no seller key configured")
	// ErrTxReverted is returned when a mined transaction has a failed status
	ErrTxReverted = errors.New("transaction reverted")
)

// Backend is what ethclient.Client provides
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client signs and sends seller transactions
// ⭐ SSOT: the seller private key is only used here
type Client struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	receiptTimeout time.Duration
	logger         *logger.Logger

	txMu sync.Mutex // one pending transaction at a time keeps nonces ordered
}

// Dial connects to cfg.Chain.RPCURL
func Dial(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, *ethclient.Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", cfg.Chain.RPCURL, err)
	}

	c, err := NewClient(eth, cfg.Chain.SellerPrivateKey, cfg.Chain.ChainID, cfg.Chain.ReceiptTimeout, log)
	if err != nil {
		eth.Close()
		return nil, nil, err
	}
	return c, eth, nil
}

// NewClient wraps a backend; an empty hexKey yields a read-only client
func NewClient(backend Backend, hexKey string, chainID int64, receiptTimeout time.Duration, log *logger.Logger) (*Client, error) {
	c := &Client{
		backend:        backend,
		chainID:        big.NewInt(chainID),
		receiptTimeout: receiptTimeout,
		logger:         log.WithComponent("chain"),
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = 3 * time.Minute
	}

	if hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid seller private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Address returns the seller account, zero when read-only
func (c *Client) Address() common.Address {
	return c.from
}

// Backend exposes the RPC backend for read-only bindings
func (c *Client) Backend() Backend {
	return c.backend
}

// Ping fetches the latest header
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.backend.HeaderByNumber(ctx, nil); err != nil {
		return fmt.Errorf("rpc unreachable: %w", err)
	}
	return nil
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, ErrReadOnly
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// transact sends method on contract and waits for a successful receipt
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) error {
	return c.send(ctx, method, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return contract.Transact(opts, method, args...)
	})
}

// transactValue is transact for payable methods
func (c *Client) transactValue(ctx context.Context, contract *bind.BoundContract, value *big.Int, method string, args ...interface{}) error {
	return c.send(ctx, method, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		opts.Value = value
		return contract.Transact(opts, method, args...)
	})
}

// transfer sends native value to contract's address
func (c *Client) transfer(ctx context.Context, contract *bind.BoundContract, value *big.Int) error {
	return c.send(ctx, "transfer", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		opts.Value = value
		opts.GasLimit = nativeTransferGas
		return contract.Transfer(opts)
	})
}

func (c *Client) send(ctx context.Context, label string, submit func(opts *bind.TransactOpts) (*types.Transaction, error)) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := c.transactOpts(ctx)
	if err != nil {
		return err
	}

	tx, err := submit(opts)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", label, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return fmt.Errorf("failed to wait for %s (%s): %w", label, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s (%s): %w", label, tx.Hash().Hex(), ErrTxReverted)
	}

	c.logger.WithFields(map[string]interface{}{
		"method":   label,
		"tx":       tx.Hash().Hex(),
		"block":    receipt.BlockNumber,
		"gas_used": receipt.GasUsed,
	}).Info("Transaction mined")
	return nil
}
