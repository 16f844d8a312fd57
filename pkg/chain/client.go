/**
 * @description
 * This package is the service's client for the source and destination EVM chains.
 * It submits the delivery transfer and refund calls to the source-chain sender
 * contract, waits for their receipts, and reads the execution state of a
 * cross-chain message from the destination-chain off-ramp.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: ABI binding, RPC client, transaction signing.
 * - github.com/shopspring/decimal: Amount conversion to token base units.
 */

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// ReceiptReader is the subset of an RPC client used to wait for receipts.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// SourceBackend is everything the client needs from the source chain.
type SourceBackend interface {
	bind.ContractBackend
	ReceiptReader
}

// Options configures a Client.
type Options struct {
	SenderAddress            string
	OffRampAddress           string
	DestinationEscrowAddress string
	DestinationChainSelector uint64
	SourceChainID            int64
	SignerPrivateKey         string
	TokenDecimals            int32
	ReceiptPollInterval      time.Duration
}

// DeliveryTransfer describes the cross-chain transfer that delivers an escrowed payment.
type DeliveryTransfer struct {
	Amount decimal.Decimal
	Seller string
}

// Client talks to the sender contract on the source chain and the off-ramp on the destination chain.
type Client struct {
	source        SourceBackend
	sender        *bind.BoundContract
	offRamp       *bind.BoundContract
	senderAddress common.Address
	receiver      common.Address
	selector      uint64
	key           *ecdsa.PrivateKey
	chainID       *big.Int
	decimals      int32
	pollInterval  time.Duration
}

// Dial connects to both RPC endpoints and builds a Client.
func Dial(ctx context.Context, sourceRPC, destinationRPC string, opts Options) (*Client, error) {
	source, err := ethclient.DialContext(ctx, sourceRPC)
	if err != nil {
		return nil, fmt.Errorf("dial source rpc: %w", err)
	}
	destination, err := ethclient.DialContext(ctx, destinationRPC)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("dial destination rpc: %w", err)
	}
	if opts.SourceChainID <= 0 {
		id, idErr := source.ChainID(ctx)
		if idErr != nil {
			source.Close()
			destination.Close()
			return nil, fmt.Errorf("resolve source chain id: %w", idErr)
		}
		opts.SourceChainID = id.Int64()
	}
	return NewClient(source, destination, opts)
}

// NewClient builds a Client over already-connected backends.
func NewClient(source SourceBackend, destination bind.ContractCaller, opts Options) (*Client, error) {
	senderAddress, err := ParseAddress(opts.SenderAddress)
	if err != nil {
		return nil, fmt.Errorf("sender contract address: %w", err)
	}
	offRampAddress, err := ParseAddress(opts.OffRampAddress)
	if err != nil {
		return nil, fmt.Errorf("offramp contract address: %w", err)
	}
	receiver, err := ParseAddress(opts.DestinationEscrowAddress)
	if err != nil {
		return nil, fmt.Errorf("destination escrow address: %w", err)
	}

	var key *ecdsa.PrivateKey
	if raw := strings.TrimPrefix(strings.TrimSpace(opts.SignerPrivateKey), "0x"); raw != "" {
		key, err = crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("signer private key: %w", err)
		}
	}

	pollInterval := opts.ReceiptPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	decimals := opts.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}

	return &Client{
		source:        source,
		sender:        bind.NewBoundContract(senderAddress, parsedSenderABI, source, source, source),
		offRamp:       bind.NewBoundContract(offRampAddress, parsedOffRampABI, destination, nil, nil),
		senderAddress: senderAddress,
		receiver:      receiver,
		selector:      opts.DestinationChainSelector,
		key:           key,
		chainID:       big.NewInt(opts.SourceChainID),
		decimals:      decimals,
		pollInterval:  pollInterval,
	}, nil
}

// SenderAddress is the source-chain contract whose logs carry the message id.
func (c *Client) SenderAddress() common.Address {
	return c.senderAddress
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, errors.New("signer private key not configured")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// SubmitDeliveryTransfer calls transferTokensPayLINK and returns the transaction hash.
func (c *Client) SubmitDeliveryTransfer(ctx context.Context, transfer DeliveryTransfer) (string, error) {
	seller, err := ParseAddress(transfer.Seller)
	if err != nil {
		return "", fmt.Errorf("seller: %w", err)
	}
	units, err := ToBaseUnits(transfer.Amount, c.decimals)
	if err != nil {
		return "", err
	}
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := c.sender.Transact(opts, methodTransferTokensPayLINK, c.selector, c.receiver, units, seller)
	if err != nil {
		return "", fmt.Errorf("%s: %w", methodTransferTokensPayLINK, err)
	}
	return tx.Hash().Hex(), nil
}

// SubmitRefund calls withdrawUsdcToken for beneficiary and returns the transaction hash.
func (c *Client) SubmitRefund(ctx context.Context, beneficiary string) (string, error) {
	to, err := ParseAddress(beneficiary)
	if err != nil {
		return "", fmt.Errorf("beneficiary: %w", err)
	}
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := c.sender.Transact(opts, methodWithdrawUsdcToken, to)
	if err != nil {
		return "", fmt.Errorf("%s: %w", methodWithdrawUsdcToken, err)
	}
	return tx.Hash().Hex(), nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
// A mined but reverted transaction returns ErrTransactionReverted with the receipt.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.source.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, ErrTransactionReverted
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("transaction receipt %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// MessageID extracts the delivery message id from a receipt of the sender contract.
func (c *Client) MessageID(receipt *types.Receipt) (string, error) {
	return ExtractMessageID(receipt, c.senderAddress)
}

// ReadExecutionState returns the off-ramp execution state code for messageID.
func (c *Client) ReadExecutionState(ctx context.Context, messageID string) (uint8, error) {
	if !IsMessageID(messageID) {
		return 0, fmt.Errorf("malformed message id %q", messageID)
	}
	var out []interface{}
	err := c.offRamp.Call(&bind.CallOpts{Context: ctx}, &out, methodGetExecutionState, [32]byte(common.HexToHash(messageID)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", methodGetExecutionState, err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%s: empty result", methodGetExecutionState)
	}
	state := *abi.ConvertType(out[0], new(uint8)).(*uint8)
	return state, nil
}
