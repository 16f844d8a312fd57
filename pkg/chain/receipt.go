package chain

import (
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

var (
	ErrMessageIDNotFound   = errors.New("delivery message id not found in receipt")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidAmount       = errors.New("invalid amount")
)

var messageIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsMessageID reports whether id is a 0x-prefixed 32 byte hex string.
func IsMessageID(id string) bool {
	return messageIDPattern.MatchString(strings.TrimSpace(id))
}

// ExtractMessageID returns the delivery message id emitted by contract in receipt.
// A TokensTransferred log is preferred; otherwise the first contract log that
// carries an indexed topic after the signature is used.
func ExtractMessageID(receipt *types.Receipt, contract common.Address) (string, error) {
	if receipt == nil {
		return "", ErrMessageIDNotFound
	}
	eventID := parsedSenderABI.Events[eventTokensTransferred].ID

	var fallback *types.Log
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != contract || len(lg.Topics) < 2 {
			continue
		}
		if lg.Topics[0] == eventID {
			return lg.Topics[1].Hex(), nil
		}
		if fallback == nil {
			fallback = lg
		}
	}
	if fallback != nil {
		return fallback.Topics[1].Hex(), nil
	}
	return "", ErrMessageIDNotFound
}

// ParseAddress validates and normalises a hex wallet or contract address.
func ParseAddress(raw string) (common.Address, error) {
	clean := strings.TrimSpace(raw)
	if !common.IsHexAddress(clean) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(clean), nil
}

// ToBaseUnits converts a whole-unit amount into token base units, rounding down.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	units := amount.Shift(decimals).Truncate(0)
	if !units.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return units.BigInt(), nil
}
