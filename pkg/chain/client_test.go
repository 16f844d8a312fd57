package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSender  = "0x00000000000000000000000000000000000000aa"
	testOffRamp = "0x0477cA0a35eE05D3f9f424d88bC0977ceCf339D4"
	testEscrow  = "0x00000000000000000000000000000000000000bb"
)

type offRampCallerStub struct {
	state uint8
	err   error
	calls int
}

func (s *offRampCallerStub) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (s *offRampCallerStub) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return parsedOffRampABI.Methods[methodGetExecutionState].Outputs.Pack(s.state)
}

func newTestClient(t *testing.T, caller *offRampCallerStub) *Client {
	t.Helper()
	client, err := NewClient(nil, caller, Options{
		SenderAddress:            testSender,
		OffRampAddress:           testOffRamp,
		DestinationEscrowAddress: testEscrow,
		DestinationChainSelector: 14767482510784806043,
		SourceChainID:            11155111,
	})
	require.NoError(t, err)
	return client
}

func TestReadExecutionState_DecodesOffRampResult(t *testing.T) {
	caller := &offRampCallerStub{state: 2}
	client := newTestClient(t, caller)

	state, err := client.ReadExecutionState(context.Background(), "0x"+strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), state)
	assert.Equal(t, 1, caller.calls)
}

func TestReadExecutionState_RejectsMalformedID(t *testing.T) {
	caller := &offRampCallerStub{}
	client := newTestClient(t, caller)

	_, err := client.ReadExecutionState(context.Background(), "0x1234")
	require.Error(t, err)
	assert.Zero(t, caller.calls)
}

func TestReadExecutionState_PropagatesRPCError(t *testing.T) {
	caller := &offRampCallerStub{err: errors.New("rpc down")}
	client := newTestClient(t, caller)

	_, err := client.ReadExecutionState(context.Background(), "0x"+strings.Repeat("cd", 32))
	require.Error(t, err)
}

func TestNewClient_RejectsBadEscrowAddress(t *testing.T) {
	_, err := NewClient(nil, &offRampCallerStub{}, Options{
		SenderAddress:            testSender,
		OffRampAddress:           testOffRamp,
		DestinationEscrowAddress: "not-an-address",
	})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestExtractMessageID_PrefersTokensTransferredEvent(t *testing.T) {
	sender := common.HexToAddress(testSender)
	messageID := common.HexToHash("0x" + strings.Repeat("11", 32))
	other := common.HexToHash("0x" + strings.Repeat("22", 32))
	eventID := parsedSenderABI.Events[eventTokensTransferred].ID

	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: common.HexToAddress(testEscrow), Topics: []common.Hash{eventID, other}},
		{Address: sender, Topics: []common.Hash{common.HexToHash("0x01"), other}},
		{Address: sender, Topics: []common.Hash{eventID, messageID}},
	}}

	id, err := ExtractMessageID(receipt, sender)
	require.NoError(t, err)
	assert.Equal(t, messageID.Hex(), id)
}

func TestExtractMessageID_FallsBackToAnyIndexedContractLog(t *testing.T) {
	sender := common.HexToAddress(testSender)
	messageID := common.HexToHash("0x" + strings.Repeat("33", 32))

	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: sender, Topics: []common.Hash{common.HexToHash("0x01")}},
		{Address: sender, Topics: []common.Hash{common.HexToHash("0x02"), messageID}},
	}}

	id, err := ExtractMessageID(receipt, sender)
	require.NoError(t, err)
	assert.Equal(t, messageID.Hex(), id)
}

func TestExtractMessageID_NotFound(t *testing.T) {
	sender := common.HexToAddress(testSender)
	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: common.HexToAddress(testEscrow), Topics: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}},
	}}

	_, err := ExtractMessageID(receipt, sender)
	assert.ErrorIs(t, err, ErrMessageIDNotFound)

	_, err = ExtractMessageID(nil, sender)
	assert.ErrorIs(t, err, ErrMessageIDNotFound)
}

func TestToBaseUnits_FloorsToTokenDecimals(t *testing.T) {
	units, err := ToBaseUnits(decimal.RequireFromString("12.3456789"), 6)
	require.NoError(t, err)
	assert.Equal(t, "12345678", units.String())

	_, err = ToBaseUnits(decimal.RequireFromString("0.0000001"), 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ToBaseUnits(decimal.Zero, 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestIsMessageID(t *testing.T) {
	assert.True(t, IsMessageID("0x"+strings.Repeat("aF", 32)))
	assert.False(t, IsMessageID(strings.Repeat("af", 32)))
	assert.False(t, IsMessageID("0x"+strings.Repeat("zz", 32)))
	assert.False(t, IsMessageID(""))
}
