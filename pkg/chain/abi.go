package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// senderABI covers the source-chain sender/escrow contract surface used by the service.
const senderABI = `[
  {"type":"function","name":"transferTokensPayLINK","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_destinationChainSelector","type":"uint64"},
     {"name":"_receiver","type":"address"},
     {"name":"_amount","type":"uint256"},
     {"name":"_seller","type":"address"}],
   "outputs":[{"name":"messageId","type":"bytes32"}]},
  {"type":"function","name":"withdrawUsdcToken","stateMutability":"nonpayable",
   "inputs":[{"name":"_beneficiary","type":"address"}],
   "outputs":[]},
  {"type":"event","name":"TokensTransferred","anonymous":false,
   "inputs":[
     {"name":"messageId","type":"bytes32","indexed":true},
     {"name":"destinationChainSelector","type":"uint64","indexed":true},
     {"name":"receiver","type":"address","indexed":false},
     {"name":"token","type":"address","indexed":false},
     {"name":"tokenAmount","type":"uint256","indexed":false},
     {"name":"feeToken","type":"address","indexed":false},
     {"name":"fees","type":"uint256","indexed":false}]}
]`

// offRampABI is the destination-chain execution state reader.
const offRampABI = `[
  {"type":"function","name":"getExecutionState","stateMutability":"view",
   "inputs":[{"name":"messageId","type":"bytes32"}],
   "outputs":[{"name":"","type":"uint8"}]}
]`

const (
	methodTransferTokensPayLINK = "transferTokensPayLINK"
	methodWithdrawUsdcToken     = "withdrawUsdcToken"
	methodGetExecutionState     = "getExecutionState"
	eventTokensTransferred      = "TokensTransferred"
)

var (
	parsedSenderABI  = mustParseABI(senderABI)
	parsedOffRampABI = mustParseABI(offRampABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
