package testutil

import (
	"fmt"
	"testing"

	"github.com/0xmhha/selector-scan/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TargetContract is the contract address used by fixtures
const TargetContract = "0xCCcCcC0000000000000000000000000000000001"

// TargetSelector is the method selector used by fixtures
const TargetSelector = "0x8f37ec19"

// OtherContract is an address that never matches the fixture target
const OtherContract = "0x000000000000000000000000000000000000dEaD"

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

// TxHash builds a deterministic transaction hash from a block number and
// the transaction's position in the block
func TxHash(block uint64, index int) string {
	return fmt.Sprintf("0x%032x%032x", block, index)
}

// NewTransaction creates a well-formed RPC transaction.
// An empty to produces a contract creation.
func NewTransaction(block uint64, index int, to, input string) types.Transaction {
	tx := types.Transaction{
		Hash:        TxHash(block, index),
		BlockNumber: hexutil.EncodeUint64(block),
		From:        "0x1111111111111111111111111111111111111111",
		Value:       "0xde0b6b3a7640000",
		GasPrice:    "0x3b9aca00",
		Gas:         "0x5208",
		Nonce:       hexutil.EncodeUint64(uint64(index)),
		Input:       input,
	}
	if to != "" {
		recipient := to
		tx.To = &recipient
	}
	return tx
}

// MatchingTransaction creates a transaction that calls the fixture target
func MatchingTransaction(block uint64, index int) types.Transaction {
	return NewTransaction(block, index, TargetContract, TargetSelector+"000000000000000000000000000000000000000000000000000000000000002a")
}

// NonMatchingTransaction creates a plain transfer to an unrelated address
func NonMatchingTransaction(block uint64, index int) types.Transaction {
	return NewTransaction(block, index, OtherContract, "0x")
}

// NewTestBlock creates a block holding the given transactions
func NewTestBlock(number uint64, txs ...types.Transaction) *types.Block {
	return &types.Block{
		Number:       number,
		Hash:         fmt.Sprintf("0x%064x", number),
		Transactions: txs,
	}
}
