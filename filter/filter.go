// Package filter decides which transactions call the target contract method
// and converts them into report summaries.
package filter

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/0xmhha/selector-scan/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// selectorHexLength is the number of hex digits a selector occupies in the input
const selectorHexLength = types.SelectorLength * 2

// DecodeError reports a transaction field that could not be decoded.
// Only the carrying transaction is skipped.
type DecodeError struct {
	TxHash string
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("transaction %s: cannot decode %s: %v", e.TxHash, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ParseTarget validates a contract address and a 0x-prefixed 4-byte selector
func ParseTarget(address, selectorHex string) (types.MatchTarget, error) {
	var target types.MatchTarget

	if !common.IsHexAddress(address) {
		return target, &types.ConfigError{Field: "contract address", Reason: fmt.Sprintf("%q is not a hex address", address)}
	}

	selector, err := hexutil.Decode(selectorHex)
	if err != nil {
		return target, &types.ConfigError{Field: "method selector", Reason: fmt.Sprintf("%q: %v", selectorHex, err)}
	}
	if len(selector) != types.SelectorLength {
		return target, &types.ConfigError{
			Field:  "method selector",
			Reason: fmt.Sprintf("%q is %d bytes, want %d", selectorHex, len(selector), types.SelectorLength),
		}
	}

	target.Contract = common.HexToAddress(address)
	copy(target.Selector[:], selector)
	return target, nil
}

// Matches reports whether tx is sent to the target contract and its input
// starts with the target selector. Undecodable input never matches.
func Matches(tx *types.Transaction, target types.MatchTarget) bool {
	ok, err := Match(tx, target)
	return ok && err == nil
}

// Match is Matches with decode failures surfaced. A *DecodeError is only
// returned for transactions addressed to the target contract.
func Match(tx *types.Transaction, target types.MatchTarget) (bool, error) {
	if tx.IsContractCreation() || !common.IsHexAddress(*tx.To) {
		return false, nil
	}
	if common.HexToAddress(*tx.To) != target.Contract {
		return false, nil
	}

	input := tx.Input
	if !has0xPrefix(input) {
		if input == "" {
			return false, nil
		}
		return false, &DecodeError{TxHash: tx.Hash, Field: "input", Err: hexutil.ErrMissingPrefix}
	}
	digits := input[2:]
	if len(digits) < selectorHexLength {
		return false, nil
	}

	var selector [types.SelectorLength]byte
	if _, err := hex.Decode(selector[:], []byte(digits[:selectorHexLength])); err != nil {
		return false, &DecodeError{TxHash: tx.Hash, Field: "input", Err: err}
	}
	return selector == target.Selector, nil
}

// Normalize converts a raw transaction at position index of its block into a
// summary. Quantities are decoded from hex and may carry leading zeros; the
// full input must be valid hex.
func Normalize(tx *types.Transaction, index int) (types.TransactionSummary, error) {
	summary := types.TransactionSummary{
		TxHash:  tx.Hash,
		TxIndex: index,
		From:    tx.From,
	}
	if tx.To != nil {
		summary.To = *tx.To
	}

	var err error
	if summary.BlockNumber, err = hexutil.DecodeUint64(trimQuantity(tx.BlockNumber)); err != nil {
		return summary, &DecodeError{TxHash: tx.Hash, Field: "blockNumber", Err: err}
	}
	if summary.Value, err = hexutil.DecodeBig(trimQuantity(tx.Value)); err != nil {
		return summary, &DecodeError{TxHash: tx.Hash, Field: "value", Err: err}
	}
	// gasPrice is absent on some typed transactions served by older nodes
	if tx.GasPrice != "" {
		if summary.GasPrice, err = hexutil.DecodeBig(trimQuantity(tx.GasPrice)); err != nil {
			return summary, &DecodeError{TxHash: tx.Hash, Field: "gasPrice", Err: err}
		}
	}
	if summary.Gas, err = hexutil.DecodeUint64(trimQuantity(tx.Gas)); err != nil {
		return summary, &DecodeError{TxHash: tx.Hash, Field: "gas", Err: err}
	}
	if summary.Nonce, err = hexutil.DecodeUint64(trimQuantity(tx.Nonce)); err != nil {
		return summary, &DecodeError{TxHash: tx.Hash, Field: "nonce", Err: err}
	}

	input, err := hexutil.Decode(tx.Input)
	if err != nil {
		return summary, &DecodeError{TxHash: tx.Hash, Field: "input", Err: err}
	}
	summary.InputData = input

	return summary, nil
}

// trimQuantity drops leading zero digits from a 0x-prefixed quantity, which
// some nodes emit ("0x01"). Anything else is returned unchanged so hexutil
// reports the error.
func trimQuantity(s string) string {
	if len(s) <= 2 || !has0xPrefix(s) {
		return s
	}
	digits := strings.TrimLeft(s[2:], "0")
	if digits == "" {
		return "0x0"
	}
	return "0x" + digits
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
