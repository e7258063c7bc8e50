package storage

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/0xmhha/selector-scan/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// storedMatch is the RLP layout of a persisted match.
// RLP has no signed integers and no nil big.Int, hence the index and flag fields.
type storedMatch struct {
	TxHash      string
	BlockNumber uint64
	TxIndex     uint64
	From        string
	To          string
	Value       *big.Int
	HasGasPrice bool
	GasPrice    *big.Int
	Gas         uint64
	Nonce       uint64
	InputData   []byte
}

// storedTarget is the RLP layout of the bound match target
type storedTarget struct {
	Contract []byte
	Selector []byte
}

// EncodeMatch encodes a match using RLP
func EncodeMatch(match *types.TransactionSummary) ([]byte, error) {
	if match == nil {
		return nil, fmt.Errorf("match cannot be nil")
	}
	if match.TxIndex < 0 {
		return nil, fmt.Errorf("match %s has negative index %d", match.TxHash, match.TxIndex)
	}

	stored := storedMatch{
		TxHash:      match.TxHash,
		BlockNumber: match.BlockNumber,
		TxIndex:     uint64(match.TxIndex),
		From:        match.From,
		To:          match.To,
		Value:       orZero(match.Value),
		HasGasPrice: match.GasPrice != nil,
		GasPrice:    orZero(match.GasPrice),
		Gas:         match.Gas,
		Nonce:       match.Nonce,
		InputData:   match.InputData,
	}

	var buf bytes.Buffer
	if err := rlp.Encode(&buf, &stored); err != nil {
		return nil, fmt.Errorf("failed to encode match: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeMatch decodes a match from RLP
func DecodeMatch(data []byte) (*types.TransactionSummary, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}

	var stored storedMatch
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode match: %w", err)
	}

	match := &types.TransactionSummary{
		TxHash:      stored.TxHash,
		BlockNumber: stored.BlockNumber,
		TxIndex:     int(stored.TxIndex),
		From:        stored.From,
		To:          stored.To,
		Value:       stored.Value,
		Gas:         stored.Gas,
		Nonce:       stored.Nonce,
		InputData:   stored.InputData,
	}
	if stored.HasGasPrice {
		match.GasPrice = stored.GasPrice
	}

	return match, nil
}

// EncodeTarget encodes a match target using RLP
func EncodeTarget(target types.MatchTarget) ([]byte, error) {
	data, err := rlp.EncodeToBytes(&storedTarget{
		Contract: target.Contract.Bytes(),
		Selector: target.Selector[:],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode target: %w", err)
	}
	return data, nil
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}
