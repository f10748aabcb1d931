package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt status values.
const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// CallMsg describes a contract call or a transaction to estimate.
type CallMsg struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int // nil = 0
	Gas   uint64   // 0 = let the node decide
}

// Receipt is the confirmed outcome of a transaction.
type Receipt struct {
	TxHash            string
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	BlockNumber       uint64
	Logs              []Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccessful
}

// Log is an event emitted by a transaction.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}
