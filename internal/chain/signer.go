package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNilKey is returned when a signer is created without a key.
var ErrNilKey = errors.New("private key is required")

// TxRequest describes an unsigned legacy transaction.
type TxRequest struct {
	Nonce    uint64
	To       common.Address
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
	Data     []byte
}

// Signer signs EIP-155 transactions for one key on one chain.
// The key never leaves the signer.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewSigner creates a signer for chainID.
func NewSigner(key *ecdsa.PrivateKey, chainID *big.Int) (*Signer, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.NewEIP155Signer(chainID),
	}, nil
}

// Address returns the sender address of the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs req and returns the raw encoded transaction and its hash.
func (s *Signer) Sign(req TxRequest) ([]byte, string, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		Gas:      req.Gas,
		To:       &to,
		Value:    value,
		Data:     req.Data,
	})

	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, "", fmt.Errorf("sign tx: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("encode tx: %w", err)
	}
	return raw, signed.Hash().Hex(), nil
}
