// Package credentials resolves wallet signing keys. Key material is never
// logged or persisted by this module.
package credentials

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoCredentials is returned when a wallet has no usable key.
var ErrNoCredentials = errors.New("no credentials for wallet")

// Store provides signing keys per wallet.
type Store interface {
	// HasCredentials reports whether a key is available for walletID.
	HasCredentials(walletID string) bool

	// Credentials returns the key for walletID or ErrNoCredentials.
	Credentials(walletID string) (*ecdsa.PrivateKey, error)
}

// EnvStore reads keys from WALLET_<ID>_PRIVATE_KEY environment variables.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore creates an env-backed store.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

// EnvKey returns the variable name holding walletID's key.
func EnvKey(walletID string) string {
	id := strings.ToUpper(walletID)
	id = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(id)
	return "WALLET_" + id + "_PRIVATE_KEY"
}

// HasCredentials reports whether the variable is set and parses.
func (s *EnvStore) HasCredentials(walletID string) bool {
	_, err := s.Credentials(walletID)
	return err == nil
}

// Credentials parses the hex key from the environment.
func (s *EnvStore) Credentials(walletID string) (*ecdsa.PrivateKey, error) {
	raw, ok := s.lookup(EnvKey(walletID))
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, walletID)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		// Do not wrap err: it may echo key material.
		return nil, fmt.Errorf("%w: %s: malformed key", ErrNoCredentials, walletID)
	}
	return key, nil
}

// MemoryStore holds keys in memory (tests and embedded use).
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*ecdsa.PrivateKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*ecdsa.PrivateKey)}
}

// Set stores key for walletID.
func (s *MemoryStore) Set(walletID string, key *ecdsa.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[walletID] = key
}

// HasCredentials reports whether a key is stored.
func (s *MemoryStore) HasCredentials(walletID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[walletID]
	return ok
}

// Credentials returns the stored key.
func (s *MemoryStore) Credentials(walletID string) (*ecdsa.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, walletID)
	}
	return key, nil
}

// Compile-time interface checks
var (
	_ Store = (*EnvStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
