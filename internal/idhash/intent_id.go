package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ComputeIntentID computes a deterministic intent_id for a strategy slot using SHA256.
// Formula: SHA256(strategy_id|wallet_id|slot)
// Returns hex-encoded hash (64 characters).
//
// A slot numbers one firing of the strategy (the DCA execution index, 0 for
// one-shot strategies). Replaying a slot after a crash yields the same ID and
// is rejected by the trade log.
func ComputeIntentID(
	strategyID string,
	walletID string,
	slot int64,
) string {
	data := fmt.Sprintf("%s|%s|%d",
		strategyID,
		walletID,
		slot,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeDecisionIntentID computes a deterministic intent_id for one entry of a decision batch.
// Formula: SHA256(batch_id|wallet_id|index|token|action)
func ComputeDecisionIntentID(
	batchID string,
	walletID string,
	index int,
	token string,
	action string,
) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%s",
		batchID,
		walletID,
		index,
		token,
		action,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// NewIntentID returns a random intent_id for ad-hoc requests.
func NewIntentID() string {
	return uuid.NewString()
}
