package idhash

import (
	"testing"
)

func TestComputeIntentID(t *testing.T) {
	tests := []struct {
		name       string
		strategyID string
		walletID   string
		slot       int64
		wantLen    int // hash length should be 64
	}{
		{
			name:       "dca slot",
			strategyID: "dca-weth-daily",
			walletID:   "main",
			slot:       1704067200,
			wantLen:    64,
		},
		{
			name:       "stop loss slot",
			strategyID: "sl-weth",
			walletID:   "treasury",
			slot:       1704067300,
			wantLen:    64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeIntentID(tt.strategyID, tt.walletID, tt.slot)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeIntentID() length = %d, want %d", len(got), tt.wantLen)
			}

			got2 := ComputeIntentID(tt.strategyID, tt.walletID, tt.slot)
			if got != got2 {
				t.Errorf("ComputeIntentID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeIntentID_DifferentInputs(t *testing.T) {
	base := ComputeIntentID("strategy", "wallet", 1000)

	if base == ComputeIntentID("other_strategy", "wallet", 1000) {
		t.Error("Different strategy should produce different hash")
	}
	if base == ComputeIntentID("strategy", "other_wallet", 1000) {
		t.Error("Different wallet should produce different hash")
	}
	if base == ComputeIntentID("strategy", "wallet", 2000) {
		t.Error("Different slot should produce different hash")
	}
}

func TestComputeDecisionIntentID(t *testing.T) {
	a := ComputeDecisionIntentID("batch1", "main", 0, "WETH", "buy")
	b := ComputeDecisionIntentID("batch1", "main", 1, "WETH", "buy")
	if len(a) != 64 {
		t.Errorf("length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("Different index should produce different hash")
	}
	if a != ComputeDecisionIntentID("batch1", "main", 0, "WETH", "buy") {
		t.Error("ComputeDecisionIntentID() not deterministic")
	}
}

func TestNewIntentID_Unique(t *testing.T) {
	if NewIntentID() == NewIntentID() {
		t.Error("NewIntentID should be random")
	}
}
