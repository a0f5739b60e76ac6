package processors

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// InsufficientBalanceError reports a leg that would push a wallet/asset
// balance below zero. It carries enough context for the operator to add a
// seed correction and re-run.
type InsufficientBalanceError struct {
	WalletID  string
	AssetID   string
	Origin    models.EventOrigin
	Attempted decimal.Decimal
	Available decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf(
		"insufficient balance for asset=%s wallet=%s origin=%s attempted=%s available=%s shortfall=%s",
		e.AssetID, e.WalletID, e.Origin, e.Attempted, e.Available, e.Shortfall)
}

type balanceKey struct {
	walletID string
	assetID  string
}

// WalletBalanceTracker keeps running per-wallet, per-asset balances during an
// inventory scan and enforces the non-negative invariant. Absent entries are
// treated as zero. A tracker belongs to a single run and is not safe for
// concurrent use.
type WalletBalanceTracker struct {
	balances map[balanceKey]decimal.Decimal
}

func NewWalletBalanceTracker() *WalletBalanceTracker {
	return &WalletBalanceTracker{balances: make(map[balanceKey]decimal.Decimal)}
}

// Apply adds quantity to the wallet/asset balance, failing if the post-update
// balance would be negative. The balance is left untouched on failure.
func (t *WalletBalanceTracker) Apply(walletID, assetID string, quantity decimal.Decimal, origin models.EventOrigin) error {
	key := balanceKey{walletID: walletID, assetID: assetID}
	current := t.balances[key]
	updated := current.Add(quantity)
	if updated.IsNegative() {
		return &InsufficientBalanceError{
			WalletID:  walletID,
			AssetID:   assetID,
			Origin:    origin,
			Attempted: quantity,
			Available: current,
			Shortfall: updated.Neg(),
		}
	}
	t.balances[key] = updated
	return nil
}

// Balance returns the current balance for a wallet/asset pair.
func (t *WalletBalanceTracker) Balance(walletID, assetID string) decimal.Decimal {
	return t.balances[balanceKey{walletID: walletID, assetID: assetID}]
}

// Snapshot returns all non-zero balances sorted by wallet then asset, the
// shape persisted and served to reporting.
func (t *WalletBalanceTracker) Snapshot() []models.WalletBalance {
	snapshot := make([]models.WalletBalance, 0, len(t.balances))
	for key, quantity := range t.balances {
		if quantity.IsZero() {
			continue
		}
		snapshot = append(snapshot, models.WalletBalance{
			WalletID: key.walletID,
			AssetID:  key.assetID,
			Quantity: quantity,
		})
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].WalletID != snapshot[j].WalletID {
			return snapshot[i].WalletID < snapshot[j].WalletID
		}
		return snapshot[i].AssetID < snapshot[j].AssetID
	})
	return snapshot
}

// AssetTotals sums balances per asset, optionally limited to a wallet set.
// A nil wallet set includes every wallet.
func (t *WalletBalanceTracker) AssetTotals(wallets map[string]struct{}) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for key, quantity := range t.balances {
		if wallets != nil {
			if _, ok := wallets[key.walletID]; !ok {
				continue
			}
		}
		totals[key.assetID] = totals[key.assetID].Add(quantity)
	}
	return totals
}
