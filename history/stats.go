package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"educhain/chain"
)

// Flow sums token movement over a window.
type Flow struct {
	Sent     float64 `json:"sent"`
	Received float64 `json:"received"`
}

// WalletBalance is the stats view of the account's holdings. Locked funds
// sit in the escrow contract, not the wallet, so Locked is always zero.
type WalletBalance struct {
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
	Total     float64 `json:"total"`
	Address   string  `json:"address"`
	KYCStatus string  `json:"kycStatus"`
}

// AllTimeStats aggregates the account's full activity within the scanned
// window.
type AllTimeStats struct {
	Transactions int     `json:"transactions"`
	Sent         float64 `json:"sent"`
	Received     float64 `json:"received"`
	Fees         float64 `json:"fees"`
}

// StatsReport is the wallet statistics document.
type StatsReport struct {
	Wallet  WalletBalance `json:"wallet"`
	Today   Flow          `json:"today"`
	Monthly Flow          `json:"monthly"`
	AllTime AllTimeStats  `json:"allTime"`
}

// Stats computes spending statistics over the account's recent feed.
// Virtual entries are excluded, and each entry counts exactly once: as sent
// when the account is the source, otherwise as received.
func (p *Projector) Stats(ctx context.Context, userID string, account common.Address) (*StatsReport, error) {
	key := "stats:" + userID
	if cached, ok, err := p.store.Get(ctx, key); err == nil && ok {
		p.metrics.ObserveCacheLookup("stats", true)
		report := &StatsReport{}
		if err := json.Unmarshal(cached, report); err == nil {
			return report, nil
		}
	}
	p.metrics.ObserveCacheLookup("stats", false)

	balance, err := p.chain.BalanceOf(ctx, account)
	if err != nil {
		return nil, err
	}
	available := chain.FromWei(balance)

	records, err := p.History(ctx, account, p.cfg.DefaultLimit, false)
	if err != nil {
		return nil, err
	}

	report := &StatsReport{
		Wallet: WalletBalance{
			Available: available,
			Total:     available,
			Address:   account.Hex(),
			KYCStatus: "verified",
		},
	}

	now := p.now()
	addressHex := account.Hex()
	for _, record := range records {
		if record.Virtual() {
			continue
		}
		switch {
		case record.FromID == addressHex:
			report.AllTime.Transactions++
			report.AllTime.Sent += record.Amount
			if sameDay(record.CreatedAt, now) {
				report.Today.Sent += record.Amount
			}
			if sameMonth(record.CreatedAt, now) {
				report.Monthly.Sent += record.Amount
			}
		case record.ToID == addressHex:
			report.AllTime.Transactions++
			report.AllTime.Received += record.Amount
			if sameDay(record.CreatedAt, now) {
				report.Today.Received += record.Amount
			}
			if sameMonth(record.CreatedAt, now) {
				report.Monthly.Received += record.Amount
			}
		}
		report.AllTime.Fees += record.Fee
	}

	if payload, err := json.Marshal(report); err == nil {
		if err := p.store.Put(ctx, key, payload, p.cfg.StatsTTL); err != nil {
			p.log.Warn("could not cache stats", "err", err)
		}
	}
	return report, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return ay == by && am == bm
}
