package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/radieske/betting-house/internal/bet"
	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/shared/db"
)

const BetsName = "bet-wallet-market"

// Bets mantém a tabela bet_wallet_market a partir dos eventos de aposta.
// Roda exactly-once: as escritas e o offset vão na mesma transação.
type Bets struct {
	DB      *sql.DB
	Dialect db.Dialect
	decoder bet.Behavior
}

func NewBets(sqlDB *sql.DB, dialect db.Dialect) *Bets {
	return &Bets{DB: sqlDB, Dialect: dialect}
}

func (b *Bets) Name() string { return BetsName }

func (b *Bets) ApplyTx(ctx context.Context, tx *sql.Tx, r journal.Record) error {
	if r.EntityType != bet.TypeKey {
		return nil
	}
	evt, err := b.decoder.DecodeEvent(r.EventType, r.Payload)
	if err != nil {
		return err
	}
	now := r.Timestamp.UnixMilli()

	switch e := evt.(type) {
	case bet.Opened:
		const q = `
			INSERT INTO bet_wallet_market
			  (bet_id, wallet_id, market_id, odds, stake, result, status, updated_at)
			VALUES
			  ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (bet_id) DO UPDATE SET
			  wallet_id  = EXCLUDED.wallet_id,
			  market_id  = EXCLUDED.market_id,
			  odds       = EXCLUDED.odds,
			  stake      = EXCLUDED.stake,
			  result     = EXCLUDED.result,
			  status     = EXCLUDED.status,
			  updated_at = EXCLUDED.updated_at
		`
		_, err = tx.ExecContext(ctx, b.Dialect.Rebind(q),
			e.BetID, e.WalletID, e.MarketID, e.Odds, e.Stake, e.Result, string(bet.PhaseOpen), now)
	case bet.ValidationsPassed:
		err = b.setStatus(ctx, tx, e.BetID, "validated", now)
	case bet.SettlementStarted:
		err = b.setStatus(ctx, tx, e.BetID, "settling", now)
	case bet.Closed:
		err = b.setStatus(ctx, tx, e.BetID, string(bet.PhaseClosed), now)
	case bet.Failed:
		err = b.setStatus(ctx, tx, e.BetID, string(bet.PhaseFailed), now)
	}
	return err
}

func (b *Bets) setStatus(ctx context.Context, tx *sql.Tx, betID, status string, at int64) error {
	_, err := tx.ExecContext(ctx, b.Dialect.Rebind(
		`UPDATE bet_wallet_market SET status = $1, updated_at = $2 WHERE bet_id = $3`),
		status, at, betID)
	return err
}

// ResultStake é quanto a casa paga se o mercado terminar com Result
type ResultStake struct {
	Result int     `json:"result"`
	Total  float64 `json:"total"`
}

// StakePerResult soma odds*stake das apostas do mercado, por resultado
func (b *Bets) StakePerResult(ctx context.Context, marketID string) ([]ResultStake, error) {
	const q = `
		SELECT result, SUM(odds * stake)
		FROM bet_wallet_market
		WHERE market_id = $1
		GROUP BY result
		ORDER BY result
	`
	rows, err := b.DB.QueryContext(ctx, b.Dialect.Rebind(q), marketID)
	if err != nil {
		return nil, fmt.Errorf("stake per result: %w", err)
	}
	defer rows.Close()

	out := []ResultStake{}
	for rows.Next() {
		var rs ResultStake
		if err := rows.Scan(&rs.Result, &rs.Total); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// BetRow é a linha da tabela, usada pela API e pelos testes
type BetRow struct {
	BetID     string    `json:"betId"`
	WalletID  string    `json:"walletId"`
	MarketID  string    `json:"marketId"`
	Odds      float64   `json:"odds"`
	Stake     int64     `json:"stake"`
	Result    int       `json:"result"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *Bets) Get(ctx context.Context, betID string) (BetRow, error) {
	const q = `
		SELECT bet_id, wallet_id, market_id, odds, stake, result, status, updated_at
		FROM bet_wallet_market WHERE bet_id = $1
	`
	var (
		row BetRow
		at  int64
	)
	err := b.DB.QueryRowContext(ctx, b.Dialect.Rebind(q), betID).
		Scan(&row.BetID, &row.WalletID, &row.MarketID, &row.Odds, &row.Stake, &row.Result, &row.Status, &at)
	if err != nil {
		return BetRow{}, err
	}
	row.UpdatedAt = time.UnixMilli(at).UTC()
	return row, nil
}
