// backend/src/store/store.go
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
)

// Monetary amounts are persisted as decimal strings, never floats; SQLite
// REAL would silently round the satoshi-scale quantities exchanges report.

// InsertEvents writes a batch of normalized events. Duplicates (same user,
// provider and source_ref) are skipped, not errors: re-importing the same
// file must be a no-op. Returns how many rows were inserted and how many
// were already present.
func InsertEvents(db *sql.DB, events []models.TransactionEvent) (inserted, duplicates int, err error) {
	dbTx, err := db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.Prepare(`INSERT INTO transaction_events
		(user_id, provider, timestamp, kind, asset, amount, source_ref, remark, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("error preparing event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.Exec(
			ev.UserID, ev.Provider, ev.Timestamp.UTC().Format(time.RFC3339), string(ev.Kind),
			ev.Asset, ev.Amount.String(), ev.SourceRef, ev.Remark, ev.BatchID,
		)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
				logger.L.Debug("Skipping duplicate event on import", "userID", ev.UserID, "sourceRef", ev.SourceRef)
				duplicates++
				continue
			}
			return 0, 0, fmt.Errorf("error inserting event (sourceRef: %s): %w", ev.SourceRef, err)
		}
		inserted++
	}
	if err := dbTx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("error committing events: %w", err)
	}
	return inserted, duplicates, nil
}

// ListEvents returns the user's full event history in ascending timestamp
// order, the order the ledger rebuild requires.
func ListEvents(db *sql.DB, userID int64) ([]models.TransactionEvent, error) {
	rows, err := db.Query(`SELECT id, user_id, provider, timestamp, kind, asset, amount, source_ref, remark, batch_id
		FROM transaction_events WHERE user_id = ? ORDER BY timestamp ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %w", err)
	}
	defer rows.Close()

	var events []models.TransactionEvent
	for rows.Next() {
		var ev models.TransactionEvent
		var ts, amount string
		var remark, batchID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Provider, &ts, &ev.Kind, &ev.Asset, &amount, &ev.SourceRef, &remark, &batchID); err != nil {
			return nil, fmt.Errorf("error scanning event row: %w", err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("corrupt event timestamp %q: %w", ts, err)
		}
		if ev.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt event amount %q: %w", amount, err)
		}
		ev.Remark = remark.String
		ev.BatchID = batchID.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpsertTrades writes derived trades. Trade ids are deterministic, so a
// reprocess overwrites each trade in place instead of duplicating it.
func UpsertTrades(db *sql.DB, trades []models.Trade) error {
	dbTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.Prepare(`INSERT INTO trades
		(id, user_id, provider, kind, timestamp, asset, net_amount, counter_value_usd, unit_price_usd,
		 fee_amount, fee_asset, fee_usd, via_convert, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			net_amount = excluded.net_amount,
			counter_value_usd = excluded.counter_value_usd,
			unit_price_usd = excluded.unit_price_usd,
			fee_amount = excluded.fee_amount,
			fee_asset = excluded.fee_asset,
			fee_usd = excluded.fee_usd,
			via_convert = excluded.via_convert,
			batch_id = excluded.batch_id`)
	if err != nil {
		return fmt.Errorf("error preparing trade upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.Exec(
			t.ID, t.UserID, t.Provider, string(t.Kind), t.Timestamp.UTC().Format(time.RFC3339), t.Asset,
			t.NetAmount.String(), t.CounterValueUSD.String(), t.UnitPriceUSD.String(),
			t.FeeAmount.String(), t.FeeAsset, t.FeeUSD.String(), t.ViaConvert, t.BatchID,
		)
		if err != nil {
			return fmt.Errorf("error upserting trade %s: %w", t.ID, err)
		}
	}
	return dbTx.Commit()
}

// ListTrades returns the user's trades in ascending timestamp order.
func ListTrades(db *sql.DB, userID int64) ([]models.Trade, error) {
	rows, err := db.Query(`SELECT id, user_id, provider, kind, timestamp, asset, net_amount, counter_value_usd,
		unit_price_usd, fee_amount, fee_asset, fee_usd, via_convert, batch_id
		FROM trades WHERE user_id = ? ORDER BY timestamp ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(rows *sql.Rows) (models.Trade, error) {
	var t models.Trade
	var ts, net, counter, unit, feeAmt, feeUSD string
	var feeAsset, batchID sql.NullString
	err := rows.Scan(&t.ID, &t.UserID, &t.Provider, &t.Kind, &ts, &t.Asset, &net, &counter,
		&unit, &feeAmt, &feeAsset, &feeUSD, &t.ViaConvert, &batchID)
	if err != nil {
		return t, fmt.Errorf("error scanning trade row: %w", err)
	}
	if t.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
		return t, fmt.Errorf("corrupt trade timestamp %q: %w", ts, err)
	}
	t.NetAmount = mustDecimal(net)
	t.CounterValueUSD = mustDecimal(counter)
	t.UnitPriceUSD = mustDecimal(unit)
	t.FeeAmount = mustDecimal(feeAmt)
	t.FeeUSD = mustDecimal(feeUSD)
	t.FeeAsset = feeAsset.String
	t.BatchID = batchID.String
	return t, nil
}

// ReplaceLots swaps the user's persisted lot state for the ledger's current
// state. Lots are derived data; a replace keeps them consistent with the
// event history they were rebuilt from.
func ReplaceLots(db *sql.DB, userID int64, lots []models.Lot) error {
	dbTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.Exec(`DELETE FROM lots WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("error clearing lots: %w", err)
	}
	stmt, err := dbTx.Prepare(`INSERT INTO lots
		(id, user_id, asset, acquired_at, original_amount, remaining_amount, unit_cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing lot insert: %w", err)
	}
	defer stmt.Close()

	for _, lot := range lots {
		_, err := stmt.Exec(lot.ID, lot.UserID, lot.Asset, lot.AcquiredAt.UTC().Format(time.RFC3339),
			lot.OriginalAmount.String(), lot.RemainingAmount.String(), lot.UnitCostUSD.String())
		if err != nil {
			return fmt.Errorf("error inserting lot %s: %w", lot.ID, err)
		}
	}
	return dbTx.Commit()
}

// ListLots returns the user's lots ordered by asset and acquisition time.
func ListLots(db *sql.DB, userID int64) ([]models.Lot, error) {
	rows, err := db.Query(`SELECT id, user_id, asset, acquired_at, original_amount, remaining_amount, unit_cost_usd
		FROM lots WHERE user_id = ? ORDER BY asset ASC, acquired_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying lots: %w", err)
	}
	defer rows.Close()

	var lots []models.Lot
	for rows.Next() {
		var lot models.Lot
		var acquired, original, remaining, unitCost string
		if err := rows.Scan(&lot.ID, &lot.UserID, &lot.Asset, &acquired, &original, &remaining, &unitCost); err != nil {
			return nil, fmt.Errorf("error scanning lot row: %w", err)
		}
		if lot.AcquiredAt, err = time.Parse(time.RFC3339, acquired); err != nil {
			return nil, fmt.Errorf("corrupt lot acquired_at %q: %w", acquired, err)
		}
		lot.OriginalAmount = mustDecimal(original)
		lot.RemainingAmount = mustDecimal(remaining)
		lot.UnitCostUSD = mustDecimal(unitCost)
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ReplaceDisposals swaps the user's persisted disposals (and their lot
// consumptions) for the freshly computed set.
func ReplaceDisposals(db *sql.DB, userID int64, disposals []models.Disposal) error {
	dbTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	// disposal_lots rows go with their parents via ON DELETE CASCADE.
	if _, err := dbTx.Exec(`DELETE FROM disposals WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("error clearing disposals: %w", err)
	}

	dispStmt, err := dbTx.Prepare(`INSERT INTO disposals
		(trade_id, user_id, asset, disposed_at, amount, unmatched_amount, total_cost_basis_usd,
		 proceeds_usd, fee_usd, realized_pnl_usd, needs_review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing disposal insert: %w", err)
	}
	defer dispStmt.Close()

	lotStmt, err := dbTx.Prepare(`INSERT INTO disposal_lots
		(disposal_trade_id, seq, lot_id, acquired_at, amount_consumed, cost_basis_portion, is_short_term)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing disposal lot insert: %w", err)
	}
	defer lotStmt.Close()

	for _, d := range disposals {
		_, err := dispStmt.Exec(
			d.TradeID, d.UserID, d.Asset, d.DisposedAt.UTC().Format(time.RFC3339),
			d.Amount.String(), d.UnmatchedAmount.String(), nullDecimalString(d.TotalCostBasisUSD),
			d.ProceedsUSD.String(), d.FeeUSD.String(), nullDecimalString(d.RealizedPnLUSD), d.NeedsReview,
		)
		if err != nil {
			return fmt.Errorf("error inserting disposal %s: %w", d.TradeID, err)
		}
		for seq, c := range d.Consumptions {
			_, err := lotStmt.Exec(d.TradeID, seq, c.LotID, c.AcquiredAt.UTC().Format(time.RFC3339),
				c.AmountConsumed.String(), c.CostBasisPortion.String(), c.IsShortTerm)
			if err != nil {
				return fmt.Errorf("error inserting disposal lot for %s: %w", d.TradeID, err)
			}
		}
	}
	return dbTx.Commit()
}

// ListDisposals returns the user's disposals with their consumptions, in
// ascending disposal-time order.
func ListDisposals(db *sql.DB, userID int64) ([]models.Disposal, error) {
	rows, err := db.Query(`SELECT trade_id, user_id, asset, disposed_at, amount, unmatched_amount,
		total_cost_basis_usd, proceeds_usd, fee_usd, realized_pnl_usd, needs_review
		FROM disposals WHERE user_id = ? ORDER BY disposed_at ASC, trade_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying disposals: %w", err)
	}
	defer rows.Close()

	var disposals []models.Disposal
	for rows.Next() {
		var d models.Disposal
		var disposedAt, amount, unmatched, proceeds, feeUSD string
		var basis, pnl sql.NullString
		if err := rows.Scan(&d.TradeID, &d.UserID, &d.Asset, &disposedAt, &amount, &unmatched,
			&basis, &proceeds, &feeUSD, &pnl, &d.NeedsReview); err != nil {
			return nil, fmt.Errorf("error scanning disposal row: %w", err)
		}
		if d.DisposedAt, err = time.Parse(time.RFC3339, disposedAt); err != nil {
			return nil, fmt.Errorf("corrupt disposal timestamp %q: %w", disposedAt, err)
		}
		d.Amount = mustDecimal(amount)
		d.UnmatchedAmount = mustDecimal(unmatched)
		d.ProceedsUSD = mustDecimal(proceeds)
		d.FeeUSD = mustDecimal(feeUSD)
		d.TotalCostBasisUSD = scanNullDecimal(basis)
		d.RealizedPnLUSD = scanNullDecimal(pnl)
		disposals = append(disposals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range disposals {
		if err := loadConsumptions(db, &disposals[i]); err != nil {
			return nil, err
		}
	}
	return disposals, nil
}

func loadConsumptions(db *sql.DB, d *models.Disposal) error {
	rows, err := db.Query(`SELECT lot_id, acquired_at, amount_consumed, cost_basis_portion, is_short_term
		FROM disposal_lots WHERE disposal_trade_id = ? ORDER BY seq ASC`, d.TradeID)
	if err != nil {
		return fmt.Errorf("error querying disposal lots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.LotConsumption
		var acquired, consumed, portion string
		if err := rows.Scan(&c.LotID, &acquired, &consumed, &portion, &c.IsShortTerm); err != nil {
			return fmt.Errorf("error scanning disposal lot row: %w", err)
		}
		if c.AcquiredAt, err = time.Parse(time.RFC3339, acquired); err != nil {
			return fmt.Errorf("corrupt consumption acquired_at %q: %w", acquired, err)
		}
		c.AmountConsumed = mustDecimal(consumed)
		c.CostBasisPortion = mustDecimal(portion)
		d.Consumptions = append(d.Consumptions, c)
	}
	return rows.Err()
}

// RecordImport appends one batch outcome to the imports history.
func RecordImport(db *sql.DB, userID int64, fileName string, result *models.BatchResult) error {
	_, err := db.Exec(`INSERT INTO imports_history
		(user_id, provider, batch_id, file_name, events_imported, events_duplicate, trades_created,
		 parse_errors, grouping_errors, needs_review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, result.Provider, result.BatchID, fileName, result.EventsImported, result.EventsDuplicate,
		result.TradesCreated, result.ParseErrorCount, result.GroupingErrCount, result.NeedsReviewCount)
	if err != nil {
		return fmt.Errorf("failed to record import in history: %w", err)
	}
	return nil
}

// DeleteUserData removes every row belonging to the user, optionally scoped
// to one provider. Derived tables are cleared along with the events so no
// stale trade can survive its source rows.
func DeleteUserData(db *sql.DB, userID int64, provider string) error {
	dbTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	if provider != "" {
		if _, err := dbTx.Exec(`DELETE FROM transaction_events WHERE user_id = ? AND provider = ?`, userID, provider); err != nil {
			return fmt.Errorf("error deleting events: %w", err)
		}
		if _, err := dbTx.Exec(`DELETE FROM trades WHERE user_id = ? AND provider = ?`, userID, provider); err != nil {
			return fmt.Errorf("error deleting trades: %w", err)
		}
	} else {
		if _, err := dbTx.Exec(`DELETE FROM transaction_events WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("error deleting events: %w", err)
		}
		if _, err := dbTx.Exec(`DELETE FROM trades WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("error deleting trades: %w", err)
		}
	}
	// Lots and disposals are rebuilt from whatever events remain.
	if _, err := dbTx.Exec(`DELETE FROM lots WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("error deleting lots: %w", err)
	}
	if _, err := dbTx.Exec(`DELETE FROM disposals WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("error deleting disposals: %w", err)
	}
	return dbTx.Commit()
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.L.Error("corrupt decimal value in store", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

func nullDecimalString(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func scanNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(mustDecimal(s.String))
}
