package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/betbot/edgebot/internal/domain"
)

// Store 订单/成交/账户快照的历史归档（实现 ports.HistoryArchiver）
type Store struct {
	db *sql.DB
}

// Open 打开归档数据库并建表
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			idempotency_key TEXT,
			market_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			size TEXT NOT NULL,
			price_limit TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			filled_size TEXT NOT NULL,
			retry_count INTEGER NOT NULL,
			reject_reason TEXT,
			exchange_handle TEXT,
			created_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			order_id TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			ts TEXT NOT NULL,
			balance TEXT NOT NULL,
			exposure TEXT NOT NULL,
			realized_pnl_today TEXT NOT NULL,
			peak_balance TEXT NOT NULL,
			streak INTEGER NOT NULL,
			open_positions INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "migrate history db")
		}
	}
	return nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ArchiveOrder 归档订单（终态记录按 ID 幂等覆盖）
func (s *Store) ArchiveOrder(ctx context.Context, o *domain.Order) error {
	var closedAt any
	if o.ClosedAt != nil {
		closedAt = o.ClosedAt.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO orders
(id,idempotency_key,market_id,direction,size,price_limit,source,status,filled_size,retry_count,reject_reason,exchange_handle,created_at,closed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, o.ID, o.IdempotencyKey, o.MarketID, string(o.Direction), o.Size.String(), o.PriceLimit.String(),
		string(o.Source), string(o.Status), o.FilledSize.String(), o.RetryCount, o.RejectReason,
		o.ExchangeHandle, o.CreatedAt.Format(time.RFC3339Nano), closedAt)
	if err != nil {
		return errors.Wrap(err, "archive order")
	}
	return nil
}

// ArchiveFill 归档一笔成交
func (s *Store) ArchiveFill(ctx context.Context, orderID string, f domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO fills (order_id,quantity,price,ts) VALUES (?,?,?,?)
`, orderID, f.Quantity.String(), f.Price.String(), f.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "archive fill")
	}
	return nil
}

// ArchiveSnapshot 归档账户快照
func (s *Store) ArchiveSnapshot(ctx context.Context, state domain.AccountState) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots (ts,balance,exposure,realized_pnl_today,peak_balance,streak,open_positions)
VALUES (?,?,?,?,?,?,?)
`, time.Now().Format(time.RFC3339Nano), state.Balance.String(), state.Exposure.String(),
		state.RealizedPnLToday.String(), state.PeakBalance.String(), state.Streak, state.OpenPositions)
	if err != nil {
		return errors.Wrap(err, "archive snapshot")
	}
	return nil
}

// Noop 降级归档器：历史库不可用时核心继续以非持久模式运行
type Noop struct{}

func (Noop) ArchiveOrder(context.Context, *domain.Order) error          { return nil }
func (Noop) ArchiveFill(context.Context, string, domain.Fill) error     { return nil }
func (Noop) ArchiveSnapshot(context.Context, domain.AccountState) error { return nil }
