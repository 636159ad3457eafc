package accounts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

// PostgresStore persists accounts in PostgreSQL. Scalar fields live in
// typed columns; holdings, trade history and conversation state are stored
// as JSONB so a single row upsert replaces the account atomically.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store and ensures the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			cash_balance  DOUBLE PRECISION NOT NULL,
			realized_pnl  DOUBLE PRECISION NOT NULL,
			holdings      JSONB NOT NULL,
			trade_history JSONB NOT NULL,
			conversation  JSONB NOT NULL,
			referred_by   TEXT,
			created_at    TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return nil, errors.Wrap(err, "ensure accounts schema")
	}
	return &PostgresStore{pool: pool}, nil
}

// Load retrieves an account by id.
func (s *PostgresStore) Load(ctx context.Context, userID string) (*domain.UserAccount, error) {
	var (
		account      domain.UserAccount
		holdings     []byte
		history      []byte
		conversation []byte
		referredBy   *string
		createdAt    time.Time
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, cash_balance, realized_pnl, holdings, trade_history, conversation, referred_by, created_at
		FROM accounts WHERE id = $1`, userID).
		Scan(&account.ID, &account.CashBalance, &account.RealizedPnL,
			&holdings, &history, &conversation, &referredBy, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, errors.Wrapf(err, "load account %s", userID)
	}

	if err := json.Unmarshal(holdings, &account.Holdings); err != nil {
		return nil, errors.Wrap(err, "decode holdings")
	}
	if err := json.Unmarshal(history, &account.TradeHistory); err != nil {
		return nil, errors.Wrap(err, "decode trade history")
	}
	if err := json.Unmarshal(conversation, &account.Conversation); err != nil {
		return nil, errors.Wrap(err, "decode conversation state")
	}
	if referredBy != nil {
		account.ReferredBy = *referredBy
	}
	account.CreatedAt = createdAt

	return normalize(&account), nil
}

// Save upserts the whole account as one row.
func (s *PostgresStore) Save(ctx context.Context, account *domain.UserAccount) error {
	holdings, err := json.Marshal(account.Holdings)
	if err != nil {
		return errors.Wrap(err, "encode holdings")
	}
	history, err := json.Marshal(account.TradeHistory)
	if err != nil {
		return errors.Wrap(err, "encode trade history")
	}
	conversation, err := json.Marshal(account.Conversation)
	if err != nil {
		return errors.Wrap(err, "encode conversation state")
	}

	var referredBy *string
	if account.ReferredBy != "" {
		referredBy = &account.ReferredBy
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (id, cash_balance, realized_pnl, holdings, trade_history, conversation, referred_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			cash_balance  = EXCLUDED.cash_balance,
			realized_pnl  = EXCLUDED.realized_pnl,
			holdings      = EXCLUDED.holdings,
			trade_history = EXCLUDED.trade_history,
			conversation  = EXCLUDED.conversation,
			referred_by   = EXCLUDED.referred_by`,
		account.ID, account.CashBalance, account.RealizedPnL,
		holdings, history, conversation, referredBy, account.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "save account %s", account.ID)
	}
	return nil
}

// List returns all accounts.
func (s *PostgresStore) List(ctx context.Context) ([]*domain.UserAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cash_balance, realized_pnl, holdings, trade_history, conversation, referred_by, created_at
		FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	defer rows.Close()

	var out []*domain.UserAccount
	for rows.Next() {
		var (
			account      domain.UserAccount
			holdings     []byte
			history      []byte
			conversation []byte
			referredBy   *string
			createdAt    time.Time
		)
		if err := rows.Scan(&account.ID, &account.CashBalance, &account.RealizedPnL,
			&holdings, &history, &conversation, &referredBy, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan account row")
		}
		if err := json.Unmarshal(holdings, &account.Holdings); err != nil {
			return nil, errors.Wrap(err, "decode holdings")
		}
		if err := json.Unmarshal(history, &account.TradeHistory); err != nil {
			return nil, errors.Wrap(err, "decode trade history")
		}
		if err := json.Unmarshal(conversation, &account.Conversation); err != nil {
			return nil, errors.Wrap(err, "decode conversation state")
		}
		if referredBy != nil {
			account.ReferredBy = *referredBy
		}
		account.CreatedAt = createdAt
		out = append(out, normalize(&account))
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
