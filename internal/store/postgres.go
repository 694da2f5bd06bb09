package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/model"
)

// Schema is the DDL for the claim and ledger-mirror tables. Amounts are
// NUMERIC(20,0) so every uint64 round-trips exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS claims (
    id            TEXT PRIMARY KEY,
    policy_id     TEXT NOT NULL,
    owner         TEXT NOT NULL,
    policy_index  NUMERIC(20,0) NOT NULL,
    loss_amount   NUMERIC(20,0) NOT NULL,
    payout_amount NUMERIC(20,0) NOT NULL,
    status        TEXT NOT NULL,
    receipt       TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    last_error    TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
-- Tables created before policy IDs existed keyed claims on (owner, policy_index).
ALTER TABLE claims ADD COLUMN IF NOT EXISTS policy_id TEXT NOT NULL DEFAULT '';
ALTER TABLE claims DROP CONSTRAINT IF EXISTS claims_owner_policy_index_key;
CREATE UNIQUE INDEX IF NOT EXISTS claims_policy_id_idx ON claims (policy_id) WHERE policy_id <> '';
CREATE INDEX IF NOT EXISTS claims_owner_policy_idx ON claims (owner, policy_index);
CREATE INDEX IF NOT EXISTS claims_status_idx ON claims (status);

CREATE TABLE IF NOT EXISTS ledger_events (
    id            TEXT PRIMARY KEY,
    seq           BIGSERIAL,
    type          TEXT NOT NULL,
    actor         TEXT NOT NULL,
    subject       TEXT NOT NULL DEFAULT '',
    policy_index  NUMERIC(20,0),
    amount        NUMERIC(20,0) NOT NULL,
    shares        NUMERIC(20,0) NOT NULL DEFAULT 0,
    balance_after NUMERIC(20,0) NOT NULL,
    timestamp     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_events_actor_idx ON ledger_events (actor);
`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateClaim(ctx context.Context, c *model.ClaimRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claims (id, policy_id, owner, policy_index, loss_amount, payout_amount,
		                     status, receipt, attempts, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.PolicyID, c.Owner.String(), u64(c.PolicyIndex), u64(c.LossAmount), u64(c.PayoutAmount),
		string(c.Status), c.Receipt, c.Attempts, c.LastError, c.CreatedAt, c.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: policy %s (%s #%d)", ErrClaimExists, c.PolicyID, c.Owner, c.PolicyIndex)
	}
	return err
}

func (s *PostgresStore) UpdateClaim(ctx context.Context, c *model.ClaimRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claims
		 SET loss_amount = $2::NUMERIC, payout_amount = $3::NUMERIC, status = $4,
		     receipt = $5, attempts = $6, last_error = $7, updated_at = $8
		 WHERE id = $1`,
		c.ID, u64(c.LossAmount), u64(c.PayoutAmount), string(c.Status),
		c.Receipt, c.Attempts, c.LastError, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

const claimColumns = `id, policy_id, owner, policy_index::TEXT, loss_amount::TEXT, payout_amount::TEXT,
		        status, receipt, attempts, last_error, created_at, updated_at`

func (s *PostgresStore) GetClaim(ctx context.Context, id string) (*model.ClaimRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
	c, err := scanClaim(row)
	if err != nil {
		return nil, fmt.Errorf("get claim %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) GetClaimByPolicy(ctx context.Context, policyID string) (*model.ClaimRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE policy_id = $1`, policyID)
	c, err := scanClaim(row)
	if err != nil {
		return nil, fmt.Errorf("get claim for policy %s: %w", policyID, err)
	}
	return c, nil
}

func (s *PostgresStore) ListClaims(ctx context.Context, f ClaimFilter) ([]model.ClaimRecord, error) {
	var where []string
	var args []any
	if f.Owner != "" {
		args = append(args, f.Owner.String())
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + claimColumns + ` FROM claims`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClaimRecord
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertLedgerEvent(ctx context.Context, ev *model.LedgerEvent) error {
	var idx *string
	if ev.PolicyIndex != nil {
		v := u64(*ev.PolicyIndex)
		idx = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_events (id, type, actor, subject, policy_index, amount, shares, balance_after, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.Actor.String(), ev.Subject.String(), idx,
		u64(ev.Amount), u64(ev.Shares), u64(ev.BalanceAfter), ev.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListLedgerEvents(ctx context.Context, f EventFilter) ([]model.LedgerEvent, error) {
	var where []string
	var args []any
	if f.Actor != "" {
		args = append(args, f.Actor.String())
		where = append(where, fmt.Sprintf("actor = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	q := `SELECT id, type, actor, subject, policy_index::TEXT, amount::TEXT, shares::TEXT,
	             balance_after::TEXT, timestamp
	      FROM ledger_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEvent
	for rows.Next() {
		var ev model.LedgerEvent
		var typ, actor, subject string
		var idx *string
		var amt, shares, balance string
		if err := rows.Scan(&ev.ID, &typ, &actor, &subject, &idx, &amt, &shares, &balance, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Type = model.LedgerEventType(typ)
		ev.Actor = identity.Address(actor)
		ev.Subject = identity.Address(subject)
		if idx != nil {
			v, err := parseU64(*idx)
			if err != nil {
				return nil, err
			}
			ev.PolicyIndex = &v
		}
		if ev.Amount, err = parseU64(amt); err != nil {
			return nil, err
		}
		if ev.Shares, err = parseU64(shares); err != nil {
			return nil, err
		}
		if ev.BalanceAfter, err = parseU64(balance); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- helpers ---

func scanClaim(row pgx.Row) (*model.ClaimRecord, error) {
	var c model.ClaimRecord
	var owner, status string
	var idx, loss, payout string
	err := row.Scan(&c.ID, &c.PolicyID, &owner, &idx, &loss, &payout,
		&status, &c.Receipt, &c.Attempts, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Owner = identity.Address(owner)
	c.Status = model.ClaimStatus(status)
	if c.PolicyIndex, err = parseU64(idx); err != nil {
		return nil, err
	}
	if c.LossAmount, err = parseU64(loss); err != nil {
		return nil, err
	}
	if c.PayoutAmount, err = parseU64(payout); err != nil {
		return nil, err
	}
	return &c, nil
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}
