package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/credentials"
	"github.com/xkilldash9x/cartpilot/internal/observability"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists attempts and serves stored payment methods and buyer
// profiles from PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var (
	_ schemas.CredentialProvider = (*Store)(nil)
	_ schemas.ProfileProvider    = (*Store)(nil)
)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const (
	sqlUpsertAttempt = `
        INSERT INTO purchase_attempts (id, user_identity, product_url, options, status, state, terminal_reason, order_reference, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            state = EXCLUDED.state,
            terminal_reason = EXCLUDED.terminal_reason,
            order_reference = EXCLUDED.order_reference,
            ended_at = EXCLUDED.ended_at;
    `
	sqlInsertStep = `
        INSERT INTO attempt_steps (attempt_id, step_index, fingerprint, action_kind, target, action, outcome, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (attempt_id, step_index) DO NOTHING;
    `
	sqlSelectAttempt = `
        SELECT user_identity, product_url, options, state, terminal_reason, order_reference, started_at, ended_at
        FROM purchase_attempts
        WHERE id = $1;
    `
	sqlSelectSteps = `
        SELECT step_index, fingerprint, action, outcome, reason, created_at
        FROM attempt_steps
        WHERE attempt_id = $1
        ORDER BY step_index ASC;
    `
	sqlSelectCard = `
        SELECT card_number, cardholder_name, expiry_month, expiry_year, cvv
        FROM payment_methods
        WHERE user_identity = $1
        ORDER BY is_default DESC, created_at DESC
        LIMIT 1;
    `

	sqlSelectProfile = `
        SELECT email, phone, full_name, first_name, last_name, address_line1, address_line2,
               city, region, postal_code, country
        FROM user_profiles
        WHERE user_identity = $1;
    `
)

// ArchiveAttempt writes the attempt and its ledger in one transaction. It is
// idempotent: archiving the same record twice leaves one copy.
func (s *Store) ArchiveAttempt(ctx context.Context, rec schemas.AttemptRecord) error {
	options, err := json.Marshal(rec.Options)
	if err != nil {
		return fmt.Errorf("failed to encode attempt options: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var endedAt *time.Time
	if !rec.EndedAt.IsZero() {
		t := rec.EndedAt.UTC()
		endedAt = &t
	}
	if _, err := tx.Exec(ctx, sqlUpsertAttempt,
		rec.ID, rec.UserIdentity, rec.ProductURL, options,
		rec.State.Status(), string(rec.State), string(rec.TerminalReason), rec.OrderReference,
		rec.StartedAt.UTC(), endedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert attempt %s: %w", rec.ID, err)
	}

	if err := s.persistSteps(ctx, tx, rec.ID, rec.Ledger); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Attempt archived.", zap.String("attempt_id", rec.ID), zap.Int("steps", len(rec.Ledger)))
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, attemptID string, entries []schemas.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		action := []byte("null")
		var kind, target string
		if e.Action != nil {
			b, err := json.Marshal(e.Action)
			if err != nil {
				return fmt.Errorf("failed to encode action of step %d: %w", e.StepIndex, err)
			}
			action = b
			kind = string(e.Action.Kind)
			target = e.Action.Ref()
		}
		batch.Queue(sqlInsertStep, attemptID, e.StepIndex, e.Fingerprint, kind, target, action,
			string(e.Outcome), e.Reason, e.Timestamp.UTC())
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for _, e := range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert step %d of attempt %s: %w", e.StepIndex, attemptID, err)
		}
	}
	return nil
}

// GetAttempt loads an archived attempt with its ledger.
func (s *Store) GetAttempt(ctx context.Context, attemptID string) (*schemas.AttemptRecord, error) {
	rec := &schemas.AttemptRecord{ID: attemptID}
	var options []byte
	var state, reason string
	var endedAt *time.Time
	err := s.pool.QueryRow(ctx, sqlSelectAttempt, attemptID).Scan(
		&rec.UserIdentity, &rec.ProductURL, &options, &state, &reason, &rec.OrderReference, &rec.StartedAt, &endedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, schemas.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt: %w", err)
	}
	rec.State = schemas.AttemptState(state)
	rec.TerminalReason = schemas.TerminalReason(reason)
	if endedAt != nil {
		rec.EndedAt = *endedAt
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &rec.Options); err != nil {
			return nil, fmt.Errorf("failed to decode attempt options: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, sqlSelectSteps, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e schemas.LedgerEntry
		var action []byte
		var outcome string
		if err := rows.Scan(&e.StepIndex, &e.Fingerprint, &action, &outcome, &e.Reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		e.Outcome = schemas.Outcome(outcome)
		if len(action) > 0 && string(action) != "null" {
			e.Action = &schemas.ValidatedAction{}
			if err := json.Unmarshal(action, e.Action); err != nil {
				return nil, fmt.Errorf("failed to decode action of step %d: %w", e.StepIndex, err)
			}
		}
		rec.Ledger = append(rec.Ledger, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return rec, nil
}

// GetPaymentField reads the user's default card, or the most recently added
// one, on every call. Values are never cached or logged.
func (s *Store) GetPaymentField(ctx context.Context, userIdentity string, field schemas.PaymentFieldKind) (string, error) {
	var card credentials.Card
	err := s.pool.QueryRow(ctx, sqlSelectCard, userIdentity).Scan(
		&card.Number, &card.Holder, &card.ExpiryMonth, &card.ExpiryYear, &card.CVV,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("no payment method for user %q: %w", userIdentity, schemas.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query payment method: %w", err)
	}
	s.log.Debug("Payment method resolved.", zap.String("user", userIdentity),
		zap.String("card", observability.MaskCard(card.Number)), zap.String("field", string(field)))
	return card.Field(field)
}

// GetProfileField reads the user's profile row on every call. Values are never
// logged.
func (s *Store) GetProfileField(ctx context.Context, userIdentity string, field schemas.ProfileFieldKind) (string, error) {
	var p credentials.Profile
	err := s.pool.QueryRow(ctx, sqlSelectProfile, userIdentity).Scan(
		&p.Email, &p.Phone, &p.FullName, &p.FirstName, &p.LastName, &p.AddressLine1, &p.AddressLine2,
		&p.City, &p.Region, &p.PostalCode, &p.Country,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("no profile for user %q: %w", userIdentity, schemas.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query user profile: %w", err)
	}
	s.log.Debug("User profile resolved.", zap.String("user", userIdentity), zap.String("field", string(field)))
	return p.Field(field)
}
