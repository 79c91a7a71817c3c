// Package postgres stores business numbers and finished call records in
// PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harunnryd/voicedesk/pkg/business"
	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/postcall"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements business.Directory and postcall.Recorder.
type Store struct {
	db    dbtx
	close func()
}

func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{db: pool, close: pool.Close}, nil
}

func initSchema(ctx context.Context, db dbtx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS phone_numbers (
			number TEXT PRIMARY KEY,
			business_name TEXT NOT NULL DEFAULT '',
			business_type TEXT NOT NULL DEFAULT '',
			owner_name TEXT NOT NULL DEFAULT '',
			persona_name TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			lexicon JSONB NOT NULL DEFAULT '{}'::jsonb,
			is_demo BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			notify_phone TEXT NOT NULL DEFAULT '',
			notify_email TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS call_records (
			id TEXT PRIMARY KEY,
			call_sid TEXT NOT NULL UNIQUE,
			stream_sid TEXT NOT NULL DEFAULT '',
			caller_number TEXT NOT NULL,
			callee_number TEXT NOT NULL,
			business_name TEXT NOT NULL DEFAULT '',
			is_demo BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			answered_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			transcript TEXT NOT NULL DEFAULT '',
			turns JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_callee_started ON call_records (callee_number, started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const lookupSQL = `SELECT number, business_name, business_type, owner_name, persona_name,
	system_prompt, lexicon, is_demo, is_active, notify_phone, notify_email
	FROM phone_numbers WHERE number=$1`

// Lookup returns business.ErrNotFound for unknown numbers. Inactive rows are
// returned as-is.
func (s *Store) Lookup(ctx context.Context, number string) (callstate.BusinessConfig, error) {
	var (
		cfg     callstate.BusinessConfig
		lexicon []byte
	)
	err := s.db.QueryRow(ctx, lookupSQL, business.NormalizeNumber(number)).Scan(
		&cfg.Number,
		&cfg.BusinessName,
		&cfg.BusinessType,
		&cfg.OwnerName,
		&cfg.PersonaName,
		&cfg.SystemPrompt,
		&lexicon,
		&cfg.Demo,
		&cfg.Active,
		&cfg.NotifyPhone,
		&cfg.NotifyEmail,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return callstate.BusinessConfig{}, business.ErrNotFound
	}
	if err != nil {
		return callstate.BusinessConfig{}, fmt.Errorf("lookup number: %w", err)
	}
	if len(lexicon) > 0 {
		if err := json.Unmarshal(lexicon, &cfg.Lexicon); err != nil {
			return callstate.BusinessConfig{}, fmt.Errorf("decode lexicon: %w", err)
		}
	}
	return cfg, nil
}

// Upsert writes cfg keyed by its normalized number.
func (s *Store) Upsert(ctx context.Context, cfg callstate.BusinessConfig) error {
	lexicon := cfg.Lexicon
	if lexicon == nil {
		lexicon = map[string]string{}
	}
	raw, err := json.Marshal(lexicon)
	if err != nil {
		return fmt.Errorf("encode lexicon: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO phone_numbers (number, business_name, business_type, owner_name, persona_name,
			system_prompt, lexicon, is_demo, is_active, notify_phone, notify_email, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		 ON CONFLICT (number) DO UPDATE SET
			business_name=EXCLUDED.business_name,
			business_type=EXCLUDED.business_type,
			owner_name=EXCLUDED.owner_name,
			persona_name=EXCLUDED.persona_name,
			system_prompt=EXCLUDED.system_prompt,
			lexicon=EXCLUDED.lexicon,
			is_demo=EXCLUDED.is_demo,
			is_active=EXCLUDED.is_active,
			notify_phone=EXCLUDED.notify_phone,
			notify_email=EXCLUDED.notify_email,
			updated_at=now()`,
		business.NormalizeNumber(cfg.Number),
		cfg.BusinessName,
		cfg.BusinessType,
		cfg.OwnerName,
		cfg.PersonaName,
		cfg.SystemPrompt,
		raw,
		cfg.Demo,
		cfg.Active,
		cfg.NotifyPhone,
		cfg.NotifyEmail,
	)
	if err != nil {
		return fmt.Errorf("upsert number: %w", err)
	}
	return nil
}

// SaveCall stores rec. Saving the same call twice keeps the first row.
func (s *Store) SaveCall(ctx context.Context, rec postcall.Record) error {
	turns, err := json.Marshal(rec.Turns)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("encode turns: %w", err))
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO call_records (id, call_sid, stream_sid, caller_number, callee_number, business_name,
			is_demo, status, started_at, answered_at, ended_at, duration_seconds, transcript, turns)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (call_sid) DO NOTHING`,
		rec.ID,
		rec.CallID,
		rec.StreamID,
		rec.CallerNumber,
		rec.CalleeNumber,
		rec.BusinessName,
		rec.Demo,
		rec.Status,
		rec.StartedAt,
		nullTime(rec.AnsweredAt),
		nullTime(rec.EndedAt),
		rec.DurationSeconds,
		rec.Transcript,
		turns,
	)
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
