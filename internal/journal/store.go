package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"leon/internal/domain"
)

// Store is the utterance journal: an audit log of every classification the
// dispatcher recorded. Conversation state itself stays in memory; the
// journal only answers "what was understood, when".
type Store struct {
	pool *pgxpool.Pool
}

type UtteranceRecord struct {
	ID         int64                 `json:"id"`
	SessionID  string                `json:"session_id"`
	Lang       string                `json:"lang"`
	Utterance  string                `json:"utterance"`
	Class      domain.Classification `json:"classification"`
	CreatedAt  time.Time             `json:"created_at"`
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS utterances (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			lang TEXT NOT NULL,
			utterance TEXT NOT NULL,
			domain TEXT NOT NULL,
			skill TEXT NOT NULL,
			action TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_utterances_session_created ON utterances(session_id, created_at);`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RecordUtterance(ctx context.Context, sessionID, lang, utterance string, c domain.Classification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO utterances (session_id, lang, utterance, domain, skill, action, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sessionID, lang, utterance, c.Domain, c.Skill, c.Action, c.Confidence,
	)
	return err
}

func (s *Store) RecentUtterances(ctx context.Context, limit int) ([]UtteranceRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, lang, utterance, domain, skill, action, confidence, created_at
		 FROM utterances ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]UtteranceRecord, 0, limit)
	for rows.Next() {
		var r UtteranceRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Lang, &r.Utterance,
			&r.Class.Domain, &r.Class.Skill, &r.Class.Action, &r.Class.Confidence, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
