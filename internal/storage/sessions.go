package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gat45/usine-a-gaz/internal/models"
)

// SaveSession writes the session header and replaces its turns in one transaction.
func (s *SQLiteStorage) SaveSession(ctx context.Context, rec *models.SessionRecord) error {
	opts, err := json.Marshal(rec.Options)
	if err != nil {
		return fmt.Errorf("marshal session options: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (key, options, created_at, last_active_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET options = excluded.options, last_active_at = excluded.last_active_at`,
		rec.Key, string(opts), rec.CreatedAt.UTC(), rec.LastActiveAt.UTC(),
	); err != nil {
		return fmt.Errorf("save session %s: %w", rec.Key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_key = ?`, rec.Key); err != nil {
		return fmt.Errorf("clear turns %s: %w", rec.Key, err)
	}
	if len(rec.Turns) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO session_turns (session_key, seq, role, content, tokens, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, t := range rec.Turns {
			if _, err := stmt.ExecContext(ctx, rec.Key, i, string(t.Role), t.Content, t.Tokens, t.Timestamp.UTC()); err != nil {
				return fmt.Errorf("save turn %d of %s: %w", i, rec.Key, err)
			}
		}
	}
	return tx.Commit()
}

// DeleteSession removes a session and its turns. Missing sessions are ignored.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadSessions returns every stored session with its turns in order.
func (s *SQLiteStorage) LoadSessions(ctx context.Context) ([]*models.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, options, created_at, last_active_at FROM sessions ORDER BY key`)
	if err != nil {
		return nil, err
	}
	var recs []*models.SessionRecord
	byKey := make(map[string]*models.SessionRecord)
	for rows.Next() {
		var rec models.SessionRecord
		var opts sql.NullString
		if err := rows.Scan(&rec.Key, &opts, &rec.CreatedAt, &rec.LastActiveAt); err != nil {
			rows.Close()
			return nil, err
		}
		if opts.Valid && opts.String != "" && opts.String != "null" {
			if err := json.Unmarshal([]byte(opts.String), &rec.Options); err != nil {
				rows.Close()
				return nil, fmt.Errorf("session %s options: %w", rec.Key, err)
			}
		}
		recs = append(recs, &rec)
		byKey[rec.Key] = &rec
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	turns, err := s.db.QueryContext(ctx, `SELECT session_key, role, content, tokens, created_at FROM session_turns ORDER BY session_key, seq`)
	if err != nil {
		return nil, err
	}
	defer turns.Close()
	for turns.Next() {
		var key, role string
		var t models.Turn
		if err := turns.Scan(&key, &role, &t.Content, &t.Tokens, &t.Timestamp); err != nil {
			return nil, err
		}
		if t.Role, err = models.ParseRole(role); err != nil {
			return nil, fmt.Errorf("session %s: %w", key, err)
		}
		if rec, ok := byKey[key]; ok {
			rec.Turns = append(rec.Turns, t)
		}
	}
	return recs, turns.Err()
}
