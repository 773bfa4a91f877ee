package store

import (
	"context"
	"database/sql"

	"github.com/jeffsasaki/storefront/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *DB) EnqueueOutbox(ctx context.Context, m *models.OutboxMessage) error {
	return enqueueOutbox(ctx, s.db, m)
}

func enqueueOutbox(ctx context.Context, db execer, m *models.OutboxMessage) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO outbox (id, topic, payload, created_at) VALUES ($1, $2, $3, $4)`,
		m.ID, m.Topic, m.Payload, m.CreatedAt)
	return err
}

// FetchOutbox returns up to limit unpublished messages, oldest first.
func (s *DB) FetchOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, payload, attempts, created_at FROM outbox
		WHERE published_at IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *DB) MarkOutboxPublished(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *DB) MarkOutboxFailed(ctx context.Context, id string, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = $1 WHERE id = $2`, reason, id)
	return err
}
