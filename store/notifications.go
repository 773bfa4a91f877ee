package store

import (
	"context"
	"fmt"

	"github.com/jeffsasaki/storefront/models"
	"github.com/lib/pq"
)

const notificationColumns = `id, user_id, message, type, link, read, created_at`

// Inserting an id that already exists is a no-op, so redelivered events do not
// duplicate notifications.
const insertNotification = `INSERT INTO notifications (` + notificationColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`

func (s *DB) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.ExecContext(ctx, insertNotification,
		n.ID, n.UserID, n.Message, n.Type, n.Link, n.Read, n.CreatedAt)
	return err
}

// InsertNotifications writes the batch atomically: either every notification
// is stored or none is.
func (s *DB) InsertNotifications(ctx context.Context, batch []models.Notification) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for _, n := range batch {
		if _, err := tx.ExecContext(ctx, insertNotification,
			n.ID, n.UserID, n.Message, n.Type, n.Link, n.Read, n.CreatedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert notification for %s: %w", n.UserID, err)
		}
	}

	return tx.Commit()
}

// ListNotifications returns notifications addressed to any of recipients,
// newest first.
func (s *DB) ListNotifications(ctx context.Context, recipients []string) ([]models.Notification, error) {
	return s.queryNotifications(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE user_id = ANY($1) ORDER BY created_at DESC`,
		pq.Array(recipients))
}

func (s *DB) ListAllNotifications(ctx context.Context) ([]models.Notification, error) {
	return s.queryNotifications(ctx,
		`SELECT `+notificationColumns+` FROM notifications ORDER BY created_at DESC`)
}

func (s *DB) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flags a notification as read if it is addressed to one
// of recipients.
func (s *DB) MarkNotificationRead(ctx context.Context, id string, recipients []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = true WHERE id = $1 AND user_id = ANY($2)`,
		id, pq.Array(recipients))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteRecipientNotification deletes a notification addressed directly to uid.
func (s *DB) DeleteRecipientNotification(ctx context.Context, id, uid string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, uid)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *DB) DeleteNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
