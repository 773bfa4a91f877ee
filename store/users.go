package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jeffsasaki/storefront/models"
)

const userColumns = `uid, email, display_name, created_at, is_admin, notification_preferences`

func scanUser(row interface{ Scan(...interface{}) error }, extra ...interface{}) (*models.UserProfile, error) {
	var (
		u     models.UserProfile
		prefs []byte
	)
	dest := append([]interface{}{&u.UID, &u.Email, &u.DisplayName, &u.CreatedAt, &u.IsAdmin, &prefs}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	u.NotificationPreferences = models.DefaultNotificationPreferences()
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &u.NotificationPreferences); err != nil {
			return nil, fmt.Errorf("failed to decode preferences of user %s: %w", u.UID, err)
		}
	}
	return &u, nil
}

func (s *DB) CreateUser(ctx context.Context, u *models.UserProfile, passwordHash string) error {
	prefs, err := json.Marshal(u.NotificationPreferences)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (uid, email, password_hash, display_name, created_at, is_admin, notification_preferences)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.UID, u.Email, passwordHash, u.DisplayName, u.CreatedAt, u.IsAdmin, prefs)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
	}
	return err
}

// GetCredentials returns the profile and bcrypt hash registered for email.
func (s *DB) GetCredentials(ctx context.Context, email string) (*models.UserProfile, string, error) {
	var hash string
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`, email)
	u, err := scanUser(row, &hash)
	if err != nil {
		return nil, "", notFound(err)
	}
	return u, hash, nil
}

func (s *DB) GetUser(ctx context.Context, uid string) (*models.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (s *DB) ListUsers(ctx context.Context) ([]models.UserProfile, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
}

func (s *DB) ListAdmins(ctx context.Context) ([]models.UserProfile, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE is_admin ORDER BY created_at`)
}

func (s *DB) queryUsers(ctx context.Context, query string) ([]models.UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.UserProfile{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *DB) SetAdmin(ctx context.Context, uid string, isAdmin bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = $1 WHERE uid = $2`, isAdmin, uid)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *DB) UpdatePreferences(ctx context.Context, uid string, prefs models.NotificationPreferences) error {
	body, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET notification_preferences = $1 WHERE uid = $2`, body, uid)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *DB) DeleteUser(ctx context.Context, uid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE uid = $1`, uid)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
