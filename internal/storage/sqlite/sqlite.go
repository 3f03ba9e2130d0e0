package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	_ "github.com/mattn/go-sqlite3"

	"readauth/internal/domain/models"
	"readauth/internal/storage"
)

type Storage struct {
	db *sql.DB
}

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// ---- users ----

func (s *Storage) SaveUser(ctx context.Context, loginID, email, name string, passHash []byte) (int64, error) {
	const op = "storage.sqlite.SaveUser"
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (login_id, email, name, pass_hash) VALUES (?, ?, ?, ?)",
		loginID, email, name, passHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.LastInsertId()
}

const userColumns = "id, login_id, email, name, pass_hash, role, status, failed_login_count, last_login_at, created_at"

func (s *Storage) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var lastLogin sql.NullTime
	err := row.Scan(&user.ID, &user.LoginID, &user.Email, &user.Name, &user.PassHash,
		&user.Role, &user.Status, &user.FailedLoginCount, &lastLogin, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return &user, nil
}

func (s *Storage) UserByLoginID(ctx context.Context, loginID string) (*models.User, error) {
	const op = "storage.sqlite.UserByLoginID"
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE login_id = ?", loginID)
	user, err := s.scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.sqlite.UserByID"
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", userID)
	user, err := s.scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) ActiveUserByLoginIDAndEmail(ctx context.Context, loginID, email string) (*models.User, error) {
	const op = "storage.sqlite.ActiveUserByLoginIDAndEmail"
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE login_id = ? AND email = ? AND status = ?",
		loginID, email, models.StatusActive)
	user, err := s.scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) ActiveUserByEmailAndName(ctx context.Context, email, name string) (*models.User, error) {
	const op = "storage.sqlite.ActiveUserByEmailAndName"
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? AND name = ? AND status = ?",
		email, name, models.StatusActive)
	user, err := s.scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) LoginIDTaken(ctx context.Context, loginID string) (bool, error) {
	const op = "storage.sqlite.LoginIDTaken"
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM users WHERE login_id = ?", loginID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func (s *Storage) EmailTaken(ctx context.Context, email string) (bool, error) {
	const op = "storage.sqlite.EmailTaken"
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM users WHERE email = ?", email).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func (s *Storage) UpdateLoginOutcome(ctx context.Context, userID int64, failedCount int, status models.Status, lastLoginAt *time.Time) error {
	const op = "storage.sqlite.UpdateLoginOutcome"
	var last sql.NullTime
	if lastLoginAt != nil {
		last = sql.NullTime{Time: *lastLoginAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET failed_login_count = ?, status = ?, last_login_at = COALESCE(?, last_login_at) WHERE id = ?",
		failedCount, status, last, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) UpdatePassword(ctx context.Context, userID int64, passHash []byte) error {
	const op = "storage.sqlite.UpdatePassword"
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET pass_hash = ? WHERE id = ?", passHash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

// ---- refresh sessions ----

func (s *Storage) SaveSession(ctx context.Context, userID int64, deviceID, token string, expiresAt time.Time) (int64, error) {
	const op = "storage.sqlite.SaveSession"
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO refresh_sessions (user_id, device_id, token, expires_at) VALUES (?, ?, ?, ?)",
		userID, deviceID, token, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.LastInsertId()
}

func (s *Storage) SessionByToken(ctx context.Context, token string) (*models.RefreshSession, error) {
	const op = "storage.sqlite.SessionByToken"
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, device_id, token, expires_at, revoked, created_at FROM refresh_sessions WHERE token = ?",
		token)
	var sess models.RefreshSession
	err := row.Scan(&sess.ID, &sess.UserID, &sess.DeviceID, &sess.Token,
		&sess.ExpiresAt, &sess.Revoked, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sess, nil
}

// ConsumeSession flips revoked to true if and only if the row is still
// unrevoked. Exactly one of two concurrent callers can win.
func (s *Storage) ConsumeSession(ctx context.Context, sessionID int64) error {
	const op = "storage.sqlite.ConsumeSession"
	result, err := s.db.ExecContext(ctx,
		"UPDATE refresh_sessions SET revoked = 1 WHERE id = ? AND revoked = 0", sessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrSessionConsumed)
	}
	return nil
}

func (s *Storage) RevokeDeviceSessions(ctx context.Context, userID int64, deviceID string) error {
	const op = "storage.sqlite.RevokeDeviceSessions"
	_, err := s.db.ExecContext(ctx,
		"UPDATE refresh_sessions SET revoked = 1 WHERE user_id = ? AND device_id = ?",
		userID, deviceID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RevokeUserSessions(ctx context.Context, userID int64) error {
	const op = "storage.sqlite.RevokeUserSessions"
	_, err := s.db.ExecContext(ctx,
		"UPDATE refresh_sessions SET revoked = 1 WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ---- devices ----

func (s *Storage) DeviceByUserAndDevice(ctx context.Context, userID int64, deviceID string) (*models.Device, error) {
	const op = "storage.sqlite.DeviceByUserAndDevice"
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, device_id, device_name, platform, last_seen_at, created_at FROM user_devices WHERE user_id = ? AND device_id = ?",
		userID, deviceID)
	var dev models.Device
	var lastSeen sql.NullTime
	err := row.Scan(&dev.ID, &dev.UserID, &dev.DeviceID, &dev.DeviceName,
		&dev.Platform, &lastSeen, &dev.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrDeviceNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if lastSeen.Valid {
		dev.LastSeenAt = &lastSeen.Time
	}
	return &dev, nil
}

func (s *Storage) SaveDevice(ctx context.Context, userID int64, deviceID, deviceName string, platform models.Platform, lastSeenAt time.Time) (int64, error) {
	const op = "storage.sqlite.SaveDevice"
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO user_devices (user_id, device_id, device_name, platform, last_seen_at) VALUES (?, ?, ?, ?, ?)",
		userID, deviceID, deviceName, platform, lastSeenAt)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.LastInsertId()
}

func (s *Storage) UpdateDevice(ctx context.Context, userID int64, deviceID, deviceName string, platform models.Platform, lastSeenAt time.Time) error {
	const op = "storage.sqlite.UpdateDevice"
	result, err := s.db.ExecContext(ctx,
		"UPDATE user_devices SET device_name = ?, platform = ?, last_seen_at = ? WHERE user_id = ? AND device_id = ?",
		deviceName, platform, lastSeenAt, userID, deviceID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrDeviceNotFound)
	}
	return nil
}

func (s *Storage) TouchDevice(ctx context.Context, userID int64, deviceID string, lastSeenAt time.Time) error {
	const op = "storage.sqlite.TouchDevice"
	result, err := s.db.ExecContext(ctx,
		"UPDATE user_devices SET last_seen_at = ? WHERE user_id = ? AND device_id = ?",
		lastSeenAt, userID, deviceID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrDeviceNotFound)
	}
	return nil
}

// ---- reset tokens ----

// ReplaceResetToken deletes any existing reset tokens for the user and
// inserts the new one, so at most one token per user is ever live.
func (s *Storage) ReplaceResetToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	const op = "storage.sqlite.ReplaceResetToken"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM reset_tokens WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO reset_tokens (user_id, token, expires_at) VALUES (?, ?, ?)",
		userID, token, expiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ConsumeResetToken marks the token used if and only if it is still
// unused and unexpired, returning the owning user id. A failed update is
// disambiguated by re-reading the row: a present, used row means the
// token was already consumed; anything else means invalid or expired.
func (s *Storage) ConsumeResetToken(ctx context.Context, token string, now time.Time) (int64, error) {
	const op = "storage.sqlite.ConsumeResetToken"

	result, err := s.db.ExecContext(ctx,
		"UPDATE reset_tokens SET used = 1 WHERE token = ? AND used = 0 AND expires_at > ?",
		token, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if n == 0 {
		var rt models.ResetToken
		err := s.db.QueryRowContext(ctx,
			"SELECT user_id, used, expires_at FROM reset_tokens WHERE token = ?", token).
			Scan(&rt.UserID, &rt.Used, &rt.ExpiresAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, fmt.Errorf("%s: %w", op, storage.ErrResetTokenNotFound)
			}
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		if rt.Used && !rt.IsExpired(now) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrResetTokenUsed)
		}
		return 0, fmt.Errorf("%s: %w", op, storage.ErrResetTokenNotFound)
	}

	var userID int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM reset_tokens WHERE token = ?", token).Scan(&userID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return userID, nil
}
