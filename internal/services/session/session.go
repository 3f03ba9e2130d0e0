package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"readauth/internal/domain/models"
	"readauth/internal/lib/jwt"
	"readauth/internal/lib/sl"
	"readauth/internal/storage"
)

var (
	ErrInvalidToken = errors.New("invalid refresh token")
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrTokenTheftDetected means an already-rotated token was presented
	// again. By the time the caller sees it, every session for the device
	// has been revoked.
	ErrTokenTheftDetected = errors.New("token theft detected, all device sessions revoked")
	ErrAccountInactive    = errors.New("account is not active")
)

type SessionStore interface {
	SaveSession(ctx context.Context, userID int64, deviceID, token string, expiresAt time.Time) (int64, error)
	SessionByToken(ctx context.Context, token string) (*models.RefreshSession, error)
	ConsumeSession(ctx context.Context, sessionID int64) error
	RevokeDeviceSessions(ctx context.Context, userID int64, deviceID string) error
	RevokeUserSessions(ctx context.Context, userID int64) error
}

type UserProvider interface {
	UserByID(ctx context.Context, userID int64) (*models.User, error)
}

// Store owns the refresh-session ledger: one unrevoked row per device,
// rotated exactly once per presented token.
type Store struct {
	logger     *slog.Logger
	sessions   SessionStore
	users      UserProvider
	codec      *jwt.Codec
	refreshTTL time.Duration
	now        func() time.Time
}

func New(
	logger *slog.Logger,
	sessions SessionStore,
	users UserProvider,
	codec *jwt.Codec,
	refreshTTL time.Duration,
	now func() time.Time,
) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		logger:     logger,
		sessions:   sessions,
		users:      users,
		codec:      codec,
		refreshTTL: refreshTTL,
		now:        now,
	}
}

// Create inserts a new active session row for the token. Called at login
// and at the end of every successful rotation.
func (s *Store) Create(ctx context.Context, userID int64, deviceID, token string) (int64, error) {
	const op = "session.Create"

	id, err := s.sessions.SaveSession(ctx, userID, deviceID, token, s.now().Add(s.refreshTTL))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// Rotated is the outcome of a successful rotation.
type Rotated struct {
	AccessToken  string
	RefreshToken string
	UserID       int64
	DeviceID     string
}

// Rotate exchanges a presented refresh token for a fresh access+refresh
// pair, revoking the presented token. Presenting a token that was
// already rotated is treated as theft: every session for the device is
// revoked and ErrTokenTheftDetected returned.
func (s *Store) Rotate(ctx context.Context, presented string) (*Rotated, error) {
	const op = "session.Rotate"
	log := s.logger.With(slog.String("op", op))

	row, err := s.sessions.SessionByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Warn("refresh token not found")
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		log.Error("failed to look up session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if row.Revoked {
		return nil, s.tearDown(ctx, op, row)
	}

	if !s.now().Before(row.ExpiresAt) {
		log.Warn("refresh token expired", slog.Int64("userID", row.UserID))
		return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	// Compare-and-set on revoked. If the row was consumed between our read
	// and this update, a concurrent caller presented the same token; that
	// is indistinguishable from replay.
	if err := s.sessions.ConsumeSession(ctx, row.ID); err != nil {
		if errors.Is(err, storage.ErrSessionConsumed) {
			return nil, s.tearDown(ctx, op, row)
		}
		log.Error("failed to consume session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByID(ctx, row.UserID)
	if err != nil {
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.Status != models.StatusActive {
		log.Warn("refresh for inactive account", slog.Int64("userID", user.ID))
		return nil, fmt.Errorf("%s: %w", op, ErrAccountInactive)
	}

	accessToken, err := s.codec.IssueAccess(user)
	if err != nil {
		log.Error("failed to issue access token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, err := s.codec.IssueRefresh(user, row.DeviceID)
	if err != nil {
		log.Error("failed to issue refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.Create(ctx, user.ID, row.DeviceID, refreshToken); err != nil {
		log.Error("failed to save rotated session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("session rotated",
		slog.Int64("userID", user.ID),
		slog.String("deviceID", row.DeviceID),
	)

	return &Rotated{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		DeviceID:     row.DeviceID,
	}, nil
}

// UserAndDevice resolves the owner of a stored refresh token without
// rotating it. Used by logout.
func (s *Store) UserAndDevice(ctx context.Context, token string) (int64, string, error) {
	const op = "session.UserAndDevice"

	row, err := s.sessions.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return 0, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		return 0, "", fmt.Errorf("%s: %w", op, err)
	}
	return row.UserID, row.DeviceID, nil
}

// RevokeAllForDevice permanently revokes every session for the device.
func (s *Store) RevokeAllForDevice(ctx context.Context, userID int64, deviceID string) error {
	const op = "session.RevokeAllForDevice"

	if err := s.sessions.RevokeDeviceSessions(ctx, userID, deviceID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RevokeAllForUser permanently revokes every session the user has, on
// every device.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) error {
	const op = "session.RevokeAllForUser"

	if err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) tearDown(ctx context.Context, op string, row *models.RefreshSession) error {
	s.logger.Warn("rotated token replayed, revoking device sessions",
		slog.String("op", op),
		slog.Int64("userID", row.UserID),
		slog.String("deviceID", row.DeviceID),
	)

	if err := s.sessions.RevokeDeviceSessions(ctx, row.UserID, row.DeviceID); err != nil {
		s.logger.Error("failed to revoke device sessions", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, ErrTokenTheftDetected)
}
