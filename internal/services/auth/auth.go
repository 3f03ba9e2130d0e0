package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"readauth/internal/domain/models"
	"readauth/internal/lib/jwt"
	"readauth/internal/lib/password"
	"readauth/internal/lib/sl"
	"readauth/internal/lib/workqueue"
	"readauth/internal/services/device"
	"readauth/internal/services/session"
	"readauth/internal/storage"
)

// Reset tokens live for five minutes. This is part of the reset
// protocol, not a tunable.
const resetTokenTTL = 5 * time.Minute

const maxFailedLogins = 5

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrAccountLocked   = errors.New("account locked")
	ErrAccountDeleted  = errors.New("account deleted")
	ErrAccountNotFound = errors.New("account not found")

	ErrDuplicateLoginID = errors.New("login id already in use")
	ErrDuplicateEmail   = errors.New("email already in use")

	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	ErrPasswordMismatch           = errors.New("passwords do not match")
	ErrSameAsOldPassword          = errors.New("new password matches the old one")
	ErrResetTokenInvalidOrExpired = errors.New("reset token invalid or expired")
	ErrResetTokenAlreadyUsed      = errors.New("reset token already used")
)

type UserStore interface {
	SaveUser(ctx context.Context, loginID, email, name string, passHash []byte) (int64, error)
	UserByLoginID(ctx context.Context, loginID string) (*models.User, error)
	UserByID(ctx context.Context, userID int64) (*models.User, error)
	ActiveUserByLoginIDAndEmail(ctx context.Context, loginID, email string) (*models.User, error)
	ActiveUserByEmailAndName(ctx context.Context, email, name string) (*models.User, error)
	LoginIDTaken(ctx context.Context, loginID string) (bool, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	UpdateLoginOutcome(ctx context.Context, userID int64, failedCount int, status models.Status, lastLoginAt *time.Time) error
	UpdatePassword(ctx context.Context, userID int64, passHash []byte) error
}

type ResetTokenStore interface {
	ReplaceResetToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, token string, now time.Time) (int64, error)
}

// Auth orchestrates login, logout, token refresh and password reset over
// the stores and token services.
type Auth struct {
	logger   *slog.Logger
	users    UserStore
	resets   ResetTokenStore
	sessions *session.Store
	devices  *device.Registry
	codec    *jwt.Codec
	queue    *workqueue.Queue
	now      func() time.Time
}

// New returns a new instance of the Auth service.
func New(
	logger *slog.Logger,
	users UserStore,
	resets ResetTokenStore,
	sessions *session.Store,
	devices *device.Registry,
	codec *jwt.Codec,
	queue *workqueue.Queue,
	now func() time.Time,
) *Auth {
	if now == nil {
		now = time.Now
	}
	return &Auth{
		logger:   logger,
		users:    users,
		resets:   resets,
		sessions: sessions,
		devices:  devices,
		codec:    codec,
		queue:    queue,
		now:      now,
	}
}

// Register creates a new active user after duplicate and password-policy
// checks.
func (a *Auth) Register(ctx context.Context, loginID, email, name, plainPassword string) (*models.User, error) {
	const op = "auth.Register"
	log := a.logger.With(slog.String("op", op), slog.String("loginID", loginID))
	log.Info("register request")

	taken, err := a.users.LoginIDTaken(ctx, loginID)
	if err != nil {
		log.Error("failed to check login id", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if taken {
		return nil, fmt.Errorf("%s: %w", op, ErrDuplicateLoginID)
	}

	taken, err = a.users.EmailTaken(ctx, email)
	if err != nil {
		log.Error("failed to check email", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if taken {
		return nil, fmt.Errorf("%s: %w", op, ErrDuplicateEmail)
	}

	if err := password.Validate(plainPassword); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := password.Hash(plainPassword)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	userID, err := a.users.SaveUser(ctx, loginID, email, name, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrDuplicateLoginID)
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("userID", userID))

	return &models.User{
		ID:      userID,
		LoginID: loginID,
		Email:   email,
		Name:    name,
		Role:    models.RoleUser,
		Status:  models.StatusActive,
	}, nil
}

// Login authenticates a user by login id and password and issues an
// access+refresh pair bound to the presented device. Five consecutive
// failures lock the account.
func (a *Auth) Login(ctx context.Context, loginID, plainPassword, deviceID, deviceName, platform string) (accessToken, refreshToken string, user *models.User, err error) {
	const op = "auth.Login"
	log := a.logger.With(slog.String("op", op), slog.String("loginID", loginID))
	log.Info("login request")

	user, err = a.users.UserByLoginID(ctx, loginID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return "", "", nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return "", "", nil, fmt.Errorf("%s: %w", op, err)
	}

	switch user.Status {
	case models.StatusLocked:
		log.Warn("login attempt on locked account", slog.Int64("userID", user.ID))
		return "", "", nil, fmt.Errorf("%s: %w", op, ErrAccountLocked)
	case models.StatusDeleted:
		log.Warn("login attempt on deleted account", slog.Int64("userID", user.ID))
		return "", "", nil, fmt.Errorf("%s: %w", op, ErrAccountDeleted)
	}

	if !password.Matches(user.PassHash, plainPassword) {
		user.FailedLoginCount++
		status := user.Status
		if user.FailedLoginCount >= maxFailedLogins {
			status = models.StatusLocked
			log.Warn("account locked after repeated failures", slog.Int64("userID", user.ID))
		}
		if err := a.users.UpdateLoginOutcome(ctx, user.ID, user.FailedLoginCount, status, nil); err != nil {
			log.Error("failed to record login failure", sl.Err(err))
			return "", "", nil, fmt.Errorf("%s: %w", op, err)
		}
		return "", "", nil, fmt.Errorf("%s: %w", op, ErrInvalidPassword)
	}

	now := a.now()
	user.FailedLoginCount = 0
	user.LastLoginAt = &now
	if err := a.users.UpdateLoginOutcome(ctx, user.ID, 0, user.Status, &now); err != nil {
		log.Error("failed to record login success", sl.Err(err))
		return "", "", nil, fmt.Errorf("%s: %w", op, err)
	}

	resolvedID, resolvedName, resolvedPlatform := a.devices.Resolve(deviceID, deviceName, platform)

	accessToken, err = a.codec.IssueAccess(user)
	if err != nil {
		log.Error("failed to issue access token", sl.Err(err))
		return "", "", nil, fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, err = a.codec.IssueRefresh(user, resolvedID)
	if err != nil {
		log.Error("failed to issue refresh token", sl.Err(err))
		return "", "", nil, fmt.Errorf("%s: %w", op, err)
	}

	// The session row must be durably visible before the client can
	// refresh, so it is written on the request path. The device upsert is
	// metadata and goes through the queue.
	if _, err := a.sessions.Create(ctx, user.ID, resolvedID, refreshToken); err != nil {
		log.Error("failed to create session", sl.Err(err))
		return "", "", nil, fmt.Errorf("%s: %w", op, err)
	}

	userID := user.ID
	a.queue.Submit(func(ctx context.Context) error {
		_, err := a.devices.Upsert(ctx, userID, resolvedID, resolvedName, resolvedPlatform)
		return err
	})

	log.Info("user logged in", slog.Int64("userID", user.ID), slog.String("deviceID", resolvedID))

	return accessToken, refreshToken, user, nil
}

// RefreshAccessToken rotates a refresh token into a new access+refresh
// pair. The presented token must be a refresh token and must match an
// unconsumed session row.
func (a *Auth) RefreshAccessToken(ctx context.Context, refreshToken string) (*session.Rotated, error) {
	const op = "auth.RefreshAccessToken"
	log := a.logger.With(slog.String("op", op))
	log.Info("refresh request")

	if !a.codec.IsRefresh(refreshToken) {
		log.Warn("token is not a refresh token")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	rotated, err := a.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.devices.Touch(ctx, rotated.UserID, rotated.DeviceID); err != nil {
		// The device row may not exist yet if the login-time upsert is
		// still queued. The rotation already succeeded; don't fail it.
		log.Warn("failed to touch device", sl.Err(err))
	}

	return rotated, nil
}

// Logout revokes every session for the device the refresh token is
// bound to.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"
	log := a.logger.With(slog.String("op", op))

	if !a.codec.IsRefresh(refreshToken) {
		return fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	userID, deviceID, err := a.sessions.UserAndDevice(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			return fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sessions.RevokeAllForDevice(ctx, userID, deviceID); err != nil {
		log.Error("failed to revoke device sessions", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out", slog.Int64("userID", userID), slog.String("deviceID", deviceID))
	return nil
}

// FindLoginID recovers a login id from a matching email and name of an
// active account.
func (a *Auth) FindLoginID(ctx context.Context, email, name string) (string, error) {
	const op = "auth.FindLoginID"

	user, err := a.users.ActiveUserByEmailAndName(ctx, email, name)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", fmt.Errorf("%s: %w", op, ErrAccountNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return user.LoginID, nil
}

// VerifyAccountForReset checks that loginID and email identify the same
// active user and issues a single-use reset token, invalidating any
// prior one for that user.
func (a *Auth) VerifyAccountForReset(ctx context.Context, loginID, email string) (string, error) {
	const op = "auth.VerifyAccountForReset"
	log := a.logger.With(slog.String("op", op), slog.String("loginID", loginID))
	log.Info("account verification request")

	user, err := a.users.ActiveUserByLoginIDAndEmail(ctx, loginID, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("account not found")
			return "", fmt.Errorf("%s: %w", op, ErrAccountNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	resetToken := uuid.NewString()
	expiresAt := a.now().Add(resetTokenTTL)

	if err := a.resets.ReplaceResetToken(ctx, user.ID, resetToken, expiresAt); err != nil {
		log.Error("failed to store reset token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("reset token issued", slog.Int64("userID", user.ID))
	return resetToken, nil
}

// ResetPassword consumes a reset token exactly once and replaces the
// user's password. All refresh sessions for the user are revoked
// afterwards: a reset usually means the old password may be compromised.
func (a *Auth) ResetPassword(ctx context.Context, resetToken, newPassword, confirmPassword string) (*models.User, error) {
	const op = "auth.ResetPassword"
	log := a.logger.With(slog.String("op", op))
	log.Info("password reset request")

	if newPassword != confirmPassword {
		return nil, fmt.Errorf("%s: %w", op, ErrPasswordMismatch)
	}

	if err := password.Validate(newPassword); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	userID, err := a.resets.ConsumeResetToken(ctx, resetToken, a.now())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrResetTokenUsed):
			log.Warn("reset token replayed")
			return nil, fmt.Errorf("%s: %w", op, ErrResetTokenAlreadyUsed)
		case errors.Is(err, storage.ErrResetTokenNotFound):
			log.Warn("reset token invalid or expired")
			return nil, fmt.Errorf("%s: %w", op, ErrResetTokenInvalidOrExpired)
		default:
			log.Error("failed to consume reset token", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	user, err := a.users.UserByID(ctx, userID)
	if err != nil {
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch user.Status {
	case models.StatusLocked:
		return nil, fmt.Errorf("%s: %w", op, ErrAccountLocked)
	case models.StatusDeleted:
		return nil, fmt.Errorf("%s: %w", op, ErrAccountDeleted)
	}

	if password.Matches(user.PassHash, newPassword) {
		return nil, fmt.Errorf("%s: %w", op, ErrSameAsOldPassword)
	}

	passHash, err := password.Hash(newPassword)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.users.UpdatePassword(ctx, user.ID, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		log.Error("failed to revoke sessions after reset", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset", slog.Int64("userID", user.ID))
	return user, nil
}

// LoginIDTaken reports whether a login id is already registered.
func (a *Auth) LoginIDTaken(ctx context.Context, loginID string) (bool, error) {
	const op = "auth.LoginIDTaken"
	taken, err := a.users.LoginIDTaken(ctx, loginID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return taken, nil
}

// EmailTaken reports whether an email is already registered.
func (a *Auth) EmailTaken(ctx context.Context, email string) (bool, error) {
	const op = "auth.EmailTaken"
	taken, err := a.users.EmailTaken(ctx, email)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return taken, nil
}
