package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readauth/internal/domain/models"
	"readauth/internal/lib/jwt"
	"readauth/internal/storage"
)

const testRefreshTTL = 14 * 24 * time.Hour

type fakeSessionStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.RefreshSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{rows: make(map[int64]*models.RefreshSession)}
}

func (f *fakeSessionStore) SaveSession(_ context.Context, userID int64, deviceID, token string, expiresAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.rows[f.nextID] = &models.RefreshSession{
		ID:        f.nextID,
		UserID:    userID,
		DeviceID:  deviceID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	return f.nextID, nil
}

func (f *fakeSessionStore) SessionByToken(_ context.Context, token string) (*models.RefreshSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Token == token {
			cp := *row
			return &cp, nil
		}
	}
	return nil, storage.ErrSessionNotFound
}

func (f *fakeSessionStore) ConsumeSession(_ context.Context, sessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[sessionID]
	if !ok || row.Revoked {
		return storage.ErrSessionConsumed
	}
	row.Revoked = true
	return nil
}

func (f *fakeSessionStore) RevokeDeviceSessions(_ context.Context, userID int64, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UserID == userID && row.DeviceID == deviceID {
			row.Revoked = true
		}
	}
	return nil
}

func (f *fakeSessionStore) RevokeUserSessions(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UserID == userID {
			row.Revoked = true
		}
	}
	return nil
}

func (f *fakeSessionStore) activeCount(userID int64, deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.rows {
		if row.UserID == userID && row.DeviceID == deviceID && !row.Revoked {
			n++
		}
	}
	return n
}

type fakeUserProvider struct {
	users map[int64]*models.User
}

func (f *fakeUserProvider) UserByID(_ context.Context, userID int64) (*models.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

type sessionFixture struct {
	store   *Store
	backing *fakeSessionStore
	users   *fakeUserProvider
	codec   *jwt.Codec
	clock   *time.Time
	user    *models.User
}

func newFixture(t *testing.T) *sessionFixture {
	t.Helper()

	clock := time.Now()
	now := func() time.Time { return clock }

	user := &models.User{
		ID:      int64(gofakeit.Number(1, 100000)),
		LoginID: gofakeit.Username(),
		Role:    models.RoleUser,
		Status:  models.StatusActive,
	}

	backing := newFakeSessionStore()
	users := &fakeUserProvider{users: map[int64]*models.User{user.ID: user}}
	codec := jwt.NewCodec("test-secret", 30*time.Minute, testRefreshTTL, now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &sessionFixture{
		store:   New(logger, backing, users, codec, testRefreshTTL, now),
		backing: backing,
		users:   users,
		codec:   codec,
		clock:   &clock,
		user:    user,
	}
}

func (fx *sessionFixture) login(t *testing.T, deviceID string) string {
	t.Helper()
	token, err := fx.codec.IssueRefresh(fx.user, deviceID)
	require.NoError(t, err)
	_, err = fx.store.Create(context.Background(), fx.user.ID, deviceID, token)
	require.NoError(t, err)
	return token
}

func TestStore_Rotate(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	deviceID := gofakeit.UUID()

	token := fx.login(t, deviceID)
	require.Equal(t, 1, fx.backing.activeCount(fx.user.ID, deviceID))

	// Advance the clock so the rotated token carries a later iat and is a
	// distinct string.
	*fx.clock = fx.clock.Add(time.Minute)

	rotated, err := fx.store.Rotate(ctx, token)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.AccessToken)
	require.NotEmpty(t, rotated.RefreshToken)
	assert.NotEqual(t, token, rotated.RefreshToken)
	assert.Equal(t, fx.user.ID, rotated.UserID)
	assert.Equal(t, deviceID, rotated.DeviceID)

	// The old row is consumed, the new one active: exactly one live
	// session per device.
	assert.Equal(t, 1, fx.backing.activeCount(fx.user.ID, deviceID))

	row, err := fx.backing.SessionByToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, row.Revoked)
}

func TestStore_Rotate_ReplayIsTheft(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	deviceID := gofakeit.UUID()

	token := fx.login(t, deviceID)
	*fx.clock = fx.clock.Add(time.Minute)

	rotated, err := fx.store.Rotate(ctx, token)
	require.NoError(t, err)

	// Presenting the rotated-away token again trips theft detection.
	_, err = fx.store.Rotate(ctx, token)
	require.ErrorIs(t, err, ErrTokenTheftDetected)

	// Teardown revoked everything on the device, including the freshly
	// issued token.
	assert.Equal(t, 0, fx.backing.activeCount(fx.user.ID, deviceID))

	_, err = fx.store.Rotate(ctx, rotated.RefreshToken)
	require.ErrorIs(t, err, ErrTokenTheftDetected)
}

func TestStore_Rotate_TheftScopedToDevice(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	victimDevice := gofakeit.UUID()
	otherDevice := gofakeit.UUID()

	victimToken := fx.login(t, victimDevice)
	fx.login(t, otherDevice)
	*fx.clock = fx.clock.Add(time.Minute)

	_, err := fx.store.Rotate(ctx, victimToken)
	require.NoError(t, err)
	_, err = fx.store.Rotate(ctx, victimToken)
	require.ErrorIs(t, err, ErrTokenTheftDetected)

	assert.Equal(t, 0, fx.backing.activeCount(fx.user.ID, victimDevice))
	assert.Equal(t, 1, fx.backing.activeCount(fx.user.ID, otherDevice))
}

func TestStore_Rotate_Expired(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	deviceID := gofakeit.UUID()

	token := fx.login(t, deviceID)

	*fx.clock = fx.clock.Add(testRefreshTTL)
	_, err := fx.store.Rotate(ctx, token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestStore_Rotate_UnknownToken(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.store.Rotate(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestStore_Rotate_InactiveAccount(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	deviceID := gofakeit.UUID()

	token := fx.login(t, deviceID)
	fx.user.Status = models.StatusLocked

	_, err := fx.store.Rotate(ctx, token)
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestStore_Rotate_ConcurrentExactlyOnce(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	deviceID := gofakeit.UUID()

	token := fx.login(t, deviceID)
	*fx.clock = fx.clock.Add(time.Minute)

	const callers = 8
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.store.Rotate(ctx, token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, thefts int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, ErrTokenTheftDetected):
			thefts++
		}
	}

	// The compare-and-set admits exactly one winner; every other caller
	// observes a replay.
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, thefts)
}

func TestStore_UserAndDevice(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	deviceID := gofakeit.UUID()

	token := fx.login(t, deviceID)

	userID, gotDevice, err := fx.store.UserAndDevice(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, fx.user.ID, userID)
	assert.Equal(t, deviceID, gotDevice)

	_, _, err = fx.store.UserAndDevice(ctx, "missing")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestStore_RevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	deviceA := gofakeit.UUID()
	deviceB := gofakeit.UUID()
	fx.login(t, deviceA)
	fx.login(t, deviceB)

	require.NoError(t, fx.store.RevokeAllForUser(ctx, fx.user.ID))

	assert.Equal(t, 0, fx.backing.activeCount(fx.user.ID, deviceA))
	assert.Equal(t, 0, fx.backing.activeCount(fx.user.ID, deviceB))
}
