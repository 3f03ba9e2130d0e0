package jwt

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readauth/internal/domain/models"
)

const (
	testSecret     = "test-secret"
	testAccessTTL  = 30 * time.Minute
	testRefreshTTL = 14 * 24 * time.Hour
)

func testUser() *models.User {
	return &models.User{
		ID:      int64(gofakeit.Number(1, 100000)),
		LoginID: gofakeit.Username(),
		Email:   gofakeit.Email(),
		Role:    models.RoleUser,
		Status:  models.StatusActive,
	}
}

func TestCodec_AccessRoundTrip(t *testing.T) {
	base := time.Now()
	codec := NewCodec(testSecret, testAccessTTL, testRefreshTTL, func() time.Time { return base })

	user := testUser()

	token, err := codec.IssueAccess(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := codec.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.LoginID, claims.LoginID())
	assert.Equal(t, user.Role, claims.Role)
	assert.False(t, claims.IsRefresh())
	assert.Equal(t, base.Add(testAccessTTL).Unix(), claims.ExpiresAt.Unix())
}

func TestCodec_RefreshRoundTrip(t *testing.T) {
	base := time.Now()
	codec := NewCodec(testSecret, testAccessTTL, testRefreshTTL, func() time.Time { return base })

	user := testUser()
	deviceID := gofakeit.UUID()

	token, err := codec.IssueRefresh(user, deviceID)
	require.NoError(t, err)

	claims, err := codec.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, deviceID, claims.DeviceID)
	assert.True(t, claims.IsRefresh())
	assert.Equal(t, base.Add(testRefreshTTL).Unix(), claims.ExpiresAt.Unix())
}

func TestCodec_ExpiryBoundary(t *testing.T) {
	base := time.Now()
	clock := base
	codec := NewCodec(testSecret, testAccessTTL, testRefreshTTL, func() time.Time { return clock })

	token, err := codec.IssueAccess(testUser())
	require.NoError(t, err)

	// One instant before expiry the token is still valid.
	clock = base.Add(testAccessTTL - time.Second)
	_, err = codec.Verify(token)
	require.NoError(t, err)

	// Exactly at expiry it is already expired.
	clock = base.Add(testAccessTTL)
	_, err = codec.Verify(token)
	require.ErrorIs(t, err, ErrTokenExpired)

	clock = base.Add(testAccessTTL + time.Hour)
	_, err = codec.Verify(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestCodec_WrongSecret(t *testing.T) {
	codec := NewCodec(testSecret, testAccessTTL, testRefreshTTL, nil)
	other := NewCodec("another-secret", testAccessTTL, testRefreshTTL, nil)

	token, err := codec.IssueAccess(testUser())
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCodec_Malformed(t *testing.T) {
	codec := NewCodec(testSecret, testAccessTTL, testRefreshTTL, nil)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := codec.Verify(token)
		require.ErrorIs(t, err, ErrTokenMalformed, "token %q", token)
	}
}

func TestCodec_IsRefresh(t *testing.T) {
	codec := NewCodec(testSecret, testAccessTTL, testRefreshTTL, nil)
	user := testUser()

	access, err := codec.IssueAccess(user)
	require.NoError(t, err)
	refresh, err := codec.IssueRefresh(user, gofakeit.UUID())
	require.NoError(t, err)

	assert.False(t, codec.IsRefresh(access))
	assert.True(t, codec.IsRefresh(refresh))
	assert.False(t, codec.IsRefresh("garbage"))
}

func TestCodec_IsRefreshIgnoresExpiry(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	codec := NewCodec(testSecret, testAccessTTL, time.Hour, func() time.Time { return past })

	refresh, err := codec.IssueRefresh(testUser(), gofakeit.UUID())
	require.NoError(t, err)

	live := NewCodec(testSecret, testAccessTTL, time.Hour, nil)
	_, err = live.Verify(refresh)
	require.ErrorIs(t, err, ErrTokenExpired)

	assert.True(t, live.IsRefresh(refresh))
}
