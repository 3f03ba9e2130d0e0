package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readauth/internal/domain/models"
	"readauth/internal/storage"
)

type fakeDeviceStore struct {
	mu      sync.Mutex
	nextID  int64
	devices map[string]*models.Device
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*models.Device)}
}

func key(userID int64, deviceID string) string {
	return fmt.Sprintf("%d/%s", userID, deviceID)
}

func (f *fakeDeviceStore) DeviceByUserAndDevice(_ context.Context, userID int64, deviceID string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[key(userID, deviceID)]
	if !ok {
		return nil, storage.ErrDeviceNotFound
	}
	cp := *dev
	return &cp, nil
}

func (f *fakeDeviceStore) SaveDevice(_ context.Context, userID int64, deviceID, deviceName string, platform models.Platform, lastSeenAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.devices[key(userID, deviceID)] = &models.Device{
		ID:         f.nextID,
		UserID:     userID,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Platform:   platform,
		LastSeenAt: &lastSeenAt,
	}
	return f.nextID, nil
}

func (f *fakeDeviceStore) UpdateDevice(_ context.Context, userID int64, deviceID, deviceName string, platform models.Platform, lastSeenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[key(userID, deviceID)]
	if !ok {
		return storage.ErrDeviceNotFound
	}
	dev.DeviceName = deviceName
	dev.Platform = platform
	dev.LastSeenAt = &lastSeenAt
	return nil
}

func (f *fakeDeviceStore) TouchDevice(_ context.Context, userID int64, deviceID string, lastSeenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[key(userID, deviceID)]
	if !ok {
		return storage.ErrDeviceNotFound
	}
	dev.LastSeenAt = &lastSeenAt
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_Resolve(t *testing.T) {
	reg := New(discardLogger(), newFakeDeviceStore(), nil)

	t.Run("passthrough", func(t *testing.T) {
		id, name, platform := reg.Resolve("dev-1", "Pixel 9", "android")
		assert.Equal(t, "dev-1", id)
		assert.Equal(t, "Pixel 9", name)
		assert.Equal(t, models.PlatformAndroid, platform)
	})

	t.Run("empty id gets a fresh uuid", func(t *testing.T) {
		id, _, _ := reg.Resolve("", "Pixel 9", "IOS")
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	})

	t.Run("placeholder id gets a fresh uuid", func(t *testing.T) {
		id, _, _ := reg.Resolve("string", "Pixel 9", "IOS")
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.NotEqual(t, "string", id)
	})

	t.Run("missing name gets the default label", func(t *testing.T) {
		_, name, _ := reg.Resolve("dev-1", "", "WEB")
		assert.Equal(t, "Unknown Device", name)

		_, name, _ = reg.Resolve("dev-1", "string", "WEB")
		assert.Equal(t, "Unknown Device", name)
	})

	t.Run("unknown platform falls back to web", func(t *testing.T) {
		_, _, platform := reg.Resolve("dev-1", "Pixel 9", "blackberry")
		assert.Equal(t, models.PlatformWeb, platform)

		_, _, platform = reg.Resolve("dev-1", "Pixel 9", "")
		assert.Equal(t, models.PlatformWeb, platform)
	})
}

func TestRegistry_Upsert(t *testing.T) {
	ctx := context.Background()
	store := newFakeDeviceStore()

	base := time.Now()
	clock := base
	reg := New(discardLogger(), store, func() time.Time { return clock })

	userID := int64(gofakeit.Number(1, 1000))
	deviceID := gofakeit.UUID()

	dev, err := reg.Upsert(ctx, userID, deviceID, "Pixel 9", models.PlatformAndroid)
	require.NoError(t, err)
	assert.Equal(t, "Pixel 9", dev.DeviceName)
	require.NotNil(t, dev.LastSeenAt)
	assert.Equal(t, base, *dev.LastSeenAt)

	// Second call for the same (user, device) updates in place.
	clock = base.Add(time.Hour)
	updated, err := reg.Upsert(ctx, userID, deviceID, "Pixel 9 Pro", models.PlatformAndroid)
	require.NoError(t, err)
	assert.Equal(t, dev.ID, updated.ID)
	assert.Equal(t, "Pixel 9 Pro", updated.DeviceName)
	assert.Equal(t, clock, *updated.LastSeenAt)

	stored, err := store.DeviceByUserAndDevice(ctx, userID, deviceID)
	require.NoError(t, err)
	assert.Equal(t, "Pixel 9 Pro", stored.DeviceName)
}

func TestRegistry_Touch(t *testing.T) {
	ctx := context.Background()
	store := newFakeDeviceStore()

	base := time.Now()
	clock := base
	reg := New(discardLogger(), store, func() time.Time { return clock })

	userID := int64(1)
	deviceID := gofakeit.UUID()

	_, err := reg.Upsert(ctx, userID, deviceID, "Laptop", models.PlatformWeb)
	require.NoError(t, err)

	clock = base.Add(30 * time.Minute)
	require.NoError(t, reg.Touch(ctx, userID, deviceID))

	dev, err := store.DeviceByUserAndDevice(ctx, userID, deviceID)
	require.NoError(t, err)
	assert.Equal(t, clock, *dev.LastSeenAt)

	err = reg.Touch(ctx, userID, "no-such-device")
	require.ErrorIs(t, err, ErrDeviceNotFound)
}
