package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"readauth/internal/domain/models"
	"readauth/internal/lib/sl"
	"readauth/internal/storage"
)

// Clients that never set device fields send either nothing or the
// swagger placeholder literal.
const (
	placeholderValue  = "string"
	defaultDeviceName = "Unknown Device"
)

var ErrDeviceNotFound = errors.New("device not found")

type DeviceStore interface {
	DeviceByUserAndDevice(ctx context.Context, userID int64, deviceID string) (*models.Device, error)
	SaveDevice(ctx context.Context, userID int64, deviceID, deviceName string, platform models.Platform, lastSeenAt time.Time) (int64, error)
	UpdateDevice(ctx context.Context, userID int64, deviceID, deviceName string, platform models.Platform, lastSeenAt time.Time) error
	TouchDevice(ctx context.Context, userID int64, deviceID string, lastSeenAt time.Time) error
}

// Registry tracks the devices a user has logged in from.
type Registry struct {
	logger  *slog.Logger
	devices DeviceStore
	now     func() time.Time
}

func New(logger *slog.Logger, devices DeviceStore, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		logger:  logger,
		devices: devices,
		now:     now,
	}
}

// Resolve applies defaults to client-supplied device fields: a missing or
// placeholder device id gets a fresh UUID, a missing name gets a sentinel
// label, and an unknown platform falls back to WEB.
func (r *Registry) Resolve(deviceID, deviceName, platform string) (string, string, models.Platform) {
	if deviceID == "" || deviceID == placeholderValue {
		deviceID = uuid.NewString()
	}
	if deviceName == "" || deviceName == placeholderValue {
		deviceName = defaultDeviceName
	}
	return deviceID, deviceName, models.ParsePlatform(platform)
}

// Upsert records the device for the user, updating name, platform and
// last-seen time when a row for (userID, deviceID) already exists.
func (r *Registry) Upsert(ctx context.Context, userID int64, deviceID, deviceName string, platform models.Platform) (*models.Device, error) {
	const op = "device.Upsert"
	log := r.logger.With(
		slog.String("op", op),
		slog.Int64("userID", userID),
		slog.String("deviceID", deviceID),
	)

	now := r.now()

	existing, err := r.devices.DeviceByUserAndDevice(ctx, userID, deviceID)
	if err != nil {
		if !errors.Is(err, storage.ErrDeviceNotFound) {
			log.Error("failed to look up device", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		id, err := r.devices.SaveDevice(ctx, userID, deviceID, deviceName, platform, now)
		if err != nil {
			log.Error("failed to save device", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("device registered", slog.String("platform", string(platform)))

		return &models.Device{
			ID:         id,
			UserID:     userID,
			DeviceID:   deviceID,
			DeviceName: deviceName,
			Platform:   platform,
			LastSeenAt: &now,
		}, nil
	}

	if err := r.devices.UpdateDevice(ctx, userID, deviceID, deviceName, platform, now); err != nil {
		log.Error("failed to update device", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	existing.DeviceName = deviceName
	existing.Platform = platform
	existing.LastSeenAt = &now
	return existing, nil
}

// Touch bumps the device's last-seen time. Called after a successful
// token refresh.
func (r *Registry) Touch(ctx context.Context, userID int64, deviceID string) error {
	const op = "device.Touch"

	if err := r.devices.TouchDevice(ctx, userID, deviceID, r.now()); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return fmt.Errorf("%s: %w", op, ErrDeviceNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
