package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"readauth/internal/domain/models"
	"readauth/internal/storage"
)

type Storage struct {
	client   *mongo.Client
	database *mongo.Database
	users    *mongo.Collection
	sessions *mongo.Collection
	devices  *mongo.Collection
	resets   *mongo.Collection
	counters *mongo.Collection
}

type userDoc struct {
	ID               int64         `bson:"_id"`
	LoginID          string        `bson:"login_id"`
	Email            string        `bson:"email"`
	Name             string        `bson:"name"`
	PassHash         []byte        `bson:"pass_hash"`
	Role             models.Role   `bson:"role"`
	Status           models.Status `bson:"status"`
	FailedLoginCount int           `bson:"failed_login_count"`
	LastLoginAt      *time.Time    `bson:"last_login_at,omitempty"`
	CreatedAt        time.Time     `bson:"created_at"`
}

type sessionDoc struct {
	ID        int64     `bson:"_id"`
	UserID    int64     `bson:"user_id"`
	DeviceID  string    `bson:"device_id"`
	Token     string    `bson:"token"`
	ExpiresAt time.Time `bson:"expires_at"`
	Revoked   bool      `bson:"revoked"`
	CreatedAt time.Time `bson:"created_at"`
}

type deviceDoc struct {
	ID         int64           `bson:"_id"`
	UserID     int64           `bson:"user_id"`
	DeviceID   string          `bson:"device_id"`
	DeviceName string          `bson:"device_name"`
	Platform   models.Platform `bson:"platform"`
	LastSeenAt *time.Time      `bson:"last_seen_at,omitempty"`
	CreatedAt  time.Time       `bson:"created_at"`
}

type resetTokenDoc struct {
	ID        int64     `bson:"_id"`
	UserID    int64     `bson:"user_id"`
	Token     string    `bson:"token"`
	ExpiresAt time.Time `bson:"expires_at"`
	Used      bool      `bson:"used"`
	CreatedAt time.Time `bson:"created_at"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		users:    db.Collection("users"),
		sessions: db.Collection("refresh_sessions"),
		devices:  db.Collection("user_devices"),
		resets:   db.Collection("reset_tokens"),
		counters: db.Collection("counters"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
		name  string
	}{
		{s.users, mongo.IndexModel{
			Keys:    bson.D{{Key: "login_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, "users.login_id"},
		{s.users, mongo.IndexModel{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, "users.email"},
		{s.sessions, mongo.IndexModel{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, "refresh_sessions.token"},
		{s.sessions, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "device_id", Value: 1}},
		}, "refresh_sessions.user_device"},
		{s.sessions, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}, "refresh_sessions.expires_at TTL"},
		{s.devices, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "device_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, "user_devices.user_device"},
		{s.resets, mongo.IndexModel{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, "reset_tokens.token"},
		{s.resets, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}, "reset_tokens.expires_at TTL"},
	}

	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("%s index: %w", idx.name, err)
		}
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// nextID atomically increments and returns the next ID for a given collection.
func (s *Storage) nextID(ctx context.Context, collectionName string) (int64, error) {
	filter := bson.D{{Key: "_id", Value: collectionName}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// ---- users ----

func (s *Storage) SaveUser(ctx context.Context, loginID, email, name string, passHash []byte) (int64, error) {
	const op = "storage.mongodb.SaveUser"

	id, err := s.nextID(ctx, "users")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	doc := userDoc{
		ID:        id,
		LoginID:   loginID,
		Email:     email,
		Name:      name,
		PassHash:  passHash,
		Role:      models.RoleUser,
		Status:    models.StatusActive,
		CreatedAt: time.Now(),
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) findUser(ctx context.Context, op string, filter bson.D) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &models.User{
		ID:               doc.ID,
		LoginID:          doc.LoginID,
		Email:            doc.Email,
		Name:             doc.Name,
		PassHash:         doc.PassHash,
		Role:             doc.Role,
		Status:           doc.Status,
		FailedLoginCount: doc.FailedLoginCount,
		LastLoginAt:      doc.LastLoginAt,
		CreatedAt:        doc.CreatedAt,
	}, nil
}

func (s *Storage) UserByLoginID(ctx context.Context, loginID string) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.UserByLoginID",
		bson.D{{Key: "login_id", Value: loginID}})
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.UserByID",
		bson.D{{Key: "_id", Value: userID}})
}

func (s *Storage) ActiveUserByLoginIDAndEmail(ctx context.Context, loginID, email string) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.ActiveUserByLoginIDAndEmail", bson.D{
		{Key: "login_id", Value: loginID},
		{Key: "email", Value: email},
		{Key: "status", Value: models.StatusActive},
	})
}

func (s *Storage) ActiveUserByEmailAndName(ctx context.Context, email, name string) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.ActiveUserByEmailAndName", bson.D{
		{Key: "email", Value: email},
		{Key: "name", Value: name},
		{Key: "status", Value: models.StatusActive},
	})
}

func (s *Storage) LoginIDTaken(ctx context.Context, loginID string) (bool, error) {
	const op = "storage.mongodb.LoginIDTaken"
	n, err := s.users.CountDocuments(ctx, bson.D{{Key: "login_id", Value: loginID}})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func (s *Storage) EmailTaken(ctx context.Context, email string) (bool, error) {
	const op = "storage.mongodb.EmailTaken"
	n, err := s.users.CountDocuments(ctx, bson.D{{Key: "email", Value: email}})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func (s *Storage) UpdateLoginOutcome(ctx context.Context, userID int64, failedCount int, status models.Status, lastLoginAt *time.Time) error {
	const op = "storage.mongodb.UpdateLoginOutcome"

	set := bson.D{
		{Key: "failed_login_count", Value: failedCount},
		{Key: "status", Value: status},
	}
	if lastLoginAt != nil {
		set = append(set, bson.E{Key: "last_login_at", Value: *lastLoginAt})
	}

	_, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) UpdatePassword(ctx context.Context, userID int64, passHash []byte) error {
	const op = "storage.mongodb.UpdatePassword"

	result, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "pass_hash", Value: passHash}}}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

// ---- refresh sessions ----

func (s *Storage) SaveSession(ctx context.Context, userID int64, deviceID, token string, expiresAt time.Time) (int64, error) {
	const op = "storage.mongodb.SaveSession"

	id, err := s.nextID(ctx, "refresh_sessions")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	doc := sessionDoc{
		ID:        id,
		UserID:    userID,
		DeviceID:  deviceID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (s *Storage) SessionByToken(ctx context.Context, token string) (*models.RefreshSession, error) {
	const op = "storage.mongodb.SessionByToken"

	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.D{{Key: "token", Value: token}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.RefreshSession{
		ID:        doc.ID,
		UserID:    doc.UserID,
		DeviceID:  doc.DeviceID,
		Token:     doc.Token,
		ExpiresAt: doc.ExpiresAt,
		Revoked:   doc.Revoked,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// ConsumeSession flips revoked to true if and only if the row is still
// unrevoked. Exactly one of two concurrent callers can win.
func (s *Storage) ConsumeSession(ctx context.Context, sessionID int64) error {
	const op = "storage.mongodb.ConsumeSession"

	result, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}, {Key: "revoked", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked", Value: true}}}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.ModifiedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrSessionConsumed)
	}
	return nil
}

func (s *Storage) RevokeDeviceSessions(ctx context.Context, userID int64, deviceID string) error {
	const op = "storage.mongodb.RevokeDeviceSessions"

	_, err := s.sessions.UpdateMany(ctx,
		bson.D{{Key: "user_id", Value: userID}, {Key: "device_id", Value: deviceID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked", Value: true}}}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RevokeUserSessions(ctx context.Context, userID int64) error {
	const op = "storage.mongodb.RevokeUserSessions"

	_, err := s.sessions.UpdateMany(ctx,
		bson.D{{Key: "user_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked", Value: true}}}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ---- devices ----

func (s *Storage) DeviceByUserAndDevice(ctx context.Context, userID int64, deviceID string) (*models.Device, error) {
	const op = "storage.mongodb.DeviceByUserAndDevice"

	var doc deviceDoc
	err := s.devices.FindOne(ctx,
		bson.D{{Key: "user_id", Value: userID}, {Key: "device_id", Value: deviceID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrDeviceNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Device{
		ID:         doc.ID,
		UserID:     doc.UserID,
		DeviceID:   doc.DeviceID,
		DeviceName: doc.DeviceName,
		Platform:   doc.Platform,
		LastSeenAt: doc.LastSeenAt,
		CreatedAt:  doc.CreatedAt,
	}, nil
}

func (s *Storage) SaveDevice(ctx context.Context, userID int64, deviceID, deviceName string, platform models.Platform, lastSeenAt time.Time) (int64, error) {
	const op = "storage.mongodb.SaveDevice"

	id, err := s.nextID(ctx, "user_devices")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	doc := deviceDoc{
		ID:         id,
		UserID:     userID,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Platform:   platform,
		LastSeenAt: &lastSeenAt,
		CreatedAt:  time.Now(),
	}

	if _, err := s.devices.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (s *Storage) UpdateDevice(ctx context.Context, userID int64, deviceID, deviceName string, platform models.Platform, lastSeenAt time.Time) error {
	const op = "storage.mongodb.UpdateDevice"

	result, err := s.devices.UpdateOne(ctx,
		bson.D{{Key: "user_id", Value: userID}, {Key: "device_id", Value: deviceID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "device_name", Value: deviceName},
			{Key: "platform", Value: platform},
			{Key: "last_seen_at", Value: lastSeenAt},
		}}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrDeviceNotFound)
	}
	return nil
}

func (s *Storage) TouchDevice(ctx context.Context, userID int64, deviceID string, lastSeenAt time.Time) error {
	const op = "storage.mongodb.TouchDevice"

	result, err := s.devices.UpdateOne(ctx,
		bson.D{{Key: "user_id", Value: userID}, {Key: "device_id", Value: deviceID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "last_seen_at", Value: lastSeenAt}}}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrDeviceNotFound)
	}
	return nil
}

// ---- reset tokens ----

func (s *Storage) ReplaceResetToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	const op = "storage.mongodb.ReplaceResetToken"

	if _, err := s.resets.DeleteMany(ctx, bson.D{{Key: "user_id", Value: userID}}); err != nil {
		return fmt.Errorf("%s: delete old: %w", op, err)
	}

	id, err := s.nextID(ctx, "reset_tokens")
	if err != nil {
		return fmt.Errorf("%s: nextID: %w", op, err)
	}

	doc := resetTokenDoc{
		ID:        id,
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	if _, err := s.resets.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%s: insert: %w", op, err)
	}
	return nil
}

// ConsumeResetToken marks the token used if and only if it is still
// unused and unexpired, returning the owning user id.
func (s *Storage) ConsumeResetToken(ctx context.Context, token string, now time.Time) (int64, error) {
	const op = "storage.mongodb.ConsumeResetToken"

	filter := bson.D{
		{Key: "token", Value: token},
		{Key: "used", Value: false},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "used", Value: true}}}}

	var doc resetTokenDoc
	err := s.resets.FindOneAndUpdate(ctx, filter, update).Decode(&doc)
	if err == nil {
		return doc.UserID, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	// The conditional update matched nothing; look at the raw row to tell
	// a replayed token apart from a missing or expired one.
	var existing resetTokenDoc
	err = s.resets.FindOne(ctx, bson.D{{Key: "token", Value: token}}).Decode(&existing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrResetTokenNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if existing.Used && existing.ExpiresAt.After(now) {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrResetTokenUsed)
	}
	return 0, fmt.Errorf("%s: %w", op, storage.ErrResetTokenNotFound)
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
