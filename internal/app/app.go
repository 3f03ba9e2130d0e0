package app

import (
	"context"
	"log/slog"
	"time"

	httpapp "readauth/internal/app/http"
	"readauth/internal/config"
	authhandler "readauth/internal/http/auth"
	"readauth/internal/lib/jwt"
	"readauth/internal/lib/workqueue"
	authservice "readauth/internal/services/auth"
	"readauth/internal/services/device"
	"readauth/internal/services/session"
	"readauth/internal/storage/mongodb"
	"readauth/internal/storage/sqlite"
)

const (
	queueWorkers = 4
	queueBuffer  = 64
)

const (
	storageSQLite  = "sqlite"
	storageMongoDB = "mongodb"
)

// store is the full persistence surface both backends implement.
type store interface {
	authservice.UserStore
	authservice.ResetTokenStore
	session.SessionStore
	device.DeviceStore
}

type App struct {
	HTTPSrv      *httpapp.App
	queue        *workqueue.Queue
	closeStorage func() error
}

func New(logger *slog.Logger, cfg *config.Config) *App {
	storage, closeStorage := newStorage(cfg)

	codec := jwt.NewCodec(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL, nil)
	queue := workqueue.New(logger, queueWorkers, queueBuffer)

	devices := device.New(logger, storage, nil)
	sessions := session.New(logger, storage, storage, codec, cfg.JWT.RefreshTokenTTL, nil)
	authService := authservice.New(logger, storage, storage, sessions, devices, codec, queue, nil)

	handler := authhandler.NewHandler(authService)
	httpApp := httpapp.New(logger, codec, handler, cfg.HTTP.Port, cfg.HTTP.Timeout)

	return &App{
		HTTPSrv:      httpApp,
		queue:        queue,
		closeStorage: closeStorage,
	}
}

func newStorage(cfg *config.Config) (store, func() error) {
	switch cfg.Storage.Type {
	case storageMongoDB:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st, err := mongodb.New(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			panic(err)
		}
		return st, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return st.Close(ctx)
		}
	case storageSQLite, "":
		st, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			panic(err)
		}
		return st, st.Close
	default:
		panic("unknown storage type: " + cfg.Storage.Type)
	}
}

// Stop shuts the server down, drains the work queue and closes storage.
func (a *App) Stop() {
	a.HTTPSrv.Stop()
	a.queue.Close()
	_ = a.closeStorage()
}
