package workqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_RunsAllTasks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := New(logger, 4, 16)

	var ran atomic.Int64
	const tasks = 100
	for i := 0; i < tasks; i++ {
		q.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	q.Close()
	assert.Equal(t, int64(tasks), ran.Load())
}

func TestQueue_FailedTaskDoesNotStopWorkers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := New(logger, 1, 4)

	var ran atomic.Int64
	q.Submit(func(ctx context.Context) error {
		return errors.New("boom")
	})
	q.Submit(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	q.Close()
	assert.Equal(t, int64(1), ran.Load())
}
