package workqueue

import (
	"context"
	"log/slog"
	"sync"

	"readauth/internal/lib/sl"
)

// Task is a unit of deferred work.
type Task func(ctx context.Context) error

// Queue runs submitted tasks on a fixed pool of workers. It exists so
// that persistence deferred off the request path goes through a visible
// submission point instead of a fire-and-forget goroutine.
type Queue struct {
	logger *slog.Logger
	tasks  chan Task
	wg     sync.WaitGroup
}

func New(logger *slog.Logger, workers, buffer int) *Queue {
	q := &Queue{
		logger: logger,
		tasks:  make(chan Task, buffer),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for task := range q.tasks {
		if err := task(context.Background()); err != nil {
			q.logger.Error("background task failed", sl.Err(err))
		}
	}
}

// Submit enqueues a task, blocking if the buffer is full.
func (q *Queue) Submit(task Task) {
	q.tasks <- task
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (q *Queue) Close() {
	close(q.tasks)
	q.wg.Wait()
}
