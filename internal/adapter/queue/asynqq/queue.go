// Package asynqq adapts asynq as the delayed job queue used for tier-aware
// notification scheduling.
package asynqq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Retention keeps completed tasks inspectable for a day.
const retention = 24 * time.Hour

// Queue submits delayed jobs with unique-ID dedup. It implements
// domain.DelayQueue.
type Queue struct {
	client *asynq.Client
}

// New constructs a Queue against the given Redis address.
func New(redisAddr, redisPassword string, redisDB int) *Queue {
	return &Queue{client: asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})}
}

// Add enqueues payload under the task type name, to run after delay. A job
// with the same uniqueID that is still pending or retained is silently
// dropped; the dedup is what makes dispatch scheduling idempotent.
func (q *Queue) Add(ctx context.Context, name string, payload []byte, delay time.Duration, uniqueID string) error {
	opts := []asynq.Option{
		asynq.ProcessIn(delay),
		asynq.MaxRetry(5),
		asynq.Retention(retention),
	}
	if uniqueID != "" {
		opts = append(opts, asynq.TaskID(uniqueID))
	}
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(name, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		slog.Info("delay job already scheduled, skipping",
			slog.String("task", name),
			slog.String("unique_id", uniqueID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("op=queue.Add task=%s: %w", name, err)
	}
	slog.Info("delay job scheduled",
		slog.String("task", name),
		slog.String("id", info.ID),
		slog.Duration("delay", delay))
	return nil
}

// Close releases the underlying client.
func (q *Queue) Close() error { return q.client.Close() }

// Server consumes delayed jobs with a bounded concurrency cap.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewServer constructs a consumer server. Concurrency caps the number of jobs
// executing at once.
func NewServer(redisAddr, redisPassword string, redisDB, concurrency int) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword, DB: redisDB},
		asynq.Config{
			Concurrency: concurrency,
			Logger:      slogAdapter{},
		},
	)
	return &Server{srv: srv, mux: asynq.NewServeMux()}
}

// Handle registers a handler for the named task type. The raw payload bytes
// are passed through.
func (s *Server) Handle(name string, h func(ctx context.Context, payload []byte) error) {
	s.mux.HandleFunc(name, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t.Payload())
	})
}

// Start runs the server in the background.
func (s *Server) Start() error {
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("op=queue.Start: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight jobs and stops the server.
func (s *Server) Shutdown() { s.srv.Shutdown() }

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...)) }
func (slogAdapter) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...)) }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...)) }
func (slogAdapter) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
func (slogAdapter) Fatal(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
