package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kv, "error", err)...)
}

// job is one periodic poll.
type job struct {
	name  string
	every time.Duration
	run   func()
}

// newScheduler builds a cron scheduler running each job at its period. A
// job still running when its next tick comes is skipped, and a panicking
// job is logged instead of crashing the client.
func newScheduler(log *slog.Logger, jobs ...job) (*cron.Cron, error) {
	logger := cronLogger{log: log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, j := range jobs {
		if j.every <= 0 {
			return nil, fmt.Errorf("poll %s: period must be positive, got %s", j.name, j.every)
		}
		if _, err := c.AddFunc("@every "+j.every.String(), j.run); err != nil {
			return nil, fmt.Errorf("scheduling %s poll: %w", j.name, err)
		}
		log.Info("poll scheduled", "job", j.name, "every", j.every)
	}
	return c, nil
}
