package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"surveysched/internal/activation"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNotFound is activation.ErrNotFound so callers can match either.
	ErrNotFound = activation.ErrNotFound
	ErrExists   = errors.New("schedule already exists")
	ErrEmptyID  = errors.New("schedule id is required")
)

// Config configures storage.
//
// Driver values: "memory", "file", "sqlite", "redis". Empty or "none"
// disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store is the schedule persistence used by the daemon and CLI.
type Store interface {
	activation.Store
	// Create registers an entity with an empty, non-recurring schedule.
	Create(ctx context.Context, id string) (activation.Schedule, error)
	List(ctx context.Context) ([]activation.Schedule, error)
	Close() error
}

func stamp() time.Time { return time.Now().UTC() }

// formatInstant encodes a schedule bound as RFC3339 in UTC. Unix nanoseconds
// only reach 2262, which an open-ended "9999-12-31" end date overflows.
func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseInstant reads formatInstant output. Bare integers are unix
// nanoseconds written by earlier versions.
func parseInstant(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("invalid instant " + strconv.Quote(v))
	}
	return time.Unix(0, n).UTC(), nil
}
