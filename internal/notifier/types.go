package notifier

import (
	"context"
	"time"
)

// Config controls notification delivery.
type Config struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	RatePerSec int           // default 1
	Buffer     int           // event subscription buffer, default 64
	RetryMax   int           // extra attempts per message, default 2
	RetryBase  time.Duration // first retry delay, default 500ms
	// DedupWindow suppresses a repeat of the same state for one schedule,
	// as produced by overlapping passes. Default 1m.
	DedupWindow time.Duration
}

// Message is one outgoing chat message.
type Message struct {
	ChatID   int64
	ThreadID int
	Text     string
}

// Sender delivers a message to a chat.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type Stats struct {
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Suppressed uint64 `json:"suppressed"`
}
