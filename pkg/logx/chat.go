package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChatFunc delivers one formatted log line to the ops chat.
type ChatFunc func(ctx context.Context, text string) error

// ChatConfig forwards warn/error lines to a chat.
type ChatConfig struct {
	Enabled    bool
	MinLevel   string // default "error"
	RatePerSec int    // default 1; burst equals the rate
}

const (
	chatQueue    = 64
	chatMaxRunes = 3500
	chatTimeout  = 10 * time.Second
)

// chatSink is a zerolog.LevelWriter. Writes never block: lines over the
// rate or beyond the queue are counted and dropped.
type chatSink struct {
	mu      sync.Mutex
	send    ChatFunc
	min     zerolog.Level
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}

	queue   chan string
	dropped atomic.Uint64
}

func newChatSink() *chatSink {
	return &chatSink{
		min:     zerolog.ErrorLevel,
		limiter: rate.NewLimiter(1, 1),
		queue:   make(chan string, chatQueue),
	}
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.min = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	if c.limiter.Burst() != rps {
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
}

func (c *chatSink) setSender(fn ChatFunc) {
	c.mu.Lock()
	c.send = fn
	c.mu.Unlock()
}

func (c *chatSink) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.queue:
			c.mu.Lock()
			send := c.send
			c.mu.Unlock()
			if send == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatTimeout)
			err := send(sctx, text)
			cancel()
			// Reporting through the logger could loop back here.
			if err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "logx: chat sink send failed: %v\n", err)
			}
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.NoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	min, lim, ready := c.min, c.limiter, c.send != nil && c.cancel != nil
	c.mu.Unlock()

	if !ready || level < min || level == zerolog.NoLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		c.dropped.Add(1)
		return len(p), nil
	}
	select {
	case c.queue <- formatChatLine(p):
	default:
		c.dropped.Add(1)
	}
	return len(p), nil
}

// formatChatLine renders a JSON log line as "[LEVEL] message" followed by
// one sorted key=value per line.
func formatChatLine(p []byte) string {
	p = bytes.TrimSpace(p)
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return clip(string(p), chatMaxRunes)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, clip(fmt.Sprint(rec[k]), 600))
	}
	return clip(b.String(), chatMaxRunes)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
