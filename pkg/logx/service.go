package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string // default ./surveysched.log
}

// Service owns the log sinks. Loggers from it pick up every Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File
	chat *chatSink

	cur atomic.Pointer[zerolog.Logger]
}

// New builds the service and applies cfg.
func New(cfg Config) (*Service, Logger) {
	s := &Service{chat: newChatSink()}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) current() zerolog.Logger {
	if zl := s.cur.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// SetChatSink sets where chat lines go. nil turns the chat sink into a
// no-op until a sender is set again.
func (s *Service) SetChatSink(fn ChatFunc) { s.chat.setSender(fn) }

// ChatDropped counts chat lines skipped by the rate limit or a full queue.
func (s *Service) ChatDropped() uint64 { return s.chat.dropped.Load() }

// Apply rebuilds the sinks from cfg. A file that cannot be opened is
// reported on stderr and skipped; the other sinks still apply.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	s.chat.configure(cfg.Chat)
	if cfg.Chat.Enabled {
		s.chat.start()
		outs = append(outs, s.chat)
	} else {
		s.chat.stop()
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.cur.Store(&zl)
}

// Close stops the chat worker and closes the log file. Logging after Close
// still reaches the console.
func (s *Service) Close() error {
	s.chat.stop()

	s.mu.Lock()
	f := s.file
	s.file = nil
	zl := zerolog.New(consoleWriter(os.Stdout)).Level(s.current().GetLevel()).With().Timestamp().Logger()
	s.cur.Store(&zl)
	s.mu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./surveysched.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
