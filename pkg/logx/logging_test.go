package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWriter_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))

	log.Debug("hidden")
	require.Zero(t, buf.Len())

	log.Info("pass done", Int("evaluated", 3), Duration("took", time.Second), Err(errors.New("boom")))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "pass done", rec["message"])
	require.Equal(t, "test", rec["comp"])
	require.Equal(t, float64(3), rec["evaluated"])
	require.Equal(t, "boom", rec["err"])
	require.Contains(t, rec["caller"], "logging_test.go:")
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	require.True(t, zero.IsZero())
	zero.Info("no panic")

	nop := Nop()
	require.False(t, nop.IsZero())
	require.False(t, nop.Enabled(LevelError))
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "trace", "DEBUG", "info", "warning", "error"} {
		require.True(t, ValidLevel(s), s)
	}
	require.False(t, ValidLevel("loud"))
}

func TestService_ApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("dropped")
	log.Warn("kept")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(b), "dropped")
	require.Contains(t, string(b), "kept")
	require.Contains(t, string(b), "now visible")
}

func TestChatSink_ForwardsErrorsOnly(t *testing.T) {
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "out.log")},
		Chat:  ChatConfig{Enabled: true, MinLevel: "error", RatePerSec: 1},
	})
	t.Cleanup(func() { _ = svc.Close() })

	got := make(chan string, 4)
	svc.SetChatSink(func(_ context.Context, text string) error {
		got <- text
		return nil
	})

	log.Warn("only a warning")
	log.Error("boom", String("schedule", "s1"))

	select {
	case text := <-got:
		require.Contains(t, text, "[ERROR] boom")
		require.Contains(t, text, "schedule=s1")
		require.NotContains(t, text, "only a warning")
	case <-time.After(2 * time.Second):
		t.Fatal("chat line not delivered")
	}
}

func TestChatSink_RateLimitDrops(t *testing.T) {
	svc, log := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "out.log")},
		Chat:  ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 1},
	})
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetChatSink(func(context.Context, string) error { return nil })

	for i := 0; i < 3; i++ {
		log.Error("flood")
	}
	require.GreaterOrEqual(t, svc.ChatDropped(), uint64(1))
}

func TestChatSink_DisabledSendsNothing(t *testing.T) {
	svc, log := New(Config{File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "out.log")}})
	t.Cleanup(func() { _ = svc.Close() })

	called := make(chan struct{}, 1)
	svc.SetChatSink(func(context.Context, string) error { called <- struct{}{}; return nil })
	log.Error("not forwarded")

	select {
	case <-called:
		t.Fatal("chat sink called while disabled")
	case <-time.After(100 * time.Millisecond):
	}
	require.Zero(t, svc.ChatDropped())
}

func TestFormatChatLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"2025-01-01T00:00:00.000Z","message":"store slow","took":"2s","caller":"x.go:1"}`)
	require.Equal(t, "[WARN] store slow\ncaller=x.go:1\ntook=2s", formatChatLine(line))

	require.Equal(t, "not json", formatChatLine([]byte("not json\n")))
}
