package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestLoggerFromContext_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithCorrelationID(context.Background(), "corr-1")

	LoggerFromContext(ctx, base).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "corr-1", line["correlation_id"])
}

func TestLoggerFromContext_NoCorrelationID(t *testing.T) {
	base := Discard()
	require.Same(t, base, LoggerFromContext(context.Background(), base))
	require.Empty(t, CorrelationID(context.Background()))
}

func TestConfigure_SafeAlongsideReaders(t *testing.T) {
	prev, prevDefault := Logger(), slog.Default()
	t.Cleanup(func() {
		current.Store(prev)
		slog.SetDefault(prevDefault)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Configure(io.Discard, "debug")
		}()
		go func() {
			defer wg.Done()
			LoggerFromContext(context.Background(), nil).Debug("reader")
			_ = Logger()
		}()
	}
	wg.Wait()

	var buf bytes.Buffer
	configured := Configure(&buf, "warn")
	require.Same(t, configured, Logger())
	LoggerFromContext(context.Background(), nil).Info("dropped")
	LoggerFromContext(context.Background(), nil).Warn("kept")
	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "kept")
}
