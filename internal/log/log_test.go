package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/inboxhunter/inboxhunter/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, closer := log.New(log.Options{Verbose: true, Stderr: &buf})
	t.Cleanup(func() { _ = closer.Close() })

	ctx := log.ContextAttrs(t.Context(), slog.String("run_id", "abc"))
	logger.DebugContext(ctx, "hello", "pid", 42)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.Equal(t, "abc", rec["run_id"])
	require.EqualValues(t, 42, rec["pid"])
}

func TestContextAttrs_Siblings(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, _ := log.New(log.Options{Stderr: &buf})

	base := log.ContextAttrs(t.Context(), slog.String("cmd", "run"))
	a := log.ContextAttrs(base, slog.String("side", "a"))
	_ = log.ContextAttrs(base, slog.String("side", "b"))
	logger.InfoContext(a, "msg")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "a", rec["side"])
}

func TestNew_File(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, closer := log.New(log.Options{Dir: dir, MaxSizeMB: 1, Stderr: &buf})
	logger.InfoContext(t.Context(), "to file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(filepath.Join(dir, log.FileName))
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"to file"`)
	require.Equal(t, buf.String(), string(b))
}

func TestNew_Level(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, _ := log.New(log.Options{Stderr: &buf})
	logger.DebugContext(t.Context(), "hidden")
	require.Empty(t, buf.String())
}
