package logupload_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inboxhunter/inboxhunter/internal/logupload"
	"github.com/stretchr/testify/require"
)

func TestReadLatest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := logupload.ReadLatest(dir, 0)
	require.ErrorIs(t, err, logupload.ErrNoLogs)
	_, err = logupload.ReadLatest(filepath.Join(dir, "missing"), 0)
	require.ErrorIs(t, err, logupload.ErrNoLogs)

	now := time.Now()
	write := func(name, content string, age time.Duration) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		require.NoError(t, os.Chtimes(p, now.Add(-age), now.Add(-age)))
	}
	write("old.log", "old", time.Hour)
	write("new.log", "0123456789", time.Minute)
	write("newest.txt", "not a log", 0)

	lf, err := logupload.ReadLatest(dir, 0)
	require.NoError(t, err)
	require.Equal(t, "new.log", lf.Name)
	require.Equal(t, "0123456789", lf.Content)
	require.Zero(t, lf.Truncated)

	lf, err = logupload.ReadLatest(dir, 4)
	require.NoError(t, err)
	require.Equal(t, 6, lf.Truncated)
	require.True(t, strings.HasPrefix(lf.Content, "[... 6 bytes truncated from start ...]\n"))
	require.True(t, strings.HasSuffix(lf.Content, "\n6789"))
}
