package logupload

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultMaxLogBytes = 180_000

var ErrNoLogs = errors.New("no log files found")

// LogFile is the tail of the newest log file.
type LogFile struct {
	Name string
	Path string
	// Content is the tail, prefixed with a marker when the file was cut.
	Content   string
	Truncated int
}

// ReadLatest reads the most recently modified *.log file in dir. Content
// longer than maxBytes is cut from the start, the newest lines are kept.
func ReadLatest(dir string, maxBytes int) (LogFile, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLogBytes
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return LogFile{}, ErrNoLogs
	}
	if err != nil {
		return LogFile{}, fmt.Errorf("reading log dir: %w", err)
	}

	var (
		newest   string
		newestAt time.Time
	)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestAt) {
			newest, newestAt = e.Name(), info.ModTime()
		}
	}
	if newest == "" {
		return LogFile{}, ErrNoLogs
	}

	path := filepath.Join(dir, newest)
	b, err := os.ReadFile(path)
	if err != nil {
		return LogFile{}, fmt.Errorf("reading log file: %w", err)
	}

	lf := LogFile{Name: newest, Path: path, Content: string(b)}
	if len(b) > maxBytes {
		start := len(b) - maxBytes
		lf.Truncated = start
		lf.Content = fmt.Sprintf("[... %d bytes truncated from start ...]\n%s", start, strings.ToValidUTF8(string(b[start:]), ""))
	}
	return lf, nil
}
