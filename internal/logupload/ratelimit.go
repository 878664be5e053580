package logupload

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	RateLimitFileName = "last_log_submission.txt"
	DefaultCooldown   = time.Hour
)

var ErrRateLimited = errors.New("rate limited")

// RateLimitError tells how long to wait before the next submission.
type RateLimitError struct {
	Remaining time.Duration
}

func (e *RateLimitError) Error() string {
	minutes := int(e.Remaining.Round(time.Minute) / time.Minute)
	minutes = max(minutes, 1)
	return fmt.Sprintf("Rate limit: Please wait %d minutes before submitting logs again", minutes)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RateLimiter allows one submission per cooldown. The last submission is
// a unix timestamp persisted in a file, so the limit survives restarts.
type RateLimiter struct {
	path     string
	cooldown time.Duration
	now      func() time.Time
}

func NewRateLimiter(path string, cooldown time.Duration) *RateLimiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RateLimiter{path: path, cooldown: cooldown, now: time.Now}
}

// WithClock replaces time.Now, for tests.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Last returns the last recorded submission. ok is false when there is
// none or the file is unreadable garbage.
func (l *RateLimiter) Last() (last time.Time, ok bool, err error) {
	b, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading %s: %w", l.path, err)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(ts, 0).UTC(), true, nil
}

// Check returns a *RateLimitError while the cooldown runs.
func (l *RateLimiter) Check() error {
	last, ok, err := l.Last()
	if err != nil || !ok {
		return err
	}
	elapsed := l.now().Sub(last)
	if elapsed < l.cooldown {
		return &RateLimitError{Remaining: l.cooldown - elapsed}
	}
	return nil
}

// Record stores now as the last submission.
func (l *RateLimiter) Record() error {
	ts := strconv.FormatInt(l.now().Unix(), 10)
	if err := os.WriteFile(l.path, []byte(ts), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", l.path, err)
	}
	return nil
}
