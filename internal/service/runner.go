package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const maxLineSize = 1 << 20

// run is one worker lifetime: the process and its two output readers.
type run struct {
	id      string
	cmd     *exec.Cmd
	started time.Time
	// done is closed after the stopped event was published
	done chan struct{}
}

func (r *run) pid() int {
	if r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

func (r *run) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// monitor owns the readers of a run. Stdout closing is the completion
// signal, stderr gets drainTimeout more to deliver its last lines, then the
// exit status is collected and the stopped event published.
func (s *Supervisor) monitor(ctx context.Context, r *run, stdout, stderr io.Reader) {
	var g errgroup.Group
	stdoutDone := make(chan struct{})
	g.Go(func() error {
		defer close(stdoutDone)
		return s.readLines(ctx, r, stdout, Classify)
	})
	g.Go(func() error {
		return s.readLines(ctx, r, stderr, func(string) Level { return LevelError })
	})

	<-stdoutDone
	readersDone := make(chan error, 1)
	go func() {
		readersDone <- g.Wait()
	}()

	drained := false
	select {
	case err := <-readersDone:
		drained = true
		if err != nil {
			slog.ErrorContext(ctx, "reading worker output", "error", err)
		}
	case <-time.After(s.drainTimeout):
		slog.DebugContext(ctx, "stderr still open after stdout closed")
	}

	waitErr := r.cmd.Wait()
	if !drained {
		// Wait closed the pipes, the stderr reader returns now
		<-readersDone
	}

	exitCode := -1
	if r.cmd.ProcessState != nil {
		exitCode = r.cmd.ProcessState.ExitCode()
	}
	slog.InfoContext(ctx, "worker exited", "exit_code", exitCode, "error", waitErr, "uptime", time.Since(r.started).Round(time.Millisecond).String())

	s.mx.Lock()
	if s.run == r {
		s.run = nil
		s.state = Idle
	}
	s.mx.Unlock()

	s.bus.publish(Event{
		Kind:     EventStopped,
		RunID:    r.id,
		ExitCode: exitCode,
		Err:      waitErr,
	})
	close(r.done)
}

func (s *Supervisor) readLines(ctx context.Context, r *run, src io.Reader, classify func(string) Level) error {
	br := bufio.NewReaderSize(src, 64*1024)
	var (
		line      []byte
		truncated bool
	)
	for {
		frag, isPrefix, err := br.ReadLine()
		// a line longer than maxLineSize is cut, the rest of it skipped
		if room := maxLineSize - len(line); len(frag) > room {
			frag = frag[:room]
			truncated = true
		}
		line = append(line, frag...)
		if err != nil {
			if len(line) > 0 {
				s.emitLine(ctx, r, line, truncated, classify)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if isPrefix {
			continue
		}
		s.emitLine(ctx, r, line, truncated, classify)
		line, truncated = line[:0], false
	}
}

func (s *Supervisor) emitLine(ctx context.Context, r *run, raw []byte, truncated bool, classify func(string) Level) {
	line := strings.TrimSuffix(string(raw), "\r")
	if truncated {
		slog.WarnContext(ctx, "worker line too long, truncated", "max_bytes", maxLineSize)
	}
	level := classify(line)
	slog.Log(ctx, slogLevel(level), line, "source", "worker", "level_hint", string(level))
	s.bus.publish(Event{
		Kind:    EventLog,
		RunID:   r.id,
		Level:   level,
		Message: line,
	})
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarning:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
