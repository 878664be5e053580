package service

import (
	"sync"
)

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelSuccess Level = "success"
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
)

type EventKind int

const (
	// EventLog carries one line of worker output.
	EventLog EventKind = iota
	// EventStopped is sent once per worker lifetime, after the worker
	// closed its output and exited.
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventLog:
		return "log"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Level and Message are set for EventLog,
// ExitCode and Err for EventStopped.
type Event struct {
	Kind     EventKind
	RunID    string
	Level    Level
	Message  string
	ExitCode int
	Err      error
}

// bus fans events out to subscribers without blocking the publisher, an
// event is dropped for a subscriber whose buffer is full.
type bus struct {
	mx   sync.RWMutex
	subs map[chan Event]struct{}
}

func newBus() *bus {
	return &bus{subs: make(map[chan Event]struct{})}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mx.Lock()
	b.subs[ch] = struct{}{}
	b.mx.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mx.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mx.Unlock()
		})
	}
	return ch, cancel
}

func (b *bus) publish(e Event) (delivered int) {
	b.mx.RLock()
	defer b.mx.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
			delivered++
		default:
		}
	}
	return delivered
}
