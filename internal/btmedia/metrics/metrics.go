// Package metrics declares the fire-and-forget sink the coordinator emits
// connection-lifecycle transitions to. The coordinator depends only on the
// Sink interface; where those events end up is a host concern.
package metrics

import (
	"log/slog"
	"sync"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
)

// ConnState is the connection-state half of a profile transition record.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
	StateNotReady
)

// Event is one profile-connection transition, emitted for every non-dropped
// state change (see the profile-event handlers' dedup rule).
type Event struct {
	Addr    address.Addr
	Profile backend.AudioProfile
	State   ConnState
}

// Sink is the fire-and-forget metrics surface. EmitAsync must never block
// the caller and must never be allowed to propagate a panic back into the
// coordinator's event loop.
type Sink interface {
	EmitAsync(e Event)
}

// NoopSink discards every event. Used when no metrics backend is wired.
type NoopSink struct{}

func (NoopSink) EmitAsync(Event) {}

// LoggingSink logs events at debug level. Useful in development and tests.
type LoggingSink struct {
	logger *slog.Logger
}

func NewLoggingSink(logger *slog.Logger) *LoggingSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSink{logger: logger}
}

func (s *LoggingSink) EmitAsync(e Event) {
	s.logger.Debug("metrics event",
		"addr", e.Addr.String(),
		"profile", e.Profile.String(),
		"state", e.State,
	)
}

// ChannelSink publishes to a bounded in-memory channel, dropping events
// (and counting the drop) if the buffer is full rather than blocking the
// emitting goroutine. Used by tests to assert on the emitted sequence.
type ChannelSink struct {
	mu      sync.Mutex
	ch      chan Event
	dropped int64
}

func NewChannelSink(bufferSize int) *ChannelSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelSink{ch: make(chan Event, bufferSize)}
}

func (s *ChannelSink) EmitAsync(e Event) {
	select {
	case s.ch <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Events exposes the channel for draining in tests.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Dropped returns the number of events dropped due to a full buffer.
func (s *ChannelSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// MultiSink fans out to every wrapped sink. One slow/broken sink never
// blocks the others since EmitAsync itself must not block.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) EmitAsync(e Event) {
	for _, s := range m.sinks {
		s.EmitAsync(e)
	}
}
