package alert

import (
	"log"
	"sync"
	"time"
)

// Sink receives alert commands. Implementations must not block for long; the
// engine dispatches from its own goroutines.
type Sink interface {
	Send(cmd Command)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(cmd Command)

func (f SinkFunc) Send(cmd Command) { f(cmd) }

// LogSink writes each command to a logger
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		panic("LogSink: logger cannot be nil")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(cmd Command) {
	if cmd.Detail != "" {
		s.logger.Printf("Alert: [%s] %s - %s", cmd.ID, cmd.Title, cmd.Detail)
		return
	}
	s.logger.Printf("Alert: [%s] %s", cmd.ID, cmd.Title)
}

// FanoutSink forwards every command to each of its sinks
type FanoutSink []Sink

func (f FanoutSink) Send(cmd Command) {
	for _, s := range f {
		s.Send(cmd)
	}
}

// ChannelSink offers commands to a channel without blocking; commands are dropped
// when the channel is full
type ChannelSink struct {
	ch chan<- Command
}

func NewChannelSink(ch chan<- Command) *ChannelSink {
	if ch == nil {
		panic("ChannelSink: channel cannot be nil")
	}
	return &ChannelSink{ch: ch}
}

func (s *ChannelSink) Send(cmd Command) {
	select {
	case s.ch <- cmd:
	default:
	}
}

// ThrottledSink suppresses a command whose ID was already forwarded within the
// window. Phase changes are never throttled.
type ThrottledSink struct {
	next   Sink
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[ID]time.Time
}

func NewThrottledSink(next Sink, window time.Duration) *ThrottledSink {
	if next == nil {
		panic("ThrottledSink: next cannot be nil")
	}
	return &ThrottledSink{next: next, window: window, now: time.Now, last: make(map[ID]time.Time)}
}

func (s *ThrottledSink) Send(cmd Command) {
	if cmd.ID != IDPhaseChange {
		s.mu.Lock()
		now := s.now()
		if prev, ok := s.last[cmd.ID]; ok && now.Sub(prev) < s.window {
			s.mu.Unlock()
			return
		}
		s.last[cmd.ID] = now
		s.mu.Unlock()
	}
	s.next.Send(cmd)
}
