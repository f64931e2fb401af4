// Package visibility delivers application foreground/background transitions
// to subscribers. The listener manager pauses realtime subscriptions while the
// application is hidden so idle sessions hold zero live connections.
package visibility

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// State is the application's visibility.
type State int

const (
	Visible State = iota
	Hidden
)

func (s State) String() string {
	if s == Hidden {
		return "hidden"
	}
	return "visible"
}

// Source emits visibility transitions. The channel is closed when the source
// stops.
type Source interface {
	Events() <-chan State
}

// ManualSource is a Source driven by explicit calls, for embedding the
// manager in a host application that has its own visibility signal.
type ManualSource struct {
	ch chan State
}

// NewManualSource creates a ManualSource with a small buffer so emitters
// never block.
func NewManualSource() *ManualSource {
	return &ManualSource{ch: make(chan State, 8)}
}

// Events implements Source.
func (m *ManualSource) Events() <-chan State {
	return m.ch
}

// Hide emits a Hidden transition.
func (m *ManualSource) Hide() { m.emit(Hidden) }

// Show emits a Visible transition.
func (m *ManualSource) Show() { m.emit(Visible) }

func (m *ManualSource) emit(s State) {
	select {
	case m.ch <- s:
	default:
	}
}

// Close stops the source.
func (m *ManualSource) Close() {
	close(m.ch)
}

// SignalSource maps OS signals to visibility transitions: SIGUSR1 hides,
// SIGUSR2 shows. Used by the daemon, where there is no hosting page to
// observe.
type SignalSource struct {
	ch   chan State
	sigs chan os.Signal
}

// NewSignalSource starts listening for visibility signals until ctx ends.
func NewSignalSource(ctx context.Context) *SignalSource {
	s := &SignalSource{
		ch:   make(chan State, 8),
		sigs: make(chan os.Signal, 2),
	}
	signal.Notify(s.sigs, syscall.SIGUSR1, syscall.SIGUSR2)

	go func() {
		defer close(s.ch)
		defer signal.Stop(s.sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-s.sigs:
				state := Visible
				if sig == syscall.SIGUSR1 {
					state = Hidden
				}
				select {
				case s.ch <- state:
				default:
				}
			}
		}
	}()
	return s
}

// Events implements Source.
func (s *SignalSource) Events() <-chan State {
	return s.ch
}
