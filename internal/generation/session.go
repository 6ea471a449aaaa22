// Package generation coordinates script synthesis: it validates requests,
// serializes access to the synthesis backend, and streams bounded audio
// chunks to consumers.
package generation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// terminalGracePeriod bounds how long a finished session waits for its
// consumer to take the terminal chunk after cancellation.
const terminalGracePeriod = time.Second

// State is a session's lifecycle phase.
type State int32

// Session lifecycle states. A session moves from pending to running once it
// holds the generation lock, then to exactly one terminal state.
const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Chunk is one unit of generated audio. A Chunk with Final set is the last
// one a session delivers; a terminal Chunk with a non-nil Err reports why
// generation stopped early.
type Chunk struct {
	Index      int
	PCM        []float32
	SampleRate int
	Final      bool
	Err        error
}

// Session is one accepted generation request. Audio is consumed from Chunks;
// the channel is closed after the terminal chunk.
type Session struct {
	ID        string
	CreatedAt time.Time

	chunks chan Chunk
	state  atomic.Int32
	cancel context.CancelFunc

	finishOnce sync.Once
}

func newSession(capacity int, cancel context.CancelFunc) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		chunks:    make(chan Chunk, capacity),
		cancel:    cancel,
	}
}

// Chunks returns the session's audio stream. Consumers must drain it until
// it is closed or call Cancel to stop early.
func (s *Session) Chunks() <-chan Chunk {
	return s.chunks
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Cancel requests that generation stop. Safe to call at any time and from
// any goroutine; already-finished sessions are unaffected.
func (s *Session) Cancel() {
	s.cancel()
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// finish delivers the terminal chunk, records the final state and closes the
// stream. At most one terminal chunk is ever delivered, whatever path gets
// here first wins.
func (s *Session) finish(ctx context.Context, index int, state State, err error) {
	s.finishOnce.Do(func() {
		s.setState(state)

		terminal := Chunk{Index: index, Final: true, Err: err}

		select {
		case s.chunks <- terminal:
		case <-ctx.Done():
			// The consumer may be gone. Give a draining consumer a
			// short window to take the terminal chunk, otherwise the
			// channel close below marks the end of the stream.
			select {
			case s.chunks <- terminal:
			case <-time.After(terminalGracePeriod):
			}
		}

		close(s.chunks)
	})
}
