package pipeline

import "sync/atomic"

// State is a worker lifecycle phase. Transitions run one way:
// Idle -> Running -> Stopping -> Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// workerState holds the atomically-updated phase shared by all workers.
type workerState struct {
	v atomic.Int32
}

func (s *workerState) get() State {
	return State(s.v.Load())
}

func (s *workerState) set(next State) {
	s.v.Store(int32(next))
}

// transition moves from one phase to the next, failing if another goroutine
// got there first.
func (s *workerState) transition(from, to State) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
