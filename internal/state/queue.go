package state

import "sync"

// Command is an action requested over BLE and run by the control loop.
type Command int

const (
	// CommandRefresh fetches and renders a new frame.
	CommandRefresh Command = iota
	// CommandConnectWiFi joins the configured network.
	CommandConnectWiFi
	// CommandClear wipes stored data and returns to the setup screen.
	CommandClear

	numCommands
)

func (c Command) String() string {
	switch c {
	case CommandRefresh:
		return "refresh"
	case CommandConnectWiFi:
		return "connect"
	case CommandClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Queue delivers commands from any number of producers to one consumer.
// Each kind is sticky: while a command is pending (queued or being acted
// on) further requests of the same kind are dropped, so there is at most one
// outstanding action per kind and the channel can never fill up.
type Queue struct {
	mu      sync.Mutex
	pending [numCommands]bool
	ch      chan Command
}

// NewQueue creates an empty command queue.
func NewQueue() *Queue {
	return &Queue{ch: make(chan Command, int(numCommands))}
}

// Enqueue requests cmd. It reports false when a command of the same kind is
// already outstanding or cmd is unknown. It never blocks.
func (q *Queue) Enqueue(cmd Command) bool {
	if cmd < 0 || cmd >= numCommands {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[cmd] {
		return false
	}
	q.pending[cmd] = true
	q.ch <- cmd
	return true
}

// C returns the channel the consumer receives commands on.
func (q *Queue) C() <-chan Command {
	return q.ch
}

// Done clears cmd after the consumer has acted on it, allowing it to be
// requested again.
func (q *Queue) Done(cmd Command) {
	if cmd < 0 || cmd >= numCommands {
		return
	}
	q.mu.Lock()
	q.pending[cmd] = false
	q.mu.Unlock()
}

// Pending reports whether cmd is outstanding.
func (q *Queue) Pending(cmd Command) bool {
	if cmd < 0 || cmd >= numCommands {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[cmd]
}
