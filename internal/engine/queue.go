package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
)

// CommandKind distinguishes between command kinds.
type CommandKind int

const (
	// CommandTick runs the random pass.
	CommandTick CommandKind = iota + 1
	// CommandEvent runs the event pass.
	CommandEvent
	// CommandRespond resolves a pending response.
	CommandRespond
	// CommandReload swaps the registry.
	CommandReload
)

func (k CommandKind) String() string {
	switch k {
	case CommandTick:
		return "tick"
	case CommandEvent:
		return "event"
	case CommandRespond:
		return "respond"
	case CommandReload:
		return "reload"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is one unit of work for the Run loop.
type Command struct {
	Kind CommandKind

	Tick int64 // CommandTick

	EventType string       // CommandEvent
	Payload   ir.Variables // CommandEvent

	EmissionID string // CommandRespond
	Key        string // CommandRespond

	Registry *registry.Registry // CommandReload
}

// Outcome is what the Run loop hands to the Sink after each command.
type Outcome struct {
	Command Command

	// Result is set for tick and event commands.
	Result PassResult

	// Action and Err are set for respond commands.
	Action ir.ActionDirective
	Err    error
}

// Sink receives outcomes in command order. A Sink error stops the loop.
type Sink interface {
	Deliver(ctx context.Context, out Outcome) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, out Outcome) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, out Outcome) error { return f(ctx, out) }

// Loop serializes commands from many producers (stdin reader, cron
// scheduler, file watcher) onto one goroutine so outcomes reach the sink in
// the order they were submitted.
type Loop struct {
	engine *Engine
	queue  *commandQueue
}

// NewLoop creates a loop driving e.
func NewLoop(e *Engine) *Loop {
	return &Loop{engine: e, queue: newCommandQueue()}
}

// Submit enqueues cmd. Returns false once the loop is closed.
// Thread-safe: may be called from any goroutine.
func (l *Loop) Submit(cmd Command) bool {
	return l.queue.Enqueue(cmd)
}

// Close stops accepting commands. Run drains what is queued and returns.
func (l *Loop) Close() {
	l.queue.Close()
}

// Pending returns the number of queued commands.
func (l *Loop) Pending() int {
	return l.queue.Len()
}

// Run processes commands until the queue is closed and drained, ctx is
// cancelled, or the sink fails.
func (l *Loop) Run(ctx context.Context, sink Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, ok := l.queue.TryDequeue()
		if !ok {
			if l.queue.Drained() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.queue.Wait():
			}
			continue
		}

		out, err := l.process(cmd)
		if err != nil {
			return err
		}
		if err := sink.Deliver(ctx, out); err != nil {
			return fmt.Errorf("deliver %s: %w", cmd.Kind, err)
		}
	}
}

func (l *Loop) process(cmd Command) (Outcome, error) {
	out := Outcome{Command: cmd}
	switch cmd.Kind {
	case CommandTick:
		out.Result = l.engine.Tick(cmd.Tick)
	case CommandEvent:
		out.Result = l.engine.HandleEvent(cmd.EventType, cmd.Payload)
	case CommandRespond:
		out.Action, out.Err = l.engine.Respond(cmd.EmissionID, cmd.Key)
	case CommandReload:
		l.engine.Reload(cmd.Registry)
	default:
		return out, fmt.Errorf("unknown command kind %d", int(cmd.Kind))
	}
	return out, nil
}

// commandQueue is an unbounded, thread-safe FIFO of commands.
//
// A buffered signal channel (size 1) coalesces wakeups so the Run loop can
// wait on it together with ctx.Done().
type commandQueue struct {
	mu       sync.Mutex
	commands []Command
	closed   bool
	signal   chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		commands: make([]Command, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a command to the back of the queue.
// Returns false if the queue is closed.
func (q *commandQueue) Enqueue(c Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.commands = append(q.commands, c)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front command without blocking.
func (q *commandQueue) TryDequeue() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) == 0 {
		return Command{}, false
	}
	c := q.commands[0]

	// Release payload and registry references held by the backing array.
	q.commands[0] = Command{}
	if len(q.commands) == 1 {
		q.commands = q.commands[:0]
	} else {
		q.commands = q.commands[1:]
	}
	return c, true
}

// Wait returns a channel that signals when commands may be available.
// It is closed by Close.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Drained reports whether the queue is closed and empty.
func (q *commandQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.commands) == 0
}

// Close signals that no more commands will be enqueued.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
