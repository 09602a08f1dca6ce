package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// ErrLoopStopped is returned when work is posted after the loop exited.
var ErrLoopStopped = errors.New("gateway: loop stopped")

// Loop runs posted reactions one at a time on a single goroutine. Anything
// touched only from inside the loop needs no locking.
type Loop struct {
	queue chan func()
	done  chan struct{}
}

// NewLoop creates a loop with the given queue depth.
func NewLoop(depth int) *Loop {
	return &Loop{
		queue: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

// Run executes reactions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "gateway").
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("reaction panicked")
		}
	}()
	fn()
}

// Post queues fn. It blocks while the queue is full and reports false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		select {
		case <-finished:
			return nil
		default:
			return ctx.Err()
		}
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}
