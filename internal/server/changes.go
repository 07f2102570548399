package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-devserver/internal/control"
)

// changeFeedSize is how many applied changes may wait for the observers
// before control workers start to block on the feed.
const changeFeedSize = 64

// changeFeed hands applied option changes to the option observers on its
// own goroutine, in the order they were applied. Control workers only
// enqueue, so a slow journal write never holds up a reply.
type changeFeed struct {
	observers []control.OptionObserver
	timeout   time.Duration
	logger    Logger

	changes chan control.OptionChange
	done    chan struct{}

	// mu orders publish against close: once closed is set nothing is sent
	// on changes again.
	mu     sync.RWMutex
	closed bool
}

func newChangeFeed(observers []control.OptionObserver, timeout time.Duration, logger Logger) *changeFeed {
	f := &changeFeed{
		observers: observers,
		timeout:   timeout,
		logger:    logger,
		changes:   make(chan control.OptionChange, changeFeedSize),
		done:      make(chan struct{}),
	}
	go f.run()
	return f
}

// publish queues a change, blocking while the feed is full. Changes
// published after close are logged and discarded.
func (f *changeFeed) publish(c control.OptionChange) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		f.logger.Warn("option change not observed: server closed",
			"option", c.Option,
			"stream", c.Stream,
		)
		return
	}
	f.changes <- c
}

func (f *changeFeed) run() {
	defer close(f.done)

	for c := range f.changes {
		f.notify(c)
	}
}

func (f *changeFeed) notify(c control.OptionChange) {
	for _, obs := range f.observers {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := observe(ctx, obs, c)
		cancel()

		if err != nil {
			f.logger.Warn("option observer failed",
				"option", c.Option,
				"stream", c.Stream,
				"error", err,
			)
		}
	}
}

// observe calls one observer and converts a panic into an error.
func observe(ctx context.Context, obs control.OptionObserver, c control.OptionChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return obs.OptionChanged(ctx, c)
}

// close stops intake and waits up to timeout for queued changes to reach
// the observers.
func (f *changeFeed) close(timeout time.Duration) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.changes)
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("server: option observers still running after %v", timeout)
	}
}
