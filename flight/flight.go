// Package flight coalesces concurrent work by key and bounds how long
// callers wait for it.
//
// Callers that arrive while a key is in flight share the first caller's
// result, including its deadline. When the deadline passes the callers get
// nothing back, but the action keeps running on a context that is detached
// from caller cancellation, so whatever it persists is there for the next
// caller. The key is released as soon as the race settles.
package flight

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// ErrTimeout is what the shared race settles with when the deadline wins
var ErrTimeout = errors.New("flight: timed out")

type outcome[T any] struct {
	val T
	err error
}

// Group is a single-flight table for results of type T. The zero value is
// not usable, build one with New.
type Group[T any] struct {
	name     string
	group    singleflight.Group
	inflight atomic.Int64
	logger   *log.Logger
}

func New[T any](name string, logger *log.Logger) *Group[T] {
	if logger == nil {
		logger = log.Default()
	}
	return &Group[T]{
		name:   name,
		logger: logger.WithPrefix("flight/" + name),
	}
}

// Perform runs action once per key among concurrent callers. The bool is
// false when the action failed, panicked, or did not finish within timeout
// (timeout <= 0 waits for completion). A successful action may still return
// a zero T to mean "nothing found".
func (g *Group[T]) Perform(ctx context.Context, key string, timeout time.Duration, action func(ctx context.Context) (T, error)) (T, bool) {
	var zero T

	ch := g.group.DoChan(key, func() (interface{}, error) {
		g.inflight.Add(1)
		defer g.inflight.Add(-1)

		done := make(chan outcome[T], 1)
		background := context.WithoutCancel(ctx)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- outcome[T]{err: fmt.Errorf("panic in %s: %v", key, r)}
				}
			}()
			val, err := action(background)
			done <- outcome[T]{val: val, err: err}
		}()

		if timeout <= 0 {
			o := <-done
			return o.val, o.err
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case o := <-done:
			return o.val, o.err
		case <-timer.C:
			go g.drain(key, done)
			return zero, ErrTimeout
		}
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrTimeout) {
				g.logger.Debug("request outlived its deadline", "key", key, "timeout", timeout)
			} else {
				g.logger.Warn("request failed", "key", key, "err", res.Err)
			}
			return zero, false
		}
		val, _ := res.Val.(T)
		return val, true
	case <-ctx.Done():
		return zero, false
	}
}

// drain logs the late settlement of an action whose callers already gave up
func (g *Group[T]) drain(key string, done <-chan outcome[T]) {
	o := <-done
	if o.err != nil {
		g.logger.Warn("background request failed", "key", key, "err", o.err)
		return
	}
	g.logger.Debug("background request finished", "key", key)
}

// InFlight is the number of keys whose race has not settled yet
func (g *Group[T]) InFlight() int {
	return int(g.inflight.Load())
}
