package server

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Future is the result of an asynchronous handler. It is resolved exactly once.
type Future[R any] struct {
	done chan struct{}
	val  R
	err  error
}

// PanicError is what a Future resolves to when its function panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) resolve(v R, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Go runs fn on its own goroutine and returns its Future.
func Go[R any](ctx context.Context, fn func(context.Context) (R, error)) *Future[R] {
	f := newFuture[R]()
	go func() {
		var (
			v   R
			err error
		)
		defer func() {
			if p := recover(); p != nil {
				var zero R
				f.resolve(zero, &PanicError{Value: p, Stack: debug.Stack()})
				return
			}
			f.resolve(v, err)
		}()
		v, err = fn(ctx)
	}()
	return f
}

// Resolved returns an already completed Future.
func Resolved[R any](v R, err error) *Future[R] {
	f := newFuture[R]()
	f.resolve(v, err)
	return f
}

// Done is closed once the Future is resolved.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Await blocks until the Future is resolved or ctx is done.
func (f *Future[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// erase converts a typed Future into one the dispatcher can await without knowing R.
func erase[R any](f *Future[R], wrap func(error) error) *Future[any] {
	out := newFuture[any]()
	finish := func() {
		err := f.err
		if err != nil {
			err = wrap(err)
			out.resolve(nil, err)
			return
		}
		out.resolve(f.val, nil)
	}
	select {
	case <-f.done:
		finish()
	default:
		go func() {
			<-f.done
			finish()
		}()
	}
	return out
}
