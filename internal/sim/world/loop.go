package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trafficsim.dev/internal/protocol"
)

var ErrStopped = errors.New("world: stopped")

type execReq struct {
	fn   func(*World) error
	resp chan error
}

type stateReq struct {
	live bool
	resp chan protocol.Document
}

// Run drives Step from a ticker using the real elapsed time as the step, and runs queued work
// between ticks. It returns when ctx is done or Stop is called.
func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.TickPeriod)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.exec:
			w.handleExec(req)
		case req := <-w.stateReq:
			select {
			case req.resp <- w.Document(req.live):
			default:
				// Caller gave up; don't block the sim loop.
			}
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			start := time.Now()
			st := w.Step(dt)
			st.Duration = time.Since(start)
			w.maybeSnapshot()
			if w.onTick != nil {
				w.onTick(st)
			}
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) handleExec(req execReq) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Printf("command panicked: %v", r)
				err = &CommandError{Code: protocol.ErrInternal, Msg: fmt.Sprint(r)}
			}
		}()
		return req.fn(w)
	}()
	select {
	case req.resp <- err:
	default:
	}
}

// Exec runs fn on the loop goroutine between ticks and waits for its result.
// It is safe to call from other goroutines (e.g. connection handlers).
func (w *World) Exec(ctx context.Context, fn func(*World) error) error {
	req := execReq{fn: fn, resp: make(chan error, 1)}
	select {
	case w.exec <- req:
	case <-w.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-w.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestState returns a point-in-time copy of the world in live form.
func (w *World) RequestState(ctx context.Context) (protocol.Document, error) {
	return w.requestDocument(ctx, true)
}

// RequestDocument returns a point-in-time copy of the world in persisted form.
func (w *World) RequestDocument(ctx context.Context) (protocol.Document, error) {
	return w.requestDocument(ctx, false)
}

func (w *World) requestDocument(ctx context.Context, live bool) (protocol.Document, error) {
	req := stateReq{live: live, resp: make(chan protocol.Document, 1)}
	select {
	case w.stateReq <- req:
	case <-w.stop:
		return protocol.Document{}, ErrStopped
	case <-ctx.Done():
		return protocol.Document{}, ctx.Err()
	}
	select {
	case doc := <-req.resp:
		return doc, nil
	case <-w.stop:
		return protocol.Document{}, ErrStopped
	case <-ctx.Done():
		return protocol.Document{}, ctx.Err()
	}
}

// maybeSnapshot hands a snapshot to the sink every SnapshotEveryTicks ticks.
func (w *World) maybeSnapshot() {
	every := uint64(w.cfg.SnapshotEveryTicks)
	if w.snapshotSink == nil || every == 0 || w.tick%every != 0 {
		return
	}
	select {
	case w.snapshotSink <- w.ExportSnapshot():
	default:
		// Drop snapshot if sink is backed up.
	}
}
