package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/overwatch/internal/hub"
)

// ErrTransport classifies delivery and subscription failures. They are
// recoverable by reconnect and never indicate server-side data loss.
var ErrTransport = errors.New("transport error")

// Conn is one established server connection.
type Conn interface {
	// Subscribe declares the channel set for this connection.
	Subscribe(channels []string) error
	// Next blocks until the next event arrives or the connection fails.
	Next(ctx context.Context) (hub.Event, error)
	Close() error
}

// Transport establishes connections to the event stream.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Fetcher retrieves the authoritative full state for resync.
type Fetcher interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Hooks are optional instrumentation callbacks; nil members are skipped.
type Hooks struct {
	OnReconnect func()
	OnResync    func()
}

// Reconciler runs one viewer's apply loop: connect, subscribe, resync,
// then merge events one at a time until the connection drops, and
// repeat after a fixed backoff.
type Reconciler struct {
	view      *View
	transport Transport
	fetcher   Fetcher
	channels  []string
	backoff   *Backoff
	logger    log.Logger
	hooks     Hooks
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a Reconciler over the given transport. The channel set is
// re-issued verbatim on every reconnect.
func New(view *View, transport Transport, fetcher Fetcher, channels []string, backoff *Backoff, logger log.Logger, hooks Hooks) *Reconciler {
	if logger == nil {
		logger = log.Nop()
	}
	if backoff == nil {
		backoff = NewBackoff(DefaultReconnectDelay)
	}
	return &Reconciler{
		view:      view,
		transport: transport,
		fetcher:   fetcher,
		channels:  channels,
		backoff:   backoff,
		logger:    logger,
		hooks:     hooks,
		sleep:     sleepCtx,
	}
}

// View exposes the local state the loop maintains.
func (r *Reconciler) View() *View {
	return r.view
}

// Run drives the connect/subscribe/resync/apply cycle until ctx is
// cancelled. It only returns the ctx error; transport failures are
// absorbed by the reconnect path.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		if err := r.session(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.view.MarkStale()
			delay := r.backoff.Next()
			r.logger.Error(ctx, err, "connection lost, reconnecting",
				"delay", delay.String(),
				"attempt", r.backoff.Attempts(),
			)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
}

// session runs one connection lifetime: dial, subscribe, resync, apply
// events until failure.
func (r *Reconciler) session(ctx context.Context) error {
	conn, err := r.transport.Dial(ctx)
	if err != nil {
		return errTransport("dial", err)
	}
	defer conn.Close()

	if err := conn.Subscribe(r.channels); err != nil {
		return errTransport("subscribe", err)
	}
	if r.hooks.OnReconnect != nil {
		r.hooks.OnReconnect()
	}

	// The resync fetch runs after subscribing so no window exists where
	// events are neither streamed nor covered by the snapshot.
	snap, err := r.fetcher.Snapshot(ctx)
	if err != nil {
		return errTransport("resync", err)
	}
	r.view.Resync(snap)
	if r.hooks.OnResync != nil {
		r.hooks.OnResync()
	}
	r.backoff.Reset()

	r.logger.Info(ctx, "connected and resynced", "channels", r.channels)

	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errTransport("read", err)
		}
		if err := r.view.Apply(ev); err != nil {
			// A malformed payload skews one entity, not the session.
			r.logger.Error(ctx, err, "event apply failed",
				"type", ev.Type,
				"entity_id", ev.EntityID,
			)
		}
	}
}

func errTransport(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
