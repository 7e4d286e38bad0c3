// Package watcher follows the resolution contract for AgentSelected events
// that name this agent and hands the request ids on.
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultErrorBackoff = 10 * time.Second
	DefaultDedupTTL     = 24 * time.Hour
)

// Config controls polling cadence.
type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	DedupTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = DefaultDedupTTL
	}
	return c
}

// Watcher polls for selection events. The zero cursor means "not started".
type Watcher struct {
	chain   domain.SelectionReader
	agent   string
	cursors domain.CursorStore
	cfg     Config
	dedup   *Dedup
	logger  *slog.Logger

	cursor  atomic.Uint64
	started atomic.Bool
}

// New creates a Watcher for agent. cursors may be nil, in which case every
// start begins at the chain head.
func New(chain domain.SelectionReader, agent string, cursors domain.CursorStore, cfg Config, logger *slog.Logger) *Watcher {
	cfg = cfg.withDefaults()
	return &Watcher{
		chain:   chain,
		agent:   agent,
		cursors: cursors,
		cfg:     cfg,
		dedup:   NewDedup(cfg.DedupTTL),
		logger:  logger.With(slog.String("component", "watcher")),
	}
}

// Cursor returns the next block to be scanned, or 0 before Run has
// resolved a starting point.
func (w *Watcher) Cursor() uint64 { return w.cursor.Load() }

// Run polls until ctx is cancelled, calling emit once per new assignment in
// block order. Poll failures are logged and retried from the same cursor
// after ErrorBackoff. Run returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, emit func(domain.RequestID)) error {
	if !w.resolveStart(ctx) {
		return nil
	}
	w.logger.InfoContext(ctx, "listening for resolution requests",
		slog.String("agent", w.agent),
		slog.Uint64("from_block", w.Cursor()),
		slog.Duration("poll_interval", w.cfg.PollInterval),
	)

	for {
		wait := w.cfg.PollInterval
		if err := w.poll(ctx, emit); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.ErrorContext(ctx, "poll failed",
				slog.Uint64("from_block", w.Cursor()),
				slog.String("error", err.Error()),
			)
			wait = w.cfg.ErrorBackoff
		}
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

// resolveStart sets the starting cursor from the cursor store, falling back
// to the chain head. It keeps retrying the head lookup until ctx ends.
func (w *Watcher) resolveStart(ctx context.Context) bool {
	if w.started.Load() {
		return true
	}
	if w.cursors != nil {
		block, ok, err := w.cursors.LoadCursor(ctx, w.agent)
		switch {
		case err != nil:
			w.logger.WarnContext(ctx, "cursor load failed, starting at head", slog.String("error", err.Error()))
		case ok:
			w.setStart(block)
			w.logger.InfoContext(ctx, "resuming from stored cursor", slog.Uint64("block", block))
			return true
		}
	}
	for {
		head, err := w.chain.Head(ctx)
		if err == nil {
			w.setStart(head)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		w.logger.ErrorContext(ctx, "read chain head failed", slog.String("error", err.Error()))
		if !sleep(ctx, w.cfg.ErrorBackoff) {
			return false
		}
	}
}

func (w *Watcher) setStart(block uint64) {
	w.cursor.Store(block)
	w.started.Store(true)
}

// poll scans once from the cursor. The cursor only moves when the scan
// succeeded.
func (w *Watcher) poll(ctx context.Context, emit func(domain.RequestID)) error {
	from := w.Cursor()
	events, scannedTo, err := w.chain.SelectionEvents(ctx, from)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if !strings.EqualFold(ev.Agent, w.agent) {
			continue
		}
		if w.dedup.Seen(ev.RequestID) {
			w.logger.DebugContext(ctx, "duplicate selection dropped", slog.String("request_id", ev.RequestID.String()))
			continue
		}
		w.logger.InfoContext(ctx, "selected for resolution",
			slog.String("request_id", ev.RequestID.String()),
			slog.Uint64("block", ev.BlockNumber),
			slog.String("tx_hash", ev.TxHash),
		)
		emit(ev.RequestID)
	}

	next := scannedTo + 1
	if next < from {
		next = from
	}
	w.cursor.Store(next)
	w.dedup.Cleanup()

	if w.cursors != nil && next != from {
		if err := w.cursors.SaveCursor(ctx, w.agent, next); err != nil {
			w.logger.WarnContext(ctx, "cursor save failed", slog.Uint64("block", next), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Stream runs the watcher in the background and delivers request ids on
// the returned channel. Ids are buffered without bound so a slow consumer
// never stalls polling. The channel closes when ctx ends.
func (w *Watcher) Stream(ctx context.Context) <-chan domain.RequestID {
	in := make(chan domain.RequestID)
	out := make(chan domain.RequestID)

	go func() {
		defer close(in)
		_ = w.Run(ctx, func(id domain.RequestID) {
			select {
			case in <- id:
			case <-ctx.Done():
			}
		})
	}()

	go func() {
		defer close(out)
		var queue []domain.RequestID
		for {
			var (
				send chan domain.RequestID
				next domain.RequestID
			)
			if len(queue) > 0 {
				send, next = out, queue[0]
			}
			select {
			case id, ok := <-in:
				if !ok {
					return
				}
				queue = append(queue, id)
			case send <- next:
				queue = queue[1:]
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
