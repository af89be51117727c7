// Package consumer implements the lease/process/acknowledge loop shared by
// every named consumer of the event log: the projection pipeline and the
// reactive handlers both tail SubscribeGlobal through a Runner rather than
// each rolling their own retry and dead-letter bookkeeping.
package consumer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/eventlog"
)

// Handler processes one event. A returned error is retried with backoff up
// to the Runner's poison budget; once exhausted the event is dead-lettered
// and the consumer advances past it.
type Handler func(ctx context.Context, ev eventlog.Event) error

// DeadLetterSink records an event a Handler could not process within the
// poison budget. Implementations persist it for operator inspection.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, consumerName string, ev eventlog.Event, lastErr error, attempts int) error
}

// PositionStore tracks how far a named consumer has progressed, so a
// restarted Runner resumes from where it left off instead of from zero.
type PositionStore interface {
	LoadPosition(ctx context.Context, consumerName string) (int64, error)
	SavePosition(ctx context.Context, consumerName string, position int64) error
}

// Runner drives one named consumer's Handler over a Log subscription,
// advancing and persisting its tracking position one event at a time.
type Runner struct {
	Name         string
	Log          *eventlog.Store
	Positions    PositionStore
	DeadLetters  DeadLetterSink
	Handler      Handler
	PoisonBudget int // attempts before dead-lettering; default 5

	// handlerOwnsPosition is true when Handler already advances the
	// tracking token itself, atomically with its own read-model write
	// (§4.4 — the projection handlers do this). process then only writes
	// the position on the dead-letter path, where the read-model
	// transaction was rolled back and nothing else will advance it.
	handlerOwnsPosition bool

	logger *common.ContextLogger
}

// NewRunner constructs a Runner for consumerName. poisonBudget <= 0 uses the
// default of 5 attempts (§6: consumer.*.poisonBudget).
func NewRunner(name string, log *eventlog.Store, positions PositionStore, deadLetters DeadLetterSink, handler Handler, poisonBudget int, logger *common.ContextLogger) *Runner {
	if poisonBudget <= 0 {
		poisonBudget = 5
	}
	if logger == nil {
		logger = common.NewContextLogger(nil, map[string]interface{}{"component": "consumer", "consumer": name})
	}
	return &Runner{
		Name:         name,
		Log:          log,
		Positions:    positions,
		DeadLetters:  deadLetters,
		Handler:      handler,
		PoisonBudget: poisonBudget,
		logger:       logger,
	}
}

// Run subscribes from the consumer's last saved position and processes
// events until ctx is cancelled. It blocks; call it from its own goroutine.
func (r *Runner) Run(ctx context.Context) error {
	from, err := r.Positions.LoadPosition(ctx, r.Name)
	if err != nil {
		return err
	}

	events, err := r.Log.SubscribeGlobal(ctx, r.Name, from)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.process(ctx, ev)
		}
	}
}

// ReplayFrom saves position as the consumer's tracking position so the next
// Run call reprocesses every event after it; position 0 replays the whole
// log (§4.4, replay-from-zero support).
func (r *Runner) ReplayFrom(ctx context.Context, position int64) error {
	return r.Positions.SavePosition(ctx, r.Name, position)
}

// Position reports the consumer's last durably saved tracking position.
func (r *Runner) Position(ctx context.Context) (int64, error) {
	return r.Positions.LoadPosition(ctx, r.Name)
}

// SetHandlerOwnsPosition marks that Handler advances the tracking token
// itself (atomically with its own read-model write), so process must skip
// the post-handle SavePosition on the success path and only write on
// dead-letter. Projection handlers call this; reactive handlers, which have
// no read-model transaction of their own to piggyback on, leave it false.
func (r *Runner) SetHandlerOwnsPosition(owns bool) {
	r.handlerOwnsPosition = owns
}

func (r *Runner) process(ctx context.Context, ev eventlog.Event) {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		clampedBackoff(),
		uint64(r.PoisonBudget-1),
	), ctx)

	attempts := 0
	var lastErr error
	err := backoff.Retry(func() error {
		attempts++
		err := r.Handler(ctx, ev)
		lastErr = err
		return err
	}, policy)

	if err != nil {
		r.logger.WithField("position", ev.Position).
			WithField("entity_id", ev.EntityID).
			WithField("attempts", attempts).
			WithError(lastErr).
			Error("dead-lettering event after exhausting retries")
		if dlErr := r.DeadLetters.DeadLetter(ctx, r.Name, ev, lastErr, attempts); dlErr != nil {
			r.logger.WithError(dlErr).Error("failed to persist dead letter")
		}
		// The handler's own transaction (if any) rolled back without
		// advancing the token, so this is the only advance on the
		// dead-letter path regardless of handlerOwnsPosition.
		if saveErr := r.Positions.SavePosition(ctx, r.Name, ev.Position); saveErr != nil {
			r.logger.WithError(saveErr).Warn("failed to advance tracking position")
		}
		return
	}

	if r.handlerOwnsPosition {
		return
	}
	if saveErr := r.Positions.SavePosition(ctx, r.Name, ev.Position); saveErr != nil {
		r.logger.WithError(saveErr).Warn("failed to advance tracking position")
	}
}

// clampedBackoff bounds the exponential backoff's maximum single interval so
// a slow external dependency cannot stall catch-up processing for minutes.
func clampedBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 10 * time.Second
	return b
}
