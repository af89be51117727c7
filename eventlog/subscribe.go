package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/evalgo/billcore/common"
)

// gapHoldTimeout bounds how long runSubscription will hold back events past
// a position gap before concluding the missing position belongs to a rolled
// back append and will never arrive. position is a BIGSERIAL: a sequence
// value is claimed by INSERT before the assigning transaction commits, so a
// concurrent append to a different entity can commit and become visible out
// of position order. Without this hold, advancing the cursor to the higher,
// already-visible position would permanently skip the lower one once it
// commits (its row would never again satisfy "position > cursor"). Holding
// the gap for gapHoldTimeout gives the slower transaction time to land;
// after that it is treated as decided (committed elsewhere, now visible, or
// aborted and gone for good) and the cursor advances past it.
const gapHoldTimeout = 5 * time.Second

// SubscribeGlobal returns a channel delivering every event with position >
// fromPosition exactly once, in position order, then continuing to deliver
// new events as they are appended. It combines a catch-up read with a
// PostgreSQL LISTEN/NOTIFY wakeup, the same reconnect-on-error shape this
// lineage's Postgres notification listener uses elsewhere.
//
// The returned channel is closed when ctx is cancelled. Errors encountered
// while reconnecting are logged and retried; they are not fatal to the
// subscription.
func (s *Store) SubscribeGlobal(ctx context.Context, consumerName string, fromPosition int64) (<-chan Event, error) {
	out := make(chan Event, 256)
	go s.runSubscription(ctx, consumerName, fromPosition, out)
	return out, nil
}

func (s *Store) runSubscription(ctx context.Context, consumerName string, fromPosition int64, out chan<- Event) {
	defer close(out)
	position := fromPosition
	log := s.log.WithField("consumer", consumerName)

	wake := make(chan struct{}, 1)
	go s.listenLoop(ctx, wake, log)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var gapSince time.Time

	for {
		events, err := s.readFrom(ctx, position, 500)
		if err != nil {
			log.WithError(err).Warn("catch-up read failed, retrying")
		} else {
			plan := deliverablePrefix(events, position, gapSince, time.Now())
			for _, skip := range plan.skipped {
				log.WithField("from", skip.from).
					WithField("to", skip.to).
					Warn("position gap exceeded hold timeout, treating as permanently rolled back")
			}
			if plan.gapSince.After(gapSince) {
				log.WithField("position", position).
					Debug("position gap observed, holding for commit")
			}
			gapSince = plan.gapSince

			for _, e := range plan.deliver {
				select {
				case out <- e:
					position = e.Position
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

type skippedGap struct {
	from, to int64
}

// deliveryPlan is what deliverablePrefix decided to do with one batch of
// catch-up events: deliver, in order, up to the point it had to stop.
type deliveryPlan struct {
	deliver  []Event
	gapSince time.Time // zero once no gap is outstanding
	skipped  []skippedGap
}

// deliverablePrefix walks events in position order starting at position+1
// and decides how far it is safe to deliver right now. A gap (the next
// event's position isn't position+1) holds back everything from the gap
// onward until either a later poll observes the missing position or
// gapSince has aged past gapHoldTimeout, at which point the gap is treated
// as permanent (a rolled back append), the cursor jumps past it, and
// delivery resumes from there.
func deliverablePrefix(events []Event, position int64, gapSince time.Time, now time.Time) deliveryPlan {
	plan := deliveryPlan{gapSince: gapSince}
	for _, e := range events {
		if e.Position == position+1 {
			position++
			plan.deliver = append(plan.deliver, e)
			plan.gapSince = time.Time{}
			continue
		}
		if plan.gapSince.IsZero() {
			plan.gapSince = now
			return plan
		}
		if now.Sub(plan.gapSince) < gapHoldTimeout {
			return plan
		}
		plan.skipped = append(plan.skipped, skippedGap{from: position + 1, to: e.Position - 1})
		position = e.Position
		plan.deliver = append(plan.deliver, e)
		plan.gapSince = time.Time{}
	}
	return plan
}

// listenLoop maintains a LISTEN connection on the store's notify channel and
// pings wake whenever a NOTIFY arrives, so runSubscription re-polls promptly
// instead of waiting for the ticker. It reconnects with a short backoff on
// error; callers treat wake purely as a hint, so a missed or duplicate ping
// is harmless.
func (s *Store) listenLoop(ctx context.Context, wake chan<- struct{}, log *common.ContextLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.listenOnce(ctx, wake); err != nil {
			log.WithError(err).Warn("listen error, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, wake chan<- struct{}) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+s.channel); err != nil {
		return fmt.Errorf("start listen: %w", err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Notify announces a new append to listeners on the store's channel. Callers
// that write events outside Append's own transaction (there are none in
// this core) would need to call this explicitly; Append does not call it,
// since SubscribeGlobal's ticker-driven catch-up poll already bounds latency
// to a couple of seconds and most deployments run the log and its consumers
// in the same process where the poll alone is sufficient. NOTIFY is wired so
// operators may trigger faster wakeups from psql during incident response.
func (s *Store) Notify(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "NOTIFY "+s.channel)
	return err
}
