package projection

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/consumer"
	"github.com/evalgo/billcore/eventlog"
)

// Pipeline owns the two named projection consumers and runs them
// concurrently over the event log (§4.4).
type Pipeline struct {
	Summary *consumer.Runner
	Files   *consumer.Runner
}

// New wires the bill-summary and bill-files consumers against log, sharing
// one PostgresStore for tracking positions and dead letters.
func New(log *eventlog.Store, pool *pgxpool.Pool, positions *consumer.PostgresStore, poisonBudget int, logger *common.ContextLogger) *Pipeline {
	summary := NewBillSummary(pool, logger)
	files := NewBillFiles(pool, logger)

	summaryRunner := consumer.NewRunner(BillSummaryConsumerName, log, positions, positions, summary.Handle, poisonBudget, logger)
	filesRunner := consumer.NewRunner(BillFilesConsumerName, log, positions, positions, files.Handle, poisonBudget, logger)
	// Both handlers advance consumer_positions inside their own read-model
	// transaction (§4.4); the Runner must not write it again on success.
	summaryRunner.SetHandlerOwnsPosition(true)
	filesRunner.SetHandlerOwnsPosition(true)

	return &Pipeline{
		Summary: summaryRunner,
		Files:   filesRunner,
	}
}

// Run starts both consumers and blocks until ctx is cancelled or either one
// returns an error.
func (p *Pipeline) Run(ctx context.Context) error {
	errs := make(chan error, 2)
	go func() { errs <- p.Summary.Run(ctx) }()
	go func() { errs <- p.Files.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

// Reset truncates both read-model tables and resets their tracking tokens to
// zero, so the next Run call rebuilds them from the full event log (§4.4,
// replay-from-zero support).
func (p *Pipeline) Reset(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `TRUNCATE bill_summary, bill_files`); err != nil {
		return err
	}
	if err := p.Summary.ReplayFrom(ctx, 0); err != nil {
		return err
	}
	return p.Files.ReplayFrom(ctx, 0)
}
