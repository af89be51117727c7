//go:build integration

package router_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/eventlog"
	"github.com/evalgo/billcore/router"
)

// setupPostgresContainer starts a PostgreSQL container backing a bare event
// log, for the Router to dispatch commands against.
func setupPostgresContainer(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, eventlog.Schema)
	require.NoError(t, err)

	return pool
}

func TestDispatchCreateAndAttachFile(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgresContainer(t)
	log := eventlog.NewStore(pool, "billcore_test_events", nil)
	r := router.New(log, billing.Limits{}, 3, nil)

	result, err := r.Dispatch(ctx, billing.CreateBill{ID: "b1", Title: "Rent", Total: "1200"})
	require.NoError(t, err)
	assert.Equal(t, "b1", result.BillID)
	assert.Equal(t, billing.StatusCreated, result.State.Status)
	assert.Equal(t, 1, result.NextSequence)

	result, err = r.Dispatch(ctx, billing.AttachFile{
		ID: "b1", FileID: "f1", Filename: "lease.pdf", ContentType: "application/pdf", Size: 2048,
	})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusFileAttached, result.State.Status)
	assert.Equal(t, 3, result.NextSequence) // FileAttached + OcrRequested
	assert.True(t, result.State.HasFile("f1"))
}

func TestDispatchRejectsBusinessRuleViolation(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgresContainer(t)
	log := eventlog.NewStore(pool, "billcore_test_events", nil)
	r := router.New(log, billing.Limits{}, 3, nil)

	_, err := r.Dispatch(ctx, billing.CreateBill{ID: "b1", Title: "", Total: "1"})
	require.Error(t, err)
	var rErr *router.Error
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, router.KindBusinessRuleViolation, rErr.Kind)
	assert.Equal(t, string(billing.ReasonTitleRequired), rErr.Reason)
}

func TestDispatchPersistsAcrossRouterInstances(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgresContainer(t)
	log := eventlog.NewStore(pool, "billcore_test_events", nil)

	first := router.New(log, billing.Limits{}, 3, nil)
	_, err := first.Dispatch(ctx, billing.CreateBill{ID: "b1", Title: "Rent", Total: "1200"})
	require.NoError(t, err)

	second := router.New(log, billing.Limits{}, 3, nil)
	state, err := second.State(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCreated, state.Status)
	assert.True(t, state.Total.Equal(state.EffectiveTotal()))
}

func TestDispatchConcurrentAppendsSerializePerEntity(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgresContainer(t)
	log := eventlog.NewStore(pool, "billcore_test_events", nil)
	r := router.New(log, billing.Limits{}, 3, nil)

	_, err := r.Dispatch(ctx, billing.CreateBill{ID: "b1", Title: "Rent", Total: "1200"})
	require.NoError(t, err)

	const attachments = 5
	errs := make(chan error, attachments)
	for i := 0; i < attachments; i++ {
		go func(i int) {
			_, err := r.Dispatch(ctx, billing.AttachFile{
				ID: "b1", FileID: fmt.Sprintf("f%d", i), Filename: fmt.Sprintf("file-%d.pdf", i),
				ContentType: "application/pdf", Size: 10,
			})
			errs <- err
		}(i)
	}
	for i := 0; i < attachments; i++ {
		assert.NoError(t, <-errs)
	}

	state, err := r.State(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, state.Files, attachments)
}
