//go:build integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evalgo/billcore/api"
	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/eventlog"
	"github.com/evalgo/billcore/projection"
	"github.com/evalgo/billcore/query"
	"github.com/evalgo/billcore/router"
)

func setupPool(t *testing.T) *pgxpool.Pool {
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
	require.NoError(t, err)
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
	_, err = pool.Exec(ctx, projection.Schema)
	require.NoError(t, err)

	return pool
}

func newTestServer(pool *pgxpool.Pool) *echo.Echo {
	log := eventlog.NewStore(pool, "billcore_api_test_events", nil)
	r := router.New(log, billing.Limits{}, 3, nil)
	q := query.New(pool)

	e := echo.New()
	api.RegisterRoutes(e, &api.Handlers{Router: r, Query: q})
	return e
}

func TestCreateBillDefaultsCreatorFromHeader(t *testing.T) {
	pool := setupPool(t)
	e := newTestServer(pool)

	body, _ := json.Marshal(map[string]any{"bill_id": "b1", "title": "Rent", "total": "1200"})
	req := httptest.NewRequest(http.MethodPost, "/bills", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.CallerIdentityHeader, "alice")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	state, err := router.New(eventlog.NewStore(pool, "billcore_api_test_events", nil), billing.Limits{}, 3, nil).State(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "alice", state.Metadata["creator"])
}

func TestApproveBillBeforeProcessedReturnsUnprocessableEntity(t *testing.T) {
	pool := setupPool(t)
	e := newTestServer(pool)

	createBody, _ := json.Marshal(map[string]any{"bill_id": "b2", "title": "Utilities", "total": "88"})
	createReq := httptest.NewRequest(http.MethodPost, "/bills", bytes.NewReader(createBody))
	createReq.Header.Set("Content-Type", "application/json")
	createRec := httptest.NewRecorder()
	e.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusOK, createRec.Code)

	approveBody, _ := json.Marshal(map[string]any{"approver_id": "bob", "decision": "Approved"})
	approveReq := httptest.NewRequest(http.MethodPost, "/bills/b2/approve", bytes.NewReader(approveBody))
	approveReq.Header.Set("Content-Type", "application/json")
	approveRec := httptest.NewRecorder()
	e.ServeHTTP(approveRec, approveReq)

	assert.Equal(t, http.StatusUnprocessableEntity, approveRec.Code)
}

func TestGetBillReturnsNotFoundForUnknownID(t *testing.T) {
	pool := setupPool(t)
	e := newTestServer(pool)

	req := httptest.NewRequest(http.MethodGet, "/bills/does-not-exist", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
