package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/ledgerline/contractflow/internal/coordination"
	"github.com/ledgerline/contractflow/internal/pipeline"
	pgstore "github.com/ledgerline/contractflow/internal/store"
	"github.com/ledgerline/contractflow/internal/workflow"
)

// Package-level shared state, set by TestMain and used by all subtests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("contractflow_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// stack bundles the wired coordination layer backing one test.
type stack struct {
	set         *coordination.CoordinatorSet
	registry    workflow.Registry
	connections *coordination.ConnectionRegistry
	polling     *coordination.PollingBridgeAdapter
	engine      *pipeline.Engine
}

// newStack wires a pipeline engine over the given registry with the real
// PostgreSQL invoice store.
func newStack(t *testing.T, registry workflow.Registry, reviewTimeout time.Duration) *stack {
	t.Helper()
	set := coordination.NewCoordinatorSet(testLogger)
	return &stack{
		set:         set,
		registry:    registry,
		connections: coordination.NewConnectionRegistry(set, registry, testLogger),
		polling:     coordination.NewPollingBridgeAdapter(set, registry, 20*time.Millisecond, testLogger),
		engine: pipeline.NewEngine(set, registry, pipeline.BuiltinRunners(),
			testPGStore, nil, reviewTimeout, 1, testLogger),
	}
}

func waitForStatus(t *testing.T, reg workflow.Registry, workflowID string, status workflow.Status) workflow.Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := reg.Get(workflowID); ok && snap.ProcessingStatus == status {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, _ := reg.Get(workflowID)
	t.Fatalf("workflow %s never reached %s, last snapshot: %+v", workflowID, status, snap)
	return workflow.Snapshot{}
}

func waitForPending(t *testing.T, set *coordination.CoordinatorSet, workflowID string) coordination.PendingSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if coord, ok := set.Lookup(workflowID); ok {
			if pending, ok := coord.Bridge().Pending(); ok {
				return pending
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("workflow %s never exposed a pending input request", workflowID)
	return coordination.PendingSnapshot{}
}
