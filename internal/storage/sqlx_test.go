package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/storage"
)

// Schema management is out of scope, so these tests run
// only against an already-migrated database and are skipped otherwise,
// mirroring pkg/git's integration-test split from its unit tests.
func TestSqlxPipelineStore_SaveAndGetActive(t *testing.T) {
	dsn := os.Getenv("ORCHESTRATOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ORCHESTRATOR_TEST_POSTGRES_DSN not set, skipping sqlx storage integration test")
	}
	db, err := storage.Open(context.Background(), dsn)
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewSqlxPipelineStore(db)
	ctx := context.Background()
	now := time.Now().UTC()
	pc := &domain.PipelineContext{
		ProjectID:      "proj-sqlx-1",
		WorkspaceID:    "ws-1",
		WorkflowID:     "wf-1",
		CurrentState:   domain.StatePlanning,
		PreviousState:  domain.StateIdle,
		StateEnteredAt: now,
		MaxRetries:     3,
		Metadata:       map[string]interface{}{"triggeredBy": "start"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Save(ctx, pc))

	got, found, err := store.GetActiveByProject(ctx, "proj-sqlx-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.StatePlanning, got.CurrentState)
	require.Equal(t, "start", got.Metadata["triggeredBy"])
}
