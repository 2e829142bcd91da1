package secrets_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/secrets"
	"github.com/devos-platform/agent-orchestrator/internal/storage"
)

var testMasterKey = []byte("0123456789abcdef0123456789abcdef")[:32]

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store := storage.NewMemorySecretStore()
	bridge, err := secrets.NewBridge(store, testMasterKey)
	require.NoError(t, err)

	encrypted, err := secrets.Encrypt(testMasterKey, "sk-live-abc123")
	require.NoError(t, err)
	require.NotContains(t, encrypted, "sk-live")

	store.Put(&domain.Secret{
		WorkspaceID:  "W1",
		Provider:     domain.ProviderAnthropic,
		EncryptedKey: encrypted,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})

	got, err := bridge.Resolve(context.Background(), "W1", domain.ProviderAnthropic)
	require.NoError(t, err)
	require.Equal(t, "sk-live-abc123", got)
}

func TestResolveMissingKeyIsForbidden(t *testing.T) {
	store := storage.NewMemorySecretStore()
	bridge, err := secrets.NewBridge(store, testMasterKey)
	require.NoError(t, err)

	_, err = bridge.Resolve(context.Background(), "W1", domain.ProviderOpenAI)
	require.Error(t, err)
	require.True(t, errs.IsForbidden(err))
}

func TestResolveInactiveKeyIsForbidden(t *testing.T) {
	store := storage.NewMemorySecretStore()
	bridge, err := secrets.NewBridge(store, testMasterKey)
	require.NoError(t, err)

	encrypted, err := secrets.Encrypt(testMasterKey, "sk-inactive")
	require.NoError(t, err)
	store.Put(&domain.Secret{WorkspaceID: "W1", Provider: domain.ProviderAnthropic, EncryptedKey: encrypted, IsActive: false})

	_, err = bridge.Resolve(context.Background(), "W1", domain.ProviderAnthropic)
	require.Error(t, err)
	require.True(t, errs.IsForbidden(err))
}
