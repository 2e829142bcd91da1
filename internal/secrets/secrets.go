// Package secrets decrypts BYOK provider keys at the moment an agent
// session needs them, never holding a plaintext key longer than one call.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
)

// Store is the repository interface over the byok_secrets table.
type Store interface {
	GetActive(ctx context.Context, workspaceID string, provider domain.SecretProvider) (*domain.Secret, error)
}

// Bridge decrypts a workspace's active BYOK key for a given provider,
// using a master key supplied at construction (sourced from the process
// environment, never persisted alongside the ciphertext).
type Bridge struct {
	store     Store
	masterKey []byte
}

// NewBridge constructs a Bridge. masterKey must be 16, 24, or 32 bytes
// (AES-128/192/256).
func NewBridge(store Store, masterKey []byte) (*Bridge, error) {
	if _, err := aes.NewCipher(masterKey); err != nil {
		return nil, fmt.Errorf("secrets: invalid master key: %w", err)
	}
	return &Bridge{store: store, masterKey: masterKey}, nil
}

// Resolve returns the decrypted API key for workspaceID/provider, suitable
// for injection into an agent session's environment. Callers must not log
// or persist the returned string.
func (b *Bridge) Resolve(ctx context.Context, workspaceID string, provider domain.SecretProvider) (string, error) {
	secret, err := b.store.GetActive(ctx, workspaceID, provider)
	if err != nil {
		return "", err
	}
	if secret == nil {
		return "", &errs.ForbiddenException{Message: fmt.Sprintf("no active %s key configured for workspace %s", provider, workspaceID)}
	}
	plaintext, err := decrypt(b.masterKey, secret.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt failed for workspace %s provider %s: %w", workspaceID, provider, err)
	}
	return plaintext, nil
}

// Encrypt is the inverse of decrypt, used when a user submits a new BYOK
// key to be stored.
func Encrypt(masterKey []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt is the exported counterpart to Encrypt, used anywhere a
// ciphertext column needs a just-in-time plaintext value outside the BYOK
// bridge itself — e.g. a JiraIntegration's AccessToken/RefreshToken right
// before constructing an internal/jira/client.Client.
func Decrypt(masterKey []byte, encoded string) (string, error) {
	return decrypt(masterKey, encoded)
}

func decrypt(masterKey []byte, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce size")
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
