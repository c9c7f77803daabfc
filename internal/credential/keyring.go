package credential

import (
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/imapauth/internal/model"
)

const serviceName = "imapauth"

// tokenKeyPrefix namespaces access tokens within the keyring.
const tokenKeyPrefix = "access-token:"

// Vault stores access tokens issued to registered accounts.
type Vault struct {
	ring keyring.Keyring
}

// NewVault wraps an already opened keyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

// Open returns a vault on the system keyring, falling back to encrypted
// files under cfg.Dir. Backend "file" skips the system keyrings.
func Open(cfg model.KeyringConfig) (*Vault, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	switch cfg.Backend {
	case "", "auto":
	case "file":
		backends = []keyring.BackendType{keyring.FileBackend}
	default:
		return nil, fmt.Errorf("unknown keyring backend %q", cfg.Backend)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.Dir,
		FilePasswordFunc:         keyring.FixedStringPrompt("imapauth-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewVault(ring), nil
}

// SaveAccessToken stores token for userID, replacing any previous one.
func (v *Vault) SaveAccessToken(userID, token string) error {
	err := v.ring.Set(keyring.Item{
		Key:         tokenKeyPrefix + userID,
		Data:        []byte(token),
		Label:       "imapauth access token for " + userID,
		Description: "access token",
	})
	if err != nil {
		return fmt.Errorf("saving access token for %s: %w", userID, err)
	}
	return nil
}

// AccessToken retrieves the token stored for userID. A missing token
// yields an error wrapping keyring.ErrKeyNotFound.
func (v *Vault) AccessToken(userID string) (string, error) {
	item, err := v.ring.Get(tokenKeyPrefix + userID)
	if err != nil {
		return "", fmt.Errorf("getting access token for %s: %w", userID, err)
	}
	return string(item.Data), nil
}

// DeleteAccessToken removes the token stored for userID.
func (v *Vault) DeleteAccessToken(userID string) error {
	if err := v.ring.Remove(tokenKeyPrefix + userID); err != nil {
		return fmt.Errorf("deleting access token for %s: %w", userID, err)
	}
	return nil
}
