package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const keySessionToken = "token"

// KeyringStore wraps the OS keychain with an optional file fallback.
// Fallback is intended for headless environments without a system keyring.
type KeyringStore struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// NewKeyringStore creates a keyring wrapper.
func NewKeyringStore(serviceName, fallbackPath string) *KeyringStore {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "ggmonad"
	}
	return &KeyringStore{
		service:      serviceName,
		fallbackPath: fallbackPath,
	}
}

func (k *KeyringStore) key(profileID, part string) string {
	return fmt.Sprintf("%s/%s", profileID, part)
}

// SetSessionToken stores the ledger session token for a profile.
func (k *KeyringStore) SetSessionToken(profileID, value string) error {
	return k.setSecret(profileID, keySessionToken, value)
}

// GetSessionToken retrieves the ledger session token for a profile.
func (k *KeyringStore) GetSessionToken(profileID string) (string, error) {
	return k.getSecret(profileID, keySessionToken)
}

// DeleteAll removes all known secret keys for the given profile.
func (k *KeyringStore) DeleteAll(profileID string) error {
	var errs []error
	for _, part := range []string{keySessionToken} {
		if err := keyring.Delete(k.service, k.key(profileID, part)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return k.deleteFallbackProfile(profileID)
	}
	// Try fallback cleanup even if keyring delete failed.
	_ = k.deleteFallbackProfile(profileID)
	return fmt.Errorf("identity: keyring delete failed: %v", errs[0])
}

func (k *KeyringStore) setSecret(profileID, part, value string) error {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return fmt.Errorf("identity: profile id is required")
	}

	if err := keyring.Set(k.service, k.key(profileID, part), value); err == nil {
		return nil
	} else if !isKeyringUnavailable(err) {
		return fmt.Errorf("identity: keyring set %s: %w", part, err)
	}

	return k.setFallback(profileID, part, value)
}

func (k *KeyringStore) getSecret(profileID, part string) (string, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return "", fmt.Errorf("identity: profile id is required")
	}

	val, err := keyring.Get(k.service, k.key(profileID, part))
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("identity: keyring get %s: %w", part, err)
	}

	fallback, ferr := k.getFallback(profileID, part)
	if ferr == nil {
		return fallback, nil
	}

	if errors.Is(err, keyring.ErrNotFound) {
		return "", keyring.ErrNotFound
	}
	return "", ferr
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "the specified item could not be found in the keychain") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

type fallbackSecrets map[string]map[string]string

func (k *KeyringStore) setFallback(profileID, part, value string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return fmt.Errorf("identity: keyring unavailable and no fallback path configured")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if _, ok := data[profileID]; !ok {
		data[profileID] = map[string]string{}
	}
	data[profileID][part] = value
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) getFallback(profileID, part string) (string, error) {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return "", fmt.Errorf("identity: fallback path not configured")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	parts, ok := data[profileID]
	if !ok {
		return "", keyring.ErrNotFound
	}
	val, ok := parts[part]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return val, nil
}

func (k *KeyringStore) deleteFallbackProfile(profileID string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	delete(data, profileID)
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) readFallbackUnlocked() (fallbackSecrets, error) {
	out := fallbackSecrets{}
	raw, err := os.ReadFile(k.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("identity: read fallback secrets: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("identity: decode fallback secrets: %w", err)
	}
	return out, nil
}

func (k *KeyringStore) writeFallbackUnlocked(data fallbackSecrets) error {
	dir := filepath.Dir(k.fallbackPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("identity: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("identity: encode fallback secrets: %w", err)
	}
	if err := os.WriteFile(k.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("identity: write fallback secrets: %w", err)
	}
	return nil
}
