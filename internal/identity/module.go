package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/dropps07/GG-Monad/internal/ledger"
)

// SecretsMasked returns only availability flags, never the secrets.
type SecretsMasked struct {
	HasSessionToken bool `json:"hasSessionToken"`
}

// ConnectionStep reports a single step in connection checks.
type ConnectionStep struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ConnectionCheckResult contains outcomes for all connection check steps.
type ConnectionCheckResult struct {
	OK    bool             `json:"ok"`
	Steps []ConnectionStep `json:"steps"`
}

// ActiveStatus is the connected-profile state exposed to consumers.
type ActiveStatus struct {
	Connected bool     `json:"connected"`
	ProfileID string   `json:"profileId,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
	Error     string   `json:"error,omitempty"`
	Points    int64    `json:"points"`
}

// Module ties profile metadata, token custody, and the ledger client
// together: it verifies credentials against the ledger and hands out the
// connected client.
type Module struct {
	store   *Store
	keyring *KeyringStore

	mu          sync.RWMutex
	activeID    string
	active      *ledger.Client
	activeState ActiveStatus
}

// NewModule creates an identity module.
func NewModule(store *Store, keyringStore *KeyringStore) *Module {
	return &Module{
		store:   store,
		keyring: keyringStore,
		activeState: ActiveStatus{
			Connected: false,
		},
	}
}

func (m *Module) ListProfiles() ([]Profile, error) {
	return m.store.List()
}

func (m *Module) SaveProfile(p Profile) (Profile, error) {
	return m.store.Save(p)
}

func (m *Module) DeleteProfile(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("profile id is required")
	}
	if err := m.keyring.DeleteAll(id); err != nil && !strings.Contains(strings.ToLower(err.Error()), "not found") {
		return err
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == id {
		m.active = nil
		m.activeID = ""
		m.activeState = ActiveStatus{Connected: false}
	}
	return nil
}

func (m *Module) SetSessionToken(id, token string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("profile id is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("session token is required")
	}
	return m.keyring.SetSessionToken(id, token)
}

func (m *Module) GetSecretsMasked(id string) (SecretsMasked, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SecretsMasked{}, fmt.Errorf("profile id is required")
	}
	var out SecretsMasked

	if _, err := m.keyring.GetSessionToken(id); err == nil {
		out.HasSessionToken = true
	} else if !isKeyringNotFound(err) {
		return out, err
	}
	return out, nil
}

func isKeyringNotFound(err error) bool {
	return err != nil && (errors.Is(err, keyring.ErrNotFound) || strings.Contains(strings.ToLower(err.Error()), "not found"))
}

// ConnectionCheck verifies a profile can reach and authenticate against its
// ledger, step by step, without changing the active connection.
func (m *Module) ConnectionCheck(ctx context.Context, id string) (ConnectionCheckResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ConnectionCheckResult{}, fmt.Errorf("profile id is required")
	}
	profile, err := m.store.Get(id)
	if err != nil {
		return ConnectionCheckResult{}, err
	}

	token, err := m.keyring.GetSessionToken(id)
	if err != nil {
		return ConnectionCheckResult{}, fmt.Errorf("missing session token: %w", err)
	}

	result := ConnectionCheckResult{
		OK:    false,
		Steps: []ConnectionStep{},
	}

	httpClient := &http.Client{Timeout: 8 * time.Second}
	base := strings.TrimSpace(profile.LedgerURL)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	// 1) Ledger reachability
	step1 := ConnectionStep{Name: "ledger"}
	req1, _ := http.NewRequestWithContext(ctx, http.MethodHead, base+"/", nil)
	resp1, err := httpClient.Do(req1)
	if err != nil || resp1 == nil || resp1.StatusCode >= 400 {
		step1.Success = false
		if err != nil {
			step1.Message = err.Error()
		} else {
			step1.Message = fmt.Sprintf("status %d", resp1.StatusCode)
		}
		result.Steps = append(result.Steps, step1)
		return result, nil
	}
	step1.Success = true
	result.Steps = append(result.Steps, step1)

	// 2) Credentials check via a balance read
	step2 := ConnectionStep{Name: "credentials"}
	client := ledger.NewClient(ledger.Config{
		BaseURL:      profile.LedgerURL,
		SessionToken: token,
		HTTPClient:   httpClient,
	})
	if _, err := client.PlayerBalance(ctx, profile.Address); err != nil {
		step2.Success = false
		step2.Message = err.Error()
		result.Steps = append(result.Steps, step2)
		return result, nil
	}
	step2.Success = true
	result.Steps = append(result.Steps, step2)
	result.OK = true
	return result, nil
}

// Connect builds a ledger client for the profile, verifies it with a
// balance read, and makes it the active connection.
func (m *Module) Connect(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("profile id is required")
	}
	profile, err := m.store.Get(id)
	if err != nil {
		return err
	}
	token, err := m.keyring.GetSessionToken(id)
	if err != nil {
		return fmt.Errorf("missing session token: %w", err)
	}

	client := ledger.NewClient(ledger.Config{
		BaseURL:      profile.LedgerURL,
		SessionToken: token,
	})
	balance, err := client.PlayerBalance(ctx, profile.Address)
	if err != nil {
		m.mu.Lock()
		m.active = nil
		m.activeID = ""
		m.activeState = ActiveStatus{
			Connected: false,
			Error:     err.Error(),
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.active = client
	m.activeID = id
	m.activeState = ActiveStatus{
		Connected: true,
		ProfileID: id,
		Profile:   profile,
		Points:    balance.AvailablePoints(),
	}
	m.mu.Unlock()

	return nil
}

func (m *Module) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	m.activeID = ""
	m.activeState = ActiveStatus{Connected: false}
}

func (m *Module) GetActiveStatus() ActiveStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeState
}

// Client returns the active ledger client for internal consumers.
func (m *Module) Client() *ledger.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActiveProfile returns the connected profile, nil when disconnected.
func (m *Module) ActiveProfile() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeState.Profile
}

func (m *Module) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil && m.activeState.Connected
}
