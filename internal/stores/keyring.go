package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
	"github.com/zalando/go-keyring"
)

// keyringEnvelope is the JSON document stored as the keyring password.
type keyringEnvelope struct {
	Value       string     `json:"value"`
	ExpiresOn   *time.Time `json:"expiresOn,omitempty"`
	OperationID string     `json:"operationId,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// KeyringStore keeps the secret in the operating system keyring (macOS
// Keychain, Windows Credential Manager, Secret Service on Linux).
//
// A generation only reports its expiration once MarkRotationComplete stamped
// it, so an interrupted rotation is retried on the next cycle.
type KeyringStore struct {
	name    string
	service string
	account string
	logger  *logging.Logger
	now     func() time.Time
}

// KeyringOption is a functional option for configuring the keyring store
type KeyringOption func(*KeyringStore)

// WithKeyringClock overrides the clock used for completion stamps (for testing)
func WithKeyringClock(now func() time.Time) KeyringOption {
	return func(s *KeyringStore) {
		s.now = now
	}
}

// NewKeyringStore creates a keyring store
func NewKeyringStore(name string, cfg map[string]interface{}, logger *logging.Logger, opts ...KeyringOption) (*KeyringStore, error) {
	account, err := requiredString(cfg, name, "account", "Set account to the keyring user/account name")
	if err != nil {
		return nil, err
	}
	service := stringValue(cfg, "service")
	if service == "" {
		service = "rotator"
	}

	s := &KeyringStore{
		name:    name,
		service: service,
		account: account,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s, nil
}

// NewKeyringStoreFactory creates a keyring store from configuration
func NewKeyringStoreFactory(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error) {
	return NewKeyringStore(name, cfg, logger)
}

// Name returns the store name
func (s *KeyringStore) Name() string {
	return s.name
}

func (s *KeyringStore) load() (*keyringEnvelope, error) {
	raw, err := keyring.Get(s.service, s.account)
	if err != nil {
		return nil, err
	}
	var env keyringEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// An entry written by another tool: keep the value, treat it as unrotated.
		return &keyringEnvelope{Value: raw}, nil
	}
	return &env, nil
}

func (s *KeyringStore) save(env *keyringEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode keyring entry: %w", err)
	}
	return keyring.Set(s.service, s.account, string(data))
}

// GetCurrentState reads the keyring entry.
func (s *KeyringStore) GetCurrentState(ctx context.Context) (*secretstore.SecretState, error) {
	env, err := s.load()
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return &secretstore.SecretState{
				StatusCode:   http.StatusNotFound,
				ErrorMessage: fmt.Sprintf("no keyring entry for %s/%s", s.service, s.account),
			}, nil
		}
		return nil, dserrors.StoreError("keyring", "read entry", err)
	}

	state := &secretstore.SecretState{
		ID:          s.service + "/" + s.account,
		OperationID: env.OperationID,
		StatusCode:  http.StatusOK,
		Value:       env.Value,
	}
	if env.CompletedAt != nil {
		state.ExpirationDate = env.ExpiresOn
	}
	return state, nil
}

// GetRotationArtifacts reports nothing; the keyring only holds one generation.
func (s *KeyringStore) GetRotationArtifacts(ctx context.Context) ([]secretstore.SecretState, error) {
	return nil, nil
}

// WriteSecret replaces the keyring entry with an uncompleted envelope.
func (s *KeyringStore) WriteSecret(ctx context.Context, value *secretstore.SecretValue, current *secretstore.SecretState, revokeAfter *time.Time, whatIf bool) error {
	if whatIf {
		s.logger.Info("%sWould write keyring entry %s/%s", logging.WhatIf(true), s.service, s.account)
		return nil
	}

	if err := s.save(&keyringEnvelope{
		Value:       value.Value,
		ExpiresOn:   value.ExpirationDate,
		OperationID: value.OperationID,
	}); err != nil {
		return dserrors.StoreError("keyring", "write entry", err)
	}
	s.logger.Info("Wrote keyring entry %s/%s", s.service, s.account)
	return nil
}

// MarkRotationComplete stamps the entry written by the same operation.
func (s *KeyringStore) MarkRotationComplete(ctx context.Context, value *secretstore.SecretValue, revokeAfter *time.Time, whatIf bool) error {
	if whatIf {
		s.logger.Info("%sWould mark keyring entry %s/%s complete", logging.WhatIf(true), s.service, s.account)
		return nil
	}

	env, err := s.load()
	if err != nil {
		return dserrors.StoreError("keyring", "read entry", err)
	}
	if env.OperationID != value.OperationID {
		return secretstore.NewRotationError(
			"keyring entry %s/%s was written by operation %q, not %q", s.service, s.account, env.OperationID, value.OperationID)
	}

	now := s.now().UTC()
	env.CompletedAt = &now
	if env.ExpiresOn == nil {
		env.ExpiresOn = value.ExpirationDate
	}
	if err := s.save(env); err != nil {
		return dserrors.StoreError("keyring", "write entry", err)
	}
	return nil
}
