package stores

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

// KeyVaultClientAPI defines the Key Vault operations the store uses.
// This allows for mocking in tests.
type KeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error)
	NewListSecretPropertiesVersionsPager(name string, options *azsecrets.ListSecretPropertiesVersionsOptions) *runtime.Pager[azsecrets.ListSecretPropertiesVersionsResponse]
}

// KeyVaultStore keeps a secret in Azure Key Vault.
//
// Every rotation adds a secret version. Versions are tagged with the operation
// that wrote them; replaced versions get a RevokeAfter tag and are disabled once
// that date has passed.
type KeyVaultStore struct {
	name        string
	vaultURL    string
	secretName  string
	contentType string
	staticTags  map[string]string
	client      KeyVaultClientAPI
	logger      *logging.Logger
	now         func() time.Time
}

// KeyVaultOption is a functional option for configuring the Key Vault store
type KeyVaultOption func(*KeyVaultStore)

// WithKeyVaultClient sets a custom Key Vault client (for testing)
func WithKeyVaultClient(client KeyVaultClientAPI) KeyVaultOption {
	return func(s *KeyVaultStore) {
		s.client = client
	}
}

// WithKeyVaultClock overrides the time source used for tag timestamps
func WithKeyVaultClock(now func() time.Time) KeyVaultOption {
	return func(s *KeyVaultStore) {
		s.now = now
	}
}

// NewKeyVaultStore creates a Key Vault store
func NewKeyVaultStore(name string, cfg map[string]interface{}, logger *logging.Logger, opts ...KeyVaultOption) (*KeyVaultStore, error) {
	vaultURL, err := requiredString(cfg, name, "vault_url", "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)")
	if err != nil {
		return nil, err
	}
	if u, err := url.Parse(vaultURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("stores.%s.vault_url", name),
			Value:      vaultURL,
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}
	secretName, err := requiredString(cfg, name, "secret_name", "Set secret_name to the Key Vault secret to rotate")
	if err != nil {
		return nil, err
	}

	s := &KeyVaultStore{
		name:        name,
		vaultURL:    vaultURL,
		secretName:  secretName,
		contentType: stringValue(cfg, "content_type"),
		staticTags:  stringMapValue(cfg, "tags"),
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}

	if s.client == nil {
		cred, err := newAzureCredential(parseAzureAuth(cfg))
		if err != nil {
			return nil, err
		}
		client, err := azsecrets.NewClient(vaultURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
		}
		s.client = client
	}

	return s, nil
}

// NewKeyVaultStoreFactory creates a Key Vault store from configuration
func NewKeyVaultStoreFactory(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error) {
	return NewKeyVaultStore(name, cfg, logger)
}

// Name returns the store name
func (s *KeyVaultStore) Name() string {
	return s.name
}

// GetCurrentState reads the latest version of the secret. A missing secret is
// reported as a 404 state without an expiration so that it is rotated.
func (s *KeyVaultStore) GetCurrentState(ctx context.Context) (*secretstore.SecretState, error) {
	resp, err := s.client.GetSecret(ctx, s.secretName, "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			s.logger.Debug("Secret %s not found in %s", s.secretName, s.vaultURL)
			return &secretstore.SecretState{
				StatusCode:   http.StatusNotFound,
				ErrorMessage: fmt.Sprintf("secret %s not found", s.secretName),
			}, nil
		}
		return nil, dserrors.StoreError("azure.keyvault", "get secret", err)
	}

	state := stateFromProperties(resp.ID, resp.Attributes, resp.Tags)
	if resp.Value != nil {
		state.Value = *resp.Value
	}
	state.StatusCode = http.StatusOK
	return &state, nil
}

// GetRotationArtifacts returns the enabled versions that carry a RevokeAfter tag.
func (s *KeyVaultStore) GetRotationArtifacts(ctx context.Context) ([]secretstore.SecretState, error) {
	versions, err := s.listVersions(ctx)
	if err != nil {
		return nil, err
	}

	var artifacts []secretstore.SecretState
	for _, v := range versions {
		if !isEnabled(v.Attributes) {
			continue
		}
		state := stateFromProperties(v.ID, v.Attributes, v.Tags)
		if state.RevokeAfterDate == nil || state.Tag(TagRevoked) != "" {
			continue
		}
		artifacts = append(artifacts, state)
	}
	return artifacts, nil
}

// WriteSecret adds a new version carrying the value's expiration and tags.
func (s *KeyVaultStore) WriteSecret(ctx context.Context, value *secretstore.SecretValue, current *secretstore.SecretState, revokeAfter *time.Time, whatIf bool) error {
	if whatIf {
		s.logger.Info("%sWould set secret %s in %s", logging.WhatIf(true), s.secretName, s.vaultURL)
		return nil
	}

	tags := make(map[string]*string, len(s.staticTags)+len(value.Tags)+1)
	for k, v := range s.staticTags {
		tags[k] = to(v)
	}
	tags[TagOperationID] = to(value.OperationID)
	for k, v := range value.Tags {
		tags[k] = to(v)
	}

	params := azsecrets.SetSecretParameters{
		Value: to(value.Value),
		Tags:  tags,
		SecretAttributes: &azsecrets.SecretAttributes{
			Enabled: to(true),
			Expires: value.ExpirationDate,
		},
	}
	if s.contentType != "" {
		params.ContentType = to(s.contentType)
	}

	resp, err := s.client.SetSecret(ctx, s.secretName, params, nil)
	if err != nil {
		return dserrors.StoreError("azure.keyvault", "set secret", err)
	}

	version := ""
	if resp.ID != nil {
		version = resp.ID.Version()
	}
	s.logger.Info("Set secret %s version %s", s.secretName, version)
	return nil
}

// MarkRotationComplete tags the version written by this operation as complete,
// adding any tags stores attached to the value after it was written. When a
// revoke-after date is given, every other enabled version is scheduled for
// revocation.
func (s *KeyVaultStore) MarkRotationComplete(ctx context.Context, value *secretstore.SecretValue, revokeAfter *time.Time, whatIf bool) error {
	if whatIf {
		s.logger.Info("%sWould mark operation %s complete on %s", logging.WhatIf(true), value.OperationID, s.secretName)
		return nil
	}

	versions, err := s.listVersions(ctx)
	if err != nil {
		return err
	}

	var current *azsecrets.SecretProperties
	for _, v := range versions {
		if tagValue(v.Tags, TagOperationID) == value.OperationID {
			current = v
			break
		}
	}
	if current == nil || current.ID == nil {
		return secretstore.NewRotationError("no version of %s carries operation id %s", s.secretName, value.OperationID)
	}

	completed := copyTags(current.Tags)
	for k, v := range value.Tags {
		completed[k] = to(v)
	}
	completed[TagRotationComplete] = to("true")
	if err := s.updateTags(ctx, current.ID.Version(), completed, nil); err != nil {
		return err
	}

	if revokeAfter == nil {
		return nil
	}

	for _, v := range versions {
		if v == current || v.ID == nil || !isEnabled(v.Attributes) {
			continue
		}
		if tagValue(v.Tags, TagRevokeAfter) != "" || tagValue(v.Tags, TagRevoked) != "" {
			continue
		}
		tags := copyTags(v.Tags)
		tags[TagRevokeAfter] = to(formatTime(*revokeAfter))
		if err := s.updateTags(ctx, v.ID.Version(), tags, nil); err != nil {
			return err
		}
		s.logger.Debug("Version %s of %s scheduled for revocation after %s", v.ID.Version(), s.secretName, formatTime(*revokeAfter))
	}
	return nil
}

// GetRevocationAction disables the artifact's version.
func (s *KeyVaultStore) GetRevocationAction(ctx context.Context, state secretstore.SecretState, whatIf bool) (secretstore.RevocationAction, error) {
	if state.ID == "" {
		return nil, nil
	}

	return func(ctx context.Context) error {
		if whatIf {
			s.logger.Info("%sWould disable version %s of %s", logging.WhatIf(true), state.ID, s.secretName)
			return nil
		}

		tags := make(map[string]*string, len(state.Tags)+1)
		for k, v := range state.Tags {
			if k == TagRevokeAfter {
				continue
			}
			tags[k] = to(v)
		}
		tags[TagRevoked] = to(formatTime(s.now()))

		if err := s.updateTags(ctx, state.ID, tags, to(false)); err != nil {
			return err
		}
		s.logger.Info("Disabled version %s of %s", state.ID, s.secretName)
		return nil
	}, nil
}

func (s *KeyVaultStore) listVersions(ctx context.Context) ([]*azsecrets.SecretProperties, error) {
	var versions []*azsecrets.SecretProperties
	pager := s.client.NewListSecretPropertiesVersionsPager(s.secretName, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
				return nil, nil
			}
			return nil, dserrors.StoreError("azure.keyvault", "list versions", err)
		}
		versions = append(versions, page.Value...)
	}
	return versions, nil
}

func (s *KeyVaultStore) updateTags(ctx context.Context, version string, tags map[string]*string, enabled *bool) error {
	params := azsecrets.UpdateSecretPropertiesParameters{Tags: tags}
	if enabled != nil {
		params.SecretAttributes = &azsecrets.SecretAttributes{Enabled: enabled}
	}
	if _, err := s.client.UpdateSecretProperties(ctx, s.secretName, version, params, nil); err != nil {
		return dserrors.StoreError("azure.keyvault", "update secret properties", err)
	}
	return nil
}

func stateFromProperties(id *azsecrets.ID, attrs *azsecrets.SecretAttributes, tags map[string]*string) secretstore.SecretState {
	state := secretstore.SecretState{
		OperationID: tagValue(tags, TagOperationID),
		Tags:        flattenTags(tags),
	}
	if id != nil {
		state.ID = id.Version()
	}
	if attrs != nil {
		state.ExpirationDate = attrs.Expires
	}
	state.RevokeAfterDate = parseTime(tagValue(tags, TagRevokeAfter))
	return state
}

func isEnabled(attrs *azsecrets.SecretAttributes) bool {
	return attrs == nil || attrs.Enabled == nil || *attrs.Enabled
}

func tagValue(tags map[string]*string, key string) string {
	if v, ok := tags[key]; ok && v != nil {
		return *v
	}
	return ""
}

func flattenTags(tags map[string]*string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func copyTags(tags map[string]*string) map[string]*string {
	out := make(map[string]*string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func to[T any](v T) *T {
	return &v
}
