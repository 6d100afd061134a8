package stores

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

const (
	// azureDevOpsScope is the Entra ID resource of Azure DevOps.
	azureDevOpsScope = "499b84ac-1321-427f-aa17-267ca6975798/.default"

	patAPIVersion = "7.1-preview.1"
)

// DevOpsPATStore mints Azure DevOps personal access tokens for the identity it
// authenticates as. Each token's authorization id travels with the value as a
// tag so that the token can be revoked once its generation is retired.
type DevOpsPATStore struct {
	name          string
	organization  string
	endpoint      string
	displayName   string
	scopes        string
	credential    azcore.TokenCredential
	clientOptions policy.ClientOptions
	pipeline      runtime.Pipeline
	logger        *logging.Logger
}

// DevOpsPATOption is a functional option for configuring the PAT store
type DevOpsPATOption func(*DevOpsPATStore)

// WithDevOpsCredential sets the credential used to call Azure DevOps
func WithDevOpsCredential(cred azcore.TokenCredential) DevOpsPATOption {
	return func(s *DevOpsPATStore) {
		s.credential = cred
	}
}

// WithDevOpsEndpoint overrides the token service endpoint (for testing)
func WithDevOpsEndpoint(endpoint string) DevOpsPATOption {
	return func(s *DevOpsPATStore) {
		s.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithDevOpsClientOptions sets transport, retry and logging options
func WithDevOpsClientOptions(opts policy.ClientOptions) DevOpsPATOption {
	return func(s *DevOpsPATStore) {
		s.clientOptions = opts
	}
}

// NewDevOpsPATStore creates an Azure DevOps PAT store
func NewDevOpsPATStore(name string, cfg map[string]interface{}, logger *logging.Logger, opts ...DevOpsPATOption) (*DevOpsPATStore, error) {
	org, err := requiredString(cfg, name, "organization", "Set organization to the Azure DevOps organization name")
	if err != nil {
		return nil, err
	}
	scopes, err := requiredString(cfg, name, "scopes", "List PAT scopes separated by spaces, e.g. 'vso.code vso.packaging'")
	if err != nil {
		return nil, err
	}

	s := &DevOpsPATStore{
		name:         name,
		organization: org,
		endpoint:     "https://vssps.dev.azure.com/" + org,
		displayName:  stringValue(cfg, "display_name"),
		scopes:       scopes,
		logger:       logger,
	}
	if s.displayName == "" {
		s.displayName = name
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}

	if s.credential == nil {
		cred, err := newAzureCredential(parseAzureAuth(cfg))
		if err != nil {
			return nil, err
		}
		s.credential = cred
	}

	bearer := runtime.NewBearerTokenPolicy(s.credential, []string{azureDevOpsScope}, &policy.BearerTokenOptions{
		InsecureAllowCredentialWithHTTP: s.clientOptions.InsecureAllowCredentialWithHTTP,
	})
	s.pipeline = runtime.NewPipeline("rotator", "v1", runtime.PipelineOptions{
		PerRetry: []policy.Policy{bearer},
	}, &s.clientOptions)

	return s, nil
}

// NewDevOpsPATStoreFactory creates a PAT store from configuration
func NewDevOpsPATStoreFactory(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error) {
	return NewDevOpsPATStore(name, cfg, logger)
}

// Name returns the store name
func (s *DevOpsPATStore) Name() string {
	return s.name
}

type patRequest struct {
	DisplayName string    `json:"displayName"`
	Scope       string    `json:"scope"`
	ValidTo     time.Time `json:"validTo"`
	AllOrgs     bool      `json:"allOrgs"`
}

type patToken struct {
	DisplayName     string    `json:"displayName"`
	ValidTo         time.Time `json:"validTo"`
	Scope           string    `json:"scope"`
	AuthorizationID string    `json:"authorizationId"`
	Token           string    `json:"token"`
}

type patTokenResult struct {
	PatToken      patToken `json:"patToken"`
	PatTokenError string   `json:"patTokenError"`
}

// OriginateValue creates a new PAT valid until expiresOn.
func (s *DevOpsPATStore) OriginateValue(ctx context.Context, current *secretstore.SecretState, expiresOn time.Time, whatIf bool) (*secretstore.SecretValue, error) {
	if whatIf {
		s.logger.Info("%sWould create PAT %q in %s expiring %s", logging.WhatIf(true), s.displayName, s.organization, formatTime(expiresOn))
		return &secretstore.SecretValue{Value: "<what-if>", ExpirationDate: &expiresOn}, nil
	}

	req, err := s.newRequest(ctx, http.MethodPost, nil)
	if err != nil {
		return nil, err
	}
	if err := runtime.MarshalAsJSON(req, patRequest{
		DisplayName: s.displayName,
		Scope:       s.scopes,
		ValidTo:     expiresOn.UTC(),
	}); err != nil {
		return nil, err
	}

	resp, err := s.pipeline.Do(req)
	if err != nil {
		return nil, dserrors.StoreError("azure.devops.pat", "create token", err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, dserrors.StoreError("azure.devops.pat", "create token", runtime.NewResponseError(resp))
	}

	var result patTokenResult
	if err := runtime.UnmarshalAsJSON(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to decode PAT response: %w", err)
	}
	if result.PatTokenError != "" && result.PatTokenError != "none" {
		return nil, secretstore.NewRotationError("Unable to create PAT: %s", result.PatTokenError)
	}
	if result.PatToken.Token == "" {
		return nil, secretstore.NewRotationError("Unable to create PAT: response contained no token")
	}

	s.logger.Info("Created PAT %q (authorization %s)", result.PatToken.DisplayName, result.PatToken.AuthorizationID)

	value := &secretstore.SecretValue{Value: result.PatToken.Token}
	if !result.PatToken.ValidTo.IsZero() {
		validTo := result.PatToken.ValidTo
		value.ExpirationDate = &validTo
	}
	value.SetTag(TagAdoPatAuthorizationID, result.PatToken.AuthorizationID)
	return value, nil
}

// GetRevocationAction revokes the PAT recorded in the artifact's tags. Artifacts
// written by other origins carry no authorization id and are ignored.
func (s *DevOpsPATStore) GetRevocationAction(ctx context.Context, state secretstore.SecretState, whatIf bool) (secretstore.RevocationAction, error) {
	authorizationID := state.Tag(TagAdoPatAuthorizationID)
	if authorizationID == "" {
		return nil, nil
	}

	return func(ctx context.Context) error {
		if whatIf {
			s.logger.Info("%sWould revoke PAT authorization %s", logging.WhatIf(true), authorizationID)
			return nil
		}

		req, err := s.newRequest(ctx, http.MethodDelete, map[string]string{"authorizationId": authorizationID})
		if err != nil {
			return err
		}
		resp, err := s.pipeline.Do(req)
		if err != nil {
			return dserrors.StoreError("azure.devops.pat", "revoke token", err)
		}
		if runtime.HasStatusCode(resp, http.StatusNotFound) {
			s.logger.Warn("PAT authorization %s was already revoked", authorizationID)
			return nil
		}
		if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusNoContent) {
			err := runtime.NewResponseError(resp)
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode == http.StatusUnauthorized {
				return secretstore.WrapRotationError(err, "Unable to revoke PAT %s", authorizationID)
			}
			return dserrors.StoreError("azure.devops.pat", "revoke token", err)
		}

		s.logger.Info("Revoked PAT authorization %s", authorizationID)
		return nil
	}, nil
}

func (s *DevOpsPATStore) newRequest(ctx context.Context, method string, query map[string]string) (*policy.Request, error) {
	req, err := runtime.NewRequest(ctx, method, s.endpoint+"/_apis/tokens/pats")
	if err != nil {
		return nil, err
	}
	q := req.Raw().URL.Query()
	q.Set("api-version", patAPIVersion)
	for k, v := range query {
		q.Set(k, v)
	}
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set("Accept", "application/json")
	return req, nil
}
