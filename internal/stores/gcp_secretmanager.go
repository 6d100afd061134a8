package stores

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// gcpVersionTagPrefix prefixes the tag recording the version a GCP store added.
// The store name is appended so several GCP secondaries can share one value.
const gcpVersionTagPrefix = "GcpSecretVersion."

// GCPSecretManagerClientAPI defines the Secret Manager operations the store uses.
// This allows for mocking in tests.
type GCPSecretManagerClientAPI interface {
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	DisableSecretVersion(ctx context.Context, req *secretmanagerpb.DisableSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
}

// GCPSecretManagerStore adds each new value as a version of an existing Google
// Cloud secret and disables that version when its generation is revoked.
type GCPSecretManagerStore struct {
	name     string
	parent   string
	client   GCPSecretManagerClientAPI
	logger   *logging.Logger
	crcTable *crc32.Table
}

// GCPOption is a functional option for configuring the GCP store
type GCPOption func(*GCPSecretManagerStore)

// WithGCPSecretManagerClient sets a custom Secret Manager client (for testing)
func WithGCPSecretManagerClient(client GCPSecretManagerClientAPI) GCPOption {
	return func(s *GCPSecretManagerStore) {
		s.client = client
	}
}

// NewGCPSecretManagerStore creates a GCP Secret Manager store
func NewGCPSecretManagerStore(name string, cfg map[string]interface{}, logger *logging.Logger, opts ...GCPOption) (*GCPSecretManagerStore, error) {
	projectID := stringValue(cfg, "project_id")
	if projectID == "" {
		projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if projectID == "" {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("stores.%s.project_id", name),
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id in config or GOOGLE_CLOUD_PROJECT environment variable",
		}
	}
	secretID, err := requiredString(cfg, name, "secret_id", "Set secret_id to the name of an existing secret")
	if err != nil {
		return nil, err
	}

	s := &GCPSecretManagerStore{
		name:     name,
		parent:   fmt.Sprintf("projects/%s/secrets/%s", projectID, secretID),
		logger:   logger,
		crcTable: crc32.MakeTable(crc32.Castagnoli),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}

	if s.client == nil {
		client, err := newGCPSecretManagerClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
		}
		s.client = client
	}

	return s, nil
}

// newGCPSecretManagerClient honours a service account key file and service
// account impersonation, falling back to application default credentials.
func newGCPSecretManagerClient(cfg map[string]interface{}) (*secretmanager.Client, error) {
	ctx := context.Background()
	var clientOptions []option.ClientOption

	if keyPath := stringValue(cfg, "service_account_key_path"); keyPath != "" {
		if strings.HasPrefix(keyPath, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyPath = filepath.Join(home, keyPath[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(keyPath))
	}

	if target := stringValue(cfg, "impersonate_service_account"); target != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: target,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		}, clientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to impersonate %s: %w", target, err)
		}
		clientOptions = []option.ClientOption{option.WithTokenSource(ts)}
	}

	return secretmanager.NewClient(ctx, clientOptions...)
}

// NewGCPSecretManagerStoreFactory creates a GCP store from configuration
func NewGCPSecretManagerStoreFactory(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error) {
	return NewGCPSecretManagerStore(name, cfg, logger)
}

// Name returns the store name
func (s *GCPSecretManagerStore) Name() string {
	return s.name
}

func (s *GCPSecretManagerStore) versionTag() string {
	return gcpVersionTagPrefix + s.name
}

// WriteSecret adds a secret version and records its resource name on the value
// so the primary persists it for later revocation.
func (s *GCPSecretManagerStore) WriteSecret(ctx context.Context, value *secretstore.SecretValue, current *secretstore.SecretState, revokeAfter *time.Time, whatIf bool) error {
	if whatIf {
		s.logger.Info("%sWould add a version to %s", logging.WhatIf(true), s.parent)
		return nil
	}

	data := []byte(value.Value)
	checksum := int64(crc32.Checksum(data, s.crcTable))

	version, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent: s.parent,
		Payload: &secretmanagerpb.SecretPayload{
			Data:       data,
			DataCrc32C: &checksum,
		},
	})
	if err != nil {
		return dserrors.StoreError("gcp.secretmanager", "add secret version", err)
	}

	value.SetTag(s.versionTag(), version.GetName())
	s.logger.Info("Added %s", version.GetName())
	return nil
}

// GetRevocationAction disables the version this store added for the artifact's
// generation. Artifacts without a recorded version are ignored.
func (s *GCPSecretManagerStore) GetRevocationAction(ctx context.Context, state secretstore.SecretState, whatIf bool) (secretstore.RevocationAction, error) {
	versionName := state.Tag(s.versionTag())
	if versionName == "" {
		return nil, nil
	}

	return func(ctx context.Context) error {
		if whatIf {
			s.logger.Info("%sWould disable %s", logging.WhatIf(true), versionName)
			return nil
		}

		_, err := s.client.DisableSecretVersion(ctx, &secretmanagerpb.DisableSecretVersionRequest{Name: versionName})
		switch status.Code(err) {
		case codes.OK:
			s.logger.Info("Disabled %s", versionName)
			return nil
		case codes.NotFound, codes.FailedPrecondition:
			s.logger.Warn("%s is already gone or destroyed", versionName)
			return nil
		default:
			return dserrors.StoreError("gcp.secretmanager", "disable secret version", err)
		}
	}, nil
}
