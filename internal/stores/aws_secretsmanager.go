package stores

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

// SecretsManagerClientAPI defines the Secrets Manager operations the store uses.
// This allows for mocking in tests.
type SecretsManagerClientAPI interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	TagResource(ctx context.Context, params *secretsmanager.TagResourceInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.TagResourceOutput, error)
}

// SecretsManagerStore mirrors a secret into AWS Secrets Manager.
//
// Secrets Manager stages versions itself (AWSCURRENT / AWSPREVIOUS), so the store
// reports no rotation artifacts and never revokes.
type SecretsManagerStore struct {
	name     string
	secretID string
	client   SecretsManagerClientAPI
	logger   *logging.Logger
}

// SecretsManagerOption is a functional option for configuring the store
type SecretsManagerOption func(*SecretsManagerStore)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(s *SecretsManagerStore) {
		s.client = client
	}
}

// NewSecretsManagerStore creates a Secrets Manager store
func NewSecretsManagerStore(name string, cfg map[string]interface{}, logger *logging.Logger, opts ...SecretsManagerOption) (*SecretsManagerStore, error) {
	secretID, err := requiredString(cfg, name, "secret_id", "Set secret_id to the secret name or ARN")
	if err != nil {
		return nil, err
	}

	s := &SecretsManagerStore{
		name:     name,
		secretID: secretID,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}

	if s.client == nil {
		settings := parseAWSSettings(cfg)
		awsCfg, err := loadAWSConfig(context.Background(), settings)
		if err != nil {
			return nil, err
		}
		var clientOpts []func(*secretsmanager.Options)
		if settings.Endpoint != "" {
			endpoint := settings.Endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}

	return s, nil
}

// NewSecretsManagerStoreFactory creates a Secrets Manager store from configuration
func NewSecretsManagerStoreFactory(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error) {
	return NewSecretsManagerStore(name, cfg, logger)
}

// Name returns the store name
func (s *SecretsManagerStore) Name() string {
	return s.name
}

// GetCurrentState describes the secret. The expiration comes from the Expires
// tag written by WriteSecret.
func (s *SecretsManagerStore) GetCurrentState(ctx context.Context) (*secretstore.SecretState, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return &secretstore.SecretState{
				StatusCode:   http.StatusNotFound,
				ErrorMessage: fmt.Sprintf("secret %s not found", s.secretID),
			}, nil
		}
		return nil, dserrors.StoreError("aws.secretsmanager", "describe secret", err)
	}

	tags := make(map[string]string, len(out.Tags))
	for _, tag := range out.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}

	state := &secretstore.SecretState{
		OperationID:    tags[TagOperationID],
		ExpirationDate: parseTime(tags[TagExpires]),
		StatusCode:     http.StatusOK,
		Tags:           tags,
	}
	for versionID, stages := range out.VersionIdsToStages {
		for _, stage := range stages {
			if stage == "AWSCURRENT" {
				state.ID = versionID
			}
		}
	}
	return state, nil
}

// GetRotationArtifacts reports nothing; Secrets Manager retires versions itself.
func (s *SecretsManagerStore) GetRotationArtifacts(ctx context.Context) ([]secretstore.SecretState, error) {
	return nil, nil
}

// WriteSecret puts a new version using the operation id as idempotency token,
// then records the expiration and operation on the secret's tags.
func (s *SecretsManagerStore) WriteSecret(ctx context.Context, value *secretstore.SecretValue, current *secretstore.SecretState, revokeAfter *time.Time, whatIf bool) error {
	if whatIf {
		s.logger.Info("%sWould put a new version of %s", logging.WhatIf(true), s.secretID)
		return nil
	}

	input := &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(s.secretID),
		SecretString: aws.String(value.Value),
	}
	if value.OperationID != "" {
		input.ClientRequestToken = aws.String(value.OperationID)
	}
	out, err := s.client.PutSecretValue(ctx, input)
	if err != nil {
		return dserrors.StoreError("aws.secretsmanager", "put secret value", err)
	}

	tags := []types.Tag{{Key: aws.String(TagOperationID), Value: aws.String(value.OperationID)}}
	if value.ExpirationDate != nil {
		tags = append(tags, types.Tag{Key: aws.String(TagExpires), Value: aws.String(formatTime(*value.ExpirationDate))})
	}
	if _, err := s.client.TagResource(ctx, &secretsmanager.TagResourceInput{
		SecretId: aws.String(s.secretID),
		Tags:     tags,
	}); err != nil {
		return dserrors.StoreError("aws.secretsmanager", "tag secret", err)
	}

	s.logger.Info("Put version %s of %s", aws.ToString(out.VersionId), s.secretID)
	return nil
}
