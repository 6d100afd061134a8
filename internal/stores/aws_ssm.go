package stores

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

// SSMClientAPI defines the Parameter Store operations the store uses.
// This allows for mocking in tests.
type SSMClientAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMStore copies the secret into an SSM SecureString parameter.
type SSMStore struct {
	name      string
	parameter string
	kmsKeyID  string
	client    SSMClientAPI
	logger    *logging.Logger
}

// SSMOption is a functional option for configuring the SSM store
type SSMOption func(*SSMStore)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(s *SSMStore) {
		s.client = client
	}
}

// NewSSMStore creates a Parameter Store store
func NewSSMStore(name string, cfg map[string]interface{}, logger *logging.Logger, opts ...SSMOption) (*SSMStore, error) {
	parameter, err := requiredString(cfg, name, "parameter", "Set parameter to the full parameter name, e.g. /prod/app/password")
	if err != nil {
		return nil, err
	}

	s := &SSMStore{
		name:      name,
		parameter: parameter,
		kmsKeyID:  stringValue(cfg, "kms_key_id"),
		logger:    logger,
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
		var clientOpts []func(*ssm.Options)
		if settings.Endpoint != "" {
			endpoint := settings.Endpoint
			clientOpts = append(clientOpts, func(o *ssm.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = ssm.NewFromConfig(awsCfg, clientOpts...)
	}

	return s, nil
}

// NewSSMStoreFactory creates an SSM store from configuration
func NewSSMStoreFactory(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error) {
	return NewSSMStore(name, cfg, logger)
}

// Name returns the store name
func (s *SSMStore) Name() string {
	return s.name
}

// WriteSecret overwrites the parameter with the new value.
func (s *SSMStore) WriteSecret(ctx context.Context, value *secretstore.SecretValue, current *secretstore.SecretState, revokeAfter *time.Time, whatIf bool) error {
	if whatIf {
		s.logger.Info("%sWould overwrite parameter %s", logging.WhatIf(true), s.parameter)
		return nil
	}

	input := &ssm.PutParameterInput{
		Name:      aws.String(s.parameter),
		Value:     aws.String(value.Value),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	}
	if s.kmsKeyID != "" {
		input.KeyId = aws.String(s.kmsKeyID)
	}
	if value.OperationID != "" {
		input.Description = aws.String("Rotated by operation " + value.OperationID)
	}

	out, err := s.client.PutParameter(ctx, input)
	if err != nil {
		return dserrors.StoreError("aws.ssm", "put parameter", err)
	}

	s.logger.Info("Wrote parameter %s version %d", s.parameter, out.Version)
	return nil
}
