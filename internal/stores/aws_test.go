package stores

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/pkg/secretstore"
)

type fakeSecretsManager struct {
	describe    *secretsmanager.DescribeSecretOutput
	describeErr error
	putErr      error
	puts        []*secretsmanager.PutSecretValueInput
	tags        []*secretsmanager.TagResourceInput
}

func (f *fakeSecretsManager) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return f.describe, nil
}

func (f *fakeSecretsManager) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, params)
	return &secretsmanager.PutSecretValueOutput{VersionId: params.ClientRequestToken}, nil
}

func (f *fakeSecretsManager) TagResource(ctx context.Context, params *secretsmanager.TagResourceInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.TagResourceOutput, error) {
	f.tags = append(f.tags, params)
	return &secretsmanager.TagResourceOutput{}, nil
}

func newTestSecretsManagerStore(t *testing.T, client *fakeSecretsManager) *SecretsManagerStore {
	t.Helper()
	s, err := NewSecretsManagerStore("sm", map[string]interface{}{"secret_id": "prod/app"}, nil, WithSecretsManagerClient(client))
	require.NoError(t, err)
	return s
}

func TestSecretsManagerStore_Capabilities(t *testing.T) {
	s := newTestSecretsManagerStore(t, &fakeSecretsManager{})
	assert.Equal(t, secretstore.Capabilities{CanRead: true, CanWrite: true}, secretstore.CapabilitiesOf(s))
}

func TestSecretsManagerStore_GetCurrentState(t *testing.T) {
	expires := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeSecretsManager{describe: &secretsmanager.DescribeSecretOutput{
		Tags: []smtypes.Tag{
			{Key: aws.String(TagExpires), Value: aws.String(formatTime(expires))},
			{Key: aws.String(TagOperationID), Value: aws.String("op-1")},
		},
		VersionIdsToStages: map[string][]string{
			"old": {"AWSPREVIOUS"},
			"new": {"AWSCURRENT"},
		},
	}}
	s := newTestSecretsManagerStore(t, client)

	state, err := s.GetCurrentState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", state.ID)
	assert.Equal(t, "op-1", state.OperationID)
	require.NotNil(t, state.ExpirationDate)
	assert.Equal(t, expires, *state.ExpirationDate)

	artifacts, err := s.GetRotationArtifacts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestSecretsManagerStore_NotFound(t *testing.T) {
	s := newTestSecretsManagerStore(t, &fakeSecretsManager{
		describeErr: &smtypes.ResourceNotFoundException{Message: aws.String("gone")},
	})

	state, err := s.GetCurrentState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, state.StatusCode)
	assert.Nil(t, state.ExpirationDate)
}

func TestSecretsManagerStore_DescribeError(t *testing.T) {
	s := newTestSecretsManagerStore(t, &fakeSecretsManager{describeErr: errors.New("AccessDeniedException")})

	_, err := s.GetCurrentState(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secretsmanager:PutSecretValue")
}

func TestSecretsManagerStore_WriteSecret(t *testing.T) {
	client := &fakeSecretsManager{}
	s := newTestSecretsManagerStore(t, client)
	expires := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	value := &secretstore.SecretValue{OperationID: "0c3a6a0e-4a8e-4c8f-9d0a-1e2f3a4b5c6d", Value: "s3cret", ExpirationDate: &expires}

	require.NoError(t, s.WriteSecret(context.Background(), value, nil, nil, false))

	require.Len(t, client.puts, 1)
	assert.Equal(t, "prod/app", aws.ToString(client.puts[0].SecretId))
	assert.Equal(t, "s3cret", aws.ToString(client.puts[0].SecretString))
	assert.Equal(t, value.OperationID, aws.ToString(client.puts[0].ClientRequestToken))

	require.Len(t, client.tags, 1)
	got := map[string]string{}
	for _, tag := range client.tags[0].Tags {
		got[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	assert.Equal(t, map[string]string{
		TagOperationID: value.OperationID,
		TagExpires:     formatTime(expires),
	}, got)
}

func TestSecretsManagerStore_WhatIf(t *testing.T) {
	client := &fakeSecretsManager{}
	s := newTestSecretsManagerStore(t, client)

	require.NoError(t, s.WriteSecret(context.Background(), &secretstore.SecretValue{Value: "x"}, nil, nil, true))
	assert.Empty(t, client.puts)
	assert.Empty(t, client.tags)
}

type fakeSSM struct {
	puts []*ssm.PutParameterInput
	err  error
}

func (f *fakeSSM) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, params)
	return &ssm.PutParameterOutput{Version: int64(len(f.puts))}, nil
}

func TestSSMStore_WriteSecret(t *testing.T) {
	client := &fakeSSM{}
	s, err := NewSSMStore("ssm", map[string]interface{}{
		"parameter":  "/prod/app/password",
		"kms_key_id": "alias/app",
	}, nil, WithSSMClient(client))
	require.NoError(t, err)
	assert.Equal(t, secretstore.Capabilities{CanWrite: true}, secretstore.CapabilitiesOf(s))

	value := &secretstore.SecretValue{OperationID: "op-1", Value: "s3cret"}
	require.NoError(t, s.WriteSecret(context.Background(), value, nil, nil, false))
	require.NoError(t, s.WriteSecret(context.Background(), value, nil, nil, false))

	require.Len(t, client.puts, 2)
	put := client.puts[0]
	assert.Equal(t, "/prod/app/password", aws.ToString(put.Name))
	assert.Equal(t, "s3cret", aws.ToString(put.Value))
	assert.Equal(t, ssmtypes.ParameterTypeSecureString, put.Type)
	assert.True(t, aws.ToBool(put.Overwrite))
	assert.Equal(t, "alias/app", aws.ToString(put.KeyId))
	assert.Contains(t, aws.ToString(put.Description), "op-1")
}

func TestSSMStore_WhatIfAndErrors(t *testing.T) {
	client := &fakeSSM{}
	s, err := NewSSMStore("ssm", map[string]interface{}{"parameter": "/p"}, nil, WithSSMClient(client))
	require.NoError(t, err)

	require.NoError(t, s.WriteSecret(context.Background(), &secretstore.SecretValue{Value: "x"}, nil, nil, true))
	assert.Empty(t, client.puts)

	client.err = errors.New("ThrottlingException: rate exceeded")
	err = s.WriteSecret(context.Background(), &secretstore.SecretValue{Value: "x"}, nil, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aws.ssm store error during put parameter")

	_, err = NewSSMStore("ssm", map[string]interface{}{}, nil, WithSSMClient(client))
	assert.Error(t, err)
}
