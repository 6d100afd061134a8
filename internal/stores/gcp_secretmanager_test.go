package stores

import (
	"context"
	"errors"
	"hash/crc32"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/pkg/secretstore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeGCPSecretManager struct {
	added      []*secretmanagerpb.AddSecretVersionRequest
	disabled   []string
	addErr     error
	disableErr error
}

func (f *fakeGCPSecretManager) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, req)
	return &secretmanagerpb.SecretVersion{Name: req.Parent + "/versions/7"}, nil
}

func (f *fakeGCPSecretManager) DisableSecretVersion(ctx context.Context, req *secretmanagerpb.DisableSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error) {
	if f.disableErr != nil {
		return nil, f.disableErr
	}
	f.disabled = append(f.disabled, req.Name)
	return &secretmanagerpb.SecretVersion{Name: req.Name}, nil
}

func newTestGCPStore(t *testing.T, client *fakeGCPSecretManager) *GCPSecretManagerStore {
	t.Helper()
	s, err := NewGCPSecretManagerStore("gsm", map[string]interface{}{
		"project_id": "acme-prod",
		"secret_id":  "app-password",
	}, nil, WithGCPSecretManagerClient(client))
	require.NoError(t, err)
	return s
}

func TestGCPSecretManagerStore_Capabilities(t *testing.T) {
	s := newTestGCPStore(t, &fakeGCPSecretManager{})
	assert.Equal(t, secretstore.Capabilities{CanWrite: true, CanRevoke: true}, secretstore.CapabilitiesOf(s))
}

func TestGCPSecretManagerStore_Config(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")

	_, err := NewGCPSecretManagerStore("gsm", map[string]interface{}{"secret_id": "x"}, nil, WithGCPSecretManagerClient(&fakeGCPSecretManager{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id")

	_, err = NewGCPSecretManagerStore("gsm", map[string]interface{}{"project_id": "p"}, nil, WithGCPSecretManagerClient(&fakeGCPSecretManager{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_id")

	t.Setenv("GOOGLE_CLOUD_PROJECT", "from-env")
	s, err := NewGCPSecretManagerStore("gsm", map[string]interface{}{"secret_id": "x"}, nil, WithGCPSecretManagerClient(&fakeGCPSecretManager{}))
	require.NoError(t, err)
	assert.Equal(t, "projects/from-env/secrets/x", s.parent)
}

func TestGCPSecretManagerStore_WriteSecret(t *testing.T) {
	client := &fakeGCPSecretManager{}
	s := newTestGCPStore(t, client)
	value := &secretstore.SecretValue{OperationID: "op-1", Value: "s3cret"}

	require.NoError(t, s.WriteSecret(context.Background(), value, nil, nil, false))

	require.Len(t, client.added, 1)
	req := client.added[0]
	assert.Equal(t, "projects/acme-prod/secrets/app-password", req.Parent)
	assert.Equal(t, []byte("s3cret"), req.Payload.Data)
	want := int64(crc32.Checksum([]byte("s3cret"), crc32.MakeTable(crc32.Castagnoli)))
	assert.Equal(t, want, req.Payload.GetDataCrc32C())
	assert.Equal(t, "projects/acme-prod/secrets/app-password/versions/7", value.Tags["GcpSecretVersion.gsm"])
}

func TestGCPSecretManagerStore_WriteError(t *testing.T) {
	client := &fakeGCPSecretManager{addErr: status.Error(codes.PermissionDenied, "denied")}
	s := newTestGCPStore(t, client)
	value := &secretstore.SecretValue{Value: "x"}

	err := s.WriteSecret(context.Background(), value, nil, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcp.secretmanager store error during add secret version")
	assert.Empty(t, value.Tags)
}

func TestGCPSecretManagerStore_WhatIf(t *testing.T) {
	client := &fakeGCPSecretManager{}
	s := newTestGCPStore(t, client)
	value := &secretstore.SecretValue{Value: "x"}

	require.NoError(t, s.WriteSecret(context.Background(), value, nil, nil, true))
	assert.Empty(t, client.added)

	action, err := s.GetRevocationAction(context.Background(), secretstore.SecretState{
		Tags: map[string]string{"GcpSecretVersion.gsm": "projects/p/secrets/s/versions/1"},
	}, true)
	require.NoError(t, err)
	require.NotNil(t, action)
	require.NoError(t, action(context.Background()))
	assert.Empty(t, client.disabled)
}

func TestGCPSecretManagerStore_Revocation(t *testing.T) {
	versionName := "projects/acme-prod/secrets/app-password/versions/3"
	artifact := secretstore.SecretState{Tags: map[string]string{"GcpSecretVersion.gsm": versionName}}

	tests := []struct {
		name      string
		err       error
		wantError bool
	}{
		{name: "disabled"},
		{name: "not found", err: status.Error(codes.NotFound, "gone")},
		{name: "destroyed", err: status.Error(codes.FailedPrecondition, "destroyed")},
		{name: "denied", err: status.Error(codes.PermissionDenied, "denied"), wantError: true},
		{name: "plain error", err: errors.New("boom"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeGCPSecretManager{disableErr: tt.err}
			s := newTestGCPStore(t, client)

			action, err := s.GetRevocationAction(context.Background(), artifact, false)
			require.NoError(t, err)
			require.NotNil(t, action)

			err = action(context.Background())
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			if tt.err == nil {
				assert.Equal(t, []string{versionName}, client.disabled)
			}
		})
	}
}

func TestGCPSecretManagerStore_RevocationWithoutVersion(t *testing.T) {
	s := newTestGCPStore(t, &fakeGCPSecretManager{})

	action, err := s.GetRevocationAction(context.Background(), secretstore.SecretState{
		Tags: map[string]string{"GcpSecretVersion.other": "projects/p/secrets/s/versions/1"},
	}, false)
	require.NoError(t, err)
	assert.Nil(t, action)
}
