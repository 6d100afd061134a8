package stores

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// azureAuthConfig selects how Azure stores authenticate
type azureAuthConfig struct {
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string
}

func parseAzureAuth(cfg map[string]interface{}) azureAuthConfig {
	return azureAuthConfig{
		TenantID:           stringValue(cfg, "tenant_id"),
		ClientID:           stringValue(cfg, "client_id"),
		ClientSecret:       stringValue(cfg, "client_secret"),
		UseManagedIdentity: boolValue(cfg, "use_managed_identity", false),
		UserAssignedID:     stringValue(cfg, "user_assigned_identity_id"),
	}
}

// newAzureCredential picks managed identity, a service principal or the
// default credential chain (environment, workload identity, Azure CLI).
func newAzureCredential(auth azureAuthConfig) (azcore.TokenCredential, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case auth.UseManagedIdentity && auth.UserAssignedID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(auth.UserAssignedID),
		})
	case auth.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	case auth.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(auth.TenantID, auth.ClientID, auth.ClientSecret, nil)
	default:
		var opts *azidentity.DefaultAzureCredentialOptions
		if auth.TenantID != "" {
			opts = &azidentity.DefaultAzureCredentialOptions{TenantID: auth.TenantID}
		}
		cred, err = azidentity.NewDefaultAzureCredential(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}
