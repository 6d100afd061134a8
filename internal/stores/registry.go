package stores

import (
	"fmt"
	"sort"
	"strings"
	"time"

	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

// Tags written to and read from backing systems.
const (
	TagOperationID           = "OperationId"
	TagRevokeAfter           = "RevokeAfter"
	TagRotationComplete      = "RotationComplete"
	TagRevoked               = "Revoked"
	TagExpires               = "Expires"
	TagAdoPatAuthorizationID = "AdoPatAuthorizationId"
)

// Registry manages store creation by type name
type Registry struct {
	factories map[string]Factory
	logger    *logging.Logger
}

// Factory creates a store instance from its configuration block
type Factory func(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error)

// NewRegistry creates a registry with the built-in store types
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}

	r.RegisterFactory("azure.keyvault", NewKeyVaultStoreFactory)
	r.RegisterFactory("azure.devops.pat", NewDevOpsPATStoreFactory)
	r.RegisterFactory("random", NewRandomStoreFactory)
	r.RegisterFactory("aws.secretsmanager", NewSecretsManagerStoreFactory)
	r.RegisterFactory("aws.ssm", NewSSMStoreFactory)
	r.RegisterFactory("gcp.secretmanager", NewGCPSecretManagerStoreFactory)
	r.RegisterFactory("keyring", NewKeyringStoreFactory)
	r.RegisterFactory("sql.user", NewSQLUserStoreFactory)

	return r
}

// RegisterFactory registers a store factory for a given type
func (r *Registry) RegisterFactory(storeType string, factory Factory) {
	r.factories[storeType] = factory
}

// Create builds the store called name from its configuration block
func (r *Registry) Create(name, storeType string, cfg map[string]interface{}) (secretstore.Store, error) {
	factory, exists := r.factories[storeType]
	if !exists {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("stores.%s.type", name),
			Value:      storeType,
			Message:    "unknown store type",
			Suggestion: "Use one of: " + strings.Join(r.SupportedTypes(), ", "),
		}
	}
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	return factory(name, cfg, r.logger.WithPrefix(name))
}

// SupportedTypes returns the registered store types in sorted order
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a store type is registered
func (r *Registry) IsSupported(storeType string) bool {
	_, exists := r.factories[storeType]
	return exists
}

func stringValue(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func requiredString(cfg map[string]interface{}, storeName, key, suggestion string) (string, error) {
	v := stringValue(cfg, key)
	if v == "" {
		return "", dserrors.ConfigError{
			Field:      fmt.Sprintf("stores.%s.%s", storeName, key),
			Message:    key + " is required",
			Suggestion: suggestion,
		}
	}
	return v, nil
}

func boolValue(cfg map[string]interface{}, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

func intValue(cfg map[string]interface{}, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func stringMapValue(cfg map[string]interface{}, key string) map[string]string {
	out := make(map[string]string)
	switch m := cfg[key].(type) {
	case map[string]interface{}:
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
