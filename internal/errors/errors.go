package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// StoreError enhances a backing-system error with the store type, the operation
// that failed and, where one is known, a suggestion for fixing it.
func StoreError(storeType, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s store error during %s", storeType, operation),
		Details:    err.Error(),
		Suggestion: getStoreSuggestion(storeType, err),
		Err:        err,
	}
}

// getStoreSuggestion returns helpful suggestions based on store type and error
func getStoreSuggestion(storeType string, err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.HasPrefix(storeType, "azure.keyvault"):
		switch {
		case strings.Contains(errStr, "forbidden") || strings.Contains(errStr, "403"):
			return "Check Key Vault access: Get, List and Set permissions on secrets are required"
		case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "401"):
			return "Check authentication: run 'az login' or verify the managed identity / service principal"
		case strings.Contains(errStr, "throttled") || strings.Contains(errStr, "429"):
			return "Key Vault throttled the request. Lower --concurrency and try again"
		}

	case strings.HasPrefix(storeType, "azure.devops"):
		switch {
		case strings.Contains(errStr, "401") || strings.Contains(errStr, "unauthorized"):
			return "The identity needs an Azure DevOps license and the 'vso.tokens_manage' scope"
		case strings.Contains(errStr, "404"):
			return "Verify the organization name in the store configuration"
		}

	case strings.HasPrefix(storeType, "aws"):
		switch {
		case strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization"):
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		case strings.Contains(errStr, "accessdenied"):
			return "Check IAM permissions for secretsmanager:PutSecretValue / ssm:PutParameter"
		case strings.Contains(errStr, "resourcenotfoundexception"):
			return "Verify the secret name and region"
		case strings.Contains(errStr, "throttling"):
			return "AWS rate limit exceeded. Lower --concurrency and try again"
		}

	case strings.HasPrefix(storeType, "gcp"):
		switch {
		case strings.Contains(errStr, "permissiondenied") || strings.Contains(errStr, "permission denied"):
			return "Grant roles/secretmanager.secretVersionManager on the secret"
		case strings.Contains(errStr, "notfound") || strings.Contains(errStr, "not found"):
			return "Create the secret first; rotation only adds versions"
		}

	case storeType == "keyring":
		if strings.Contains(errStr, "secret service") || strings.Contains(errStr, "dbus") {
			return "Start a Secret Service provider such as gnome-keyring or KWallet"
		}

	case strings.HasPrefix(storeType, "sql"):
		if strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "access denied") {
			return "The connecting user needs privileges to ALTER the rotated role"
		}
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and store configuration"
	}

	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var configErr ConfigError
	if errors.As(err, &configErr) {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}
	errStr := rootErr.Error()

	// Parser errors start with "yaml: "; file names ending in .yaml must not match.
	if strings.HasPrefix(errStr, "yaml: ") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
