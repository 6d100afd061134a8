package stores

import (
	"context"
	"fmt"
	"time"

	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/secure"
	"github.com/systmms/rotator/pkg/secretstore"
)

// RandomStore originates random passwords. It keeps nothing, so it is only
// ever used as an origin.
type RandomStore struct {
	name     string
	length   int
	alphabet string
	logger   *logging.Logger
}

// NewRandomStore creates a random password origin
func NewRandomStore(name string, cfg map[string]interface{}, logger *logging.Logger) (*RandomStore, error) {
	length := intValue(cfg, "length", 32)
	if length < 8 || length > 4096 {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("stores.%s.length", name),
			Value:      length,
			Message:    "length must be between 8 and 4096",
			Suggestion: "Use at least 24 characters for passwords",
		}
	}
	alphabet := secure.Alphabet(stringValue(cfg, "alphabet"))
	if len(alphabet) < 2 || len(alphabet) > 256 {
		return nil, dserrors.ConfigError{
			Field:   fmt.Sprintf("stores.%s.alphabet", name),
			Message: "alphabet must name a character set or list 2 to 256 characters",
		}
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &RandomStore{
		name:     name,
		length:   length,
		alphabet: alphabet,
		logger:   logger,
	}, nil
}

// NewRandomStoreFactory creates a random store from configuration
func NewRandomStoreFactory(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error) {
	return NewRandomStore(name, cfg, logger)
}

// Name returns the store name
func (s *RandomStore) Name() string {
	return s.name
}

// OriginateValue generates a new password. Generation has no side effects, so
// a what-if run produces a real value too.
func (s *RandomStore) OriginateValue(ctx context.Context, current *secretstore.SecretState, expiresOn time.Time, whatIf bool) (*secretstore.SecretValue, error) {
	value, err := secure.GenerateString(s.length, s.alphabet)
	if err != nil {
		return nil, secretstore.WrapRotationError(err, "unable to generate random value")
	}
	s.logger.Debug("%sGenerated %d character value", logging.WhatIf(whatIf), s.length)

	return &secretstore.SecretValue{
		Value:          value,
		ExpirationDate: &expiresOn,
	}, nil
}
