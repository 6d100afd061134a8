package stores

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/internal/secure"
	"github.com/systmms/rotator/pkg/secretstore"
)

func TestRandomStore_OriginateValue(t *testing.T) {
	s, err := NewRandomStore("rnd", map[string]interface{}{"length": 40, "alphabet": "hex"}, nil)
	require.NoError(t, err)
	assert.Equal(t, secretstore.Capabilities{CanOriginate: true}, secretstore.CapabilitiesOf(s))

	expiresOn := time.Now().Add(24 * time.Hour)
	value, err := s.OriginateValue(context.Background(), nil, expiresOn, false)
	require.NoError(t, err)

	assert.Len(t, value.Value, 40)
	assert.Empty(t, strings.Trim(value.Value, secure.AlphabetHex))
	assert.Equal(t, expiresOn, *value.ExpirationDate)

	other, err := s.OriginateValue(context.Background(), nil, expiresOn, true)
	require.NoError(t, err)
	assert.NotEqual(t, value.Value, other.Value)
}

func TestRandomStore_Defaults(t *testing.T) {
	s, err := NewRandomStore("rnd", map[string]interface{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, s.length)
	assert.Equal(t, secure.AlphabetAlphanumeric, s.alphabet)
}

func TestRandomStore_Config(t *testing.T) {
	_, err := NewRandomStore("rnd", map[string]interface{}{"length": 4}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length must be between")

	_, err = NewRandomStore("rnd", map[string]interface{}{"alphabet": "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alphabet")
}
