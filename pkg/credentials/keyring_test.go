package credentials_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/germanamz/owl/pkg/credentials"
)

func TestKeychain(t *testing.T) {
	keyring.MockInit()
	kc := credentials.NewKeychain()

	key, err := kc.Get()
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, kc.Set("sk-or-saved"))
	key, err = kc.Get()
	require.NoError(t, err)
	assert.Equal(t, "sk-or-saved", key)

	require.NoError(t, kc.Delete())
	key, err = kc.Get()
	require.NoError(t, err)
	assert.Empty(t, key)

	// Deleting again is fine.
	require.NoError(t, kc.Delete())

	assert.Error(t, kc.Set(""))
}
