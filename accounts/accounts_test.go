package accounts

import (
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyType(t *testing.T) {
	for in, want := range map[string]KeyType{
		"ecdsa":   AccountId20,
		"ECDSA":   AccountId20,
		"sr25519": AccountId32,
		"Sr25519": AccountId32,
	} {
		got, err := ParseKeyType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseKeyType("ed25519")
	assert.Error(t, err)
}

func TestGenerateEcdsaKey(t *testing.T) {
	key, err := GenerateEcdsaKey()
	require.NoError(t, err)
	assert.Equal(t, AccountId20, key.KeyType())
	assert.True(t, strings.HasPrefix(key.PrivateKeyHex, "0x"))
	assert.Len(t, key.PrivateKeyHex, 2+64)
	assert.True(t, strings.HasPrefix(key.EthereumAddress, "0x"))
	assert.Len(t, key.EthereumAddress, 2+40)
	assert.Equal(t, key.EthereumAddress, key.Address())
	assert.Equal(t, key.PrivateKeyHex, key.Secret())
	require.NoError(t, ValidateAddress(AccountId20, key.Address()))

	other, err := GenerateEcdsaKey()
	require.NoError(t, err)
	assert.NotEqual(t, key.EthereumAddress, other.EthereumAddress)
}

func TestValidateAddress(t *testing.T) {
	ss58 := base58.Encode(make([]byte, 35))
	ss58Wide := base58.Encode(make([]byte, 36))
	tests := []struct {
		keyType KeyType
		addr    string
		ok      bool
	}{
		{AccountId20, "0x8eaf04151687736326c9fea17e25fc5287613693", true},
		{AccountId20, "8eaf04151687736326c9fea17e25fc5287613693", true},
		{AccountId20, "0x8eaf", false},
		{AccountId20, "not-an-address", false},
		{AccountId32, ss58, true},
		{AccountId32, ss58Wide, true},
		{AccountId32, base58.Encode(make([]byte, 10)), false},
		{AccountId32, "0OIl", false},
	}
	for _, tt := range tests {
		err := ValidateAddress(tt.keyType, tt.addr)
		if tt.ok {
			assert.NoError(t, err, tt.addr)
		} else {
			assert.Error(t, err, tt.addr)
		}
	}
}
