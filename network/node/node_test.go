package node

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weezy20/gosubnet/accounts"
)

func sampleNode() *Node {
	return &Node{
		Name:        "alice",
		P2PPort:     30333,
		RPCPort:     9944,
		MetricsPort: 9615,
		BasePath:    "/tmp/net/alice",
		NetworkKey: NetworkKey{
			PeerID:        "12D3KooWEyoppNCUx8Yx66oV9fJnriXwCcXwDDUA2kj6vnc6iDEp",
			PrivateKeyHex: "c12e2b6c5f3a",
		},
		Aura: &Keypair{
			PublicKeyHex: "0x9c4c291750b0c41e8cfc6e62de6b54a0c45209e17b3dbbf9e5f9a60ae4e8f070",
			SecretSeed:   "0x37d6",
			SS58Address:  "5FbSPQrNexY6cZ9vbuDvXF4sMgKKKSP8Pi4EDjeWpt9pME2y",
		},
		Grandpa: &Keypair{
			PublicKeyHex: "0x1111111111111111111111111111111111111111111111111111111111111111",
			SecretSeed:   "0x2222",
			SS58Address:  "5C4hrfjw9DjXZTzV3MwzrrAr9P1MJhSrvWGWqi1eSuyUpnhM",
		},
	}
}

func TestNodeValidate(t *testing.T) {
	require.NoError(t, sampleNode().Validate())

	n := sampleNode()
	n.Name = ""
	assert.Error(t, n.Validate())

	n = sampleNode()
	n.RPCPort = 0
	assert.Error(t, n.Validate())
}

func TestLaunchArgs(t *testing.T) {
	n := sampleNode()
	args := n.LaunchArgs("", "/net/raw_chainspec.json")
	assert.Equal(t, []string{
		"--base-path", "alice",
		"--chain", "/net/raw_chainspec.json",
		"--port", "30333",
		"--rpc-port", "9944",
		"--prometheus-port", "9615",
		"--validator",
		"--name", "alice",
		"--node-key-file", "alice/alice-node-private-key",
		"--rpc-cors", "all",
	}, args)

	args = n.LaunchArgs("/data", "/data/raw_chainspec.json")
	assert.Equal(t, "/data/alice", args[1])
	assert.Equal(t, "/data/alice/alice-node-private-key", args[14])
}

func TestNodeJSONRoundTripEcdsaValidator(t *testing.T) {
	n := sampleNode()
	n.Validator = &accounts.EcdsaKey{
		PrivateKeyHex:   "0xaa",
		PublicKeyHex:    "0xbb",
		EthereumAddress: "0x8EAF04151687736326C9feA17E25fc5287613693",
	}
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"ecdsa"`)

	var back Node
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, n.Name, back.Name)
	assert.Equal(t, n.NetworkKey, back.NetworkKey)
	require.IsType(t, &accounts.EcdsaKey{}, back.Validator)
	assert.Equal(t, "0x8EAF04151687736326C9feA17E25fc5287613693", back.Validator.Address())
}

func TestNodeJSONRoundTripSr25519Validator(t *testing.T) {
	n := sampleNode()
	n.Validator = &accounts.Sr25519Key{
		SecretSeed:   "0xcc",
		PublicKeyHex: "0xdd",
		SS58Address:  "5FbSPQrNexY6cZ9vbuDvXF4sMgKKKSP8Pi4EDjeWpt9pME2y",
	}
	data, err := json.Marshal(n)
	require.NoError(t, err)

	var back Node
	require.NoError(t, json.Unmarshal(data, &back))
	require.IsType(t, &accounts.Sr25519Key{}, back.Validator)
	assert.Equal(t, accounts.AccountId32, back.Validator.KeyType())
	assert.Equal(t, "0xcc", back.Validator.Secret())
}

func TestNodeJSONNoValidator(t *testing.T) {
	n := sampleNode()
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "validator")

	var back Node
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Nil(t, back.Validator)
}
