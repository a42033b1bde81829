package run

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weezy20/gosubnet/accounts"
	"github.com/weezy20/gosubnet/network"
)

const sampleTOML = `
[network]
token-symbol = "GSN"
token-decimals = 9
chain-name = "GoSubnet Testnet"
chain-id = "gosubnet_testnet"

[[nodes]]
name = "validator-a"
p2p-port = 40000
rpc-port = 40100
prometheus-port = 40200
balance = 77

[[nodes]]
name = "validator-b"

[[balances]]
address = "0x8eaf04151687736326c9fea17e25fc5287613693"
amount = 5
`

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gosubnet.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func baseConfig() *network.Config {
	return &network.Config{
		RootDir:        "./network",
		ChainSpec:      "dev",
		AccountKeyType: accounts.AccountId20,
		Consensus:      network.ValidatorSet,
		Nodes:          network.DefaultNodes(4),
		Balance:        network.DefaultBalance,
		ResetBalances:  true,
		StopGrace:      network.DefaultStopGrace,
	}
}

func TestApplyConfigFile(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, applyConfigFile(cfg, writeTOML(t, sampleTOML)))

	// The [[nodes]] list replaces the default node set.
	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, "validator-a", cfg.Nodes[0].Name)
	assert.Equal(t, uint16(40000), cfg.Nodes[0].P2PPort)
	assert.Equal(t, uint16(40100), cfg.Nodes[0].RPCPort)
	assert.Equal(t, uint16(40200), cfg.Nodes[0].MetricsPort)
	require.NotNil(t, cfg.Nodes[0].BalanceOverride)
	assert.Equal(t, int64(77), *cfg.Nodes[0].BalanceOverride)

	// Unset fields fall back to the defaults for that slot.
	assert.Equal(t, "validator-b", cfg.Nodes[1].Name)
	assert.Equal(t, uint16(30334), cfg.Nodes[1].P2PPort)
	assert.Nil(t, cfg.Nodes[1].BalanceOverride)

	require.NotNil(t, cfg.Customize)
	assert.Equal(t, "GSN", cfg.Customize.TokenSymbol)
	require.NotNil(t, cfg.Customize.TokenDecimals)
	assert.Equal(t, 9, *cfg.Customize.TokenDecimals)
	assert.Equal(t, "gosubnet_testnet", cfg.Customize.ChainID)

	require.Len(t, cfg.ExtraBalances, 1)
	assert.Equal(t, int64(5), cfg.ExtraBalances[0].Amount)

	require.NoError(t, cfg.Validate())
}

func TestApplyConfigFileEmptyFileKeepsDefaults(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, applyConfigFile(cfg, writeTOML(t, "")))
	assert.Len(t, cfg.Nodes, 4)
	assert.Nil(t, cfg.Customize)
	assert.Empty(t, cfg.ExtraBalances)
}

func TestApplyConfigFileMissingFile(t *testing.T) {
	cfg := baseConfig()
	assert.Error(t, applyConfigFile(cfg, filepath.Join(t.TempDir(), "missing.toml")))
}
