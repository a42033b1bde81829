package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weezy20/gosubnet/accounts"
	"github.com/weezy20/gosubnet/chainspec"
	"github.com/weezy20/gosubnet/network"
	"github.com/weezy20/gosubnet/substrate"
)

const baseSpecJSON = `{
  "name": "Development",
  "id": "dev",
  "chainType": "Development",
  "bootNodes": [],
  "properties": {"tokenDecimals": 12, "tokenSymbol": "UNIT"},
  "genesis": {"runtimeGenesis": {"patch": {
    "aura": {"authorities": []},
    "grandpa": {"authorities": []},
    "session": {"keys": []},
    "validatorSet": {"initialValidators": []},
    "balances": {"balances": []}
  }}}
}`

// fakeBackend emulates the whole tool surface a bootstrap run touches.
type fakeBackend struct {
	rootDir string
	counter int
}

var _ substrate.Backend = (*fakeBackend)(nil)

// testPeerID builds a base58 identity multihash of the kind libp2p uses.
func testPeerID(seed byte) string {
	b := make([]byte, 38)
	b[1] = 0x24
	for i := 2; i < len(b); i++ {
		b[i] = seed
	}
	return base58.Encode(b)
}

func (f *fakeBackend) Run(_ context.Context, dir string, args ...string) (substrate.Result, error) {
	f.counter++
	switch {
	case len(args) >= 2 && args[0] == "key" && args[1] == "generate-node-key":
		path := filepath.Join(f.rootDir, dir, args[len(args)-1])
		if err := os.WriteFile(path, []byte(fmt.Sprintf("%064x\n", f.counter)), 0o600); err != nil {
			return substrate.Result{}, err
		}
		return substrate.Result{Stderr: testPeerID(byte(f.counter)) + "\n"}, nil
	case len(args) >= 2 && args[0] == "key" && args[1] == "generate":
		report := fmt.Sprintf(`Secret seed:       0x%064x
Public key (hex):  0x%064x
Public key (SS58): 5Addr%d
`, f.counter, f.counter+1000, f.counter)
		return substrate.Result{Stdout: report}, nil
	case len(args) >= 2 && args[0] == "key" && args[1] == "insert":
		// Create the keystore directory the way the tool would, under the
		// chain identifier of the spec named by --chain.
		var basePath string
		for i, a := range args {
			if a == "--base-path" && i+1 < len(args) {
				basePath = args[i+1]
			}
		}
		dir := filepath.Join(f.rootDir, basePath, "chains", "dev", "keystore")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return substrate.Result{}, err
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("key%d", f.counter)), []byte(`"k"`), 0o600); err != nil {
			return substrate.Result{}, err
		}
		return substrate.Result{}, nil
	}
	return substrate.Result{}, fmt.Errorf("fake backend: unexpected command: %v", args)
}

func (f *fakeBackend) RunStructured(_ context.Context, _ string, args ...string) ([]byte, error) {
	for _, a := range args {
		if a == "--raw" {
			return os.ReadFile(filepath.Join(f.rootDir, chainspec.SpecFileName))
		}
	}
	return []byte(baseSpecJSON), nil
}

func (f *fakeBackend) Path(rel string) string { return filepath.Join(f.rootDir, rel) }

func (f *fakeBackend) NodeHost(string) (string, string) { return "ip4", "127.0.0.1" }

func (f *fakeBackend) Source() string { return "fake" }

func (f *fakeBackend) Type() substrate.ExecType { return substrate.ExecBinary }

func testConfig(t *testing.T, nodeCount int) *network.Config {
	t.Helper()
	return &network.Config{
		RootDir:        filepath.Join(t.TempDir(), "net"),
		ChainSpec:      "dev",
		AccountKeyType: accounts.AccountId20,
		Consensus:      network.ValidatorSet,
		Nodes:          network.DefaultNodes(nodeCount),
		Balance:        network.DefaultBalance,
		ResetBalances:  true,
		StopGrace:      network.DefaultStopGrace,
	}
}

func TestRunBootstrap(t *testing.T) {
	cfg := testConfig(t, 4)
	err := Run(context.Background(), zap.NewNop(), Options{
		Config:  cfg,
		Backend: &fakeBackend{rootDir: cfg.RootDir},
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(cfg.RootDir, chainspec.SpecFileName))
	assert.FileExists(t, filepath.Join(cfg.RootDir, chainspec.RawFileName))
	assert.FileExists(t, filepath.Join(cfg.RootDir, network.SnapshotFileName))
	for _, name := range []string{"alice", "bob", "charlie", "david"} {
		assert.DirExists(t, filepath.Join(cfg.RootDir, name))
	}

	data, err := os.ReadFile(filepath.Join(cfg.RootDir, chainspec.SpecFileName))
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root map[string]interface{}
	require.NoError(t, dec.Decode(&root))

	bootNodes := root["bootNodes"].([]interface{})
	require.Len(t, bootNodes, 4)
	for _, bn := range bootNodes {
		assert.Contains(t, bn.(string), "/ip4/127.0.0.1/tcp/")
	}

	patch := root["genesis"].(map[string]interface{})["runtimeGenesis"].(map[string]interface{})["patch"].(map[string]interface{})
	ledger := patch["balances"].(map[string]interface{})["balances"].([]interface{})
	require.Len(t, ledger, 4)
	assert.Equal(t, json.Number("5234000000000000"), ledger[0].([]interface{})[1])
	keys := patch["session"].(map[string]interface{})["keys"].([]interface{})
	assert.Len(t, keys, 4)

	// The snapshot loads back with key material intact.
	nodes, err := network.LoadSnapshot(cfg.RootDir)
	require.NoError(t, err)
	require.Len(t, nodes, 4)
	assert.NotEmpty(t, nodes[0].NetworkKey.PeerID)
	require.NotNil(t, nodes[0].Validator)
}

func TestRunRelocatesKeystoresOnChainIDChange(t *testing.T) {
	cfg := testConfig(t, 2)
	cfg.Customize = &network.Customizations{ChainID: "custom_testnet"}
	err := Run(context.Background(), zap.NewNop(), Options{
		Config:  cfg,
		Backend: &fakeBackend{rootDir: cfg.RootDir},
	})
	require.NoError(t, err)

	for _, name := range []string{"alice", "bob"} {
		assert.DirExists(t, filepath.Join(cfg.RootDir, name, "chains", "custom_testnet", "keystore"))
		assert.NoDirExists(t, filepath.Join(cfg.RootDir, name, "chains", "dev"))
	}
}

func TestRunRefusesNonEmptyRoot(t *testing.T) {
	cfg := testConfig(t, 1)
	require.NoError(t, os.MkdirAll(cfg.RootDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.RootDir, "leftover"), nil, 0o600))

	err := Run(context.Background(), zap.NewNop(), Options{
		Config:  cfg,
		Backend: &fakeBackend{rootDir: cfg.RootDir},
		Approve: func(string) bool { return false },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not empty")
	assert.FileExists(t, filepath.Join(cfg.RootDir, "leftover"))
}

func TestRunCleansRootWhenAsked(t *testing.T) {
	cfg := testConfig(t, 1)
	require.NoError(t, os.MkdirAll(cfg.RootDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.RootDir, "leftover"), nil, 0o600))

	err := Run(context.Background(), zap.NewNop(), Options{
		Config:    cfg,
		Backend:   &fakeBackend{rootDir: cfg.RootDir},
		CleanRoot: true,
	})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(cfg.RootDir, "leftover"))
	assert.FileExists(t, filepath.Join(cfg.RootDir, chainspec.RawFileName))
}

func TestRunAbortedByOperator(t *testing.T) {
	cfg := testConfig(t, 1)
	prompts := 0
	err := Run(context.Background(), zap.NewNop(), Options{
		Config:  cfg,
		Backend: &fakeBackend{rootDir: cfg.RootDir},
		Approve: func(string) bool { prompts++; return false },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted")
	assert.Equal(t, 1, prompts)
	// Keys were generated before the abort, the chainspec was not built.
	assert.FileExists(t, filepath.Join(cfg.RootDir, network.SnapshotFileName))
	assert.NoFileExists(t, filepath.Join(cfg.RootDir, chainspec.SpecFileName))
}

func TestRunStagesTemplate(t *testing.T) {
	cfg := testConfig(t, 1)
	templatePath := filepath.Join(t.TempDir(), "my_template.json")
	require.NoError(t, os.WriteFile(templatePath, []byte(baseSpecJSON), 0o644))
	cfg.ChainSpec = templatePath

	err := Run(context.Background(), zap.NewNop(), Options{
		Config:  cfg,
		Backend: &fakeBackend{rootDir: cfg.RootDir},
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.RootDir, "my_template.json"))
	assert.FileExists(t, filepath.Join(cfg.RootDir, chainspec.RawFileName))
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(t, 2)
	cfg.Nodes[1].Name = cfg.Nodes[0].Name
	err := Run(context.Background(), zap.NewNop(), Options{
		Config:  cfg,
		Backend: &fakeBackend{rootDir: cfg.RootDir},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid network config")
}
