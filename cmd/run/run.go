// Package run implements the gosubnet command: bootstrap a permissioned
// multi-node substrate test network and optionally run it.
package run

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/weezy20/gosubnet/accounts"
	"github.com/weezy20/gosubnet/network"
	"github.com/weezy20/gosubnet/network/node"
	"github.com/weezy20/gosubnet/pkg/color"
	"github.com/weezy20/gosubnet/pkg/logutil"
	"github.com/weezy20/gosubnet/runner"
	"github.com/weezy20/gosubnet/substrate"
)

var (
	substrateSource string
	chainSpec       string
	rootDir         string
	clean           bool
	interactive     bool
	launch          bool
	accountType     string
	consensusMode   string
	nodeCount       int
	balance         int64
	resetBalances   bool
	stopGrace       time.Duration
	logLevel        string
	configPath      string
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gosubnet",
		Short: "Bootstrap a permissioned multi-node substrate test network",
		Long: `gosubnet generates validator keys, assembles a genesis chainspec and
installs node keystores for a permissioned substrate test network, then
optionally launches the nodes as host processes or docker containers.

The --substrate argument selects the execution backend: a path to an
executable file runs nodes as host processes, anything else is treated
as a docker image reference.`,
		RunE:          runFunc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&substrateSource, "substrate", "./substrate", "substrate binary path or docker image reference")
	cmd.PersistentFlags().StringVar(&chainSpec, "chainspec", "dev", `"dev", "local", or path to a template chainspec file`)
	cmd.PersistentFlags().StringVar(&rootDir, "root", "./network", "root directory for all network artifacts")
	cmd.PersistentFlags().BoolVar(&clean, "clean", false, "empty a non-empty root directory instead of refusing it")
	cmd.PersistentFlags().BoolVarP(&interactive, "interactive", "i", false, "pause for confirmation between stages")
	cmd.PersistentFlags().BoolVarP(&launch, "run", "r", false, "launch the network after bootstrapping")
	cmd.PersistentFlags().StringVar(&accountType, "account", string(accounts.AccountId20), `validator account key type ("ecdsa" or "sr25519")`)
	cmd.PersistentFlags().StringVar(&consensusMode, "consensus", string(network.ValidatorSet), `consensus mode ("poa", "validator-set" or "babe")`)
	cmd.PersistentFlags().IntVar(&nodeCount, "nodes", 4, "number of validator nodes")
	cmd.PersistentFlags().Int64Var(&balance, "balance", network.DefaultBalance, "per-validator genesis balance in whole tokens")
	cmd.PersistentFlags().BoolVar(&resetBalances, "reset-balances", true, "clear the template's balances ledger before injecting")
	cmd.PersistentFlags().DurationVar(&stopGrace, "grace", network.DefaultStopGrace, "graceful shutdown wait per node before force-kill")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logutil.DefaultLogLevel.String(), "log level")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file with node and balance overrides")
	return cmd
}

func runFunc(*cobra.Command, []string) error {
	log, err := logutil.GetZapLoggerAt(logLevel)
	if err != nil {
		return fmt.Errorf("couldn't build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := buildBackend(ctx, log, cfg.RootDir)
	if err != nil {
		return err
	}
	color.Outf("{{blue}}using %s backend:{{/}} %s\n", backend.Type(), backend.Source())

	approve := runner.ApproveAll
	if interactive {
		approve = promptApprover
	}
	err = runner.Run(ctx, log, runner.Options{
		Config:     cfg,
		Backend:    backend,
		Approve:    approve,
		RunNetwork: launch,
		CleanRoot:  clean,
	})
	if err != nil {
		color.Redf("bootstrap failed: %v\n", err)
		return err
	}
	color.Greenf("done\n")
	return nil
}

// buildBackend treats the substrate source as a binary when it names an
// existing regular file and as a docker image reference otherwise.
func buildBackend(ctx context.Context, log *zap.Logger, rootDir string) (substrate.Backend, error) {
	if info, err := os.Stat(substrateSource); err == nil && info.Mode().IsRegular() {
		return substrate.NewBinaryBackend(ctx, log, substrateSource, rootDir)
	}
	return substrate.NewDockerBackend(ctx, log, substrateSource, rootDir)
}

func buildConfig() (*network.Config, error) {
	consensus, err := network.ParseConsensus(consensusMode)
	if err != nil {
		return nil, err
	}
	keyType, err := accounts.ParseKeyType(accountType)
	if err != nil {
		return nil, err
	}
	if nodeCount < 1 {
		return nil, fmt.Errorf("need at least one node, got %d", nodeCount)
	}
	cfg := &network.Config{
		RootDir:        rootDir,
		ChainSpec:      chainSpec,
		AccountKeyType: keyType,
		Consensus:      consensus,
		Nodes:          network.DefaultNodes(nodeCount),
		Balance:        balance,
		ResetBalances:  resetBalances,
		StopGrace:      stopGrace,
	}
	if configPath != "" {
		if err := applyConfigFile(cfg, configPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// fileNode is a node declaration in the TOML config file.
type fileNode struct {
	Name           string `mapstructure:"name"`
	P2PPort        uint16 `mapstructure:"p2p-port"`
	RPCPort        uint16 `mapstructure:"rpc-port"`
	PrometheusPort uint16 `mapstructure:"prometheus-port"`
	Balance        *int64 `mapstructure:"balance"`
}

// applyConfigFile overlays a TOML file onto the flag-derived config. A
// [[nodes]] list replaces the default node set wholesale; [network] sets
// chain metadata overrides; [[balances]] declares extra genesis balances.
func applyConfigFile(cfg *network.Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if v.IsSet("nodes") {
		var fileNodes []fileNode
		if err := v.UnmarshalKey("nodes", &fileNodes); err != nil {
			return fmt.Errorf("parsing nodes from config file: %w", err)
		}
		defaults := network.DefaultNodes(len(fileNodes))
		nodes := make([]*node.Node, 0, len(fileNodes))
		for i, fn := range fileNodes {
			n := defaults[i]
			if fn.Name != "" {
				n.Name = fn.Name
			}
			if fn.P2PPort != 0 {
				n.P2PPort = fn.P2PPort
			}
			if fn.RPCPort != 0 {
				n.RPCPort = fn.RPCPort
			}
			if fn.PrometheusPort != 0 {
				n.MetricsPort = fn.PrometheusPort
			}
			n.BalanceOverride = fn.Balance
			nodes = append(nodes, n)
		}
		cfg.Nodes = nodes
	}
	if v.IsSet("network") {
		var custom network.Customizations
		if err := v.UnmarshalKey("network", &custom); err != nil {
			return fmt.Errorf("parsing network customizations from config file: %w", err)
		}
		cfg.Customize = &custom
	}
	if v.IsSet("balances") {
		if err := v.UnmarshalKey("balances", &cfg.ExtraBalances); err != nil {
			return fmt.Errorf("parsing extra balances from config file: %w", err)
		}
	}
	return nil
}

func promptApprover(prompt string) bool {
	color.Outf("{{bold}}%s{{/}} [y/N]: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
