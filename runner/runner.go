// Package runner drives a full network bootstrap end to end: root directory
// setup, key generation, keystore installation, chainspec assembly, and
// optionally launching the network under a supervisor.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/weezy20/gosubnet/chainspec"
	"github.com/weezy20/gosubnet/dockernet"
	"github.com/weezy20/gosubnet/keys"
	"github.com/weezy20/gosubnet/local"
	"github.com/weezy20/gosubnet/network"
	"github.com/weezy20/gosubnet/substrate"
	"github.com/weezy20/gosubnet/utils"
	"github.com/weezy20/gosubnet/ux"
)

// Approver answers a yes/no prompt. In interactive mode it asks the
// operator; otherwise every prompt is answered yes without pausing.
type Approver func(prompt string) bool

// ApproveAll is the non-interactive Approver.
func ApproveAll(string) bool { return true }

// Options carries everything one bootstrap run needs.
type Options struct {
	Config  *network.Config
	Backend substrate.Backend
	Approve Approver
	// RunNetwork launches the nodes after the artifacts are assembled.
	RunNetwork bool
	// CleanRoot empties a non-empty root directory instead of refusing it.
	CleanRoot bool
}

// Run executes one bootstrap. The artifacts land in the config's root
// directory; when RunNetwork is set, Run blocks until [ctx] is cancelled and
// then shuts the network down gracefully.
func Run(ctx context.Context, log *zap.Logger, opts Options) error {
	cfg := opts.Config
	if opts.Approve == nil {
		opts.Approve = ApproveAll
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid network config: %w", err)
	}
	if err := prepareRootDir(log, cfg, opts.CleanRoot, opts.Approve); err != nil {
		return err
	}
	if err := stageTemplate(cfg); err != nil {
		return err
	}

	gen := keys.NewGenerator(log, opts.Backend)
	if err := gen.Generate(ctx, cfg); err != nil {
		return err
	}
	if !opts.Approve(fmt.Sprintf("Keys generated for %d nodes. Install keystores and build the chainspec?", len(cfg.Nodes))) {
		return fmt.Errorf("aborted by operator")
	}

	chainArg := chainspec.ChainArg(opts.Backend, cfg.ChainSpec)
	installer := keys.NewInstaller(log, opts.Backend)
	if err := installer.Install(ctx, cfg, chainArg); err != nil {
		return err
	}

	summary, err := chainspec.NewPipeline(log, opts.Backend, cfg).Run(ctx)
	if err != nil {
		return err
	}
	if summary.BaseChainID != summary.FinalChainID {
		installer.Relocate(cfg, summary.BaseChainID, summary.FinalChainID)
	}
	ux.Print(log, "Network artifacts ready under %s (chainspec: %s, raw: %s)",
		cfg.RootDir, summary.ChainspecPath, summary.RawPath)

	if !opts.RunNetwork {
		return nil
	}
	if !opts.Approve("Launch the network now?") {
		return nil
	}
	return runNetwork(ctx, log, cfg, opts.Backend)
}

// prepareRootDir makes sure the root directory exists and is owned by this
// run. A non-empty root is cleaned only with the clean flag or operator
// approval; otherwise the run refuses to touch it.
func prepareRootDir(log *zap.Logger, cfg *network.Config, clean bool, approve Approver) error {
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return fmt.Errorf("creating root directory: %w", err)
	}
	empty, err := utils.DirIsEmpty(cfg.RootDir)
	if err != nil {
		return err
	}
	if !empty {
		if !clean && !approve(fmt.Sprintf("Root directory %s is not empty. Delete its contents?", cfg.RootDir)) {
			return fmt.Errorf("root directory %s is not empty; pass --clean or choose another", cfg.RootDir)
		}
		if err := utils.ClearDir(cfg.RootDir); err != nil {
			return fmt.Errorf("cleaning root directory: %w", err)
		}
		log.Info("root directory cleaned", zap.String("root", cfg.RootDir))
	}
	for _, n := range cfg.Nodes {
		n.BasePath = filepath.Join(cfg.RootDir, n.Name)
		if err := os.MkdirAll(n.BasePath, 0o755); err != nil {
			return fmt.Errorf("creating base path for node %q: %w", n.Name, err)
		}
	}
	return nil
}

// stageTemplate copies an operator-supplied template chainspec into the root
// directory so both execution backends can read it from there.
func stageTemplate(cfg *network.Config) error {
	if chainspec.IsMode(cfg.ChainSpec) {
		return nil
	}
	if _, err := os.Stat(cfg.ChainSpec); err != nil {
		return fmt.Errorf("chainspec template not found: %w", err)
	}
	dst := filepath.Join(cfg.RootDir, filepath.Base(cfg.ChainSpec))
	if err := utils.CopyFile(cfg.ChainSpec, dst); err != nil {
		return fmt.Errorf("staging chainspec template: %w", err)
	}
	return nil
}

func runNetwork(ctx context.Context, log *zap.Logger, cfg *network.Config, backend substrate.Backend) error {
	var net network.Network
	switch b := backend.(type) {
	case *substrate.BinaryBackend:
		net = local.NewNetwork(log, cfg, b, filepath.Join(cfg.RootDir, chainspec.RawFileName))
	case *substrate.DockerBackend:
		net = dockernet.NewNetwork(log, cfg, b, b.Path(chainspec.RawFileName))
	default:
		return fmt.Errorf("unsupported backend type %T", backend)
	}
	if err := net.Start(ctx); err != nil {
		return err
	}
	ux.Print(log, "Network is up. Node logs: %s", filepath.Join(cfg.RootDir, "<node>", "<node>.log"))
	ux.Print(log, "Press Ctrl-C to stop the network.")
	net.Await(ctx)
	// The run context is already cancelled at this point; shutdown gets its
	// own context so the grace period still applies.
	if err := net.Stop(context.Background()); err != nil {
		return err
	}
	ux.Print(log, "Network stopped.")
	return nil
}
