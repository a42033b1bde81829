package keys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/weezy20/gosubnet/network"
	"github.com/weezy20/gosubnet/network/node"
	"github.com/weezy20/gosubnet/substrate"
)

// Session key-type tags as registered by the runtimes we target.
const (
	keyTypeAura    = "aura"
	keyTypeGrandpa = "gran"
	keyTypeBabe    = "babe"
)

// Installer inserts generated session keys into each node's on-disk keystore
// via the tool's `key insert` subcommand.
type Installer struct {
	log     *zap.Logger
	backend substrate.Backend
}

func NewInstaller(log *zap.Logger, backend substrate.Backend) *Installer {
	return &Installer{
		log:     log.With(zap.String("component", "keystore")),
		backend: backend,
	}
}

// Install writes every node's session keys into its keystore. [chainArg] is
// the chainspec argument as the tool sees it (spec mode name or backend path
// to the template), which determines the chain identifier directory the
// keystore lands under.
func (i *Installer) Install(ctx context.Context, cfg *network.Config, chainArg string) error {
	for _, n := range cfg.Nodes {
		if err := i.installNode(ctx, n, cfg.Consensus, chainArg); err != nil {
			return fmt.Errorf("installing keystore for node %q: %w", n.Name, err)
		}
		i.log.Info("keystore populated", zap.String("node", n.Name))
	}
	return nil
}

func (i *Installer) installNode(ctx context.Context, n *node.Node, mode network.Consensus, chainArg string) error {
	if n.Aura == nil || n.Grandpa == nil {
		return fmt.Errorf("node has no generated session keys")
	}
	if err := i.insert(ctx, n, chainArg, substrate.SchemeSr25519, keyTypeAura, n.Aura); err != nil {
		return err
	}
	if err := i.insert(ctx, n, chainArg, substrate.SchemeEd25519, keyTypeGrandpa, n.Grandpa); err != nil {
		return err
	}
	if mode == network.BabeGrandpa {
		if n.Babe == nil {
			return fmt.Errorf("node has no babe key")
		}
		if err := i.insert(ctx, n, chainArg, substrate.SchemeSr25519, keyTypeBabe, n.Babe); err != nil {
			return err
		}
	}
	return nil
}

func (i *Installer) insert(ctx context.Context, n *node.Node, chainArg, scheme, keyType string, kp *node.Keypair) error {
	suri := kp.SecretPhrase
	if suri == "" {
		suri = kp.SecretSeed
	}
	_, err := i.backend.Run(ctx, "",
		"key", "insert",
		"--base-path", n.Name,
		"--chain", chainArg,
		"--scheme", scheme,
		"--key-type", keyType,
		"--suri", suri,
	)
	if err != nil {
		return fmt.Errorf("inserting %s key: %w", keyType, err)
	}
	return nil
}

// Relocate moves each node's keystore from the chain identifier directory the
// tool created it under to the identifier the finalized chainspec carries.
// Chain metadata customization can change the identifier after the keystores
// were written; without the move the nodes would start with empty keystores.
// Problems with individual nodes are logged and skipped, never fatal: a node
// whose keystore was already moved, or never created, should not abort the
// run.
func (i *Installer) Relocate(cfg *network.Config, fromID, toID string) {
	if fromID == toID {
		return
	}
	for _, n := range cfg.Nodes {
		chains := filepath.Join(cfg.RootDir, n.Name, "chains")
		src := filepath.Join(chains, fromID, "keystore")
		dst := filepath.Join(chains, toID, "keystore")
		if _, err := os.Stat(src); err != nil {
			i.log.Warn("no keystore to relocate",
				zap.String("node", n.Name), zap.String("path", src), zap.Error(err))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			i.log.Warn("cannot create keystore target directory",
				zap.String("node", n.Name), zap.Error(err))
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			i.log.Warn("keystore relocation failed",
				zap.String("node", n.Name), zap.Error(err))
			continue
		}
		// Drop the now-empty old chain directory; failure is harmless.
		_ = os.Remove(filepath.Join(chains, fromID))
		i.log.Info("keystore relocated",
			zap.String("node", n.Name), zap.String("from", fromID), zap.String("to", toID))
	}
}
