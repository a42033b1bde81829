// Package keys generates the per-node key material and installs it into the
// node keystores, by driving the substrate tool.
package keys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/weezy20/gosubnet/accounts"
	"github.com/weezy20/gosubnet/network"
	"github.com/weezy20/gosubnet/network/node"
	"github.com/weezy20/gosubnet/substrate"
)

// Generator populates a node set with network identity, block-production,
// finality and validator account keys.
type Generator struct {
	log     *zap.Logger
	backend substrate.Backend
}

func NewGenerator(log *zap.Logger, backend substrate.Backend) *Generator {
	return &Generator{
		log:     log.With(zap.String("component", "keygen")),
		backend: backend,
	}
}

// Generate fills in every node's key fields in order and writes the node-set
// snapshot to the root directory. Any failure aborts the whole run; the
// snapshot is only written when every node succeeded, so no partial node set
// is ever handed downstream.
func (g *Generator) Generate(ctx context.Context, cfg *network.Config) error {
	for _, n := range cfg.Nodes {
		if err := g.generateNode(ctx, cfg, n); err != nil {
			return fmt.Errorf("generating keys for node %q: %w", n.Name, err)
		}
	}
	if err := network.SaveSnapshot(cfg.RootDir, cfg.Nodes); err != nil {
		return fmt.Errorf("writing node snapshot: %w", err)
	}
	g.log.Info("node snapshot written",
		zap.String("path", filepath.Join(cfg.RootDir, network.SnapshotFileName)))
	return nil
}

func (g *Generator) generateNode(ctx context.Context, cfg *network.Config, n *node.Node) error {
	// The network identity private key is written to a fixed file inside
	// the node's base path; the peer ID comes back on stderr.
	res, err := g.backend.Run(ctx, n.Name, "key", "generate-node-key", "--file", n.KeyFileName())
	if err != nil {
		return err
	}
	peerID := strings.TrimSpace(res.Stderr)
	if peerID == "" {
		return fmt.Errorf("generate-node-key reported no peer ID; tool output format mismatch")
	}
	raw, err := os.ReadFile(filepath.Join(cfg.RootDir, n.Name, n.KeyFileName()))
	if err != nil {
		return fmt.Errorf("reading node key file back: %w", err)
	}
	n.NetworkKey = node.NetworkKey{
		PeerID:        peerID,
		PrivateKeyHex: strings.TrimSpace(string(raw)),
	}
	g.log.Info("generated network identity", zap.String("node", n.Name), zap.String("peerID", peerID))

	if n.Aura, err = g.generateKeypair(ctx, substrate.SchemeSr25519); err != nil {
		return fmt.Errorf("generating aura key: %w", err)
	}
	if n.Grandpa, err = g.generateKeypair(ctx, substrate.SchemeEd25519); err != nil {
		return fmt.Errorf("generating grandpa key: %w", err)
	}
	if cfg.Consensus == network.BabeGrandpa {
		if n.Babe, err = g.generateKeypair(ctx, substrate.SchemeSr25519); err != nil {
			return fmt.Errorf("generating babe key: %w", err)
		}
	}

	switch cfg.AccountKeyType {
	case accounts.AccountId20:
		key, err := accounts.GenerateEcdsaKey()
		if err != nil {
			return err
		}
		n.Validator = key
		g.log.Info("generated validator account (AccountId20)",
			zap.String("node", n.Name), zap.String("address", key.EthereumAddress))
	case accounts.AccountId32:
		report, err := g.generateReport(ctx, substrate.SchemeSr25519)
		if err != nil {
			return fmt.Errorf("generating validator account key: %w", err)
		}
		n.Validator = &accounts.Sr25519Key{
			SecretSeed:   report.SecretSeed,
			PublicKeyHex: report.PublicKeyHex,
			SS58Address:  report.SS58Address,
		}
		g.log.Info("generated validator account (AccountId32)",
			zap.String("node", n.Name), zap.String("address", report.SS58Address))
	default:
		return fmt.Errorf("unsupported account key type %q", cfg.AccountKeyType)
	}
	return nil
}

func (g *Generator) generateReport(ctx context.Context, scheme string) (*substrate.KeyReport, error) {
	res, err := g.backend.Run(ctx, "", "key", "generate", "--scheme", scheme)
	if err != nil {
		return nil, err
	}
	return substrate.ParseKeyReport(res.Stdout)
}

func (g *Generator) generateKeypair(ctx context.Context, scheme string) (*node.Keypair, error) {
	report, err := g.generateReport(ctx, scheme)
	if err != nil {
		return nil, err
	}
	return &node.Keypair{
		PublicKeyHex: report.PublicKeyHex,
		SecretSeed:   report.SecretSeed,
		SecretPhrase: report.SecretPhrase,
		SS58Address:  report.SS58Address,
	}, nil
}
