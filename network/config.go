package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/weezy20/gosubnet/accounts"
	"github.com/weezy20/gosubnet/network/node"
)

// Consensus selects how authorities are written into the chainspec.
type Consensus string

const (
	// ProofOfAuthority writes aura/grandpa authority lists directly
	// (node-template / frontier-template style chains).
	ProofOfAuthority Consensus = "poa"
	// ValidatorSet populates session keys plus the validator-set pallet's
	// initial validator list, keyed by validator account address.
	ValidatorSet Consensus = "validator-set"
	// BabeGrandpa writes weighted babe/grandpa authority lists and
	// generates an extra babe session key per node.
	BabeGrandpa Consensus = "babe"
)

func ParseConsensus(s string) (Consensus, error) {
	switch Consensus(s) {
	case ProofOfAuthority, ValidatorSet, BabeGrandpa:
		return Consensus(s), nil
	default:
		return "", fmt.Errorf("invalid consensus mode %q, choose from: %s, %s, %s",
			s, ProofOfAuthority, ValidatorSet, BabeGrandpa)
	}
}

// ExtraBalance is an operator-declared genesis balance for an address that
// is not one of the bootstrapped validators.
type ExtraBalance struct {
	Address string `json:"address" mapstructure:"address"`
	// Amount in whole tokens, converted with the chain's token decimals.
	Amount int64 `json:"amount" mapstructure:"amount"`
}

// Customizations optionally overrides chain metadata in the chainspec.
type Customizations struct {
	TokenSymbol   string `mapstructure:"token-symbol"`
	TokenDecimals *int   `mapstructure:"token-decimals"`
	ChainName     string `mapstructure:"chain-name"`
	ChainID       string `mapstructure:"chain-id"`
}

// DefaultStopGrace is how long a node gets to exit after a termination
// request before it is force-killed.
const DefaultStopGrace = 10 * time.Second

// DefaultBalance is the per-validator genesis allocation in whole tokens.
const DefaultBalance = int64(5234)

// Config describes one network bootstrap. It is built once by the caller and
// threaded explicitly through every stage; stages never consult ambient
// state.
type Config struct {
	// RootDir is owned by exactly one bootstrap run.
	RootDir string
	// ChainSpec is "dev", "local", or a path to a template chainspec file.
	ChainSpec string
	// AccountKeyType selects the validator account key variant.
	AccountKeyType accounts.KeyType
	Consensus      Consensus
	// Nodes in authority order. Enriched in place during key generation.
	Nodes []*node.Node

	// Balance is the per-validator genesis allocation in whole tokens,
	// overridable per node.
	Balance int64
	// ResetBalances clears the template's balances ledger before injecting.
	ResetBalances bool
	ExtraBalances []ExtraBalance
	Customize     *Customizations

	// StopGrace bounds the graceful shutdown wait per node.
	StopGrace time.Duration
}

var defaultNodeNames = []string{"alice", "bob", "charlie", "david", "eve", "ferdie"}

const (
	defaultP2PPortBase     = 30333
	defaultRPCPortBase     = 9944
	defaultMetricsPortBase = 9615
)

// DefaultNodes returns [count] nodes with the conventional dev names and
// consecutive port assignments.
func DefaultNodes(count int) []*node.Node {
	nodes := make([]*node.Node, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("node%d", i+1)
		if i < len(defaultNodeNames) {
			name = defaultNodeNames[i]
		}
		nodes = append(nodes, &node.Node{
			Name:        name,
			P2PPort:     uint16(defaultP2PPortBase + i),
			RPCPort:     uint16(defaultRPCPortBase + i),
			MetricsPort: uint16(defaultMetricsPortBase + i),
		})
	}
	return nodes
}

func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("no nodes given")
	}
	if c.ChainSpec == "" {
		return errors.New("no chainspec given")
	}
	if c.Balance < 0 {
		return fmt.Errorf("negative balance %d", c.Balance)
	}
	if _, err := ParseConsensus(string(c.Consensus)); err != nil {
		return err
	}
	if _, err := accounts.ParseKeyType(string(c.AccountKeyType)); err != nil {
		return err
	}
	names := make(map[string]struct{}, len(c.Nodes))
	ports := map[string]map[uint16]string{
		"p2p":     {},
		"rpc":     {},
		"metrics": {},
	}
	for _, n := range c.Nodes {
		if err := n.Validate(); err != nil {
			return err
		}
		if _, ok := names[n.Name]; ok {
			return fmt.Errorf("repeated node name %q", n.Name)
		}
		names[n.Name] = struct{}{}
		for kind, port := range map[string]uint16{
			"p2p":     n.P2PPort,
			"rpc":     n.RPCPort,
			"metrics": n.MetricsPort,
		} {
			if other, ok := ports[kind][port]; ok {
				return fmt.Errorf("nodes %q and %q share %s port %d", other, n.Name, kind, port)
			}
			ports[kind][port] = n.Name
		}
	}
	return nil
}
