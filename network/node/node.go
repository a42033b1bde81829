// Package node holds the per-validator record the bootstrap stages fill in
// and read back.
package node

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"github.com/weezy20/gosubnet/accounts"
)

// Keypair is one subkey-generated keypair (aura, grandpa or babe).
type Keypair struct {
	PublicKeyHex string `json:"publicKey"`
	SecretSeed   string `json:"secretSeed"`
	SecretPhrase string `json:"secretPhrase,omitempty"`
	SS58Address  string `json:"ss58Address"`
}

// NetworkKey is the libp2p identity used for peer addressing. The peer ID is
// reported on the tool's side channel; the private key lives in a file under
// the node's base path and is also kept here for the snapshot.
type NetworkKey struct {
	PeerID        string `json:"peerId"`
	PrivateKeyHex string `json:"privateKey"`
}

// Node is one validator's record. Name and every port must be unique across
// the network. Key fields are written once during key generation and are
// read-only afterwards.
type Node struct {
	Name        string `json:"name"`
	P2PPort     uint16 `json:"p2pPort"`
	RPCPort     uint16 `json:"rpcPort"`
	MetricsPort uint16 `json:"metricsPort"`
	// BasePath is the node's own directory under the network root.
	BasePath string `json:"basePath"`
	// BalanceOverride, when set, replaces the network-wide per-validator
	// token amount for this node.
	BalanceOverride *int64 `json:"balance,omitempty"`

	NetworkKey NetworkKey `json:"networkKey"`
	Aura       *Keypair   `json:"aura,omitempty"`
	Grandpa    *Keypair   `json:"grandpa,omitempty"`
	Babe       *Keypair   `json:"babe,omitempty"`

	Validator accounts.ValidatorKey `json:"-"`
}

// Validate checks the fields that don't require cross-node knowledge.
func (n *Node) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("node has no name")
	}
	if n.P2PPort == 0 || n.RPCPort == 0 || n.MetricsPort == 0 {
		return fmt.Errorf("node %q has an unset port", n.Name)
	}
	return nil
}

// KeyFileName is the fixed name of the libp2p private key file inside the
// node's base path.
func (n *Node) KeyFileName() string {
	return n.Name + "-node-private-key"
}

// LaunchArgs builds the argument vector that starts this node as a
// validator. Paths are joined onto [prefix]: "" when the tool runs with the
// network root as working directory, the volume mount point for containers.
// [chainspecPath] is the raw chainspec as seen by the tool.
func (n *Node) LaunchArgs(prefix, chainspecPath string) []string {
	return []string{
		"--base-path", path.Join(prefix, n.Name),
		"--chain", chainspecPath,
		"--port", strconv.Itoa(int(n.P2PPort)),
		"--rpc-port", strconv.Itoa(int(n.RPCPort)),
		"--prometheus-port", strconv.Itoa(int(n.MetricsPort)),
		"--validator",
		"--name", n.Name,
		"--node-key-file", path.Join(prefix, n.Name, n.KeyFileName()),
		"--rpc-cors", "all",
	}
}

// nodeJSON mirrors Node for snapshot serialization, with the validator key
// expanded into its tagged form.
type nodeJSON struct {
	Name        string         `json:"name"`
	P2PPort     uint16         `json:"p2pPort"`
	RPCPort     uint16         `json:"rpcPort"`
	MetricsPort uint16         `json:"metricsPort"`
	BasePath    string         `json:"basePath"`
	Balance     *int64         `json:"balance,omitempty"`
	NetworkKey  NetworkKey     `json:"networkKey"`
	Aura        *Keypair       `json:"aura,omitempty"`
	Grandpa     *Keypair       `json:"grandpa,omitempty"`
	Babe        *Keypair       `json:"babe,omitempty"`
	Validator   *validatorJSON `json:"validator,omitempty"`
}

type validatorJSON struct {
	Type accounts.KeyType `json:"type"`
	// Exactly one of the two is set, matching Type.
	Ecdsa   *accounts.EcdsaKey   `json:"ecdsa,omitempty"`
	Sr25519 *accounts.Sr25519Key `json:"sr25519,omitempty"`
}

func (n *Node) MarshalJSON() ([]byte, error) {
	out := nodeJSON{
		Name:        n.Name,
		P2PPort:     n.P2PPort,
		RPCPort:     n.RPCPort,
		MetricsPort: n.MetricsPort,
		BasePath:    n.BasePath,
		Balance:     n.BalanceOverride,
		NetworkKey:  n.NetworkKey,
		Aura:        n.Aura,
		Grandpa:     n.Grandpa,
		Babe:        n.Babe,
	}
	switch v := n.Validator.(type) {
	case *accounts.EcdsaKey:
		out.Validator = &validatorJSON{Type: accounts.AccountId20, Ecdsa: v}
	case *accounts.Sr25519Key:
		out.Validator = &validatorJSON{Type: accounts.AccountId32, Sr25519: v}
	case nil:
	default:
		return nil, fmt.Errorf("node %q: unknown validator key type %T", n.Name, n.Validator)
	}
	return json.Marshal(out)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var in nodeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	n.Name = in.Name
	n.P2PPort = in.P2PPort
	n.RPCPort = in.RPCPort
	n.MetricsPort = in.MetricsPort
	n.BasePath = in.BasePath
	n.BalanceOverride = in.Balance
	n.NetworkKey = in.NetworkKey
	n.Aura = in.Aura
	n.Grandpa = in.Grandpa
	n.Babe = in.Babe
	if in.Validator != nil {
		switch in.Validator.Type {
		case accounts.AccountId20:
			n.Validator = in.Validator.Ecdsa
		case accounts.AccountId32:
			n.Validator = in.Validator.Sr25519
		default:
			return fmt.Errorf("node %q: unknown validator key type %q", in.Name, in.Validator.Type)
		}
	}
	return nil
}
