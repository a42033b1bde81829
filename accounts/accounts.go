// Package accounts models the validator account-key variants a network can
// be bootstrapped with. Substrate chains identify validator accounts either
// by a 20-byte ethereum-style address (AccountId20, ecdsa) or by a 32-byte
// public key with an SS58-encoded address (AccountId32, sr25519).
package accounts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

type KeyType string

const (
	// AccountId20 uses ethereum-style ecdsa keys and 20-byte addresses.
	AccountId20 KeyType = "ecdsa"
	// AccountId32 uses sr25519 keys and SS58 addresses (default substrate crypto).
	AccountId32 KeyType = "sr25519"
)

func (t KeyType) String() string { return string(t) }

// ParseKeyType is case-insensitive.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(s) {
	case string(AccountId20):
		return AccountId20, nil
	case string(AccountId32):
		return AccountId32, nil
	default:
		return "", fmt.Errorf("invalid account key type %q, choose from: %s, %s", s, AccountId20, AccountId32)
	}
}

// ValidatorKey is the account keypair representing a node's on-chain
// identity. It has exactly two shapes, one per KeyType; code that needs the
// concrete key material type-switches on the implementation.
type ValidatorKey interface {
	KeyType() KeyType
	// Address is the value used to identify the validator in the chainspec
	// (checksummed 0x address for AccountId20, SS58 address for AccountId32).
	Address() string
	// Secret is the private key material (hex private key or secret seed).
	Secret() string
}

// EcdsaKey is the AccountId20 variant.
type EcdsaKey struct {
	PrivateKeyHex   string `json:"privateKey"`
	PublicKeyHex    string `json:"publicKey"`
	EthereumAddress string `json:"address"`
}

func (k *EcdsaKey) KeyType() KeyType { return AccountId20 }
func (k *EcdsaKey) Address() string  { return k.EthereumAddress }
func (k *EcdsaKey) Secret() string   { return k.PrivateKeyHex }

// Sr25519Key is the AccountId32 variant.
type Sr25519Key struct {
	SecretSeed   string `json:"secretSeed"`
	PublicKeyHex string `json:"publicKey"`
	SS58Address  string `json:"ss58Address"`
}

func (k *Sr25519Key) KeyType() KeyType { return AccountId32 }
func (k *Sr25519Key) Address() string  { return k.SS58Address }
func (k *Sr25519Key) Secret() string   { return k.SecretSeed }

// GenerateEcdsaKey creates a new ethereum-style keypair with a checksummed
// address. Unlike the substrate key schemes this does not go through the
// node binary; the keypair is generated host-side.
func GenerateEcdsaKey() (*EcdsaKey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("couldn't generate ecdsa key: %w", err)
	}
	return &EcdsaKey{
		PrivateKeyHex:   hexutil.Encode(crypto.FromECDSA(priv)),
		PublicKeyHex:    hexutil.Encode(crypto.FromECDSAPub(&priv.PublicKey)),
		EthereumAddress: crypto.PubkeyToAddress(priv.PublicKey).Hex(),
	}, nil
}

// ValidateAddress checks that [addr] has the shape expected for the given
// key type. For AccountId32 only the SS58 envelope is checked (base58
// decodable, 32-byte payload with a one or two byte network prefix plus the
// two checksum bytes); the checksum itself is the chain's concern.
func ValidateAddress(t KeyType, addr string) error {
	switch t {
	case AccountId20:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%q is not a valid 20-byte hex address", addr)
		}
	case AccountId32:
		raw, err := base58.Decode(addr)
		if err != nil {
			return fmt.Errorf("%q is not a valid SS58 address: %w", addr, err)
		}
		if len(raw) != 35 && len(raw) != 36 {
			return fmt.Errorf("%q is not a valid SS58 address: decoded length %d", addr, len(raw))
		}
	default:
		return fmt.Errorf("unsupported account key type %q", t)
	}
	return nil
}
