// Package substrate drives a substrate-compatible node tool, either as a
// local binary or as a docker image, through the subcommands the bootstrap
// needs (key generate, key insert, build-spec).
package substrate

import (
	"context"
	"fmt"
	"strings"
)

type ExecType string

const (
	ExecBinary ExecType = "bin"
	ExecDocker ExecType = "docker"
)

// Cryptographic schemes accepted by the tool's `key` subcommands.
const (
	SchemeSr25519 = "Sr25519"
	SchemeEd25519 = "Ed25519"
)

// Result holds the captured output of one tool invocation.
type Result struct {
	Stdout string
	Stderr string
}

// CommandError is returned for any invocation that exits nonzero. It carries
// the full argument vector and the captured diagnostic stream so the failure
// can be reproduced by hand.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed: %s: %v\n%s", strings.Join(e.Args, " "), e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Backend runs tool commands against one of the two execution variants.
// The variant is chosen once at startup; pipeline code never branches on it.
type Backend interface {
	// Run executes the tool with [args]. [dir] is the working directory,
	// given relative to the network root directory ("" runs in the root).
	Run(ctx context.Context, dir string, args ...string) (Result, error)
	// RunStructured executes a command whose stdout is a JSON document and
	// returns the document bytes. The docker variant redirects the output
	// to a file inside the mounted volume and reads it back; multiplexed
	// container streams are not binary-clean.
	RunStructured(ctx context.Context, dir string, args ...string) ([]byte, error)
	// Path maps a network-root-relative path to the form the tool sees it
	// under (host path for binaries, volume path for containers).
	Path(rel string) string
	// NodeHost returns the multiaddr protocol and host other nodes use to
	// reach the named node ("ip4"/loopback for binaries, "dns4"/container
	// name for containers).
	NodeHost(nodeName string) (proto, host string)
	// Source identifies the backend (binary path or image reference).
	Source() string
	Type() ExecType
}

// ContainerName returns the docker container name for a node. It doubles as
// the node's DNS name on the runner's docker network.
const containerNamePrefix = "gosubnet-"

func ContainerName(nodeName string) string {
	return containerNamePrefix + nodeName
}

// selfValidate runs a fixed key-generation command through [b] and checks
// that the reported public key has the expected shape. This guards against
// pointing the runner at a binary or image that isn't a substrate node.
func selfValidate(ctx context.Context, b Backend) error {
	res, err := b.Run(ctx, "", "key", "generate", "--scheme", "Sr25519")
	if err != nil {
		return fmt.Errorf("%s is not a usable substrate tool: %w", b.Source(), err)
	}
	report, err := ParseKeyReport(res.Stdout)
	if err != nil {
		return fmt.Errorf("%s is not a usable substrate tool: %w", b.Source(), err)
	}
	if !IsValidPublicKey(report.PublicKeyHex) {
		return fmt.Errorf(
			"%s generated a malformed sr25519 public key %q; refusing to treat it as a substrate tool",
			b.Source(), report.PublicKeyHex,
		)
	}
	return nil
}
