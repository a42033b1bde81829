// Package network defines the bootstrap configuration, the node registry and
// the supervisor interface its two backends implement.
package network

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/weezy20/gosubnet/network/node"
)

// SnapshotFileName is the NodeSet snapshot written after key generation,
// kept for diagnostics and resumability.
const SnapshotFileName = "pysubnet.json"

var ErrStopped = errors.New("network stopped")

// Status is a supervisor's lifecycle state.
type Status int

const (
	Idle Status = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Network supervises the running node processes or containers.
type Network interface {
	// Start launches every node. On failure, nodes already launched are
	// torn down before the error is returned.
	Start(ctx context.Context) error
	// Await polls node liveness at a low frequency until [ctx] is
	// cancelled. Crashed nodes are logged and left crashed; they are
	// never restarted.
	Await(ctx context.Context)
	// Stop sends a termination request to every live handle, waits out a
	// bounded grace period, force-kills stragglers, and closes all log
	// files. Subsequent calls return ErrStopped.
	Stop(ctx context.Context) error
	// Status returns the supervisor's lifecycle state.
	Status() Status
}

// SaveSnapshot writes the node set to the root directory.
func SaveSnapshot(rootDir string, nodes []*node.Node) error {
	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(rootDir, SnapshotFileName), data, 0o600)
}

// LoadSnapshot reads a previously saved node set back.
func LoadSnapshot(rootDir string) ([]*node.Node, error) {
	data, err := os.ReadFile(filepath.Join(rootDir, SnapshotFileName))
	if err != nil {
		return nil, err
	}
	var nodes []*node.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}
