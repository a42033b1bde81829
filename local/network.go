// Package local supervises the network's nodes as child processes of a
// substrate binary on the host.
package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weezy20/gosubnet/network"
	"github.com/weezy20/gosubnet/substrate"
)

const livenessPollInterval = 3 * time.Second

var _ network.Network = (*localNetwork)(nil)

type localNetwork struct {
	log     *zap.Logger
	cfg     *network.Config
	binPath string
	rawSpec string

	lock  sync.RWMutex
	state network.Status
	procs map[string]*nodeProcess
	// Closed when Stop completes, releasing any Await callers.
	closedOnStopCh chan struct{}
}

// NewNetwork builds a process supervisor for the given backend's binary and
// the finalized raw chainspec at [rawSpecPath] (a host path).
func NewNetwork(log *zap.Logger, cfg *network.Config, backend *substrate.BinaryBackend, rawSpecPath string) network.Network {
	return &localNetwork{
		log:            log.With(zap.String("component", "local-network")),
		cfg:            cfg,
		binPath:        backend.Source(),
		rawSpec:        rawSpecPath,
		procs:          map[string]*nodeProcess{},
		closedOnStopCh: make(chan struct{}),
	}
}

func (ln *localNetwork) Start(context.Context) error {
	ln.lock.Lock()
	defer ln.lock.Unlock()

	if ln.state != network.Idle {
		return fmt.Errorf("network already %s", ln.state)
	}
	ln.state = network.Starting

	for _, n := range ln.cfg.Nodes {
		proc, err := ln.launchNode(n.Name, n.LaunchArgs("", ln.rawSpec))
		if err != nil {
			ln.teardownLocked()
			ln.state = network.Stopped
			return fmt.Errorf("starting node %q: %w", n.Name, err)
		}
		ln.procs[n.Name] = proc
		ln.log.Info("node started",
			zap.String("node", n.Name),
			zap.Int("pid", proc.cmd.Process.Pid),
			zap.String("log", ln.logPath(n.Name, false)))
	}
	ln.state = network.Running
	return nil
}

// launchNode starts one child process with its output streams attached to
// per-node log files. Substrate writes its operational log to stderr and
// reserves stdout for diagnostics, so stderr goes to <name>.log and stdout
// to <name>.error.log.
func (ln *localNetwork) launchNode(name string, args []string) (*nodeProcess, error) {
	normalLog, err := os.Create(ln.logPath(name, false))
	if err != nil {
		return nil, err
	}
	errorLog, err := os.Create(ln.logPath(name, true))
	if err != nil {
		_ = normalLog.Close()
		return nil, err
	}
	// Deliberately no CommandContext: shutdown goes through Terminate and
	// AwaitExit so nodes get their grace period even when the run context
	// is cancelled.
	cmd := exec.Command(ln.binPath, args...)
	cmd.Dir = ln.cfg.RootDir
	cmd.Stdout = errorLog
	cmd.Stderr = normalLog
	proc, err := newNodeProcess(name, cmd, normalLog, errorLog)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (ln *localNetwork) logPath(name string, errorStream bool) string {
	if errorStream {
		return filepath.Join(ln.cfg.RootDir, name, name+".error.log")
	}
	return filepath.Join(ln.cfg.RootDir, name, name+".log")
}

// Await blocks until [ctx] is cancelled or the network is stopped, logging
// each node crash once. Crashed nodes are never restarted.
func (ln *localNetwork) Await(ctx context.Context) {
	ticker := time.NewTicker(livenessPollInterval)
	defer ticker.Stop()

	reported := map[string]struct{}{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ln.closedOnStopCh:
			return
		case <-ticker.C:
			ln.lock.RLock()
			for name, proc := range ln.procs {
				if proc.Alive() {
					continue
				}
				if _, ok := reported[name]; ok {
					continue
				}
				reported[name] = struct{}{}
				ln.log.Warn("node exited unexpectedly",
					zap.String("node", name),
					zap.Int("exitCode", proc.ExitCode()),
					zap.Error(proc.ExitErr()),
					zap.String("errorLog", ln.logPath(name, true)))
			}
			ln.lock.RUnlock()
		}
	}
}

func (ln *localNetwork) Stop(context.Context) error {
	ln.lock.Lock()
	defer ln.lock.Unlock()

	if ln.state == network.Stopped {
		return network.ErrStopped
	}
	ln.state = network.Stopping
	ln.teardownLocked()
	ln.state = network.Stopped
	close(ln.closedOnStopCh)
	return nil
}

// teardownLocked terminates every process in two phases: a termination
// request to all of them first, then a bounded wait per process so the
// grace periods overlap instead of adding up.
func (ln *localNetwork) teardownLocked() {
	for _, proc := range ln.procs {
		proc.Terminate()
	}
	var eg errgroup.Group
	for name, proc := range ln.procs {
		name, proc := name, proc
		eg.Go(func() error {
			if forced := proc.AwaitExit(ln.cfg.StopGrace); forced {
				ln.log.Warn("node did not exit in time, killed", zap.String("node", name))
			} else {
				ln.log.Info("node stopped", zap.String("node", name))
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (ln *localNetwork) Status() network.Status {
	ln.lock.RLock()
	defer ln.lock.RUnlock()
	return ln.state
}
