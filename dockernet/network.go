// Package dockernet supervises the network's nodes as long-lived containers
// of a substrate image, attached to a shared docker network so they reach
// each other by container name.
package dockernet

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weezy20/gosubnet/network"
	"github.com/weezy20/gosubnet/network/node"
	"github.com/weezy20/gosubnet/substrate"
)

// NetworkName is the docker network all node containers join.
const NetworkName = "gosubnet"

const livenessPollInterval = 3 * time.Second

var _ network.Network = (*dockerNetwork)(nil)

type dockerNetwork struct {
	log     *zap.Logger
	cfg     *network.Config
	backend *substrate.DockerBackend
	cli     *client.Client
	rawSpec string

	lock  sync.RWMutex
	state network.Status
	// Node name to container ID.
	containers map[string]string
	logWG      sync.WaitGroup
	// Closed when Stop completes, releasing any Await callers.
	closedOnStopCh chan struct{}
}

// NewNetwork builds a container supervisor. [rawSpecPath] is the finalized
// raw chainspec as seen inside the containers.
func NewNetwork(log *zap.Logger, cfg *network.Config, backend *substrate.DockerBackend, rawSpecPath string) network.Network {
	return &dockerNetwork{
		log:            log.With(zap.String("component", "docker-network")),
		cfg:            cfg,
		backend:        backend,
		cli:            backend.Client(),
		rawSpec:        rawSpecPath,
		containers:     map[string]string{},
		closedOnStopCh: make(chan struct{}),
	}
}

func (dn *dockerNetwork) Start(ctx context.Context) error {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	if dn.state != network.Idle {
		return fmt.Errorf("network already %s", dn.state)
	}
	dn.state = network.Starting

	if err := dn.ensureDockerNetwork(ctx); err != nil {
		dn.state = network.Stopped
		return err
	}
	for _, n := range dn.cfg.Nodes {
		id, err := dn.launchNode(ctx, n)
		if err != nil {
			dn.teardownLocked(context.Background())
			dn.state = network.Stopped
			return fmt.Errorf("starting node %q: %w", n.Name, err)
		}
		dn.containers[n.Name] = id
		dn.log.Info("node container started",
			zap.String("node", n.Name),
			zap.String("container", substrate.ContainerName(n.Name)),
			zap.String("log", dn.logPath(n.Name, false)))
	}
	dn.state = network.Running
	return nil
}

func (dn *dockerNetwork) ensureDockerNetwork(ctx context.Context) error {
	_, err := dn.cli.NetworkInspect(ctx, NetworkName, types.NetworkInspectOptions{})
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspecting docker network %q: %w", NetworkName, err)
	}
	if _, err := dn.cli.NetworkCreate(ctx, NetworkName, types.NetworkCreate{Driver: "bridge"}); err != nil {
		return fmt.Errorf("creating docker network %q: %w", NetworkName, err)
	}
	dn.log.Info("docker network created", zap.String("network", NetworkName))
	return nil
}

// launchNode creates and starts one node container, publishing the RPC and
// metrics ports on the host under the same numbers, and attaches a log
// streamer to it.
func (dn *dockerNetwork) launchNode(ctx context.Context, n *node.Node) (string, error) {
	containerName := substrate.ContainerName(n.Name)
	rpcPort := nat.Port(strconv.Itoa(int(n.RPCPort)) + "/tcp")
	metricsPort := nat.Port(strconv.Itoa(int(n.MetricsPort)) + "/tcp")
	cfg := &container.Config{
		Image: dn.backend.Source(),
		Cmd:   append(n.LaunchArgs(substrate.DataDir, dn.rawSpec), "--unsafe-rpc-external"),
		ExposedPorts: nat.PortSet{
			rpcPort:     struct{}{},
			metricsPort: struct{}{},
		},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{dn.backend.RootDir() + ":" + substrate.DataDir},
		PortBindings: nat.PortMap{
			rpcPort:     []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(int(n.RPCPort))}},
			metricsPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(int(n.MetricsPort))}},
		},
	}
	netCfg := &dockernetwork.NetworkingConfig{
		EndpointsConfig: map[string]*dockernetwork.EndpointSettings{
			NetworkName: {Aliases: []string{containerName}},
		},
	}
	created, err := dn.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("couldn't create container: %w", err)
	}
	if err := dn.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		_ = dn.cli.ContainerRemove(context.Background(), created.ID, types.ContainerRemoveOptions{Force: true})
		return "", fmt.Errorf("couldn't start container: %w", err)
	}
	if err := dn.streamLogs(ctx, n.Name, created.ID); err != nil {
		return "", err
	}
	return created.ID, nil
}

// streamLogs follows the container's output into per-node log files.
// Substrate writes its operational log to stderr and reserves stdout for
// diagnostics, so stderr goes to <name>.log and stdout to <name>.error.log.
func (dn *dockerNetwork) streamLogs(ctx context.Context, name, containerID string) error {
	normalLog, err := os.Create(dn.logPath(name, false))
	if err != nil {
		return err
	}
	errorLog, err := os.Create(dn.logPath(name, true))
	if err != nil {
		_ = normalLog.Close()
		return err
	}
	logs, err := dn.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		_ = normalLog.Close()
		_ = errorLog.Close()
		return fmt.Errorf("couldn't attach to container logs: %w", err)
	}
	dn.logWG.Add(1)
	go func() {
		defer dn.logWG.Done()
		if _, err := stdcopy.StdCopy(errorLog, normalLog, logs); err != nil && err != io.EOF {
			dn.log.Debug("log stream ended", zap.String("node", name), zap.Error(err))
		}
		_ = logs.Close()
		_ = normalLog.Close()
		_ = errorLog.Close()
	}()
	return nil
}

func (dn *dockerNetwork) logPath(name string, errorStream bool) string {
	if errorStream {
		return filepath.Join(dn.cfg.RootDir, name, name+".error.log")
	}
	return filepath.Join(dn.cfg.RootDir, name, name+".log")
}

// Await blocks until [ctx] is cancelled or the network is stopped, logging
// each container exit once. Exited containers are never restarted.
func (dn *dockerNetwork) Await(ctx context.Context) {
	ticker := time.NewTicker(livenessPollInterval)
	defer ticker.Stop()

	reported := map[string]struct{}{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-dn.closedOnStopCh:
			return
		case <-ticker.C:
			dn.lock.RLock()
			for name, id := range dn.containers {
				if _, ok := reported[name]; ok {
					continue
				}
				inspect, err := dn.cli.ContainerInspect(ctx, id)
				if err != nil || inspect.State == nil || inspect.State.Running {
					continue
				}
				reported[name] = struct{}{}
				dn.log.Warn("node container exited unexpectedly",
					zap.String("node", name),
					zap.Int("exitCode", inspect.State.ExitCode),
					zap.String("errorLog", dn.logPath(name, true)))
			}
			dn.lock.RUnlock()
		}
	}
}

func (dn *dockerNetwork) Stop(ctx context.Context) error {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	if dn.state == network.Stopped {
		return network.ErrStopped
	}
	dn.state = network.Stopping
	dn.teardownLocked(ctx)
	dn.state = network.Stopped
	close(dn.closedOnStopCh)
	return nil
}

// teardownLocked stops and removes every container in parallel. ContainerStop
// already implements the graceful phase: the daemon sends SIGTERM, waits out
// the timeout, then SIGKILLs.
func (dn *dockerNetwork) teardownLocked(ctx context.Context) {
	grace := int(dn.cfg.StopGrace.Seconds())
	var eg errgroup.Group
	for name, id := range dn.containers {
		name, id := name, id
		eg.Go(func() error {
			if err := dn.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace}); err != nil {
				dn.log.Warn("couldn't stop container", zap.String("node", name), zap.Error(err))
			}
			statusCh, errCh := dn.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
			select {
			case <-statusCh:
			case err := <-errCh:
				dn.log.Warn("waiting on container", zap.String("node", name), zap.Error(err))
			}
			if err := dn.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
				dn.log.Warn("couldn't remove container", zap.String("node", name), zap.Error(err))
				return nil
			}
			dn.log.Info("node container stopped", zap.String("node", name))
			return nil
		})
	}
	_ = eg.Wait()
	dn.logWG.Wait()
	// Removal fails while other containers are attached; that's fine, a
	// later run reuses the network.
	_ = dn.cli.NetworkRemove(ctx, NetworkName)
}

func (dn *dockerNetwork) Status() network.Status {
	dn.lock.RLock()
	defer dn.lock.RUnlock()
	return dn.state
}
