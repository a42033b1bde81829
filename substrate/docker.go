package substrate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

var _ Backend = (*DockerBackend)(nil)

// DataDir is where the network root directory is mounted inside containers.
const DataDir = "/data"

// DockerBackend runs the substrate tool as one-shot containers of an image,
// with the network root directory bind-mounted at DataDir.
type DockerBackend struct {
	log     *zap.Logger
	cli     *client.Client
	image   string
	rootDir string
	// The image's own entrypoint+cmd, used to rebuild the command line when
	// output has to be redirected through a shell.
	tool []string
}

// NewDockerBackend connects to the docker daemon, pulls [image] if it is not
// present locally (pull progress goes to stderr), and self-validates the
// image by generating and parsing a throwaway key.
func NewDockerBackend(ctx context.Context, log *zap.Logger, image, rootDir string) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to docker daemon: %w", err)
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	// Create the root directory before the daemon does; a daemon-created
	// bind mount source would be owned by root.
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, err
	}
	b := &DockerBackend{
		log:     log.With(zap.String("backend", string(ExecDocker))),
		cli:     cli,
		image:   image,
		rootDir: absRoot,
	}
	inspect, _, err := cli.ImageInspectWithRaw(ctx, image)
	if client.IsErrNotFound(err) {
		b.log.Info("image not found locally, pulling", zap.String("image", image))
		rc, pullErr := cli.ImagePull(ctx, image, types.ImagePullOptions{})
		if pullErr != nil {
			return nil, fmt.Errorf("docker image %q not found and not pullable: %w", image, pullErr)
		}
		defer rc.Close()
		if err := jsonmessage.DisplayJSONMessagesStream(rc, os.Stderr, 0, false, nil); err != nil {
			return nil, fmt.Errorf("pulling docker image %q: %w", image, err)
		}
		inspect, _, err = cli.ImageInspectWithRaw(ctx, image)
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't inspect docker image %q: %w", image, err)
	}
	b.tool = append(b.tool, inspect.Config.Entrypoint...)
	b.tool = append(b.tool, inspect.Config.Cmd...)
	if err := selfValidate(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *DockerBackend) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	return b.run(ctx, dir, args, nil)
}

// RunStructured redirects the command's stdout to a file inside the mounted
// volume and reads it back, because the daemon's multiplexed log streams are
// not binary-clean for document-sized output.
func (b *DockerBackend) RunStructured(ctx context.Context, dir string, args ...string) ([]byte, error) {
	outFile := ".gosubnet-out.json"
	if _, err := b.run(ctx, dir, args, &outFile); err != nil {
		return nil, err
	}
	hostPath := filepath.Join(b.rootDir, outFile)
	defer os.Remove(hostPath)
	doc, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, fmt.Errorf("command produced no output file: %w", err)
	}
	return doc, nil
}

// run executes [args] in a one-shot container. If [redirect] is non-nil the
// whole command line is rebuilt behind a shell with stdout sent to the named
// file under DataDir.
func (b *DockerBackend) run(ctx context.Context, dir string, args []string, redirect *string) (Result, error) {
	cfg := &container.Config{
		Image:      b.image,
		WorkingDir: path.Join(DataDir, dir),
	}
	if redirect != nil {
		line := make([]string, 0, len(b.tool)+len(args))
		for _, tok := range append(append([]string{}, b.tool...), args...) {
			line = append(line, shellQuote(tok))
		}
		cfg.Entrypoint = []string{"/bin/sh", "-c"}
		cfg.Cmd = []string{strings.Join(line, " ") + " > " + path.Join(DataDir, *redirect)}
	} else {
		cfg.Cmd = args
	}
	hostCfg := &container.HostConfig{
		Binds: []string{b.rootDir + ":" + DataDir},
	}
	created, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("couldn't create container for %q: %w", b.image, err)
	}
	defer func() {
		_ = b.cli.ContainerRemove(context.Background(), created.ID, types.ContainerRemoveOptions{Force: true})
	}()

	b.log.Debug("running container command", zap.Strings("args", args), zap.String("dir", cfg.WorkingDir))
	if err := b.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return Result{}, fmt.Errorf("couldn't start container for %q: %w", b.image, err)
	}

	var exitCode int64
	statusCh, errCh := b.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return Result{}, fmt.Errorf("waiting on container: %w", err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	var stdout, stderr bytes.Buffer
	logs, err := b.cli.ContainerLogs(ctx, created.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("couldn't read container logs: %w", err)
	}
	defer logs.Close()
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return Result{}, fmt.Errorf("couldn't demultiplex container logs: %w", err)
	}

	if exitCode != 0 {
		return Result{}, &CommandError{
			Args:   append([]string{b.image}, args...),
			Stderr: stderr.String(),
			Err:    fmt.Errorf("exit status %d", exitCode),
		}
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (b *DockerBackend) Path(rel string) string {
	return path.Join(DataDir, rel)
}

// NodeHost names nodes by their container name; the supervisor attaches all
// node containers to one docker network where those names resolve.
func (b *DockerBackend) NodeHost(nodeName string) (string, string) {
	return "dns4", ContainerName(nodeName)
}

func (b *DockerBackend) Source() string { return b.image }

func (b *DockerBackend) Type() ExecType { return ExecDocker }

// Client exposes the daemon connection for the container supervisor.
func (b *DockerBackend) Client() *client.Client { return b.cli }

func (b *DockerBackend) RootDir() string { return b.rootDir }

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
