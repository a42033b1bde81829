package substrate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
)

var _ Backend = (*BinaryBackend)(nil)

// BinaryBackend runs a substrate node binary as child processes on the host.
type BinaryBackend struct {
	log     *zap.Logger
	path    string
	rootDir string
}

// NewBinaryBackend resolves [binPath], verifies it is an executable regular
// file, and self-validates it by generating and parsing a throwaway key.
func NewBinaryBackend(ctx context.Context, log *zap.Logger, binPath, rootDir string) (*BinaryBackend, error) {
	abs, err := filepath.Abs(binPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("substrate binary not found: %s: %w", binPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("substrate binary is not a regular file: %s", abs)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("substrate binary is not executable: %s", abs)
	}
	// Self-validation runs with the root directory as working directory,
	// so it has to exist before the first command.
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	b := &BinaryBackend{
		log:     log.With(zap.String("backend", string(ExecBinary))),
		path:    abs,
		rootDir: rootDir,
	}
	if err := selfValidate(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *BinaryBackend) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, b.path, args...)
	if dir != "" || b.rootDir != "" {
		cmd.Dir = filepath.Join(b.rootDir, dir)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	b.log.Debug("running command", zap.Strings("args", args), zap.String("dir", cmd.Dir))
	if err := cmd.Run(); err != nil {
		return Result{}, &CommandError{
			Args:   append([]string{b.path}, args...),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (b *BinaryBackend) RunStructured(ctx context.Context, dir string, args ...string) ([]byte, error) {
	res, err := b.Run(ctx, dir, args...)
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

func (b *BinaryBackend) Path(rel string) string {
	return filepath.Join(b.rootDir, rel)
}

func (b *BinaryBackend) NodeHost(string) (string, string) {
	return "ip4", "127.0.0.1"
}

func (b *BinaryBackend) Source() string { return b.path }

func (b *BinaryBackend) Type() ExecType { return ExecBinary }
