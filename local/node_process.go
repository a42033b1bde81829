package local

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/process"
)

// nodeProcess supervises one substrate child process and owns its two log
// file handles. The handles are closed in the wait goroutine so they are
// released on every exit path, including crashes.
type nodeProcess struct {
	name string
	lock sync.RWMutex
	cmd  *exec.Cmd
	// Log file handles attached to the process's output streams.
	logFiles []*os.File
	// True until the process exits.
	running bool
	// True once a termination request was sent.
	terminated bool
	// Closed when the process exits.
	// If closed, [onExitErr] and [exitCode] are guaranteed to be set.
	closedOnStop chan struct{}
	onExitErr    error
	exitCode     int
}

func newNodeProcess(name string, cmd *exec.Cmd, logFiles ...*os.File) (*nodeProcess, error) {
	np := &nodeProcess{
		name:         name,
		cmd:          cmd,
		logFiles:     logFiles,
		closedOnStop: make(chan struct{}),
	}
	return np, np.start()
}

// Must only be called once.
func (p *nodeProcess) start() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if err := p.cmd.Start(); err != nil {
		for _, f := range p.logFiles {
			_ = f.Close()
		}
		return fmt.Errorf("couldn't start process: %w", err)
	}
	p.running = true

	go func() {
		err := p.cmd.Wait()
		p.lock.Lock()
		p.running = false
		p.onExitErr = err
		p.exitCode = p.cmd.ProcessState.ExitCode()
		for _, f := range p.logFiles {
			_ = f.Close()
		}
		close(p.closedOnStop)
		p.lock.Unlock()
	}()
	return nil
}

// Terminate requests a graceful shutdown. Idempotent, and a no-op once the
// process has exited.
func (p *nodeProcess) Terminate() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.running || p.terminated {
		return
	}
	p.terminated = true
	// Nothing to do with this error. Either the process got the signal and
	// will exit, or it is already gone and the wait goroutine will notice.
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
}

// AwaitExit waits up to [grace] for the process to exit after Terminate.
// If it doesn't, the process and its descendants are force-killed and the
// exit is awaited unconditionally, so the wait goroutine has always closed
// the log files by the time AwaitExit returns.
func (p *nodeProcess) AwaitExit(grace time.Duration) (forced bool) {
	select {
	case <-p.closedOnStop:
		return false
	case <-time.After(grace):
	}
	p.lock.Lock()
	if p.running {
		_ = killDescendants(int32(p.cmd.Process.Pid))
		_ = p.cmd.Process.Signal(syscall.SIGKILL)
	}
	p.lock.Unlock()
	<-p.closedOnStop
	return true
}

func (p *nodeProcess) Alive() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.running
}

func (p *nodeProcess) ExitCode() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.exitCode
}

// ExitErr returns the process-level error from the exit, nil while the
// process is still running or when it exited cleanly.
func (p *nodeProcess) ExitErr() error {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.onExitErr
}

func killDescendants(pid int32) error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		if ppid != pid {
			continue
		}
		_ = killDescendants(proc.Pid)
		_ = proc.Kill()
	}
	return nil
}
