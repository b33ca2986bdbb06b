package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// ErrSpawn marks a command that could not be started at all.
var ErrSpawn = errors.New("tools: spawn failed")

// DefaultShell runs every command line.
const DefaultShell = "/bin/sh"

// Result is the captured outcome of one synchronous command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner abstracts shell command execution for controllers and launchers.
type CommandRunner interface {
	RunCapturing(ctx context.Context, command string) (Result, error)
	RunDetached(command string) (*Process, error)
}

// ShellRunner executes command lines through a POSIX shell on the local host.
type ShellRunner struct {
	Shell string
}

func NewShellRunner() ShellRunner {
	return ShellRunner{Shell: DefaultShell}
}

func (r ShellRunner) shell() string {
	if r.Shell == "" {
		return DefaultShell
	}
	return r.Shell
}

// RunCapturing blocks until the command exits. A non-zero exit is returned as
// data; only a failure to spawn (or a cancelled ctx) is an error.
func (r ShellRunner) RunCapturing(ctx context.Context, command string) (Result, error) {
	cmd := exec.CommandContext(ctx, r.shell(), "-c", command)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren may hold the pipes open after the shell is killed.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.ExitCode = -1
			return res, ctxErr
		}
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	res.ExitCode = 127
	return res, fmt.Errorf("%w: %v", ErrSpawn, err)
}

// RunDetached starts the command in its own process group and returns immediately.
func (r ShellRunner) RunDetached(command string) (*Process, error) {
	cmd := exec.Command(r.shell(), "-c", command)
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSpawn, command, err)
	}

	p := &Process{
		Command: command,
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

// Process is one detached child started by RunDetached.
type Process struct {
	Command string

	cmd      *exec.Cmd
	done     chan struct{}
	mu       sync.Mutex
	err      error
	stopOnce sync.Once
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the wait error after Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Exited reports whether the child has already terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop sends SIGTERM to the child's process group and waits for the reap
// until ctx expires, escalating to SIGKILL.
func (p *Process) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if p.Exited() {
			return
		}
		if err = terminateGroup(p.Pid()); err != nil {
			return
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			err = killGroup(p.Pid())
			<-p.done
		}
	})
	return err
}
