// Package procexec spawns, inspects, and terminates the OS processes
// backing a game-server session (spec §2 ProcessExecutor). Spawning
// goes through os/exec, matching the teacher's external-tool wrapper
// (test/contract/neoexpress.go); inspection goes through gopsutil so
// owner/liveness checks don't require hand-rolled /proc parsing.
package procexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// Handle is a spawned or reattached game-server process.
type Handle struct {
	cmd *exec.Cmd
	pid int32
}

// SpawnOptions configures a new process launch.
type SpawnOptions struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
}

// Spawn starts binary as a detached child and returns a Handle for it
// without waiting for exit. The returned Handle's PID is valid as soon
// as Spawn returns.
func Spawn(opts SpawnOptions) (*Handle, error) {
	cmd := exec.Command(opts.Binary, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", opts.Binary, err)
	}
	return &Handle{cmd: cmd, pid: int32(cmd.Process.Pid)}, nil
}

// PID returns the OS process id of the handle.
func (h *Handle) PID() int32 {
	return h.pid
}

// Wait blocks until the process exits and returns its exit error, if
// any. Safe to call at most once per Handle.
func (h *Handle) Wait() error {
	return h.cmd.Wait()
}

// Terminate sends an interrupt signal and, if the process has not
// exited within grace, force-kills it (spec §4.4 "Terminate:
// synchronous; waits for process exit with bounded grace, then
// force-kills").
func (h *Handle) Terminate(ctx context.Context, grace time.Duration) error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Signal(os.Interrupt); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("signal process %d: %w", h.pid, err)
	}

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
	}

	if err := h.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("kill process %d: %w", h.pid, err)
	}
	<-done
	return nil
}

// Run executes binary to completion, returning its combined
// stdout+stderr output.
func Run(ctx context.Context, binary string, args []string, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("run %s: %s: %w", binary, string(out), err)
	}
	return string(out), nil
}

// IsAlive reports whether pid refers to a live, running process.
func IsAlive(pid int32) bool {
	p, err := gopsprocess.NewProcess(pid)
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	return err == nil && running
}

// Owner returns the OS username that owns pid.
func Owner(pid int32) (string, error) {
	p, err := gopsprocess.NewProcess(pid)
	if err != nil {
		return "", fmt.Errorf("inspect process %d: %w", pid, err)
	}
	username, err := p.Username()
	if err != nil {
		return "", fmt.Errorf("owner of process %d: %w", pid, err)
	}
	return username, nil
}

// OtherRunningInstances enumerates live processes whose executable
// path's basename matches binaryName, excluding excludePID, owned by
// the current OS user. Used for the "no other interactive instance
// already running under the same OS user" pre-launch check.
func OtherRunningInstances(binaryName string, excludePID int32) ([]int32, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	self, err := gopsprocess.NewProcess(int32(os.Getpid()))
	var selfUser string
	if err == nil {
		selfUser, _ = self.Username()
	}

	var matches []int32
	for _, p := range procs {
		if p.Pid == excludePID {
			continue
		}
		exe, err := p.Exe()
		if err != nil {
			continue
		}
		if filepath.Base(exe) != binaryName && !strings.EqualFold(filepath.Base(exe), binaryName) {
			continue
		}
		if selfUser != "" {
			if owner, err := p.Username(); err != nil || owner != selfUser {
				continue
			}
		}
		matches = append(matches, p.Pid)
	}
	return matches, nil
}
