package verifier

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	// StatusError means the artifact could not be started.
	StatusError Status = "error"
)

// cappedBuffer keeps the first max bytes written and drops the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.max - c.buf.Len(); room < len(p) {
		if room > 0 {
			c.buf.Write(p[:room])
		}
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

type execResult struct {
	status    Status
	exitCode  int
	stdout    string
	stderr    string
	truncated bool
	duration  time.Duration
	err       error
}

// command builds the argv for artifact. Jars run on the JVM with the memory
// ceiling applied as -Xmx; anything else is executed directly and is only
// bounded by addressLimit.
func (v *Verifier) command(artifact string, vc Context) []string {
	args := append([]string(nil), v.opts.Args...)
	args = append(args, vc.Args...)
	if !strings.HasSuffix(strings.ToLower(artifact), ".jar") {
		return append([]string{artifact}, args...)
	}
	argv := []string{v.opts.JavaBinary, "-Xmx" + strconv.Itoa(v.opts.MemoryMB) + "m"}
	argv = append(argv, v.opts.JVMArgs...)
	if vc.MainClass != "" {
		cp := append([]string{artifact}, vc.Classpath...)
		argv = append(argv, "-cp", strings.Join(cp, string(filepath.ListSeparator)), vc.MainClass)
	} else {
		argv = append(argv, "-jar", artifact)
	}
	return append(argv, args...)
}

// addressLimit is the virtual memory cap in bytes for a non-jar artifact,
// or 0. Jars are bounded by -Xmx instead.
func (v *Verifier) addressLimit(artifact string) uint64 {
	if v.opts.AddressSpaceMB <= 0 || strings.HasSuffix(strings.ToLower(artifact), ".jar") {
		return 0
	}
	return uint64(v.opts.AddressSpaceMB) << 20
}

// execute runs argv in its own goroutine under a hard wall-clock timeout.
// The child is killed when the timeout or ctx fires. A non-zero limit caps
// the child's address space right after it starts; children it forks
// later inherit the cap.
func (v *Verifier) execute(ctx context.Context, dir string, argv []string, limit uint64) execResult {
	runCtx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	stdout := &cappedBuffer{max: v.opts.MaxOutputBytes}
	stderr := &cappedBuffer{max: v.opts.MaxOutputBytes}
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return execResult{status: StatusError, exitCode: -1, err: err}
	}
	if limit > 0 {
		if err := limitAddressSpace(cmd.Process.Pid, limit); err != nil {
			slog.Warn("address space limit not applied", "pid", cmd.Process.Pid, "error", err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		// CommandContext kills the process; wait for the pipes to drain.
		waitErr = <-done
	}

	res := execResult{
		exitCode:  cmd.ProcessState.ExitCode(),
		stdout:    stdout.String(),
		stderr:    stderr.String(),
		truncated: stdout.truncated || stderr.truncated,
		duration:  time.Since(start),
		err:       waitErr,
	}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.status = StatusTimeout
	case ctx.Err() != nil:
		res.status = StatusError
		res.err = ctx.Err()
	case waitErr == nil:
		res.status = StatusPassed
	default:
		res.status = StatusFailed
	}
	return res
}
