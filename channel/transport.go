package channel

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/poseworks/posepool/id"
)

// Transport is a live isolated execution context: a worker reachable only
// by writing request frames and reading response frames. Implementations
// wrap an OS process; tests substitute in-memory pipes.
type Transport interface {
	// Requests is the stream the channel writes request frames to.
	Requests() io.Writer

	// Responses is the stream the worker's response frames arrive on.
	Responses() io.Reader

	// Stderr carries the worker's log output. May return nil.
	Stderr() io.Reader

	// Close begins a graceful shutdown by closing the request stream;
	// a well-behaved worker exits when its input ends.
	Close() error

	// Kill force-terminates the worker.
	Kill() error

	// Wait blocks until the worker has exited and returns its exit error.
	Wait() error
}

// Launcher creates the underlying execution context for a worker handle.
// The pool calls Launch once per handle at initialization and again for
// every crash replacement.
type Launcher interface {
	Launch(ctx context.Context, workerID id.WorkerID) (Transport, error)
}

// WorkerIDEnv is the environment variable carrying the handle id into a
// worker process.
const WorkerIDEnv = "POSEPOOL_WORKER_ID"

// ProcessLauncher launches worker processes from an argv. There is no
// same-process fallback: if the binary cannot be started, Launch fails and
// pool initialization fails with it.
type ProcessLauncher struct {
	// Command is the argv of the worker binary, e.g.
	// []string{"poseworker", "--config", "worker.yaml"}.
	Command []string

	// Env is appended to the parent environment. The worker id is always
	// added as POSEPOOL_WORKER_ID.
	Env []string

	// Dir is the working directory for the worker. Empty means inherit.
	Dir string
}

// Launch implements Launcher.
func (l *ProcessLauncher) Launch(ctx context.Context, workerID id.WorkerID) (Transport, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf("posepool: no worker command configured")
	}

	cmd := exec.CommandContext(ctx, l.Command[0], l.Command[1:]...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, WorkerIDEnv+"="+workerID.String())

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("posepool: worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("posepool: worker stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("posepool: worker stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("posepool: start worker %q: %w", l.Command[0], err)
	}

	return &processTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

type processTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (t *processTransport) Requests() io.Writer  { return t.stdin }
func (t *processTransport) Responses() io.Reader { return t.stdout }
func (t *processTransport) Stderr() io.Reader    { return t.stderr }

func (t *processTransport) Close() error { return t.stdin.Close() }

func (t *processTransport) Kill() error {
	if t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}

func (t *processTransport) Wait() error { return t.cmd.Wait() }
