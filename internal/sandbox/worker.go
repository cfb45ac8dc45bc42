package sandbox

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// maxResponseLineBytes caps a single response line. A worker that
	// exceeds it is treated as a protocol failure, not buffered further.
	maxResponseLineBytes = 8 << 20 // 8 MB

	// maxStderrExcerpt bounds diagnostics read from a failing worker.
	maxStderrExcerpt = 8192

	// stderrDrainTimeout bounds the wait for a dead worker's error
	// stream to drain while collecting diagnostics.
	stderrDrainTimeout = 500 * time.Millisecond

	// shutdownWriteTimeout bounds the graceful shutdown write so a
	// worker that stopped reading its stdin cannot stall the supervisor.
	shutdownWriteTimeout = 500 * time.Millisecond

	// killWaitTimeout is how long kill waits for process exit before
	// abandoning it as orphaned.
	killWaitTimeout = time.Second
)

// shutdownLine asks a cooperative worker to exit cleanly.
const shutdownLine = "{\"shutdown\": true}\n"

// readResult is one framed line from the worker's stdout, or the read
// error that ended the stream.
type readResult struct {
	line string
	err  error
}

// worker wraps one sandboxed OS process and its three standard streams.
// It is owned exclusively by the Supervisor and never accessed
// concurrently; the supervisor's gate enforces that.
type worker struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	memoryMB int

	// lines receives stdout lines from a dedicated reader goroutine and
	// is closed when the stream ends. Pipe reads are not cancelable in
	// Go, so the bounded read in the protocol layer selects on this
	// channel instead of blocking on the pipe.
	lines chan readResult

	// exited is closed once Wait has reaped the process.
	exited chan struct{}

	// stderr accumulates a bounded excerpt of the error stream;
	// stderrEOF is closed when the stream drains.
	stderr    *boundedBuffer
	stderrEOF chan struct{}

	killOnce sync.Once
}

// spawn starts one worker process for the given config and memory
// ceiling. Missing executable or runtime assets yield a LaunchError
// before any process is created.
func spawn(cfg Config, memoryMB int, logger *slog.Logger) (*worker, error) {
	runnerPath := cfg.RunnerPath()
	if _, err := os.Stat(runnerPath); err != nil {
		return nil, &LaunchError{Reason: fmt.Sprintf("runner script not found: %s", runnerPath), Err: err}
	}
	vendorPath := cfg.VendorPath()
	if _, err := os.Stat(vendorPath); err != nil {
		return nil, &LaunchError{Reason: fmt.Sprintf("vendored Pyodide not found: %s (run scripts/vendor-pyodide.sh to download)", vendorPath), Err: err}
	}
	bin, err := exec.LookPath(cfg.DenoBin)
	if err != nil {
		return nil, &LaunchError{Reason: fmt.Sprintf("deno executable not found (%s); install Deno or set KIVULI_DENO", cfg.DenoBin), Err: err}
	}

	args := launchArgs(launchSpec{
		RunnerPath: runnerPath,
		VendorPath: vendorPath,
		MemoryMB:   memoryMB,
		AllowNet:   cfg.AllowNet,
	})

	cmd := exec.Command(bin, args...)
	cmd.Dir = cfg.RuntimeDir
	// Minimal environment. The worker cannot read it anyway without
	// --allow-env, but nothing from the host process leaks regardless.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + cfg.RuntimeDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	// Own process group, so kill reaches any children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Reason: "opening worker stdin", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Reason: "opening worker stdout", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Reason: "opening worker stderr", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Reason: "starting sandbox worker", Err: err}
	}

	w := &worker{
		cmd:       cmd,
		stdin:     stdin,
		memoryMB:  memoryMB,
		lines:     make(chan readResult, 1),
		exited:    make(chan struct{}),
		stderr:    newBoundedBuffer(maxStderrExcerpt),
		stderrEOF: make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		close(w.exited)
	}()
	go w.readLines(stdout)
	go func() {
		_, _ = io.Copy(w.stderr, stderr)
		close(w.stderrEOF)
	}()

	logger.Info("sandbox worker started",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("memory_mb", memoryMB),
		slog.Bool("allow_net", cfg.AllowNet),
	)

	return w, nil
}

// readLines feeds stdout lines into w.lines and closes the channel when
// the stream ends. A line over maxResponseLineBytes surfaces as a read
// error rather than unbounded buffering. Every send also selects on
// w.exited: once the process is reaped nobody receives from w.lines
// again, and a worker that emitted extra pending lines before being
// discarded must not pin this goroutine forever.
func (w *worker) readLines(stdout io.Reader) {
	defer close(w.lines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLineBytes)
	for scanner.Scan() {
		select {
		case w.lines <- readResult{line: scanner.Text()}:
		case <-w.exited:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case w.lines <- readResult{err: err}:
		case <-w.exited:
		}
	}
}

// alive reports whether the process has not yet exited.
func (w *worker) alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// writeLine writes one framed request under a deadline. os.Pipe writes
// block when the worker stops draining, so the write runs in a
// goroutine; on timeout the pending write is unblocked later by kill.
func (w *worker) writeLine(line []byte, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, err := w.stdin.Write(line)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("write to sandbox worker timed out after %s", timeout)
	}
}

// stderrExcerpt returns a bounded snapshot of the worker's error
// stream, waiting briefly for a dead process's stream to drain.
func (w *worker) stderrExcerpt() string {
	select {
	case <-w.stderrEOF:
	case <-time.After(stderrDrainTimeout):
	}
	return w.stderr.String()
}

// kill sends SIGKILL to the worker's process group, waits briefly for
// exit, and abandons the process as orphaned if it lingers. Idempotent.
func (w *worker) kill(logger *slog.Logger) {
	w.killOnce.Do(func() {
		_ = w.stdin.Close()
		if w.cmd.Process != nil {
			// Negative PID = the whole process group.
			_ = syscall.Kill(-w.cmd.Process.Pid, syscall.SIGKILL)
		}
		select {
		case <-w.exited:
		case <-time.After(killWaitTimeout):
			logger.Warn("sandbox worker did not exit after SIGKILL, abandoning",
				slog.Int("pid", w.cmd.Process.Pid))
		}
	})
}

// shutdown attempts a cooperative exit — shutdown marker, stdin close —
// with each step bounded so a non-responsive worker cannot stall the
// supervisor, then falls through to kill.
func (w *worker) shutdown(logger *slog.Logger) {
	if w.alive() {
		_ = w.writeLine([]byte(shutdownLine), shutdownWriteTimeout)
		_ = w.stdin.Close()
		select {
		case <-w.exited:
		case <-time.After(shutdownWriteTimeout):
		}
	}
	w.kill(logger)
}

// boundedBuffer accumulates writes up to a fixed cap, discarding the
// rest, and allows concurrent snapshots.
type boundedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.max - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
