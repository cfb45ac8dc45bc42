package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Supervisor owns at most one live worker and serializes every
// operation against it through a single gate, so reset, spawn, request
// dispatch, and teardown never interleave. A second caller's request
// simply waits for the gate.
//
// The worker reference is the only shared mutable state, and every
// read-modify-write of it happens while holding the gate.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	proc     *worker // nil = NoWorker
	lastUsed time.Time
}

// NewSupervisor creates a Supervisor. No worker is spawned until the
// first request arrives.
func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Execute runs one request against the sandbox.
//
// The worker is reused when it is alive and was spawned with the same
// memory ceiling; otherwise it is replaced. On success the worker is
// kept, so interpreter state persists into the next call. Timeout,
// death, and protocol failures replace the worker but leave the
// supervisor usable for the next request. A Python-level failure is
// returned as a Response with OK=false and never tears anything down.
func (s *Supervisor) Execute(ctx context.Context, req Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.normalize(s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Reset && s.proc != nil {
		s.logger.Info("sandbox reset requested, discarding worker")
		s.teardownLocked(false)
	}

	if err := s.ensureWorkerLocked(*req.MemoryMB); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := roundTrip(ctx, s.proc, req)
	if err != nil {
		s.handleProtocolFailureLocked(err, time.Since(start))
		return nil, err
	}

	govern(resp, s.cfg.MaxOutputChars)
	s.lastUsed = time.Now()
	return resp, nil
}

// Reset gracefully discards the current worker, if any. The next
// request starts from a fresh interpreter.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(false)
}

// Close terminates the worker. The supervisor remains usable; Close
// exists for orderly process shutdown.
func (s *Supervisor) Close() error {
	s.Reset()
	return nil
}

// IdleFor returns how long the live worker has been idle. ok=false
// means there is no live worker.
func (s *Supervisor) IdleFor() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || !s.proc.alive() {
		return 0, false
	}
	return time.Since(s.lastUsed), true
}

// ensureWorkerLocked guarantees a live worker spawned with the
// requested memory ceiling, replacing any stale one.
func (s *Supervisor) ensureWorkerLocked(memoryMB int) error {
	if s.proc != nil && s.proc.alive() && s.proc.memoryMB == memoryMB {
		return nil
	}
	if s.proc != nil {
		if s.proc.memoryMB != memoryMB && s.proc.alive() {
			s.logger.Info("memory ceiling changed, replacing worker",
				slog.Int("old_mb", s.proc.memoryMB),
				slog.Int("new_mb", memoryMB),
			)
		}
		s.teardownLocked(false)
	}
	w, err := spawn(s.cfg, memoryMB, s.logger)
	if err != nil {
		return err
	}
	s.proc = w
	s.lastUsed = time.Now()
	return nil
}

// handleProtocolFailureLocked applies the teardown policy for a failed
// exchange. A timeout force-kills: the worker may be stuck in an
// unyielding loop, and a graceful attempt would block on the very
// stream it is not draining. Death and protocol corruption also discard
// the worker — its state is gone or unverifiable.
func (s *Supervisor) handleProtocolFailureLocked(err error, elapsed time.Duration) {
	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		s.logger.Warn("sandbox execution timed out, force-killing worker",
			slog.Int("timeout_ms", timeoutErr.TimeoutMS),
			slog.Duration("elapsed", elapsed),
		)
		s.teardownLocked(true)
	default:
		s.logger.Warn("sandbox protocol failure, discarding worker",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		s.teardownLocked(true)
	}
}

// teardownLocked terminates the current worker and moves to NoWorker.
// forced skips the graceful negotiation entirely.
func (s *Supervisor) teardownLocked(forced bool) {
	if s.proc == nil {
		return
	}
	w := s.proc
	s.proc = nil
	if forced {
		w.kill(s.logger)
	} else {
		w.shutdown(s.logger)
	}
}
