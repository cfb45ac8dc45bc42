package sandbox

import (
	"context"
	"encoding/json"
	"time"
)

// payload is the wire form of one request: a single JSON object on one
// line, terminated by '\n'. Reset, timeout, and memory never cross the
// pipe — they are supervisor concerns.
type payload struct {
	Code       string            `json:"code"`
	Files      map[string]string `json:"files"`
	Packages   []string          `json:"packages"`
	PythonPath []string          `json:"pythonpath"`
}

// roundTrip performs exactly one request/response exchange: one framed
// write, then one bounded read. It never issues a second write before
// the read completes, so response N always answers request N.
//
// Failures map to the three protocol error classes: TimeoutError (no
// line within the deadline), WorkerDiedError (stream ended first), and
// ProtocolError (a line arrived but is not JSON). The caller decides
// what to do with the worker; roundTrip only reports.
func roundTrip(ctx context.Context, w *worker, req Request) (*Response, error) {
	body, err := json.Marshal(payload{
		Code:       req.Code,
		Files:      emptyIfNilMap(req.Files),
		Packages:   emptyIfNil(req.Packages),
		PythonPath: emptyIfNil(req.PythonPath),
	})
	if err != nil {
		return nil, &ValidationError{Field: "code", Message: "request is not serializable: " + err.Error()}
	}
	line := append(body, '\n')

	timeout := req.timeout()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Write, bounded by the same deadline as the read. A write that
	// fails outright means the pipe is already broken.
	written := make(chan error, 1)
	go func() {
		_, err := w.stdin.Write(line)
		written <- err
	}()
	select {
	case err := <-written:
		if err != nil {
			return nil, &WorkerDiedError{Stderr: w.stderrExcerpt()}
		}
	case <-deadline.C:
		return nil, &TimeoutError{TimeoutMS: *req.TimeoutMS}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res, ok := <-w.lines:
		if !ok {
			// End of stream before any line: the worker is dead.
			return nil, &WorkerDiedError{Stderr: w.stderrExcerpt()}
		}
		if res.err != nil {
			// Oversized or broken line; the stream can no longer be framed.
			return nil, &ProtocolError{Raw: res.err.Error(), Stderr: w.stderrExcerpt()}
		}
		var resp Response
		if err := json.Unmarshal([]byte(res.line), &resp); err != nil {
			return nil, &ProtocolError{Raw: res.line, Stderr: w.stderrExcerpt()}
		}
		return &resp, nil
	case <-deadline.C:
		return nil, &TimeoutError{TimeoutMS: *req.TimeoutMS}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyIfNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
