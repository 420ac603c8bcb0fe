package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"
)

// fakeTimeoutErr simulates a net.Error with Timeout semantics (we don't need full net.Error here).
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string { return "fake timeout" }
func (fakeTimeoutErr) Timeout() bool { return true }

func TestIsProtocolErrorClassification(t *testing.T) {
	root := stdErrors.New("root")
	wrapped := fmt.Errorf("adding context: %w", root)
	fe := NewFrameError("session.decode", wrapped)
	if !IsProtocolError(fe) {
		t.Fatalf("expected IsProtocolError=true for frame error")
	}
	if !stdErrors.Is(fe, root) {
		t.Fatalf("expected errors.Is to find root cause")
	}
	var ferr *FrameError
	if !stdErrors.As(fe, &ferr) {
		t.Fatalf("expected errors.As to *FrameError")
	}
	if ferr.Op != "session.decode" {
		t.Fatalf("unexpected op: %s", ferr.Op)
	}

	p := NewProtocolError("state.transition", stdErrors.New("invalid state"))
	if !IsProtocolError(p) {
		t.Fatalf("expected protocol error classified")
	}
}

func TestIsTimeout(t *testing.T) {
	root := fakeTimeoutErr{}
	to := NewTimeoutError("helo.wait", 5*time.Second, root)
	if !IsTimeout(to) {
		t.Fatalf("expected TimeoutError recognized")
	}
	if IsProtocolError(to) {
		t.Fatalf("timeout should NOT be protocol error")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("expected context deadline recognized")
	}
	var ne error = root
	if !IsTimeout(ne) {
		t.Fatalf("expected net-like timeout recognized")
	}
}

func TestUnwrapChains(t *testing.T) {
	base := stdErrors.New("io EOF")
	l1 := fmt.Errorf("read: %w", base)
	l2 := NewFrameError("frame.read", l1)
	if !stdErrors.Is(l2, base) {
		t.Fatalf("errors.Is should reach base cause")
	}
	var pm protocolMarker
	if !stdErrors.As(l2, &pm) {
		t.Fatalf("expected to match protocolMarker via As")
	}
}

func TestNilSafety(t *testing.T) {
	if IsProtocolError(nil) {
		t.Fatalf("nil should not be protocol error")
	}
	if IsTimeout(nil) {
		t.Fatalf("nil should not be timeout")
	}
}

func TestConstructorWithoutCause(t *testing.T) {
	fe := NewFrameError("frame.parse", nil)
	if fe == nil {
		t.Fatalf("constructor returned nil")
	}
	if errStr := fe.Error(); errStr == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestNilErrBranchesAndStrings(t *testing.T) {
	p := NewProtocolError("op1", nil)
	if p == nil {
		t.Fatalf("nil protocol error")
	}
	if !IsProtocolError(p) {
		t.Fatalf("expected protocol classification")
	}
	if s := p.Error(); s == "" || s == "protocol error:" {
		t.Fatalf("unexpected protocol error string: %q", s)
	}

	fe := NewFrameError("op2", nil)
	if s := fe.Error(); s == "" || s == "frame error:" {
		t.Fatalf("bad frame error string: %q", s)
	}

	to := NewTimeoutError("op5", 100*time.Millisecond, nil)
	if !IsTimeout(to) {
		t.Fatalf("timeout classification failed")
	}
	if IsProtocolError(to) {
		t.Fatalf("timeout misclassified as protocol")
	}
	if s := to.Error(); s == "" {
		t.Fatalf("empty timeout error string")
	}

	ce := NewCommandError("orchestrator.play", "aabbccddee01", "closed", nil)
	if s := ce.Error(); s == "" {
		t.Fatalf("empty command error string")
	}
	if IsProtocolError(ce) {
		t.Fatalf("command error should not classify as protocol")
	}

	pe := NewProgrammingError("orchestrator.transport-on-follower", nil)
	if s := pe.Error(); s == "" {
		t.Fatalf("empty programming error string")
	}

	se := NewSetupError("server.listen", 3483, nil)
	if s := se.Error(); s == "" {
		t.Fatalf("empty setup error string")
	}
	var setupErr *SetupError
	if !stdErrors.As(se, &setupErr) {
		t.Fatalf("expected errors.As to *SetupError")
	}
	if setupErr.Port != 3483 {
		t.Fatalf("unexpected port: %d", setupErr.Port)
	}
}

func TestCommandErrorFields(t *testing.T) {
	cause := stdErrors.New("write deadline exceeded")
	ce := NewCommandError("orchestrator.pause", "001122334455", "helo-wait", cause)
	var cerr *CommandError
	if !stdErrors.As(ce, &cerr) {
		t.Fatalf("expected errors.As to *CommandError")
	}
	if cerr.PlayerID != "001122334455" || cerr.State != "helo-wait" {
		t.Fatalf("unexpected fields: %+v", cerr)
	}
	if !stdErrors.Is(ce, cause) {
		t.Fatalf("expected errors.Is to reach cause")
	}
}

func TestNegativePredicates(t *testing.T) {
	if IsProtocolError(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be protocol")
	}
	if IsTimeout(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be timeout")
	}
}
