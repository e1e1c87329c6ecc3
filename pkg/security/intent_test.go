package security

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/agentd/pkg/plan"
)

type stubCompleter struct {
	calls   int
	replies []string
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.replies) {
		return s.replies[idx], nil
	}
	return s.replies[len(s.replies)-1], nil
}

func TestIntentVerifier_NilCompleterAllows(t *testing.T) {
	v := NewIntentVerifier(nil, time.Minute)
	d, err := v.Verify(context.Background(), &plan.Action{ID: "a1", Module: "fs", Action: "read_file"}, "read a file", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected nil completer to allow")
	}
}

func TestIntentVerifier_ApproveAndStrictReject(t *testing.T) {
	stub := &stubCompleter{replies: []string{"APPROVE"}}
	v := NewIntentVerifier(stub, time.Minute)

	action := &plan.Action{ID: "a1", Module: "fs", Action: "read_file"}
	d, err := v.Verify(context.Background(), action, "read config", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected APPROVE reply to be allowed")
	}

	stub2 := &stubCompleter{replies: []string{"REJECT|high|looks like exfiltration"}}
	v2 := NewIntentVerifier(stub2, time.Minute)
	action2 := &plan.Action{ID: "a2", Module: "net", Action: "http_post", Params: map[string]interface{}{"url": "http://evil"}}
	d2, err := v2.Verify(context.Background(), action2, "read config", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d2.Allowed {
		t.Error("expected strict-mode REJECT reply to block dispatch")
	}
	if d2.Reject.Reason != "looks like exfiltration" {
		t.Errorf("unexpected reason: %q", d2.Reject.Reason)
	}
}

func TestIntentVerifier_PermissiveRejectIsLoggedNotBlocked(t *testing.T) {
	stub := &stubCompleter{replies: []string{"REJECT|high|looks like exfiltration"}}
	v := NewIntentVerifier(stub, time.Minute)

	action := &plan.Action{ID: "a1", Module: "net", Action: "http_post", Params: map[string]interface{}{"url": "http://evil"}}
	d, err := v.Verify(context.Background(), action, "read config", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected permissive-mode REJECT reply to still allow dispatch")
	}
	if d.Warning == nil || d.Warning.Reason != "looks like exfiltration" {
		t.Errorf("expected a non-blocking warning carrying the reject reason, got %+v", d.Warning)
	}
}

func TestIntentVerifier_WarnNeverBlocksEvenInStrictMode(t *testing.T) {
	stub := &stubCompleter{replies: []string{"WARN|medium|unusual destination"}}
	v := NewIntentVerifier(stub, time.Minute)

	action := &plan.Action{ID: "a1", Module: "net", Action: "http_post"}
	d, err := v.Verify(context.Background(), action, "read config", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected warn verdict to not block dispatch")
	}
	if d.Warning == nil || d.Warning.Reason != "unusual destination" {
		t.Errorf("expected warn verdict to surface as Decision.Warning, got %+v", d.Warning)
	}
}

func TestIntentVerifier_CachesBySignature(t *testing.T) {
	stub := &stubCompleter{replies: []string{"APPROVE"}}
	v := NewIntentVerifier(stub, time.Minute)

	action := &plan.Action{ID: "a1", Module: "fs", Action: "read_file", Params: map[string]interface{}{"path": "/etc/hosts"}}

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), action, "read config", true); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}

	if stub.calls != 1 {
		t.Errorf("expected completer to be called once (cached after), got %d calls", stub.calls)
	}
}

func TestIntentVerifier_DifferentParamsMiss(t *testing.T) {
	stub := &stubCompleter{replies: []string{"APPROVE", "APPROVE"}}
	v := NewIntentVerifier(stub, time.Minute)

	a1 := &plan.Action{ID: "a1", Module: "fs", Action: "read_file", Params: map[string]interface{}{"path": "/a"}}
	a2 := &plan.Action{ID: "a2", Module: "fs", Action: "read_file", Params: map[string]interface{}{"path": "/b"}}

	if _, err := v.Verify(context.Background(), a1, "x", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := v.Verify(context.Background(), a2, "x", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stub.calls != 2 {
		t.Errorf("expected 2 completer calls for distinct params, got %d", stub.calls)
	}
}
