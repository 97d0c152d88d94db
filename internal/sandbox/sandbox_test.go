package sandbox

import "testing"

func TestMinimalEnvironmentDiscardsNothingButOverrides(t *testing.T) {
	got := MinimalEnvironment(map[string]string{"FOO": "bar"})
	if len(got) != 1 || got["FOO"] != "bar" {
		t.Fatalf("MinimalEnvironment = %v, want only FOO=bar", got)
	}
	if got := MinimalEnvironment(nil); len(got) != 0 {
		t.Fatalf("MinimalEnvironment(nil) = %v, want empty map", got)
	}
}

func TestAttemptBuildResolvesExpirationOnlyWhenTimeoutSet(t *testing.T) {
	a := NewAttempt(KindOSSandbox, ApprovalUnlessTrusted, nil)

	spec := a.Build("/bin/sh", []string{"-c", "echo hi"}, "/work", nil, 0, "test")
	if !spec.Expiration.IsZero() {
		t.Fatalf("expected zero expiration for zero timeout, got %v", spec.Expiration)
	}
	if spec.Permissions != KindOSSandbox {
		t.Fatalf("expected permissions %v, got %v", KindOSSandbox, spec.Permissions)
	}

	spec = a.Build("/bin/sh", nil, "/work", nil, 1, "test")
	if spec.Expiration.IsZero() {
		t.Fatalf("expected non-zero expiration for positive timeout")
	}
}

func TestNextAttemptEscalatesOnceThenStops(t *testing.T) {
	first := NewAttempt(KindOSSandbox, ApprovalOnFailure, nil)

	escalated, ok := NextAttempt(first, true)
	if !ok {
		t.Fatalf("expected escalation to be offered")
	}
	if escalated.Kind != KindDangerFullAccess {
		t.Fatalf("expected escalated kind %v, got %v", KindDangerFullAccess, escalated.Kind)
	}
	if escalated.Policy != ApprovalDangerFullAccess {
		t.Fatalf("expected escalated policy %v, got %v", ApprovalDangerFullAccess, escalated.Policy)
	}

	if _, ok := NextAttempt(escalated, true); ok {
		t.Fatalf("expected no further escalation past danger-full-access")
	}
}

func TestNextAttemptDeclinedWhenHandlerOptsOut(t *testing.T) {
	first := NewAttempt(KindOSSandbox, ApprovalOnFailure, nil)
	if _, ok := NextAttempt(first, false); ok {
		t.Fatalf("expected no escalation when escalateOnFailure is false")
	}
}
