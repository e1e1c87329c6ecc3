package template

import (
	"reflect"
	"testing"
)

func baseContext() *Context {
	return &Context{
		Results: map[string]interface{}{
			"a1": map[string]interface{}{
				"path":  "/tmp/foo",
				"count": float64(3),
			},
		},
		Statuses: map[string]string{"a1": "succeeded"},
		Plan:     map[string]interface{}{"plan_id": "p1"},
		Strict:   true,
	}
}

func TestResolve_TypePreservationWholeReference(t *testing.T) {
	ctx := baseContext()
	out, err := Resolve("${actions.a1.result.count}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != float64(3) {
		t.Errorf("expected numeric type preserved, got %T(%v)", out, out)
	}
}

func TestResolve_InlineSubstitution(t *testing.T) {
	ctx := baseContext()
	out, err := Resolve("file is ${actions.a1.result.path}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "file is /tmp/foo" {
		t.Errorf("unexpected result: %v", out)
	}
}

func TestResolve_StatusReference(t *testing.T) {
	ctx := baseContext()
	out, err := Resolve("${actions.a1.status}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "succeeded" {
		t.Errorf("expected succeeded, got %v", out)
	}
}

func TestResolve_PlanField(t *testing.T) {
	ctx := baseContext()
	out, err := Resolve("${plan.plan_id}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "p1" {
		t.Errorf("expected p1, got %v", out)
	}
}

func TestResolve_EnvReference(t *testing.T) {
	ctx := baseContext()
	ctx.Getenv = func(name string) string {
		if name == "HOME" {
			return "/root"
		}
		return ""
	}
	out, err := Resolve("${env.HOME}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "/root" {
		t.Errorf("expected /root, got %v", out)
	}
}

func TestResolve_UnresolvedStrictFails(t *testing.T) {
	ctx := baseContext()
	_, err := Resolve("${actions.missing.result}", ctx)
	if err == nil {
		t.Fatal("expected error for unresolved reference in strict mode")
	}
}

func TestResolve_UnresolvedNonStrictSubstitutesMarker(t *testing.T) {
	ctx := baseContext()
	ctx.Strict = false
	out, err := Resolve("${actions.missing.result}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "<unresolved:${actions.missing.result}>" {
		t.Errorf("unexpected marker output: %v", out)
	}
}

func TestResolve_IdempotentWithoutMarkers(t *testing.T) {
	ctx := baseContext()
	tree := map[string]interface{}{
		"plain":  "no markers here",
		"number": float64(42),
		"nested": []interface{}{"a", "b"},
	}

	first, err := Resolve(tree, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Resolve(first, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected idempotent resolution, got %v then %v", first, second)
	}
}

func TestResolve_MapAndSliceRecursion(t *testing.T) {
	ctx := baseContext()
	tree := map[string]interface{}{
		"items": []interface{}{
			"${actions.a1.result.path}",
			map[string]interface{}{"count": "${actions.a1.result.count}"},
		},
	}

	out, err := Resolve(tree, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := out.(map[string]interface{})["items"].([]interface{})
	if items[0] != "/tmp/foo" {
		t.Errorf("expected resolved path, got %v", items[0])
	}
	nested := items[1].(map[string]interface{})
	if nested["count"] != float64(3) {
		t.Errorf("expected resolved count as number, got %T(%v)", nested["count"], nested["count"])
	}
}
