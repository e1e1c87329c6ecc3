package plan

import "testing"

func TestBuildGraph_Empty(t *testing.T) {
	graph, err := BuildGraph(nil)
	if err != nil {
		t.Fatalf("expected no error for empty actions, got: %v", err)
	}
	if len(graph.Waves) != 0 {
		t.Errorf("expected 0 waves, got %d", len(graph.Waves))
	}
}

func TestBuildGraph_LinearDependencies(t *testing.T) {
	actions := []Action{
		{ID: "a1", Module: "fs", Action: "write"},
		{ID: "a2", Module: "fs", Action: "read", DependsOn: []string{"a1"}},
		{ID: "a3", Module: "fs", Action: "delete", DependsOn: []string{"a2"}},
	}

	graph, err := BuildGraph(actions)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(graph.Waves) != 3 {
		t.Fatalf("expected 3 waves, got %d", len(graph.Waves))
	}
	if graph.WaveOf("a1") != 0 || graph.WaveOf("a2") != 1 || graph.WaveOf("a3") != 2 {
		t.Errorf("unexpected wave assignment: a1=%d a2=%d a3=%d", graph.WaveOf("a1"), graph.WaveOf("a2"), graph.WaveOf("a3"))
	}
}

func TestBuildGraph_ParallelWave(t *testing.T) {
	actions := []Action{
		{ID: "root", Module: "fs", Action: "write"},
		{ID: "a", Module: "fs", Action: "read", DependsOn: []string{"root"}},
		{ID: "b", Module: "fs", Action: "read", DependsOn: []string{"root"}},
	}

	graph, err := BuildGraph(actions)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(graph.Waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(graph.Waves))
	}
	if len(graph.Waves[1]) != 2 {
		t.Errorf("expected wave 1 to contain both a and b, got %v", graph.Waves[1])
	}
}

func TestBuildGraph_CycleDetected(t *testing.T) {
	actions := []Action{
		{ID: "a", Module: "fs", Action: "x", DependsOn: []string{"b"}},
		{ID: "b", Module: "fs", Action: "y", DependsOn: []string{"a"}},
	}

	_, err := BuildGraph(actions)
	if err == nil {
		t.Fatal("expected cycle to be detected")
	}
	if CodeOf(err) != CodeValidationError {
		t.Errorf("expected validation_error code, got %s", CodeOf(err))
	}
}

func TestBuildGraph_DanglingDependency(t *testing.T) {
	actions := []Action{
		{ID: "a", Module: "fs", Action: "x", DependsOn: []string{"missing"}},
	}

	_, err := BuildGraph(actions)
	if err == nil {
		t.Fatal("expected dangling dependency to be rejected")
	}
}

func TestBuildGraph_DuplicateID(t *testing.T) {
	actions := []Action{
		{ID: "a", Module: "fs", Action: "x"},
		{ID: "a", Module: "fs", Action: "y"},
	}

	_, err := BuildGraph(actions)
	if err == nil {
		t.Fatal("expected duplicate action id to be rejected")
	}
}

func TestGraph_ToDOT_ContainsWaves(t *testing.T) {
	actions := []Action{
		{ID: "a1", Module: "fs", Action: "write"},
		{ID: "a2", Module: "fs", Action: "read", DependsOn: []string{"a1"}},
	}
	graph, err := BuildGraph(actions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dot := graph.ToDOT("plan-1")
	if len(dot) == 0 {
		t.Fatal("expected non-empty DOT output")
	}
}
