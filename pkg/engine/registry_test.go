package engine

import (
	"reflect"
	"strings"
	"testing"
)

func step(id string, deps ...string) *FuncStep {
	return &FuncStep{StepID: id, StepName: "Step " + id, StepLevel: LevelAuto, Deps: deps}
}

func newTestRegistry(t *testing.T, steps ...Step) *Registry {
	t.Helper()

	r := NewRegistry()
	for _, s := range steps {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register(%s): %v", s.ID(), err)
		}
	}
	return r
}

func ids(steps []Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.ID())
	}
	return out
}

func TestResolveOrder(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		want  []string
	}{
		{
			name:  "empty",
			steps: nil,
			want:  []string{},
		},
		{
			name:  "independent steps keep registration order",
			steps: []Step{step("c"), step("a"), step("b")},
			want:  []string{"c", "a", "b"},
		},
		{
			name:  "chain registered backwards",
			steps: []Step{step("c", "b"), step("b", "a"), step("a")},
			want:  []string{"a", "b", "c"},
		},
		{
			name: "diamond",
			steps: []Step{
				step("1.0"),
				step("1.1", "1.0"),
				step("2.0", "1.0"),
				step("3.0", "1.1", "2.0"),
			},
			want: []string{"1.0", "1.1", "2.0", "3.0"},
		},
		{
			name: "ready steps follow registration order, not readiness order",
			steps: []Step{
				step("root"),
				step("late", "mid"),
				step("mid", "root"),
				step("free"),
			},
			want: []string{"root", "free", "mid", "late"},
		},
		{
			name:  "duplicate dependency entries count once",
			steps: []Step{step("a"), step("b", "a", "a")},
			want:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, tt.steps...)
			order, err := r.ResolveOrder()
			if err != nil {
				t.Fatalf("ResolveOrder: %v", err)
			}
			if got := ids(order); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("order = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveOrderIsStable(t *testing.T) {
	r := newTestRegistry(t, step("a"), step("b"), step("c", "a"), step("d", "b"), step("e", "c", "d"))

	first, err := r.ResolveOrder()
	if err != nil {
		t.Fatalf("ResolveOrder: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := r.ResolveOrder()
		if err != nil {
			t.Fatalf("ResolveOrder: %v", err)
		}
		if !reflect.DeepEqual(ids(first), ids(again)) {
			t.Fatalf("order changed between calls: %v vs %v", ids(first), ids(again))
		}
	}
}

func TestResolveOrderMissingDependency(t *testing.T) {
	r := newTestRegistry(t, step("a"), step("b", "ghost"))

	_, err := r.ResolveOrder()
	if !IsMissingDependency(err) {
		t.Fatalf("expected missing dependency error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error should name the missing step: %v", err)
	}
}

func TestResolveOrderCycle(t *testing.T) {
	tests := []struct {
		name      string
		steps     []Step
		remaining []string
	}{
		{
			name:      "two step cycle",
			steps:     []Step{step("ok"), step("a", "b"), step("b", "a")},
			remaining: []string{"a", "b"},
		},
		{
			name:      "self dependency",
			steps:     []Step{step("self", "self")},
			remaining: []string{"self"},
		},
		{
			name:      "downstream of a cycle is reported too",
			steps:     []Step{step("a", "c"), step("b", "a"), step("c", "b"), step("d", "c")},
			remaining: []string{"a", "b", "c", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, tt.steps...)
			_, err := r.ResolveOrder()
			if !IsCycle(err) {
				t.Fatalf("expected cycle error, got %v", err)
			}
			e := err.(*EngineError)
			if got := e.Details["steps"]; !reflect.DeepEqual(got, tt.remaining) {
				t.Fatalf("cycle steps = %v, want %v", got, tt.remaining)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t, step("a"))

	err := r.Register(step("a"))
	if !IsDuplicateStep(err) {
		t.Fatalf("expected duplicate step error, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("duplicate registration changed the registry: len=%d", r.Len())
	}
}

func TestRegisterRejectsInvalidSteps(t *testing.T) {
	tests := []struct {
		name string
		step Step
	}{
		{name: "empty id", step: &FuncStep{StepName: "x", StepLevel: LevelAuto}},
		{name: "empty name", step: &FuncStep{StepID: "x", StepLevel: LevelAuto}},
		{name: "bad level", step: &FuncStep{StepID: "x", StepName: "x", StepLevel: "robotic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegistry().Register(tt.step); !IsConfiguration(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestRegistryGet(t *testing.T) {
	r := newTestRegistry(t, step("a"))

	s, err := r.Get("a")
	if err != nil || s.ID() != "a" {
		t.Fatalf("Get(a) = %v, %v", s, err)
	}
	if _, err := r.Get("nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToDOT(t *testing.T) {
	r := newTestRegistry(t, step("1.0"), step("1.1", "1.0"))

	dot := r.ToDOT()
	for _, want := range []string{"digraph Steps {", `"1.0" -> "1.1";`, "lightgreen"} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}
