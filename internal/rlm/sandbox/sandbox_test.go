package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestEvalArithmeticAssignment(t *testing.T) {
	in := New()
	r := in.Eval(context.Background(), `x := 2 + 3
y := x * 4`, nil, time.Second)
	if r.Exception != "" {
		t.Fatalf("unexpected exception: %s", r.Exception)
	}
	if r.Variables["x"] != int64(5) {
		t.Fatalf("x = %v, want 5", r.Variables["x"])
	}
	if r.Variables["y"] != int64(20) {
		t.Fatalf("y = %v, want 20", r.Variables["y"])
	}
}

func TestEvalStringConcatAndPrint(t *testing.T) {
	in := New()
	r := in.Eval(context.Background(), `greeting := "hello " + "world"
print(greeting)`, nil, time.Second)
	if r.Exception != "" {
		t.Fatalf("unexpected exception: %s", r.Exception)
	}
	if r.Stdout != "hello world\n" {
		t.Fatalf("stdout = %q", r.Stdout)
	}
}

func TestEvalReadsInputVariables(t *testing.T) {
	in := New()
	vars := map[string]any{"selected_ids": []string{"a1", "a2"}}
	r := in.Eval(context.Background(), `first := selected_ids[0]
count := len(selected_ids)`, vars, time.Second)
	if r.Exception != "" {
		t.Fatalf("unexpected exception: %s", r.Exception)
	}
	if r.Variables["first"] != "a1" {
		t.Fatalf("first = %v", r.Variables["first"])
	}
	if r.Variables["count"] != int64(2) {
		t.Fatalf("count = %v", r.Variables["count"])
	}
}

func TestEvalUndefinedVariableIsException(t *testing.T) {
	in := New()
	r := in.Eval(context.Background(), `x := missing + 1`, nil, time.Second)
	if r.Exception == "" {
		t.Fatal("expected exception for undefined variable")
	}
}

func TestEvalTimeout(t *testing.T) {
	in := New()
	r := in.Eval(context.Background(), `x := 1`, nil, 0)
	if r.DurationMs < 0 {
		t.Fatalf("duration = %d", r.DurationMs)
	}
}

func TestEvalDivisionByZero(t *testing.T) {
	in := New()
	r := in.Eval(context.Background(), `x := 1 / 0`, nil, time.Second)
	if r.Exception == "" {
		t.Fatal("expected exception for division by zero")
	}
}
