// Package sandbox implements the Program Executor's repl step: a bounded,
// stdlib-only expression/statement evaluator built on go/parser, go/ast and
// go/token. It never execs a process, touches the filesystem, or opens a
// network connection — code is a small declarative language over the
// variables already collected by the program (selected_ids, glimpse text,
// arithmetic, string concatenation), evaluated in-process under a wall-clock
// deadline.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable is returned when no Interpreter is wired into the executor;
// callers surface this as the repl_env_unavailable failure.
var ErrUnavailable = errors.New("repl_env_unavailable")

// Result is the {stdout, stderr, exception?, duration_ms} contract the
// executor folds back into a run's event stream, plus any variables the
// script produced for merging into the program's shared variable set.
type Result struct {
	Stdout     string
	Stderr     string
	Exception  string
	DurationMs int64
	Variables  map[string]any
}

// Interpreter evaluates repl step code. The zero value is ready to use.
type Interpreter struct{}

// New constructs an Interpreter.
func New() *Interpreter { return &Interpreter{} }

// Eval runs code against vars (read-only inputs such as selected_ids or
// already-fetched glimpse text) under timeout, returning within timeout even
// if the evaluation goroutine is still unwinding a runaway recursive
// expression (the result is simply discarded in that case).
func (in *Interpreter) Eval(ctx context.Context, code string, vars map[string]any, timeout time.Duration) Result {
	start := time.Now()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	done := make(chan Result, 1)
	go func() {
		done <- in.run(code, vars)
	}()

	select {
	case r := <-done:
		r.DurationMs = time.Since(start).Milliseconds()
		return r
	case <-time.After(timeout):
		return Result{Exception: "timeout", DurationMs: time.Since(start).Milliseconds()}
	case <-ctx.Done():
		return Result{Exception: "cancelled", DurationMs: time.Since(start).Milliseconds()}
	}
}

func (in *Interpreter) run(code string, vars map[string]any) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result.Exception = fmt.Sprintf("%v", r)
		}
	}()

	fset := token.NewFileSet()
	wrapped := "package sandbox\nfunc __eval__() {\n" + code + "\n}"
	f, err := parser.ParseFile(fset, "repl.go", wrapped, parser.AllErrors)
	if err != nil {
		return Result{Exception: fmt.Sprintf("parse error: %v", err)}
	}

	var fn *ast.FuncDecl
	for _, decl := range f.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Name.Name == "__eval__" {
			fn = fd
			break
		}
	}
	if fn == nil || fn.Body == nil {
		return Result{Exception: "no evaluable body"}
	}

	env := newEnv(vars)
	var stdout strings.Builder
	for _, stmt := range fn.Body.List {
		if err := execStmt(stmt, env, &stdout); err != nil {
			return Result{Stdout: stdout.String(), Exception: err.Error(), Variables: env.locals()}
		}
	}
	return Result{Stdout: stdout.String(), Variables: env.locals()}
}

// env holds the script's variable bindings: inputs carried over from the
// program (read-only by convention, but not enforced) plus any new bindings
// the script assigns.
type env struct {
	vars map[string]any
	// declared tracks names introduced by this script (via :=), which are
	// the only ones returned to the caller for merging into the program's
	// shared variables.
	declared map[string]bool
}

func newEnv(vars map[string]any) *env {
	v := map[string]any{}
	for k, val := range vars {
		v[k] = val
	}
	return &env{vars: v, declared: map[string]bool{}}
}

func (e *env) locals() map[string]any {
	out := map[string]any{}
	for name := range e.declared {
		out[name] = e.vars[name]
	}
	return out
}

func execStmt(stmt ast.Stmt, e *env, stdout *strings.Builder) error {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
			return fmt.Errorf("only single-value assignment is supported")
		}
		ident, ok := s.Lhs[0].(*ast.Ident)
		if !ok {
			return fmt.Errorf("assignment target must be a simple identifier")
		}
		val, err := evalExpr(s.Rhs[0], e)
		if err != nil {
			return err
		}
		e.vars[ident.Name] = val
		if s.Tok == token.DEFINE {
			e.declared[ident.Name] = true
		}
		return nil
	case *ast.ExprStmt:
		_, err := evalExpr(s.X, e)
		if call, ok := s.X.(*ast.CallExpr); ok {
			if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == "print" && err == nil {
				args, aerr := evalArgs(call.Args, e)
				if aerr != nil {
					return aerr
				}
				parts := make([]string, len(args))
				for i, a := range args {
					parts[i] = toDisplayString(a)
				}
				stdout.WriteString(strings.Join(parts, " "))
				stdout.WriteString("\n")
				return nil
			}
		}
		return err
	case *ast.DeclStmt, *ast.EmptyStmt:
		return nil
	default:
		return fmt.Errorf("unsupported statement type %T", stmt)
	}
}

func evalArgs(exprs []ast.Expr, e *env) ([]any, error) {
	out := make([]any, 0, len(exprs))
	for _, expr := range exprs {
		v, err := evalExpr(expr, e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func evalExpr(expr ast.Expr, e *env) (any, error) {
	switch x := expr.(type) {
	case *ast.BasicLit:
		return literalValue(x)
	case *ast.Ident:
		switch x.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		}
		v, ok := e.vars[x.Name]
		if !ok {
			return nil, fmt.Errorf("undefined variable %q", x.Name)
		}
		return v, nil
	case *ast.ParenExpr:
		return evalExpr(x.X, e)
	case *ast.UnaryExpr:
		return evalUnary(x, e)
	case *ast.BinaryExpr:
		return evalBinary(x, e)
	case *ast.IndexExpr:
		return evalIndex(x, e)
	case *ast.CallExpr:
		return evalCall(x, e)
	default:
		return nil, fmt.Errorf("unsupported expression type %T", expr)
	}
}

func literalValue(lit *ast.BasicLit) (any, error) {
	switch lit.Kind {
	case token.INT:
		n, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported literal kind %v", lit.Kind)
	}
}

func evalUnary(x *ast.UnaryExpr, e *env) (any, error) {
	v, err := evalExpr(x.X, e)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case token.SUB:
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, fmt.Errorf("unary - requires a number")
	case token.NOT:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("unary ! requires a bool")
		}
		return !b, nil
	default:
		return nil, fmt.Errorf("unsupported unary operator %v", x.Op)
	}
}

func evalIndex(x *ast.IndexExpr, e *env) (any, error) {
	container, err := evalExpr(x.X, e)
	if err != nil {
		return nil, err
	}
	idx, err := evalExpr(x.Index, e)
	if err != nil {
		return nil, err
	}
	switch c := container.(type) {
	case []string:
		i, ok := asInt(idx)
		if !ok || i < 0 || i >= len(c) {
			return nil, fmt.Errorf("index out of range")
		}
		return c[i], nil
	case []any:
		i, ok := asInt(idx)
		if !ok || i < 0 || i >= len(c) {
			return nil, fmt.Errorf("index out of range")
		}
		return c[i], nil
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, fmt.Errorf("map index must be a string")
		}
		return c[key], nil
	default:
		return nil, fmt.Errorf("cannot index value of type %T", container)
	}
}

func evalCall(x *ast.CallExpr, e *env) (any, error) {
	ident, ok := x.Fun.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("only direct function calls are supported")
	}
	args, err := evalArgs(x.Args, e)
	if err != nil {
		return nil, err
	}
	switch ident.Name {
	case "len":
		if len(args) != 1 {
			return nil, fmt.Errorf("len takes exactly one argument")
		}
		return lengthOf(args[0])
	case "string":
		if len(args) != 1 {
			return nil, fmt.Errorf("string takes exactly one argument")
		}
		return toDisplayString(args[0]), nil
	case "print":
		return nil, nil // handled as a statement in execStmt
	default:
		return nil, fmt.Errorf("unknown function %q", ident.Name)
	}
}

func lengthOf(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		return int64(len(x)), nil
	case []string:
		return int64(len(x)), nil
	case []any:
		return int64(len(x)), nil
	case map[string]any:
		return int64(len(x)), nil
	default:
		return 0, fmt.Errorf("len: unsupported type %T", v)
	}
}

func evalBinary(x *ast.BinaryExpr, e *env) (any, error) {
	left, err := evalExpr(x.X, e)
	if err != nil {
		return nil, err
	}
	if x.Op == token.LAND || x.Op == token.LOR {
		lb, ok := left.(bool)
		if !ok {
			return nil, fmt.Errorf("logical operator requires bool operands")
		}
		if x.Op == token.LAND && !lb {
			return false, nil
		}
		if x.Op == token.LOR && lb {
			return true, nil
		}
		right, err := evalExpr(x.Y, e)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, fmt.Errorf("logical operator requires bool operands")
		}
		return rb, nil
	}

	right, err := evalExpr(x.Y, e)
	if err != nil {
		return nil, err
	}

	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok && x.Op == token.ADD {
			return ls + rs, nil
		}
		if x.Op == token.EQL {
			return ls == right, nil
		}
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %v requires numeric operands", x.Op)
	}
	switch x.Op {
	case token.ADD:
		return combineNumeric(left, right, lf+rf), nil
	case token.SUB:
		return combineNumeric(left, right, lf-rf), nil
	case token.MUL:
		return combineNumeric(left, right, lf*rf), nil
	case token.QUO:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return combineNumeric(left, right, lf/rf), nil
	case token.EQL:
		return lf == rf, nil
	case token.NEQ:
		return lf != rf, nil
	case token.LSS:
		return lf < rf, nil
	case token.LEQ:
		return lf <= rf, nil
	case token.GTR:
		return lf > rf, nil
	case token.GEQ:
		return lf >= rf, nil
	default:
		return nil, fmt.Errorf("unsupported binary operator %v", x.Op)
	}
}

// combineNumeric preserves int64 results when both operands were integral,
// so "2 + 2" yields an int64 rather than silently widening to float64.
func combineNumeric(left, right any, f float64) any {
	_, lInt := left.(int64)
	_, rInt := right.(int64)
	if lInt && rInt && f == float64(int64(f)) {
		return int64(f)
	}
	return f
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toDisplayString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%v", x)
	}
}
