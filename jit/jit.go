// Package jit defines the abstract code-generation capability spec ยง4.5
// calls the Emitter: a narrow set of primitives (scalar arithmetic,
// comparisons, calls, loads/stores against a data pointer, and
// finalization into a callable) that any native-code assembler - or a
// portable non-native fallback - can implement. Generate is the single
// shared AST walker that drives any Emitter implementation in the
// left-to-right, depth-first, parent-after-children order spec ยง5
// requires; jit/eval and jit/amd64 supply the two Emitters this module
// ships.
package jit

import (
	"unsafe"

	"github.com/skx/mathpresso-go/ast"
	"github.com/skx/mathpresso-go/mperr"
	"github.com/skx/mathpresso-go/symtab"
)

// Value is an opaque handle an Emitter hands back from one primitive and
// receives as an argument to another. Its concrete type is entirely up
// to the backend: jit/eval uses a deferred closure, jit/amd64 pairs an
// rbp-relative scratch slot with the matching jit/eval closure.
type Value interface{}

// Emitter is the capability Generate lowers an optimized AST against.
// Every method corresponds to one bullet of spec ยง4.5's Code Generator
// contract.
type Emitter interface {
	Immediate(v float64) Value
	LoadVar(offset int64) Value
	StoreVar(offset int64, v Value) Value

	Negate(v Value) Value
	Not(v Value) Value

	Add(l, r Value) Value
	Sub(l, r Value) Value
	Mul(l, r Value) Value
	Div(l, r Value) Value
	Mod(l, r Value) Value
	Pow(l, r Value) Value

	Compare(op ast.BinaryOp, l, r Value) Value
	LogicalAnd(l, r Value) Value
	LogicalOr(l, r Value) Value

	// InlineCall gives the backend a chance to lower a builtin by name
	// without going through the generic native-pointer call path (ok is
	// false if the backend has no special-cased lowering for name).
	InlineCall(name string, args []Value) (Value, bool)

	// Call lowers a function binding the backend could not inline. An
	// error returned here is surfaced as JITFailure.
	Call(sym *symtab.Symbol, args []Value) (Value, error)

	// Sequence threads a Block's statements into one Value representing
	// "run every value's side effects in order, then yield the last
	// one" - required because several Emitters (jit/eval in
	// particular) build Values lazily, so simply discarding all but the
	// last child's Value would silently drop earlier assignments.
	Sequence(values []Value) Value

	// Finalize turns the fully-lowered result into a callable.
	Finalize(result Value) (*CompiledFunc, error)
}

// CompiledFunc is the callable produced by a compile. It is immutable
// and safe to invoke concurrently from many goroutines against disjoint
// data pointers (spec ยง5).
type CompiledFunc struct {
	invoke  func(data unsafe.Pointer) float64
	release func()
}

// NewCompiledFunc is used by Emitter implementations to build the
// handle Finalize returns.
func NewCompiledFunc(invoke func(data unsafe.Pointer) float64, release func()) *CompiledFunc {
	return &CompiledFunc{invoke: invoke, release: release}
}

// Evaluate runs the compiled expression against data, per the ABI in
// spec ยง6.5.
func (f *CompiledFunc) Evaluate(data unsafe.Pointer) float64 {
	return f.invoke(data)
}

// Close releases resources (e.g. an executable page) backing f. It is
// safe to call more than once.
func (f *CompiledFunc) Close() error {
	if f.release != nil {
		f.release()
		f.release = nil
	}
	return nil
}

// Generate lowers the Program rooted at root into a CompiledFunc using
// em. a must already be fully resolved and optimized.
func Generate(a *ast.Arena, root int, em Emitter) (*CompiledFunc, *mperr.Error) {
	g := &generator{a: a, em: em}
	block := a.Node(root).Children[0]
	result, err := g.lowerBlock(block)
	if err != nil {
		return nil, err
	}
	fn, ferr := em.Finalize(result)
	if ferr != nil {
		return nil, mperr.NewError(mperr.JITFailure, 0, 0, "%s", ferr.Error())
	}
	return fn, nil
}

type generator struct {
	a  *ast.Arena
	em Emitter
}

func (g *generator) lowerBlock(idx int) (Value, *mperr.Error) {
	children := g.a.Node(idx).Children
	values := make([]Value, 0, len(children))
	for _, c := range children {
		v, err := g.lower(c)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return g.em.Sequence(values), nil
}

func (g *generator) lower(idx int) (Value, *mperr.Error) {
	n := g.a.Node(idx)
	switch n.Kind {
	case ast.KindImmediate:
		return g.em.Immediate(n.Value), nil

	case ast.KindVariable:
		sym, _ := n.Symbol.(*symtab.Symbol)
		if sym == nil {
			return nil, mperr.NewError(mperr.JITFailure, 0, 0, "internal error: unresolved variable %q reached codegen", n.VarName)
		}
		if sym.Kind == symtab.KindVariable {
			return g.em.LoadVar(sym.Offset), nil
		}
		return g.em.Immediate(sym.Value), nil

	case ast.KindUnary:
		child, err := g.lower(n.Left)
		if err != nil {
			return nil, err
		}
		switch n.UnaryOp {
		case ast.Negate:
			return g.em.Negate(child), nil
		case ast.Not:
			return g.em.Not(child), nil
		}
		return child, nil

	case ast.KindBinary:
		return g.lowerBinary(n)

	case ast.KindCall:
		return g.lowerCall(n)

	case ast.KindBlock:
		return g.lowerBlock(idx)

	default:
		return nil, mperr.NewError(mperr.JITFailure, 0, 0, "internal error: unexpected node kind %d reached codegen", n.Kind)
	}
}

func (g *generator) lowerBinary(n *ast.Node) (Value, *mperr.Error) {
	if n.BinaryOp == ast.Assign {
		sym, _ := g.a.Node(n.Left).Symbol.(*symtab.Symbol)
		if sym == nil {
			return nil, mperr.NewError(mperr.JITFailure, 0, 0, "internal error: assignment to unresolved variable reached codegen")
		}
		rhs, err := g.lower(n.Right)
		if err != nil {
			return nil, err
		}
		return g.em.StoreVar(sym.Offset, rhs), nil
	}

	left, err := g.lower(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := g.lower(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.BinaryOp {
	case ast.Add:
		return g.em.Add(left, right), nil
	case ast.Sub:
		return g.em.Sub(left, right), nil
	case ast.Mul:
		return g.em.Mul(left, right), nil
	case ast.Div:
		return g.em.Div(left, right), nil
	case ast.Mod:
		return g.em.Mod(left, right), nil
	case ast.Pow:
		return g.em.Pow(left, right), nil
	case ast.Eq, ast.Ne, ast.Lt, ast.Le, ast.Gt, ast.Ge:
		return g.em.Compare(n.BinaryOp, left, right), nil
	case ast.LogAnd:
		return g.em.LogicalAnd(left, right), nil
	case ast.LogOr:
		return g.em.LogicalOr(left, right), nil
	default:
		return nil, mperr.NewError(mperr.JITFailure, 0, 0, "internal error: unexpected binary op %d reached codegen", n.BinaryOp)
	}
}

func (g *generator) lowerCall(n *ast.Node) (Value, *mperr.Error) {
	args := make([]Value, 0, len(n.Args))
	for _, c := range n.Args {
		v, err := g.lower(c)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	if v, ok := g.em.InlineCall(n.FuncName, args); ok {
		return v, nil
	}

	sym, _ := n.Func.(*symtab.Symbol)
	if sym == nil {
		return nil, mperr.NewError(mperr.JITFailure, 0, 0, "internal error: unresolved call %q reached codegen", n.FuncName)
	}
	v, err := g.em.Call(sym, args)
	if err != nil {
		return nil, mperr.NewError(mperr.JITFailure, 0, 0, "%q: %s", n.FuncName, err.Error())
	}
	return v, nil
}
