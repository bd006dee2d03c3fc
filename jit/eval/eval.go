// Package eval implements the portable Emitter fallback spec ยง9 asks
// for: "a trivial fallback is a tree-walking evaluator for
// portability". Instead of walking the AST on every Evaluate call, it
// lowers each node exactly once (when jit.Generate drives it) into a
// closure over its already-lowered children, so repeated evaluation is
// just invoking a small closure chain - no AST traversal at evaluation
// time; the only allocation then is the argument slice each function
// call builds. It is a "compile a tree of thunks
// once" evaluator: Go closures stand in for the instruction stream a
// native backend would emit.
package eval

import (
	"math"
	"unsafe"

	"github.com/skx/mathpresso-go/ast"
	"github.com/skx/mathpresso-go/jit"
	"github.com/skx/mathpresso-go/symtab"
)

// thunk is this backend's jit.Value: a function that computes the
// node's result given the caller's data pointer.
type thunk func(data unsafe.Pointer) float64

// Emitter is the portable, non-amd64-specific code generator. The zero
// value is ready to use.
type Emitter struct{}

// New returns a fresh Emitter.
func New() *Emitter {
	return &Emitter{}
}

func asThunk(v jit.Value) thunk {
	return v.(thunk)
}

func (e *Emitter) Immediate(v float64) jit.Value {
	return thunk(func(unsafe.Pointer) float64 { return v })
}

func (e *Emitter) LoadVar(offset int64) jit.Value {
	return thunk(func(data unsafe.Pointer) float64 {
		return *(*float64)(unsafe.Pointer(uintptr(data) + uintptr(offset)))
	})
}

func (e *Emitter) StoreVar(offset int64, v jit.Value) jit.Value {
	inner := asThunk(v)
	return thunk(func(data unsafe.Pointer) float64 {
		result := inner(data)
		*(*float64)(unsafe.Pointer(uintptr(data) + uintptr(offset))) = result
		return result
	})
}

func (e *Emitter) Negate(v jit.Value) jit.Value {
	inner := asThunk(v)
	return thunk(func(data unsafe.Pointer) float64 { return -inner(data) })
}

func (e *Emitter) Not(v jit.Value) jit.Value {
	inner := asThunk(v)
	return thunk(func(data unsafe.Pointer) float64 { return boolToFloat(inner(data) == 0) })
}

func (e *Emitter) Add(l, r jit.Value) jit.Value { return binop(l, r, func(a, b float64) float64 { return a + b }) }
func (e *Emitter) Sub(l, r jit.Value) jit.Value { return binop(l, r, func(a, b float64) float64 { return a - b }) }
func (e *Emitter) Mul(l, r jit.Value) jit.Value { return binop(l, r, func(a, b float64) float64 { return a * b }) }
func (e *Emitter) Div(l, r jit.Value) jit.Value { return binop(l, r, func(a, b float64) float64 { return a / b }) }
func (e *Emitter) Mod(l, r jit.Value) jit.Value { return binop(l, r, math.Mod) }
func (e *Emitter) Pow(l, r jit.Value) jit.Value { return binop(l, r, math.Pow) }

func (e *Emitter) Compare(op ast.BinaryOp, l, r jit.Value) jit.Value {
	var cmp func(a, b float64) bool
	switch op {
	case ast.Eq:
		cmp = func(a, b float64) bool { return a == b }
	case ast.Ne:
		cmp = func(a, b float64) bool { return a != b }
	case ast.Lt:
		cmp = func(a, b float64) bool { return a < b }
	case ast.Le:
		cmp = func(a, b float64) bool { return a <= b }
	case ast.Gt:
		cmp = func(a, b float64) bool { return a > b }
	case ast.Ge:
		cmp = func(a, b float64) bool { return a >= b }
	default:
		cmp = func(float64, float64) bool { return false }
	}
	return binop(l, r, func(a, b float64) float64 { return boolToFloat(cmp(a, b)) })
}

func (e *Emitter) LogicalAnd(l, r jit.Value) jit.Value {
	return binop(l, r, func(a, b float64) float64 { return boolToFloat(a != 0 && b != 0) })
}

func (e *Emitter) LogicalOr(l, r jit.Value) jit.Value {
	return binop(l, r, func(a, b float64) float64 { return boolToFloat(a != 0 || b != 0) })
}

// InlineCall never special-cases anything: the plain Go closure for any
// function binding is already as fast as this backend gets, so builtins
// go through the generic Call path below.
func (e *Emitter) InlineCall(name string, args []jit.Value) (jit.Value, bool) {
	return nil, false
}

func (e *Emitter) Call(sym *symtab.Symbol, args []jit.Value) (jit.Value, error) {
	thunks := make([]thunk, len(args))
	for i, a := range args {
		thunks[i] = asThunk(a)
	}
	fn := sym.Fn
	return thunk(func(data unsafe.Pointer) float64 {
		vals := make([]float64, len(thunks))
		for i, t := range thunks {
			vals[i] = t(data)
		}
		return fn(vals)
	}), nil
}

func (e *Emitter) Sequence(values []jit.Value) jit.Value {
	if len(values) == 0 {
		return thunk(func(unsafe.Pointer) float64 { return math.NaN() })
	}
	thunks := make([]thunk, len(values))
	for i, v := range values {
		thunks[i] = asThunk(v)
	}
	return thunk(func(data unsafe.Pointer) float64 {
		var result float64
		for _, t := range thunks {
			result = t(data)
		}
		return result
	})
}

func (e *Emitter) Finalize(result jit.Value) (*jit.CompiledFunc, error) {
	root := asThunk(result)
	return jit.NewCompiledFunc(func(data unsafe.Pointer) float64 { return root(data) }, nil), nil
}

func binop(l, r jit.Value, fn func(a, b float64) float64) jit.Value {
	left, right := asThunk(l), asThunk(r)
	return thunk(func(data unsafe.Pointer) float64 { return fn(left(data), right(data)) })
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
