// Package mathpresso is the public facade (spec ยง6.1): Context binds
// names to variables/constants/functions, Expression compiles source
// against a Context and evaluates the result, and OutputLog is the
// single diagnostic sink the compile pipeline writes to. It wires the
// lexer/parser/optimize/jit packages into the one entry point external
// callers use, so the internals of the compile pipeline stay free to
// change without disturbing callers.
package mathpresso

import (
	"fmt"
	"io"
	"math"
	"unsafe"

	"github.com/skx/mathpresso-go/ast"
	"github.com/skx/mathpresso-go/jit"
	"github.com/skx/mathpresso-go/jit/eval"
	"github.com/skx/mathpresso-go/lexer"
	"github.com/skx/mathpresso-go/mperr"
	"github.com/skx/mathpresso-go/optimize"
	"github.com/skx/mathpresso-go/parser"
	"github.com/skx/mathpresso-go/symtab"
	"github.com/skx/mathpresso-go/token"
)

// Error is the type every compile-pipeline failure is reported as (spec
// ยง6.4, ยง7). Re-exported so callers need not import mperr directly.
type Error = mperr.Error

// ErrorCode classifies an Error (spec ยง6.4).
type ErrorCode = mperr.ErrorCode

// Options is the compile-time bitset (spec ยง6.2). Unknown bits are
// ignored.
type Options uint32

const (
	None             Options = 0
	Verbose          Options = 1
	DebugAst         Options = 2
	DebugMachineCode Options = 4
)

// Has reports whether flag is set in o.
func (o Options) Has(flag Options) bool {
	return o&flag != 0
}

// LogKind identifies what an OutputLog entry describes (spec ยง6.1).
type LogKind int

const (
	LogError LogKind = iota
	LogWarning
	LogAstInitial
	LogAstFinal
	LogMachineCode
)

func (k LogKind) String() string {
	switch k {
	case LogError:
		return "Error"
	case LogWarning:
		return "Warning"
	case LogAstInitial:
		return "AstInitial"
	case LogAstFinal:
		return "AstFinal"
	case LogMachineCode:
		return "MachineCode"
	default:
		return "Unknown"
	}
}

// OutputLog is the capability the compiler writes diagnostics to (spec
// ยง6.1: "a single operation log(kind, line, column, message)").
type OutputLog interface {
	Log(kind LogKind, line, column int, message string)
}

// StdOutputLog adapts an io.Writer into an OutputLog, the one concrete
// implementation this package ships (spec ยง9's "no third-party logging
// library" choice - see DESIGN.md).
type StdOutputLog struct {
	w io.Writer
}

// NewStdOutputLog wraps w as an OutputLog.
func NewStdOutputLog(w io.Writer) *StdOutputLog {
	return &StdOutputLog{w: w}
}

// Log writes one formatted diagnostic line to the wrapped writer.
func (s *StdOutputLog) Log(kind LogKind, line, column int, message string) {
	if line == 0 && column == 0 {
		fmt.Fprintf(s.w, "[%s] %s\n", kind, message)
		return
	}
	fmt.Fprintf(s.w, "[%s] %d:%d: %s\n", kind, line, column, message)
}

// Context binds names visible to expressions (spec ยง6.1, ยง3). It wraps
// symtab.Context, which already does the interning/locking work.
type Context struct {
	ctx *symtab.Context
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{ctx: symtab.New()}
}

// AddBuiltins registers the constants and functions of spec ยง6.3.
func (c *Context) AddBuiltins() error {
	return c.ctx.AddBuiltins()
}

// AddVariable registers name as a writable binding at the given byte
// offset into a future data record.
func (c *Context) AddVariable(name string, offset int64) error {
	return c.ctx.AddVariable(name, offset)
}

// AddConstant registers name as a fixed value.
func (c *Context) AddConstant(name string, value float64) error {
	return c.ctx.AddConstant(name, value)
}

// AddFunction registers name as a function of the given fixed arity.
func (c *Context) AddFunction(name string, arity int, fn func(args []float64) float64) error {
	return c.ctx.AddFunction(name, arity, symtab.NativeFunc(fn))
}

// Close releases c. Context holds no external resources; Go's garbage
// collector reclaims its symbol table, so this exists only to round out
// the create/destroy pair spec ยง6.1 names.
func (c *Context) Close() error {
	return nil
}

// Expression is a single compiled (or not-yet-compiled) program (spec
// ยง6.1). The zero value is a valid, uncompiled Expression.
type Expression struct {
	compiled *jit.CompiledFunc
}

// NewExpression returns an empty, uncompiled Expression.
func NewExpression() *Expression {
	return &Expression{}
}

// IsCompiled reports whether a successful Compile has produced a
// callable.
func (e *Expression) IsCompiled() bool {
	return e.compiled != nil
}

// Evaluate runs the compiled expression against data (spec ยง6.5). If
// nothing has compiled successfully yet, it returns NaN without error,
// matching spec ยง7's "or returns NaN if none".
func (e *Expression) Evaluate(data unsafe.Pointer) float64 {
	if e.compiled == nil {
		return math.NaN()
	}
	return e.compiled.Evaluate(data)
}

// Close releases the executable page (if any) backing e.
func (e *Expression) Close() error {
	if e.compiled == nil {
		return nil
	}
	err := e.compiled.Close()
	e.compiled = nil
	return err
}

// Compile lexes, parses, resolves, optimizes and lowers src against ctx,
// replacing e's previously compiled callable only on success (spec ยง7:
// "There is no partial compilation"). log, if non-nil, receives every
// error, the parser's warnings when opts has Verbose, and the AST and
// machine-code dumps that DebugAst and DebugMachineCode select.
func (e *Expression) Compile(ctx *Context, src string, opts Options, log OutputLog) *Error {
	snapshot := ctx.ctx.Snapshot()
	arena := ast.NewArena(64)
	scope := symtab.NewScope(snapshot)

	p := parser.New(lexer.New([]byte(src)), arena, scope)
	if log != nil && opts.Has(Verbose) {
		p.SetWarnFunc(func(pos token.Pos, msg string) {
			log.Log(LogWarning, pos.Line, pos.Column, msg)
		})
	}

	root, errs := p.Parse()
	if len(errs) > 0 {
		if log != nil {
			for _, er := range errs {
				log.Log(LogError, er.Line, er.Column, er.Message)
			}
		}
		return errs[0]
	}

	if opts.Has(DebugAst) && log != nil {
		log.Log(LogAstInitial, 0, 0, dumpAST(arena, root))
	}

	root = optimize.Optimize(arena, root)

	if opts.Has(DebugAst) && log != nil {
		log.Log(LogAstFinal, 0, 0, dumpAST(arena, root))
	}

	fn, jerr := e.generate(arena, root, opts, log)
	if jerr != nil {
		if log != nil {
			log.Log(LogError, jerr.Line, jerr.Column, jerr.Message)
		}
		return jerr
	}

	old := e.compiled
	e.compiled = fn
	if old != nil {
		old.Close()
	}
	return nil
}

// generate tries the platform's native Emitter first, falling back to
// the portable jit/eval tree-walker (spec ยง9: "a trivial fallback is a
// tree-walking evaluator for portability") when there is no native
// backend for this platform, or native generation returns an error
// (for example, the executable page cannot be mapped). Calls to
// functions with no flat native encoding do not cause a fallback: the
// native backend handles them itself.
func (e *Expression) generate(arena *ast.Arena, root int, opts Options, log OutputLog) (*jit.CompiledFunc, *mperr.Error) {
	if em := nativeEmitter(); em != nil {
		fn, err := jit.Generate(arena, root, em)
		if err == nil {
			if opts.Has(DebugMachineCode) && log != nil {
				if dumper, ok := em.(interface{ MachineCode() []byte }); ok {
					log.Log(LogMachineCode, 0, 0, fmt.Sprintf("% x", dumper.MachineCode()))
				}
			}
			return fn, nil
		}
	}
	return jit.Generate(arena, root, eval.New())
}

// dumpAST renders root as a parenthesized S-expression (spec ยง6.1's
// AstInitial/AstFinal log kinds need some textual form; an S-expression
// is the simplest faithful rendering of the arena's tagged-union tree).
func dumpAST(a *ast.Arena, idx int) string {
	n := a.Node(idx)
	switch n.Kind {
	case ast.KindProgram:
		return dumpAST(a, n.Children[0])

	case ast.KindBlock:
		s := "(block"
		for _, c := range n.Children {
			s += " " + dumpAST(a, c)
		}
		return s + ")"

	case ast.KindImmediate:
		return fmt.Sprintf("%g", n.Value)

	case ast.KindVariable:
		return n.VarName

	case ast.KindUnary:
		return fmt.Sprintf("(%s %s)", unaryOpName(n.UnaryOp), dumpAST(a, n.Left))

	case ast.KindBinary:
		return fmt.Sprintf("(%s %s %s)", binaryOpName(n.BinaryOp), dumpAST(a, n.Left), dumpAST(a, n.Right))

	case ast.KindCall:
		s := "(" + n.FuncName
		for _, c := range n.Args {
			s += " " + dumpAST(a, c)
		}
		return s + ")"

	default:
		return "?"
	}
}

func unaryOpName(op ast.UnaryOp) string {
	switch op {
	case ast.Negate:
		return "neg"
	case ast.Not:
		return "not"
	default:
		return "?"
	}
}

func binaryOpName(op ast.BinaryOp) string {
	switch op {
	case ast.Add:
		return "+"
	case ast.Sub:
		return "-"
	case ast.Mul:
		return "*"
	case ast.Div:
		return "/"
	case ast.Mod:
		return "%"
	case ast.Pow:
		return "^"
	case ast.Assign:
		return "="
	case ast.Eq:
		return "=="
	case ast.Ne:
		return "!="
	case ast.Lt:
		return "<"
	case ast.Le:
		return "<="
	case ast.Gt:
		return ">"
	case ast.Ge:
		return ">="
	case ast.LogAnd:
		return "&&"
	case ast.LogOr:
		return "||"
	default:
		return "?"
	}
}
