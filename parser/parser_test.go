package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skx/mathpresso-go/ast"
	"github.com/skx/mathpresso-go/lexer"
	"github.com/skx/mathpresso-go/mperr"
	"github.com/skx/mathpresso-go/symtab"
)

func newParser(t *testing.T, src string) (*Parser, *ast.Arena, *symtab.Context) {
	t.Helper()
	ctx := symtab.New()
	require.NoError(t, ctx.AddVariable("x", 0))
	require.NoError(t, ctx.AddVariable("y", 8))
	require.NoError(t, ctx.AddBuiltins())
	arena := ast.NewArena(32)
	scope := symtab.NewScope(ctx)
	p := New(lexer.New([]byte(src)), arena, scope)
	return p, arena, ctx
}

func parseExpr(t *testing.T, src string) (int, *ast.Arena, []*mperr.Error) {
	t.Helper()
	p, arena, _ := newParser(t, src)
	program, errs := p.Parse()
	return program, arena, errs
}

// exprOf unwraps Program -> Block -> single stmt, returning the stmt index.
func exprOf(arena *ast.Arena, program int) int {
	block := arena.Node(program).Children[0]
	return arena.Node(block).Children[0]
}

func TestEmptySourceIsNoExpression(t *testing.T) {
	_, _, errs := parseExpr(t, "")
	require.Len(t, errs, 1)
	assert.Equal(t, mperr.NoExpression, errs[0].Code)
}

func TestWhitespaceOnlyIsNoExpression(t *testing.T) {
	_, _, errs := parseExpr(t, "   \n\t  // comment\n")
	require.Len(t, errs, 1)
	assert.Equal(t, mperr.NoExpression, errs[0].Code)
}

func TestSimpleArithmeticPrecedence(t *testing.T) {
	program, arena, errs := parseExpr(t, "1 + 2 * 3")
	require.Empty(t, errs)
	top := exprOf(arena, program)
	n := arena.Node(top)
	require.Equal(t, ast.KindBinary, n.Kind)
	assert.Equal(t, ast.Add, n.BinaryOp)
	right := arena.Node(n.Right)
	assert.Equal(t, ast.Mul, right.BinaryOp)
}

func TestUnaryMinusBindsLooserThanPower(t *testing.T) {
	// -a^b == -(a^b)
	program, arena, errs := parseExpr(t, "-x^2")
	require.Empty(t, errs)
	top := exprOf(arena, program)
	n := arena.Node(top)
	require.Equal(t, ast.KindUnary, n.Kind)
	assert.Equal(t, ast.Negate, n.UnaryOp)
	inner := arena.Node(n.Left)
	require.Equal(t, ast.KindBinary, inner.Kind)
	assert.Equal(t, ast.Pow, inner.BinaryOp)
}

func TestPowerIsRightAssociative(t *testing.T) {
	// a^b^c == a^(b^c)
	program, arena, errs := parseExpr(t, "x^2^y")
	require.Empty(t, errs)
	top := exprOf(arena, program)
	n := arena.Node(top)
	require.Equal(t, ast.Pow, n.BinaryOp)
	right := arena.Node(n.Right)
	assert.Equal(t, ast.Pow, right.BinaryOp)
}

func TestAssignmentIsRightAssociative(t *testing.T) {
	program, arena, errs := parseExpr(t, "x = y = 3")
	require.Empty(t, errs)
	top := exprOf(arena, program)
	n := arena.Node(top)
	require.Equal(t, ast.KindBinary, n.Kind)
	assert.Equal(t, ast.Assign, n.BinaryOp)
	right := arena.Node(n.Right)
	assert.Equal(t, ast.Assign, right.BinaryOp)
}

func TestAssignToNonVariableIsInvalidAssignment(t *testing.T) {
	_, _, errs := parseExpr(t, "1 = 2")
	require.Len(t, errs, 1)
	assert.Equal(t, mperr.InvalidAssignment, errs[0].Code)
}

func TestAssignToConstantIsInvalidAssignment(t *testing.T) {
	_, _, errs := parseExpr(t, "PI = 4")
	require.Len(t, errs, 1)
	assert.Equal(t, mperr.InvalidAssignment, errs[0].Code)
}

func TestUnresolvedIdentifier(t *testing.T) {
	_, _, errs := parseExpr(t, "z + 1")
	require.Len(t, errs, 1)
	assert.Equal(t, mperr.UnresolvedSymbol, errs[0].Code)
}

func TestCallingAVariableIsNotAFunction(t *testing.T) {
	_, _, errs := parseExpr(t, "x(1)")
	require.Len(t, errs, 1)
	assert.Equal(t, mperr.NotAFunction, errs[0].Code)
}

func TestUsingAFunctionAsAVariableIsNotAFunction(t *testing.T) {
	_, _, errs := parseExpr(t, "sqrt + 1")
	require.Len(t, errs, 1)
	assert.Equal(t, mperr.NotAFunction, errs[0].Code)
}

func TestWrongArity(t *testing.T) {
	_, _, errs := parseExpr(t, "sqrt(1, 2)")
	require.Len(t, errs, 1)
	assert.Equal(t, mperr.InvalidArity, errs[0].Code)
}

func TestCallArgs(t *testing.T) {
	program, arena, errs := parseExpr(t, "atan2(x, y)")
	require.Empty(t, errs)
	top := exprOf(arena, program)
	n := arena.Node(top)
	require.Equal(t, ast.KindCall, n.Kind)
	assert.Equal(t, "atan2", n.FuncName)
	assert.Len(t, n.Args, 2)
}

func TestTrailingSemicolonPermitted(t *testing.T) {
	program, arena, errs := parseExpr(t, "1 + 1;")
	require.Empty(t, errs)
	block := arena.Node(program).Children[0]
	assert.Len(t, arena.Node(block).Children, 1)
}

func TestMultipleStatementsBlockValueIsLast(t *testing.T) {
	program, arena, errs := parseExpr(t, "x = 1; x = 2; x + 1")
	require.Empty(t, errs)
	block := arena.Node(program).Children[0]
	children := arena.Node(block).Children
	require.Len(t, children, 3)
	last := arena.Node(children[2])
	assert.Equal(t, ast.Add, last.BinaryOp)
}

func TestUnterminatedParenIsInvalidSyntax(t *testing.T) {
	_, _, errs := parseExpr(t, "(1 + 2")
	require.NotEmpty(t, errs)
	assert.Equal(t, mperr.InvalidSyntax, errs[0].Code)
}

func TestInvalidTokenIsInvalidSyntax(t *testing.T) {
	_, _, errs := parseExpr(t, "1 @ 2")
	require.NotEmpty(t, errs)
	assert.Equal(t, mperr.InvalidSyntax, errs[0].Code)
}

func TestOverflowingNumericLiteralIsInvalidNumber(t *testing.T) {
	_, _, errs := parseExpr(t, "1e400")
	require.NotEmpty(t, errs)
	assert.Equal(t, mperr.InvalidNumber, errs[0].Code)
}

func TestUnterminatedBlockCommentIsInvalidSyntax(t *testing.T) {
	_, _, errs := parseExpr(t, "1 + /* oops")
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Code == mperr.InvalidSyntax {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTrueFalseLiterals(t *testing.T) {
	program, arena, errs := parseExpr(t, "true")
	require.Empty(t, errs)
	top := exprOf(arena, program)
	n := arena.Node(top)
	require.Equal(t, ast.KindImmediate, n.Kind)
	assert.Equal(t, 1.0, n.Value)
}

func TestComparisonChainsLeftAssociative(t *testing.T) {
	program, arena, errs := parseExpr(t, "x < y == true")
	require.Empty(t, errs)
	top := exprOf(arena, program)
	n := arena.Node(top)
	assert.Equal(t, ast.Eq, n.BinaryOp)
	left := arena.Node(n.Left)
	assert.Equal(t, ast.Lt, left.BinaryOp)
}

func TestErrorRecoveryContinuesAfterSemicolon(t *testing.T) {
	_, _, errs := parseExpr(t, "z + 1; w + 2")
	// two separate unresolved identifiers, both reported.
	require.Len(t, errs, 2)
	assert.Equal(t, mperr.UnresolvedSymbol, errs[0].Code)
	assert.Equal(t, mperr.UnresolvedSymbol, errs[1].Code)
}
