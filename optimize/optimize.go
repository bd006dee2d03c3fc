// Package optimize implements the single bottom-up optimization pass of
// spec ยง4.4: constant folding over every node kind, double-negation
// elimination ("-(-x)" -> "x"), and commutative re-association for '+'
// and '*' so a constant can fold into a sibling buried deeper in the
// same commutative chain.
//
// The re-association rule is ported from the original MathPresso C++
// optimizer's findConstNode (original_source/src/mathpresso/
// mathpresso_optimizer.cpp): when one side of a '+'/'*' is already an
// Immediate and the other side is itself a chain of the same operator,
// walk that chain looking for a constant to fold with, then splice the
// chain back together one node shorter.
package optimize

import (
	"math"

	"github.com/skx/mathpresso-go/ast"
	"github.com/skx/mathpresso-go/symtab"
)

const noIndex = -1

// Optimize rewrites the tree rooted at root in place (splicing new or
// existing nodes into parent slots via arena.ReplaceChild) and returns
// the index that now represents root in the caller's context - it may
// differ from root itself if the whole expression folded to a constant.
func Optimize(a *ast.Arena, root int) int {
	return onNode(a, root)
}

func onNode(a *ast.Arena, idx int) int {
	switch a.Node(idx).Kind {
	case ast.KindProgram:
		return onProgram(a, idx)
	case ast.KindBlock:
		return onBlock(a, idx)
	case ast.KindUnary:
		return onUnary(a, idx)
	case ast.KindBinary:
		return onBinary(a, idx)
	case ast.KindCall:
		return onCall(a, idx)
	default:
		// Immediate, Variable: nothing to fold.
		return idx
	}
}

func onProgram(a *ast.Arena, idx int) int {
	child := a.Node(idx).Children[0]
	if nc := onNode(a, child); nc != child {
		a.ReplaceChild(idx, child, nc)
	}
	return idx
}

func onBlock(a *ast.Arena, idx int) int {
	children := append([]int(nil), a.Node(idx).Children...)
	for _, c := range children {
		if nc := onNode(a, c); nc != c {
			a.ReplaceChild(idx, c, nc)
		}
	}
	return idx
}

func onUnary(a *ast.Arena, idx int) int {
	n := a.Node(idx)
	child, op := n.Left, n.UnaryOp

	newChild := onNode(a, child)
	if newChild != child {
		a.ReplaceChild(idx, child, newChild)
	}

	if a.IsConstant(newChild) {
		return a.NewImmediate(evalUnary(op, a.Node(newChild).Value))
	}

	if op == ast.Negate {
		cn := a.Node(newChild)
		if cn.Kind == ast.KindUnary && cn.UnaryOp == ast.Negate {
			return cn.Left
		}
	}

	return idx
}

func onBinary(a *ast.Arena, idx int) int {
	n := a.Node(idx)
	left, right, op := n.Left, n.Right, n.BinaryOp

	newLeft := onNode(a, left)
	newRight := onNode(a, right)
	if newLeft != left {
		a.ReplaceChild(idx, left, newLeft)
	}
	if newRight != right {
		a.ReplaceChild(idx, right, newRight)
	}

	// Assign's left child is always a Variable by construction (spec
	// ยง3), never constant, so it never folds - but be explicit.
	if op == ast.Assign {
		return idx
	}

	leftConst := a.IsConstant(newLeft)
	rightConst := a.IsConstant(newRight)

	if leftConst && rightConst {
		result := evalBinary(op, a.Node(newLeft).Value, a.Node(newRight).Value)
		return a.NewImmediate(result)
	}

	if (leftConst || rightConst) && op.Commutative() {
		reassociate(a, idx, op, leftConst, newLeft, newRight)
	}

	return idx
}

// reassociate implements findConstNode: one side of idx (c) is already
// an Immediate; if the other side (x) is itself a chain of the same
// commutative operator, find a buried constant y in that chain, fold c
// and y together, and splice y's parent out of the chain.
func reassociate(a *ast.Arena, idx int, op ast.BinaryOp, leftConst bool, newLeft, newRight int) {
	var c, x int
	if leftConst {
		c, x = newLeft, newRight
	} else {
		c, x = newRight, newLeft
	}

	y := findConstNode(a, x, op)
	if y == noIndex {
		return
	}

	p := a.Parent(y)
	pn := a.Node(p)
	var keep int
	if pn.Right == y {
		keep = pn.Left
	} else {
		keep = pn.Right
	}

	var result float64
	cVal, yVal := a.Node(c).Value, a.Node(y).Value
	switch op {
	case ast.Add:
		result = cVal + yVal
	case ast.Mul:
		result = cVal * yVal
	}

	grandparent := a.Parent(p)
	a.ReplaceChild(grandparent, p, keep)
	a.Node(c).Value = result
}

// findConstNode walks a chain of nodes sharing op, looking for an
// Immediate child: at each node it checks the left and then the right
// child, and only if neither is an Immediate does it descend into the
// left subtree and then the right one.
func findConstNode(a *ast.Arena, idx int, op ast.BinaryOp) int {
	n := a.Node(idx)
	if n.Kind != ast.KindBinary || n.BinaryOp != op {
		return noIndex
	}
	left, right := n.Left, n.Right

	if a.IsConstant(left) {
		return left
	}
	if a.IsConstant(right) {
		return right
	}
	if y := findConstNode(a, left, op); y != noIndex {
		return y
	}
	if y := findConstNode(a, right, op); y != noIndex {
		return y
	}
	return noIndex
}

func onCall(a *ast.Arena, idx int) int {
	n := a.Node(idx)
	args := append([]int(nil), n.Args...)
	fn := n.Func

	allConst := true
	newArgs := make([]int, len(args))
	for i, c := range args {
		nc := onNode(a, c)
		newArgs[i] = nc
		if nc != c {
			a.ReplaceChild(idx, c, nc)
		}
		if !a.IsConstant(nc) {
			allConst = false
		}
	}

	sym, ok := fn.(*symtab.Symbol)
	if allConst && ok && sym != nil && sym.Fn != nil {
		vals := make([]float64, len(newArgs))
		for i, c := range newArgs {
			vals[i] = a.Node(c).Value
		}
		return a.NewImmediate(sym.Fn(vals))
	}

	return idx
}

func evalUnary(op ast.UnaryOp, v float64) float64 {
	switch op {
	case ast.Negate:
		return -v
	case ast.Not:
		return boolToFloat(v == 0)
	default:
		return v
	}
}

func evalBinary(op ast.BinaryOp, l, r float64) float64 {
	switch op {
	case ast.Add:
		return l + r
	case ast.Sub:
		return l - r
	case ast.Mul:
		return l * r
	case ast.Div:
		return l / r
	case ast.Mod:
		return math.Mod(l, r)
	case ast.Pow:
		return math.Pow(l, r)
	case ast.Eq:
		return boolToFloat(l == r)
	case ast.Ne:
		return boolToFloat(l != r)
	case ast.Lt:
		return boolToFloat(l < r)
	case ast.Le:
		return boolToFloat(l <= r)
	case ast.Gt:
		return boolToFloat(l > r)
	case ast.Ge:
		return boolToFloat(l >= r)
	case ast.LogAnd:
		return boolToFloat(l != 0 && r != 0)
	case ast.LogOr:
		return boolToFloat(l != 0 || r != 0)
	default:
		return math.NaN()
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
