// Package parser implements the recursive-descent / precedence-climbing
// parser described in spec ยง4.3: program -> block EOF, block -> stmt
// (';' stmt)* ';'?, and the assign/or/and/equal/rel/add/mul/unary/pow/
// primary precedence chain. It resolves identifiers against a
// symtab.Scope as it goes (spec ยง4.3: "identifiers are resolved during
// parsing, not in a later pass") and reports every failure as an
// *mperr.Error rather than panicking, matching ยง7's "errors are data".
package parser

import (
	"math"

	"github.com/skx/mathpresso-go/ast"
	"github.com/skx/mathpresso-go/lexer"
	"github.com/skx/mathpresso-go/mperr"
	"github.com/skx/mathpresso-go/symtab"
	"github.com/skx/mathpresso-go/token"
)

const noIndex = -1

// Parser consumes a lexer.Lexer and builds an ast.Arena tree, resolving
// names against scope as it goes.
type Parser struct {
	lex   *lexer.Lexer
	arena *ast.Arena
	scope *symtab.Scope
	errs  []*mperr.Error

	// warn, when non-nil, receives non-fatal diagnostics (spec ยง7:
	// "Warnings ... are emitted via the OutputLog when Verbose is set").
	// The facade wires this; tests may leave it nil.
	warn func(pos token.Pos, msg string)
}

// New returns a Parser that reads from lex, allocates nodes in arena, and
// resolves identifiers against scope.
func New(lex *lexer.Lexer, arena *ast.Arena, scope *symtab.Scope) *Parser {
	return &Parser{lex: lex, arena: arena, scope: scope}
}

// SetWarnFunc installs a callback for non-fatal diagnostics.
func (p *Parser) SetWarnFunc(fn func(pos token.Pos, msg string)) {
	p.warn = fn
}

// Parse runs the full program -> block EOF grammar and returns the root
// Program node's arena index. An empty (or whitespace/comment-only)
// source produces a single NoExpression error and no other side effect,
// per spec ยง6.4's special case. Any other failure accumulates into the
// returned error slice; the caller should treat the tree as unusable if
// len(errs) > 0.
func (p *Parser) Parse() (int, []*mperr.Error) {
	first := p.lex.Peek()
	if first.Type == token.EOF {
		return noIndex, []*mperr.Error{mperr.NewError(mperr.NoExpression, first.Pos.Line, first.Pos.Column, "empty expression")}
	}

	block := p.parseBlock()

	if tail := p.peek(); tail.Type != token.EOF {
		p.errorAt(tail.Pos, mperr.InvalidSyntax, "unexpected token %q after end of program", tail.Literal)
	}

	if p.lex.UnterminatedComment() {
		p.errorAt(token.Pos{}, mperr.InvalidSyntax, "unterminated block comment")
	}

	program := p.arena.NewProgram(block)
	return program, p.errs
}

// parseBlock implements block -> stmt (';' stmt)* ';'?
func (p *Parser) parseBlock() int {
	var children []int
	var starts []token.Pos

	for {
		startPos := p.peek().Pos
		stmt := p.parseStmt()
		if stmt != noIndex {
			children = append(children, stmt)
			starts = append(starts, startPos)
		}

		if p.peek().Type == token.SEMI {
			p.next()
			if p.peek().Type == token.EOF {
				break
			}
			continue
		}
		break
	}

	if len(children) == 0 {
		p.errorAt(p.peek().Pos, mperr.InvalidSyntax, "expected an expression")
	}

	if p.warn != nil {
		for i := 0; i < len(children)-1; i++ {
			n := p.arena.Node(children[i])
			if n.Kind == ast.KindBinary && n.BinaryOp == ast.Assign {
				continue
			}
			p.warn(starts[i], "result of expression is discarded")
		}
	}

	return p.arena.NewBlock(children)
}

// parseStmt parses a single statement (spec ยง4.3: stmt -> expr) and
// resynchronizes at the next ';' or EOF if it produced an error, so one
// bad statement does not stop later ones in the block from being
// reported too (spec ยง7).
func (p *Parser) parseStmt() int {
	before := len(p.errs)
	idx := p.parseAssign()
	if len(p.errs) > before {
		p.resync()
	}
	return idx
}

func (p *Parser) resync() {
	for {
		t := p.peek()
		if t.Type == token.SEMI || t.Type == token.EOF {
			return
		}
		p.next()
	}
}

// parseAssign implements assign -> or ('=' assign)?, right-associative.
func (p *Parser) parseAssign() int {
	left := p.parseOr()

	if p.peek().Type != token.ASSIGN {
		return left
	}
	eq := p.next()
	right := p.parseAssign()

	node := p.arena.Node(left)
	if node.Kind != ast.KindVariable {
		p.errorAt(eq.Pos, mperr.InvalidAssignment, "left-hand side of '=' must be a variable")
		return left
	}
	sym, _ := node.Symbol.(*symtab.Symbol)
	if sym == nil || !sym.Writable() {
		p.errorAt(eq.Pos, mperr.InvalidAssignment, "cannot assign to %q", node.VarName)
		return left
	}
	return p.arena.NewBinary(ast.Assign, left, right)
}

// parseOr implements or -> and ('||' and)*
func (p *Parser) parseOr() int {
	left := p.parseAnd()
	for p.peek().Type == token.OR {
		p.next()
		right := p.parseAnd()
		left = p.arena.NewBinary(ast.LogOr, left, right)
	}
	return left
}

// parseAnd implements and -> equal ('&&' equal)*
func (p *Parser) parseAnd() int {
	left := p.parseEqual()
	for p.peek().Type == token.AND {
		p.next()
		right := p.parseEqual()
		left = p.arena.NewBinary(ast.LogAnd, left, right)
	}
	return left
}

// parseEqual implements equal -> rel (('=='|'!=') rel)*
func (p *Parser) parseEqual() int {
	left := p.parseRel()
	for {
		switch p.peek().Type {
		case token.EQ:
			p.next()
			left = p.arena.NewBinary(ast.Eq, left, p.parseRel())
		case token.NE:
			p.next()
			left = p.arena.NewBinary(ast.Ne, left, p.parseRel())
		default:
			return left
		}
	}
}

// parseRel implements rel -> add (('<'|'<='|'>'|'>=') add)*
func (p *Parser) parseRel() int {
	left := p.parseAdd()
	for {
		switch p.peek().Type {
		case token.LT:
			p.next()
			left = p.arena.NewBinary(ast.Lt, left, p.parseAdd())
		case token.LE:
			p.next()
			left = p.arena.NewBinary(ast.Le, left, p.parseAdd())
		case token.GT:
			p.next()
			left = p.arena.NewBinary(ast.Gt, left, p.parseAdd())
		case token.GE:
			p.next()
			left = p.arena.NewBinary(ast.Ge, left, p.parseAdd())
		default:
			return left
		}
	}
}

// parseAdd implements add -> mul (('+'|'-') mul)*
func (p *Parser) parseAdd() int {
	left := p.parseMul()
	for {
		switch p.peek().Type {
		case token.PLUS:
			p.next()
			left = p.arena.NewBinary(ast.Add, left, p.parseMul())
		case token.MINUS:
			p.next()
			left = p.arena.NewBinary(ast.Sub, left, p.parseMul())
		default:
			return left
		}
	}
}

// parseMul implements mul -> unary (('*'|'/'|'%') unary)*
func (p *Parser) parseMul() int {
	left := p.parseUnary()
	for {
		switch p.peek().Type {
		case token.ASTERISK:
			p.next()
			left = p.arena.NewBinary(ast.Mul, left, p.parseUnary())
		case token.SLASH:
			p.next()
			left = p.arena.NewBinary(ast.Div, left, p.parseUnary())
		case token.MOD:
			p.next()
			left = p.arena.NewBinary(ast.Mod, left, p.parseUnary())
		default:
			return left
		}
	}
}

// parseUnary implements unary -> ('+'|'-'|'!') unary | pow. '+' is a
// no-op (it returns its operand unchanged, as the grammar never needs a
// UnaryPlus node); '-' and '!' wrap in an ast.Unary node. Recursing back
// into parseUnary (rather than parsePow) for the operand is what makes
// "-a^b" parse as "-(a^b)": the '^' is consumed one level down, inside
// the recursive parseUnary/parsePow call, before the '-' wraps it.
func (p *Parser) parseUnary() int {
	switch p.peek().Type {
	case token.PLUS:
		p.next()
		return p.parseUnary()
	case token.MINUS:
		p.next()
		return p.arena.NewUnary(ast.Negate, p.parseUnary())
	case token.NOT:
		p.next()
		return p.arena.NewUnary(ast.Not, p.parseUnary())
	default:
		return p.parsePow()
	}
}

// parsePow implements pow -> primary ('^' unary)?, right-associative: the
// exponent recurses into parseUnary (not parsePow), so "a^b^c" parses as
// "a^(b^c)".
func (p *Parser) parsePow() int {
	left := p.parsePrimary()
	if p.peek().Type != token.POWER {
		return left
	}
	p.next()
	right := p.parseUnary()
	return p.arena.NewBinary(ast.Pow, left, right)
}

// parsePrimary implements primary -> NUMBER | IDENT ('(' args? ')')? |
// '(' expr ')'
func (p *Parser) parsePrimary() int {
	tok := p.peek()
	switch tok.Type {
	case token.NUMBER, token.TRUE, token.FALSE:
		p.next()
		return p.arena.NewImmediate(tok.Value)

	case token.INVALID:
		p.next()
		if c := tok.Literal; c != "" && (c[0] == '.' || (c[0] >= '0' && c[0] <= '9')) {
			p.errorAt(tok.Pos, mperr.InvalidNumber, "malformed numeric literal %q", tok.Literal)
		} else {
			p.errorAt(tok.Pos, mperr.InvalidSyntax, "unexpected character %q", tok.Literal)
		}
		return p.arena.NewImmediate(math.NaN())

	case token.IDENT:
		p.next()
		if p.peek().Type == token.LPAREN {
			return p.parseCall(tok)
		}
		return p.parseVariableRef(tok)

	case token.LPAREN:
		p.next()
		inner := p.parseAssign()
		p.expect(token.RPAREN)
		return inner

	default:
		p.errorAt(tok.Pos, mperr.InvalidSyntax, "unexpected token %q", tokenText(tok))
		if tok.Type != token.EOF {
			p.next()
		}
		return p.arena.NewImmediate(math.NaN())
	}
}

func (p *Parser) parseVariableRef(tok token.Token) int {
	sym, ok := p.scope.Lookup(tok.Literal)
	if !ok {
		p.errorAt(tok.Pos, mperr.UnresolvedSymbol, "unknown identifier %q", tok.Literal)
		return p.arena.NewVariable(tok.Literal, nil)
	}
	if sym.Kind == symtab.KindFunction {
		p.errorAt(tok.Pos, mperr.NotAFunction, "%q is a function; call it with (...)", tok.Literal)
	}
	return p.arena.NewVariable(tok.Literal, sym)
}

func (p *Parser) parseCall(tok token.Token) int {
	p.next() // '('
	var args []int
	if p.peek().Type != token.RPAREN {
		args = append(args, p.parseAssign())
		for p.peek().Type == token.COMMA {
			p.next()
			args = append(args, p.parseAssign())
		}
	}
	p.expect(token.RPAREN)

	sym, ok := p.scope.Lookup(tok.Literal)
	switch {
	case !ok:
		p.errorAt(tok.Pos, mperr.UnresolvedSymbol, "unknown identifier %q", tok.Literal)
		return p.arena.NewCall(tok.Literal, nil, args)
	case sym.Kind != symtab.KindFunction:
		p.errorAt(tok.Pos, mperr.NotAFunction, "%q is not callable", tok.Literal)
	case sym.Arity != len(args):
		p.errorAt(tok.Pos, mperr.InvalidArity, "%q takes %d argument(s), got %d", tok.Literal, sym.Arity, len(args))
	}
	return p.arena.NewCall(tok.Literal, sym, args)
}

func (p *Parser) peek() token.Token {
	return p.lex.Peek()
}

func (p *Parser) next() token.Token {
	return p.lex.Next()
}

func (p *Parser) expect(t token.Type) (token.Token, bool) {
	tok := p.peek()
	if tok.Type != t {
		p.errorAt(tok.Pos, mperr.InvalidSyntax, "expected %q, got %q", string(t), tokenText(tok))
		return tok, false
	}
	return p.next(), true
}

func (p *Parser) errorAt(pos token.Pos, code mperr.ErrorCode, format string, args ...interface{}) {
	p.errs = append(p.errs, mperr.NewError(code, pos.Line, pos.Column, format, args...))
}

func tokenText(tok token.Token) string {
	if tok.Type == token.EOF {
		return "<end of input>"
	}
	if tok.Literal != "" {
		return tok.Literal
	}
	return string(tok.Type)
}
