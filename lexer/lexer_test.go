package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skx/mathpresso-go/token"
)

func scanAll(src string) []token.Token {
	l := New([]byte(src))
	var out []token.Token
	for {
		tok := l.Next()
		out = append(out, tok)
		if tok.Type == token.EOF {
			return out
		}
	}
}

func TestPunctuators(t *testing.T) {
	toks := scanAll("+ - * / % ^ ( ) , ; = == != < <= > >= ! && ||")
	types := make([]token.Type, 0, len(toks))
	for _, tok := range toks {
		types = append(types, tok.Type)
	}
	want := []token.Type{
		token.PLUS, token.MINUS, token.ASTERISK, token.SLASH, token.MOD, token.POWER,
		token.LPAREN, token.RPAREN, token.COMMA, token.SEMI,
		token.ASSIGN, token.EQ, token.NE, token.LT, token.LE, token.GT, token.GE,
		token.NOT, token.AND, token.OR, token.EOF,
	}
	assert.Equal(t, want, types)
}

func TestNumbers(t *testing.T) {
	toks := scanAll("3 3.14 .5 1e10 1.5e-10 2E+3 100.")
	var vals []float64
	for _, tok := range toks {
		if tok.Type == token.NUMBER {
			vals = append(vals, tok.Value)
		}
	}
	assert.Equal(t, []float64{3, 3.14, 0.5, 1e10, 1.5e-10, 2e3, 100}, vals)
}

func TestIdentifiersAndKeywords(t *testing.T) {
	toks := scanAll("x foo_bar true false sin")
	assert.Equal(t, token.IDENT, toks[0].Type)
	assert.Equal(t, "x", toks[0].Literal)
	assert.Equal(t, token.IDENT, toks[1].Type)
	assert.Equal(t, token.TRUE, toks[2].Type)
	assert.Equal(t, 1.0, toks[2].Value)
	assert.Equal(t, token.FALSE, toks[3].Type)
	assert.Equal(t, 0.0, toks[3].Value)
	assert.Equal(t, token.IDENT, toks[4].Type)
}

func TestLineComment(t *testing.T) {
	toks := scanAll("1 // comment\n+ 2")
	assert.Equal(t, token.NUMBER, toks[0].Type)
	assert.Equal(t, token.PLUS, toks[1].Type)
	assert.Equal(t, token.NUMBER, toks[2].Type)
}

func TestBlockComment(t *testing.T) {
	toks := scanAll("1 /* skip\nthis */ + 2")
	assert.Equal(t, token.NUMBER, toks[0].Type)
	assert.Equal(t, token.PLUS, toks[1].Type)
	assert.Equal(t, token.NUMBER, toks[2].Type)
}

func TestInvalidByte(t *testing.T) {
	toks := scanAll("1 $ 2")
	assert.Equal(t, token.INVALID, toks[1].Type)
}

func TestPeekAndPutBack(t *testing.T) {
	l := New([]byte("1 + 2"))
	first := l.Peek()
	assert.Equal(t, token.NUMBER, first.Type)
	// Peeking again returns the same token.
	assert.Equal(t, first, l.Peek())

	consumed := l.Next()
	assert.Equal(t, first, consumed)

	plus := l.Next()
	assert.Equal(t, token.PLUS, plus.Type)

	l.PutBack(plus)
	assert.Equal(t, plus, l.Peek())
	assert.Equal(t, plus, l.Next())
}

func TestLineAndColumnTracking(t *testing.T) {
	toks := scanAll("1\n  + 2")
	assert.Equal(t, 1, toks[0].Pos.Line)
	assert.Equal(t, 2, toks[1].Pos.Line)
	assert.Equal(t, 3, toks[1].Pos.Column)
}
