// Package lexer implements the C2 tokenizer: it turns an immutable byte
// buffer into a stream of token.Token values, tracking (line, column) for
// diagnostics and supporting one token of peek/putback so the parser can
// do LL(1)-style lookahead. It scans byte-at-a-time rather than building
// an intermediate string, and generalizes to a real grammar: comments,
// multi-character punctuators, parens/commas, and a locale-independent
// number parse via the strtod package rather than a plain
// string-to-int-literal scan.
package lexer

import (
	"github.com/skx/mathpresso-go/strtod"
	"github.com/skx/mathpresso-go/token"
)

// Lexer holds our object-state.
type Lexer struct {
	input        []byte
	position     int // current byte position (index of ch)
	readPosition int // next byte position to read
	ch           byte
	line         int
	column       int

	// one token of lookahead, used by Peek/PutBack.
	buffered  *token.Token
	hasBuffer bool

	unterminatedComment bool
}

// New creates a Lexer over input. The Lexer does not copy or own input;
// token spans are byte offsets into the slice the caller passed in.
func New(input []byte) *Lexer {
	l := &Lexer{input: input, line: 1, column: 0}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.position < len(l.input) && l.input[l.position] == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// Next returns the next token in the stream, consuming it.
func (l *Lexer) Next() token.Token {
	if l.hasBuffer {
		tok := *l.buffered
		l.hasBuffer = false
		l.buffered = nil
		return tok
	}
	return l.scan()
}

// Peek returns the next token without consuming it. A subsequent Next()
// call returns the same token.
func (l *Lexer) Peek() token.Token {
	if !l.hasBuffer {
		tok := l.scan()
		l.buffered = &tok
		l.hasBuffer = true
	}
	return *l.buffered
}

// PutBack pushes tok back so the next Next()/Peek() call returns it
// again. Only one token of putback is supported.
func (l *Lexer) PutBack(tok token.Token) {
	l.buffered = &tok
	l.hasBuffer = true
}

func (l *Lexer) scan() token.Token {
	l.skipWhitespaceAndComments()

	pos := token.Pos{Line: l.line, Column: l.column}
	start := l.position

	var tok token.Token
	switch l.ch {
	case 0:
		tok = token.Token{Type: token.EOF, Start: start, End: start, Pos: pos}
		return tok

	case '+':
		tok = l.simple(token.PLUS)
	case '-':
		tok = l.simple(token.MINUS)
	case '*':
		tok = l.simple(token.ASTERISK)
	case '/':
		tok = l.simple(token.SLASH)
	case '%':
		tok = l.simple(token.MOD)
	case '^':
		tok = l.simple(token.POWER)
	case '(':
		tok = l.simple(token.LPAREN)
	case ')':
		tok = l.simple(token.RPAREN)
	case ',':
		tok = l.simple(token.COMMA)
	case ';':
		tok = l.simple(token.SEMI)

	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok = l.simple(token.EQ)
		} else {
			tok = l.simple(token.ASSIGN)
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = l.simple(token.NE)
		} else {
			tok = l.simple(token.NOT)
		}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = l.simple(token.LE)
		} else {
			tok = l.simple(token.LT)
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = l.simple(token.GE)
		} else {
			tok = l.simple(token.GT)
		}
	case '&':
		if l.peekChar() == '&' {
			l.readChar()
			tok = l.simple(token.AND)
		} else {
			tok = token.Token{Type: token.INVALID, Literal: "&", Start: start, End: l.position + 1, Pos: pos}
		}
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			tok = l.simple(token.OR)
		} else {
			tok = token.Token{Type: token.INVALID, Literal: "|", Start: start, End: l.position + 1, Pos: pos}
		}

	default:
		if isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())) {
			return l.readNumber(pos, start)
		}
		if isIdentStart(l.ch) {
			return l.readIdentifier(pos, start)
		}
		tok = token.Token{Type: token.INVALID, Literal: string(l.ch), Start: start, End: start + 1, Pos: pos}
	}

	tok.Start = start
	tok.End = l.position + 1
	tok.Pos = pos
	l.readChar()
	return tok
}

// simple builds a single- or double-character punctuator token whose
// literal is the type itself; l.ch still points at the last consumed
// character when this is called.
func (l *Lexer) simple(t token.Type) token.Token {
	return token.Token{Type: t, Literal: string(t)}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case isWhitespace(l.ch):
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for {
				if l.ch == 0 {
					l.unterminatedComment = true
					return
				}
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readNumber(pos token.Pos, start int) token.Token {
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	} else if l.ch == '.' && !isIdentStart(l.peekChar()) && l.peekChar() != '.' {
		// "3." with nothing following the dot is still a valid literal
		// per the grammar `[0-9]+(\.[0-9]*)?`.
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		save := l.position
		saveRead := l.readPosition
		saveCh := l.ch
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		if isDigit(l.ch) {
			for isDigit(l.ch) {
				l.readChar()
			}
		} else {
			// Not actually an exponent; rewind.
			l.position = save
			l.readPosition = saveRead
			l.ch = saveCh
		}
	}

	literal := string(l.input[start:l.position])
	v, err := strtod.Parse(literal)
	if err != nil {
		return token.Token{Type: token.INVALID, Literal: literal, Start: start, End: l.position, Pos: pos}
	}
	return token.Token{Type: token.NUMBER, Literal: literal, Value: v, Start: start, End: l.position, Pos: pos}
}

func (l *Lexer) readIdentifier(pos token.Pos, start int) token.Token {
	for isIdentPart(l.ch) {
		l.readChar()
	}
	literal := string(l.input[start:l.position])
	typ := token.LookupIdentifier(literal)
	tok := token.Token{Type: typ, Literal: literal, Start: start, End: l.position, Pos: pos}
	if typ == token.TRUE {
		tok.Value = 1.0
	} else if typ == token.FALSE {
		tok.Value = 0.0
	}
	return tok
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
