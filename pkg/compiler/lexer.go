package compiler

import "unicode"

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"def":    DEF,
	"extern": EXTERN,
	"if":     IF,
	"then":   THEN,
	"else":   ELSE,
	"for":    FOR,
	"in":     IN,
	"binary": BINARY,
	"unary":  UNARY,
	"var":    VAR,
	"vector": VECTOR,
	"map":    MAP,
}

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src  []rune
	pos  int // index of the next rune to consume
	line int // current 1-based source line
	prev TokenType
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1}
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
	}
	return r
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// skipLineComment discards everything from the current position to
// end-of-line. The opening '#' must already have been consumed.
func (l *Lexer) skipLineComment() {
	for l.pos < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
}

// scanIdent collects a full identifier or keyword token. Identifiers
// start with a letter and continue with letters and digits; there is
// no underscore, which keeps generated names (anonymous functions,
// kernel wrappers, runtime allocator calls) out of the user namespace.
// The first letter must still be at l.peek().
func (l *Lexer) scanIdent() Token {
	line := l.line
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	return Token{Type: tt, Lexeme: lexeme, Line: line}
}

// scanNumber collects digits with at most one decimal point. A second
// point ends the literal, so "1.2.3" lexes as 1.2 followed by an
// operator '.' and 3. There is no exponent form. The first digit or
// point must still be at l.peek().
func (l *Lexer) scanNumber() Token {
	line := l.line
	start := l.pos
	seenDot := false
	for l.pos < len(l.src) {
		r := l.peek()
		if r == '.' {
			if seenDot {
				break
			}
			seenDot = true
			l.advance()
			continue
		}
		if !unicode.IsDigit(r) {
			break
		}
		l.advance()
	}
	return Token{Type: NUMBER, Lexeme: string(l.src[start:l.pos]), Line: line}
}

// nextToken skips whitespace/comments and returns the next Token.
func (l *Lexer) nextToken() Token {
	tok := l.scan()
	l.prev = tok.Type
	return tok
}

func (l *Lexer) scan() Token {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			return Token{Type: EOF, Lexeme: "", Line: l.line}
		}
		if l.peek() == '#' {
			l.advance()
			l.skipLineComment()
			continue
		}
		break
	}

	ch := l.peek()
	line := l.line

	if unicode.IsLetter(ch) {
		return l.scanIdent()
	}
	// A point right after a number cannot start another literal, so
	// the second point of "1.2.3" falls through to OPERATOR.
	if unicode.IsDigit(ch) || (ch == '.' && l.prev != NUMBER && unicode.IsDigit(l.peek2())) {
		return l.scanNumber()
	}

	l.advance() // consume the character before the switch
	switch ch {
	case '(':
		return Token{LPAREN, "(", line}
	case ')':
		return Token{RPAREN, ")", line}
	case '[':
		return Token{LBRACKET, "[", line}
	case ']':
		return Token{RBRACKET, "]", line}
	case ',':
		return Token{COMMA, ",", line}
	case ';':
		return Token{SEMICOLON, ";", line}
	default:
		return Token{OPERATOR, string(ch), line}
	}
}

// Lex tokenises src and returns all tokens including the final EOF
// token. Every character lexes: anything that is not a name, number,
// comment, or delimiter becomes a one-character OPERATOR token.
func Lex(src string) []Token {
	l := newLexer(src)
	var tokens []Token
	for {
		tok := l.nextToken()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens
		}
	}
}
