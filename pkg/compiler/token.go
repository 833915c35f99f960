package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	IDENTIFIER // variable / function name
	NUMBER     // floating point literal

	// Keywords
	DEF    // "def"
	EXTERN // "extern"
	IF     // "if"
	THEN   // "then"
	ELSE   // "else"
	FOR    // "for"
	IN     // "in"
	BINARY // "binary"
	UNARY  // "unary"
	VAR    // "var"
	VECTOR // "vector"
	MAP    // "map"

	// Paired delimiters
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]

	// Punctuation
	COMMA     // ,
	SEMICOLON // ;

	// OPERATOR is any other printable character, one token per
	// character. Which of them mean anything is the parser's business:
	// the operator table decides binary operators, and unary<ch>
	// definitions decide unary ones.
	OPERATOR
)

var tokenNames = [...]string{
	EOF:        "EOF",
	IDENTIFIER: "IDENTIFIER",
	NUMBER:     "NUMBER",
	DEF:        "DEF",
	EXTERN:     "EXTERN",
	IF:         "IF",
	THEN:       "THEN",
	ELSE:       "ELSE",
	FOR:        "FOR",
	IN:         "IN",
	BINARY:     "BINARY",
	UNARY:      "UNARY",
	VAR:        "VAR",
	VECTOR:     "VECTOR",
	MAP:        "MAP",
	LPAREN:     "LPAREN",
	RPAREN:     "RPAREN",
	LBRACKET:   "LBRACKET",
	RBRACKET:   "RBRACKET",
	COMMA:      "COMMA",
	SEMICOLON:  "SEMICOLON",
	OPERATOR:   "OPERATOR",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // the exact source text that was matched
	Line   int    // 1-based source line
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
