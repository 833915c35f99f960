package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"kale/pkg/errors"
)

// defaultOpPrecedence is used when a binary operator definition omits
// the precedence number.
const defaultOpPrecedence = 30

// OpTable is the mutable binary operator precedence table shared by
// one compilation session. Higher binds tighter; valid precedences
// are 1..100. The parser consults it during precedence climbing, and
// def binary definitions extend it mid-session, changing how all
// later source parses.
type OpTable struct {
	prec map[string]int
}

// NewOpTable returns a table holding the builtin operators.
func NewOpTable() *OpTable {
	return &OpTable{prec: map[string]int{
		"=": 2,
		"<": 10,
		">": 10,
		"+": 20,
		"-": 20,
		"*": 40,
		"/": 40,
	}}
}

// Precedence returns op's binding strength, or -1 when op is not a
// registered binary operator.
func (t *OpTable) Precedence(op string) int {
	if pr, ok := t.prec[op]; ok {
		return pr
	}
	return -1
}

// Install registers op at precedence prec, replacing any prior entry.
func (t *OpTable) Install(op string, prec int) { t.prec[op] = prec }

// Remove deregisters op.
func (t *OpTable) Remove(op string) { delete(t.prec, op) }

// Clone returns an independent copy, for parse probes that must not
// disturb the live table.
func (t *OpTable) Clone() *OpTable {
	prec := make(map[string]int, len(t.prec))
	for op, p := range t.prec {
		prec[op] = p
	}
	return &OpTable{prec: prec}
}

// incompleteError marks input that ran out before the form it started
// was complete.
type incompleteError struct {
	msg string
}

func (e *incompleteError) Error() string { return e.msg }

// IsIncomplete reports whether err marks source that ended mid-form,
// so an interactive driver can prompt for a continuation line instead
// of reporting a failure.
func IsIncomplete(err error) bool {
	for err != nil {
		if _, ok := err.(*incompleteError); ok {
			return true
		}
		wrapped, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = wrapped.Unwrap()
	}
	return false
}

// Probe parses src without evaluating anything, reporting whether it
// ends mid-form. Interactive drivers accumulate lines while Probe
// reports incomplete input and execute the buffer once it stops.
// Binary operator definitions take effect for the remainder of the
// probe the way they would during execution; ops itself is never
// touched. Errors other than incompleteness are not reported here:
// execution will surface them with full context.
func Probe(src string, ops *OpTable) error {
	p := NewParser(Lex(src), src, ops.Clone())
	for !p.AtEOF() {
		var err error
		switch p.Peek().Type {
		case SEMICOLON:
			p.Skip()
			continue
		case DEF:
			var fn *Function
			if fn, err = p.ParseDefinition(); err == nil && fn.Proto.IsBinaryOp() {
				p.ops.Install(fn.Proto.OperatorName(), fn.Proto.Prec)
			}
		case EXTERN:
			_, err = p.ParseExtern()
		default:
			_, err = p.ParseTopLevelExpr()
		}
		if err != nil {
			if IsIncomplete(err) {
				return err
			}
			p.Skip()
		}
	}
	return nil
}

// Parser consumes the token slice produced by Lex and builds AST
// forms one top-level form at a time, so a driver can interleave
// parsing, code generation, and evaluation the way the language
// requires (an operator definition changes how later source parses).
//
// Grammar:
//
//	top      = 'def' proto expr | 'extern' proto | expr | ';'
//	proto    = ['vector'] IDENT '(' param* ')'
//	         | ['vector'] 'binary' OP [NUMBER] '(' param param ')'
//	         | ['vector'] 'unary' OP '(' param ')'
//	param    = ['vector'] IDENT
//	expr     = unary (OP unary)*            (precedence climbing)
//	unary    = OP unary | primary
//	primary  = IDENT | IDENT '(' args ')' | NUMBER | '(' expr ')'
//	         | 'map' '(' IDENT ',' expr (',' expr)* ')'
//	         | '[' args ']'
//	         | 'if' expr 'then' expr 'else' expr
//	         | 'for' IDENT '=' expr ',' expr [',' expr] 'in' expr
//	         | 'var' binding (',' binding)* 'in' expr
//	binding  = 'vector' IDENT '[' expr ']' | IDENT ['=' expr]
//	args     = [expr (',' expr)*]
type Parser struct {
	tokens      []Token
	pos         int
	ops         *OpTable
	sourceLines []string
}

// NewParser wraps tokens for parsing. rawSource is kept for error
// snippets; ops is the session's live operator table.
func NewParser(tokens []Token, rawSource string, ops *OpTable) *Parser {
	return &Parser{tokens: tokens, ops: ops, sourceLines: strings.Split(rawSource, "\n")}
}

// fmtError wraps an error message with the source line where the token
// appears.
func (p *Parser) fmtError(tok Token, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	lineIdx := tok.Line - 1 // Lines are 1-based
	snippet := "<source unavailable>"
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}
	return errors.E(errors.Syntax, errors.Errorf("line %d: %s\n  |> %s", tok.Line, msg, snippet))
}

func (p *Parser) incomplete(format string, args ...interface{}) error {
	return errors.E(errors.Syntax, &incompleteError{msg: fmt.Sprintf(format, args...)})
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise
// returns an error (incomplete when the input simply ran out).
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type == tt {
		return tok, nil
	}
	if tok.Type == EOF {
		return tok, p.incomplete("expected %s", tt)
	}
	return tok, p.fmtError(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
}

// expectOp consumes the current token if it is the operator op.
func (p *Parser) expectOp(op string) error {
	tok := p.advance()
	if tok.Type == OPERATOR && tok.Lexeme == op {
		return nil
	}
	if tok.Type == EOF {
		return p.incomplete("expected %q", op)
	}
	return p.fmtError(tok, "expected %q, got %s (%q)", op, tok.Type, tok.Lexeme)
}

// Peek returns the current token without consuming it. Drivers switch
// on it to pick the top-level parse entry point.
func (p *Parser) Peek() Token { return p.peek() }

// Skip drops one token. Drivers call it to resynchronize after a
// top-level parse error.
func (p *Parser) Skip() { p.advance() }

// AtEOF reports whether all tokens are consumed.
func (p *Parser) AtEOF() bool { return p.peek().Type == EOF }

// ParseDefinition parses 'def' proto expr.
func (p *Parser) ParseDefinition() (*Function, error) {
	p.advance() // eat 'def'
	proto, err := p.parsePrototype()
	if err != nil {
		return nil, err
	}
	body, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &Function{Proto: proto, Body: body}, nil
}

// ParseExtern parses 'extern' proto.
func (p *Parser) ParseExtern() (*Prototype, error) {
	p.advance() // eat 'extern'
	return p.parsePrototype()
}

// ParseTopLevelExpr parses one bare expression.
func (p *Parser) ParseTopLevelExpr() (Expr, error) {
	return p.parseExpression()
}

func (p *Parser) parsePrototype() (*Prototype, error) {
	proto := &Prototype{Prec: defaultOpPrecedence}
	if p.peek().Type == VECTOR {
		p.advance()
		proto.RetVec = true
	}

	arity := -1 // -1: not an operator, any arity
	switch tok := p.advance(); tok.Type {
	case IDENTIFIER:
		proto.Name = tok.Lexeme
	case UNARY:
		op := p.advance()
		if op.Type != OPERATOR {
			if op.Type == EOF {
				return nil, p.incomplete("expected an operator character after unary")
			}
			return nil, p.fmtError(op, "expected an operator character after unary, got %s (%q)", op.Type, op.Lexeme)
		}
		proto.Name = "unary" + op.Lexeme
		proto.IsOp = true
		arity = 1
	case BINARY:
		op := p.advance()
		if op.Type != OPERATOR {
			if op.Type == EOF {
				return nil, p.incomplete("expected an operator character after binary")
			}
			return nil, p.fmtError(op, "expected an operator character after binary, got %s (%q)", op.Type, op.Lexeme)
		}
		proto.Name = "binary" + op.Lexeme
		proto.IsOp = true
		arity = 2
		if p.peek().Type == NUMBER {
			num := p.advance()
			prec, _ := strconv.ParseFloat(num.Lexeme, 64)
			if prec < 1 || prec > 100 {
				return nil, p.fmtError(num, "invalid precedence %s: must be 1..100", num.Lexeme)
			}
			proto.Prec = int(prec)
		}
	case EOF:
		return nil, p.incomplete("expected a function name in prototype")
	default:
		return nil, p.fmtError(tok, "expected a function name in prototype, got %s (%q)", tok.Type, tok.Lexeme)
	}

	lp, err := p.expect(LPAREN)
	if err != nil {
		return nil, err
	}
	for p.peek().Type != RPAREN {
		isVec := false
		if p.peek().Type == VECTOR {
			p.advance()
			isVec = true
		}
		tok := p.advance()
		if tok.Type != IDENTIFIER {
			if tok.Type == EOF {
				return nil, p.incomplete("expected a parameter name")
			}
			return nil, p.fmtError(tok, "expected a parameter name, got %s (%q)", tok.Type, tok.Lexeme)
		}
		proto.Params = append(proto.Params, ParamDecl{Name: tok.Lexeme, IsVector: isVec})
	}
	p.advance() // eat ')'

	if arity == 1 && len(proto.Params) != 1 {
		return nil, p.fmtError(lp, "unary operator %s takes exactly one operand", proto.OperatorName())
	}
	if arity == 2 && len(proto.Params) != 2 {
		return nil, p.fmtError(lp, "binary operator %s takes exactly two operands", proto.OperatorName())
	}
	return proto, nil
}

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return p.parseBinOpRHS(0, lhs)
}

// tokPrecedence returns the binary precedence of the current token,
// or -1 when it cannot start a binary operator.
func (p *Parser) tokPrecedence() int {
	tok := p.peek()
	if tok.Type != OPERATOR {
		return -1
	}
	return p.ops.Precedence(tok.Lexeme)
}

// parseBinOpRHS climbs precedence: while the next operator binds at
// least as tightly as exprPrec, consume it and fold left. A
// tighter-binding operator after the right operand takes that operand
// first via the recursive call.
func (p *Parser) parseBinOpRHS(exprPrec int, lhs Expr) (Expr, error) {
	for {
		tokPrec := p.tokPrecedence()
		if tokPrec < exprPrec {
			return lhs, nil
		}

		op := p.advance()
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		if tokPrec < p.tokPrecedence() {
			rhs, err = p.parseBinOpRHS(tokPrec+1, rhs)
			if err != nil {
				return nil, err
			}
		}
		lhs = &BinaryExpr{Op: op.Lexeme, Left: lhs, Right: rhs}
	}
}

// parseUnary handles OP unary | primary. Any operator character can
// appear; whether unary<op> exists is resolved at code generation.
func (p *Parser) parseUnary() (Expr, error) {
	if p.peek().Type != OPERATOR {
		return p.parsePrimary()
	}
	op := p.advance()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Op: op.Lexeme, Operand: operand}, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch tok := p.peek(); tok.Type {
	case IDENTIFIER:
		return p.parseIdentExpr()
	case NUMBER:
		return p.parseNumberExpr()
	case LPAREN:
		return p.parseParenExpr()
	case LBRACKET:
		return p.parseVecLit()
	case MAP:
		return p.parseMapExpr()
	case IF:
		return p.parseIfExpr()
	case FOR:
		return p.parseForExpr()
	case VAR:
		return p.parseVarExpr()
	case EOF:
		return nil, p.incomplete("expected an expression")
	default:
		return nil, p.fmtError(tok, "expected an expression, got %s (%q)", tok.Type, tok.Lexeme)
	}
}

// parseIdentExpr handles a variable reference or a call.
func (p *Parser) parseIdentExpr() (Expr, error) {
	name := p.advance().Lexeme
	if p.peek().Type != LPAREN {
		return &VarRef{Name: name}, nil
	}
	p.advance() // eat '('
	args, err := p.parseArgs(RPAREN)
	if err != nil {
		return nil, err
	}
	return &FunctionCall{Name: name, Args: args}, nil
}

// parseArgs parses a comma-separated expression list up to closer,
// consuming it. An empty list is allowed.
func (p *Parser) parseArgs(closer TokenType) ([]Expr, error) {
	var args []Expr
	if p.peek().Type == closer {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch tok := p.advance(); tok.Type {
		case closer:
			return args, nil
		case COMMA:
		case EOF:
			return nil, p.incomplete("expected %s or ',' in argument list", closer)
		default:
			return nil, p.fmtError(tok, "expected %s or ',' in argument list, got %s (%q)", closer, tok.Type, tok.Lexeme)
		}
	}
}

func (p *Parser) parseNumberExpr() (Expr, error) {
	tok := p.advance()
	// The scanner only emits digits with at most one point, so the
	// only possible failure is range overflow, where ParseFloat
	// already returns the infinity strtod would.
	v, _ := strconv.ParseFloat(tok.Lexeme, 64)
	return &Number{Value: v}, nil
}

func (p *Parser) parseParenExpr() (Expr, error) {
	p.advance() // eat '('
	e, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Parser) parseVecLit() (Expr, error) {
	p.advance() // eat '['
	elems, err := p.parseArgs(RBRACKET)
	if err != nil {
		return nil, err
	}
	return &VecLit{Elems: elems}, nil
}

func (p *Parser) parseMapExpr() (Expr, error) {
	p.advance() // eat 'map'
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	callee := p.advance()
	if callee.Type != IDENTIFIER {
		if callee.Type == EOF {
			return nil, p.incomplete("expected a function name after map(")
		}
		return nil, p.fmtError(callee, "expected a function name as the first map argument, got %s (%q)", callee.Type, callee.Lexeme)
	}
	if _, err := p.expect(COMMA); err != nil {
		return nil, err
	}
	args, err := p.parseArgs(RPAREN)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, p.fmtError(callee, "map needs at least one vector argument")
	}
	return &MapExpr{Callee: callee.Lexeme, Args: args}, nil
}

func (p *Parser) parseIfExpr() (Expr, error) {
	p.advance() // eat 'if'
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(THEN); err != nil {
		return nil, err
	}
	then, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ELSE); err != nil {
		return nil, err
	}
	els, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &IfExpr{Cond: cond, Then: then, Else: els}, nil
}

func (p *Parser) parseForExpr() (Expr, error) {
	p.advance() // eat 'for'
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("="); err != nil {
		return nil, err
	}
	start, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(COMMA); err != nil {
		return nil, err
	}
	end, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	var step Expr
	if p.peek().Type == COMMA {
		p.advance()
		step, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(IN); err != nil {
		return nil, err
	}
	body, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &ForExpr{VarName: name.Lexeme, Start: start, End: end, Step: step, Body: body}, nil
}

func (p *Parser) parseVarExpr() (Expr, error) {
	p.advance() // eat 'var'
	var bindings []VarBinding
	for {
		switch tok := p.peek(); tok.Type {
		case VECTOR:
			p.advance()
			name := p.advance()
			if name.Type != IDENTIFIER {
				if name.Type == EOF {
					return nil, p.incomplete("expected a name after vector")
				}
				return nil, p.fmtError(name, "expected a name after vector, got %s (%q)", name.Type, name.Lexeme)
			}
			if _, err := p.expect(LBRACKET); err != nil {
				return nil, err
			}
			length, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			bindings = append(bindings, VarBinding{Name: name.Lexeme, Length: length})
		case IDENTIFIER:
			name := p.advance().Lexeme
			var init Expr
			if p.peek().Type == OPERATOR && p.peek().Lexeme == "=" {
				p.advance()
				var err error
				init, err = p.parseExpression()
				if err != nil {
					return nil, err
				}
			}
			bindings = append(bindings, VarBinding{Name: name, Init: init})
		case EOF:
			return nil, p.incomplete("expected a binding after var")
		default:
			return nil, p.fmtError(tok, "expected a name or vector binding after var, got %s (%q)", tok.Type, tok.Lexeme)
		}
		if p.peek().Type != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(IN); err != nil {
		return nil, err
	}
	body, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &VarExpr{Bindings: bindings, Body: body}, nil
}
