package compiler

import (
	"fmt"
	"strings"
)

//  Expression nodes

// Expr is implemented by every node that produces a value. The
// language has no statements: definitions bind a single body
// expression, and control flow (if, for, var) is expression-shaped.
type Expr interface {
	exprNode()
	String() string
}

// Number is a floating point constant.
//
//	x + 1.5
//	    ^^^  Number{Value: 1.5}
type Number struct {
	Value float64
}

func (*Number) exprNode()        {}
func (n *Number) String() string { return fmt.Sprintf("%g", n.Value) }

// VarRef is a read of a named variable.
//
//	x + 1
//	^  VarRef{Name: "x"}
type VarRef struct {
	Name string
}

func (*VarRef) exprNode()        {}
func (v *VarRef) String() string { return v.Name }

// UnaryExpr represents Op Operand for a user-defined unary operator.
// There are no builtin unary operators: -x is an error unless the
// program defines unary-.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (*UnaryExpr) exprNode()        {}
func (u *UnaryExpr) String() string { return fmt.Sprintf("(%s%s)", u.Op, u.Operand) }

// BinaryExpr represents Left Op Right. Op is a single operator
// character: a builtin (+ - * / < > =) or a user-defined one.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// FunctionCall represents name(args).
type FunctionCall struct {
	Name string
	Args []Expr
}

func (*FunctionCall) exprNode() {}
func (c *FunctionCall) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, joinExprs(c.Args))
}

// MapExpr represents map(callee, v1, ..., vn): apply the scalar
// function callee elementwise across the argument vectors on the
// accelerator, yielding a fresh vector.
type MapExpr struct {
	Callee string
	Args   []Expr
}

func (*MapExpr) exprNode() {}
func (m *MapExpr) String() string {
	return fmt.Sprintf("map(%s, %s)", m.Callee, joinExprs(m.Args))
}

// VecLit represents [e1, ..., ek]: a fresh k-element vector.
type VecLit struct {
	Elems []Expr
}

func (*VecLit) exprNode()        {}
func (v *VecLit) String() string { return "[" + joinExprs(v.Elems) + "]" }

// IfExpr represents if cond then a else b. Both arms are always
// present and must produce the same type; the expression yields the
// taken arm's value.
type IfExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

func (*IfExpr) exprNode() {}
func (i *IfExpr) String() string {
	return fmt.Sprintf("(if %s then %s else %s)", i.Cond, i.Then, i.Else)
}

// ForExpr represents for name = start, end [, step] in body. Step may
// be nil (defaults to 1.0). The end condition is tested before every
// iteration including the first; the expression always yields 0.0.
type ForExpr struct {
	VarName string
	Start   Expr
	End     Expr
	Step    Expr // may be nil
	Body    Expr
}

func (*ForExpr) exprNode() {}
func (f *ForExpr) String() string {
	if f.Step != nil {
		return fmt.Sprintf("(for %s = %s, %s, %s in %s)", f.VarName, f.Start, f.End, f.Step, f.Body)
	}
	return fmt.Sprintf("(for %s = %s, %s in %s)", f.VarName, f.Start, f.End, f.Body)
}

// VarBinding is one binding of a var expression: either a scalar
// name with an optional initializer, or a vector name with a length
// expression (Length non-nil marks the vector form; vector bindings
// take no initializer).
type VarBinding struct {
	Name   string
	Length Expr // non-nil: vector of this length
	Init   Expr // scalar initializer, may be nil (defaults to 0.0)
}

func (b VarBinding) String() string {
	if b.Length != nil {
		return fmt.Sprintf("vector %s[%s]", b.Name, b.Length)
	}
	if b.Init != nil {
		return fmt.Sprintf("%s = %s", b.Name, b.Init)
	}
	return b.Name
}

// VarExpr represents var b1, ..., bk in body. Initializers are
// evaluated before their binding is installed, so var a = a in ...
// reads the outer a.
type VarExpr struct {
	Bindings []VarBinding
	Body     Expr
}

func (*VarExpr) exprNode() {}
func (v *VarExpr) String() string {
	parts := make([]string, len(v.Bindings))
	for i, b := range v.Bindings {
		parts[i] = b.String()
	}
	return fmt.Sprintf("(var %s in %s)", strings.Join(parts, ", "), v.Body)
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

//  Declarations

// ParamDecl is one formal parameter: a name, vector-typed when the
// prototype prefixed it with the vector keyword.
type ParamDecl struct {
	Name     string
	IsVector bool
}

func (p ParamDecl) String() string {
	if p.IsVector {
		return "vector " + p.Name
	}
	return p.Name
}

// Prototype describes a function's calling surface: name, parameters,
// return type, and operator role. Operator definitions are ordinary
// functions under a mangled name: def binary$ becomes "binary$", def
// unary! becomes "unary!", and the code generator emits calls to
// those names when it meets the operator.
type Prototype struct {
	Name   string
	Params []ParamDecl
	RetVec bool // returns a vector
	IsOp   bool // defined via 'binary' or 'unary'
	Prec   int  // binary operator precedence, 1..100
}

// IsUnaryOp reports whether this prototype declares a unary operator.
func (p *Prototype) IsUnaryOp() bool { return p.IsOp && len(p.Params) == 1 }

// IsBinaryOp reports whether this prototype declares a binary operator.
func (p *Prototype) IsBinaryOp() bool { return p.IsOp && len(p.Params) == 2 }

// OperatorName returns the operator character of an operator
// prototype, e.g. "$" for the function named "binary$".
func (p *Prototype) OperatorName() string {
	if strings.HasPrefix(p.Name, "binary") {
		return p.Name[len("binary"):]
	}
	return p.Name[len("unary"):]
}

func (p *Prototype) String() string {
	parts := make([]string, len(p.Params))
	for i, d := range p.Params {
		parts[i] = d.String()
	}
	ret := ""
	if p.RetVec {
		ret = "vector "
	}
	return fmt.Sprintf("%s%s(%s)", ret, p.Name, strings.Join(parts, " "))
}

// Function is a definition: a prototype plus its body expression.
type Function struct {
	Proto *Prototype
	Body  Expr
}

func (f *Function) String() string {
	return fmt.Sprintf("def %s %s", f.Proto, f.Body)
}
