package lua

import (
	"fmt"
	"strings"
)

// Printer renders an AST back to source. Parentheses are inserted only where
// the parent operator binds strictly tighter than the child, or equally with
// opposite associativity on that side, so reprinting never changes meaning.
type Printer struct {
	b      strings.Builder
	indent int
}

const indentStep = "  "

// Print renders a chunk.
func Print(b *Block) string {
	p := &Printer{}
	p.stmts(b)
	return p.b.String()
}

// PrintExpr renders a single expression.
func PrintExpr(e Expr) string {
	p := &Printer{}
	p.expr(e, 0, false)
	return p.b.String()
}

func (p *Printer) line(s string) {
	for i := 0; i < p.indent; i++ {
		p.b.WriteString(indentStep)
	}
	p.b.WriteString(s)
	p.b.WriteByte('\n')
}

func (p *Printer) stmts(b *Block) {
	for _, s := range b.Stmts {
		p.stmt(s)
	}
}

func (p *Printer) nested(b *Block) {
	p.indent++
	p.stmts(b)
	p.indent--
}

func (p *Printer) stmt(s Stmt) {
	switch n := s.(type) {
	case *LocalStmt:
		line := "local " + strings.Join(n.Names, ", ")
		if len(n.Values) > 0 {
			line += " = " + p.exprList(n.Values)
		}
		p.line(line)
	case *AssignStmt:
		p.line(p.exprList(n.Targets) + " = " + p.exprList(n.Values))
	case *IfStmt:
		p.line("if " + p.renderExpr(n.Cond) + " then")
		p.nested(n.Then)
		for _, ei := range n.ElseIfs {
			p.line("elseif " + p.renderExpr(ei.Cond) + " then")
			p.nested(ei.Body)
		}
		if n.Else != nil {
			p.line("else")
			p.nested(n.Else)
		}
		p.line("end")
	case *NumericForStmt:
		head := fmt.Sprintf("for %s = %s, %s", n.Var, p.renderExpr(n.Start), p.renderExpr(n.End))
		if n.Step != nil {
			head += ", " + p.renderExpr(n.Step)
		}
		p.line(head + " do")
		p.nested(n.Body)
		p.line("end")
	case *GenericForStmt:
		p.line("for " + strings.Join(n.Vars, ", ") + " in " + p.exprList(n.Exprs) + " do")
		p.nested(n.Body)
		p.line("end")
	case *WhileStmt:
		p.line("while " + p.renderExpr(n.Cond) + " do")
		p.nested(n.Body)
		p.line("end")
	case *RepeatStmt:
		p.line("repeat")
		p.nested(n.Body)
		p.line("until " + p.renderExpr(n.Cond))
	case *ReturnStmt:
		if len(n.Exprs) == 0 {
			p.line("return")
		} else {
			p.line("return " + p.exprList(n.Exprs))
		}
	case *BreakStmt:
		p.line("break")
	case *GotoStmt:
		p.line("goto " + n.Label)
	case *LabelStmt:
		p.line("::" + n.Name + "::")
	case *DoStmt:
		p.line("do")
		p.nested(n.Body)
		p.line("end")
	case *Block:
		p.line("do")
		p.nested(n)
		p.line("end")
	case *FunctionDeclStmt:
		p.functionDecl(n)
	case *ExprStmt:
		p.line(p.renderExpr(n.Expr))
	case *RawEmit:
		// Pre-formed source: splice each payload line at the current indent.
		for _, ln := range strings.Split(strings.TrimRight(n.Text, "\n"), "\n") {
			p.line(ln)
		}
	}
}

func (p *Printer) functionDecl(n *FunctionDeclStmt) {
	head := "function "
	if n.IsLocal {
		head = "local function "
	}
	head += p.funcName(n.Name, n.IsMethod)
	head += "(" + paramList(n.Params, n.IsVararg) + ")"
	p.line(head)
	p.nested(n.Body)
	p.line("end")
}

// funcName prints a declaration name chain, using ':' before the final
// member of a method declaration.
func (p *Printer) funcName(e Expr, isMethod bool) string {
	if m, ok := e.(*MemberExpr); ok {
		sep := "."
		if isMethod {
			sep = ":"
		}
		return p.funcName(m.Obj, false) + sep + m.Member
	}
	return e.(*VariableExpr).Name
}

func paramList(params []string, vararg bool) string {
	parts := append([]string(nil), params...)
	if vararg {
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", ")
}

func (p *Printer) exprList(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = p.renderExpr(e)
	}
	return strings.Join(parts, ", ")
}

func (p *Printer) renderExpr(e Expr) string {
	sub := &Printer{}
	sub.expr(e, 0, false)
	return sub.b.String()
}

// expr writes e. prec is the binding strength of the enclosing operator on
// this side; rightSide tells which operand slot we are in for the
// associativity tie-break.
func (p *Printer) expr(e Expr, prec int, rightSide bool) {
	switch n := e.(type) {
	case *NumberExpr:
		p.b.WriteString(n.Raw)
	case *StringExpr:
		p.b.WriteString(QuoteString(n.Value))
	case *BooleanExpr:
		if n.Value {
			p.b.WriteString("true")
		} else {
			p.b.WriteString("false")
		}
	case *NilExpr:
		p.b.WriteString("nil")
	case *VarargExpr:
		p.b.WriteString("...")
	case *VariableExpr:
		p.b.WriteString(n.Name)
	case *MemberExpr:
		p.prefix(n.Obj)
		p.b.WriteString("." + n.Member)
	case *IndexExpr:
		p.prefix(n.Obj)
		p.b.WriteByte('[')
		p.expr(n.Index, 0, false)
		p.b.WriteByte(']')
	case *CallExpr:
		p.prefix(n.Callee)
		p.args(n.Args)
	case *MethodCallExpr:
		p.prefix(n.Obj)
		p.b.WriteString(":" + n.Method)
		p.args(n.Args)
	case *BinaryExpr:
		p.binary(n, prec, rightSide)
	case *UnaryExpr:
		p.unary(n, prec)
	case *FunctionExpr:
		p.b.WriteString("function(" + paramList(n.Params, n.IsVararg) + ")\n")
		p.indent++
		p.stmts(n.Body)
		p.indent--
		for i := 0; i < p.indent; i++ {
			p.b.WriteString(indentStep)
		}
		p.b.WriteString("end")
	case *TableExpr:
		p.table(n)
	case *RawEmit:
		p.b.WriteString(n.Text)
	}
}

// prefix writes an expression in prefix (callee/object) position, which the
// grammar restricts to names, index chains and calls; anything else gets
// wrapped in parentheses.
func (p *Printer) prefix(e Expr) {
	switch e.(type) {
	case *VariableExpr, *MemberExpr, *IndexExpr, *CallExpr, *MethodCallExpr, *RawEmit:
		p.expr(e, 0, false)
	default:
		p.b.WriteByte('(')
		p.expr(e, 0, false)
		p.b.WriteByte(')')
	}
}

func (p *Printer) args(args []Expr) {
	p.b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			p.b.WriteString(", ")
		}
		p.expr(a, 0, false)
	}
	p.b.WriteByte(')')
}

func (p *Printer) binary(n *BinaryExpr, prec int, rightSide bool) {
	myPrec := binaryPrec[n.Op]
	need := myPrec < prec || (myPrec == prec && rightSide != rightAssoc(n.Op))
	if need {
		p.b.WriteByte('(')
	}
	p.expr(n.Left, myPrec, false)
	p.b.WriteString(" " + n.Op + " ")
	p.expr(n.Right, myPrec, true)
	if need {
		p.b.WriteByte(')')
	}
}

func (p *Printer) unary(n *UnaryExpr, prec int) {
	need := unaryPrec < prec
	if need {
		p.b.WriteByte('(')
	}
	p.b.WriteString(n.Op)
	arg := &Printer{indent: p.indent}
	arg.expr(n.Arg, unaryPrec, true)
	rendered := arg.b.String()
	// "not" needs a separator; "- -x" must not collapse into a comment.
	if n.Op == "not" || (len(rendered) > 0 && rendered[0] == n.Op[0]) {
		p.b.WriteByte(' ')
	}
	p.b.WriteString(rendered)
	if need {
		p.b.WriteByte(')')
	}
}

func (p *Printer) table(n *TableExpr) {
	if len(n.Fields) == 0 {
		p.b.WriteString("{}")
		return
	}
	p.b.WriteByte('{')
	for i, f := range n.Fields {
		if i > 0 {
			p.b.WriteString(", ")
		}
		switch {
		case f.IsIndex():
			p.b.WriteByte('[')
			p.expr(f.Key, 0, false)
			p.b.WriteString("] = ")
		case f.IsNamed():
			p.b.WriteString(f.Name + " = ")
		}
		p.expr(f.Val, 0, false)
	}
	p.b.WriteByte('}')
}

// QuoteString renders a string literal with minimal escaping.
func QuoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7F {
				// Decimal escape; pad when a digit follows so the escape
				// does not absorb it.
				if i+1 < len(s) && isDigit(s[i+1]) {
					b.WriteString(fmt.Sprintf("\\%03d", c))
				} else {
					b.WriteString(fmt.Sprintf("\\%d", c))
				}
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
