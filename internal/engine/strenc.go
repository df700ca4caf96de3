package engine

import (
	"fmt"
	"strings"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

// StringEncryptPass replaces every string literal with a call to a decoder
// closure emitted once in the program prologue. Encoding composes three
// invertible transforms: the non-linear multiply-xorshift rounds, a
// per-call-key index xor, and a session permutation table. The decoder call
// carries the per-call key as its first argument, followed by the encoded
// bytes.
type StringEncryptPass struct {
	decoderName string
	permName    string
	perm        [256]byte
	inv         [256]byte
}

func (*StringEncryptPass) Name() string { return "string-encrypt" }

func (p *StringEncryptPass) Apply(b *lua.Block, ctx *Ctx) error {
	p.decoderName = ctx.Oracle.Identifier()
	p.permName = ctx.Oracle.Identifier()
	p.perm, p.inv = randomPermutation(ctx.Oracle)
	p.rewriteBlock(b, ctx)
	ctx.Prologue = append(ctx.Prologue, &lua.RawEmit{Text: p.decoderSource(ctx)})
	return nil
}

// encodeCall renders one encoded literal as a decoder-call expression.
func (p *StringEncryptPass) encodeCall(s string, ctx *Ctx) lua.Expr {
	key := byte(ctx.Oracle.Range(0, 255))
	enc := encodeString(s, key, &p.perm)
	parts := make([]string, 0, len(enc)+1)
	parts = append(parts, fmt.Sprintf("%d", key))
	for _, b := range enc {
		parts = append(parts, fmt.Sprintf("%d", b))
	}
	return &lua.RawEmit{Text: fmt.Sprintf("%s(%s)", p.decoderName, strings.Join(parts, ", "))}
}

// decoderSource emits the inverse permutation table and the decoder closure.
// The decoder reverses the three stages in reverse order: inverse table,
// index xor, then the multiply-xorshift rounds undone with the modular
// inverses 223, 197, 183.
func (p *StringEncryptPass) decoderSource(ctx *Ctx) string {
	kv := ctx.Oracle.Identifier()
	argv := ctx.Oracle.Identifier()
	outv := ctx.Oracle.Identifier()
	iv := ctx.Oracle.Identifier()
	bv := ctx.Oracle.Identifier()
	xv := ctx.Oracle.Identifier()

	var sb strings.Builder
	sb.WriteString("local " + p.permName + " = {[0] = ")
	for i, v := range p.inv {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", v))
	}
	sb.WriteString("}\n")
	sb.WriteString("local function " + p.decoderName + "(" + kv + ", ...)\n")
	sb.WriteString("  local " + argv + " = {...}\n")
	sb.WriteString("  local " + outv + " = {}\n")
	sb.WriteString("  for " + iv + " = 1, #" + argv + " do\n")
	sb.WriteString("    local " + bv + " = " + p.permName + "[" + argv + "[" + iv + "]]\n")
	sb.WriteString("    " + bv + " = " + bv + " ~ " + kv + " ~ (((" + iv + " - 1) * 17) % 256)\n")
	sb.WriteString("    " + bv + " = " + bv + " ~ (" + bv + " >> 5)\n")
	sb.WriteString("    " + bv + " = (" + bv + " * 223) % 256\n")
	sb.WriteString("    local " + xv + " = " + bv + "\n")
	sb.WriteString("    " + xv + " = " + bv + " ~ ((" + xv + " << 3) % 256)\n")
	sb.WriteString("    " + xv + " = " + bv + " ~ ((" + xv + " << 3) % 256)\n")
	sb.WriteString("    " + xv + " = " + bv + " ~ ((" + xv + " << 3) % 256)\n")
	sb.WriteString("    " + xv + " = (" + xv + " * 197) % 256\n")
	sb.WriteString("    " + xv + " = " + xv + " ~ (" + xv + " >> 4)\n")
	sb.WriteString("    " + xv + " = (" + xv + " * 183) % 256\n")
	sb.WriteString("    " + outv + "[" + iv + "] = string.char(" + xv + ")\n")
	sb.WriteString("  end\n")
	sb.WriteString("  return table.concat(" + outv + ")\n")
	sb.WriteString("end")
	return sb.String()
}

func (p *StringEncryptPass) rewriteBlock(b *lua.Block, ctx *Ctx) {
	for _, st := range b.Stmts {
		p.rewriteStmt(st, ctx)
	}
}

func (p *StringEncryptPass) rewriteStmt(st lua.Stmt, ctx *Ctx) {
	switch n := st.(type) {
	case *lua.LocalStmt:
		p.rewriteExprs(n.Values, ctx)
	case *lua.AssignStmt:
		p.rewriteExprs(n.Targets, ctx)
		p.rewriteExprs(n.Values, ctx)
	case *lua.IfStmt:
		n.Cond = p.rewriteExpr(n.Cond, ctx)
		p.rewriteBlock(n.Then, ctx)
		for i := range n.ElseIfs {
			n.ElseIfs[i].Cond = p.rewriteExpr(n.ElseIfs[i].Cond, ctx)
			p.rewriteBlock(n.ElseIfs[i].Body, ctx)
		}
		if n.Else != nil {
			p.rewriteBlock(n.Else, ctx)
		}
	case *lua.NumericForStmt:
		n.Start = p.rewriteExpr(n.Start, ctx)
		n.End = p.rewriteExpr(n.End, ctx)
		if n.Step != nil {
			n.Step = p.rewriteExpr(n.Step, ctx)
		}
		p.rewriteBlock(n.Body, ctx)
	case *lua.GenericForStmt:
		p.rewriteExprs(n.Exprs, ctx)
		p.rewriteBlock(n.Body, ctx)
	case *lua.WhileStmt:
		n.Cond = p.rewriteExpr(n.Cond, ctx)
		p.rewriteBlock(n.Body, ctx)
	case *lua.RepeatStmt:
		p.rewriteBlock(n.Body, ctx)
		n.Cond = p.rewriteExpr(n.Cond, ctx)
	case *lua.ReturnStmt:
		p.rewriteExprs(n.Exprs, ctx)
	case *lua.DoStmt:
		p.rewriteBlock(n.Body, ctx)
	case *lua.Block:
		p.rewriteBlock(n, ctx)
	case *lua.FunctionDeclStmt:
		p.rewriteBlock(n.Body, ctx)
	case *lua.ExprStmt:
		n.Expr = p.rewriteExpr(n.Expr, ctx)
	}
}

func (p *StringEncryptPass) rewriteExprs(es []lua.Expr, ctx *Ctx) {
	for i, e := range es {
		es[i] = p.rewriteExpr(e, ctx)
	}
}

func (p *StringEncryptPass) rewriteExpr(e lua.Expr, ctx *Ctx) lua.Expr {
	switch n := e.(type) {
	case *lua.StringExpr:
		return p.encodeCall(n.Value, ctx)
	case *lua.MemberExpr:
		n.Obj = p.rewriteExpr(n.Obj, ctx)
	case *lua.IndexExpr:
		n.Obj = p.rewriteExpr(n.Obj, ctx)
		n.Index = p.rewriteExpr(n.Index, ctx)
	case *lua.CallExpr:
		n.Callee = p.rewriteExpr(n.Callee, ctx)
		p.rewriteExprs(n.Args, ctx)
	case *lua.MethodCallExpr:
		n.Obj = p.rewriteExpr(n.Obj, ctx)
		p.rewriteExprs(n.Args, ctx)
	case *lua.BinaryExpr:
		n.Left = p.rewriteExpr(n.Left, ctx)
		n.Right = p.rewriteExpr(n.Right, ctx)
	case *lua.UnaryExpr:
		n.Arg = p.rewriteExpr(n.Arg, ctx)
	case *lua.FunctionExpr:
		p.rewriteBlock(n.Body, ctx)
	case *lua.TableExpr:
		for i := range n.Fields {
			if n.Fields[i].Key != nil {
				n.Fields[i].Key = p.rewriteExpr(n.Fields[i].Key, ctx)
			}
			n.Fields[i].Val = p.rewriteExpr(n.Fields[i].Val, ctx)
		}
	}
	return e
}
