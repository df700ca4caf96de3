package engine

import "github.com/benzoXdev/obfuslua/internal/lua"

// RenamePass alpha-renames user-introduced identifiers. References that do
// not resolve along the scope chain are globals or built-ins and stay
// untouched; member names and table keys are fields, not variables, and are
// never renamed.
type RenamePass struct{}

func (RenamePass) Name() string { return "rename" }

type scope struct {
	parent *scope
	names  map[string]string
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: make(map[string]string)}
}

func (s *scope) resolve(name string) (string, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if fresh, ok := sc.names[name]; ok {
			return fresh, true
		}
	}
	return "", false
}

func (s *scope) bind(name string, ctx *Ctx) string {
	if isReservedName(name) {
		// Never rebind the runtime's names, even when declared locally.
		s.names[name] = name
		return name
	}
	fresh := ctx.Oracle.Identifier()
	s.names[name] = fresh
	return fresh
}

func (p RenamePass) Apply(b *lua.Block, ctx *Ctx) error {
	p.block(b, newScope(nil), ctx)
	return nil
}

func (p RenamePass) block(b *lua.Block, parent *scope, ctx *Ctx) {
	sc := newScope(parent)
	for _, st := range b.Stmts {
		p.stmt(st, sc, ctx)
	}
}

func (p RenamePass) stmt(st lua.Stmt, sc *scope, ctx *Ctx) {
	switch n := st.(type) {
	case *lua.LocalStmt:
		// Values see the surrounding bindings, not the new ones.
		for _, v := range n.Values {
			p.expr(v, sc, ctx)
		}
		for i, name := range n.Names {
			n.Names[i] = sc.bind(name, ctx)
		}
	case *lua.AssignStmt:
		for _, t := range n.Targets {
			p.expr(t, sc, ctx)
		}
		for _, v := range n.Values {
			p.expr(v, sc, ctx)
		}
	case *lua.IfStmt:
		p.expr(n.Cond, sc, ctx)
		p.block(n.Then, sc, ctx)
		for _, ei := range n.ElseIfs {
			p.expr(ei.Cond, sc, ctx)
			p.block(ei.Body, sc, ctx)
		}
		if n.Else != nil {
			p.block(n.Else, sc, ctx)
		}
	case *lua.NumericForStmt:
		p.expr(n.Start, sc, ctx)
		p.expr(n.End, sc, ctx)
		if n.Step != nil {
			p.expr(n.Step, sc, ctx)
		}
		body := newScope(sc)
		n.Var = body.bind(n.Var, ctx)
		for _, st := range n.Body.Stmts {
			p.stmt(st, body, ctx)
		}
	case *lua.GenericForStmt:
		for _, e := range n.Exprs {
			p.expr(e, sc, ctx)
		}
		body := newScope(sc)
		for i, v := range n.Vars {
			n.Vars[i] = body.bind(v, ctx)
		}
		for _, st := range n.Body.Stmts {
			p.stmt(st, body, ctx)
		}
	case *lua.WhileStmt:
		p.expr(n.Cond, sc, ctx)
		p.block(n.Body, sc, ctx)
	case *lua.RepeatStmt:
		// The until condition sees the body's locals.
		body := newScope(sc)
		for _, st := range n.Body.Stmts {
			p.stmt(st, body, ctx)
		}
		p.expr(n.Cond, body, ctx)
	case *lua.ReturnStmt:
		for _, e := range n.Exprs {
			p.expr(e, sc, ctx)
		}
	case *lua.DoStmt:
		p.block(n.Body, sc, ctx)
	case *lua.Block:
		p.block(n, sc, ctx)
	case *lua.FunctionDeclStmt:
		p.functionDecl(n, sc, ctx)
	case *lua.ExprStmt:
		p.expr(n.Expr, sc, ctx)
	}
}

func (p RenamePass) functionDecl(n *lua.FunctionDeclStmt, sc *scope, ctx *Ctx) {
	if n.IsLocal {
		// local function binds the name before the body, so the function
		// can call itself.
		v := n.Name.(*lua.VariableExpr)
		v.Name = sc.bind(v.Name, ctx)
	} else {
		// The root of a dotted name is an ordinary reference; members stay.
		root := n.Name
		for {
			m, ok := root.(*lua.MemberExpr)
			if !ok {
				break
			}
			root = m.Obj
		}
		p.expr(root, sc, ctx)
	}
	p.funcBody(n.Params, n.IsMethod, n.Body, sc, ctx)
}

func (p RenamePass) funcBody(params []string, isMethod bool, body *lua.Block, sc *scope, ctx *Ctx) {
	inner := newScope(sc)
	if isMethod {
		inner.names["self"] = "self"
	}
	for i, param := range params {
		params[i] = inner.bind(param, ctx)
	}
	for _, st := range body.Stmts {
		p.stmt(st, inner, ctx)
	}
}

func (p RenamePass) expr(e lua.Expr, sc *scope, ctx *Ctx) {
	switch n := e.(type) {
	case *lua.VariableExpr:
		if fresh, ok := sc.resolve(n.Name); ok {
			n.Name = fresh
		}
	case *lua.MemberExpr:
		p.expr(n.Obj, sc, ctx)
	case *lua.IndexExpr:
		p.expr(n.Obj, sc, ctx)
		p.expr(n.Index, sc, ctx)
	case *lua.CallExpr:
		p.expr(n.Callee, sc, ctx)
		for _, a := range n.Args {
			p.expr(a, sc, ctx)
		}
	case *lua.MethodCallExpr:
		p.expr(n.Obj, sc, ctx)
		for _, a := range n.Args {
			p.expr(a, sc, ctx)
		}
	case *lua.BinaryExpr:
		p.expr(n.Left, sc, ctx)
		p.expr(n.Right, sc, ctx)
	case *lua.UnaryExpr:
		p.expr(n.Arg, sc, ctx)
	case *lua.FunctionExpr:
		p.funcBody(n.Params, false, n.Body, sc, ctx)
	case *lua.TableExpr:
		for _, f := range n.Fields {
			if f.Key != nil {
				p.expr(f.Key, sc, ctx)
			}
			p.expr(f.Val, sc, ctx)
		}
	}
}
