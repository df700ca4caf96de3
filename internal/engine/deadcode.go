package engine

import (
	"github.com/benzoXdev/obfuslua/internal/lua"
)

// DeadCodePass splices no-effect statements between the statements of a
// block. Templates are type-well-formed and observable-effect-free: no I/O,
// no global writes, no mutation of pre-existing values. Insertion density is
// capped at a configured fraction of the block's original statement count.
type DeadCodePass struct{}

func (DeadCodePass) Name() string { return "dead-code" }

// deadTemplates build a statement over fresh names only.
var deadTemplates = []func(o *Oracle) lua.Stmt{
	// A loop that breaks immediately.
	func(o *Oracle) lua.Stmt {
		return &lua.WhileStmt{
			Cond: &lua.BooleanExpr{Value: true},
			Body: &lua.Block{Stmts: []lua.Stmt{&lua.BreakStmt{}}},
		}
	},
	// Arithmetic on a fresh local, discarded by scope.
	func(o *Oracle) lua.Stmt {
		v := o.Identifier()
		return &lua.DoStmt{Body: &lua.Block{Stmts: []lua.Stmt{
			&lua.LocalStmt{Names: []string{v}, Values: []lua.Expr{
				bin("+", bin("*", num(o.Range(2, 500)), num(o.Range(2, 500))), num(o.Range(0, 99))),
			}},
			&lua.AssignStmt{
				Targets: []lua.Expr{&lua.VariableExpr{Name: v}},
				Values:  []lua.Expr{bin("-", &lua.VariableExpr{Name: v}, num(o.Range(1, 50)))},
			},
		}}}
	},
	// A function that is never referenced.
	func(o *Oracle) lua.Stmt {
		return &lua.FunctionDeclStmt{
			Name:    &lua.VariableExpr{Name: o.Identifier()},
			IsLocal: true,
			Params:  []string{o.Identifier()},
			Body: &lua.Block{Stmts: []lua.Stmt{
				&lua.ReturnStmt{Exprs: []lua.Expr{num(o.Range(0, 9999))}},
			}},
		}
	},
	// Table construction then teardown.
	func(o *Oracle) lua.Stmt {
		t := o.Identifier()
		return &lua.DoStmt{Body: &lua.Block{Stmts: []lua.Stmt{
			&lua.LocalStmt{Names: []string{t}, Values: []lua.Expr{
				&lua.TableExpr{Fields: []lua.TableField{
					{Val: num(o.Range(0, 255))},
					{Val: num(o.Range(0, 255))},
				}},
			}},
			&lua.AssignStmt{
				Targets: []lua.Expr{&lua.VariableExpr{Name: t}},
				Values:  []lua.Expr{&lua.NilExpr{}},
			},
		}}}
	},
	// A metatable installed on a fresh table whose methods never run.
	func(o *Oracle) lua.Stmt {
		t := o.Identifier()
		return &lua.DoStmt{Body: &lua.Block{Stmts: []lua.Stmt{
			&lua.LocalStmt{Names: []string{t}, Values: []lua.Expr{&lua.TableExpr{}}},
			&lua.ExprStmt{Expr: &lua.CallExpr{
				Callee: &lua.VariableExpr{Name: "setmetatable"},
				Args: []lua.Expr{
					&lua.VariableExpr{Name: t},
					&lua.TableExpr{Fields: []lua.TableField{{
						Name: "__index",
						Val: &lua.FunctionExpr{Body: &lua.Block{Stmts: []lua.Stmt{
							&lua.ReturnStmt{Exprs: []lua.Expr{num(o.Range(0, 9999))}},
						}}},
					}}},
				},
			}},
		}}}
	},
}

func (p DeadCodePass) Apply(b *lua.Block, ctx *Ctx) error {
	p.inject(b, ctx)
	return nil
}

func (p DeadCodePass) inject(b *lua.Block, ctx *Ctx) {
	// Recurse into nested bodies first so the density cap sees original
	// statement counts.
	for _, st := range b.Stmts {
		switch n := st.(type) {
		case *lua.IfStmt:
			p.inject(n.Then, ctx)
			for _, ei := range n.ElseIfs {
				p.inject(ei.Body, ctx)
			}
			if n.Else != nil {
				p.inject(n.Else, ctx)
			}
		case *lua.NumericForStmt:
			p.inject(n.Body, ctx)
		case *lua.GenericForStmt:
			p.inject(n.Body, ctx)
		case *lua.WhileStmt:
			p.inject(n.Body, ctx)
		case *lua.RepeatStmt:
			p.inject(n.Body, ctx)
		case *lua.DoStmt:
			p.inject(n.Body, ctx)
		case *lua.Block:
			p.inject(n, ctx)
		case *lua.FunctionDeclStmt:
			p.inject(n.Body, ctx)
		}
	}

	orig := len(b.Stmts)
	if orig == 0 {
		return
	}
	budget := orig * ctx.Opts.DeadCodeDensity / 100
	var out []lua.Stmt
	inserted := 0
	for i, st := range b.Stmts {
		// Never splice between a return and its block end, and keep the
		// chunk's leading position available for prologues.
		if inserted < budget && i > 0 && ctx.Oracle.Chance(35) {
			out = append(out, deadTemplates[ctx.Oracle.Intn(len(deadTemplates))](ctx.Oracle))
			inserted++
		}
		out = append(out, st)
	}
	b.Stmts = out
}
