package engine

import "github.com/benzoXdev/obfuslua/internal/lua"

// BuildPipeline assembles the ordered pass chain for the enabled options.
// Order matters: renaming first so later passes see final names, string
// encryption before the VM pass so no plaintext literal can leak into a
// constant table, guards last so their snippets land at the top of the
// prologue list after the decoder.
func BuildPipeline(opts *Options) []Pass {
	var passes []Pass
	if opts.VariableRenaming {
		passes = append(passes, RenamePass{})
	}
	if opts.StringEncryption {
		passes = append(passes, &StringEncryptPass{})
	}
	if opts.ControlFlow {
		passes = append(passes, ControlFlowPass{})
	}
	if opts.VM {
		// Before dead code: injected statements would disqualify otherwise
		// compilable bodies.
		passes = append(passes, VMWrapPass{})
	}
	if opts.DeadCode {
		passes = append(passes, DeadCodePass{})
	}
	if opts.anyGuard() {
		passes = append(passes, AntiAnalysisPass{})
	}
	return passes
}

// collectIdentifiers walks the AST and reserves every identifier already in
// use, so oracle-issued names can never collide with program names.
func collectIdentifiers(b *lua.Block, o *Oracle) {
	var walkExpr func(e lua.Expr)
	var walkBlock func(b *lua.Block)
	var walkStmt func(s lua.Stmt)
	walkExpr = func(e lua.Expr) {
		switch n := e.(type) {
		case *lua.VariableExpr:
			o.Reserve(n.Name)
		case *lua.MemberExpr:
			o.Reserve(n.Member)
			walkExpr(n.Obj)
		case *lua.IndexExpr:
			walkExpr(n.Obj)
			walkExpr(n.Index)
		case *lua.CallExpr:
			walkExpr(n.Callee)
			for _, a := range n.Args {
				walkExpr(a)
			}
		case *lua.MethodCallExpr:
			o.Reserve(n.Method)
			walkExpr(n.Obj)
			for _, a := range n.Args {
				walkExpr(a)
			}
		case *lua.BinaryExpr:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *lua.UnaryExpr:
			walkExpr(n.Arg)
		case *lua.FunctionExpr:
			o.Reserve(n.Params...)
			walkBlock(n.Body)
		case *lua.TableExpr:
			for _, f := range n.Fields {
				if f.Key != nil {
					walkExpr(f.Key)
				}
				if f.Name != "" {
					o.Reserve(f.Name)
				}
				walkExpr(f.Val)
			}
		}
	}
	walkStmt = func(s lua.Stmt) {
		switch n := s.(type) {
		case *lua.LocalStmt:
			o.Reserve(n.Names...)
			for _, v := range n.Values {
				walkExpr(v)
			}
		case *lua.AssignStmt:
			for _, t := range n.Targets {
				walkExpr(t)
			}
			for _, v := range n.Values {
				walkExpr(v)
			}
		case *lua.IfStmt:
			walkExpr(n.Cond)
			walkBlock(n.Then)
			for _, ei := range n.ElseIfs {
				walkExpr(ei.Cond)
				walkBlock(ei.Body)
			}
			if n.Else != nil {
				walkBlock(n.Else)
			}
		case *lua.NumericForStmt:
			o.Reserve(n.Var)
			walkExpr(n.Start)
			walkExpr(n.End)
			if n.Step != nil {
				walkExpr(n.Step)
			}
			walkBlock(n.Body)
		case *lua.GenericForStmt:
			o.Reserve(n.Vars...)
			for _, e := range n.Exprs {
				walkExpr(e)
			}
			walkBlock(n.Body)
		case *lua.WhileStmt:
			walkExpr(n.Cond)
			walkBlock(n.Body)
		case *lua.RepeatStmt:
			walkBlock(n.Body)
			walkExpr(n.Cond)
		case *lua.ReturnStmt:
			for _, e := range n.Exprs {
				walkExpr(e)
			}
		case *lua.GotoStmt:
			o.Reserve(n.Label)
		case *lua.LabelStmt:
			o.Reserve(n.Name)
		case *lua.DoStmt:
			walkBlock(n.Body)
		case *lua.Block:
			walkBlock(n)
		case *lua.FunctionDeclStmt:
			o.Reserve(n.Params...)
			walkExpr(n.Name)
			walkBlock(n.Body)
		case *lua.ExprStmt:
			walkExpr(n.Expr)
		}
	}
	walkBlock = func(b *lua.Block) {
		for _, st := range b.Stmts {
			walkStmt(st)
		}
	}
	walkBlock(b)
}
