package lua

// Deep copies. Passes that duplicate a subtree into two places must clone one
// side so the exclusive-ownership invariant keeps holding.

func CloneBlock(b *Block) *Block {
	if b == nil {
		return nil
	}
	out := &Block{Stmts: make([]Stmt, len(b.Stmts))}
	for i, s := range b.Stmts {
		out.Stmts[i] = CloneStmt(s)
	}
	return out
}

func CloneStmt(s Stmt) Stmt {
	switch n := s.(type) {
	case *Block:
		return CloneBlock(n)
	case *LocalStmt:
		return &LocalStmt{Names: cloneStrings(n.Names), Values: cloneExprs(n.Values)}
	case *AssignStmt:
		return &AssignStmt{Targets: cloneExprs(n.Targets), Values: cloneExprs(n.Values)}
	case *IfStmt:
		out := &IfStmt{Cond: CloneExpr(n.Cond), Then: CloneBlock(n.Then), Else: CloneBlock(n.Else)}
		for _, ei := range n.ElseIfs {
			out.ElseIfs = append(out.ElseIfs, ElseIf{Cond: CloneExpr(ei.Cond), Body: CloneBlock(ei.Body)})
		}
		return out
	case *NumericForStmt:
		return &NumericForStmt{Var: n.Var, Start: CloneExpr(n.Start), End: CloneExpr(n.End),
			Step: CloneExpr(n.Step), Body: CloneBlock(n.Body)}
	case *GenericForStmt:
		return &GenericForStmt{Vars: cloneStrings(n.Vars), Exprs: cloneExprs(n.Exprs), Body: CloneBlock(n.Body)}
	case *WhileStmt:
		return &WhileStmt{Cond: CloneExpr(n.Cond), Body: CloneBlock(n.Body)}
	case *RepeatStmt:
		return &RepeatStmt{Body: CloneBlock(n.Body), Cond: CloneExpr(n.Cond)}
	case *ReturnStmt:
		return &ReturnStmt{Exprs: cloneExprs(n.Exprs)}
	case *BreakStmt:
		return &BreakStmt{}
	case *GotoStmt:
		return &GotoStmt{Label: n.Label}
	case *LabelStmt:
		return &LabelStmt{Name: n.Name}
	case *DoStmt:
		return &DoStmt{Body: CloneBlock(n.Body)}
	case *FunctionDeclStmt:
		return &FunctionDeclStmt{Name: CloneExpr(n.Name), IsLocal: n.IsLocal, IsMethod: n.IsMethod,
			Params: cloneStrings(n.Params), IsVararg: n.IsVararg, Body: CloneBlock(n.Body)}
	case *ExprStmt:
		return &ExprStmt{Expr: CloneExpr(n.Expr)}
	case *RawEmit:
		return &RawEmit{Text: n.Text}
	}
	return s
}

func CloneExpr(e Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *NumberExpr:
		return &NumberExpr{Raw: n.Raw}
	case *StringExpr:
		return &StringExpr{Value: n.Value}
	case *BooleanExpr:
		return &BooleanExpr{Value: n.Value}
	case *NilExpr:
		return &NilExpr{}
	case *VarargExpr:
		return &VarargExpr{}
	case *VariableExpr:
		return &VariableExpr{Name: n.Name}
	case *MemberExpr:
		return &MemberExpr{Obj: CloneExpr(n.Obj), Member: n.Member}
	case *IndexExpr:
		return &IndexExpr{Obj: CloneExpr(n.Obj), Index: CloneExpr(n.Index)}
	case *CallExpr:
		return &CallExpr{Callee: CloneExpr(n.Callee), Args: cloneExprs(n.Args)}
	case *MethodCallExpr:
		return &MethodCallExpr{Obj: CloneExpr(n.Obj), Method: n.Method, Args: cloneExprs(n.Args)}
	case *BinaryExpr:
		return &BinaryExpr{Op: n.Op, Left: CloneExpr(n.Left), Right: CloneExpr(n.Right)}
	case *UnaryExpr:
		return &UnaryExpr{Op: n.Op, Arg: CloneExpr(n.Arg)}
	case *FunctionExpr:
		return &FunctionExpr{Params: cloneStrings(n.Params), IsVararg: n.IsVararg, Body: CloneBlock(n.Body)}
	case *TableExpr:
		out := &TableExpr{Fields: make([]TableField, len(n.Fields))}
		for i, f := range n.Fields {
			out.Fields[i] = TableField{Key: CloneExpr(f.Key), Name: f.Name, Val: CloneExpr(f.Val)}
		}
		return out
	case *RawEmit:
		return &RawEmit{Text: n.Text}
	}
	return e
}

func cloneExprs(es []Expr) []Expr {
	if es == nil {
		return nil
	}
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = CloneExpr(e)
	}
	return out
}

func cloneStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	copy(out, ss)
	return out
}
