package engine

import (
	"fmt"
	"strconv"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

// ControlFlowPass applies two sub-transforms in order: opaque predicates on
// conditionals and loops, then switch-dispatch flattening of eligible
// statement sequences.
type ControlFlowPass struct{}

func (ControlFlowPass) Name() string { return "control-flow" }

func (p ControlFlowPass) Apply(b *lua.Block, ctx *Ctx) error {
	if err := p.opaqueBlock(b, ctx); err != nil {
		return err
	}
	p.flattenIn(b, ctx, true)
	return nil
}

// --- opaque predicates ---

// opaqueTemplate builds a predicate with a statically known value. Every
// generated instance is re-evaluated before use; a template that fails its
// own claim is an internal error.
type opaqueTemplate struct {
	value bool
	build func(o *Oracle) lua.Expr
}

func num(v int) lua.Expr { return &lua.NumberExpr{Raw: strconv.Itoa(v)} }

func bin(op string, l, r lua.Expr) lua.Expr {
	return &lua.BinaryExpr{Op: op, Left: l, Right: r}
}

var opaqueTemplates = []opaqueTemplate{
	// (k * 0) == 0
	{true, func(o *Oracle) lua.Expr {
		return bin("==", bin("*", num(o.Range(2, 9999)), num(0)), num(0))
	}},
	// (k % m) < m for m > 0
	{true, func(o *Oracle) lua.Expr {
		m := o.Range(2, 97)
		return bin("<", bin("%", num(o.Range(0, 9999)), num(m)), num(m))
	}},
	// (k | m) >= k for non-negative k, m
	{true, func(o *Oracle) lua.Expr {
		k := o.Range(0, 9999)
		return bin(">=", bin("|", num(k), num(o.Range(0, 9999))), num(k))
	}},
	// (k & m) <= k
	{true, func(o *Oracle) lua.Expr {
		k := o.Range(0, 9999)
		return bin("<=", bin("&", num(k), num(o.Range(0, 9999))), num(k))
	}},
	// ((k << s) >> s) == k for small k
	{true, func(o *Oracle) lua.Expr {
		k := o.Range(0, 255)
		s := o.Range(1, 8)
		return bin("==", bin(">>", bin("<<", num(k), num(s)), num(s)), num(k))
	}},
	// (k * 0) == 1
	{false, func(o *Oracle) lua.Expr {
		return bin("==", bin("*", num(o.Range(2, 9999)), num(0)), num(1))
	}},
	// (k % m) >= m
	{false, func(o *Oracle) lua.Expr {
		m := o.Range(2, 97)
		return bin(">=", bin("%", num(o.Range(0, 9999)), num(m)), num(m))
	}},
	// k < k
	{false, func(o *Oracle) lua.Expr {
		k := o.Range(0, 9999)
		return bin("<", num(k), num(k))
	}},
}

// makeOpaque draws a template, instantiates it and checks the instance
// evaluates to its claimed constant.
func makeOpaque(o *Oracle, want bool) (lua.Expr, error) {
	for {
		t := opaqueTemplates[o.Intn(len(opaqueTemplates))]
		if t.value != want {
			continue
		}
		e := t.build(o)
		got, ok := evalConstPredicate(e)
		if !ok || got != t.value {
			return nil, &Internal{Stage: "control-flow", Cause: fmt.Errorf("opaque template produced %v, claimed %v", got, t.value)}
		}
		return e, nil
	}
}

// guard combines a condition with an opaque predicate without changing its
// truthiness: true-form uses "true-pred and cond", false-form uses
// "false-pred or cond".
func (p ControlFlowPass) guard(cond lua.Expr, ctx *Ctx) (lua.Expr, error) {
	if ctx.Oracle.Chance(50) {
		pred, err := makeOpaque(ctx.Oracle, true)
		if err != nil {
			return nil, err
		}
		return bin("and", pred, cond), nil
	}
	pred, err := makeOpaque(ctx.Oracle, false)
	if err != nil {
		return nil, err
	}
	return bin("or", pred, cond), nil
}

func (p ControlFlowPass) opaqueBlock(b *lua.Block, ctx *Ctx) error {
	for i, st := range b.Stmts {
		if err := p.opaqueStmt(&b.Stmts[i], st, ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p ControlFlowPass) opaqueStmt(slot *lua.Stmt, st lua.Stmt, ctx *Ctx) error {
	var err error
	switch n := st.(type) {
	case *lua.IfStmt:
		if n.Cond, err = p.guard(n.Cond, ctx); err != nil {
			return err
		}
		if err = p.opaqueBlock(n.Then, ctx); err != nil {
			return err
		}
		// elseif conditions are guards just like the leading one.
		for i := range n.ElseIfs {
			if n.ElseIfs[i].Cond, err = p.guard(n.ElseIfs[i].Cond, ctx); err != nil {
				return err
			}
			if err = p.opaqueBlock(n.ElseIfs[i].Body, ctx); err != nil {
				return err
			}
		}
		if n.Else != nil {
			return p.opaqueBlock(n.Else, ctx)
		}
	case *lua.WhileStmt:
		if n.Cond, err = p.guard(n.Cond, ctx); err != nil {
			return err
		}
		return p.opaqueBlock(n.Body, ctx)
	case *lua.NumericForStmt:
		// Loops without a condition get wrapped in an always-taken branch.
		if err = p.opaqueBlock(n.Body, ctx); err != nil {
			return err
		}
		return p.wrapLoop(slot, st, ctx)
	case *lua.GenericForStmt:
		if err = p.opaqueBlock(n.Body, ctx); err != nil {
			return err
		}
		return p.wrapLoop(slot, st, ctx)
	case *lua.RepeatStmt:
		return p.opaqueBlock(n.Body, ctx)
	case *lua.DoStmt:
		return p.opaqueBlock(n.Body, ctx)
	case *lua.Block:
		return p.opaqueBlock(n, ctx)
	case *lua.FunctionDeclStmt:
		return p.opaqueBlock(n.Body, ctx)
	case *lua.LocalStmt:
		for _, v := range n.Values {
			if fe, ok := v.(*lua.FunctionExpr); ok {
				if err = p.opaqueBlock(fe.Body, ctx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p ControlFlowPass) wrapLoop(slot *lua.Stmt, st lua.Stmt, ctx *Ctx) error {
	pred, err := makeOpaque(ctx.Oracle, true)
	if err != nil {
		return err
	}
	*slot = &lua.IfStmt{Cond: pred, Then: &lua.Block{Stmts: []lua.Stmt{st}}}
	return nil
}

// evalConstPredicate evaluates a constant integer/boolean expression.
func evalConstPredicate(e lua.Expr) (bool, bool) {
	v, ok := evalConst(e)
	if !ok {
		return false, false
	}
	b, isBool := v.(bool)
	return b && isBool, isBool
}

func evalConst(e lua.Expr) (any, bool) {
	switch n := e.(type) {
	case *lua.NumberExpr:
		v, err := strconv.ParseInt(n.Raw, 0, 64)
		if err != nil {
			return nil, false
		}
		return v, true
	case *lua.BooleanExpr:
		return n.Value, true
	case *lua.UnaryExpr:
		if n.Op != "-" {
			return nil, false
		}
		v, ok := evalConst(n.Arg)
		iv, isInt := v.(int64)
		if !ok || !isInt {
			return nil, false
		}
		return -iv, true
	case *lua.BinaryExpr:
		lv, lok := evalConst(n.Left)
		rv, rok := evalConst(n.Right)
		if !lok || !rok {
			return nil, false
		}
		li, lInt := lv.(int64)
		ri, rInt := rv.(int64)
		if !lInt || !rInt {
			return nil, false
		}
		switch n.Op {
		case "+":
			return li + ri, true
		case "-":
			return li - ri, true
		case "*":
			return li * ri, true
		case "%":
			if ri == 0 {
				return nil, false
			}
			return li % ri, true
		case "|":
			return li | ri, true
		case "&":
			return li & ri, true
		case "<<":
			return li << uint(ri), true
		case ">>":
			return li >> uint(ri), true
		case "==":
			return li == ri, true
		case "~=":
			return li != ri, true
		case "<":
			return li < ri, true
		case "<=":
			return li <= ri, true
		case ">":
			return li > ri, true
		case ">=":
			return li >= ri, true
		}
	}
	return nil, false
}

// --- switch-dispatch flattening ---

// flattenIn rewrites eligible nested blocks. topLevel guards the chunk
// itself: its trailing return belongs to the chunk, so only nested bodies
// are candidates there too (the safety scan excludes returns anyway).
func (p ControlFlowPass) flattenIn(b *lua.Block, ctx *Ctx, topLevel bool) {
	for _, st := range b.Stmts {
		switch n := st.(type) {
		case *lua.DoStmt:
			p.flattenIn(n.Body, ctx, false)
			p.maybeFlatten(n.Body, ctx)
		case *lua.WhileStmt:
			p.flattenIn(n.Body, ctx, false)
			p.maybeFlatten(n.Body, ctx)
		case *lua.IfStmt:
			p.flattenIn(n.Then, ctx, false)
			p.maybeFlatten(n.Then, ctx)
			for _, ei := range n.ElseIfs {
				p.flattenIn(ei.Body, ctx, false)
				p.maybeFlatten(ei.Body, ctx)
			}
			if n.Else != nil {
				p.flattenIn(n.Else, ctx, false)
				p.maybeFlatten(n.Else, ctx)
			}
		case *lua.NumericForStmt:
			p.flattenIn(n.Body, ctx, false)
			p.maybeFlatten(n.Body, ctx)
		case *lua.GenericForStmt:
			p.flattenIn(n.Body, ctx, false)
			p.maybeFlatten(n.Body, ctx)
		case *lua.RepeatStmt:
			p.flattenIn(n.Body, ctx, false)
		case *lua.FunctionDeclStmt:
			p.flattenIn(n.Body, ctx, false)
			p.maybeFlatten(n.Body, ctx)
		case *lua.Block:
			p.flattenIn(n, ctx, false)
			p.maybeFlatten(n, ctx)
		}
	}
}

// maybeFlatten rewrites stmts into a state-machine dispatch loop when every
// statement is safe to move into a closure. Hard preconditions: no break,
// return, goto or label anywhere inside (the rewrite would change their
// target), no vararg use (not visible from a nested function), and no
// top-level local declarations (their scope would not reach the following
// steps).
func (p ControlFlowPass) maybeFlatten(b *lua.Block, ctx *Ctx) {
	if len(b.Stmts) < 2 || !flattenSafe(b.Stmts) || !ctx.Oracle.Chance(60) {
		return
	}
	stateName := ctx.Oracle.Identifier()
	dispName := ctx.Oracle.Identifier()

	fields := make([]lua.TableField, len(b.Stmts))
	for i, st := range b.Stmts {
		next := lua.Expr(num(i + 2))
		if i == len(b.Stmts)-1 {
			next = &lua.NilExpr{}
		}
		body := &lua.Block{Stmts: []lua.Stmt{
			st,
			&lua.AssignStmt{Targets: []lua.Expr{&lua.VariableExpr{Name: stateName}}, Values: []lua.Expr{next}},
		}}
		fields[i] = lua.TableField{
			Key: num(i + 1),
			Val: &lua.FunctionExpr{Body: body},
		}
	}
	state := func() lua.Expr { return &lua.VariableExpr{Name: stateName} }
	dispatch := func() lua.Expr { return &lua.VariableExpr{Name: dispName} }
	loop := &lua.WhileStmt{
		Cond: bin("and",
			bin("~=", state(), &lua.NilExpr{}),
			bin("~=", &lua.IndexExpr{Obj: dispatch(), Index: state()}, &lua.NilExpr{})),
		Body: &lua.Block{Stmts: []lua.Stmt{
			&lua.ExprStmt{Expr: &lua.CallExpr{Callee: &lua.IndexExpr{Obj: dispatch(), Index: state()}}},
		}},
	}
	b.Stmts = []lua.Stmt{
		&lua.LocalStmt{Names: []string{stateName}, Values: []lua.Expr{num(1)}},
		&lua.LocalStmt{Names: []string{dispName}, Values: []lua.Expr{&lua.TableExpr{Fields: fields}}},
		loop,
	}
}

// flattenSafe scans statements for constructs that forbid the dispatch
// rewrite.
func flattenSafe(stmts []lua.Stmt) bool {
	for _, st := range stmts {
		switch st.(type) {
		case *lua.LocalStmt, *lua.FunctionDeclStmt:
			return false
		}
		if transfersControl(st) || usesVararg(st) {
			return false
		}
	}
	return true
}

func transfersControl(st lua.Stmt) bool {
	switch n := st.(type) {
	case *lua.BreakStmt, *lua.ReturnStmt, *lua.GotoStmt, *lua.LabelStmt:
		return true
	case *lua.IfStmt:
		if blockTransfers(n.Then) || blockTransfers(n.Else) {
			return true
		}
		for _, ei := range n.ElseIfs {
			if blockTransfers(ei.Body) {
				return true
			}
		}
	case *lua.DoStmt:
		return blockTransfers(n.Body)
	case *lua.Block:
		return blockTransfers(n)
	case *lua.WhileStmt:
		// break inside targets this inner loop: safe. goto/labels and
		// returns still escape.
		return blockEscapes(n.Body)
	case *lua.NumericForStmt:
		return blockEscapes(n.Body)
	case *lua.GenericForStmt:
		return blockEscapes(n.Body)
	case *lua.RepeatStmt:
		return blockEscapes(n.Body)
	}
	return false
}

func blockTransfers(b *lua.Block) bool {
	if b == nil {
		return false
	}
	for _, st := range b.Stmts {
		if transfersControl(st) {
			return true
		}
	}
	return false
}

// blockEscapes reports control transfers that escape an enclosing loop
// body: return, goto and labels; break is resolved by the loop itself.
func blockEscapes(b *lua.Block) bool {
	if b == nil {
		return false
	}
	for _, st := range b.Stmts {
		switch n := st.(type) {
		case *lua.ReturnStmt, *lua.GotoStmt, *lua.LabelStmt:
			return true
		case *lua.IfStmt:
			if blockEscapes(n.Then) || blockEscapes(n.Else) {
				return true
			}
			for _, ei := range n.ElseIfs {
				if blockEscapes(ei.Body) {
					return true
				}
			}
		case *lua.DoStmt:
			if blockEscapes(n.Body) {
				return true
			}
		case *lua.WhileStmt:
			if blockEscapes(n.Body) {
				return true
			}
		case *lua.NumericForStmt:
			if blockEscapes(n.Body) {
				return true
			}
		case *lua.GenericForStmt:
			if blockEscapes(n.Body) {
				return true
			}
		case *lua.RepeatStmt:
			if blockEscapes(n.Body) {
				return true
			}
		}
	}
	return false
}

func usesVararg(st lua.Stmt) bool {
	found := false
	var walkExpr func(e lua.Expr)
	var walkStmt func(s lua.Stmt)
	walkExpr = func(e lua.Expr) {
		if found || e == nil {
			return
		}
		switch n := e.(type) {
		case *lua.VarargExpr:
			found = true
		case *lua.MemberExpr:
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
			walkExpr(n.Obj)
			for _, a := range n.Args {
				walkExpr(a)
			}
		case *lua.BinaryExpr:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *lua.UnaryExpr:
			walkExpr(n.Arg)
		case *lua.TableExpr:
			for _, f := range n.Fields {
				walkExpr(f.Key)
				walkExpr(f.Val)
			}
			// A nested FunctionExpr has its own vararg scope; don't descend.
		}
	}
	walkStmt = func(s lua.Stmt) {
		if found {
			return
		}
		switch n := s.(type) {
		case *lua.LocalStmt:
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
			for _, st := range n.Then.Stmts {
				walkStmt(st)
			}
			for _, ei := range n.ElseIfs {
				walkExpr(ei.Cond)
				for _, st := range ei.Body.Stmts {
					walkStmt(st)
				}
			}
			if n.Else != nil {
				for _, st := range n.Else.Stmts {
					walkStmt(st)
				}
			}
		case *lua.NumericForStmt:
			walkExpr(n.Start)
			walkExpr(n.End)
			walkExpr(n.Step)
			for _, st := range n.Body.Stmts {
				walkStmt(st)
			}
		case *lua.GenericForStmt:
			for _, e := range n.Exprs {
				walkExpr(e)
			}
			for _, st := range n.Body.Stmts {
				walkStmt(st)
			}
		case *lua.WhileStmt:
			walkExpr(n.Cond)
			for _, st := range n.Body.Stmts {
				walkStmt(st)
			}
		case *lua.RepeatStmt:
			for _, st := range n.Body.Stmts {
				walkStmt(st)
			}
			walkExpr(n.Cond)
		case *lua.ReturnStmt:
			for _, e := range n.Exprs {
				walkExpr(e)
			}
		case *lua.DoStmt:
			for _, st := range n.Body.Stmts {
				walkStmt(st)
			}
		case *lua.Block:
			for _, st := range n.Stmts {
				walkStmt(st)
			}
		case *lua.ExprStmt:
			walkExpr(n.Expr)
		}
	}
	walkStmt(st)
	return found
}
