package engine

import (
	"strings"
	"testing"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

// Every opaque template instance must evaluate to its claimed constant.
func TestOpaqueTemplatesHoldOverRandomInputs(t *testing.T) {
	o := NewOracle(123)
	for i := 0; i < 1000; i++ {
		for _, tmpl := range opaqueTemplates {
			e := tmpl.build(o)
			got, ok := evalConstPredicate(e)
			if !ok {
				t.Fatalf("template instance not constant-evaluable: %s", lua.PrintExpr(e))
			}
			if got != tmpl.value {
				t.Fatalf("template %s evaluated %v, claimed %v", lua.PrintExpr(e), got, tmpl.value)
			}
		}
	}
}

func TestOpaquePredicatesParse(t *testing.T) {
	o := NewOracle(5)
	for i := 0; i < 100; i++ {
		e, err := makeOpaque(o, i%2 == 0)
		if err != nil {
			t.Fatal(err)
		}
		if _, perr := lua.Parse("return " + lua.PrintExpr(e)); perr != nil {
			t.Fatalf("predicate %q does not parse: %v", lua.PrintExpr(e), perr)
		}
	}
}

func applyControlFlow(t *testing.T, src string, seed uint64) *lua.Block {
	t.Helper()
	root, err := lua.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	o := NewOracle(seed)
	collectIdentifiers(root, o)
	if err := (ControlFlowPass{}).Apply(root, &Ctx{Oracle: o, Opts: &Options{}}); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestGuardPreservesConditionShape(t *testing.T) {
	root := applyControlFlow(t, "if flag then print(1) end", 4)
	cond := root.Stmts[0].(*lua.IfStmt).Cond.(*lua.BinaryExpr)
	if cond.Op != "and" && cond.Op != "or" {
		t.Fatalf("guarded condition should be an and/or combination, got %s", cond.Op)
	}
	// The original condition survives as the right operand.
	if v, ok := cond.Right.(*lua.VariableExpr); !ok || v.Name != "flag" {
		t.Errorf("original condition lost: %#v", cond.Right)
	}
	// The predicate side is a known constant matching the combinator.
	val, ok := evalConstPredicate(cond.Left)
	if !ok {
		t.Fatal("predicate side is not constant")
	}
	if cond.Op == "and" && !val {
		t.Error("and-form needs an always-true predicate")
	}
	if cond.Op == "or" && val {
		t.Error("or-form needs an always-false predicate")
	}
}

func TestGuardCoversElseIfConditions(t *testing.T) {
	root := applyControlFlow(t, "if a then b() elseif c then d() elseif e then f() end", 12)
	ifst := root.Stmts[0].(*lua.IfStmt)
	for i, ei := range ifst.ElseIfs {
		cond, ok := ei.Cond.(*lua.BinaryExpr)
		if !ok || (cond.Op != "and" && cond.Op != "or") {
			t.Fatalf("elseif %d condition not guarded: %#v", i, ei.Cond)
		}
		val, constant := evalConstPredicate(cond.Left)
		if !constant {
			t.Fatalf("elseif %d predicate side is not constant", i)
		}
		if cond.Op == "and" && !val || cond.Op == "or" && val {
			t.Errorf("elseif %d predicate value %v contradicts its %s combinator", i, val, cond.Op)
		}
	}
	out := lua.Print(root)
	if _, err := lua.Parse(out); err != nil {
		t.Fatalf("guarded output must parse: %v", err)
	}
}

func TestNumericForGetsWrapped(t *testing.T) {
	root := applyControlFlow(t, "for i = 1, 3 do print(i) end", 8)
	ifst, ok := root.Stmts[0].(*lua.IfStmt)
	if !ok {
		t.Fatalf("loop should be wrapped in an opaque branch, got %#v", root.Stmts[0])
	}
	if val, ok := evalConstPredicate(ifst.Cond); !ok || !val {
		t.Error("loop wrapper must be always-true")
	}
	if _, ok := ifst.Then.Stmts[0].(*lua.NumericForStmt); !ok {
		t.Error("the original loop must sit inside the wrapper")
	}
}

func TestFlattenRewritesSafeBlock(t *testing.T) {
	src := "do x = 1 y = 2 z = 3 end"
	flattened := false
	for seed := uint64(0); seed < 16 && !flattened; seed++ {
		root := applyControlFlow(t, src, seed)
		out := lua.Print(root)
		if strings.Contains(out, "while") {
			flattened = true
			if _, err := lua.Parse(out); err != nil {
				t.Fatalf("flattened output must parse: %v\n%s", err, out)
			}
		}
	}
	if !flattened {
		t.Error("a safe 3-statement block never got flattened over 16 seeds")
	}
}

func TestFlattenSkipsControlTransfers(t *testing.T) {
	srcs := []string{
		"while cond do x = 1 break end",
		"function f() x = 1 return 2 end",
		"do x = 1 goto out end ::out::",
		"do ::lbl:: x = 1 end",
	}
	for _, src := range srcs {
		for seed := uint64(0); seed < 8; seed++ {
			root := applyControlFlow(t, src, seed)
			out := lua.Print(root)
			// The dispatch rewrite would introduce closures; control
			// transfers inside forbid it.
			if strings.Contains(out, "[1] = function") {
				t.Errorf("block with control transfer was flattened (seed %d):\n%s", seed, out)
			}
		}
	}
}

func TestFlattenSkipsLocalDeclarations(t *testing.T) {
	// Locals declared in one step would not be visible in the next.
	for seed := uint64(0); seed < 8; seed++ {
		root := applyControlFlow(t, "do local a = 1 x = a end", seed)
		out := lua.Print(root)
		if strings.Contains(out, "[1] = function") {
			t.Errorf("block with local declarations was flattened:\n%s", out)
		}
	}
}

func TestFlattenedDispatchShape(t *testing.T) {
	var root *lua.Block
	for seed := uint64(0); seed < 32; seed++ {
		r := applyControlFlow(t, "do x = 1 y = 2 end", seed)
		if strings.Contains(lua.Print(r), "[1] = function") {
			root = r
			break
		}
	}
	if root == nil {
		t.Skip("no seed flattened the block")
	}
	out := lua.Print(root)
	// state starts at 1, dispatch table indexed by state, loop guards on
	// both state and table entry.
	if !strings.Contains(out, "= 1") || !strings.Contains(out, "while") || !strings.Contains(out, "~= nil") {
		t.Errorf("dispatch loop malformed:\n%s", out)
	}
	if _, err := lua.Parse(out); err != nil {
		t.Fatalf("dispatch output must parse: %v", err)
	}
}

func TestControlFlowDeterministic(t *testing.T) {
	a := lua.Print(applyControlFlow(t, "if a then b() end for i = 1, 9 do c() end", 6))
	b := lua.Print(applyControlFlow(t, "if a then b() end for i = 1, 9 do c() end", 6))
	if a != b {
		t.Error("same seed must transform identically")
	}
}
