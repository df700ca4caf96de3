package lua

import (
	"errors"
	"strings"
	"testing"
)

func mustParse(t *testing.T, src string) *Block {
	t.Helper()
	b, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return b
}

func TestParseLocalAndReturn(t *testing.T) {
	b := mustParse(t, "local x = 1 return x")
	if len(b.Stmts) != 2 {
		t.Fatalf("got %d statements", len(b.Stmts))
	}
	loc, ok := b.Stmts[0].(*LocalStmt)
	if !ok || loc.Names[0] != "x" {
		t.Fatalf("stmt 0 = %#v", b.Stmts[0])
	}
	ret, ok := b.Stmts[1].(*ReturnStmt)
	if !ok || len(ret.Exprs) != 1 {
		t.Fatalf("stmt 1 = %#v", b.Stmts[1])
	}
}

func TestParsePrecedence(t *testing.T) {
	b := mustParse(t, "return 1 + 2 * 3")
	ret := b.Stmts[0].(*ReturnStmt)
	add, ok := ret.Exprs[0].(*BinaryExpr)
	if !ok || add.Op != "+" {
		t.Fatalf("root = %#v", ret.Exprs[0])
	}
	mul, ok := add.Right.(*BinaryExpr)
	if !ok || mul.Op != "*" {
		t.Fatalf("'*' should bind tighter: %#v", add.Right)
	}
}

func TestParseRightAssociative(t *testing.T) {
	// a .. b .. c parses as a .. (b .. c); same for ^.
	for _, op := range []string{"..", "^"} {
		b := mustParse(t, "return a "+op+" b "+op+" c")
		root := b.Stmts[0].(*ReturnStmt).Exprs[0].(*BinaryExpr)
		if _, ok := root.Right.(*BinaryExpr); !ok {
			t.Errorf("%s should nest to the right, got %#v", op, root)
		}
		if _, ok := root.Left.(*VariableExpr); !ok {
			t.Errorf("%s left operand should be a name, got %#v", op, root.Left)
		}
	}
}

func TestParseUnaryBinding(t *testing.T) {
	// not a == b parses as (not a) == b.
	b := mustParse(t, "return not a == b")
	root := b.Stmts[0].(*ReturnStmt).Exprs[0].(*BinaryExpr)
	if root.Op != "==" {
		t.Fatalf("root op = %s", root.Op)
	}
	if _, ok := root.Left.(*UnaryExpr); !ok {
		t.Fatalf("left should be unary, got %#v", root.Left)
	}
}

func TestParseStatements(t *testing.T) {
	srcs := []string{
		"do local a = 1 end",
		"if a then b() elseif c then d() else e() end",
		"for i = 1, 10, 2 do print(i) end",
		"for k, v in pairs(t) do print(k, v) end",
		"while x < 10 do x = x + 1 end",
		"repeat x = x - 1 until x == 0",
		"function f(a, b, ...) return a + b end",
		"local function g() return 1 end",
		"function obj.a.b:method(x) return self end",
		"t = {1, 2, x = 3, [k] = 4; 5}",
		"a, b = b, a",
		"obj:method(1, 2)",
		"f 'bare string'",
		"f {1, 2}",
		"goto done ::done::",
		"x = a | b ~ c & d << e",
		"x = #t + -y",
	}
	for _, src := range srcs {
		mustParse(t, src)
	}
}

func TestParseErrorOffset(t *testing.T) {
	_, err := Parse("local =")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Offset != 6 {
		t.Errorf("offset = %d, want 6", pe.Offset)
	}
	if pe.Got != "=" {
		t.Errorf("got = %q, want %q", pe.Got, "=")
	}
}

func TestParseBreakOutsideLoop(t *testing.T) {
	if _, err := Parse("break"); err == nil {
		t.Error("break outside a loop must be rejected")
	}
	if _, err := Parse("while true do break end"); err != nil {
		t.Errorf("break inside a loop must parse: %v", err)
	}
	// A function body resets the loop context.
	if _, err := Parse("while true do local f = function() break end end"); err == nil {
		t.Error("break inside a nested function must be rejected")
	}
}

func TestParseReturnMustCloseBlock(t *testing.T) {
	if _, err := Parse("return 1 print(2)"); err == nil {
		t.Error("statements after return must be rejected")
	}
}

func TestParseDepthLimit(t *testing.T) {
	deep := strings.Repeat("(", 2000) + "1" + strings.Repeat(")", 2000)
	_, err := Parse("return " + deep)
	var de *DepthError
	if !errors.As(err, &de) {
		t.Fatalf("expected DepthError, got %v", err)
	}
}

func TestParseUnknownTokenRejected(t *testing.T) {
	if _, err := Parse("local x = 1 ? 2"); err == nil {
		t.Error("unknown token must be rejected by the parser")
	}
}

func TestCloneIndependence(t *testing.T) {
	b := mustParse(t, "local x = {1, 2} if x then print(x) end")
	c := CloneBlock(b)
	c.Stmts[0].(*LocalStmt).Names[0] = "mutated"
	if b.Stmts[0].(*LocalStmt).Names[0] != "x" {
		t.Error("clone shares state with original")
	}
}
