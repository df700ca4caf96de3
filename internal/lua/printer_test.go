package lua

import (
	"reflect"
	"strings"
	"testing"
)

var roundTripCorpus = []string{
	"local x = 1 return x",
	"print(\"hi\")",
	"for i = 1, 3 do print(i) end",
	"function f(a, b) return a + b end return f(2, 3)",
	"local t = {1, 2, x = 3, [\"k\"] = 4}",
	"if a then b() elseif c then d() else e() end",
	"while x < 10 do x = x + 1 end",
	"repeat x = x - 1 until x <= 0",
	"for k, v in pairs(t) do print(k, v) end",
	"local f = function(...) return ... end",
	"x = (1 + 2) * 3",
	"x = 1 + 2 * 3",
	"x = 2 ^ 3 ^ 4",
	"x = (2 ^ 3) ^ 4",
	"x = a .. b .. c",
	"x = (a .. b) .. c",
	"x = -(a + b)",
	"x = not (a and b)",
	"x = a | b ~ c & d << e >> f",
	"s = \"esc\\n\\t\\\"q\\\"\"",
	"obj:method(1)",
	"t[1].field.x = t.y[2]",
	"function m.a:b(x) return self.v + x end",
	"do local hidden = 1 end",
	"goto out ::out::",
	"local a, b, c = 1, nil, true",
}

// Reprinting and reparsing must give back an equivalent AST (whitespace,
// comments and redundant parentheses excepted).
func TestPrintParseRoundTrip(t *testing.T) {
	for _, src := range roundTripCorpus {
		first, err := Parse(src)
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		printed := Print(first)
		second, err := Parse(printed)
		if err != nil {
			t.Fatalf("reparse of %q failed: %v\nprinted:\n%s", src, err, printed)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("round trip changed AST for %q\nprinted:\n%s", src, printed)
		}
	}
}

// The round trip must be a fixed point: printing the reparsed AST yields the
// same text.
func TestPrintFixedPoint(t *testing.T) {
	for _, src := range roundTripCorpus {
		b := mustParse(t, src)
		once := Print(b)
		again := Print(mustParse(t, once))
		if once != again {
			t.Errorf("print not stable for %q:\n%s\nvs\n%s", src, once, again)
		}
	}
}

func TestPrintPrecedenceParens(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"x = (1 + 2) * 3", "(1 + 2) * 3"},
		{"x = 1 + 2 * 3", "1 + 2 * 3"},
		{"x = (a .. b) .. c", "(a .. b) .. c"},
		{"x = a .. b .. c", "a .. b .. c"},
		{"x = -(a + b)", "-(a + b)"},
	}
	for _, c := range cases {
		out := Print(mustParse(t, c.src))
		if !strings.Contains(out, c.want) {
			t.Errorf("%s printed as %q, want %q", c.src, strings.TrimSpace(out), c.want)
		}
	}
}

func TestPrintDropsRedundantParens(t *testing.T) {
	out := Print(mustParse(t, "x = (((1))) + (2 * 3)"))
	if strings.Contains(out, "(") {
		t.Errorf("redundant parens survived: %q", out)
	}
}

func TestQuoteStringMinimalEscaping(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", `"plain"`},
		{"a\nb", `"a\nb"`},
		{`back\slash`, `"back\\slash"`},
		{"nul\x00byte", `"nul\0byte"`},
		{"\x00" + "7", `"\0007"`}, // escape must not absorb the digit
	}
	for _, c := range cases {
		if got := QuoteString(c.in); got != c.want {
			t.Errorf("QuoteString(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestQuotedStringsRelex(t *testing.T) {
	for _, s := range []string{"", "hi", "line\nbreak", "\x00\x01\xFF", `mix"ed'`, "7digits\x007"} {
		quoted := QuoteString(s)
		toks := NewLexer(quoted).Tokens()
		if toks[0].Kind != TkString || toks[0].Lexeme != s {
			t.Errorf("relex of %q gave %v", s, toks[0])
		}
	}
}

func TestPrintRawEmitSplice(t *testing.T) {
	b := mustParse(t, "local x = 1")
	b.Stmts = append(b.Stmts, &RawEmit{Text: "print(x)"})
	out := Print(b)
	if !strings.Contains(out, "print(x)") {
		t.Errorf("raw emit not spliced: %q", out)
	}
	if _, err := Parse(out); err != nil {
		t.Errorf("spliced output must stay parseable: %v", err)
	}
}

func TestPrintFunctionCalleeParens(t *testing.T) {
	b := &Block{Stmts: []Stmt{&ExprStmt{Expr: &CallExpr{
		Callee: &FunctionExpr{Body: &Block{Stmts: []Stmt{&ReturnStmt{}}}},
	}}}}
	out := Print(b)
	if !strings.HasPrefix(strings.TrimSpace(out), "(function(") {
		t.Errorf("function expression callee needs parens: %q", out)
	}
	if _, err := Parse(out); err != nil {
		t.Errorf("printed call must parse: %v", err)
	}
}
