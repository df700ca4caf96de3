package engine

import (
	"strings"
	"testing"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

func encryptSource(t *testing.T, src string, seed uint64) (*lua.Block, *Ctx) {
	t.Helper()
	root, err := lua.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	o := NewOracle(seed)
	collectIdentifiers(root, o)
	ctx := &Ctx{Oracle: o, Opts: &Options{}}
	if err := (&StringEncryptPass{}).Apply(root, ctx); err != nil {
		t.Fatal(err)
	}
	root.Stmts = append(append([]lua.Stmt{}, ctx.Prologue...), root.Stmts...)
	return root, ctx
}

func TestStringEncryptRemovesPlaintext(t *testing.T) {
	root, _ := encryptSource(t, `print("secret payload")`, 42)
	out := lua.Print(root)
	if strings.Contains(out, "secret") || strings.Contains(out, "payload") {
		t.Errorf("plaintext survived:\n%s", out)
	}
	if _, err := lua.Parse(out); err != nil {
		t.Errorf("output with decoder prologue must parse: %v", err)
	}
}

func TestStringEncryptEmitsOneDecoder(t *testing.T) {
	root, _ := encryptSource(t, `local a = "one" local b = "two" local c = "three"`, 7)
	out := lua.Print(root)
	if got := strings.Count(out, "local function "); got != 1 {
		t.Errorf("expected exactly one decoder closure, found %d:\n%s", got, out)
	}
	if got := strings.Count(out, "string.char"); got != 1 {
		t.Errorf("decoder body emitted %d times", got)
	}
}

// The emitted decoder must invert the Go-side encoder. The Go decode mirror
// follows the emitted source operation for operation, so pinning the mirror
// against the encoder pins the emitted decoder too.
func TestStringEncryptReversibility(t *testing.T) {
	o := NewOracle(1)
	perm, inv := randomPermutation(o)
	fuzz := []string{"", "a", "hi", "longer ascii text with spaces"}
	// add generated cases: every byte value appears
	var all strings.Builder
	for i := 0; i < 256; i++ {
		all.WriteByte(byte(i))
	}
	fuzz = append(fuzz, all.String())
	for i := 0; i < 200; i++ {
		n := o.Range(0, 64)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteByte(byte(o.Range(0, 255)))
		}
		fuzz = append(fuzz, b.String())
	}
	for _, s := range fuzz {
		key := byte(o.Range(0, 255))
		if got := decodeString(encodeString(s, key, &perm), key, &inv); got != s {
			t.Fatalf("round trip failed for %q", s)
		}
	}
}

func TestStringEncryptDecoderShape(t *testing.T) {
	root, ctx := encryptSource(t, `return "xyz"`, 3)
	if len(ctx.Prologue) != 1 {
		t.Fatalf("expected one prologue statement, got %d", len(ctx.Prologue))
	}
	raw := ctx.Prologue[0].(*lua.RawEmit)
	if _, err := lua.Parse(raw.Text); err != nil {
		t.Fatalf("decoder prologue must be legal source: %v", err)
	}
	// The modular inverses of the round multipliers appear in the decoder.
	for _, inv := range []string{"223", "197", "183"} {
		if !strings.Contains(raw.Text, inv) {
			t.Errorf("decoder body missing inverse %s", inv)
		}
	}
	out := lua.Print(root)
	if !strings.Contains(out, "(") {
		t.Errorf("call site missing:\n%s", out)
	}
}

func TestStringEncryptEmptyString(t *testing.T) {
	root, _ := encryptSource(t, `return ""`, 9)
	out := lua.Print(root)
	if strings.Contains(out, `""`) {
		t.Errorf("empty literal should also be routed through the decoder:\n%s", out)
	}
	if _, err := lua.Parse(out); err != nil {
		t.Errorf("output must parse: %v", err)
	}
}

func TestStringEncryptDeterministic(t *testing.T) {
	a, _ := encryptSource(t, `print("hi")`, 42)
	b, _ := encryptSource(t, `print("hi")`, 42)
	if lua.Print(a) != lua.Print(b) {
		t.Error("same seed must encrypt identically")
	}
}

func TestStringEncryptTableKeysSurvive(t *testing.T) {
	root, _ := encryptSource(t, `local t = {name = "val", ["lit"] = "v2"}`, 5)
	out := lua.Print(root)
	if !strings.Contains(out, "name = ") {
		t.Errorf("named table fields are identifiers, not strings:\n%s", out)
	}
	if strings.Contains(out, `"lit"`) || strings.Contains(out, `"v2"`) {
		t.Errorf("string keys and values must be encoded:\n%s", out)
	}
}
