package engine

import (
	"fmt"
	"strings"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

// AntiAnalysisPass prepends guard snippets selected by the option flags.
// The snippets are textual templates executed by the target runtime; the
// pass only guarantees that they parse and that every name they declare
// comes from the oracle, so they can never collide with program names.
type AntiAnalysisPass struct{}

func (AntiAnalysisPass) Name() string { return "anti-analysis" }

type guardTemplate struct {
	enabled func(*Options) bool
	build   func(o *Oracle) string
}

var guardCatalog = []guardTemplate{
	{func(o *Options) bool { return o.AntiDebug }, func(o *Oracle) string {
		v := o.Identifier()
		return fmt.Sprintf(`local %s = debug and debug.gethook and debug.gethook()
if %s ~= nil then return end`, v, v)
	}},
	{func(o *Options) bool { return o.AntiTampering }, func(o *Oracle) string {
		f := o.Identifier()
		return fmt.Sprintf(`local %s = tostring(print)
if string.sub(%s, 1, 9) ~= "function:" and string.sub(%s, 1, 8) ~= "builtin:" then return end`, f, f, f)
	}},
	{func(o *Options) bool { return o.IntegrityChecks }, func(o *Oracle) string {
		a, b := o.Identifier(), o.Identifier()
		k := o.Range(1000, 99999)
		return fmt.Sprintf(`local %s = %d
local %s = (%s * 2 - %s) == %d
if not %s then return end`, a, k, b, a, a, k, b)
	}},
	{func(o *Options) bool { return o.EnvironmentDetection }, func(o *Oracle) string {
		v := o.Identifier()
		return fmt.Sprintf(`local %s = type(os) == "table" and type(os.time) == "function"
if not %s then return end`, v, v)
	}},
	{func(o *Options) bool { return o.TimingProtection }, func(o *Oracle) string {
		t0, t1, i := o.Identifier(), o.Identifier(), o.Identifier()
		return fmt.Sprintf(`local %s = os.clock()
for %s = 1, 4096 do end
local %s = os.clock()
if (%s - %s) > 2 then return end`, t0, i, t1, t1, t0)
	}},
	{func(o *Options) bool { return o.MemoryProtection }, func(o *Oracle) string {
		v := o.Identifier()
		return fmt.Sprintf(`local %s = collectgarbage("count")
if %s ~= nil and %s < 0 then return end
collectgarbage("collect")`, v, v, v)
	}},
}

func (AntiAnalysisPass) Apply(b *lua.Block, ctx *Ctx) error {
	for _, g := range guardCatalog {
		if !g.enabled(ctx.Opts) {
			continue
		}
		text := g.build(ctx.Oracle)
		if _, err := lua.Parse(text); err != nil {
			return &Internal{Stage: "anti-analysis", Cause: fmt.Errorf("guard does not parse: %w", err)}
		}
		ctx.Prologue = append(ctx.Prologue, &lua.RawEmit{Text: text})
	}
	return nil
}

// guardNames lists identifiers declared by the emitted guards; the tests use
// it to check that guard names are oracle-issued.
func guardNames(text string) []string {
	var names []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "local "); ok {
			if i := strings.IndexAny(rest, " ="); i > 0 {
				names = append(names, rest[:i])
			}
		}
	}
	return names
}
