// Package obfuslua is the public API over the obfuscation core.
package obfuslua

import (
	"github.com/benzoXdev/obfuslua/internal/engine"
)

type Options = engine.Options

type Result = engine.Result

// Obfuscate transforms source with the given options and seed. The same
// (source, options, seed) triple always yields byte-identical output.
func Obfuscate(source []byte, opts Options, seed uint64) (*Result, error) {
	return engine.Obfuscate(source, opts, seed)
}

// OptionsFromMap resolves an external key/value option set, expanding
// profile and level bundles and rejecting unknown keys.
func OptionsFromMap(m map[string]any) (Options, error) {
	return engine.ResolveOptionMap(m)
}

// Analyze inspects source without transforming it.
func Analyze(source string) *engine.ScriptFeatures {
	return engine.Analyze(source)
}
