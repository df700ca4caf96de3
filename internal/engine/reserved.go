package engine

import "github.com/benzoXdev/obfuslua/internal/lua"

// reservedNames contains the dialect's standard-library globals and other
// identifiers that must never be renamed nor issued as fresh names.
// Renaming these would break scripts that call the runtime's environment.
var reservedNames = map[string]bool{
	// Core globals
	"print": true, "type": true, "tostring": true, "tonumber": true,
	"pairs": true, "ipairs": true, "next": true, "select": true,
	"rawget": true, "rawset": true, "rawequal": true, "rawlen": true,
	"setmetatable": true, "getmetatable": true,
	"pcall": true, "xpcall": true, "error": true, "assert": true,
	"unpack": true, "require": true, "collectgarbage": true,
	"load": true, "loadstring": true, "dofile": true, "loadfile": true,
	"_G": true, "_ENV": true, "_VERSION": true,
	// Standard library tables
	"string": true, "table": true, "math": true, "io": true, "os": true,
	"coroutine": true, "debug": true, "utf8": true, "bit32": true,
	// Common host-provided entry points
	"arg": true, "self": true,
}

func init() {
	// Keywords double as reserved: the oracle must never issue one.
	for _, kw := range []string{
		"and", "break", "do", "else", "elseif", "end", "false", "for",
		"function", "goto", "if", "in", "local", "nil", "not", "or",
		"repeat", "return", "then", "true", "until", "while",
	} {
		reservedNames[kw] = true
	}
}

// isReservedName reports whether name must be left alone by the rename pass
// and avoided by the identifier generator.
func isReservedName(name string) bool {
	if name == "" {
		return true
	}
	return reservedNames[name] || lua.IsKeyword(name)
}
