package engine

import (
	"github.com/benzoXdev/obfuslua/internal/lua"
)

// Options selects techniques and carries CLI/server settings. Technique
// fields mirror the externally recognized option keys; profile and level
// expand into technique defaults, explicit keys win.
type Options struct {
	// Techniques
	VariableRenaming     bool
	StringEncryption     bool
	ControlFlow          bool
	DeadCode             bool
	VM                   bool
	AntiDebug            bool
	AntiTampering        bool
	IntegrityChecks      bool
	EnvironmentDetection bool
	TimingProtection     bool
	MemoryProtection     bool
	StackRandomization   bool
	OpcodeRandomization  bool

	Profile string // "", basic, standard, professional, enterprise, military
	Level   int    // 1..10, advisory; 0 = derive from profile

	Seed   uint64
	Seeded bool

	// Tuning
	DeadCodeDensity int // max injected statements per block, % of original count

	// CLI
	InputFile       string
	OutputFile      string
	UseStdin        bool
	UseStdout       bool
	Quiet           bool
	Report          bool
	DryRun          bool
	Validate        bool
	ValidateTimeout int
	Serve           bool
	ServeAddr       string
	REPL            bool
	ConfigFile      string
}

// AnyTechnique reports whether at least one transformation is enabled.
func (o *Options) AnyTechnique() bool {
	return o.VariableRenaming || o.StringEncryption || o.ControlFlow ||
		o.DeadCode || o.VM || o.anyGuard()
}

func (o *Options) anyGuard() bool {
	return o.AntiDebug || o.AntiTampering || o.IntegrityChecks ||
		o.EnvironmentDetection || o.TimingProtection || o.MemoryProtection ||
		o.StackRandomization
}

// Result is the outcome of one pipeline invocation.
type Result struct {
	Code           []byte `json:"-" cbor:"-"`
	CodeText       string `json:"code" cbor:"code"`
	OriginalSize   int    `json:"originalSize" cbor:"originalSize"`
	ObfuscatedSize int    `json:"obfuscatedSize" cbor:"obfuscatedSize"`
	ExpansionRatio string `json:"expansionRatio" cbor:"expansionRatio"`
	SecurityLevel  string `json:"securityLevel" cbor:"securityLevel"`
	Checksum       string `json:"checksum" cbor:"checksum"`
	Seed           uint64 `json:"seed" cbor:"seed"`
}

// Ctx is the per-invocation state handed to every pass. Nothing here is
// shared across requests.
type Ctx struct {
	Oracle *Oracle
	Opts   *Options
	// Prologue statements accumulated by passes (decoder closures, guard
	// snippets); the driver prepends them before printing.
	Prologue []lua.Stmt
}

// Pass is one AST-to-AST rewriting stage. Passes mutate the block in place
// and surface errors unmodified; the pipeline is all-or-nothing.
type Pass interface {
	Name() string
	Apply(b *lua.Block, ctx *Ctx) error
}
