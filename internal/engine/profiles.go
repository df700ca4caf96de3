package engine

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Profile presets. Each preset enables a technique bundle. ResolveOptionMap
// applies explicitly set keys over the preset; on the CLI, technique flags
// can only add techniques to the preset.

type profilePreset struct {
	level int
	apply func(*Options)
}

func applyBasic(o *Options) {
	o.VariableRenaming = true
	o.StringEncryption = true
}

func applyStandard(o *Options) {
	applyBasic(o)
	o.ControlFlow = true
	o.DeadCode = true
	o.AntiDebug = true
}

func applyProfessional(o *Options) {
	applyStandard(o)
	o.VM = true
	o.AntiTampering = true
	o.IntegrityChecks = true
}

func applyEnterprise(o *Options) {
	applyProfessional(o)
	o.EnvironmentDetection = true
	o.TimingProtection = true
}

func applyMilitary(o *Options) {
	applyEnterprise(o)
	o.MemoryProtection = true
	o.StackRandomization = true
	o.OpcodeRandomization = true
}

var profilePresets = map[string]profilePreset{
	"basic":        {2, applyBasic},
	"standard":     {5, applyStandard},
	"professional": {7, applyProfessional},
	"enterprise":   {9, applyEnterprise},
	"military":     {10, applyMilitary},
}

// applyLevel maps obfuscationLevel 1..10 to technique defaults; the named
// profiles sit on levels 2, 5, 7, 9 and 10.
func applyLevel(o *Options, level int) {
	if level >= 1 {
		o.VariableRenaming = true
	}
	if level >= 2 {
		o.StringEncryption = true
	}
	if level >= 3 {
		o.DeadCode = true
	}
	if level >= 5 {
		o.ControlFlow = true
		o.AntiDebug = true
	}
	if level >= 6 {
		o.IntegrityChecks = true
	}
	if level >= 7 {
		o.VM = true
		o.AntiTampering = true
	}
	if level >= 8 {
		o.EnvironmentDetection = true
	}
	if level >= 9 {
		o.TimingProtection = true
	}
	if level >= 10 {
		o.MemoryProtection = true
		o.StackRandomization = true
		o.OpcodeRandomization = true
	}
}

// ApplyProfileDefaults expands profile and level into technique switches.
// Technique fields already set stay set; presets only add.
func ApplyProfileDefaults(o *Options) error {
	name := strings.ToLower(strings.TrimSpace(o.Profile))
	if name != "" {
		preset, ok := profilePresets[name]
		if !ok {
			return &InvalidOption{Key: "profile", Reason: fmt.Sprintf("unknown profile %q", o.Profile)}
		}
		preset.apply(o)
		if o.Level == 0 {
			o.Level = preset.level
		}
		o.Profile = name
	}
	if o.Level != 0 {
		if o.Level < 1 || o.Level > 10 {
			return &InvalidOption{Key: "obfuscationLevel", Reason: fmt.Sprintf("%d out of range 1..10", o.Level)}
		}
		if name == "" {
			applyLevel(o, o.Level)
		}
	}
	if o.DeadCodeDensity == 0 {
		o.DeadCodeDensity = 30
	}
	if o.DeadCodeDensity < 0 || o.DeadCodeDensity > 100 {
		return &InvalidOption{Key: "deadCodeDensity", Reason: fmt.Sprintf("%d out of range 0..100", o.DeadCodeDensity)}
	}
	return nil
}

// SecurityLevel names the applied preset, or "custom" for hand-picked keys.
func (o *Options) SecurityLevel() string {
	if o.Profile != "" {
		return o.Profile
	}
	return "custom"
}

// optionSetters maps external option keys to their struct fields. The key
// set is closed: anything else fails with InvalidOption.
var optionSetters = map[string]func(*Options, bool){
	"variableRenaming":       func(o *Options, v bool) { o.VariableRenaming = v },
	"stringEncryption":       func(o *Options, v bool) { o.StringEncryption = v },
	"controlFlowObfuscation": func(o *Options, v bool) { o.ControlFlow = v },
	"deadCodeInjection":      func(o *Options, v bool) { o.DeadCode = v },
	"vmObfuscation":          func(o *Options, v bool) { o.VM = v },
	"antiDebug":              func(o *Options, v bool) { o.AntiDebug = v },
	"antiTampering":          func(o *Options, v bool) { o.AntiTampering = v },
	"integrityChecks":        func(o *Options, v bool) { o.IntegrityChecks = v },
	"environmentDetection":   func(o *Options, v bool) { o.EnvironmentDetection = v },
	"timingProtection":       func(o *Options, v bool) { o.TimingProtection = v },
	"memoryProtection":       func(o *Options, v bool) { o.MemoryProtection = v },
	"stackRandomization":     func(o *Options, v bool) { o.StackRandomization = v },
	"opcodeRandomization":    func(o *Options, v bool) { o.OpcodeRandomization = v },
}

// ResolveOptionMap builds Options from a decoded request map: profile and
// obfuscationLevel expand first, then explicit keys override.
func ResolveOptionMap(m map[string]any) (Options, error) {
	var o Options
	if v, ok := m["profile"]; ok {
		s, ok := v.(string)
		if !ok {
			return o, &InvalidOption{Key: "profile", Reason: "must be a string"}
		}
		o.Profile = s
	}
	if v, ok := m["obfuscationLevel"]; ok {
		f, ok := v.(float64)
		if !ok || f != float64(int(f)) {
			return o, &InvalidOption{Key: "obfuscationLevel", Reason: "must be an integer"}
		}
		o.Level = int(f)
	}
	if err := ApplyProfileDefaults(&o); err != nil {
		return o, err
	}
	for k, v := range m {
		if k == "profile" || k == "obfuscationLevel" {
			continue
		}
		set, ok := optionSetters[k]
		if !ok {
			return o, &InvalidOption{Key: k, Reason: "unrecognized option"}
		}
		b, ok := v.(bool)
		if !ok {
			return o, &InvalidOption{Key: k, Reason: "must be a boolean"}
		}
		set(&o, b)
	}
	return o, nil
}

// ParseFlags reads the CLI surface. Returns (opts, true) when help was
// printed and the caller should exit.
func ParseFlags() (Options, bool) {
	opts := Options{}
	flag.StringVar(&opts.InputFile, "i", "", "Input script file (or -stdin).")
	flag.StringVar(&opts.OutputFile, "o", "obfuscated.lua", "Output file (or -stdout).")
	flag.BoolVar(&opts.UseStdin, "stdin", false, "Read script from STDIN.")
	flag.BoolVar(&opts.UseStdout, "stdout", false, "Write result to STDOUT.")
	flag.StringVar(&opts.Profile, "profile", "", "Preset: basic|standard|professional|enterprise|military.")
	flag.IntVar(&opts.Level, "level", 0, "Obfuscation level (1..10); bundles technique defaults.")
	flag.BoolVar(&opts.VariableRenaming, "rename", false, "Rename user identifiers.")
	flag.BoolVar(&opts.StringEncryption, "strenc", false, "Encrypt string literals.")
	flag.BoolVar(&opts.ControlFlow, "cf", false, "Opaque predicates + dispatch flattening.")
	flag.BoolVar(&opts.DeadCode, "dead", false, "Inject no-effect statements.")
	flag.BoolVar(&opts.VM, "vm", false, "Compile fragments into an embedded interpreter.")
	flag.BoolVar(&opts.AntiDebug, "anti-debug", false, "Emit the anti-debug prologue guard.")
	flag.BoolVar(&opts.AntiTampering, "anti-tamper", false, "Emit the tamper-detection guard.")
	flag.BoolVar(&opts.IntegrityChecks, "integrity", false, "Emit the integrity-check guard.")
	flag.BoolVar(&opts.EnvironmentDetection, "env-detect", false, "Emit the environment-detection guard.")
	flag.BoolVar(&opts.TimingProtection, "timing", false, "Emit the timing-protection guard.")
	flag.BoolVar(&opts.MemoryProtection, "memory", false, "Emit the memory-protection guard.")
	flag.BoolVar(&opts.StackRandomization, "stack-random", false, "Randomize emitted VM frame layout.")
	flag.BoolVar(&opts.OpcodeRandomization, "opcode-random", false, "Shuffle VM opcode values per session.")
	flag.IntVar(&opts.DeadCodeDensity, "dead-density", 0, "Dead-code density cap, percent of block size (default 30).")
	flag.BoolVar(&opts.Quiet, "q", false, "Quiet mode (no banner, no metrics).")
	flag.BoolVar(&opts.Report, "report", false, "Emit obfuscation report after build.")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "Analyze only, no transformation or output.")
	flag.BoolVar(&opts.Validate, "validate", false, "Run original and obfuscated in the target runtime, compare outputs.")
	flag.IntVar(&opts.ValidateTimeout, "validate-timeout", 30, "Seconds timeout for -validate execution.")
	flag.BoolVar(&opts.Serve, "serve", false, "Run the HTTP service instead of a one-shot build.")
	flag.StringVar(&opts.ServeAddr, "addr", ":8787", "Listen address for -serve.")
	flag.BoolVar(&opts.REPL, "repl", false, "Interactive loop: obfuscate each entered chunk.")
	flag.StringVar(&opts.ConfigFile, "config", "", "Optional TOML config file.")
	var seed uint64
	flag.Uint64Var(&seed, "seed", 0, "Oracle seed (0=random). Set N for a reproducible build.")
	var showHelp bool
	flag.BoolVar(&showHelp, "h", false, "Show help.")
	flag.BoolVar(&showHelp, "help", false, "Show help.")
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version and exit.")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  obfuslua -i input.lua -o out.lua -profile standard [options]\n")
		fmt.Fprintf(os.Stderr, "  obfuslua -serve -addr :8787\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if showVersion {
		fmt.Fprintln(os.Stderr, VersionFull())
		return Options{}, true
	}
	if showHelp {
		flag.Usage()
		return Options{}, true
	}
	opts.Seeded = flag.Lookup("seed").Value.String() != "0"
	if opts.Seeded {
		opts.Seed = seed
	}
	return opts, false
}
