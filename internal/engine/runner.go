package engine

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

// Obfuscate runs the whole pipeline over source: parse, pass chain, print,
// final textual pass, result assembly. Deterministic: the same source,
// options and seed produce byte-identical output.
func Obfuscate(source []byte, opts Options, seed uint64) (*Result, error) {
	if err := ApplyProfileDefaults(&opts); err != nil {
		return nil, err
	}
	if len(source) > MaxInputSize {
		return nil, &ResourceExceeded{Limit: "5MiB", Actual: fmt.Sprintf("%d bytes", len(source))}
	}

	root, err := lua.Parse(string(source))
	if err != nil {
		var de *lua.DepthError
		if errors.As(err, &de) {
			return nil, &ResourceExceeded{Limit: fmt.Sprintf("astDepth=%d", de.Limit), Actual: "deeper"}
		}
		return nil, err
	}

	oracle := NewOracle(seed)
	collectIdentifiers(root, oracle)
	ctx := &Ctx{Oracle: oracle, Opts: &opts}
	for _, pass := range BuildPipeline(&opts) {
		if err := pass.Apply(root, ctx); err != nil {
			return nil, err
		}
	}
	if len(ctx.Prologue) > 0 {
		root.Stmts = append(append([]lua.Stmt{}, ctx.Prologue...), root.Stmts...)
	}

	printed := lua.Print(root)
	final := finalTextualPass(printed, oracle)
	if len(final) > 2*len(printed) {
		return nil, &Internal{Stage: "textual", Cause: fmt.Errorf("output grew past the %d-byte cap", 2*len(printed))}
	}

	code := []byte(final)
	res := &Result{
		Code:           code,
		CodeText:       final,
		OriginalSize:   len(source),
		ObfuscatedSize: len(code),
		SecurityLevel:  opts.SecurityLevel(),
		Checksum:       checksumHex(rollingChecksum(code)),
		Seed:           seed,
	}
	ratio := 0.0
	if len(source) > 0 {
		ratio = float64(len(code)) / float64(len(source)) * 100
	}
	res.ExpansionRatio = fmt.Sprintf("%.2f%%", ratio)
	return res, nil
}

// resolveSeed fills in a random seed when the caller did not pin one,
// writing it back so the build stays reproducible.
func resolveSeed(opts *Options) uint64 {
	if opts.Seeded {
		return opts.Seed
	}
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	seed := binary.BigEndian.Uint64(b[:])
	opts.Seed = seed
	opts.Seeded = true
	return seed
}

// Run is the CLI entry point: read, transform, write, report.
func Run(opts Options) error {
	if !opts.Quiet {
		fmt.Fprintln(os.Stderr, banner())
	}
	if opts.ConfigFile != "" {
		if err := LoadConfig(opts.ConfigFile, &opts); err != nil {
			return err
		}
	}
	if err := requireInOut(opts); err != nil {
		return err
	}
	data, err := readAllInput(opts)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if err := validateUTF8(data); err != nil {
		return err
	}

	if opts.DryRun {
		features := Analyze(string(data))
		PrintAnalysis(features, opts.Quiet)
		return nil
	}

	seed := resolveSeed(&opts)
	start := time.Now()
	res, err := Obfuscate(data, opts, seed)
	if err != nil {
		return err
	}
	if err := writeOutput(opts, res.Code); err != nil {
		return fmt.Errorf("output: %w", err)
	}

	m := ComputeMetricsWithInput(res.CodeText, len(data))
	if !opts.Quiet {
		PrintMetrics(m, opts.Quiet)
	}
	if opts.Report {
		r := Report{
			InputPath:  inputName(opts),
			OutputPath: outputName(opts),
			Profile:    res.SecurityLevel,
			Level:      opts.Level,
			Techniques: enabledTechniques(&opts),
			InputSize:  res.OriginalSize,
			OutputSize: res.ObfuscatedSize,
			Checksum:   res.Checksum,
			Seed:       seed,
			Duration:   time.Since(start),
		}
		PrintReport(r, m)
	}
	if opts.Validate {
		if err := runValidate(opts); err != nil {
			return fmt.Errorf("validate: %w", err)
		}
	}
	return nil
}

func requireInOut(opts Options) error {
	if !opts.UseStdin && opts.InputFile == "" {
		return errors.New("missing -i or -stdin (use -i <inputFile> or pipe the script to stdin)")
	}
	if !opts.UseStdout && opts.OutputFile == "" && !opts.DryRun {
		return errors.New("missing -o or -stdout (use -dry-run for analysis only)")
	}
	return nil
}

func inputName(opts Options) string {
	if opts.UseStdin {
		return "<stdin>"
	}
	return opts.InputFile
}

func outputName(opts Options) string {
	if opts.UseStdout {
		return "<stdout>"
	}
	return opts.OutputFile
}

func enabledTechniques(o *Options) []string {
	var t []string
	add := func(on bool, name string) {
		if on {
			t = append(t, name)
		}
	}
	add(o.VariableRenaming, "rename")
	add(o.StringEncryption, "string-encrypt")
	add(o.ControlFlow, "control-flow")
	add(o.DeadCode, "dead-code")
	add(o.VM, "vm-wrap")
	add(o.AntiDebug, "anti-debug")
	add(o.AntiTampering, "anti-tamper")
	add(o.IntegrityChecks, "integrity")
	add(o.EnvironmentDetection, "env-detect")
	add(o.TimingProtection, "timing")
	add(o.MemoryProtection, "memory")
	add(o.StackRandomization, "stack-random")
	add(o.OpcodeRandomization, "opcode-random")
	return t
}
