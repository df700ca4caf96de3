package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// runValidate executes the original and the obfuscated script in the target
// runtime and compares stdout and exit code. Requires file input/output and
// a lua interpreter on PATH.
func runValidate(opts Options) error {
	if opts.UseStdin || opts.InputFile == "" {
		return errors.New("-validate requires -i (file input)")
	}
	if opts.UseStdout || opts.OutputFile == "" {
		return errors.New("-validate requires -o (output file)")
	}
	runtimeBin, err := findRuntime()
	if err != nil {
		return err
	}
	timeout := time.Duration(opts.ValidateTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origOut, origCode, err := runScript(runtimeBin, opts.InputFile, timeout)
	if err != nil {
		return fmt.Errorf("original script: %w", err)
	}
	obfOut, obfCode, err := runScript(runtimeBin, opts.OutputFile, timeout)
	if err != nil {
		return fmt.Errorf("obfuscated script: %w", err)
	}
	if origCode != obfCode {
		return fmt.Errorf("exit codes differ: original=%d obfuscated=%d", origCode, obfCode)
	}
	if !bytes.Equal(origOut, obfOut) {
		return fmt.Errorf("stdout differs:\n--- original ---\n%s\n--- obfuscated ---\n%s", origOut, obfOut)
	}
	if !opts.Quiet {
		fmt.Fprintf(os.Stderr, "%sValidate:%s outputs match\n", Green, Reset)
	}
	return nil
}

func findRuntime() (string, error) {
	for _, name := range []string{"lua", "lua5.4", "lua5.3", "luajit"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errors.New("no lua interpreter found on PATH (-validate needs one)")
}

func runScript(bin, script string, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin, script)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, 0, fmt.Errorf("timed out after %s", timeout)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return stdout.Bytes(), ee.ExitCode(), nil
	}
	if err != nil {
		return nil, 0, err
	}
	return stdout.Bytes(), 0, nil
}
