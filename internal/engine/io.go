package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

// MaxInputSize bounds accepted source text (5 MiB).
const MaxInputSize = 5 * 1024 * 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

func readAllInput(opts Options) ([]byte, error) {
	if opts.UseStdin {
		data, err := io.ReadAll(io.LimitReader(bufio.NewReader(os.Stdin), MaxInputSize+1))
		if err != nil {
			return nil, fmt.Errorf("stdin: %w", err)
		}
		if len(data) > MaxInputSize {
			return nil, &ResourceExceeded{Limit: "5MiB", Actual: fmt.Sprintf("%d bytes", len(data))}
		}
		return stripBOM(data), nil
	}
	fi, err := os.Stat(opts.InputFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", opts.InputFile)
		}
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("input is a directory, not a file: %s", opts.InputFile)
	}
	if fi.Size() > MaxInputSize {
		return nil, &ResourceExceeded{Limit: "5MiB", Actual: fmt.Sprintf("%d bytes", fi.Size())}
	}
	data, err := os.ReadFile(opts.InputFile)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return stripBOM(data), nil
}

func validateUTF8(data []byte) error {
	if len(data) == 0 {
		return errors.New("file is empty")
	}
	if !utf8.Valid(data) {
		return errors.New("file is not valid UTF-8 — save it as UTF-8 (with or without BOM)")
	}
	return nil
}

func writeOutput(opts Options, data []byte) error {
	if opts.UseStdout {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(opts.OutputFile, data, 0o644)
}
