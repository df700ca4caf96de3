package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/benzoXdev/obfuslua/internal/engine"
	"github.com/benzoXdev/obfuslua/internal/server"
)

const historyFile = ".obfuslua_history"

func main() {
	// Clean exit on Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Fprintln(os.Stderr, "\n\033[33mInterrupted.\033[0m")
		os.Exit(130)
	}()

	opts, helpOnly := engine.ParseFlags()
	if helpOnly {
		os.Exit(0)
	}

	switch {
	case opts.Serve:
		if err := serve(opts); err != nil {
			fail(err)
		}
	case opts.REPL:
		if err := repl(opts); err != nil {
			fail(err)
		}
	default:
		start := time.Now()
		if err := engine.Run(opts); err != nil {
			fail(err)
		}
		if !opts.Quiet {
			fmt.Fprintf(os.Stderr, "\033[90mDone in %s\033[0m\n", time.Since(start).Round(time.Millisecond))
		}
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %v\n", err)
	if hint := engine.ErrorHint(err); hint != "" {
		fmt.Fprintf(os.Stderr, "\033[90mHint:\033[0m %s\n", hint)
	}
	os.Exit(1)
}

func serve(opts engine.Options) error {
	cfg, err := engine.LoadServerConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	addr := opts.ServeAddr
	if cfg.Serve.Addr != "" && addr == ":8787" {
		addr = cfg.Serve.Addr
	}
	return srv.ListenAndServe(addr)
}

// repl obfuscates each entered chunk with the session options, printing the
// transformed source. Each chunk's seed is the -seed value plus a chunk
// counter, or the clock plus the counter when -seed is not given.
func repl(opts engine.Options) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	histPath := filepath.Join(os.TempDir(), historyFile)
	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(os.Stderr, "obfuslua interactive mode. Enter a chunk; :quit exits.")
	counter := uint64(0)
	for {
		line, err := ln.Prompt("==> ")
		if err != nil {
			return nil // Ctrl+C / Ctrl+D
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == ":quit" || trimmed == ":q" {
			return nil
		}
		ln.AppendHistory(line)

		seed := opts.Seed + counter
		if !opts.Seeded {
			seed = uint64(time.Now().UnixNano()) + counter
		}
		counter++
		res, err := engine.Obfuscate([]byte(line), opts, seed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\033[31m%v\033[0m\n", err)
			continue
		}
		fmt.Println(res.CodeText)
		fmt.Fprintf(os.Stderr, "\033[90m%d -> %d bytes (%s), checksum %s\033[0m\n",
			res.OriginalSize, res.ObfuscatedSize, res.ExpansionRatio, res.Checksum)
	}
}
