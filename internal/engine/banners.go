package engine

import (
	"fmt"
	"runtime"
)

const version = "0.3.0"

// banner is the colored banner for CLI output. Built lazily so the TTY
// detection in colors.go has already run.
func banner() string {
	return Bold + Cyan + "obfuslua" + Reset + " | v." + version + " | " +
		Gray + "source-level obfuscator for Lua-family scripts" + Reset
}

// Version returns the version string.
func Version() string {
	return version
}

// VersionFull returns version with Go and platform info.
func VersionFull() string {
	return fmt.Sprintf("obfuslua v%s (%s/%s, %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
