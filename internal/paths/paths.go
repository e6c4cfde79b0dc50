// Package paths resolves the entry point of the running program and the
// directory a run should be attributed to.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// Path modes accepted by Resolve.
const (
	ModeCWD    = "cwd"
	ModeScript = "script"
)

// NormalizeMode trims and lower-cases mode. Anything other than "script"
// becomes "cwd".
func NormalizeMode(mode string) string {
	if strings.ToLower(strings.TrimSpace(mode)) == ModeScript {
		return ModeScript
	}
	return ModeCWD
}

// Resolve returns the directory containing entry when mode is "script" and
// entry is known, and cwd otherwise.
func Resolve(mode, entry, cwd string) string {
	if NormalizeMode(mode) == ModeScript && entry != "" {
		abs, err := filepath.Abs(entry)
		if err != nil {
			abs = entry
		}
		return filepath.Dir(abs)
	}
	return cwd
}

// Getwd returns the working directory, or "." if it cannot be determined.
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
