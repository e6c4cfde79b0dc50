package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// modulePrefix identifies frames that belong to runlog itself.
const modulePrefix = "github.com/caevv/runlog/"

// Frame is the part of a stack frame the resolver looks at.
type Frame struct {
	Function string
	File     string
}

// EntryResolver finds the file that started the current program. Every
// signal is a field so tests can replace it.
type EntryResolver struct {
	// Executable returns the path of the running binary.
	Executable func() (string, error)

	// Args are the process arguments; Args[0] is consulted.
	Args []string

	// Frames returns the calling stack, innermost first.
	Frames func() []Frame

	// IsFile reports whether path names an existing regular file.
	IsFile func(path string) bool

	// SkipPrefixes lists function-name prefixes ignored during the stack
	// scan.
	SkipPrefixes []string
}

// NewEntryResolver returns a resolver wired to the real process.
func NewEntryResolver() *EntryResolver {
	return &EntryResolver{
		Executable:   os.Executable,
		Args:         os.Args,
		Frames:       callerFrames,
		IsFile:       isFile,
		SkipPrefixes: []string{modulePrefix, "runtime."},
	}
}

// Resolve returns the absolute path of the entry point, or "" when none of
// the signals produce an existing file. Order: explicit, executable,
// Args[0], stack scan.
func (r *EntryResolver) Resolve(explicit string) string {
	if p := r.check(explicit); p != "" {
		return p
	}

	if r.Executable != nil {
		if exe, err := r.Executable(); err == nil {
			if p := r.check(exe); p != "" {
				return p
			}
		}
	}

	if len(r.Args) > 0 {
		if p := r.check(r.Args[0]); p != "" {
			return p
		}
	}

	if r.Frames != nil {
		for _, f := range r.Frames() {
			if f.File == "" || r.skip(f.Function) {
				continue
			}
			if p := r.check(f.File); p != "" {
				return p
			}
		}
	}

	return ""
}

func (r *EntryResolver) check(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	is := r.IsFile
	if is == nil {
		is = isFile
	}
	if !is(abs) {
		return ""
	}
	return abs
}

func (r *EntryResolver) skip(function string) bool {
	for _, prefix := range r.SkipPrefixes {
		if strings.HasPrefix(function, prefix) {
			return true
		}
	}
	return false
}

func callerFrames() []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	var out []Frame
	for {
		f, more := frames.Next()
		out = append(out, Frame{Function: f.Function, File: f.File})
		if !more {
			break
		}
	}
	return out
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
