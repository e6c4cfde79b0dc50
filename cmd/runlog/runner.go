package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/logging"
	"github.com/caevv/runlog/internal/paths"
	"github.com/caevv/runlog/internal/recorder"
	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
)

const (
	// tailChars bounds stdout_tail and stderr_tail.
	tailChars = 10000

	// resultLimit bounds how much stdout is kept for result parsing.
	resultLimit = 1 << 20

	// killGrace is how long a cancelled command gets between SIGTERM and
	// SIGKILL.
	killGrace = 5 * time.Second

	envRunID = "RUNLOG_RUN_ID"
)

// invocation is one command to run under a recorder.
type invocation struct {
	Argv    []string
	Workdir string
	Env     map[string]string
	Timeout time.Duration
	Options recorder.Options
}

// exitError reports a command that ran and exited non-zero.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

// Runner runs commands as monitored work: each run gets its own recorder and
// its outcome is written to the configured sink.
type Runner struct {
	builder *recorder.Builder
	logger  *slog.Logger
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewRunner creates a Runner. The child's output is copied to stdout and
// stderr as well as captured; either may be nil.
func NewRunner(builder *recorder.Builder, logger *slog.Logger, stdout, stderr io.Writer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Runner{builder: builder, logger: logger, stdout: stdout, stderr: stderr}
}

// Run implements scheduler.AutomationRunner.
func (r *Runner) Run(ctx context.Context, a *config.Automation) error {
	inv, err := automationInvocation(a)
	if err != nil {
		return err
	}
	_, err = r.Exec(ctx, inv)
	return err
}

// automationInvocation turns a configured automation into an invocation. Relative
// config and script paths are taken relative to the automation's workdir.
func automationInvocation(a *config.Automation) (invocation, error) {
	argv, err := a.Argv()
	if err != nil {
		return invocation{}, errors.Wrapf(err, "automation %s", a.Name)
	}
	workdir := a.Workdir
	if workdir == "" {
		workdir = "."
	}
	configPath := a.Config
	if configPath == "" {
		configPath = config.DefaultAutomationConfigPath
	}
	script := a.Script
	if script == "" {
		script = guessScript(argv, workdir)
	}
	return invocation{
		Argv:    argv,
		Workdir: workdir,
		Env:     a.Env,
		Timeout: time.Duration(a.TimeoutSec) * time.Second,
		Options: recorder.Options{
			ConfigPath:   inDir(workdir, configPath),
			AutomationID: a.ID,
			SchemaName:   a.SchemaName,
			TableName:    a.TableName,
			PathMode:     a.PathMode,
			Script:       inDir(workdir, script),
		},
	}, nil
}

// Exec runs inv under a new recorder and returns the child's exit code.
// A non-zero exit is returned as an *exitError after the run is recorded.
// When the recorder cannot be built the command does not run.
func (r *Runner) Exec(ctx context.Context, inv invocation) (int, error) {
	if len(inv.Argv) == 0 {
		return -1, errors.New("empty command")
	}

	rec, err := runBuilder(r.builder, inv.Workdir).Build(ctx, inv.Options)
	if err != nil {
		return -1, err
	}

	exitCode := -1
	err = rec.Run(ctx, func(ctx context.Context, rec *recorder.Recorder) error {
		res, err := r.execute(ctx, rec, inv)
		exitCode = res.exitCode
		r.record(rec, inv, res)
		if err != nil {
			return err
		}
		if res.exitCode != 0 {
			return &exitError{code: res.exitCode}
		}
		return nil
	})

	logger := logging.WithFields(logging.FromContext(ctx, r.logger), map[string]any{
		"run_id":        rec.RunID(),
		"automation_id": rec.Identity().AutomationID,
		"command":       inv.Argv[0],
	})
	if err != nil {
		logger.Warn("command failed", "exit_code", exitCode, "error", err)
	} else {
		logger.Info("command succeeded")
	}
	return exitCode, err
}

// runBuilder derives the builder for one command. Only the command's own
// script can be its entry point, never the runlog binary, and the recorded
// cwd is the command's working directory.
func runBuilder(base *recorder.Builder, workdir string) *recorder.Builder {
	b := *base
	b.Entry = &paths.EntryResolver{}
	if workdir != "" {
		dir := absPath(workdir)
		b.Getwd = func() string { return dir }
	}
	return &b
}

type result struct {
	exitCode int
	stdout   *tailBuffer
	stderr   *tailBuffer
	head     *headBuffer
	timedOut bool
}

// execute starts the command and waits for it. The returned error is set
// only when the command could not be run at all or was cancelled.
func (r *Runner) execute(ctx context.Context, rec *recorder.Recorder, inv invocation) (result, error) {
	res := result{
		exitCode: -1,
		stdout:   newTailBuffer(tailChars),
		stderr:   newTailBuffer(tailChars),
		head:     newHeadBuffer(resultLimit),
	}

	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Workdir
	cmd.Env = childEnv(inv.Env, rec)
	cmd.Stdin = r.stdin
	cmd.Stdout = io.MultiWriter(r.stdout, res.stdout, res.head)
	cmd.Stderr = io.MultiWriter(r.stderr, res.stderr)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	if err == nil {
		res.exitCode = 0
		return res, nil
	}

	var exitErr *exec.ExitError
	isExit := errors.As(err, &exitErr)
	if isExit {
		res.exitCode = exitErr.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.timedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		return res, errors.Wrapf(ctxErr, "run %s", inv.Argv[0])
	}
	if isExit {
		return res, nil
	}
	return res, errors.Wrapf(err, "run %s", inv.Argv[0])
}

// record copies the command's outcome into the run output.
func (r *Runner) record(rec *recorder.Recorder, inv invocation, res result) {
	rec.AddOutput("command", shellquote.Join(inv.Argv...))
	rec.AddOutput("exit_code", res.exitCode)
	rec.AddOutput("stdout_tail", res.stdout.String())
	rec.AddOutput("stderr_tail", res.stderr.String())
	if obj := parseResult(res.head.Bytes()); obj != nil {
		rec.AddOutput("result", obj)
	}

	if res.timedOut {
		if err := rec.AddFlag("timed_out", map[string]any{"timeout_sec": inv.Timeout.Seconds()}); err != nil {
			r.logger.Warn("failed to flag run", "error", err)
		}
	}
	if res.exitCode == 0 && res.stderr.Total() > 0 {
		if err := rec.AddFlag("stderr_output", map[string]any{"bytes": res.stderr.Total()}); err != nil {
			r.logger.Warn("failed to flag run", "error", err)
		}
	}
	if res.head.Truncated() {
		if err := rec.AddFlag("stdout_truncated", nil); err != nil {
			r.logger.Warn("failed to flag run", "error", err)
		}
	}
}

// childEnv is the parent environment plus extra, plus the run's identity.
func childEnv(extra map[string]string, rec *recorder.Recorder) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	env = append(env,
		envRunID+"="+rec.RunID(),
		recorder.EnvAutomationID+"="+strconv.FormatInt(rec.Identity().AutomationID, 10),
	)
	return env
}

// parseResult extracts the JSON object a command printed: either the whole
// of stdout or the first line that is an object on its own.
func parseResult(stdout []byte) map[string]any {
	if obj := decodeObject(bytes.TrimSpace(stdout)); obj != nil {
		return obj
	}
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), resultLimit)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if obj := decodeObject(line); obj != nil {
			return obj
		}
	}
	return nil
}

func decodeObject(data []byte) map[string]any {
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil
	}
	return obj
}

// guessScript picks the entry point of a command line: the script handed to
// an interpreter ("python3 export.py"), else the command itself.
func guessScript(argv []string, workdir string) string {
	if len(argv) > 1 && !strings.HasPrefix(argv[1], "-") && isFile(inDir(workdir, argv[1])) {
		return argv[1]
	}
	if strings.ContainsRune(argv[0], filepath.Separator) {
		return argv[0]
	}
	if p, err := exec.LookPath(argv[0]); err == nil {
		return p
	}
	return ""
}

func inDir(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || dir == "" || dir == "." {
		return path
	}
	return filepath.Join(dir, path)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// tailBuffer keeps the last max characters written to it. Bytes are kept
// with room for max characters of utf8.UTFMax bytes each, and trimmed to
// whole characters on read.
type tailBuffer struct {
	max   int
	buf   []byte
	total int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.total += len(p)
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max*utf8.UTFMax; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// Total is the number of bytes ever written.
func (t *tailBuffer) Total() int { return t.total }

// String returns the last max characters, prefixed with "..." when earlier
// output was dropped. It never starts inside a multi-byte character.
func (t *tailBuffer) String() string {
	kept := t.buf
	if t.total > len(kept) {
		for i := 0; i < utf8.UTFMax-1 && len(kept) > 0 && !utf8.RuneStart(kept[0]); i++ {
			kept = kept[1:]
		}
	}
	for n := utf8.RuneCount(kept) - t.max; n > 0; n-- {
		_, size := utf8.DecodeRune(kept)
		kept = kept[size:]
	}
	if len(kept) < t.total {
		return "..." + string(kept)
	}
	return string(kept)
}

// headBuffer keeps the first max bytes written to it.
type headBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func newHeadBuffer(max int) *headBuffer {
	return &headBuffer{max: max}
}

func (h *headBuffer) Write(p []byte) (int, error) {
	room := h.max - h.buf.Len()
	if room < len(p) {
		h.truncated = true
		if room > 0 {
			h.buf.Write(p[:room])
		}
		return len(p), nil
	}
	h.buf.Write(p)
	return len(p), nil
}

func (h *headBuffer) Bytes() []byte   { return h.buf.Bytes() }
func (h *headBuffer) Truncated() bool { return h.truncated }
