package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/host"
	"github.com/caevv/runlog/internal/logging"
	"github.com/caevv/runlog/internal/recorder"
	"github.com/caevv/runlog/internal/scheduler"
	"github.com/caevv/runlog/internal/store"
	"github.com/cockroachdb/errors"
)

// harness wires a Runner to a JSONL sink in a temp dir.
type harness struct {
	runner *Runner
	path   string
	stdout *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := store.NewJSONLStore(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := logging.Discard()
	builder := recorder.NewBuilder(st, log)
	builder.Host = host.Static{"host_name": "test-host"}
	builder.LookupEnv = func(string) (string, bool) { return "", false }

	stdout := &bytes.Buffer{}
	return &harness{
		runner: NewRunner(builder, log, stdout, nil),
		path:   path,
		stdout: stdout,
	}
}

// records reads back every run written so far.
func (h *harness) records(t *testing.T) []map[string]any {
	t.Helper()

	f, err := os.Open(h.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("Failed to open runs: %v", err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("Failed to decode run: %v", err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Failed to read runs: %v", err)
	}
	return out
}

func (h *harness) only(t *testing.T) map[string]any {
	t.Helper()
	recs := h.records(t)
	if len(recs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(recs))
	}
	return recs[0]
}

func shInvocation(script string, id int64) invocation {
	return invocation{
		Argv:    []string{"/bin/sh", "-c", script},
		Options: recorder.Options{AutomationID: id, ConfigPath: filepath.Join(os.TempDir(), "runlog-missing.config")},
	}
}

func TestIntegration_ExecSuccess(t *testing.T) {
	h := newHarness(t)

	code, err := h.runner.Exec(context.Background(), shInvocation(`echo '{"rows": 3}'; echo slow >&2`, 42))
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(h.stdout.String(), `"rows": 3`) {
		t.Errorf("stdout was not passed through: %q", h.stdout.String())
	}

	rec := h.only(t)
	if rec["success"] != true {
		t.Errorf("success = %v, want true", rec["success"])
	}
	if rec["automation_id"] != float64(42) {
		t.Errorf("automation_id = %v, want 42", rec["automation_id"])
	}
	if rec["schema_name"] != "automations" || rec["table_name"] != "run_log" {
		t.Errorf("table = %v.%v, want automations.run_log", rec["schema_name"], rec["table_name"])
	}

	output := rec["output"].(map[string]any)
	if output["exit_code"] != float64(0) {
		t.Errorf("exit_code = %v, want 0", output["exit_code"])
	}
	if output["stderr_tail"] != "slow\n" {
		t.Errorf("stderr_tail = %q, want %q", output["stderr_tail"], "slow\n")
	}
	result, ok := output["result"].(map[string]any)
	if !ok {
		t.Fatalf("result missing from output: %v", output)
	}
	if result["rows"] != float64(3) {
		t.Errorf("result.rows = %v, want 3", result["rows"])
	}
	if _, ok := output["error"]; ok {
		t.Errorf("unexpected error in output: %v", output["error"])
	}

	flags := rec["flags"].(map[string]any)
	if meta, ok := flags["stderr_output"].(map[string]any); !ok || meta["bytes"] != float64(5) {
		t.Errorf("stderr_output flag = %v, want {bytes: 5}", flags["stderr_output"])
	}

	ctx := rec["context"].(map[string]any)
	if ctx["host_name"] != "test-host" {
		t.Errorf("context.host_name = %v, want test-host", ctx["host_name"])
	}
}

func TestIntegration_ExecExportsRunIdentity(t *testing.T) {
	h := newHarness(t)

	if _, err := h.runner.Exec(context.Background(), shInvocation(`echo "$RUNLOG_RUN_ID $AUTOMATION_ID"`, 7)); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	rec := h.only(t)
	want := rec["run_id"].(string) + " 7\n"
	if got := rec["output"].(map[string]any)["stdout_tail"]; got != want {
		t.Errorf("stdout_tail = %q, want %q", got, want)
	}
}

func TestIntegration_ExecNonZeroExit(t *testing.T) {
	h := newHarness(t)

	code, err := h.runner.Exec(context.Background(), shInvocation(`echo broken >&2; exit 3`, 42))
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 3 {
		t.Fatalf("Exec() error = %v, want exitError with code 3", err)
	}

	rec := h.only(t)
	if rec["success"] != false {
		t.Errorf("success = %v, want false", rec["success"])
	}
	output := rec["output"].(map[string]any)
	if output["exit_code"] != float64(3) {
		t.Errorf("exit_code = %v, want 3", output["exit_code"])
	}
	failure, ok := output["error"].(map[string]any)
	if !ok {
		t.Fatalf("error missing from output: %v", output)
	}
	if failure["type"] != "*main.exitError" {
		t.Errorf("error.type = %v, want *main.exitError", failure["type"])
	}
	if failure["message"] != "command exited with code 3" {
		t.Errorf("error.message = %v", failure["message"])
	}
	if flags := rec["flags"].(map[string]any); len(flags) != 0 {
		t.Errorf("flags = %v, want none", flags)
	}
}

func TestIntegration_ExecCommandNotFound(t *testing.T) {
	h := newHarness(t)

	inv := invocation{
		Argv:    []string{"/nonexistent/runlog-test-command"},
		Options: recorder.Options{AutomationID: 42},
	}
	code, err := h.runner.Exec(context.Background(), inv)
	if err == nil {
		t.Fatal("Exec() expected error for a missing command")
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		t.Errorf("Exec() error = %v, want a start failure", err)
	}
	if code != -1 {
		t.Errorf("exit code = %d, want -1", code)
	}

	rec := h.only(t)
	if rec["success"] != false {
		t.Errorf("success = %v, want false", rec["success"])
	}
}

func TestIntegration_ExecTimeout(t *testing.T) {
	h := newHarness(t)

	inv := shInvocation(`sleep 10`, 42)
	inv.Timeout = 200 * time.Millisecond

	start := time.Now()
	_, err := h.runner.Exec(context.Background(), inv)
	if err == nil {
		t.Fatal("Exec() expected a timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Exec() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Errorf("Exec() took %v, command was not stopped", elapsed)
	}

	rec := h.only(t)
	if rec["success"] != false {
		t.Errorf("success = %v, want false", rec["success"])
	}
	flags := rec["flags"].(map[string]any)
	if _, ok := flags["timed_out"]; !ok {
		t.Errorf("flags = %v, want timed_out", flags)
	}
}

func TestIntegration_ExecWithoutIdentity(t *testing.T) {
	h := newHarness(t)

	_, err := h.runner.Exec(context.Background(), shInvocation(`touch should-not-run`, 0))
	if !errors.Is(err, recorder.ErrConfiguration) {
		t.Fatalf("Exec() error = %v, want ErrConfiguration", err)
	}
	if recs := h.records(t); len(recs) != 0 {
		t.Errorf("recorded %d runs, want none", len(recs))
	}
	if h.stdout.Len() != 0 {
		t.Errorf("command ran: %q", h.stdout.String())
	}
}

func TestIntegration_AutomationFromWorkdir(t *testing.T) {
	h := newHarness(t)

	dir := t.TempDir()
	if err := config.WriteAutomation(filepath.Join(dir, config.DefaultAutomationConfigPath), map[string]any{
		config.KeyAutomationID: 7,
		config.KeyTableName:    "export_runs",
		config.KeyPathMode:     "script",
	}, false); err != nil {
		t.Fatalf("WriteAutomation() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "job.sh"), []byte("echo done\n"), 0o644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	a := &config.Automation{
		Name:    "export",
		Command: "/bin/sh job.sh",
		Workdir: dir,
	}
	if err := h.runner.Run(context.Background(), a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	rec := h.only(t)
	if rec["automation_id"] != float64(7) {
		t.Errorf("automation_id = %v, want 7", rec["automation_id"])
	}
	if rec["table_name"] != "export_runs" {
		t.Errorf("table_name = %v, want export_runs", rec["table_name"])
	}

	ctx := rec["context"].(map[string]any)
	if ctx["entry_script_path"] != filepath.Join(dir, "job.sh") {
		t.Errorf("entry_script_path = %v, want %s", ctx["entry_script_path"], filepath.Join(dir, "job.sh"))
	}
	if ctx["path_mode"] != "script" {
		t.Errorf("path_mode = %v, want script", ctx["path_mode"])
	}
	if ctx["cwd"] != dir || ctx["resolved_path"] != dir {
		t.Errorf("cwd = %v, resolved_path = %v, want %s", ctx["cwd"], ctx["resolved_path"], dir)
	}
	if ctx["config_path"] != filepath.Join(dir, config.DefaultAutomationConfigPath) {
		t.Errorf("config_path = %v", ctx["config_path"])
	}
	if out := rec["output"].(map[string]any); out["stdout_tail"] != "done\n" {
		t.Errorf("stdout_tail = %q, want %q", out["stdout_tail"], "done\n")
	}
}

func TestIntegration_RunOnce(t *testing.T) {
	h := newHarness(t)

	automations := []config.Automation{
		{Name: "ok", Command: "/bin/true", ID: 1},
		{Name: "broken", Command: "/bin/false", ID: 2},
	}
	sched := scheduler.New(context.Background(), logging.Discard())
	for i := range automations {
		if err := sched.AddAutomation(&automations[i], h.runner); err != nil {
			t.Fatalf("AddAutomation() error = %v", err)
		}
	}
	err := runOnce(sched)
	if err == nil || !strings.Contains(err.Error(), "automation broken") {
		t.Fatalf("runOnce() error = %v, want failure of broken", err)
	}

	recs := h.records(t)
	if len(recs) != 2 {
		t.Fatalf("recorded %d runs, want 2", len(recs))
	}
	byID := map[float64]map[string]any{}
	for _, rec := range recs {
		byID[rec["automation_id"].(float64)] = rec
	}
	if byID[1]["success"] != true {
		t.Errorf("automation 1 success = %v, want true", byID[1]["success"])
	}
	if byID[2]["success"] != false {
		t.Errorf("automation 2 success = %v, want false", byID[2]["success"])
	}
	if st, _ := sched.Stats("broken"); st.FailureCount != 1 || st.Running {
		t.Errorf("broken stats = %+v, want one failure and not running", st)
	}
}
