package recorder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/caevv/runlog/internal/normalize"
	"github.com/caevv/runlog/internal/record"
	"github.com/cockroachdb/errors"
)

type state int

const (
	stateCreated state = iota
	stateRunning
	stateFinalized
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateRunning:
		return "running"
	default:
		return "finalized"
	}
}

// Recorder accumulates the state of a single run and persists it once, on
// Exit. It is not safe for concurrent use; one goroutine owns a run.
type Recorder struct {
	identity record.Identity
	runID    string
	context  map[string]any
	output   map[string]any
	flags    record.Flags
	success  bool

	state   state
	created time.Time
	start   time.Time

	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// Enter starts the run. It captures the start instant used for duration_ms
// and the UTC run_time.
func (r *Recorder) Enter() error {
	if r.state != stateCreated {
		return errors.Mark(errors.Newf("cannot enter a %s recorder", r.state), ErrState)
	}
	r.start = r.now()
	r.state = stateRunning
	r.logger.Debug("run started", "run_time", r.start.UTC())
	return nil
}

// Exit finalizes the run and persists its record. It must be deferred
// directly so it can observe a panic:
//
//	if err := rec.Enter(); err != nil {
//		return err
//	}
//	defer rec.Exit(ctx, &err)
//
// When *errp is non-nil or the work panicked, the run is marked failed and
// output["error"] describes the failure. The error is left untouched and a
// panic is re-raised with its original value. Persistence failures are
// logged and never returned.
func (r *Recorder) Exit(ctx context.Context, errp *error) {
	p := recover()
	var stack []byte
	if p != nil {
		stack = currentStack()
	}

	if r.state == stateFinalized {
		r.logger.Warn("recorder already finalized; ignoring Exit")
		if p != nil {
			panic(p)
		}
		return
	}

	r.finalize(ctx, errp, p, stack)

	if p != nil {
		panic(p)
	}
}

// Run enters the recorder, calls fn and exits. fn's error is returned
// unchanged; a panic in fn propagates after the record is written.
func (r *Recorder) Run(ctx context.Context, fn func(context.Context, *Recorder) error) (err error) {
	if err := r.Enter(); err != nil {
		return err
	}
	defer r.Exit(ctx, &err)
	return fn(ctx, r)
}

func (r *Recorder) finalize(ctx context.Context, errp *error, p any, stack []byte) {
	start := r.start
	if r.state == stateCreated {
		r.logger.Warn("recorder exited without Enter; timing from construction")
		start = r.created
	}
	r.state = stateFinalized

	elapsed := r.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	switch {
	case p != nil:
		r.success = false
		r.output["error"] = normalize.Value(panicFailure(p, stack))
	case errp != nil && *errp != nil:
		r.success = false
		r.output["error"] = normalize.Value(errorFailure(*errp))
	}

	rec := &record.RunRecord{
		RunID:      r.runID,
		Identity:   r.identity,
		RunTime:    start.UTC(),
		DurationMS: elapsed.Milliseconds(),
		Context:    r.Context(),
		Output:     r.Output(),
		Flags:      r.flags.Clone(),
		Success:    r.success,
	}

	r.logger.Debug("run finished", "success", rec.Success, "duration_ms", rec.DurationMS)
	r.persist(ctx, rec)
}

// persist hands rec to the sink. The caller's cancellation does not apply:
// a run that was cancelled is still recorded.
func (r *Recorder) persist(ctx context.Context, rec *record.RunRecord) {
	if r.sink == nil {
		r.logger.Warn("no sink configured; run not recorded")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.Newf("sink panicked: %v", p)
			}
		}()
		return r.sink.Insert(context.WithoutCancel(ctx), rec)
	}()
	if err != nil {
		r.logger.Error("failed to log run",
			"schema_name", rec.SchemaName,
			"table_name", rec.TableName,
			"error", err)
	}
}

// mutable reports whether state changes still reach the record.
func (r *Recorder) mutable(op string) bool {
	if r.state == stateFinalized {
		r.logger.Warn("recorder already finalized; change dropped", "op", op)
		return false
	}
	return true
}

// SetOutput replaces the whole output with a normalized copy of payload.
func (r *Recorder) SetOutput(payload map[string]any) {
	if !r.mutable("SetOutput") {
		return
	}
	r.output = normalize.Map(payload)
}

// AddOutput sets one output key.
func (r *Recorder) AddOutput(key string, value any) {
	if !r.mutable("AddOutput") {
		return
	}
	r.output[key] = normalize.Value(value)
}

// MarkFailure marks the run failed. There is no way back.
func (r *Recorder) MarkFailure() {
	if !r.mutable("MarkFailure") {
		return
	}
	r.success = false
}

// SetFlag stores a flag carrying a single value, replacing any previous
// form of the flag.
func (r *Recorder) SetFlag(name string, value any) error {
	name, err := flagName(name)
	if err != nil {
		return err
	}
	if !r.mutable("SetFlag") {
		return nil
	}
	r.flags[name] = record.Scalar(normalize.Value(value))
	return nil
}

// AddFlag raises a non-fatal flag. Without metadata the flag is set only if
// absent, so repeated calls are harmless. With metadata the keys are merged
// into the flag's metadata: a bare flag starts from an empty map and a
// scalar flag keeps its value under "value".
func (r *Recorder) AddFlag(name string, meta map[string]any) error {
	name, err := flagName(name)
	if err != nil {
		return err
	}
	if !r.mutable("AddFlag") {
		return nil
	}

	existing, ok := r.flags[name]
	if len(meta) == 0 {
		if !ok {
			r.flags[name] = record.Present()
		}
		return nil
	}

	merged := map[string]any{}
	if ok {
		switch existing.Kind() {
		case record.FlagScalar:
			merged["value"] = normalize.Value(existing.Value())
		case record.FlagMetadata:
			merged = existing.Metadata()
		}
	}
	for k, v := range meta {
		merged[k] = normalize.Value(v)
	}
	r.flags[name] = record.WithMetadata(merged)
	return nil
}

func flagName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", validationError("flag name must be a non-empty string, got %q", name)
	}
	return trimmed, nil
}

// Identity returns the resolved identity.
func (r *Recorder) Identity() record.Identity {
	return r.identity
}

// RunID returns the unique id of this run.
func (r *Recorder) RunID() string {
	return r.runID
}

// Success reports whether the run is still considered successful.
func (r *Recorder) Success() bool {
	return r.success
}

// Context returns a copy of the run context.
func (r *Recorder) Context() map[string]any {
	return normalize.Map(r.context)
}

// Output returns a copy of the output.
func (r *Recorder) Output() map[string]any {
	return normalize.Map(r.output)
}

// Flags returns a copy of the flags.
func (r *Recorder) Flags() record.Flags {
	return r.flags.Clone()
}
