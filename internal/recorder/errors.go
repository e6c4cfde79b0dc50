package recorder

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
)

var (
	// ErrConfiguration marks failures to resolve a recorder's identity. A
	// recorder is never returned alongside one.
	ErrConfiguration = errors.New("runlog configuration error")

	// ErrValidation marks invalid arguments to recorder operations.
	ErrValidation = errors.New("runlog validation error")

	// ErrState marks operations called in the wrong lifecycle state.
	ErrState = errors.New("runlog recorder state error")
)

const identityHint = "pass an automation id explicitly, set automation_id in the automation config, or export AUTOMATION_ID"

func configurationError(err error) error {
	return errors.WithHint(errors.Mark(err, ErrConfiguration), identityHint)
}

func validationError(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// failureInfo is stored under output["error"] when the monitored work fails.
// The keys match the run_log rows written before runlog existed.
func failureInfo(typ, message, traceback string) map[string]any {
	return map[string]any{
		"type":      typ,
		"message":   message,
		"traceback": traceback,
	}
}

// errorFailure describes an error returned by the monitored work. The type is
// that of the root cause, so wrapping does not hide what went wrong.
func errorFailure(err error) map[string]any {
	return failureInfo(
		fmt.Sprintf("%T", errors.UnwrapAll(err)),
		err.Error(),
		fmt.Sprintf("%+v", err),
	)
}

// panicFailure describes a recovered panic. stack is captured by the caller
// while the panicking frames are still on the goroutine's stack.
func panicFailure(p any, stack []byte) map[string]any {
	if err, ok := p.(error); ok {
		return failureInfo(
			fmt.Sprintf("%T", errors.UnwrapAll(err)),
			err.Error(),
			string(stack),
		)
	}
	return failureInfo(fmt.Sprintf("%T", p), fmt.Sprint(p), string(stack))
}

func currentStack() []byte {
	return debug.Stack()
}
