package serialize

import (
	"fmt"
	"go/token"
	"reflect"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// stackTracer is implemented by errors created or wrapped with
// github.com/pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

type namer interface {
	Name() string
}

// ErrorName returns the class name of err: the value of a Name method when
// one exists, otherwise the first exported concrete type name along the
// unwrap chain, "RuntimeError" for runtime panics, and "Error" when nothing
// more specific is known.
func ErrorName(err error) (name string) {
	defer func() {
		if recover() != nil {
			name = "Error"
		}
	}()

	runtimeErr := false
	for e := err; e != nil; e = errors.Unwrap(e) {
		if n, ok := e.(namer); ok && n.Name() != "" {
			return n.Name()
		}
		if tn := exportedTypeName(e); tn != "" {
			return tn
		}
		if _, ok := e.(runtime.Error); ok {
			runtimeErr = true
		}
	}
	if runtimeErr {
		return "RuntimeError"
	}
	return "Error"
}

func exportedTypeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" || !token.IsExported(name) {
		return ""
	}
	return name
}

// ErrorStack returns the innermost stack trace recorded by pkg/errors along
// the unwrap chain, one frame per line, or "" when none was recorded.
func ErrorStack(err error) (stack string) {
	defer func() {
		if recover() != nil {
			stack = ""
		}
	}()

	var st errors.StackTrace
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t, ok := e.(stackTracer); ok {
			st = t.StackTrace()
		}
	}
	if len(st) == 0 {
		return ""
	}
	return strings.TrimLeft(fmt.Sprintf("%+v", st), "\n")
}

// ErrorCause returns the message of the root error in err's unwrap chain,
// or "" when err wraps nothing.
func ErrorCause(err error) (cause string) {
	defer func() {
		if recover() != nil {
			cause = ""
		}
	}()

	root := err
	for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
		root = next
	}
	if root == err {
		return ""
	}
	if root.Error() == err.Error() {
		// pkg/errors.WithStack wraps without adding text.
		return ""
	}
	return root.Error()
}
