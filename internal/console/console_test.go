package console

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/large-farva/pikka-console/internal/telemetry"
)

func samePointer(a, b Method) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func tagging(tag string, calls *[]string) Wrap {
	return func(next Method) Method {
		return func(args ...any) {
			*calls = append(*calls, tag)
			next(args...)
		}
	}
}

func TestBaseMethodsRouteToWriters(t *testing.T) {
	var out, errOut bytes.Buffer
	c := New(&out, &errOut)

	c.Log("a", 1)
	c.Info("b")
	c.Warn("c")
	c.Error("d")

	if got := out.String(); got != "a 1\nb\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); got != "c\nd\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestPatchAndRemoveRestoresBase(t *testing.T) {
	var out bytes.Buffer
	c := New(&out, &out)
	before := c.Method(telemetry.LevelLog)

	var calls []string
	layer := c.Patch(telemetry.LevelLog, tagging("outer", &calls))
	if samePointer(c.Method(telemetry.LevelLog), before) {
		t.Fatal("patched method should differ from base")
	}
	c.Log("x")
	if len(calls) != 1 || out.String() != "x\n" {
		t.Fatalf("calls=%v out=%q", calls, out.String())
	}

	layer.Remove()
	layer.Remove()
	if c.Depth(telemetry.LevelLog) != 0 {
		t.Fatalf("depth = %d, want 0", c.Depth(telemetry.LevelLog))
	}
	if !samePointer(c.Method(telemetry.LevelLog), before) {
		t.Error("after removal the log method must be the original")
	}
	c.Log("y")
	if len(calls) != 1 {
		t.Errorf("removed wrapper still called: %v", calls)
	}
}

func TestOutOfOrderRemoval(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	base := c.Method(telemetry.LevelWarn)

	var calls []string
	first := c.Patch(telemetry.LevelWarn, tagging("first", &calls))
	second := c.Patch(telemetry.LevelWarn, tagging("second", &calls))

	c.Warn("1")
	if strings.Join(calls, ",") != "second,first" {
		t.Fatalf("calls = %v, want outermost first", calls)
	}

	calls = nil
	first.Remove()
	c.Warn("2")
	if strings.Join(calls, ",") != "second" {
		t.Fatalf("after removing the inner layer calls = %v", calls)
	}

	second.Remove()
	if !samePointer(c.Method(telemetry.LevelWarn), base) {
		t.Error("removing both layers in either order must restore the base")
	}
}

func TestBaseBypassesPatches(t *testing.T) {
	var errOut bytes.Buffer
	c := New(&bytes.Buffer{}, &errOut)
	var calls []string
	c.Patch(telemetry.LevelError, tagging("p", &calls))

	c.Base(telemetry.LevelError)("direct")
	if len(calls) != 0 {
		t.Errorf("base must not run patches, got %v", calls)
	}
	if errOut.String() != "direct\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestUnknownLevelIsHarmless(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	c.Method("debug")("ignored")
	l := c.Patch("debug", func(next Method) Method { return next })
	l.Remove()
	if c.Depth("debug") != 0 {
		t.Error("unknown level has no layers")
	}
}
