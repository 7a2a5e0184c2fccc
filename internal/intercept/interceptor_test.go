package intercept

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/large-farva/pikka-console/internal/console"
	"github.com/large-farva/pikka-console/internal/serialize"
	"github.com/large-farva/pikka-console/internal/telemetry"
)

type fakeHost struct {
	c *console.Console
}

func (h fakeHost) Console() *console.Console { return h.c }
func (h fakeHost) Source() telemetry.Source {
	return telemetry.Source{URL: "/app?q=1", Origin: "http://localhost:5173", TabID: "t"}
}

func newHost() (fakeHost, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return fakeHost{c: console.New(&out, &errOut)}, &out, &errOut
}

func samePointer(a, b console.Method) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func TestLogInvokesSinkOnceAndStillWrites(t *testing.T) {
	host, out, _ := newHost()
	var events []telemetry.ConsoleEvent
	i := New(host, func(ev telemetry.ConsoleEvent) { events = append(events, ev) })
	i.Start()
	defer i.Stop()

	x := map[string]any{"user": "ada", "n": 2}
	host.c.Log(x)

	if len(events) != 1 {
		t.Fatalf("sink called %d times, want 1", len(events))
	}
	ev := events[0]
	if ev.Level != telemetry.LevelLog || ev.Message != serialize.Value(x) {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp == 0 || ev.Source.URL != "/app?q=1" || len(ev.RawArgs) != 1 {
		t.Errorf("metadata = %+v", ev)
	}
	if !strings.Contains(out.String(), "map[") {
		t.Errorf("original log output missing: %q", out.String())
	}
}

func TestLevelsAndErrorUntouched(t *testing.T) {
	host, _, errOut := newHost()
	var levels []telemetry.Level
	i := New(host, func(ev telemetry.ConsoleEvent) { levels = append(levels, ev.Level) })
	i.Start()
	defer i.Stop()

	host.c.Info("i")
	host.c.Warn("disk low", map[string]int{"pct": 91})
	host.c.Error("not mine")

	want := []telemetry.Level{telemetry.LevelInfo, telemetry.LevelWarn}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("levels = %v, want %v", levels, want)
	}
	if host.c.Depth(telemetry.LevelError) != 0 {
		t.Error("interceptor must not patch console.Error")
	}
	if !strings.Contains(errOut.String(), "not mine") {
		t.Error("error output lost")
	}
}

func TestWarnMessageJoinsArguments(t *testing.T) {
	host, _, _ := newHost()
	var got string
	i := New(host, func(ev telemetry.ConsoleEvent) { got = ev.Message })
	i.Start()
	defer i.Stop()

	host.c.Warn("disk low", map[string]int{"pct": 91})
	if got != `disk low {"pct":91}` {
		t.Errorf("message = %q", got)
	}
}

func TestStopRestoresOriginals(t *testing.T) {
	host, _, _ := newHost()
	before := host.c.Method(telemetry.LevelLog)
	calls := 0
	i := New(host, func(telemetry.ConsoleEvent) { calls++ })

	i.Start()
	i.Stop()

	if !samePointer(host.c.Method(telemetry.LevelLog), before) {
		t.Error("console.Log should be the original method after Stop")
	}
	host.c.Log("after stop")
	if calls != 0 {
		t.Errorf("sink called %d times after Stop", calls)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	host, _, _ := newHost()
	i := New(host, func(telemetry.ConsoleEvent) {})
	i.Stop()
	i.Start()
	i.Stop()
	i.Stop()
	if i.Active() {
		t.Error("interceptor should be inactive")
	}
	for _, lvl := range interceptedLevels {
		if d := host.c.Depth(lvl); d != 0 {
			t.Errorf("%s depth = %d, want 0", lvl, d)
		}
	}
}

func TestStartIsReferenceCounted(t *testing.T) {
	host, _, _ := newHost()
	calls := 0
	i := New(host, func(telemetry.ConsoleEvent) { calls++ })

	i.Start()
	i.Start()
	host.c.Log("once")
	if calls != 1 {
		t.Fatalf("double Start must not double patch, sink calls = %d", calls)
	}

	i.Stop()
	if !i.Active() {
		t.Fatal("one Stop after two Starts should keep the patch")
	}
	i.Stop()
	if i.Active() || host.c.Depth(telemetry.LevelLog) != 0 {
		t.Fatal("second Stop should remove the patch")
	}
}

func TestSinkPanicIsSwallowed(t *testing.T) {
	host, out, errOut := newHost()
	i := New(host, func(telemetry.ConsoleEvent) { panic("sink broke") })
	i.Start()
	defer i.Stop()

	host.c.Log("still printed")

	if !strings.Contains(out.String(), "still printed") {
		t.Error("original method must still run when the sink fails")
	}
	if !strings.Contains(errOut.String(), "sink broke") {
		t.Errorf("diagnostic missing from base error output: %q", errOut.String())
	}
}

func TestUnserializableArgumentDoesNotBreakLogging(t *testing.T) {
	host, _, _ := newHost()
	var got string
	i := New(host, func(ev telemetry.ConsoleEvent) { got = ev.Message })
	i.Start()
	defer i.Stop()

	host.c.Log("chan:", make(chan int))
	if got != "chan: "+serialize.Unserializable {
		t.Errorf("message = %q", got)
	}
}

func TestTwoInterceptorsStoppedOutOfOrder(t *testing.T) {
	host, _, _ := newHost()
	before := host.c.Method(telemetry.LevelWarn)
	a := New(host, func(telemetry.ConsoleEvent) {})
	b := New(host, func(telemetry.ConsoleEvent) {})

	a.Start()
	b.Start()
	a.Stop()
	b.Stop()

	if !samePointer(host.c.Method(telemetry.LevelWarn), before) {
		t.Error("stopping in start order must still restore the original")
	}
}
