// Package console is the patchable console a monitored page writes to. Each
// of the four methods (log, info, warn, error) is a slot that can be wrapped
// by interceptors. Wrapping is layered: every patch gets a Layer token, only
// the token holder can remove it, and removal rebuilds the chain from the
// base method, so layers can be removed in any order without leaving a stale
// wrapper behind.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/large-farva/pikka-console/internal/telemetry"
)

// Method is a console method: it receives the call's arguments.
type Method func(args ...any)

// Wrap builds a patched method around the method below it.
type Wrap func(next Method) Method

// Layer is the capability token for one installed patch.
type Layer struct {
	c     *Console
	level telemetry.Level
	wrap  Wrap
	once  sync.Once
}

// Remove uninstalls the patch. Calling it more than once is a no-op.
func (l *Layer) Remove() {
	l.once.Do(func() { l.c.remove(l) })
}

type slot struct {
	base      Method
	layers    []*Layer
	effective Method
}

// Console holds the four method slots.
type Console struct {
	mu    sync.RWMutex
	slots map[telemetry.Level]*slot
}

// New returns a console whose log and info methods print to out and whose
// warn and error methods print to errOut, one line per call.
func New(out, errOut io.Writer) *Console {
	c := &Console{slots: make(map[telemetry.Level]*slot, len(telemetry.Levels))}
	for _, lvl := range telemetry.Levels {
		w := out
		if lvl == telemetry.LevelWarn || lvl == telemetry.LevelError {
			w = errOut
		}
		base := printer(w)
		c.slots[lvl] = &slot{base: base, effective: base}
	}
	return c
}

// Std returns a console writing to the process's stdout and stderr.
func Std() *Console {
	return New(os.Stdout, os.Stderr)
}

func printer(w io.Writer) Method {
	var mu sync.Mutex
	return func(args ...any) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintln(w, args...)
	}
}

// Log calls the current log method.
func (c *Console) Log(args ...any) { c.Method(telemetry.LevelLog)(args...) }

// Info calls the current info method.
func (c *Console) Info(args ...any) { c.Method(telemetry.LevelInfo)(args...) }

// Warn calls the current warn method.
func (c *Console) Warn(args ...any) { c.Method(telemetry.LevelWarn)(args...) }

// Error calls the current error method.
func (c *Console) Error(args ...any) { c.Method(telemetry.LevelError)(args...) }

// Method returns the effective (possibly patched) method for level. Unknown
// levels get a method that discards its arguments.
func (c *Console) Method(level telemetry.Level) Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[level]
	if !ok {
		return func(...any) {}
	}
	return s.effective
}

// Base returns the original, unpatched method for level. Capture code uses
// it to report its own failures without re-entering any patch.
func (c *Console) Base(level telemetry.Level) Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[level]
	if !ok {
		return func(...any) {}
	}
	return s.base
}

// Depth reports how many patches are installed on level.
func (c *Console) Depth(level telemetry.Level) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.slots[level]; ok {
		return len(s.layers)
	}
	return 0
}

// Patch installs wrap on top of level's current method and returns the
// token that removes it.
func (c *Console) Patch(level telemetry.Level, wrap Wrap) *Layer {
	l := &Layer{c: c, level: level, wrap: wrap}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[level]
	if !ok {
		return l
	}
	s.layers = append(s.layers, l)
	s.effective = wrap(s.effective)
	return l
}

func (c *Console) remove(l *Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[l.level]
	if !ok {
		return
	}
	kept := s.layers[:0]
	for _, x := range s.layers {
		if x != l {
			kept = append(kept, x)
		}
	}
	for i := len(kept); i < len(s.layers); i++ {
		s.layers[i] = nil
	}
	s.layers = kept

	m := s.base
	for _, x := range s.layers {
		m = x.wrap(m)
	}
	s.effective = m
}
