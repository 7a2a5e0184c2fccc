// Package telemetry defines the typed events that flow from a monitored page
// to the viewer, and their wire encoding. Every frame on the relay is a flat
// JSON object tagged with a "kind" field so consumers never have to guess the
// shape of a payload.
package telemetry

import "time"

// Level identifies which console method produced an event.
type Level string

const (
	LevelLog   Level = "log"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Levels lists the console methods in display order.
var Levels = []Level{LevelLog, LevelInfo, LevelWarn, LevelError}

// Valid reports whether l is one of the four console levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLog, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Kind discriminates the two event shapes on the wire.
type Kind string

const (
	KindConsole Kind = "console"
	KindError   Kind = "error"
)

// Source describes the page an event originated from.
type Source struct {
	URL    string `json:"url"`
	Origin string `json:"origin"`
	TabID  string `json:"tabId"`
}

// ConsoleEvent is a log, info or warn call captured from a page console.
type ConsoleEvent struct {
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	RawArgs   []any  `json:"-"`
	Timestamp int64  `json:"timestamp"`
	Source    Source `json:"source"`
}

// ErrorEvent is the single shape every captured error normalizes into,
// whether it came from console.Error, a panic, a failed resource or an
// unhandled rejection.
type ErrorEvent struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	Cause     string `json:"cause,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Source    Source `json:"source"`
}

// NowMillis returns the current wall clock as epoch milliseconds, the
// timestamp unit used by every event.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Time converts an epoch-millisecond timestamp back to a time.Time.
func Time(ms int64) time.Time {
	return time.UnixMilli(ms)
}
