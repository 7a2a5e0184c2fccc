package render

import (
	"sort"
	"time"

	"github.com/large-farva/pikka-console/internal/consumer"
	"github.com/large-farva/pikka-console/internal/telemetry"
)

// Tab names one view of the aggregated state.
type Tab string

const (
	TabAll   Tab = "all"
	TabLog   Tab = "log"
	TabInfo  Tab = "info"
	TabWarn  Tab = "warn"
	TabError Tab = "error"
)

// Tabs lists the tab buttons in display order.
var Tabs = []Tab{TabAll, TabLog, TabInfo, TabWarn, TabError}

// Valid reports whether t is a known tab.
func (t Tab) Valid() bool {
	switch t {
	case TabAll, TabLog, TabInfo, TabWarn, TabError:
		return true
	}
	return false
}

// Title is the button label.
func (t Tab) Title() string {
	switch t {
	case TabAll:
		return "All"
	case TabLog:
		return "Log"
	case TabInfo:
		return "Info"
	case TabWarn:
		return "Warn"
	case TabError:
		return "Error"
	}
	return string(t)
}

// Row is one displayable entry, console or error.
type Row struct {
	Bucket    Tab              `json:"bucket"`
	Name      string           `json:"name,omitempty"` // error class, empty for console rows
	Message   string           `json:"message"`
	Stack     string           `json:"stack,omitempty"`
	Cause     string           `json:"cause,omitempty"`
	Timestamp int64            `json:"timestamp"`
	Source    telemetry.Source `json:"source"`
}

// Time returns the row timestamp as a local time.
func (r Row) Time() time.Time { return telemetry.Time(r.Timestamp).Local() }

// Rows returns the entries tab shows for s. TabAll merges every bucket,
// newest first; the others keep arrival order. Unknown tabs yield nil.
func Rows(s consumer.Snapshot, tab Tab) []Row {
	switch tab {
	case TabLog:
		return consoleRows(nil, s.Log, TabLog)
	case TabInfo:
		return consoleRows(nil, s.Info, TabInfo)
	case TabWarn:
		return consoleRows(nil, s.Warn, TabWarn)
	case TabError:
		return errorRows(nil, s.Error)
	case TabAll:
		rows := make([]Row, 0, s.Len())
		rows = errorRows(rows, s.Error)
		rows = consoleRows(rows, s.Info, TabInfo)
		rows = consoleRows(rows, s.Warn, TabWarn)
		rows = consoleRows(rows, s.Log, TabLog)
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Timestamp > rows[j].Timestamp
		})
		return rows
	}
	return nil
}

// Count returns how many entries tab holds in s.
func Count(s consumer.Snapshot, tab Tab) int {
	switch tab {
	case TabAll:
		return s.Len()
	case TabLog:
		return len(s.Log)
	case TabInfo:
		return len(s.Info)
	case TabWarn:
		return len(s.Warn)
	case TabError:
		return len(s.Error)
	}
	return 0
}

func consoleRows(dst []Row, evs []telemetry.ConsoleEvent, bucket Tab) []Row {
	for _, ev := range evs {
		dst = append(dst, Row{
			Bucket:    bucket,
			Message:   ev.Message,
			Timestamp: ev.Timestamp,
			Source:    ev.Source,
		})
	}
	return dst
}

func errorRows(dst []Row, evs []telemetry.ErrorEvent) []Row {
	for _, ev := range evs {
		dst = append(dst, Row{
			Bucket:    TabError,
			Name:      ev.Name,
			Message:   ev.Message,
			Stack:     ev.Stack,
			Cause:     ev.Cause,
			Timestamp: ev.Timestamp,
			Source:    ev.Source,
		})
	}
	return dst
}
