package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ErrMalformed is returned by Decode for frames that are not a recognizable
// console or error event.
var ErrMalformed = errors.New("malformed message")

// Message is a decoded wire frame. Exactly one of Console and Error is set,
// matching Kind.
type Message struct {
	Kind    Kind
	Console *ConsoleEvent
	Error   *ErrorEvent
}

type consoleFrame struct {
	Kind Kind `json:"kind"`
	ConsoleEvent
}

type errorFrame struct {
	Kind Kind `json:"kind"`
	ErrorEvent
}

// EncodeConsole renders a console event as a tagged wire frame.
func EncodeConsole(ev ConsoleEvent) ([]byte, error) {
	return json.Marshal(consoleFrame{Kind: KindConsole, ConsoleEvent: ev})
}

// EncodeError renders an error event as a tagged wire frame.
func EncodeError(ev ErrorEvent) ([]byte, error) {
	return json.Marshal(errorFrame{Kind: KindError, ErrorEvent: ev})
}

// Decode parses a wire frame. The "kind" field decides the shape; frames
// without one fall back to the structural rule (a "level" field means a
// console event, a "name" field without "level" means an error event).
// Anything else yields ErrMalformed.
func Decode(b []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil || fields == nil {
		return Message{}, ErrMalformed
	}

	var kind Kind
	if raw, ok := fields["kind"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return Message{}, ErrMalformed
		}
	}
	_, hasLevel := fields["level"]
	_, hasName := fields["name"]

	switch {
	case kind == KindConsole, kind == "" && hasLevel:
		return decodeConsole(b)
	case kind == KindError, kind == "" && hasName:
		return decodeError(b)
	default:
		return Message{}, ErrMalformed
	}
}

func decodeConsole(b []byte) (Message, error) {
	var ev ConsoleEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return Message{}, errors.Wrap(ErrMalformed, err.Error())
	}
	switch ev.Level {
	case LevelLog, LevelInfo, LevelWarn:
		return Message{Kind: KindConsole, Console: &ev}, nil
	case LevelError:
		// Older producers sent console.error as a level-tagged entry. It
		// still belongs in the error bucket.
		return Message{Kind: KindError, Error: &ErrorEvent{
			Name:      "Error",
			Message:   ev.Message,
			Timestamp: ev.Timestamp,
			Source:    ev.Source,
		}}, nil
	default:
		return Message{}, errors.Wrap(ErrMalformed, fmt.Sprintf("unknown level %q", ev.Level))
	}
}

func decodeError(b []byte) (Message, error) {
	var ev ErrorEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return Message{}, errors.Wrap(ErrMalformed, err.Error())
	}
	if ev.Name == "" {
		ev.Name = "Error"
	}
	return Message{Kind: KindError, Error: &ev}, nil
}
