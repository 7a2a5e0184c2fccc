// Package serialize turns arbitrary runtime values into safe, stable text for
// console events. Every function here is total: it returns for any input and
// never lets a panic escape into the caller's logging path.
package serialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

const (
	// Unserializable replaces any value the serializer could not render.
	Unserializable = "[Unserializable]"
	// Circular replaces a reference that is already being walked.
	Circular = "[Circular]"
	// Undefined is the rendering of an untyped nil.
	Undefined = "undefined"
)

var closureName = regexp.MustCompile(`(^|\.)func\d+(\.\d+)*$`)

var (
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	bigIntType    = reflect.TypeOf(big.Int{})
)

// Join serializes each argument and joins them with a single space, the way
// a console renders a multi-argument call.
func Join(args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Value(a)
	}
	return strings.Join(parts, " ")
}

// Value renders v as a human-readable string. Strings pass through as-is,
// scalars use their text form, functions render as [Function: name] and
// everything else is JSON with cycles replaced by "[Circular]".
func Value(v any) (out string) {
	defer func() {
		if recover() != nil {
			out = Unserializable
		}
	}()

	switch x := v.(type) {
	case nil:
		return Undefined
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case *big.Int:
		if x == nil {
			return "null"
		}
		return x.String() + "n"
	case big.Int:
		return x.String() + "n"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if _, ok := v.(json.Marshaler); !ok {
			return strconv.FormatInt(rv.Int(), 10)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if _, ok := v.(json.Marshaler); !ok {
			return strconv.FormatUint(rv.Uint(), 10)
		}
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), rv.Type().Bits())
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(rv.Complex())
	case reflect.Func:
		return funcName(rv)
	}

	w := &walker{visiting: make(map[visitKey]bool)}
	var buf bytes.Buffer
	if err := w.write(&buf, rv, 0); err != nil {
		return Unserializable
	}
	return buf.String()
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

func funcName(rv reflect.Value) string {
	if rv.IsNil() {
		return "null"
	}
	fn := runtime.FuncForPC(rv.Pointer())
	if fn == nil {
		return "[Function: anonymous]"
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	// Method values carry a -fm suffix; closures are named outer.funcN.
	name = strings.TrimSuffix(name, "-fm")
	if name == "" || closureName.MatchString(name) {
		return "[Function: anonymous]"
	}
	return "[Function: " + name + "]"
}
