package serialize

import (
	"bytes"
	"encoding"
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const maxDepth = 64

var (
	errUnsupported = errors.New("unsupported value")
	errTooDeep     = errors.New("value nested too deeply")

	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// visitKey identifies a reference by address and type, so a struct and its
// first field (same address, different type) are not mistaken for a cycle.
type visitKey struct {
	ptr uintptr
	typ reflect.Type
}

// walker writes JSON for a value while tracking the references currently on
// the walk path. A reference is only "circular" if it is re-entered while
// its own serialization is still in progress; shared siblings are fine.
type walker struct {
	visiting map[visitKey]bool
}

func (w *walker) enter(rv reflect.Value) (key visitKey, circular bool) {
	key = visitKey{ptr: rv.Pointer(), typ: rv.Type()}
	if w.visiting[key] {
		return key, true
	}
	w.visiting[key] = true
	return key, false
}

func (w *walker) write(buf *bytes.Buffer, rv reflect.Value, depth int) error {
	if depth > maxDepth {
		return errTooDeep
	}
	if !rv.IsValid() {
		buf.WriteString("null")
		return nil
	}
	if isNilRef(rv) {
		buf.WriteString("null")
		return nil
	}

	t := rv.Type()
	if rv.CanInterface() {
		switch {
		case t.Implements(errorType):
			return writeErrorObject(buf, rv.Interface().(error))
		case t == bigIntType:
			n := rv.Interface().(big.Int)
			buf.WriteString(n.String())
			return nil
		case t.Implements(marshalerType):
			b, err := rv.Interface().(json.Marshaler).MarshalJSON()
			if err != nil {
				return err
			}
			return json.Compact(buf, b)
		case t.Implements(textMarshalerType):
			b, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
			if err != nil {
				return err
			}
			writeString(buf, string(b))
			return nil
		}
	}

	switch rv.Kind() {
	case reflect.Interface:
		return w.write(buf, rv.Elem(), depth+1)

	case reflect.Pointer:
		key, circular := w.enter(rv)
		if circular {
			writeString(buf, Circular)
			return nil
		}
		defer delete(w.visiting, key)
		return w.write(buf, rv.Elem(), depth+1)

	case reflect.Map:
		key, circular := w.enter(rv)
		if circular {
			writeString(buf, Circular)
			return nil
		}
		defer delete(w.visiting, key)
		return w.writeMap(buf, rv, depth)

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b, err := json.Marshal(rv.Bytes())
			if err != nil {
				return err
			}
			buf.Write(b)
			return nil
		}
		if rv.Len() > 0 {
			key, circular := w.enter(rv)
			if circular {
				writeString(buf, Circular)
				return nil
			}
			defer delete(w.visiting, key)
		}
		return w.writeList(buf, rv, depth)

	case reflect.Array:
		return w.writeList(buf, rv, depth)

	case reflect.Struct:
		buf.WriteByte('{')
		first := true
		if err := w.writeFields(buf, rv, &first, depth); err != nil {
			return err
		}
		buf.WriteByte('}')
		return nil

	case reflect.String:
		writeString(buf, rv.String())
	case reflect.Bool:
		buf.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, t.Bits()))
	case reflect.Func:
		writeString(buf, funcName(rv))
	default:
		// Channels, complex numbers and unsafe pointers have no JSON form.
		return errUnsupported
	}
	return nil
}

func isNilRef(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func (w *walker) writeMap(buf *bytes.Buffer, rv reflect.Value, depth int) error {
	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, entry{key: mapKey(iter.Key()), val: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, e.key)
		buf.WriteByte(':')
		if err := w.write(buf, e.val, depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			if b, err := tm.MarshalText(); err == nil {
				return string(b)
			}
		}
	}
	return Value(k.Interface())
}

func (w *walker) writeList(buf *bytes.Buffer, rv reflect.Value, depth int) error {
	buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := w.write(buf, rv.Index(i), depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// writeFields emits the exported fields of a struct, honouring json tags
// and flattening untagged embedded structs the way encoding/json does.
func (w *walker) writeFields(buf *bytes.Buffer, rv reflect.Value, first *bool, depth int) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fv := rv.Field(i)

		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}

		if f.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				if err := w.writeFields(buf, inner, first, depth+1); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		if name == "" {
			name = f.Name
		}

		if !*first {
			buf.WriteByte(',')
		}
		*first = false
		writeString(buf, name)
		buf.WriteByte(':')
		if err := w.write(buf, fv, depth+1); err != nil {
			return err
		}
	}
	return nil
}

type errorObject struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func writeErrorObject(buf *bytes.Buffer, err error) error {
	b, mErr := marshal(errorObject{
		Name:    ErrorName(err),
		Message: err.Error(),
		Stack:   ErrorStack(err),
	})
	if mErr != nil {
		return mErr
	}
	buf.Write(b)
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := marshal(s)
	buf.Write(b)
}

// marshal is json.Marshal without HTML escaping; the output is display text,
// and escaping for HTML happens once, at render time.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
