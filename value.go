package callcache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EncodeValue converts a scalar into the bytes written to the backend.
// Strings are stored as UTF-8, byte slices as-is, integers as base-10 text and
// floats as their shortest round-trip text.
func EncodeValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return cloneBytes(v), nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}

// ArgKind tags the type of a recorded call argument.
type ArgKind string

const (
	ArgString ArgKind = "str"
	ArgBytes  ArgKind = "bytes"
	ArgInt    ArgKind = "int"
	ArgUint   ArgKind = "uint"
	ArgFloat  ArgKind = "float"
	ArgBool   ArgKind = "bool"
	ArgNil    ArgKind = "nil"
)

// Arg is one explicitly typed call argument. Text holds the canonical encoding:
// base64 for bytes, base-10 for integers, shortest round-trip text for floats.
type Arg struct {
	Kind ArgKind `json:"k"`
	Text string  `json:"v,omitempty"`
}

// Args is the structured form of an argument tuple as stored in a journal.
type Args []Arg

// EncodeArgs converts call arguments into their tagged form.
func EncodeArgs(args ...any) (Args, error) {
	out := make(Args, 0, len(args))
	for i, value := range args {
		arg, err := encodeArg(value)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, arg)
	}
	return out, nil
}

func encodeArg(value any) (Arg, error) {
	switch v := value.(type) {
	case nil:
		return Arg{Kind: ArgNil}, nil
	case bool:
		return Arg{Kind: ArgBool, Text: strconv.FormatBool(v)}, nil
	case string:
		return Arg{Kind: ArgString, Text: v}, nil
	case []byte:
		return Arg{Kind: ArgBytes, Text: base64.StdEncoding.EncodeToString(v)}, nil
	case int, int8, int16, int32, int64:
		body, _ := EncodeValue(v)
		return Arg{Kind: ArgInt, Text: string(body)}, nil
	case uint, uint8, uint16, uint32, uint64:
		body, _ := EncodeValue(v)
		return Arg{Kind: ArgUint, Text: string(body)}, nil
	case float32, float64:
		body, _ := EncodeValue(v)
		return Arg{Kind: ArgFloat, Text: string(body)}, nil
	default:
		return Arg{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}

// Value decodes the argument back into a Go value: string, []byte, int64,
// uint64, float64, bool or nil.
func (a Arg) Value() (any, error) {
	switch a.Kind {
	case ArgNil:
		return nil, nil
	case ArgBool:
		return strconv.ParseBool(a.Text)
	case ArgString:
		return a.Text, nil
	case ArgBytes:
		return base64.StdEncoding.DecodeString(a.Text)
	case ArgInt:
		return strconv.ParseInt(a.Text, 10, 64)
	case ArgUint:
		return strconv.ParseUint(a.Text, 10, 64)
	case ArgFloat:
		return strconv.ParseFloat(a.Text, 64)
	default:
		return nil, fmt.Errorf("%w: unknown argument kind %q", ErrUnsupportedValue, a.Kind)
	}
}

// String renders the argument as it would appear in source.
func (a Arg) String() string {
	switch a.Kind {
	case ArgNil:
		return "nil"
	case ArgString:
		return strconv.Quote(a.Text)
	case ArgBytes:
		raw, err := base64.StdEncoding.DecodeString(a.Text)
		if err != nil {
			return "[]byte(?)"
		}
		return "[]byte(" + strconv.Quote(string(raw)) + ")"
	default:
		return a.Text
	}
}

// Values decodes every argument.
func (a Args) Values() ([]any, error) {
	out := make([]any, 0, len(a))
	for _, arg := range a {
		v, err := arg.Value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// String renders the tuple as a comma separated argument list.
func (a Args) String() string {
	parts := make([]string, 0, len(a))
	for _, arg := range a {
		parts = append(parts, arg.String())
	}
	return strings.Join(parts, ", ")
}

// MarshalArgs returns the wire form of args: a JSON array of tagged values.
func MarshalArgs(args Args) ([]byte, error) {
	if args == nil {
		args = Args{}
	}
	return json.Marshal(args)
}

// UnmarshalArgs parses the wire form produced by MarshalArgs.
func UnmarshalArgs(body []byte) (Args, error) {
	var args Args
	if err := json.Unmarshal(body, &args); err != nil {
		return nil, err
	}
	for _, arg := range args {
		if _, err := arg.Value(); err != nil {
			return nil, err
		}
	}
	return args, nil
}
