package value

import (
	"encoding/base64"

	"github.com/goccy/go-json"
)

// EncodeKey renders a tuple of values as a canonical string, suitable as a
// map key. Blobs are base64-encoded so the result is deterministic and
// printable; the type tag is included so Integer(1) and Text("1") encode
// differently.
func EncodeKey(tuple []Value) string {
	parts := make([]any, 0, len(tuple))
	for _, v := range tuple {
		switch v.typ {
		case TypeNull:
			parts = append(parts, nil)
		case TypeInteger:
			parts = append(parts, map[string]any{"i": v.i})
		case TypeFloat:
			parts = append(parts, map[string]any{"f": v.f})
		case TypeText:
			parts = append(parts, map[string]any{"t": v.s})
		case TypeBlob:
			parts = append(parts, map[string]any{"b": base64.StdEncoding.EncodeToString(v.b)})
		}
	}
	buf, err := json.Marshal(parts)
	if err != nil {
		// Marshal of the shapes above cannot fail.
		panic(err)
	}
	return string(buf)
}

// EncodeArgs renders an argument sequence as a canonical string. Arguments
// are first normalized through FromDriver, so 1 and int64(1) encode
// identically.
func EncodeArgs(args []any) (string, error) {
	tuple := make([]Value, 0, len(args))
	for _, a := range args {
		v, err := FromDriver(a)
		if err != nil {
			return "", err
		}
		tuple = append(tuple, v)
	}
	return EncodeKey(tuple), nil
}
