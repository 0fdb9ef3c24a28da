package querycache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Key builds a stable cache key from parts, joined with ':'. Scalars render
// directly; structs, maps and slices render as canonical JSON (map keys
// sorted), so equal values always produce the same key.
func Key(parts ...any) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		segs = append(segs, keySegment(p))
	}
	return strings.Join(segs, ":")
}

func keySegment(p any) string {
	switch v := p.(type) {
	case nil:
		return "nil"
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case error:
		return v.Error()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%+v", v)
		}
		return string(data)
	}
}
