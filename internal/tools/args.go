package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StringArg returns args[key] as a trimmed string. Numbers are rendered
// in decimal, since models sometimes send a phone number unquoted.
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// IntArg returns args[key] as an int. ok is false when the key is absent;
// err is set when it is present but not a whole number.
func IntArg(args map[string]any, key string) (n int, ok bool, err error) {
	raw, present := args[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, true, fmt.Errorf("%s must be a whole number, got %v", key, v)
		}
		return int(v), true, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a whole number, got %s", key, v)
		}
		return int(i), true, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a whole number, got %q", key, v)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s must be a whole number, got %T", key, raw)
	}
}
