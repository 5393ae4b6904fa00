package logging

import (
	"log/slog"
	"strings"
	"time"
)

const redacted = "[redacted]"

// Keys whose values are credentials and never reach any output.
var secretKeys = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"token":         {},
	"cookie":        {},
}

func isSecretKey(key string) bool {
	_, ok := secretKeys[strings.ToLower(key)]
	return ok
}

func resolveAttr(attr slog.Attr) (string, any) {
	if attr.Key == "" {
		return "", nil
	}
	if isSecretKey(attr.Key) {
		return attr.Key, redacted
	}
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindGroup:
		inner := map[string]any{}
		for _, groupAttr := range value.Group() {
			key, val := resolveAttr(groupAttr)
			if key != "" {
				inner[key] = val
			}
		}
		return attr.Key, inner
	case slog.KindDuration:
		return attr.Key, value.Duration().String()
	case slog.KindTime:
		return attr.Key, value.Time().Format(time.RFC3339Nano)
	default:
		return attr.Key, value.Any()
	}
}

// attrsToMap flattens attrs into event fields. A later attr replaces an
// earlier one with the same key, so call-site fields win over With fields.
func attrsToMap(attrs []slog.Attr) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	values := map[string]any{}
	for _, attr := range attrs {
		key, value := resolveAttr(attr)
		if key == "" {
			continue
		}
		values[key] = value
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
