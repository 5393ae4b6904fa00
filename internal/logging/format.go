package logging

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// FormatPayload normalizes a raw wire body for log output. JSON bodies are
// pretty-printed without HTML escaping; anything else is returned trimmed.
func FormatPayload(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "<empty>"
	}

	// A JSON string wrapping another document: "\"{...}\"".
	var quoted string
	if err := json.Unmarshal([]byte(trimmed), &quoted); err == nil {
		trimmed = strings.TrimSpace(quoted)
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		if out, encErr := marshalPrettyJSON(value); encErr == nil {
			return out
		}
	}
	return trimmed
}

func FormatEventLine(event Event) string {
	ts := event.Time.Format("15:04:05")
	level := strings.ToUpper(event.Level.String())
	fields := ""
	if len(event.Fields) > 0 {
		keys := orderedFieldKeys(event.Fields)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, formatFieldValue(event.Fields[key])))
		}
		fields = " " + strings.Join(parts, " ")
	}
	return fmt.Sprintf("%s [%s] %s%s\n", ts, level, event.Message, fields)
}

func formatFieldValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if pretty, ok := prettyJSONString(value); ok {
		return pretty
	}
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func marshalPrettyJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// prettyJSONString reports whether value is, or carries, a JSON object or
// array, and returns it indented.
func prettyJSONString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	if errValue, ok := value.(error); ok {
		return prettyJSONString(errValue.Error())
	}
	if textValue, ok := value.(encoding.TextMarshaler); ok {
		if text, err := textValue.MarshalText(); err == nil {
			return prettyJSONString(string(text))
		}
	}

	rv := reflect.ValueOf(value)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	if rv.IsValid() {
		value = rv.Interface()
	}

	switch v := value.(type) {
	case string:
		return decodeJSONContainer(v)
	case []byte:
		return decodeJSONContainer(string(v))
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if out, err := marshalPrettyJSON(value); err == nil {
			return out, true
		}
	}
	return "", false
}

func decodeJSONContainer(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return "", false
	}
	switch decoded.(type) {
	case map[string]any, []any:
	default:
		return "", false
	}
	out, err := marshalPrettyJSON(decoded)
	if err != nil {
		return "", false
	}
	return out, true
}

// orderedFieldKeys sorts scalar fields first, then JSON fields, with raw
// payload-like fields last.
func orderedFieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	inline := make([]string, 0, len(keys))
	jsonKeys := make([]string, 0, len(keys))
	payloadKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := prettyJSONString(fields[key]); !ok {
			inline = append(inline, key)
			continue
		}
		if isPayloadFieldKey(key) {
			payloadKeys = append(payloadKeys, key)
		} else {
			jsonKeys = append(jsonKeys, key)
		}
	}
	ordered := append(inline, jsonKeys...)
	return append(ordered, payloadKeys...)
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "response", "body", "data", "raw":
		return true
	default:
		return false
	}
}
