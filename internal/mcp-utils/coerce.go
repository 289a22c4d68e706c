// Package mcputils binds loosely typed MCP tool arguments to Go structs.
package mcputils

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ArgumentGetter is satisfied by mcp.CallToolRequest.
type ArgumentGetter interface {
	GetArguments() map[string]any
}

// CoerceBindArguments decodes request arguments into target using json tags.
// Clients often send every value as a string, including JSON encoded arrays,
// so strings are coerced to the field's type where they parse. A bare
// comma separated string also fills a []string field.
func CoerceBindArguments[T any](request ArgumentGetter, target *T) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			jsonStringHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result:  target,
		TagName: "json",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(request.GetArguments())
}

func jsonStringHook(from, to reflect.Type, data any) (any, error) {
	raw, ok := data.(string)
	if from.Kind() != reflect.String || !ok || raw == "" {
		return data, nil
	}
	trimmed := strings.TrimSpace(raw)

	switch to.Kind() {
	case reflect.Slice:
		if looksLike(trimmed, '[', ']') {
			ptr := reflect.New(to)
			if err := json.Unmarshal([]byte(trimmed), ptr.Interface()); err == nil {
				return ptr.Elem().Interface(), nil
			}
		}
	case reflect.Map, reflect.Struct:
		if looksLike(trimmed, '{', '}') {
			var v any
			if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
				return v, nil
			}
		}
	case reflect.Bool:
		if trimmed == "true" || trimmed == "false" {
			return trimmed == "true", nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		var n json.Number
		if err := json.Unmarshal([]byte(trimmed), &n); err == nil {
			return n, nil
		}
	}
	return data, nil
}

func looksLike(s string, open, close byte) bool {
	return len(s) >= 2 && s[0] == open && s[len(s)-1] == close
}
