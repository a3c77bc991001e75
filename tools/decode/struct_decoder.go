package decode

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Options tunes decoding.
type Options struct {
	// WeaklyTypedInput allows "123" -> int, 1.0 -> int64 and similar coercions.
	WeaklyTypedInput bool
	// ErrorUnused rejects keys that have no matching field.
	ErrorUnused bool
}

// DefaultOptions is strict: a JSON number never lands in a string field.
func DefaultOptions() Options {
	return Options{}
}

// Map decodes a loosely typed JSON object into T using `json` tags.
func Map[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, errors.New("payload is nil")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		ErrorUnused:      cfg.ErrorUnused,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			sliceAnyToSliceStringHook(),
		),
	})
	if err != nil {
		return nil, errors.Wrap(err, "new decoder")
	}
	if err := dec.Decode(m); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	return &out, nil
}

// Object parses raw JSON that must be an object.
func Object(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "parse frame")
	}
	if m == nil {
		return nil, errors.New("frame is not a JSON object")
	}
	return m, nil
}

// ReadString returns m[key] when it is a string, "" otherwise.
func ReadString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

func sliceAnyToSliceStringHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Slice || to != reflect.TypeOf([]string(nil)) {
			return data, nil
		}
		src, ok := data.([]any)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(src))
		for _, it := range src {
			switch v := it.(type) {
			case string:
				out = append(out, v)
			default:
				out = append(out, fmt.Sprint(v))
			}
		}
		return out, nil
	}
}
