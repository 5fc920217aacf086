package store

import (
	"encoding/json"
	"reflect"

	"github.com/ashureev/heritage-guide/internal/domain"
)

// encodeJSON serializes v for a JSON column. Nil slices are stored as NULL.
func encodeJSON(v any) (any, error) {
	if rv := reflect.ValueOf(v); !rv.IsValid() || (rv.Kind() == reflect.Slice && rv.IsNil()) {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, domain.Persistence("encode json column", err)
	}
	return string(data), nil
}

// decodeJSON fills dst from a JSON column. An empty value leaves dst untouched.
func decodeJSON(data string, dst any) error {
	if data == "" || data == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return domain.Persistence("decode json column", err)
	}
	return nil
}
