package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FeatureBag is the schemaless feature map on a listing (balcony, elevator,
// storage, ...). Keys are additive; values are primitives. Stored as JSON text.
type FeatureBag map[string]interface{}

func (f FeatureBag) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal features: %w", err)
	}
	return string(data), nil
}

func (f *FeatureBag) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported feature bag type %T", value)
	}
	return json.Unmarshal(data, f)
}

// Has reports whether a feature key is present and truthy.
func (f FeatureBag) Has(key string) bool {
	v, ok := f[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
