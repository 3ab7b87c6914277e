package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONText is a JSON document stored in a TEXT column. Drivers return TEXT as
// either string or []byte, so it implements sql.Scanner for both.
type JSONText []byte

func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	return string(j), nil
}

func (j *JSONText) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case string:
		*j = JSONText(v)
	case []byte:
		*j = append((*j)[:0], v...)
	default:
		return fmt.Errorf("models: cannot scan %T into JSONText", value)
	}
	return nil
}

func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return j, nil
}

func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// Decode unmarshals the document into out. Empty documents leave out untouched.
func (j JSONText) Decode(out interface{}) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, out)
}

func MustJSON(v interface{}) JSONText {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
