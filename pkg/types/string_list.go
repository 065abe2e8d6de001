package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList persists a list of strings as a jsonb array.
type StringList []string

// Value implements driver.Valuer.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = StringList{}
		return nil
	}
	raw, ok := toString(value)
	if !ok {
		return fmt.Errorf("string list: unsupported scan type %T", value)
	}
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("string list: decode %w", err)
	}
	*s = out
	return nil
}
