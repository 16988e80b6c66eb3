package proactive

import (
	"encoding/json"
	"time"
)

// encodeJSON converts a value to a JSON string
func encodeJSON(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}", err
	}
	return string(data), nil
}

// decodeJSON parses a JSON string into a value
func decodeJSON(s string, v interface{}) error {
	if s == "" || s == "{}" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
