package utils

import (
	"bytes"
	"encoding/json"
)

// MustMarshalJSON marshals v into a json byte array
// It panics if marshaling fails
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal JSON: " + err.Error())
	}
	return data
}

// UnmarshalJSON unmarshals json data into v
// Returns error if unmarshaling fails
func UnmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// CanonicalJSON re-encodes raw JSON into a deterministic form: object keys are
// sorted and insignificant whitespace is dropped. Replay relies on this so the
// same stored payload always produces the same wire bytes. Numbers are decoded
// as json.Number and re-encoded verbatim; round-tripping through float64 would
// corrupt integer ids beyond 2^53.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys when marshaling.
	return json.Marshal(v)
}
