package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// MergeFields overlays top-level fields onto a JSON object.
func MergeFields(data json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("docstore: decode document: %w", err)
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("docstore: encode field %s: %w", k, err)
		}
		obj[k] = raw
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode document: %w", err)
	}
	return out, nil
}

// FieldEquals reports whether the top-level field in data equals expected
// once both are normalised through JSON.
func FieldEquals(data json.RawMessage, field string, expected any) (bool, error) {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return false, fmt.Errorf("docstore: decode document: %w", err)
	}
	raw, ok := obj[field]
	if !ok {
		return false, nil
	}
	return RawEquals(raw, expected)
}

// RawEquals compares an encoded JSON value against a Go value.
func RawEquals(raw json.RawMessage, expected any) (bool, error) {
	want, err := json.Marshal(expected)
	if err != nil {
		return false, fmt.Errorf("docstore: encode expected value: %w", err)
	}
	var got, exp any
	if err := json.Unmarshal(raw, &got); err != nil {
		return false, fmt.Errorf("docstore: decode field: %w", err)
	}
	if err := json.Unmarshal(want, &exp); err != nil {
		return false, fmt.Errorf("docstore: decode expected value: %w", err)
	}
	return reflect.DeepEqual(got, exp), nil
}
