package models

import (
	"encoding/json"
	"testing"
)

func TestMetadata_GetInt(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected int
		ok       bool
	}{
		{"int", 17, 17, true},
		{"int64", int64(42), 42, true},
		{"json float", float64(99), 99, true},
		{"json.Number", json.Number("123"), 123, true},
		{"numeric string", "7", 7, true},
		{"non-numeric string", "BUG-17", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Metadata{"k": tt.value}
			got, ok := m.GetInt("k")
			if ok != tt.ok || got != tt.expected {
				t.Errorf("GetInt = (%d, %v), want (%d, %v)", got, ok, tt.expected, tt.ok)
			}
		})
	}

	var empty Metadata
	if _, ok := empty.GetInt("missing"); ok {
		t.Error("nil metadata should report absent")
	}
}

func TestMetadata_GetStrings(t *testing.T) {
	m := Metadata{
		"typed":   []string{"a", "b"},
		"decoded": []any{"x", "y", 3},
		"single":  "solo",
	}
	if got := m.GetStrings("typed"); len(got) != 2 {
		t.Errorf("typed slice: got %v", got)
	}
	// non-string elements of a decoded JSON array are skipped
	if got := m.GetStrings("decoded"); len(got) != 2 || got[0] != "x" {
		t.Errorf("decoded slice: got %v", got)
	}
	if got := m.GetStrings("single"); len(got) != 1 || got[0] != "solo" {
		t.Errorf("single string: got %v", got)
	}
	if got := m.GetStrings("missing"); got != nil {
		t.Errorf("missing key: got %v", got)
	}
}

func TestMetadata_Clone(t *testing.T) {
	m := Metadata{"a": 1}
	c := m.Clone()
	c["b"] = 2
	if _, exists := m["b"]; exists {
		t.Error("clone mutation leaked into original")
	}
	if nilClone := Metadata(nil).Clone(); nilClone == nil {
		t.Error("cloning nil should yield an empty map")
	}
}
