package models

import "database/sql/driver"

// ToolParam describes one argument of an HTTP tool.
// Type is one of string, number, boolean, array; anything else is unconstrained.
type ToolParam struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Schema      map[string]ToolParam `json:"schema"`
}

// ToolDescriptor declares an HTTP endpoint the model may call
type ToolDescriptor struct {
	Method string   `json:"method"`
	URL    string   `json:"url"`
	Tool   ToolSpec `json:"tool"`
}

type ToolDescriptors []ToolDescriptor

func (t ToolDescriptors) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	return jsonValue([]ToolDescriptor(t))
}

func (t *ToolDescriptors) Scan(src any) error { return scanJSON(src, t) }
