// Package tools provides the catalog of named, schema-validated callable
// capabilities and the secure executor that invokes them against untrusted
// input.
package tools

import (
	"context"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// Parameter declares one tool input: its type, whether the caller must
// supply it, and the default filled in when they don't.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Example is a sample invocation rendered into the natural-language tool
// catalog the router model reads.
type Example struct {
	Input       map[string]any `json:"input"`
	Description string         `json:"description,omitempty"`
}

type ExecuteFunc func(ctx context.Context, input map[string]any) (string, error)

// ValidateFunc fully overrides the default parameter validation when set.
type ValidateFunc func(input map[string]any) error

type Definition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    string       `json:"category,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	Examples    []Example    `json:"examples,omitempty"`
	Execute     ExecuteFunc  `json:"-"`
	Validate    ValidateFunc `json:"-"`
}
