package tools

import (
	"context"
	"strings"
	"testing"
)

func noopExecute(_ context.Context, _ map[string]any) (string, error) {
	return "", nil
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name    string
		def     Definition
		wantErr string
	}{
		{"missing name", Definition{Execute: noopExecute}, "name is required"},
		{"missing execute", Definition{Name: "x"}, "no execute function"},
		{"bad param type", Definition{
			Name:       "x",
			Execute:    noopExecute,
			Parameters: []Parameter{{Name: "p", Type: "integer"}},
		}, "unknown type"},
		{"valid", Definition{
			Name:       "x",
			Execute:    noopExecute,
			Parameters: []Parameter{{Name: "p", Type: TypeString}},
		}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewRegistry().Register(tc.def)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	def := Definition{Name: "echo", Execute: noopExecute}
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(def); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestRegistryLookupAndUnregister(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{Name: "a", Category: "math", Execute: noopExecute})
	r.MustRegister(Definition{Name: "b", Category: "web", Execute: noopExecute})

	if !r.Has("a") || r.Has("c") {
		t.Fatal("Has is wrong")
	}
	if got := r.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Names = %v", got)
	}
	if got := r.ListByCategory("math"); len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("ListByCategory = %+v", got)
	}
	if !r.Unregister("a") {
		t.Fatal("Unregister returned false for existing tool")
	}
	if r.Unregister("a") {
		t.Fatal("Unregister returned true for missing tool")
	}
}

func TestCatalogRendersParamsAndExamples(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{
		Name:        "calculator",
		Description: "Evaluate arithmetic.",
		Parameters:  []Parameter{{Name: "expression", Type: TypeString, Required: true, Description: "the expression"}},
		Examples:    []Example{{Input: map[string]any{"expression": "2+3"}}},
		Execute:     noopExecute,
	})

	catalog := r.Catalog()
	for _, want := range []string{"calculator", "Evaluate arithmetic.", "expression (string, required)", "example:"} {
		if !strings.Contains(catalog, want) {
			t.Fatalf("catalog missing %q:\n%s", want, catalog)
		}
	}
}

func TestValidateInputMatrix(t *testing.T) {
	def := Definition{
		Name:    "t",
		Execute: noopExecute,
		Parameters: []Parameter{
			{Name: "q", Type: TypeString, Required: true},
			{Name: "limit", Type: TypeNumber, Default: float64(5)},
			{Name: "deep", Type: TypeBoolean},
		},
	}

	t.Run("missing required", func(t *testing.T) {
		_, err := ValidateInput(def, map[string]any{})
		var verr *ValidationError
		if err == nil {
			t.Fatal("expected error")
		}
		if !asValidation(err, &verr) || verr.Param != "q" {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := ValidateInput(def, map[string]any{"q": 42})
		if err == nil || !strings.Contains(err.Error(), "expected string") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("defaults filled", func(t *testing.T) {
		out, err := ValidateInput(def, map[string]any{"q": "hi"})
		if err != nil {
			t.Fatal(err)
		}
		if out["limit"] != float64(5) {
			t.Fatalf("limit default not filled: %v", out)
		}
		if _, ok := out["deep"]; ok {
			t.Fatal("optional without default should stay absent")
		}
	})

	t.Run("number accepts int", func(t *testing.T) {
		if _, err := ValidateInput(def, map[string]any{"q": "hi", "limit": 3}); err != nil {
			t.Fatalf("int rejected for number: %v", err)
		}
	})

	t.Run("custom validate overrides", func(t *testing.T) {
		custom := def
		custom.Validate = func(map[string]any) error { return nil }
		// Missing required q passes because the custom validator says so.
		if _, err := ValidateInput(custom, map[string]any{}); err != nil {
			t.Fatalf("custom validator not honored: %v", err)
		}
	})

	t.Run("input not mutated", func(t *testing.T) {
		in := map[string]any{"q": "hi"}
		out, err := ValidateInput(def, in)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := in["limit"]; ok {
			t.Fatal("caller's map was mutated")
		}
		if out["q"] != "hi" {
			t.Fatalf("out = %v", out)
		}
	})
}

func asValidation(err error, target **ValidationError) bool {
	v, ok := err.(*ValidationError)
	if ok {
		*target = v
	}
	return ok
}
