package validation

import (
	"errors"
	"testing"
)

type sample struct {
	Title    string   `json:"title" validate:"required"`
	Kind     string   `json:"kind" validate:"omitempty,oneof=info warning"`
	Email    string   `json:"email" validate:"omitempty,email"`
	Items    []item   `json:"items" validate:"min=2,dive"`
	Internal string   `json:"-" validate:"omitempty"`
	Tags     []string `json:"tags"`
}

type item struct {
	Text string `json:"text" validate:"required"`
}

func TestStructReportsFieldsByJSONName(t *testing.T) {
	err := Struct(sample{Kind: "other", Items: []item{{Text: "a"}}})

	validationErr, ok := As(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := map[string]string{}
	for _, field := range validationErr.Fields {
		fields[field.Field] = field.Message
	}
	if fields["title"] != "title is required" {
		t.Fatalf("unexpected title message %q", fields["title"])
	}
	if fields["kind"] != "kind must be one of [info warning]" {
		t.Fatalf("unexpected kind message %q", fields["kind"])
	}
	if fields["items"] != "items must contain at least 2 entries" {
		t.Fatalf("unexpected items message %q", fields["items"])
	}
}

func TestStructReportsNestedPaths(t *testing.T) {
	err := Struct(sample{Title: "x", Items: []item{{Text: "a"}, {}}})

	validationErr, ok := As(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(validationErr.Fields) != 1 || validationErr.Fields[0].Field != "items[1].text" {
		t.Fatalf("unexpected fields %#v", validationErr.Fields)
	}
}

func TestStructAcceptsValidValue(t *testing.T) {
	if err := Struct(sample{Title: "x", Items: []item{{Text: "a"}, {Text: "b"}}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAsUnwrapsWrappedErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), New("title", "title is required"))
	if _, ok := As(wrapped); !ok {
		t.Fatalf("expected wrapped validation error to be found")
	}
}
