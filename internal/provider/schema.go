package provider

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"activity_ingest/internal/domain"
)

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldSelect  FieldType = "select"
	FieldArray   FieldType = "array"
)

// Field declares one configuration setting. Min and Max bound numbers, string length
// or array size depending on Type.
type Field struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
	Options  []string  `json:"options,omitempty"`
	Default  any       `json:"default,omitempty"`
}

type Schema struct {
	Fields []Field `json:"fields"`
}

func Bound(v float64) *float64 { return &v }

// JSONSchema renders the field list as a draft 2020-12 document.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := []any{}

	for _, f := range s.Fields {
		prop := map[string]any{}
		if f.Label != "" {
			prop["title"] = f.Label
		}
		switch f.Type {
		case FieldInteger, FieldNumber:
			prop["type"] = string(f.Type)
			setBound(prop, "minimum", f.Min)
			setBound(prop, "maximum", f.Max)
		case FieldBoolean:
			prop["type"] = "boolean"
		case FieldSelect:
			prop["type"] = "string"
			enum := make([]any, 0, len(f.Options))
			for _, o := range f.Options {
				enum = append(enum, o)
			}
			prop["enum"] = enum
		case FieldArray:
			prop["type"] = "array"
			prop["items"] = map[string]any{"type": "string"}
			setBound(prop, "minItems", f.Min)
			setBound(prop, "maxItems", f.Max)
		default:
			prop["type"] = "string"
			setBound(prop, "minLength", f.Min)
			setBound(prop, "maxLength", f.Max)
		}
		props[f.Key] = prop
		if f.Required {
			required = append(required, f.Key)
		}
	}

	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func setBound(prop map[string]any, key string, v *float64) {
	if v != nil {
		prop[key] = *v
	}
}

// WithDefaults returns a copy of config with declared defaults filled in.
func (s Schema) WithDefaults(config domain.Metadata) domain.Metadata {
	out := domain.Metadata{}
	for k, v := range config {
		out[k] = v
	}
	for _, f := range s.Fields {
		if _, ok := out[f.Key]; !ok && f.Default != nil {
			out[f.Key] = f.Default
		}
	}
	return out
}

// Validate checks config against the compiled schema.
func (s Schema) Validate(config domain.Metadata) error {
	doc, err := normalize(s.JSONSchema())
	if err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("configuration.json", doc); err != nil {
		return fmt.Errorf("add configuration schema: %w", err)
	}
	compiled, err := compiler.Compile("configuration.json")
	if err != nil {
		return fmt.Errorf("compile configuration schema: %w", err)
	}

	if config == nil {
		config = domain.Metadata{}
	}
	instance, err := normalize(map[string]any(config))
	if err != nil {
		return err
	}
	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	return nil
}

// normalize round-trips v through JSON so the validator sees json.Number values.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for validation: %w", err)
	}
	out, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal for validation: %w", err)
	}
	return out, nil
}
