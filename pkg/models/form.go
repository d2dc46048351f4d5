package models

import "slices"

// FieldType is a form-builder field type.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeNumber      FieldType = "number"
	FieldTypeEmail       FieldType = "email"
	FieldTypeURL         FieldType = "url"
	FieldTypeDate        FieldType = "date"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiselect FieldType = "multiselect"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeJSON        FieldType = "json"
)

var FieldTypes = []FieldType{
	FieldTypeText, FieldTypeTextarea, FieldTypeNumber, FieldTypeEmail, FieldTypeURL,
	FieldTypeDate, FieldTypeSelect, FieldTypeMultiselect, FieldTypeCheckbox, FieldTypeJSON,
}

func (t FieldType) Valid() bool {
	return slices.Contains(FieldTypes, t)
}

// Visibility operators.
const (
	VisibilityEquals    = "equals"
	VisibilityNotEquals = "not_equals"
	VisibilityIn        = "in"
	VisibilityNotEmpty  = "not_empty"
)

// FormField is one field of a form node, as produced by the form builder.
type FormField struct {
	ID          string           `json:"id"`
	Type        FieldType        `json:"type"`
	Label       string           `json:"label"`
	Required    bool             `json:"required,omitempty"`
	Options     []string         `json:"options,omitempty"`
	Validation  *FieldValidation `json:"validation,omitempty"`
	Conditional *FieldVisibility `json:"conditional,omitempty"`
}

type FieldValidation struct {
	Min       *float64       `json:"min,omitempty"`
	Max       *float64       `json:"max,omitempty"`
	MinLength *int           `json:"min_length,omitempty"`
	MaxLength *int           `json:"max_length,omitempty"`
	Pattern   string         `json:"pattern,omitempty"`
	Schema    map[string]any `json:"schema,omitempty"`
}

// FieldVisibility shows a field only when another field of the same form matches.
type FieldVisibility struct {
	FieldID  string `json:"field_id"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Clone returns a deep copy of the field. Schema maps are copied one level deep; nested schema
// values are treated as immutable.
func (f FormField) Clone() FormField {
	c := f
	c.Options = slices.Clone(f.Options)

	if f.Validation != nil {
		v := *f.Validation
		if f.Validation.Schema != nil {
			v.Schema = make(map[string]any, len(f.Validation.Schema))
			for k, val := range f.Validation.Schema {
				v.Schema[k] = val
			}
		}

		c.Validation = &v
	}

	if f.Conditional != nil {
		vis := *f.Conditional
		c.Conditional = &vis
	}

	return c
}
