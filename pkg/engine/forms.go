package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukex/handoff/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

var fieldValidator = validator.New()

// ValidateFormData checks a submission against the fields of a form node. Hidden fields are
// skipped; every problem of the visible fields is reported.
func ValidateFormData(fields []models.FormField, data map[string]any) []FieldError {
	var problems []FieldError

	for _, field := range fields {
		if !fieldVisible(field, data) {
			continue
		}

		value, present := data[field.ID]
		if !present || isEmpty(value) {
			if field.Required {
				problems = append(problems, FieldError{Field: field.ID, Message: "is required"})
			}

			continue
		}

		if msg := checkField(field, value); msg != "" {
			problems = append(problems, FieldError{Field: field.ID, Message: msg})
		}
	}

	return problems
}

func fieldVisible(field models.FormField, data map[string]any) bool {
	rule := field.Conditional
	if rule == nil {
		return true
	}

	value, present := data[rule.FieldID]

	switch rule.Operator {
	case models.VisibilityEquals:
		return present && sameValue(value, rule.Value)
	case models.VisibilityNotEquals:
		return !present || !sameValue(value, rule.Value)
	case models.VisibilityIn:
		options, ok := rule.Value.([]any)
		if !ok || !present {
			return false
		}

		return slices.ContainsFunc(options, func(option any) bool { return sameValue(value, option) })
	case models.VisibilityNotEmpty:
		return present && !isEmpty(value)
	default:
		return true
	}
}

func sameValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	default:
		return false
	}
}

func checkField(field models.FormField, value any) string {
	rules := field.Validation
	if rules == nil {
		rules = &models.FieldValidation{}
	}

	switch field.Type {
	case models.FieldTypeText, models.FieldTypeTextarea:
		s, ok := value.(string)
		if !ok {
			return "must be text"
		}

		return checkText(s, rules)
	case models.FieldTypeNumber:
		n, ok := toNumber(value)
		if !ok {
			return "must be a number"
		}

		if rules.Min != nil && n < *rules.Min {
			return fmt.Sprintf("must be at least %s", strconv.FormatFloat(*rules.Min, 'f', -1, 64))
		}

		if rules.Max != nil && n > *rules.Max {
			return fmt.Sprintf("must be at most %s", strconv.FormatFloat(*rules.Max, 'f', -1, 64))
		}
	case models.FieldTypeEmail:
		s, ok := value.(string)
		if !ok || fieldValidator.Var(s, "email") != nil {
			return "must be a valid email address"
		}
	case models.FieldTypeURL:
		s, ok := value.(string)
		if !ok || fieldValidator.Var(s, "url") != nil {
			return "must be a valid URL"
		}
	case models.FieldTypeDate:
		s, ok := value.(string)
		if !ok || !validDate(s) {
			return "must be a date (YYYY-MM-DD)"
		}
	case models.FieldTypeSelect:
		s, ok := value.(string)
		if !ok || !slices.Contains(field.Options, s) {
			return "must be one of the available options"
		}
	case models.FieldTypeMultiselect:
		values, ok := toStrings(value)
		if !ok {
			return "must be a list of options"
		}

		for _, v := range values {
			if !slices.Contains(field.Options, v) {
				return fmt.Sprintf("contains unknown option %q", v)
			}
		}
	case models.FieldTypeCheckbox:
		if _, ok := value.(bool); !ok {
			return "must be true or false"
		}
	case models.FieldTypeJSON:
		if rules.Schema == nil {
			return ""
		}

		result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(rules.Schema), gojsonschema.NewGoLoader(value))
		if err != nil {
			return "could not be checked against its schema"
		}

		if !result.Valid() {
			descriptions := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				descriptions = append(descriptions, e.String())
			}

			return "does not match schema: " + strings.Join(descriptions, ", ")
		}
	}

	return ""
}

func checkText(s string, rules *models.FieldValidation) string {
	length := utf8.RuneCountInString(s)

	if rules.MinLength != nil && length < *rules.MinLength {
		return fmt.Sprintf("must be at least %d characters", *rules.MinLength)
	}

	if rules.MaxLength != nil && length > *rules.MaxLength {
		return fmt.Sprintf("must be at most %d characters", *rules.MaxLength)
	}

	if rules.Pattern != "" {
		re, err := regexp.Compile(rules.Pattern)
		if err != nil || !re.MatchString(s) {
			return "has an invalid format"
		}
	}

	return ""
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toStrings(value any) ([]string, bool) {
	if s, ok := value.([]string); ok {
		return s, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}

	out := make([]string, 0, rv.Len())

	for i := range rv.Len() {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, false
		}

		out = append(out, s)
	}

	return out, true
}

func validDate(s string) bool {
	if fieldValidator.Var(s, "datetime=2006-01-02") == nil {
		return true
	}

	_, err := time.Parse(time.RFC3339, s)

	return err == nil
}
