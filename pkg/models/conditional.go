package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidExpression = errors.New("invalid conditional expression")

// ConditionalExpression is a parsed conditional node expression. Supported forms are
// `field == value`, `field != value` and a bare `field`, which tests the field for truthiness.
type ConditionalExpression struct {
	Field    string
	Operator string
	Value    string
}

// ParseConditional parses a conditional node expression. Values may be quoted.
func ParseConditional(expression string) (ConditionalExpression, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return ConditionalExpression{}, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}

	for _, op := range []string{"==", "!="} {
		field, value, found := strings.Cut(expression, op)
		if !found {
			continue
		}

		field = strings.TrimSpace(field)
		if field == "" {
			return ConditionalExpression{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expression)
		}

		return ConditionalExpression{Field: field, Operator: op, Value: unquote(strings.TrimSpace(value))}, nil
	}

	if strings.ContainsAny(expression, " \t=<>!") {
		return ConditionalExpression{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expression)
	}

	return ConditionalExpression{Field: expression}, nil
}

// Evaluate applies the expression to form data.
func (c ConditionalExpression) Evaluate(data map[string]any) (bool, error) {
	value, ok := data[c.Field]

	switch c.Operator {
	case "==":
		return ok && formatValue(value) == c.Value, nil
	case "!=":
		return !ok || formatValue(value) != c.Value, nil
	default:
		if !ok {
			return false, nil
		}

		return truthy(value)
	}
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}

	return s
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func truthy(exp any) (bool, error) {
	switch v := exp.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if v == "" {
			return false, nil
		}

		result, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", exp)
	}
}
