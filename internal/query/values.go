package query

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// stringOf renders a record value the way the search and like operators see it.
// Objects are rendered as JSON; lists join their elements with commas.
func stringOf(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return formatNumber(typed)
	case float32:
		return formatNumber(float64(typed))
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case json.Number:
		return typed.String()
	case []any:
		parts := make([]string, len(typed))
		for index, element := range typed {
			if element == nil {
				continue
			}
			parts[index] = stringOf(element)
		}
		return strings.Join(parts, ",")
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func formatNumber(value float64) string {
	switch {
	case math.IsNaN(value):
		return "NaN"
	case math.IsInf(value, 1):
		return "Infinity"
	case math.IsInf(value, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// numberOf coerces value to a float64. Values with no numeric reading yield NaN.
func numberOf(value any) float64 {
	switch typed := value.(type) {
	case nil:
		return 0
	case bool:
		if typed {
			return 1
		}
		return 0
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case json.Number:
		return numberOf(typed.String())
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return parsed
	default:
		return math.NaN()
	}
}

// isStringish reports whether value compares as a string rather than a number.
func isStringish(value any) bool {
	switch value.(type) {
	case string, []any, map[string]any:
		return true
	default:
		return false
	}
}

// looseEqual compares a record value against a query string with coercion:
// numbers and booleans compare numerically, strings compare exactly and null
// matches nothing.
func looseEqual(value any, operand string) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case string:
		return typed == operand
	case []any, map[string]any:
		return stringOf(typed) == operand
	default:
		left := numberOf(typed)
		right := numberOf(operand)
		return left == right
	}
}

// compare orders two values. ok is false when the pair is unordered, for example
// when either side has no numeric reading or a value is missing.
func compare(left, right any) (result int, ok bool) {
	if left == nil && right == nil {
		return 0, false
	}
	if isStringish(left) && isStringish(right) {
		return strings.Compare(stringOf(left), stringOf(right)), true
	}
	leftNumber := numberOf(left)
	rightNumber := numberOf(right)
	if math.IsNaN(leftNumber) || math.IsNaN(rightNumber) {
		return 0, false
	}
	switch {
	case leftNumber < rightNumber:
		return -1, true
	case leftNumber > rightNumber:
		return 1, true
	default:
		return 0, true
	}
}
