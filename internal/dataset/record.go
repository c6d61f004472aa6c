package dataset

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// IDField is the field every record is keyed by.
const IDField = "id"

// Record is a single JSON object within a collection.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	clone := make(Record, len(r))
	for field, value := range r {
		clone[field] = value
	}
	return clone
}

// ID returns the record's integral id, if it has one.
func (r Record) ID() (int64, bool) {
	value, ok := r[IDField]
	if !ok {
		return 0, false
	}
	return IntegerValue(value)
}

// HasID reports whether r carries a usable id. Zero counts as absent.
func (r Record) HasID() bool {
	id, ok := r.ID()
	return ok && id != 0
}

// NextID returns max(existing ids) + 1, or 1 for a collection without numeric ids.
func NextID(records []Record) int64 {
	var maxID int64
	for _, record := range records {
		if id, ok := record.ID(); ok && id > maxID {
			maxID = id
		}
	}
	return maxID + 1
}

// IndexOf returns the position of the record whose id equals id, or -1.
func IndexOf(records []Record, id int64) int {
	for index, record := range records {
		if recordID, ok := record.ID(); ok && recordID == id {
			return index
		}
	}
	return -1
}

// IntegerValue converts JSON-ish numeric values, including numeric strings, to int64.
func IntegerValue(value any) (int64, bool) {
	switch typed := value.(type) {
	case float64:
		if typed != math.Trunc(typed) || math.IsInf(typed, 0) {
			return 0, false
		}
		return int64(typed), true
	case float32:
		return IntegerValue(float64(typed))
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case int32:
		return int64(typed), true
	case json.Number:
		return IntegerValue(string(typed))
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return IntegerValue(parsed)
	default:
		return 0, false
	}
}
