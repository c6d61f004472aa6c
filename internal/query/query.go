// Package query applies search, filters, sorting and pagination to record lists.
package query

import (
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
)

// Reserved parameter names that never become filters.
const (
	ParamSearch = "q"
	ParamSort   = "_sort"
	ParamOrder  = "_order"
	ParamLimit  = "_limit"
	ParamPage   = "_page"
)

const (
	DefaultLimit = 10
	DefaultPage  = 1
)

// Operator is a filter comparison.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpGreaterEqual Operator = "gte"
	OpLessEqual    Operator = "lte"
	OpNotEqual     Operator = "ne"
	OpLike         Operator = "like"
)

var operatorSuffixes = []struct {
	suffix   string
	operator Operator
}{
	{suffix: "_gte", operator: OpGreaterEqual},
	{suffix: "_lte", operator: OpLessEqual},
	{suffix: "_ne", operator: OpNotEqual},
	{suffix: "_like", operator: OpLike},
}

// Filter is one field clause.
type Filter struct {
	Field    string
	Operator Operator
	Value    string
}

// SortKey is one entry of a multi-key sort.
type SortKey struct {
	Field      string
	Descending bool
}

// Criteria is the query derived from request parameters.
type Criteria struct {
	Search   string
	Filters  []Filter
	Sort     []SortKey
	Paginate bool
	Limit    int
	Page     int
}

// Result is the outcome of Apply.
type Result struct {
	Records []dataset.Record
	// Total counts matching records before pagination.
	Total int
}

func isReserved(name string) bool {
	switch name {
	case ParamSearch, ParamSort, ParamOrder, ParamLimit, ParamPage:
		return true
	default:
		return false
	}
}

// ParseCriteria builds a Criteria from query parameters.
func ParseCriteria(params map[string]string) Criteria {
	criteria := Criteria{Search: params[ParamSearch]}

	names := make([]string, 0, len(params))
	for name := range params {
		if !isReserved(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		criteria.Filters = append(criteria.Filters, parseFilter(name, params[name]))
	}

	if rawSort := params[ParamSort]; rawSort != "" {
		var orders []string
		if rawOrder := params[ParamOrder]; rawOrder != "" {
			orders = strings.Split(rawOrder, ",")
		}
		for index, field := range strings.Split(rawSort, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			key := SortKey{Field: field}
			if index < len(orders) {
				key.Descending = strings.EqualFold(strings.TrimSpace(orders[index]), "desc")
			}
			criteria.Sort = append(criteria.Sort, key)
		}
	}

	rawLimit, hasLimit := params[ParamLimit]
	rawPage, hasPage := params[ParamPage]
	if hasLimit || hasPage {
		criteria.Paginate = true
		criteria.Limit = positiveOr(rawLimit, DefaultLimit)
		criteria.Page = positiveOr(rawPage, DefaultPage)
	}
	return criteria
}

func parseFilter(name, value string) Filter {
	for _, candidate := range operatorSuffixes {
		field, found := strings.CutSuffix(name, candidate.suffix)
		if found && field != "" {
			return Filter{Field: field, Operator: candidate.operator, Value: value}
		}
	}
	return Filter{Field: name, Operator: OpEqual, Value: value}
}

// positiveOr reads the leading decimal integer of raw, falling back when it is
// missing or not positive.
func positiveOr(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	value := 0
	digits := 0
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			break
		}
		if value > 1<<30 {
			break
		}
		value = value*10 + int(r-'0')
		digits++
	}
	if digits == 0 || value <= 0 {
		return fallback
	}
	return value
}

// Apply runs search, filters, sort and pagination in that order. The input
// slice is not modified.
func Apply(records []dataset.Record, criteria Criteria) Result {
	matched := Search(records, criteria.Search)
	matched = FilterRecords(matched, criteria.Filters)
	matched = SortRecords(matched, criteria.Sort)
	total := len(matched)
	if criteria.Paginate {
		matched = Paginate(matched, criteria.Limit, criteria.Page)
	}
	return Result{Records: matched, Total: total}
}

// Search keeps records where any field contains term, case-insensitively. An
// empty term keeps everything.
func Search(records []dataset.Record, term string) []dataset.Record {
	if term == "" {
		return append([]dataset.Record(nil), records...)
	}
	needle := strings.ToLower(term)
	kept := make([]dataset.Record, 0, len(records))
	for _, record := range records {
		for _, value := range record {
			if strings.Contains(strings.ToLower(stringOf(value)), needle) {
				kept = append(kept, record)
				break
			}
		}
	}
	return kept
}

// FilterRecords keeps records satisfying every clause.
func FilterRecords(records []dataset.Record, filters []Filter) []dataset.Record {
	kept := make([]dataset.Record, 0, len(records))
	for _, record := range records {
		if matchesAll(record, filters) {
			kept = append(kept, record)
		}
	}
	return kept
}

func matchesAll(record dataset.Record, filters []Filter) bool {
	for _, filter := range filters {
		if !matches(record, filter) {
			return false
		}
	}
	return true
}

// matches evaluates one clause. A record without the field passes.
func matches(record dataset.Record, filter Filter) bool {
	value, present := record[filter.Field]
	if !present {
		return true
	}
	switch filter.Operator {
	case OpGreaterEqual:
		result, ok := compare(value, filter.Value)
		return !ok || result >= 0
	case OpLessEqual:
		result, ok := compare(value, filter.Value)
		return !ok || result <= 0
	case OpNotEqual:
		return !looseEqual(value, filter.Value)
	case OpLike:
		return strings.Contains(stringOf(value), filter.Value)
	default:
		return looseEqual(value, filter.Value)
	}
}

// SortRecords returns a stably sorted copy of records.
func SortRecords(records []dataset.Record, keys []SortKey) []dataset.Record {
	sorted := append([]dataset.Record(nil), records...)
	if len(keys) == 0 {
		return sorted
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareRecords(sorted[i], sorted[j], keys) < 0
	})
	return sorted
}

func compareRecords(left, right dataset.Record, keys []SortKey) int {
	for _, key := range keys {
		leftValue, leftPresent := left[key.Field]
		rightValue, rightPresent := right[key.Field]
		if !leftPresent || !rightPresent {
			continue
		}
		result, ok := compare(leftValue, rightValue)
		if !ok || result == 0 {
			continue
		}
		if key.Descending {
			return -result
		}
		return result
	}
	return 0
}

// Paginate returns the page-th window of limit records, pages counted from 1.
func Paginate(records []dataset.Record, limit, page int) []dataset.Record {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if page <= 0 {
		page = DefaultPage
	}
	// Compare before multiplying so page*limit cannot overflow.
	if len(records) == 0 || page-1 > (len(records)-1)/limit {
		return []dataset.Record{}
	}
	start := (page - 1) * limit
	end := len(records)
	if limit < end-start {
		end = start + limit
	}
	return append([]dataset.Record(nil), records[start:end]...)
}
