package queryspec

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/resource"
)

// ErrInvalidQuery is returned when query parameters cannot be parsed or name
// unknown fields
var ErrInvalidQuery = errors.New("invalid query")

// DefaultOperator is used for filters given without an explicit operator
const DefaultOperator = "eq"

var operators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "ge": true, "lt": true, "le": true,
	"in": true, "nin": true, "like": true, "ilike": true, "null": true, "notnull": true,
}

// Parse builds a QuerySpec from JSON:API query parameters:
//
//	sort=-name,job            sort descending by name, then ascending by job
//	page[offset]=20           skip the first 20 resources
//	page[limit]=10            return at most 10 resources
//	include=department        include related resources, dotted for nested paths
//	filter[name]=Ada          equality filter
//	filter[name][like]=A%     filter with an explicit operator
//
// All paths are validated against the resource type.
func Parse(values url.Values, rt *resource.Type) (*QuerySpec, error) {
	q := New(rt)

	if err := parseSort(q, values.Get("sort")); err != nil {
		return nil, err
	}
	if err := parsePage(q, values); err != nil {
		return nil, err
	}
	if err := parseInclude(q, values.Get("include")); err != nil {
		return nil, err
	}
	if err := parseFilters(q, values); err != nil {
		return nil, err
	}
	return q, nil
}

func invalid(err error) error {
	return errors.Mark(err, ErrInvalidQuery)
}

func parseSort(q *QuerySpec, param string) error {
	if param == "" {
		return nil
	}

	var invalidFields []string
	for _, field := range strings.Split(param, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		dir := Ascending
		if strings.HasPrefix(field, "-") {
			dir = Descending
			field = field[1:]
		}
		path := resource.SplitPath(field)
		if _, err := q.Resource.ResolvePath(path); err != nil {
			invalidFields = append(invalidFields, field)
			continue
		}
		q.Sort = append(q.Sort, SortSpec{Path: path, Direction: dir})
	}

	if len(invalidFields) > 0 {
		return invalid(errors.Newf("invalid sort fields: %s", strings.Join(invalidFields, ", ")))
	}
	return nil
}

func parsePage(q *QuerySpec, values url.Values) error {
	if raw := values.Get("page[offset]"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return invalid(errors.Newf("invalid page[offset]: %q", raw))
		}
		q.Offset = n
	}
	if raw := values.Get("page[limit]"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return invalid(errors.Newf("invalid page[limit]: %q", raw))
		}
		q.Limit = &n
	}
	return nil
}

func parseInclude(q *QuerySpec, param string) error {
	if param == "" {
		return nil
	}
	for _, include := range strings.Split(param, ",") {
		include = strings.TrimSpace(include)
		if include == "" {
			continue
		}
		path := resource.SplitPath(include)
		if _, err := q.Resource.ResolveRelationPath(path); err != nil {
			return invalid(errors.Wrapf(err, "invalid include %q", include))
		}
		q.Includes = append(q.Includes, path)
	}
	return nil
}

func parseFilters(q *QuerySpec, values url.Values) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		if strings.HasPrefix(key, "filter[") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var invalidFields []string
	for _, key := range keys {
		field, op, err := parseFilterKey(key)
		if err != nil {
			return invalid(err)
		}
		path := resource.SplitPath(field)
		if _, err := q.Resource.ResolvePath(path); err != nil {
			invalidFields = append(invalidFields, field)
			continue
		}
		for _, value := range values[key] {
			q.Filters = append(q.Filters, FilterSpec{Path: path, Operator: op, Value: value})
		}
	}

	if len(invalidFields) > 0 {
		return invalid(errors.Newf("invalid filter fields: %s", strings.Join(invalidFields, ", ")))
	}
	return nil
}

// parseFilterKey splits filter[field] and filter[field][op]
func parseFilterKey(key string) (field, op string, err error) {
	rest := strings.TrimPrefix(key, "filter[")
	end := strings.Index(rest, "]")
	if end <= 0 {
		return "", "", errors.Newf("malformed filter parameter %q", key)
	}
	field, rest = rest[:end], rest[end+1:]

	op = DefaultOperator
	if rest != "" {
		if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") || len(rest) < 3 {
			return "", "", errors.Newf("malformed filter parameter %q", key)
		}
		op = strings.ToLower(rest[1 : len(rest)-1])
	}
	if !operators[op] {
		return "", "", errors.Newf("unknown filter operator %q", op)
	}
	return field, op, nil
}
