package jsonapi

import (
	"net/url"
	"regexp"
	"strings"
)

var fieldsPattern = regexp.MustCompile(`^fields\[([^\]]+)\]$`)

// ParseFieldsets reads sparse fieldsets such as fields[employee]=name,job.
// An empty value selects no fields of that type.
func ParseFieldsets(values url.Values) map[string][]string {
	result := make(map[string][]string)
	for key, vals := range values {
		matches := fieldsPattern.FindStringSubmatch(key)
		if len(matches) != 2 {
			continue
		}
		fields := []string{}
		if len(vals) > 0 {
			for _, field := range strings.Split(vals[0], ",") {
				if trimmed := strings.TrimSpace(field); trimmed != "" {
					fields = append(fields, trimmed)
				}
			}
		}
		result[matches[1]] = fields
	}
	return result
}

// ApplySparseFieldsets keeps only the requested attributes and relationships
// of each resource whose type has a fieldset. Type and id are always kept and
// unknown field names are ignored.
func ApplySparseFieldsets(resources []*Resource, fieldsets map[string][]string) {
	if len(fieldsets) == 0 {
		return
	}
	for _, res := range resources {
		fields, ok := fieldsets[res.Type]
		if !ok {
			continue
		}
		allowed := make(map[string]bool, len(fields))
		for _, f := range fields {
			allowed[f] = true
		}
		for name := range res.Attributes {
			if !allowed[name] {
				delete(res.Attributes, name)
			}
		}
		for name := range res.Relationships {
			if !allowed[name] {
				delete(res.Relationships, name)
			}
		}
	}
}
