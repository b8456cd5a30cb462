// Package filter implements the property-match rules shared by the
// query core's GET endpoints and the subscription manager's visibility
// computation.
package filter

import (
	"fmt"
	"strings"
)

// Filter holds the property-match parameters extracted from a request's
// query string, with the "query." and "paging." reserved prefixes
// already stripped out.
type Filter map[string]string

// ParseFilter builds a Filter from raw query parameters, dropping
// reserved ones and the verbosity/downgrade controls handled
// separately by the caller.
func ParseFilter(raw map[string][]string) Filter {
	f := make(Filter)
	for k, vs := range raw {
		if strings.HasPrefix(k, "query.") || strings.HasPrefix(k, "paging.") {
			continue
		}
		if k == "verbose" {
			continue
		}
		if len(vs) > 0 {
			f[k] = vs[0]
		}
	}
	return f
}

// Match reports whether record satisfies every parameter in f, applying
// the dotted-path and list-membership rules grounded on
// querysockets.py's QueryFilterCommon.check_args.
func (f Filter) Match(record map[string]interface{}) bool {
	for key, want := range f {
		if !matchOne(record, key, want) {
			return false
		}
	}
	return true
}

func matchOne(record map[string]interface{}, key, want string) bool {
	if v, ok := record[key]; ok {
		return valueMatches(v, want)
	}
	if !strings.Contains(key, ".") {
		return false
	}
	return matchDotted(record, strings.Split(key, "."), want)
}

// matchDotted walks a dotted path through nested objects and lists. For
// a list-valued intermediate, the match succeeds if any element
// contains the remaining subpath with the given leaf value.
func matchDotted(current interface{}, parts []string, want string) bool {
	if len(parts) == 0 {
		return valueMatches(current, want)
	}

	switch node := current.(type) {
	case map[string]interface{}:
		next, ok := node[parts[0]]
		if !ok {
			return false
		}
		return matchDotted(next, parts[1:], want)

	case []interface{}:
		for _, elem := range node {
			if matchDotted(elem, parts, want) {
				return true
			}
		}
		return false

	default:
		return false
	}
}

func valueMatches(v interface{}, want string) bool {
	switch val := v.(type) {
	case string:
		return val == want
	case []interface{}:
		for _, elem := range val {
			if fmt.Sprintf("%v", elem) == want {
				return true
			}
		}
		return false
	default:
		return fmt.Sprintf("%v", val) == want
	}
}
