// Package normalize converts raw, source-shaped records into canonical
// Tender values. All lookups are tolerant: fields are resolved through
// prioritized alias lists, values are unwrapped recursively, and dates are
// parsed through a layered strategy that never fails hard.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PickString resolves the first present, non-empty, string-coercible value
// among the given alias keys. Key comparison is case-insensitive. Nested
// maps and lists are unwrapped via the first sensible string inside them.
func PickString(record map[string]any, aliases ...string) string {
	if len(record) == 0 {
		return ""
	}
	lowered := make(map[string]any, len(record))
	for key, value := range record {
		lowered[strings.ToLower(key)] = value
	}
	for _, alias := range aliases {
		value, ok := lowered[strings.ToLower(alias)]
		if !ok {
			continue
		}
		if s := coerceString(value); s != "" {
			return s
		}
	}
	return ""
}

// coerceString extracts the first sensible string from an arbitrarily
// nested value. Multilingual payloads ({"eng": ["..."]}) and wrapper
// objects ({"value": "..."}, {"name": "..."}) collapse to their first
// usable leaf.
func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case []any:
		for _, item := range v {
			if s := coerceString(item); s != "" {
				return s
			}
		}
		return ""
	case map[string]any:
		// Prefer conventional wrapper keys before falling back to any value.
		for _, key := range []string{"value", "name", "text", "label", "eng", "en"} {
			if inner, ok := v[key]; ok {
				if s := coerceString(inner); s != "" {
					return s
				}
			}
		}
		for _, inner := range v {
			if s := coerceString(inner); s != "" {
				return s
			}
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

var epochWrapperExpr = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

// dateLayouts are tried, in order, after the ISO and epoch-wrapper forms.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"01/02/2006",
	"2006/01/02",
	"02.01.2006",
}

// ParseDate applies the layered date-parsing strategy: ISO-8601 first (a
// trailing Z is already a valid UTC offset for RFC 3339), then the legacy
// /Date(millis)/ epoch wrapper, then a fixed list of common layouts. The
// first successful parse wins; an unparsable value yields nil, never an
// error.
func ParseDate(raw string) *time.Time {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		utc := ts.UTC()
		return &utc
	}

	if match := epochWrapperExpr.FindStringSubmatch(value); match != nil {
		millis, err := strconv.ParseInt(match[1], 10, 64)
		if err == nil {
			utc := time.UnixMilli(millis).UTC()
			return &utc
		}
	}

	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}

// PickDate resolves a timestamp field through alias lookup plus ParseDate.
func PickDate(record map[string]any, aliases ...string) *time.Time {
	return ParseDate(PickString(record, aliases...))
}
