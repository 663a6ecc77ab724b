// Package source defines the contract shared by all tender source adapters
// and the payload-extraction helpers they have in common.
package source

import (
	"context"

	"github.com/tenderwatch/crawler/internal/tender"
)

// Source is one external tender origin. Crawl fetches and normalizes the
// current result set; it returns the canonical records ready for
// persistence. A source that cannot run because a precondition is missing
// (for example an absent API key) returns an empty slice and no error.
type Source interface {
	Site() tender.Site
	Crawl(ctx context.Context) ([]tender.Tender, error)
}

// containerKeys is the fixed priority list of payload keys under which the
// sources place their result lists.
var containerKeys = []string{"results", "items", "notices", "data"}

// ExtractRecords pulls the raw record list out of a decoded payload by
// checking the known container keys in priority order and using the first
// list-valued match. No matching key yields zero records, not an error.
func ExtractRecords(payload map[string]any) []map[string]any {
	for _, key := range containerKeys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		list, ok := value.([]any)
		if !ok {
			continue
		}
		records := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if record, ok := item.(map[string]any); ok {
				records = append(records, record)
			}
		}
		return records
	}
	return nil
}

// FirstInt returns the first key whose value is int-coercible, or fallback.
func FirstInt(payload map[string]any, keys []string, fallback int) int {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case string:
			if n, ok := atoi(v); ok {
				return n
			}
		}
	}
	return fallback
}

func atoi(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
