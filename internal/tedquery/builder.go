// Package tedquery builds expert-syntax query strings for the TED Search API.
package tedquery

import (
	"strings"
	"time"
)

// Input captures the structured filters a query is built from. The date
// bounds are mandatory; every other group is optional and contributes no
// clause when empty.
type Input struct {
	DateFrom    string
	DateTo      string
	Countries   []string
	CPVPrefixes []string
	Keywords    []string
	FormTypes   []string
}

// FormatDate renders t as the ISO date the API expects.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// Build constructs a deterministic query string. Clause order is fixed:
// publication date, country, CPV classification, title keywords, form type.
// Groups are joined with AND; values inside a group are OR-ed.
func Build(in Input) string {
	clauses := []string{
		"publication-date:[" + in.DateFrom + " TO " + in.DateTo + "]",
	}

	if clause := countryClause(in.Countries); clause != "" {
		clauses = append(clauses, clause)
	}
	if clause := cpvClause(in.CPVPrefixes); clause != "" {
		clauses = append(clauses, clause)
	}
	if clause := keywordClause(in.Keywords); clause != "" {
		clauses = append(clauses, clause)
	}
	if clause := formTypeClause(in.FormTypes); clause != "" {
		clauses = append(clauses, clause)
	}

	return strings.Join(clauses, " AND ")
}

// countryClause expands each code into a place-of-performance OR
// buyer-country pair before OR-ing the codes together.
func countryClause(codes []string) string {
	var parts []string
	for _, code := range codes {
		cleaned := strings.ToUpper(strings.TrimSpace(code))
		if cleaned == "" {
			continue
		}
		parts = append(parts,
			"(place-of-performance.country:"+cleaned+" OR buyer-country:"+cleaned+")")
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func cpvClause(prefixes []string) string {
	var parts []string
	for _, prefix := range prefixes {
		cleaned := strings.TrimSpace(prefix)
		if cleaned == "" {
			continue
		}
		parts = append(parts, "classification-cpv:"+cleaned)
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// keywordClause OR-s tokens inside a single title:(...) group. Tokens
// containing whitespace or a colon are quoted.
func keywordClause(keywords []string) string {
	var tokens []string
	for _, word := range keywords {
		token := strings.TrimSpace(word)
		if token == "" {
			continue
		}
		if strings.ContainsAny(token, " \t:") {
			token = `"` + token + `"`
		}
		tokens = append(tokens, token)
	}
	if len(tokens) == 0 {
		return ""
	}
	return "title:(" + strings.Join(tokens, " OR ") + ")"
}

func formTypeClause(formTypes []string) string {
	var tokens []string
	for _, ft := range formTypes {
		cleaned := strings.TrimSpace(ft)
		if cleaned == "" {
			continue
		}
		tokens = append(tokens, cleaned)
	}
	if len(tokens) == 0 {
		return ""
	}
	return "form-type:(" + strings.Join(tokens, " OR ") + ")"
}
