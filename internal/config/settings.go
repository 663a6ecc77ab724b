package config

import (
	"strings"
	"time"

	"github.com/tenderwatch/crawler/internal/tedquery"
)

// Built-in search defaults, used whenever a source has no explicit
// configuration. They mirror the filters the service shipped with.
var (
	defaultTEDCountries   = []string{"DE", "FR"}
	defaultTEDCPVPrefixes = []string{"33*"}
	defaultKeywords       = []string{"PCR", "reagent", "diagnostic"}
	defaultTEDFormTypes   = []string{"F15"}

	// DefaultTEDFields is the minimal recommended projection plus the
	// descriptive fields the normalizer consumes.
	DefaultTEDFields = []string{
		"publication-number",
		"title",
		"buyer-name",
		"publication-date",
		"classification-cpv",
		"place-of-performance.country",
		"description",
		"deadline-date",
		"buyer-country",
		"notice-type",
		"form-type",
	}
)

const (
	defaultTEDLookbackDays  = 30
	defaultUNGMLookbackDays = 1
	defaultSAMLookbackDays  = 30
)

// TEDSettings configures the structured search API source. An explicit
// Query wins over the builder fields; the builder is consulted only when
// Query is empty.
type TEDSettings struct {
	Query        string   `mapstructure:"query"`
	DateFrom     string   `mapstructure:"date_from"`
	DateTo       string   `mapstructure:"date_to"`
	LookbackDays int      `mapstructure:"lookback_days"`
	Countries    []string `mapstructure:"countries"`
	CPVPrefixes  []string `mapstructure:"cpv_prefixes"`
	Keywords     []string `mapstructure:"keywords"`
	FormTypes    []string `mapstructure:"form_types"`
	Fields       []string `mapstructure:"fields"`
	Limit        int      `mapstructure:"limit"`
	SortField    string   `mapstructure:"sort_field"`
	SortOrder    string   `mapstructure:"sort_order"`
	Mode         string   `mapstructure:"mode"`
	Page         int      `mapstructure:"page"`
}

// DefaultTEDSettings returns the built-in TED configuration.
func DefaultTEDSettings() TEDSettings {
	return TEDSettings{
		LookbackDays: defaultTEDLookbackDays,
		Countries:    cloneStrings(defaultTEDCountries),
		CPVPrefixes:  cloneStrings(defaultTEDCPVPrefixes),
		Keywords:     cloneStrings(defaultKeywords),
		FormTypes:    cloneStrings(defaultTEDFormTypes),
		Fields:       cloneStrings(DefaultTEDFields),
		Limit:        100,
		SortField:    "publication-date",
		SortOrder:    "DESC",
		Mode:         "page",
		Page:         1,
	}
}

// Merge layers a partial override over s, field by field. Empty strings,
// zero ints, and nil slices leave the base value untouched; a non-nil empty
// slice clears the filter on purpose. Country and form-type codes are
// normalized to upper case, the sort order likewise.
func (s TEDSettings) Merge(override TEDSettings) TEDSettings {
	merged := s
	if q := strings.TrimSpace(override.Query); q != "" {
		merged.Query = q
	}
	if v := strings.TrimSpace(override.DateFrom); v != "" {
		merged.DateFrom = v
	}
	if v := strings.TrimSpace(override.DateTo); v != "" {
		merged.DateTo = v
	}
	if override.LookbackDays > 0 {
		merged.LookbackDays = override.LookbackDays
	}
	if override.Countries != nil {
		merged.Countries = upperStrings(override.Countries)
	}
	if override.CPVPrefixes != nil {
		merged.CPVPrefixes = cleanStrings(override.CPVPrefixes)
	}
	if override.Keywords != nil {
		merged.Keywords = cleanStrings(override.Keywords)
	}
	if override.FormTypes != nil {
		merged.FormTypes = upperStrings(override.FormTypes)
	}
	if override.Fields != nil {
		if cleaned := cleanStrings(override.Fields); len(cleaned) > 0 {
			merged.Fields = cleaned
		}
	}
	if override.Limit > 0 {
		merged.Limit = override.Limit
	}
	if v := strings.TrimSpace(override.SortField); v != "" {
		merged.SortField = v
	}
	if v := strings.TrimSpace(override.SortOrder); v != "" {
		merged.SortOrder = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(override.Mode); v != "" {
		merged.Mode = v
	}
	if override.Page > 0 {
		merged.Page = override.Page
	}
	return merged
}

// DateRange resolves the effective publication date window. Explicit bounds
// win; missing ones fall back to the lookback window ending today.
func (s TEDSettings) DateRange(now time.Time) (string, string) {
	lookback := s.LookbackDays
	if lookback <= 0 {
		lookback = defaultTEDLookbackDays
	}
	from := s.DateFrom
	if from == "" {
		from = tedquery.FormatDate(now.AddDate(0, 0, -lookback))
	}
	to := s.DateTo
	if to == "" {
		to = tedquery.FormatDate(now)
	}
	return from, to
}

// EffectiveQuery returns the query to send: the explicit override when one
// is configured, otherwise the builder output.
func (s TEDSettings) EffectiveQuery(now time.Time) string {
	if q := strings.TrimSpace(s.Query); q != "" {
		return q
	}
	from, to := s.DateRange(now)
	return tedquery.Build(tedquery.Input{
		DateFrom:    from,
		DateTo:      to,
		Countries:   s.Countries,
		CPVPrefixes: s.CPVPrefixes,
		Keywords:    s.Keywords,
		FormTypes:   s.FormTypes,
	})
}

// UNGMSettings configures the anti-forgery-protected search source.
type UNGMSettings struct {
	Keywords     []string `mapstructure:"keywords"`
	PageSize     int      `mapstructure:"page_size"`
	LookbackDays int      `mapstructure:"lookback_days"`
}

// DefaultUNGMSettings returns the built-in UNGM configuration.
func DefaultUNGMSettings() UNGMSettings {
	return UNGMSettings{
		Keywords:     cloneStrings(defaultKeywords),
		PageSize:     100,
		LookbackDays: defaultUNGMLookbackDays,
	}
}

// Merge layers a partial override over s.
func (s UNGMSettings) Merge(override UNGMSettings) UNGMSettings {
	merged := s
	if override.Keywords != nil {
		merged.Keywords = cleanStrings(override.Keywords)
	}
	if override.PageSize > 0 {
		merged.PageSize = override.PageSize
	}
	if override.LookbackDays > 0 {
		merged.LookbackDays = override.LookbackDays
	}
	return merged
}

// SAMSettings configures the keyed REST API source. The API key itself is
// read from the environment variable named by APIKeyEnv at crawl time.
type SAMSettings struct {
	Keywords     []string `mapstructure:"keywords"`
	NoticeType   string   `mapstructure:"notice_type"`
	SetAside     string   `mapstructure:"set_aside"`
	NAICS        string   `mapstructure:"naics"`
	Sort         string   `mapstructure:"sort"`
	Limit        int      `mapstructure:"limit"`
	MaxPages     int      `mapstructure:"max_pages"`
	LookbackDays int      `mapstructure:"lookback_days"`
	APIKeyEnv    string   `mapstructure:"api_key_env"`
}

// DefaultSAMSettings returns the built-in SAM.gov configuration.
func DefaultSAMSettings() SAMSettings {
	return SAMSettings{
		Keywords:     cloneStrings(defaultKeywords),
		Sort:         "-modifiedDate",
		Limit:        100,
		MaxPages:     10,
		LookbackDays: defaultSAMLookbackDays,
		APIKeyEnv:    "SAM_API_KEY",
	}
}

// Merge layers a partial override over s.
func (s SAMSettings) Merge(override SAMSettings) SAMSettings {
	merged := s
	if override.Keywords != nil {
		merged.Keywords = cleanStrings(override.Keywords)
	}
	if v := strings.TrimSpace(override.NoticeType); v != "" {
		merged.NoticeType = v
	}
	if v := strings.TrimSpace(override.SetAside); v != "" {
		merged.SetAside = v
	}
	if v := strings.TrimSpace(override.NAICS); v != "" {
		merged.NAICS = v
	}
	if v := strings.TrimSpace(override.Sort); v != "" {
		merged.Sort = v
	}
	if override.Limit > 0 {
		merged.Limit = override.Limit
	}
	if override.MaxPages > 0 {
		merged.MaxPages = override.MaxPages
	}
	if override.LookbackDays > 0 {
		merged.LookbackDays = override.LookbackDays
	}
	if v := strings.TrimSpace(override.APIKeyEnv); v != "" {
		merged.APIKeyEnv = v
	}
	return merged
}

func cloneStrings(values []string) []string {
	return append([]string(nil), values...)
}

func cleanStrings(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func upperStrings(values []string) []string {
	cleaned := cleanStrings(values)
	for i, value := range cleaned {
		cleaned[i] = strings.ToUpper(value)
	}
	return cleaned
}
