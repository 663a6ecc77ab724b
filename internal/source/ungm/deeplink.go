package ungm

import (
	"net/url"
	"strings"
)

// DeeplinkInput holds the optional filters a shareable search link can carry.
type DeeplinkInput struct {
	Countries   []string
	UNSPSCCodes []string
	Keywords    []string
}

// BuildDeeplink renders a shallow public notice search URL that opens the
// site pre-filtered. Country codes are upper-cased, blank entries dropped,
// and keywords joined into a single searchText parameter.
func BuildDeeplink(input DeeplinkInput) string {
	params := url.Values{}
	for _, code := range input.Countries {
		if cleaned := strings.ToUpper(strings.TrimSpace(code)); cleaned != "" {
			params.Add("Country", cleaned)
		}
	}
	for _, code := range input.UNSPSCCodes {
		if cleaned := strings.TrimSpace(code); cleaned != "" {
			params.Add("Unspsc", cleaned)
		}
	}
	if joined := joinKeywords(input.Keywords); joined != "" {
		params.Add("searchText", joined)
	}

	base := BaseURL + noticePath
	if len(params) == 0 {
		return base
	}
	return base + "?" + params.Encode()
}

func joinKeywords(keywords []string) string {
	cleaned := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if trimmed := strings.TrimSpace(keyword); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, " ")
}
